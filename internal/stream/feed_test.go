package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/models"
	"portfolio-state/pkg/utils"
)

func TestDecodeFrameFill(t *testing.T) {
	ev, err := DecodeFrame([]byte(`{"fill_id":"F1","symbol":"RELIANCE","logical":"RIL","side":"buy",
		"quantity":10,"price":2500,"strategy":"momentum","timestamp":"2024-01-02T09:15:00Z","extra":true}`))
	require.NoError(t, err)

	fe, ok := ev.(FillEvent)
	require.True(t, ok)
	assert.Equal(t, "F1", fe.Fill.FillID)
	assert.Equal(t, models.OrderSideBuy, fe.Fill.Side)
	assert.Equal(t, 10, fe.Fill.Quantity)
	assert.Equal(t, 2500.0, fe.Fill.Price)
	assert.Equal(t, "momentum", fe.Fill.Strategy)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC), fe.Fill.Timestamp)
}

func TestDecodeFrameKeepsInvalidSide(t *testing.T) {
	ev, err := DecodeFrame([]byte(`{"fill_id":"F1","symbol":"TCS","side":"HOLD","quantity":1,"price":1}`))
	require.NoError(t, err)

	fill := ev.(FillEvent).Fill
	assert.False(t, fill.Side.IsValid())
	assert.Error(t, fill.Validate())
	assert.False(t, fill.Timestamp.IsZero())
}

func TestDecodeFrameNewSession(t *testing.T) {
	ev, err := DecodeFrame([]byte(`{"type":"new_session","trading_day":"2024-01-03"}`))
	require.NoError(t, err)

	ns, ok := ev.(NewSessionEvent)
	require.True(t, ok)
	assert.Equal(t, "2024-01-03", ns.TradingDay)
}

func TestDecodeFrameMalformed(t *testing.T) {
	for _, payload := range []string{
		`{not json`,
		`{"type":"quote","symbol":"TCS"}`,
		`{"fill_id":"F1","timestamp":"yesterday"}`,
	} {
		_, err := DecodeFrame([]byte(payload))
		assert.ErrorIs(t, err, apperrors.ErrMalformedFrame, payload)
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestFillFeedPublishesFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"fill_id":"F1","symbol":"INFY","side":"BUY","quantity":5,"price":1500}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_session","trading_day":"2024-01-03"}`))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	bus := NewBus(zerolog.Nop())
	fills := make(chan models.Fill, 1)
	sessions := make(chan string, 1)
	bus.Subscribe(TopicFills, func(e Event) { fills <- e.(FillEvent).Fill })
	bus.Subscribe(TopicNewSession, func(e Event) { sessions <- e.(NewSessionEvent).TradingDay })

	feed := NewFillFeed(DefaultFeedConfig(wsURL(server)), bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = feed.Run(ctx)
	}()

	select {
	case f := <-fills:
		assert.Equal(t, "F1", f.FillID)
		assert.Equal(t, "INFY", f.Symbol)
	case <-time.After(5 * time.Second):
		t.Fatal("fill not published")
	}
	select {
	case day := <-sessions:
		assert.Equal(t, "2024-01-03", day)
	case <-time.After(5 * time.Second):
		t.Fatal("session not published")
	}

	cancel()
	wg.Wait()
	assert.NoError(t, runErr)

	m := feed.Metrics()
	assert.Equal(t, uint64(3), m.FramesReceived)
	assert.Equal(t, uint64(1), m.FramesMalformed)
}

func TestFillFeedFailsAfterMaxReconnects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := DefaultFeedConfig(wsURL(server))
	cfg.Retry = utils.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
	feed := NewFillFeed(cfg, NewBus(zerolog.Nop()), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := feed.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSubscriptionLost)

	var te *apperrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
}

func TestFillFeedReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	connections := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()

		id := "F1"
		if n > 1 {
			id = "F2"
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"fill_id":"`+id+`","symbol":"TCS","side":"SELL","quantity":1,"price":3500}`))
		if n == 1 {
			// Drop the first connection.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	bus := NewBus(zerolog.Nop())
	ids := make(chan string, 2)
	bus.Subscribe(TopicFills, func(e Event) { ids <- e.(FillEvent).Fill.FillID })

	cfg := DefaultFeedConfig(wsURL(server))
	cfg.Retry.InitialDelay = time.Millisecond
	feed := NewFillFeed(cfg, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	var got []string
	for len(got) < 2 {
		select {
		case id := <-ids:
			got = append(got, id)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %v before timeout", got)
		}
	}
	assert.Equal(t, []string{"F1", "F2"}, got)

	cancel()
	assert.NoError(t, <-done)
}
