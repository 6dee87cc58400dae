package stream

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/models"
	"portfolio-state/pkg/utils"
)

// FeedConfig holds configuration for the WebSocket fill feed.
type FeedConfig struct {
	URL          string
	Header       http.Header
	Retry        utils.RetryConfig
	PingInterval time.Duration
	DialTimeout  time.Duration
}

// DefaultFeedConfig returns the default feed configuration for url.
func DefaultFeedConfig(url string) FeedConfig {
	return FeedConfig{
		URL:          url,
		Retry:        utils.DefaultRetryConfig(),
		PingInterval: 20 * time.Second,
		DialTimeout:  10 * time.Second,
	}
}

// FillFeed subscribes to an upstream execution pipeline over WebSocket and
// republishes its frames on the bus. A dropped connection is re-established
// with exponential backoff; once the configured number of consecutive dial
// attempts is exhausted Run returns a *errors.TransportError.
type FillFeed struct {
	config FeedConfig
	bus    *Bus
	dialer *websocket.Dialer
	log    zerolog.Logger

	// Metrics
	framesReceived  atomic.Uint64
	framesMalformed atomic.Uint64
	reconnects      atomic.Uint64
}

// NewFillFeed creates a new fill feed.
func NewFillFeed(config FeedConfig, bus *Bus, logger zerolog.Logger) *FillFeed {
	return &FillFeed{
		config: config,
		bus:    bus,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.DialTimeout,
		},
		log: logger.With().Str("component", "feed").Str("url", config.URL).Logger(),
	}
}

// Run connects and consumes frames until ctx is cancelled (nil error) or the
// subscription cannot be re-established.
func (f *FillFeed) Run(ctx context.Context) error {
	backoff := utils.NewBackoff(f.config.Retry)

	for {
		conn, _, err := f.dialer.DialContext(ctx, f.config.URL, f.config.Header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay := backoff.Next()
			f.log.Warn().
				Err(err).
				Int("attempt", backoff.Attempts()).
				Dur("retry_in", delay).
				Msg("Feed dial failed")
			if backoff.Exhausted() {
				return apperrors.NewTransportError(f.config.URL, backoff.Attempts(), err)
			}
			if utils.Sleep(ctx, delay) != nil {
				return nil
			}
			continue
		}

		if backoff.Attempts() > 0 {
			f.reconnects.Add(1)
		}
		backoff.Reset()
		f.log.Info().Msg("Feed connected")

		err = f.consume(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}

		delay := backoff.Next()
		f.log.Warn().Err(err).Dur("retry_in", delay).Msg("Feed connection dropped, resubscribing")
		if utils.Sleep(ctx, delay) != nil {
			return nil
		}
	}
}

// consume reads frames until the connection fails or ctx is done.
func (f *FillFeed) consume(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		var ping <-chan time.Time
		if f.config.PingInterval > 0 {
			t := time.NewTicker(f.config.PingInterval)
			defer t.Stop()
			ping = t.C
		}
		for {
			select {
			case <-ctx.Done():
				// Unblocks ReadMessage.
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ping:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					f.log.Debug().Err(err).Msg("Feed ping failed")
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.framesReceived.Add(1)
		f.handleFrame(msg)
	}
}

func (f *FillFeed) handleFrame(msg []byte) {
	event, err := DecodeFrame(msg)
	if err != nil {
		f.framesMalformed.Add(1)
		f.log.Warn().Err(err).Bytes("payload", msg).Msg("Skipping malformed feed frame")
		return
	}
	switch e := event.(type) {
	case FillEvent:
		f.bus.Publish(TopicFills, e)
	case NewSessionEvent:
		f.bus.Publish(TopicNewSession, e)
	}
}

// FeedMetrics contains feed counters.
type FeedMetrics struct {
	FramesReceived  uint64
	FramesMalformed uint64
	Reconnects      uint64
}

// Metrics returns feed metrics.
func (f *FillFeed) Metrics() FeedMetrics {
	return FeedMetrics{
		FramesReceived:  f.framesReceived.Load(),
		FramesMalformed: f.framesMalformed.Load(),
		Reconnects:      f.reconnects.Load(),
	}
}

// frame is the wire shape of a feed message. Unknown fields are ignored.
type frame struct {
	Type       string  `json:"type"`
	FillID     string  `json:"fill_id"`
	Symbol     string  `json:"symbol"`
	Logical    string  `json:"logical"`
	Side       string  `json:"side"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
	Strategy   string  `json:"strategy"`
	Timestamp  string  `json:"timestamp"`
	TradingDay string  `json:"trading_day"`
}

// DecodeFrame decodes one feed message into a FillEvent or NewSessionEvent.
// A frame without a type is a fill. Field-level validation is left to the ledger.
func DecodeFrame(data []byte) (Event, error) {
	var fr frame
	if err := sonic.ConfigStd.Unmarshal(data, &fr); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedFrame, err.Error())
	}

	ts := time.Now().UTC()
	if fr.Timestamp != "" {
		parsed, err := models.ParseTimestamp(fr.Timestamp)
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrMalformedFrame, "timestamp %q", fr.Timestamp)
		}
		ts = parsed
	}

	switch strings.ToLower(fr.Type) {
	case "", "fill":
		side, _ := models.ParseOrderSide(fr.Side)
		return FillEvent{Fill: models.Fill{
			FillID:    fr.FillID,
			Symbol:    strings.TrimSpace(fr.Symbol),
			Logical:   fr.Logical,
			Side:      side,
			Quantity:  fr.Quantity,
			Price:     fr.Price,
			Strategy:  fr.Strategy,
			Timestamp: ts,
		}}, nil
	case "new_session", "session":
		return NewSessionEvent{TradingDay: fr.TradingDay, Timestamp: ts}, nil
	default:
		return nil, apperrors.Wrapf(apperrors.ErrMalformedFrame, "unknown frame type %q", fr.Type)
	}
}
