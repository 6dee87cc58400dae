package stream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-state/internal/models"
)

const replayCSV = `fill_id,symbol,side,quantity,price,strategy,timestamp
F1,RELIANCE,BUY,10,2500,momentum,2024-01-02T09:15:00Z
F2,RELIANCE,sell,10,2600,momentum,2024-01-02 10:00:00
F3,TCS,BUY,2,3500,,
`

func TestReadFillsCSV(t *testing.T) {
	fills, err := ReadFillsCSV(strings.NewReader(replayCSV))
	require.NoError(t, err)
	require.Len(t, fills, 3)

	assert.Equal(t, models.Fill{
		FillID:    "F1",
		Symbol:    "RELIANCE",
		Side:      models.OrderSideBuy,
		Quantity:  10,
		Price:     2500,
		Strategy:  "momentum",
		Timestamp: time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC),
	}, fills[0])
	assert.Equal(t, models.OrderSideSell, fills[1].Side)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), fills[1].Timestamp)
	assert.True(t, fills[2].Timestamp.IsZero())
	assert.Equal(t, models.DefaultStrategy, fills[2].StrategyID())
}

func TestReadFillsCSVBadTimestamp(t *testing.T) {
	_, err := ReadFillsCSV(strings.NewReader("fill_id,symbol,side,quantity,price,timestamp\nF1,TCS,BUY,1,1,noon\n"))
	assert.Error(t, err)
}

func TestReplayCSVPublishesInOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var ids []string
	bus.Subscribe(TopicFills, func(e Event) {
		f := e.(FillEvent).Fill
		assert.False(t, f.Timestamp.IsZero())
		ids = append(ids, f.FillID)
	})

	n, err := ReplayCSV(context.Background(), strings.NewReader(replayCSV), bus)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"F1", "F2", "F3"}, ids)
}

func TestReplayCSVStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := ReplayCSV(ctx, strings.NewReader(replayCSV), NewBus(zerolog.Nop()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
}
