package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/models"
)

func newTestStore(t *testing.T, historyLimit int) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "state.db"), historyLimit)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLatestCheckpointEmpty(t *testing.T) {
	s := newTestStore(t, 0)

	_, err := s.LatestCheckpoint(context.Background(), models.ModePaper)
	assert.ErrorIs(t, err, apperrors.ErrCheckpointNotFound)
}

func TestSaveCheckpointRetention(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := &CheckpointRecord{
			Mode:         models.ModePaper,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			Equity:       100000 + float64(i),
			FillsApplied: int64(i * 10),
			Payload:      []byte(`{"n":` + string(rune('0'+i)) + `}`),
		}
		require.NoError(t, s.SaveCheckpoint(ctx, rec))
		assert.NotEmpty(t, rec.ID)
	}
	require.NoError(t, s.SaveCheckpoint(ctx, &CheckpointRecord{
		Mode:      models.ModeLive,
		CreatedAt: base,
		Equity:    5,
		Payload:   []byte(`{}`),
	}))

	latest, err := s.LatestCheckpoint(ctx, models.ModePaper)
	require.NoError(t, err)
	assert.Equal(t, 100004.0, latest.Equity)
	assert.Equal(t, int64(40), latest.FillsApplied)
	assert.Equal(t, `{"n":4}`, string(latest.Payload))
	assert.True(t, latest.CreatedAt.Equal(base.Add(4*time.Minute)))

	paper, err := s.ListCheckpoints(ctx, CheckpointFilter{Mode: models.ModePaper})
	require.NoError(t, err)
	require.Len(t, paper, 3)
	assert.Equal(t, 100004.0, paper[0].Equity)
	assert.Equal(t, 100002.0, paper[2].Equity)
	assert.Nil(t, paper[0].Payload)

	all, err := s.ListCheckpoints(ctx, CheckpointFilter{Limit: 10, WithPayload: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.NotNil(t, all[0].Payload)
}

func TestFillJournal(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)

	records := []*FillRecord{
		{Fill: models.Fill{FillID: "F1", Symbol: "RELIANCE", Side: models.OrderSideBuy, Quantity: 10, Price: 2500, Strategy: "momentum", Timestamp: at}, Mode: models.ModePaper, PositionQuantity: 10, AppliedAt: at},
		{Fill: models.Fill{FillID: "F2", Symbol: "RELIANCE", Side: models.OrderSideSell, Quantity: 10, Price: 2600, Strategy: "momentum", Timestamp: at}, Mode: models.ModePaper, RealizedPnL: 1000, AppliedAt: at.Add(time.Minute)},
		{Fill: models.Fill{FillID: "F3", Symbol: "TCS", Logical: "TCS-EQ", Side: models.OrderSideBuy, Quantity: 1, Price: 3500}, Mode: models.ModePaper, PositionQuantity: 1, AppliedAt: at.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		require.NoError(t, s.LogFill(ctx, rec))
	}
	// Re-logging is ignored.
	require.NoError(t, s.LogFill(ctx, records[0]))

	fills, err := s.GetFills(ctx, FillFilter{Mode: models.ModePaper})
	require.NoError(t, err)
	require.Len(t, fills, 3)
	assert.Equal(t, "F3", fills[0].Fill.FillID)
	assert.Equal(t, "TCS-EQ", fills[0].Fill.Logical)
	assert.Equal(t, models.DefaultStrategy, fills[0].Fill.Strategy)

	fills, err = s.GetFills(ctx, FillFilter{Symbol: "RELIANCE", Limit: 1})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "F2", fills[0].Fill.FillID)
	assert.Equal(t, models.OrderSideSell, fills[0].Fill.Side)
	assert.Equal(t, 1000.0, fills[0].RealizedPnL)

	fills, err = s.GetFills(ctx, FillFilter{Strategy: "momentum", Mode: models.ModeLive})
	require.NoError(t, err)
	assert.Empty(t, fills)
}
