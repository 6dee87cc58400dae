package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-state/internal/models"
)

type statsHarness struct {
	ledger *Ledger
	stats  *StatsTracker
}

func newStatsHarness() *statsHarness {
	return &statsHarness{ledger: newTestLedger(), stats: NewStatsTracker()}
}

func (h *statsHarness) apply(t *testing.T, f models.Fill) ApplyResult {
	t.Helper()
	res, err := h.ledger.Apply(f)
	require.NoError(t, err)
	h.stats.Apply(f, res)
	return res
}

func TestStatsWinningRoundTrip(t *testing.T) {
	h := newStatsHarness()
	h.apply(t, fill("F1", "RELIANCE", models.OrderSideBuy, 10, 2500))

	st, ok := h.stats.Get("momentum")
	require.True(t, ok)
	assert.Equal(t, models.StrategyStats{EntryCount: 1, OpenTrades: 1}, st)

	h.apply(t, fill("F2", "RELIANCE", models.OrderSideSell, 10, 2600))
	st, _ = h.stats.Get("momentum")
	assert.Equal(t, models.StrategyStats{
		DayPnL:       1000,
		WinTrades:    1,
		ClosedTrades: 1,
		EntryCount:   1,
		ExitCount:    1,
	}, st)
}

func TestStatsLossAndBreakeven(t *testing.T) {
	h := newStatsHarness()
	h.apply(t, fill("F1", "TCS", models.OrderSideBuy, 10, 100))
	h.apply(t, fill("F2", "TCS", models.OrderSideSell, 4, 90))
	h.apply(t, fill("F3", "TCS", models.OrderSideSell, 6, 100))

	st, _ := h.stats.Get("momentum")
	assert.Equal(t, 1, st.LossTrades)
	assert.Equal(t, 1, st.BreakevenTrades)
	assert.Equal(t, 0, st.WinTrades)
	assert.Equal(t, 2, st.ClosedTrades)
	assert.Equal(t, 2, st.ExitCount)
	assert.Equal(t, -40.0, st.DayPnL)
	assert.Equal(t, 0, st.OpenTrades)
}

func TestStatsOvershootCountsExitAndEntry(t *testing.T) {
	h := newStatsHarness()
	h.apply(t, fill("S1", "TCS", models.OrderSideSell, 5, 100))
	res := h.apply(t, fill("B1", "TCS", models.OrderSideBuy, 8, 90))
	require.True(t, res.Closed())
	require.True(t, res.Opened())

	st, _ := h.stats.Get("momentum")
	assert.Equal(t, 2, st.EntryCount)
	assert.Equal(t, 1, st.ExitCount)
	assert.Equal(t, 1, st.WinTrades)
	assert.Equal(t, 50.0, st.DayPnL)
	assert.Equal(t, 1, st.OpenTrades)
}

func TestStatsReversalMovesOpenTrade(t *testing.T) {
	h := newStatsHarness()
	a := fill("F1", "INFY", models.OrderSideBuy, 5, 1500)
	a.Strategy = "alpha"
	b := fill("F2", "INFY", models.OrderSideSell, 8, 1510)
	b.Strategy = "beta"

	h.apply(t, a)
	h.apply(t, b)

	alpha, _ := h.stats.Get("alpha")
	beta, _ := h.stats.Get("beta")
	assert.Equal(t, 0, alpha.OpenTrades)
	assert.Equal(t, 1, beta.OpenTrades)
	assert.Equal(t, 1, beta.ExitCount)
	assert.Equal(t, 50.0, beta.DayPnL)
}

func TestStatsIgnoresDuplicates(t *testing.T) {
	h := newStatsHarness()
	f := fill("F1", "RELIANCE", models.OrderSideBuy, 10, 2500)
	h.apply(t, f)
	h.apply(t, f)

	st, _ := h.stats.Get("momentum")
	assert.Equal(t, 1, st.EntryCount)
}

func TestStatsResetDayKeepsOpenTrades(t *testing.T) {
	h := newStatsHarness()
	h.apply(t, fill("F1", "RELIANCE", models.OrderSideBuy, 10, 2500))
	h.apply(t, fill("F2", "TCS", models.OrderSideBuy, 1, 3500))
	h.apply(t, fill("F3", "TCS", models.OrderSideSell, 1, 3600))

	h.stats.ResetDay()

	st, _ := h.stats.Get("momentum")
	assert.Equal(t, models.StrategyStats{OpenTrades: 1}, st)
	assert.Equal(t, 0.0, h.stats.TotalDayPnL())
}

func TestStatsRestore(t *testing.T) {
	h := newStatsHarness()
	h.apply(t, fill("F1", "RELIANCE", models.OrderSideBuy, 10, 2500))
	h.apply(t, fill("F2", "TCS", models.OrderSideBuy, 1, 3500))
	h.apply(t, fill("F3", "TCS", models.OrderSideSell, 1, 3600))

	restored := NewStatsTracker()
	restored.Restore(h.stats.Snapshot(), h.ledger.Positions())
	assert.Equal(t, h.stats.Snapshot(), restored.Snapshot())

	// The restored open set still closes on flat.
	res, err := h.ledger.Apply(fill("F4", "RELIANCE", models.OrderSideSell, 10, 2400))
	require.NoError(t, err)
	restored.Apply(fill("F4", "RELIANCE", models.OrderSideSell, 10, 2400), res)

	st, _ := restored.Get("momentum")
	assert.Equal(t, 0, st.OpenTrades)
	assert.Equal(t, 1, st.LossTrades)
	assert.Equal(t, []string{"momentum"}, restored.Strategies())
}
