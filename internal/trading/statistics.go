package trading

import (
	"math"
	"sort"
	"sync"

	"portfolio-state/internal/models"
)

// breakevenEpsilon absorbs float noise when classifying a closing fill.
const breakevenEpsilon = 1e-9

// StatsTracker derives per-strategy aggregates from ledger results.
//
// A fill that closes exposure counts as an exit and is classified as a win,
// loss or breakeven by its realized delta. A fill that opens exposure counts
// as an entry. A reversing fill counts as both.
type StatsTracker struct {
	mu    sync.RWMutex
	stats map[string]*models.StrategyStats

	// open maps strategy -> symbols that strategy holds open.
	open map[string]map[string]struct{}
}

// NewStatsTracker creates an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{
		stats: make(map[string]*models.StrategyStats),
		open:  make(map[string]map[string]struct{}),
	}
}

// Apply folds one ledger result into the statistics of the fill's strategy.
// It must be called after Ledger.Apply for the same fill. Duplicates are ignored.
func (t *StatsTracker) Apply(fill models.Fill, res ApplyResult) {
	if res.Outcome != OutcomeApplied {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := fill.StrategyID()
	st := t.getLocked(id)

	if res.Closed() {
		st.ExitCount++
		switch {
		case res.RealizedDelta > breakevenEpsilon:
			st.WinTrades++
		case res.RealizedDelta < -breakevenEpsilon:
			st.LossTrades++
		default:
			st.BreakevenTrades++
		}
		st.ClosedTrades = st.WinTrades + st.LossTrades + st.BreakevenTrades
		st.DayPnL += res.RealizedDelta
	}

	if res.PostQuantity == 0 || res.Reversed() {
		t.closeSymbolLocked(fill.Symbol)
	}
	if res.Opened() {
		st.EntryCount++
		set, ok := t.open[id]
		if !ok {
			set = make(map[string]struct{})
			t.open[id] = set
		}
		set[fill.Symbol] = struct{}{}
	}
	st.OpenTrades = len(t.open[id])
}

func (t *StatsTracker) getLocked(id string) *models.StrategyStats {
	st, ok := t.stats[id]
	if !ok {
		st = &models.StrategyStats{}
		t.stats[id] = st
	}
	return st
}

// closeSymbolLocked drops symbol from every strategy's open set.
func (t *StatsTracker) closeSymbolLocked(symbol string) {
	for id, set := range t.open {
		if _, ok := set[symbol]; !ok {
			continue
		}
		delete(set, symbol)
		if st, ok := t.stats[id]; ok {
			st.OpenTrades = len(set)
		}
	}
}

// Get returns a copy of the statistics for strategy.
func (t *StatsTracker) Get(strategy string) (models.StrategyStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.stats[strategy]
	if !ok {
		return models.StrategyStats{}, false
	}
	return *st, true
}

// Snapshot returns a copy of every strategy's statistics.
func (t *StatsTracker) Snapshot() map[string]models.StrategyStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]models.StrategyStats, len(t.stats))
	for id, st := range t.stats {
		out[id] = *st
	}
	return out
}

// Strategies returns the known strategy ids, sorted.
func (t *StatsTracker) Strategies() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.stats))
	for id := range t.stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResetDay zeroes the daily counters of every strategy. Open trades carry over.
func (t *StatsTracker) ResetDay() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, st := range t.stats {
		*st = models.StrategyStats{OpenTrades: len(t.open[id])}
	}
}

// Restore replaces the tracker state with stats. Open symbol sets are rebuilt
// from the strategy tags of the non-flat positions.
func (t *StatsTracker) Restore(stats map[string]models.StrategyStats, positions []models.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats = make(map[string]*models.StrategyStats, len(stats))
	for id, st := range stats {
		s := st
		t.stats[id] = &s
	}

	t.open = make(map[string]map[string]struct{})
	for _, pos := range positions {
		if pos.IsFlat() {
			continue
		}
		id := pos.Strategy
		if id == "" {
			id = models.DefaultStrategy
		}
		set, ok := t.open[id]
		if !ok {
			set = make(map[string]struct{})
			t.open[id] = set
		}
		set[pos.Symbol] = struct{}{}
	}

	for id, set := range t.open {
		t.getLocked(id).OpenTrades = len(set)
	}
	for id, st := range t.stats {
		st.OpenTrades = len(t.open[id])
		st.ClosedTrades = st.WinTrades + st.LossTrades + st.BreakevenTrades
	}
}

// TotalDayPnL sums day P&L across strategies.
func (t *StatsTracker) TotalDayPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, st := range t.stats {
		total += st.DayPnL
	}
	if math.Abs(total) < breakevenEpsilon {
		return 0
	}
	return total
}
