// Package trading reconstructs positions, P&L and strategy statistics from fills.
package trading

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"portfolio-state/internal/logging"
	"portfolio-state/internal/models"
)

// Outcome is the result kind of applying a fill.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeDuplicateIgnored
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicateIgnored:
		return "duplicate_ignored"
	default:
		return "unknown"
	}
}

// ApplyResult describes the effect of one fill on its position.
type ApplyResult struct {
	Outcome Outcome

	// PrevQuantity and PostQuantity are the signed position quantities
	// before and after the fill.
	PrevQuantity int
	PostQuantity int

	// ClosedQuantity is the part of the fill that reduced existing exposure;
	// OpenedQuantity is the part that opened or extended exposure.
	ClosedQuantity int
	OpenedQuantity int

	// RealizedDelta is the realized P&L produced by the closed part.
	RealizedDelta float64

	// Position is a copy of the position after the fill.
	Position models.Position
}

// Closed reports whether the fill reduced or closed exposure.
func (r ApplyResult) Closed() bool { return r.ClosedQuantity > 0 }

// Opened reports whether the fill opened or extended exposure.
func (r ApplyResult) Opened() bool { return r.OpenedQuantity > 0 }

// Flattened reports whether the fill brought the position to zero.
func (r ApplyResult) Flattened() bool { return r.PrevQuantity != 0 && r.PostQuantity == 0 }

// Reversed reports whether the fill flipped the position from long to short
// or the reverse.
func (r ApplyResult) Reversed() bool {
	return (r.PrevQuantity > 0 && r.PostQuantity < 0) || (r.PrevQuantity < 0 && r.PostQuantity > 0)
}

// Ledger is the authoritative model of positions, cash and P&L.
//
// Apply must be called from a single goroutine, in fill order per symbol.
// Readers may call the accessor methods concurrently; they receive copies.
type Ledger struct {
	mu sync.RWMutex

	startingCapital float64
	cash            float64
	positions       map[string]*models.Position
	dedup           *FillDedup
	fillsApplied    int64

	// dayBaseline is realized+unrealized at the start of the trading day.
	dayBaseline float64

	log zerolog.Logger
}

// NewLedger creates an empty ledger seeded with startingCapital in cash.
func NewLedger(startingCapital float64, dedupCapacity int, logger zerolog.Logger) *Ledger {
	return &Ledger{
		startingCapital: startingCapital,
		cash:            startingCapital,
		positions:       make(map[string]*models.Position),
		dedup:           NewFillDedup(dedupCapacity),
		log:             logger.With().Str("component", "ledger").Logger(),
	}
}

// Apply validates fill and applies it to its position.
// A fill id already applied yields OutcomeDuplicateIgnored and no state change.
// An invalid fill returns a validation error and no state change.
func (l *Ledger) Apply(fill models.Fill) (ApplyResult, error) {
	if err := fill.Validate(); err != nil {
		return ApplyResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dedup.Seen(fill.FillID) {
		res := ApplyResult{Outcome: OutcomeDuplicateIgnored}
		if pos, ok := l.positions[fill.Symbol]; ok {
			res.PrevQuantity = pos.Quantity
			res.PostQuantity = pos.Quantity
			res.Position = *pos
		}
		l.log.Debug().Str("fill_id", fill.FillID).Str("symbol", fill.Symbol).Msg("Duplicate fill ignored")
		return res, nil
	}

	pos, ok := l.positions[fill.Symbol]
	if !ok {
		pos = &models.Position{Symbol: fill.Symbol}
		l.positions[fill.Symbol] = pos
	}

	res := applyToPosition(pos, fill)

	if fill.Logical != "" {
		pos.Logical = fill.Logical
	}
	if res.Opened() && (res.PrevQuantity == 0 || res.Reversed() || pos.Strategy == "") {
		pos.Strategy = fill.StrategyID()
	}

	switch fill.Side {
	case models.OrderSideBuy:
		l.cash -= fill.Notional()
	case models.OrderSideSell:
		l.cash += fill.Notional()
	}

	l.dedup.Add(fill.FillID)
	l.fillsApplied++
	res.Position = *pos

	logging.LogFill(l.log, fill.FillID, fill.Symbol, string(fill.Side), fill.Quantity, fill.Price, res.RealizedDelta)
	return res, nil
}

// applyToPosition performs the average-price and realized P&L arithmetic.
func applyToPosition(pos *models.Position, fill models.Fill) ApplyResult {
	signed := fill.Quantity
	if fill.Side == models.OrderSideSell {
		signed = -signed
	}

	prev := pos.Quantity
	res := ApplyResult{Outcome: OutcomeApplied, PrevQuantity: prev}

	if prev == 0 || (prev > 0) == (signed > 0) {
		// Opening or extending: quantity-weighted blend of the average price.
		held := abs(prev)
		pos.AvgPrice = (float64(held)*pos.AvgPrice + float64(fill.Quantity)*fill.Price) / float64(held+fill.Quantity)
		pos.Quantity = prev + signed
		res.OpenedQuantity = fill.Quantity
	} else {
		closed := min(fill.Quantity, abs(prev))
		if prev > 0 {
			res.RealizedDelta = (fill.Price - pos.AvgPrice) * float64(closed)
		} else {
			res.RealizedDelta = (pos.AvgPrice - fill.Price) * float64(closed)
		}
		res.ClosedQuantity = closed
		pos.RealizedPnL += res.RealizedDelta
		pos.Quantity = prev + signed

		// Overshoot opens a new leg at the fill price. Closing exactly to
		// flat keeps the last average price.
		if fill.Quantity > closed {
			res.OpenedQuantity = fill.Quantity - closed
			pos.AvgPrice = fill.Price
		}
	}

	pos.LastPrice = fill.Price
	pos.UnrealizedPnL = pos.ComputeUnrealizedPnL()
	res.PostQuantity = pos.Quantity
	return res
}

// Position returns a copy of the position for symbol.
func (l *Ledger) Position(symbol string) (models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of every position, sorted by symbol.
func (l *Ledger) Positions() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Equity returns the portfolio money view.
func (l *Ledger) Equity() models.Equity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.equityLocked()
}

func (l *Ledger) equityLocked() models.Equity {
	symbols := make([]string, 0, len(l.positions))
	for symbol := range l.positions {
		symbols = append(symbols, symbol)
	}
	// Fixed summation order keeps equity reproducible across restores.
	sort.Strings(symbols)

	var realized, unrealized, notional float64
	for _, symbol := range symbols {
		pos := l.positions[symbol]
		realized += pos.RealizedPnL
		unrealized += pos.UnrealizedPnL
		notional += pos.Notional()
	}
	equity := l.startingCapital + realized + unrealized
	return models.Equity{
		StartingCapital: l.startingCapital,
		Cash:            l.cash,
		RealizedPnL:     realized,
		UnrealizedPnL:   unrealized,
		DayPnL:          realized + unrealized - l.dayBaseline,
		Equity:          equity,
		TotalNotional:   notional,
		FreeNotional:    equity - notional,
	}
}

// AppliedFillIDs returns the remembered fill ids, oldest first.
func (l *Ledger) AppliedFillIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dedup.IDs()
}

// FillsApplied returns the number of fills applied over the ledger's lifetime,
// including fills restored from a checkpoint.
func (l *Ledger) FillsApplied() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fillsApplied
}

// ResetDay starts a new trading day: day P&L is measured from now on.
func (l *Ledger) ResetDay() {
	l.mu.Lock()
	defer l.mu.Unlock()

	eq := l.equityLocked()
	l.dayBaseline = eq.RealizedPnL + eq.UnrealizedPnL
}

// Restore replaces the ledger state with the contents of snap.
func (l *Ledger) Restore(snap models.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.startingCapital = snap.Equity.StartingCapital
	l.cash = snap.Equity.Cash
	l.positions = make(map[string]*models.Position, len(snap.Positions))
	for _, p := range snap.Positions {
		pos := p
		pos.UnrealizedPnL = pos.ComputeUnrealizedPnL()
		l.positions[pos.Symbol] = &pos
	}
	l.dedup.Reset(snap.AppliedFillIDs)
	l.fillsApplied = snap.FillsApplied

	eq := l.equityLocked()
	l.dayBaseline = eq.RealizedPnL + eq.UnrealizedPnL - snap.Equity.DayPnL

	l.log.Info().
		Int("positions", len(l.positions)).
		Int("fill_ids", l.dedup.Len()).
		Float64("equity", eq.Equity).
		Msg("Ledger restored")
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
