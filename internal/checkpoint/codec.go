package checkpoint

import (
	"fmt"
	"math"

	"github.com/bytedance/sonic"

	apperrors "portfolio-state/internal/errors"
	"portfolio-state/internal/models"
)

// codec produces encoding/json compatible output.
var codec = sonic.ConfigStd

const equityTolerance = 1e-6

// Encode serializes snap as a versioned checkpoint document.
func Encode(snap models.Snapshot) ([]byte, error) {
	snap = normalize(snap)
	data, err := codec.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, apperrors.NewPersistenceError("encode", "", err)
	}
	return data, nil
}

// Decode parses and validates a checkpoint document. Anything that does not
// describe a complete, self-consistent snapshot is rejected with
// ErrCheckpointCorrupt or ErrUnsupportedVersion; unknown fields are ignored.
func Decode(data []byte) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := codec.Unmarshal(data, &snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: %v", apperrors.ErrCheckpointCorrupt, err)
	}
	if err := Validate(snap); err != nil {
		return models.Snapshot{}, err
	}
	return normalize(snap), nil
}

// Validate checks the structural and numeric consistency of snap.
func Validate(snap models.Snapshot) error {
	if snap.Version > models.SnapshotVersion || snap.Version < 0 {
		return fmt.Errorf("%w: version %d", apperrors.ErrUnsupportedVersion, snap.Version)
	}
	if !snap.Mode.IsValid() {
		return corrupt("unknown mode %q", snap.Mode)
	}
	if snap.Timestamp.IsZero() {
		return corrupt("missing timestamp")
	}
	if snap.FillsApplied < 0 {
		return corrupt("negative fills_applied")
	}

	eq := snap.Equity
	for name, v := range map[string]float64{
		"starting_capital": eq.StartingCapital,
		"cash":             eq.Cash,
		"realized_pnl":     eq.RealizedPnL,
		"unrealized_pnl":   eq.UnrealizedPnL,
		"day_pnl":          eq.DayPnL,
		"equity":           eq.Equity,
		"total_notional":   eq.TotalNotional,
		"free_notional":    eq.FreeNotional,
	} {
		if !finite(v) {
			return corrupt("equity.%s is not finite", name)
		}
	}
	if !approxEqual(eq.Equity, eq.StartingCapital+eq.RealizedPnL+eq.UnrealizedPnL) {
		return corrupt("equity %.4f does not match starting capital plus P&L", eq.Equity)
	}

	var realized, unrealized float64
	seen := make(map[string]bool, len(snap.Positions))
	for _, p := range snap.Positions {
		if p.Symbol == "" {
			return corrupt("position without symbol")
		}
		if seen[p.Symbol] {
			return corrupt("duplicate position %s", p.Symbol)
		}
		seen[p.Symbol] = true
		if !finite(p.AvgPrice) || !finite(p.RealizedPnL) || !finite(p.LastPrice) || !finite(p.UnrealizedPnL) {
			return corrupt("position %s has non-finite values", p.Symbol)
		}
		if p.AvgPrice < 0 || p.LastPrice < 0 {
			return corrupt("position %s has negative price", p.Symbol)
		}
		realized += p.RealizedPnL
		unrealized += p.UnrealizedPnL
	}
	if !approxEqual(realized, eq.RealizedPnL) {
		return corrupt("position realized P&L %.4f does not match equity %.4f", realized, eq.RealizedPnL)
	}
	if !approxEqual(unrealized, eq.UnrealizedPnL) {
		return corrupt("position unrealized P&L %.4f does not match equity %.4f", unrealized, eq.UnrealizedPnL)
	}

	for id, st := range snap.Strategies {
		if id == "" {
			return corrupt("strategy without id")
		}
		if st.WinTrades < 0 || st.LossTrades < 0 || st.BreakevenTrades < 0 ||
			st.OpenTrades < 0 || st.EntryCount < 0 || st.ExitCount < 0 {
			return corrupt("strategy %s has negative counters", id)
		}
		if !finite(st.DayPnL) {
			return corrupt("strategy %s day_pnl is not finite", id)
		}
	}
	return nil
}

func normalize(snap models.Snapshot) models.Snapshot {
	if snap.Version == 0 {
		snap.Version = models.SnapshotVersion
	}
	if snap.Positions == nil {
		snap.Positions = []models.Position{}
	}
	if snap.Strategies == nil {
		snap.Strategies = map[string]models.StrategyStats{}
	}
	snap.Timestamp = snap.Timestamp.UTC()
	snap.LastHeartbeatTS = snap.LastHeartbeatTS.UTC()
	return snap
}

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperrors.ErrCheckpointCorrupt, fmt.Sprintf(format, args...))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= equityTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
