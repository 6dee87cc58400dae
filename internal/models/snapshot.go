package models

import "time"

// SnapshotVersion is the checkpoint schema version written by this build.
const SnapshotVersion = 1

// Equity is the portfolio-level money view.
// Invariant: Equity == StartingCapital + RealizedPnL + UnrealizedPnL.
type Equity struct {
	StartingCapital float64 `json:"starting_capital"`
	Cash            float64 `json:"cash"`
	RealizedPnL     float64 `json:"realized_pnl"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	DayPnL          float64 `json:"day_pnl"`
	Equity          float64 `json:"equity"`
	TotalNotional   float64 `json:"total_notional"`
	FreeNotional    float64 `json:"free_notional"`
}

// StrategyStats holds per-strategy trading aggregates.
type StrategyStats struct {
	DayPnL          float64 `json:"day_pnl"`
	WinTrades       int     `json:"win_trades"`
	LossTrades      int     `json:"loss_trades"`
	BreakevenTrades int     `json:"breakeven_trades"`
	OpenTrades      int     `json:"open_trades"`
	ClosedTrades    int     `json:"closed_trades"`
	EntryCount      int     `json:"entry_count"`
	ExitCount       int     `json:"exit_count"`
}

// Snapshot is a consistent, point-in-time union of equity, positions and
// strategy statistics. It is both the checkpoint document and the payload of
// snapshot-updated events.
type Snapshot struct {
	Version         int                      `json:"version"`
	Mode            Mode                     `json:"mode"`
	Equity          Equity                   `json:"equity"`
	Positions       []Position               `json:"positions"`
	Strategies      map[string]StrategyStats `json:"strategies"`
	AppliedFillIDs  []string                 `json:"applied_fill_ids,omitempty"`
	FillsApplied    int64                    `json:"fills_applied"`
	TradingDay      string                   `json:"trading_day,omitempty"`
	LastHeartbeatTS time.Time                `json:"last_heartbeat_ts"`
	Timestamp       time.Time                `json:"timestamp"`
}

// Position returns the position for symbol, if present.
func (s Snapshot) Position(symbol string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// OpenPositions returns the number of non-flat positions.
func (s Snapshot) OpenPositions() int {
	n := 0
	for _, p := range s.Positions {
		if !p.IsFlat() {
			n++
		}
	}
	return n
}
