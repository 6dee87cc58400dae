package models

import (
	"math"
	"strings"
	"time"

	apperrors "portfolio-state/internal/errors"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp. Timestamps without a zone are
// taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Fill is a confirmation that a quantity of an instrument traded at a price.
// Fills arrive risk-approved and are never mutated after decoding.
type Fill struct {
	FillID    string    `json:"fill_id" csv:"fill_id"`
	Symbol    string    `json:"symbol" csv:"symbol"`
	Logical   string    `json:"logical,omitempty" csv:"logical"`
	Side      OrderSide `json:"side" csv:"side"`
	Quantity  int       `json:"quantity" csv:"quantity"`
	Price     float64   `json:"price" csv:"price"`
	Strategy  string    `json:"strategy,omitempty" csv:"strategy"`
	Timestamp time.Time `json:"timestamp" csv:"-"`
}

// StrategyID returns the strategy the fill is attributed to.
func (f Fill) StrategyID() string {
	if s := strings.TrimSpace(f.Strategy); s != "" {
		return s
	}
	return DefaultStrategy
}

// Notional returns quantity * price.
func (f Fill) Notional() float64 {
	return float64(f.Quantity) * f.Price
}

// Validate checks the fill before it reaches the ledger.
func (f Fill) Validate() error {
	if strings.TrimSpace(f.FillID) == "" {
		return apperrors.NewValidationError("fill_id", f.FillID, "must not be empty")
	}
	if strings.TrimSpace(f.Symbol) == "" {
		return apperrors.NewValidationError("symbol", f.Symbol, "must not be empty")
	}
	if !f.Side.IsValid() {
		return apperrors.NewValidationError("side", f.Side, "must be BUY or SELL")
	}
	if f.Quantity <= 0 {
		return apperrors.NewValidationError("quantity", f.Quantity, "must be positive")
	}
	if f.Price < 0 || math.IsNaN(f.Price) || math.IsInf(f.Price, 0) {
		return apperrors.NewValidationError("price", f.Price, "must be a finite non-negative number")
	}
	return nil
}
