// Package models provides domain models for the portfolio state service.
package models

import (
	"strings"
)

// OrderSide represents the side of a fill.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide normalises a side string. The second result is false for
// anything other than buy or sell.
func ParseOrderSide(s string) (OrderSide, bool) {
	switch OrderSide(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderSideBuy:
		return OrderSideBuy, true
	case OrderSideSell:
		return OrderSideSell, true
	default:
		return OrderSide(s), false
	}
}

// IsValid reports whether the side is BUY or SELL.
func (s OrderSide) IsValid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Mode is the execution mode the fills come from.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// IsValid reports whether the mode is known.
func (m Mode) IsValid() bool {
	return m == ModePaper || m == ModeLive
}

// DefaultStrategy is the strategy id used for fills without one.
const DefaultStrategy = "default"
