package models

// Position is the per-symbol state reconstructed from fills.
// Quantity is signed: positive long, negative short, zero flat.
type Position struct {
	Symbol        string  `json:"symbol"`
	Logical       string  `json:"logical"`
	Quantity      int     `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	LastPrice     float64 `json:"last_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Strategy      string  `json:"strategy"`
}

// IsFlat reports whether the position holds no quantity.
func (p Position) IsFlat() bool {
	return p.Quantity == 0
}

// ComputeUnrealizedPnL returns (last - avg) * qty, which is sign-aware for shorts.
func (p Position) ComputeUnrealizedPnL() float64 {
	if p.Quantity == 0 {
		return 0
	}
	return (p.LastPrice - p.AvgPrice) * float64(p.Quantity)
}

// Notional returns |qty| * last price.
func (p Position) Notional() float64 {
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	return float64(qty) * p.LastPrice
}
