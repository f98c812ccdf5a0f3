package domain

import (
	"math"
	"time"
)

// Position represents an open holding in a single symbol. Quantity is
// signed: positive for long, negative for short. A fill that drives the
// quantity to zero removes the position from the account entirely.
type Position struct {
	Symbol        string    // Trading symbol (e.g., "BTCUSDT")
	Quantity      float64   // Signed size; >0 long, <0 short
	AvgEntryPrice float64   // Weighted-average entry price, fees excluded
	RealizedPnL   float64   // Net P&L realized against this symbol since open
	StopLoss      float64   // Protective exit level (0 = unset)
	TakeProfit    float64   // Protective exit level (0 = unset)
	OpenedAt      time.Time // When the position was first opened
	UpdatedAt     time.Time // Last fill applied to the position
}

// IsLong reports whether the position is long.
func (p *Position) IsLong() bool { return p.Quantity > 0 }

// IsShort reports whether the position is short.
func (p *Position) IsShort() bool { return p.Quantity < 0 }

// AbsQuantity returns the unsigned position size.
func (p *Position) AbsQuantity() float64 { return math.Abs(p.Quantity) }

// MarketValue returns the signed value of the position at the given price.
func (p *Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

// Notional returns the absolute exposure of the position at the given price.
func (p *Position) Notional(price float64) float64 {
	return math.Abs(p.Quantity) * price
}

// UnrealizedPnL returns the paper profit at the given price. The sign
// convention works for both directions: a short position gains when the
// price drops below the average entry.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return p.Quantity * (price - p.AvgEntryPrice)
}

// Clone returns an independent copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
