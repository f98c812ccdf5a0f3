package domain

import "time"

// Trade is the immutable record appended to an account's history every time
// a fill settles. The trade log is the authoritative audit trail: account
// state and performance metrics can be reconstructed from it alone.
type Trade struct {
	ID            string
	OrderID       string
	AccountID     string
	Symbol        string
	Side          OrderSide
	ExecutedPrice float64 // Post-slippage price
	Quantity      float64 // Unsigned executed size
	ClosedQty     float64 // Unsigned quantity this fill closed against an existing position
	Fees          float64 // Commission paid on this fill
	RealizedPnL   float64 // Net realized delta from this fill; opening fills carry -Fees
	Return        float64 // RealizedPnL / account equity immediately before the fill
	StrategyTag   string  // Strategy type or engine tag that placed the order
	Reasoning     string
	ExecutedAt    time.Time
}

// IsWin reports whether the fill realized a net gain.
func (t *Trade) IsWin() bool { return t.RealizedPnL > 0 }

// Clone returns an independent copy of the trade.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
