package domain

import "time"

// Account is a simulated trading account. All fields are mutated exclusively
// by the portfolio ledger under the account's lock; everything handed out of
// the ledger is a deep snapshot. After every applied fill the accounting
// identity holds:
//
//	cash + sum(position market values) ==
//	    initial capital + total realized P&L + sum(unrealized P&L)
type Account struct {
	ID               string
	AgentID          string // Owning agent; empty for standalone accounts
	Name             string
	InitialCapital   float64 // Immutable after creation
	CashBalance      float64
	Positions        map[string]*Position // Open positions keyed by symbol
	TotalTrades      int                  // Every executed fill
	WinningTrades    int                  // Fills that realized a net gain
	LosingTrades     int                  // Fills that realized a net loss
	TotalRealizedPnL float64              // Sum of per-fill realized deltas, net of fees
	PeakEquity       float64              // Highest equity observed at a fill boundary
	MaxDrawdown      float64              // Deepest (peak-equity)/peak decline observed
	DailyRealizedPnL float64              // Realized P&L for DailyWindow's UTC day
	DailyWindow      time.Time            // UTC midnight of the day DailyRealizedPnL covers
	Limits           RiskLimits
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Position returns the open position for symbol, or nil.
func (a *Account) Position(symbol string) *Position {
	return a.Positions[symbol]
}

// UnrealizedPnL sums the paper profit of all open positions, marking each
// symbol with markPrice. markPrice must return a usable price for every
// open symbol; callers fall back to the average entry when no quote exists.
func (a *Account) UnrealizedPnL(markPrice func(symbol string) float64) float64 {
	var total float64
	for _, pos := range a.Positions {
		total += pos.UnrealizedPnL(markPrice(pos.Symbol))
	}
	return total
}

// Equity returns cash plus the marked value of all open positions.
func (a *Account) Equity(markPrice func(symbol string) float64) float64 {
	equity := a.CashBalance
	for _, pos := range a.Positions {
		equity += pos.MarketValue(markPrice(pos.Symbol))
	}
	return equity
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Positions = make(map[string]*Position, len(a.Positions))
	for sym, pos := range a.Positions {
		cp.Positions[sym] = pos.Clone()
	}
	cp.Limits = a.Limits.Clone()
	return &cp
}
