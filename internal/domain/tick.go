package domain

import "time"

// PriceTick is a single price update delivered by a price feed.
type PriceTick struct {
	Symbol    string    // Trading symbol (e.g., "BTCUSDT")
	Price     float64   // Last traded price
	Timestamp time.Time // Exchange (or replay) time of the update
}

// MarketSnapshot is the view of a single symbol handed to strategy
// decision hooks: the latest price plus a bounded window of recent prices,
// oldest first.
type MarketSnapshot struct {
	Symbol    string
	LastPrice float64
	History   []float64
	Timestamp time.Time
}

// Returns computes simple percentage returns over the snapshot history.
// An empty slice is returned when fewer than two prices are available.
func (m *MarketSnapshot) Returns() []float64 {
	if len(m.History) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(m.History)-1)
	for i := 1; i < len(m.History); i++ {
		prev := m.History[i-1]
		if prev == 0 {
			continue
		}
		returns = append(returns, (m.History[i]-prev)/prev)
	}
	return returns
}
