package engine

import (
	"fmt"
	"sync"

	"papertrader/internal/ports"
)

// QuoteCache is the engine's tick-updated view of current prices. It
// satisfies ports.QuoteSource for the ledger and the risk evaluator, so
// every component prices positions off the same snapshot the engine saw.
// Reads are immutable-at-read-time values with no suspension points, so
// any number of account sections can read concurrently.
type QuoteCache struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewQuoteCache creates an empty cache. It is shared between the engine
// (writer) and the ledger (reader) and must be constructed before both.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{prices: make(map[string]float64)}
}

// Update records the latest observed price for symbol. Non-positive prices
// are ignored so one bad tick cannot poison equity computations.
func (c *QuoteCache) Update(symbol string, price float64) {
	if symbol == "" || price <= 0 {
		return
	}
	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()
}

// CurrentPrice returns the most recent price for symbol.
// Returns ports.ErrPriceUnavailable before the first tick for the symbol.
func (c *QuoteCache) CurrentPrice(symbol string) (float64, error) {
	c.mu.RLock()
	price, ok := c.prices[symbol]
	c.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ports.ErrPriceUnavailable, symbol)
	}
	return price, nil
}
