package ports

import (
	"context"

	"papertrader/internal/domain"
)

// PriceFeed delivers a continuous stream of price updates for a set of
// symbols. The engine consumes exactly one feed; live and replay
// implementations are interchangeable behind this interface.
type PriceFeed interface {
	// Subscribe starts streaming ticks for the given symbols. The returned
	// channel is closed when the context is canceled or the feed shuts
	// down; a closed channel is the only termination signal consumers get.
	Subscribe(ctx context.Context, symbols []string) (<-chan domain.PriceTick, error)
}

// QuoteSource answers point-in-time price lookups. The engine maintains a
// tick-updated quote cache that satisfies this interface for the ledger and
// the risk evaluator.
type QuoteSource interface {
	// CurrentPrice returns the most recent observed price for symbol.
	// Returns ErrPriceUnavailable when no price has been seen yet.
	CurrentPrice(symbol string) (float64, error)
}
