package execution

import (
	"context"
	"fmt"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// Costs configures the simulated market frictions applied to every fill.
type Costs struct {
	SlippageRate   float64 // Fractional price impact: buys fill above, sells below the tick
	CommissionRate float64 // Fee as a fraction of executed notional
}

// Config holds the dependencies for the executor.
type Config struct {
	Costs  Costs
	Logger ports.Logger
	Now    func() time.Time // Defaults to time.Now
}

// Executor simulates order execution against the current market price.
// Orders fill completely or not at all; the simulation keeps no book and
// produces no partial fills. Limit orders execute like marketable orders
// at the tick price.
type Executor struct {
	costs  Costs
	logger ports.Logger
	now    func() time.Time
}

// New creates an executor from the given configuration.
func New(cfg Config) (*Executor, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrInvalidConfiguration)
	}
	if cfg.Costs.SlippageRate < 0 || cfg.Costs.SlippageRate >= 1 {
		return nil, fmt.Errorf("%w: slippage rate %f must be in [0,1)", ports.ErrInvalidConfiguration, cfg.Costs.SlippageRate)
	}
	if cfg.Costs.CommissionRate < 0 || cfg.Costs.CommissionRate >= 1 {
		return nil, fmt.Errorf("%w: commission rate %f must be in [0,1)", ports.ErrInvalidConfiguration, cfg.Costs.CommissionRate)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{costs: cfg.Costs, logger: cfg.Logger, now: now}, nil
}

// Execute fills the order at currentPrice adjusted for slippage and returns
// the resulting fill. The order itself is not mutated; the caller owns the
// order lifecycle.
func (e *Executor) Execute(ctx context.Context, order *domain.Order, currentPrice float64) (*domain.Fill, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: order is nil", ports.ErrInvalidOrder)
	}
	if order.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity %f must be positive", ports.ErrInvalidOrder, order.Quantity)
	}
	if currentPrice <= 0 {
		return nil, fmt.Errorf("%w: no positive market price for %s", ports.ErrInvalidOrder, order.Symbol)
	}
	if order.Side != domain.Buy && order.Side != domain.Sell {
		return nil, fmt.Errorf("%w: unknown side %q", ports.ErrInvalidOrder, order.Side)
	}

	executedPrice := currentPrice
	if order.Side == domain.Buy {
		executedPrice = currentPrice * (1 + e.costs.SlippageRate)
	} else {
		executedPrice = currentPrice * (1 - e.costs.SlippageRate)
	}
	fees := executedPrice * order.Quantity * e.costs.CommissionRate

	fill := &domain.Fill{
		OrderID:       order.ID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		ExecutedPrice: executedPrice,
		Quantity:      order.Quantity,
		Fees:          fees,
		ExecutedAt:    e.now().UTC(),
	}

	e.logger.Debug(ctx, "Order executed", map[string]interface{}{
		"orderID":       order.ID,
		"symbol":        order.Symbol,
		"side":          order.Side,
		"quantity":      order.Quantity,
		"tickPrice":     currentPrice,
		"executedPrice": executedPrice,
		"fees":          fees,
	})
	return fill, nil
}
