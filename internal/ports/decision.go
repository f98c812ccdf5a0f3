package ports

import (
	"context"

	"papertrader/internal/domain"
)

// Strategy is the decision hook evaluated for an agent whenever a relevant
// tick arrives. Implementations must be safe for sequential reuse; the
// engine never calls Decide concurrently for the same agent.
type Strategy interface {
	// Type returns the strategy tag of the implementation.
	Type() domain.StrategyType

	// MinHistory returns the minimum number of recent prices the strategy
	// needs before it can produce a meaningful decision. Snapshots with a
	// shorter history yield a hold decision.
	MinHistory() int

	// Decide evaluates one market snapshot against the agent's current
	// account snapshot and returns at most one order intent. Decide is
	// bounded by the engine's evaluation timeout via ctx; a timeout is
	// treated as a hold, never as a tick failure.
	Decide(ctx context.Context, account *domain.Account, market *domain.MarketSnapshot) (domain.Decision, error)
}
