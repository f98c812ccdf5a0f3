// Package strategy implements the built-in decision hooks agents can run,
// plus the factory that builds and validates them from agent parameters.
package strategy

import (
	"context"
	"fmt"
	"math"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// DecisionClient asks an external decision service (typically LLM-backed)
// for a trading decision. Used only by external_ai agents.
type DecisionClient interface {
	RequestDecision(ctx context.Context, account *domain.Account, market *domain.MarketSnapshot) (domain.Decision, error)
}

// Factory builds strategy instances and validates their parameters. One
// factory serves the whole registry; the built instances are per agent.
type Factory struct {
	logger ports.Logger
	ai     DecisionClient // May be nil when no external_ai agents are configured
}

// NewFactory creates a strategy factory. The decision client may be nil;
// creating an external_ai agent then fails with a configuration error.
func NewFactory(logger ports.Logger, ai DecisionClient) (*Factory, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrInvalidConfiguration)
	}
	return &Factory{logger: logger, ai: ai}, nil
}

// New builds a strategy of the given type. Unknown types and invalid
// parameters fail with ErrInvalidConfiguration.
func (f *Factory) New(strategyType domain.StrategyType, params domain.StrategyParams, symbols []string) (ports.Strategy, error) {
	switch strategyType {
	case domain.StrategyMomentum:
		return newMomentum(params, f.logger)
	case domain.StrategyMeanReversion:
		return newMeanReversion(params, f.logger)
	case domain.StrategyGrid:
		return newGrid(params, f.logger)
	case domain.StrategyDCA:
		return newDCA(params, f.logger)
	case domain.StrategyArbitrage:
		return newArbitrage(params, symbols, f.logger)
	case domain.StrategyExternalAI:
		if f.ai == nil {
			return nil, fmt.Errorf("%w: external_ai requires a decision service", ports.ErrInvalidConfiguration)
		}
		return newExternalAI(params, f.ai, f.logger)
	default:
		return nil, fmt.Errorf("%w: unknown strategy type %q", ports.ErrInvalidConfiguration, strategyType)
	}
}

// Shared parameter keys understood by the built-in strategies.
const (
	paramOrderQty      = "order_qty"
	paramStopLossPct   = "stop_loss_pct"
	paramTakeProfitPct = "take_profit_pct"
)

// positiveParam reads a parameter that must be strictly positive.
func positiveParam(params domain.StrategyParams, key string, def float64) (float64, error) {
	v := params.Get(key, def)
	if v <= 0 {
		return 0, fmt.Errorf("%w: %s %f must be positive", ports.ErrInvalidConfiguration, key, v)
	}
	return v, nil
}

// periodParam reads an indicator period: a positive whole number.
func periodParam(params domain.StrategyParams, key string, def int) (int, error) {
	v := params.Get(key, float64(def))
	if v <= 0 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %s %v must be a positive whole number", ports.ErrInvalidConfiguration, key, v)
	}
	return int(v), nil
}

// fractionParam reads a rate in (0,1).
func fractionParam(params domain.StrategyParams, key string, def float64) (float64, error) {
	v := params.Get(key, def)
	if v <= 0 || v >= 1 {
		return 0, fmt.Errorf("%w: %s %f must be in (0,1)", ports.ErrInvalidConfiguration, key, v)
	}
	return v, nil
}

// orderQty reads the per-order size, defaulting to one unit.
func orderQty(params domain.StrategyParams) (float64, error) {
	return positiveParam(params, paramOrderQty, 1)
}

// protectiveLevels derives stop-loss and take-profit prices from the
// optional percentage parameters, relative to the entry price. Zero values
// leave the position unprotected.
func protectiveLevels(params domain.StrategyParams, side domain.OrderSide, price float64) (stopLoss, takeProfit float64) {
	slPct := params.Get(paramStopLossPct, 0)
	tpPct := params.Get(paramTakeProfitPct, 0)
	if side == domain.Buy {
		if slPct > 0 {
			stopLoss = price * (1 - slPct)
		}
		if tpPct > 0 {
			takeProfit = price * (1 + tpPct)
		}
		return stopLoss, takeProfit
	}
	if slPct > 0 {
		stopLoss = price * (1 + slPct)
	}
	if tpPct > 0 {
		takeProfit = price * (1 - tpPct)
	}
	return stopLoss, takeProfit
}

// confidence maps a signal magnitude against its trigger threshold onto
// (0,1], saturating at four times the threshold.
func confidence(signal, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	return math.Min(1, math.Abs(signal)/(threshold*4))
}
