package strategy

import (
	"context"
	"fmt"
	"math"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// Grid accumulates on the way down and distributes on the way up: the first
// observed price anchors a ladder of levels spaced grid_step_pct apart, and
// every downward level crossing buys one lot while every upward crossing
// sells one (only while holding inventory; the grid never shorts).
//
// Grid is stateful. The engine serializes Decide calls per agent, so the
// level bookkeeping needs no locking.
type Grid struct {
	logger  ports.Logger
	stepPct float64
	qty     float64
	params  domain.StrategyParams

	anchored  bool
	anchor    float64
	lastLevel int
}

func newGrid(params domain.StrategyParams, logger ports.Logger) (*Grid, error) {
	step, err := fractionParam(params, "grid_step_pct", 0.01)
	if err != nil {
		return nil, err
	}
	qty, err := orderQty(params)
	if err != nil {
		return nil, err
	}
	return &Grid{logger: logger, stepPct: step, qty: qty, params: params.Clone()}, nil
}

func (s *Grid) Type() domain.StrategyType { return domain.StrategyGrid }

func (s *Grid) MinHistory() int { return 1 }

func (s *Grid) Decide(ctx context.Context, account *domain.Account, market *domain.MarketSnapshot) (domain.Decision, error) {
	price := market.LastPrice
	if price <= 0 {
		return domain.Hold("no usable price"), nil
	}
	if !s.anchored {
		s.anchored = true
		s.anchor = price
		s.lastLevel = 0
		return domain.Hold(fmt.Sprintf("grid anchored at %.2f", price)), nil
	}

	step := s.anchor * s.stepPct
	level := int(math.Floor((price - s.anchor) / step))
	if level == s.lastLevel {
		return domain.Hold("price inside current grid band"), nil
	}

	previous := s.lastLevel
	s.lastLevel = level

	if level < previous {
		stopLoss, takeProfit := protectiveLevels(s.params, domain.Buy, price)
		return domain.Decision{
			Side:       domain.Buy,
			Symbol:     market.Symbol,
			Quantity:   s.qty,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			Reasoning:  fmt.Sprintf("price %.2f crossed down to grid level %d", price, level),
			Confidence: confidence(float64(previous-level), 1),
		}, nil
	}

	pos := account.Position(market.Symbol)
	if pos == nil || !pos.IsLong() {
		// Nothing to distribute; the ladder re-bases at the new level.
		return domain.Hold(fmt.Sprintf("level %d crossed up with no inventory", level)), nil
	}
	return domain.Decision{
		Side:       domain.Sell,
		Symbol:     market.Symbol,
		Quantity:   math.Min(s.qty, pos.Quantity),
		Reasoning:  fmt.Sprintf("price %.2f crossed up to grid level %d", price, level),
		Confidence: confidence(float64(level-previous), 1),
	}, nil
}
