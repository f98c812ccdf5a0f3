package strategy

import (
	"context"
	"fmt"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
	"papertrader/internal/strategy/indicators"
)

// Momentum trades fast/slow moving-average crossovers: it buys when the
// fast average pulls above the slow one by the entry threshold and closes
// the long when the fast average drops below by the same margin. It never
// opens shorts.
type Momentum struct {
	logger     ports.Logger
	fastPeriod int
	slowPeriod int
	threshold  float64 // Minimum relative spread between the averages
	qty        float64
	params     domain.StrategyParams
}

func newMomentum(params domain.StrategyParams, logger ports.Logger) (*Momentum, error) {
	fast, err := periodParam(params, "fast_period", 5)
	if err != nil {
		return nil, err
	}
	slow, err := periodParam(params, "slow_period", 20)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: fast_period %d must be less than slow_period %d", ports.ErrInvalidConfiguration, fast, slow)
	}
	threshold, err := fractionParam(params, "entry_threshold", 0.001)
	if err != nil {
		return nil, err
	}
	qty, err := orderQty(params)
	if err != nil {
		return nil, err
	}
	return &Momentum{
		logger:     logger,
		fastPeriod: fast,
		slowPeriod: slow,
		threshold:  threshold,
		qty:        qty,
		params:     params.Clone(),
	}, nil
}

func (s *Momentum) Type() domain.StrategyType { return domain.StrategyMomentum }

func (s *Momentum) MinHistory() int { return s.slowPeriod }

func (s *Momentum) Decide(ctx context.Context, account *domain.Account, market *domain.MarketSnapshot) (domain.Decision, error) {
	if len(market.History) < s.slowPeriod {
		return domain.Hold("warming up: not enough price history"), nil
	}
	fast, err := indicators.SMA(market.History, s.fastPeriod)
	if err != nil {
		return domain.Decision{}, err
	}
	slow, err := indicators.SMA(market.History, s.slowPeriod)
	if err != nil {
		return domain.Decision{}, err
	}
	if slow == 0 {
		return domain.Hold("slow average is zero"), nil
	}

	spread := (fast - slow) / slow
	pos := account.Position(market.Symbol)

	if spread > s.threshold && pos == nil {
		stopLoss, takeProfit := protectiveLevels(s.params, domain.Buy, market.LastPrice)
		return domain.Decision{
			Side:       domain.Buy,
			Symbol:     market.Symbol,
			Quantity:   s.qty,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			Reasoning:  fmt.Sprintf("fast SMA %.4f above slow SMA %.4f by %.3f%%", fast, slow, spread*100),
			Confidence: confidence(spread, s.threshold),
		}, nil
	}
	if spread < -s.threshold && pos != nil && pos.IsLong() {
		return domain.Decision{
			Side:       domain.Sell,
			Symbol:     market.Symbol,
			Quantity:   pos.Quantity,
			Reasoning:  fmt.Sprintf("fast SMA %.4f below slow SMA %.4f by %.3f%%, closing long", fast, slow, -spread*100),
			Confidence: confidence(spread, s.threshold),
		}, nil
	}
	return domain.Hold(fmt.Sprintf("spread %.3f%% inside threshold", spread*100)), nil
}
