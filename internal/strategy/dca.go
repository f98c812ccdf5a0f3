package strategy

import (
	"context"
	"fmt"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// DCA accumulates a fixed lot on a fixed schedule, regardless of price.
// The schedule follows market time (tick timestamps), so replayed history
// accumulates exactly like a live run would have.
type DCA struct {
	logger   ports.Logger
	interval time.Duration
	qty      float64
	params   domain.StrategyParams

	lastBuy time.Time // Zero until the first purchase
}

func newDCA(params domain.StrategyParams, logger ports.Logger) (*DCA, error) {
	intervalSec, err := positiveParam(params, "interval_sec", 3600)
	if err != nil {
		return nil, err
	}
	qty, err := orderQty(params)
	if err != nil {
		return nil, err
	}
	return &DCA{
		logger:   logger,
		interval: time.Duration(intervalSec * float64(time.Second)),
		qty:      qty,
		params:   params.Clone(),
	}, nil
}

func (s *DCA) Type() domain.StrategyType { return domain.StrategyDCA }

func (s *DCA) MinHistory() int { return 1 }

func (s *DCA) Decide(ctx context.Context, account *domain.Account, market *domain.MarketSnapshot) (domain.Decision, error) {
	if !s.lastBuy.IsZero() && market.Timestamp.Sub(s.lastBuy) < s.interval {
		return domain.Hold("waiting for next accumulation window"), nil
	}
	// The purchase is considered scheduled even if risk later rejects the
	// order; the next window starts now either way.
	s.lastBuy = market.Timestamp

	stopLoss, takeProfit := protectiveLevels(s.params, domain.Buy, market.LastPrice)
	return domain.Decision{
		Side:       domain.Buy,
		Symbol:     market.Symbol,
		Quantity:   s.qty,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Reasoning:  fmt.Sprintf("scheduled accumulation every %s", s.interval),
		Confidence: 1,
	}, nil
}
