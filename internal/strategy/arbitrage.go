package strategy

import (
	"context"
	"fmt"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// Arbitrage trades the price ratio between two symbols against its first
// observed baseline: when the ratio stretches beyond the threshold it sells
// the rich leg and buys the cheap one. Orders are only emitted for the leg
// whose tick triggered the evaluation, so the strategy never trades on a
// stale price.
type Arbitrage struct {
	logger    ports.Logger
	legA      string
	legB      string
	threshold float64
	qty       float64

	last     map[string]float64
	baseline float64 // Ratio legA/legB captured on first full observation
}

func newArbitrage(params domain.StrategyParams, symbols []string, logger ports.Logger) (*Arbitrage, error) {
	if len(symbols) != 2 || symbols[0] == symbols[1] {
		return nil, fmt.Errorf("%w: arbitrage needs exactly two distinct symbols, got %v", ports.ErrInvalidConfiguration, symbols)
	}
	threshold, err := fractionParam(params, "spread_threshold", 0.01)
	if err != nil {
		return nil, err
	}
	qty, err := orderQty(params)
	if err != nil {
		return nil, err
	}
	return &Arbitrage{
		logger:    logger,
		legA:      symbols[0],
		legB:      symbols[1],
		threshold: threshold,
		qty:       qty,
		last:      make(map[string]float64),
	}, nil
}

func (s *Arbitrage) Type() domain.StrategyType { return domain.StrategyArbitrage }

func (s *Arbitrage) MinHistory() int { return 1 }

func (s *Arbitrage) Decide(ctx context.Context, account *domain.Account, market *domain.MarketSnapshot) (domain.Decision, error) {
	if market.Symbol != s.legA && market.Symbol != s.legB {
		return domain.Hold("tick outside the traded pair"), nil
	}
	s.last[market.Symbol] = market.LastPrice

	pa, okA := s.last[s.legA]
	pb, okB := s.last[s.legB]
	if !okA || !okB || pb == 0 {
		return domain.Hold("waiting for both legs to quote"), nil
	}

	ratio := pa / pb
	if s.baseline == 0 {
		s.baseline = ratio
		return domain.Hold(fmt.Sprintf("baseline ratio %.6f captured", ratio)), nil
	}

	deviation := (ratio - s.baseline) / s.baseline
	if deviation <= s.threshold && deviation >= -s.threshold {
		return domain.Hold(fmt.Sprintf("ratio deviation %.3f%% inside threshold", deviation*100)), nil
	}

	// deviation > 0: legA rich relative to legB; deviation < 0: legA cheap.
	side := domain.Sell
	if market.Symbol == s.legA {
		if deviation < 0 {
			side = domain.Buy
		}
	} else {
		side = domain.Buy
		if deviation < 0 {
			side = domain.Sell
		}
	}

	return domain.Decision{
		Side:     side,
		Symbol:   market.Symbol,
		Quantity: s.qty,
		Reasoning: fmt.Sprintf("ratio %.6f deviates %.3f%% from baseline %.6f",
			ratio, deviation*100, s.baseline),
		Confidence: confidence(deviation, s.threshold),
	}, nil
}
