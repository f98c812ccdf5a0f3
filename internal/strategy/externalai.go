package strategy

import (
	"context"
	"fmt"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// ExternalAI delegates the decision to an external service and applies a
// local confidence gate to whatever comes back. Service latency is bounded
// by the evaluation timeout on ctx; a timeout surfaces as an error that the
// engine downgrades to a hold.
type ExternalAI struct {
	logger        ports.Logger
	client        DecisionClient
	minConfidence float64
}

func newExternalAI(params domain.StrategyParams, client DecisionClient, logger ports.Logger) (*ExternalAI, error) {
	minConfidence := params.Get("min_confidence", 0)
	if minConfidence < 0 || minConfidence > 1 {
		return nil, fmt.Errorf("%w: min_confidence %f must be in [0,1]", ports.ErrInvalidConfiguration, minConfidence)
	}
	return &ExternalAI{logger: logger, client: client, minConfidence: minConfidence}, nil
}

func (s *ExternalAI) Type() domain.StrategyType { return domain.StrategyExternalAI }

func (s *ExternalAI) MinHistory() int { return 1 }

func (s *ExternalAI) Decide(ctx context.Context, account *domain.Account, market *domain.MarketSnapshot) (domain.Decision, error) {
	decision, err := s.client.RequestDecision(ctx, account, market)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("external decision service: %w", err)
	}
	if decision.NoAction {
		return decision, nil
	}
	if decision.Symbol == "" {
		decision.Symbol = market.Symbol
	}
	if decision.Quantity <= 0 {
		return domain.Decision{}, fmt.Errorf("%w: service returned non-positive quantity %f", ports.ErrInvalidOrder, decision.Quantity)
	}
	if decision.Side != domain.Buy && decision.Side != domain.Sell {
		return domain.Decision{}, fmt.Errorf("%w: service returned unknown side %q", ports.ErrInvalidOrder, decision.Side)
	}
	if decision.Confidence < s.minConfidence {
		return domain.Hold(fmt.Sprintf("confidence %.2f below required %.2f: %s",
			decision.Confidence, s.minConfidence, decision.Reasoning)), nil
	}
	return decision, nil
}
