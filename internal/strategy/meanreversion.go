package strategy

import (
	"context"
	"fmt"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
	"papertrader/internal/strategy/indicators"
)

// MeanReversion buys oversold dips and exits once the market is overbought,
// judged by Wilder's RSI. Long-only.
type MeanReversion struct {
	logger     ports.Logger
	rsiPeriod  int
	oversold   float64
	overbought float64
	qty        float64
	params     domain.StrategyParams
}

func newMeanReversion(params domain.StrategyParams, logger ports.Logger) (*MeanReversion, error) {
	period, err := periodParam(params, "rsi_period", 14)
	if err != nil {
		return nil, err
	}
	oversold := params.Get("oversold", 30)
	overbought := params.Get("overbought", 70)
	if oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("%w: oversold %f and overbought %f must satisfy 0 < oversold < overbought < 100",
			ports.ErrInvalidConfiguration, oversold, overbought)
	}
	qty, err := orderQty(params)
	if err != nil {
		return nil, err
	}
	return &MeanReversion{
		logger:     logger,
		rsiPeriod:  period,
		oversold:   oversold,
		overbought: overbought,
		qty:        qty,
		params:     params.Clone(),
	}, nil
}

func (s *MeanReversion) Type() domain.StrategyType { return domain.StrategyMeanReversion }

// RSI looks one step further back than its period.
func (s *MeanReversion) MinHistory() int { return s.rsiPeriod + 1 }

func (s *MeanReversion) Decide(ctx context.Context, account *domain.Account, market *domain.MarketSnapshot) (domain.Decision, error) {
	if len(market.History) < s.MinHistory() {
		return domain.Hold("warming up: not enough price history"), nil
	}
	rsi, err := indicators.RSI(market.History, s.rsiPeriod)
	if err != nil {
		return domain.Decision{}, err
	}
	pos := account.Position(market.Symbol)

	if rsi <= s.oversold && pos == nil {
		stopLoss, takeProfit := protectiveLevels(s.params, domain.Buy, market.LastPrice)
		return domain.Decision{
			Side:       domain.Buy,
			Symbol:     market.Symbol,
			Quantity:   s.qty,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			Reasoning:  fmt.Sprintf("RSI %.1f at or below oversold %.1f", rsi, s.oversold),
			Confidence: confidence(s.oversold-rsi+1, s.oversold/4),
		}, nil
	}
	if rsi >= s.overbought && pos != nil && pos.IsLong() {
		return domain.Decision{
			Side:       domain.Sell,
			Symbol:     market.Symbol,
			Quantity:   pos.Quantity,
			Reasoning:  fmt.Sprintf("RSI %.1f at or above overbought %.1f, closing long", rsi, s.overbought),
			Confidence: confidence(rsi-s.overbought+1, (100-s.overbought)/4),
		}, nil
	}
	return domain.Hold(fmt.Sprintf("RSI %.1f between bands", rsi)), nil
}
