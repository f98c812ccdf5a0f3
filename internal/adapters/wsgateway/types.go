package wsgateway

import (
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/engine"
	"papertrader/internal/ledger"
	"papertrader/internal/registry"
)

// Event frame types pushed over /ws.
const (
	wsTradeExecuted  = "trade_executed"
	wsAccountChanged = "account_changed"
)

type wsFrame struct {
	Type      string     `json:"type"`
	AccountID string     `json:"account_id,omitempty"`
	Trade     *tradeJSON `json:"trade,omitempty"`
}

type accountJSON struct {
	ID               string         `json:"id"`
	AgentID          string         `json:"agent_id,omitempty"`
	Name             string         `json:"name"`
	InitialCapital   float64        `json:"initial_capital"`
	CashBalance      float64        `json:"cash_balance"`
	Positions        []positionJSON `json:"positions"`
	TotalTrades      int            `json:"total_trades"`
	WinningTrades    int            `json:"winning_trades"`
	LosingTrades     int            `json:"losing_trades"`
	TotalRealizedPnL float64        `json:"total_realized_pnl"`
	MaxDrawdown      float64        `json:"max_drawdown"`
	DailyRealizedPnL float64        `json:"daily_realized_pnl"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type positionJSON struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	RealizedPnL   float64   `json:"realized_pnl"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type tradeJSON struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	AccountID     string    `json:"account_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	ExecutedPrice float64   `json:"executed_price"`
	Quantity      float64   `json:"quantity"`
	Fees          float64   `json:"fees"`
	RealizedPnL   float64   `json:"realized_pnl"`
	StrategyTag   string    `json:"strategy_tag"`
	Reasoning     string    `json:"reasoning,omitempty"`
	ExecutedAt    time.Time `json:"executed_at"`
}

type orderJSON struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	Quantity       float64   `json:"quantity"`
	RequestedPrice float64   `json:"requested_price,omitempty"`
	StrategyTag    string    `json:"strategy_tag"`
	Reasoning      string    `json:"reasoning,omitempty"`
	Status         string    `json:"status"`
	RejectReason   string    `json:"reject_reason,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

type rejectionJSON struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type orderResultJSON struct {
	Order     *orderJSON     `json:"order"`
	Trade     *tradeJSON     `json:"trade,omitempty"`
	Account   *accountJSON   `json:"account,omitempty"`
	Rejection *rejectionJSON `json:"rejection,omitempty"`
}

type metricsJSON struct {
	AccountID     string  `json:"account_id"`
	Equity        float64 `json:"equity"`
	CashBalance   float64 `json:"cash_balance"`
	TotalPnL      float64 `json:"total_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	WinRate       float64 `json:"win_rate"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
}

type agentJSON struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Strategy  string             `json:"strategy"`
	Params    map[string]float64 `json:"params,omitempty"`
	Symbols   []string           `json:"symbols"`
	AccountID string             `json:"account_id"`
	Status    string             `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// Request bodies.

type createAccountRequest struct {
	Name           string  `json:"name"`
	InitialCapital float64 `json:"initial_capital"`
}

type createAgentRequest struct {
	Name           string             `json:"name"`
	Strategy       string             `json:"strategy"`
	Params         map[string]float64 `json:"params"`
	Symbols        []string           `json:"symbols"`
	InitialCapital float64            `json:"initial_capital"`
	Limits         *limitsJSON        `json:"limits,omitempty"`
}

type limitsJSON struct {
	MaxPositionSize   float64  `json:"max_position_size"`
	MaxDailyLoss      float64  `json:"max_daily_loss"`
	MaxDrawdown       float64  `json:"max_drawdown"`
	MaxLeverage       float64  `json:"max_leverage"`
	AllowedSymbols    []string `json:"allowed_symbols,omitempty"`
	StopLossEnabled   bool     `json:"stop_loss_enabled"`
	TakeProfitEnabled bool     `json:"take_profit_enabled"`
}

type placeOrderRequest struct {
	AccountID      string  `json:"account_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Type           string  `json:"type,omitempty"`
	Quantity       float64 `json:"quantity"`
	RequestedPrice float64 `json:"requested_price,omitempty"`
	Reasoning      string  `json:"reasoning,omitempty"`
	StopLoss       float64 `json:"stop_loss,omitempty"`
	TakeProfit     float64 `json:"take_profit,omitempty"`
	ReduceOnly     bool    `json:"reduce_only,omitempty"`
}

// Converters.

func toAccountJSON(a *domain.Account) *accountJSON {
	if a == nil {
		return nil
	}
	positions := make([]positionJSON, 0, len(a.Positions))
	for _, p := range a.Positions {
		positions = append(positions, toPositionJSON(p))
	}
	return &accountJSON{
		ID:               a.ID,
		AgentID:          a.AgentID,
		Name:             a.Name,
		InitialCapital:   a.InitialCapital,
		CashBalance:      a.CashBalance,
		Positions:        positions,
		TotalTrades:      a.TotalTrades,
		WinningTrades:    a.WinningTrades,
		LosingTrades:     a.LosingTrades,
		TotalRealizedPnL: a.TotalRealizedPnL,
		MaxDrawdown:      a.MaxDrawdown,
		DailyRealizedPnL: a.DailyRealizedPnL,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func toPositionJSON(p *domain.Position) positionJSON {
	return positionJSON{
		Symbol:        p.Symbol,
		Quantity:      p.Quantity,
		AvgEntryPrice: p.AvgEntryPrice,
		RealizedPnL:   p.RealizedPnL,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		OpenedAt:      p.OpenedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func toTradeJSON(t *domain.Trade) *tradeJSON {
	if t == nil {
		return nil
	}
	return &tradeJSON{
		ID:            t.ID,
		OrderID:       t.OrderID,
		AccountID:     t.AccountID,
		Symbol:        t.Symbol,
		Side:          string(t.Side),
		ExecutedPrice: t.ExecutedPrice,
		Quantity:      t.Quantity,
		Fees:          t.Fees,
		RealizedPnL:   t.RealizedPnL,
		StrategyTag:   t.StrategyTag,
		Reasoning:     t.Reasoning,
		ExecutedAt:    t.ExecutedAt,
	}
}

func toOrderJSON(o *domain.Order) *orderJSON {
	if o == nil {
		return nil
	}
	return &orderJSON{
		ID:             o.ID,
		AccountID:      o.AccountID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Quantity:       o.Quantity,
		RequestedPrice: o.RequestedPrice,
		StrategyTag:    o.StrategyTag,
		Reasoning:      o.Reasoning,
		Status:         string(o.Status),
		RejectReason:   o.RejectReason,
		SubmittedAt:    o.SubmittedAt,
		ResolvedAt:     o.ResolvedAt,
	}
}

func toOrderResultJSON(r *engine.OrderResult) orderResultJSON {
	out := orderResultJSON{
		Order:   toOrderJSON(r.Order),
		Trade:   toTradeJSON(r.Trade),
		Account: toAccountJSON(r.Account),
	}
	if r.Rejection != nil {
		out.Rejection = &rejectionJSON{
			Reason:  string(r.Rejection.Reason),
			Message: r.Rejection.Message,
		}
	}
	return out
}

func toMetricsJSON(m *ledger.Metrics) metricsJSON {
	return metricsJSON{
		AccountID:     m.AccountID,
		Equity:        m.Equity,
		CashBalance:   m.CashBalance,
		TotalPnL:      m.TotalPnL,
		RealizedPnL:   m.RealizedPnL,
		UnrealizedPnL: m.UnrealizedPnL,
		WinRate:       m.WinRate,
		SharpeRatio:   m.SharpeRatio,
		MaxDrawdown:   m.MaxDrawdown,
		TotalTrades:   m.TotalTrades,
		WinningTrades: m.WinningTrades,
		LosingTrades:  m.LosingTrades,
	}
}

func toAgentJSON(a *domain.TradingAgent) agentJSON {
	return agentJSON{
		ID:        a.ID,
		Name:      a.Name,
		Strategy:  string(a.Strategy),
		Params:    a.Params,
		Symbols:   a.Symbols,
		AccountID: a.AccountID,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
	}
}

func (r createAgentRequest) toConfig() registry.AgentConfig {
	cfg := registry.AgentConfig{
		Name:           r.Name,
		Strategy:       domain.StrategyType(r.Strategy),
		Params:         domain.StrategyParams(r.Params),
		Symbols:        r.Symbols,
		InitialCapital: r.InitialCapital,
	}
	if r.Limits != nil {
		cfg.Limits = &domain.RiskLimits{
			MaxPositionSize:   r.Limits.MaxPositionSize,
			MaxDailyLoss:      r.Limits.MaxDailyLoss,
			MaxDrawdown:       r.Limits.MaxDrawdown,
			MaxLeverage:       r.Limits.MaxLeverage,
			AllowedSymbols:    r.Limits.AllowedSymbols,
			StopLossEnabled:   r.Limits.StopLossEnabled,
			TakeProfitEnabled: r.Limits.TakeProfitEnabled,
		}
	}
	return cfg
}
