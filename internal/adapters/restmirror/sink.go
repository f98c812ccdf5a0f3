// Package restmirror ships mirrored engine state to a remote backend over
// HTTP. Like every mirror sink it is best-effort: the engine never waits on
// it, and a failed delivery is logged by the queue and skipped.
package restmirror

import (
	"context"
	"fmt"
	"sort"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 10 * time.Second

// Sink implements ports.MirrorSink against a JSON REST backend.
type Sink struct {
	client *resty.Client
	logger ports.Logger
}

// Config holds configuration for the REST mirror sink.
type Config struct {
	BaseURL string        // e.g. "https://backend.example.com/api/v1"
	APIKey  string        // Optional bearer token
	Timeout time.Duration // Per-request timeout; defaults to 10s
	Logger  ports.Logger
}

// New builds the sink. The backend must accept PUT /accounts/{id} with an
// account snapshot and POST /trades with a single trade.
func New(cfg Config) (*Sink, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for REST mirror", ports.ErrInvalidConfiguration)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: REST mirror base URL is required", ports.ErrInvalidConfiguration)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Sink{client: client, logger: cfg.Logger}, nil
}

// Name identifies the sink in logs.
func (s *Sink) Name() string { return "rest" }

// SaveAccount upserts the account snapshot on the backend.
func (s *Sink) SaveAccount(ctx context.Context, account *domain.Account) error {
	if account == nil {
		return fmt.Errorf("%w: nil account", ports.ErrInvalidConfiguration)
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", account.ID).
		SetBody(toAccountPayload(account)).
		Put("/accounts/{id}")
	if err != nil {
		return fmt.Errorf("%w: mirroring account %s: %w", ports.ErrMirrorUnavailable, account.ID, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: backend rejected account %s: status %d: %s", ports.ErrMirrorUnavailable, account.ID, resp.StatusCode(), resp.String())
	}
	s.logger.Debug(ctx, "Account snapshot mirrored to backend", map[string]interface{}{
		"accountID": account.ID,
		"status":    resp.StatusCode(),
	})
	return nil
}

// SaveTrade appends one executed trade on the backend. The trade ID is the
// idempotency key; the backend deduplicates replays.
func (s *Sink) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	if trade == nil {
		return fmt.Errorf("%w: nil trade", ports.ErrInvalidConfiguration)
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(toTradePayload(trade)).
		Post("/trades")
	if err != nil {
		return fmt.Errorf("%w: mirroring trade %s: %w", ports.ErrMirrorUnavailable, trade.ID, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: backend rejected trade %s: status %d: %s", ports.ErrMirrorUnavailable, trade.ID, resp.StatusCode(), resp.String())
	}
	return nil
}

// accountPayload is the wire form of an account snapshot.
type accountPayload struct {
	ID               string            `json:"id"`
	AgentID          string            `json:"agent_id,omitempty"`
	Name             string            `json:"name"`
	InitialCapital   float64           `json:"initial_capital"`
	CashBalance      float64           `json:"cash_balance"`
	Positions        []positionPayload `json:"positions"`
	TotalTrades      int               `json:"total_trades"`
	WinningTrades    int               `json:"winning_trades"`
	LosingTrades     int               `json:"losing_trades"`
	TotalRealizedPnL float64           `json:"total_realized_pnl"`
	PeakEquity       float64           `json:"peak_equity"`
	MaxDrawdown      float64           `json:"max_drawdown"`
	DailyRealizedPnL float64           `json:"daily_realized_pnl"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

type positionPayload struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	RealizedPnL   float64   `json:"realized_pnl"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type tradePayload struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	AccountID     string    `json:"account_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	ExecutedPrice float64   `json:"executed_price"`
	Quantity      float64   `json:"quantity"`
	ClosedQty     float64   `json:"closed_qty"`
	Fees          float64   `json:"fees"`
	RealizedPnL   float64   `json:"realized_pnl"`
	Return        float64   `json:"return"`
	StrategyTag   string    `json:"strategy_tag"`
	Reasoning     string    `json:"reasoning,omitempty"`
	ExecutedAt    time.Time `json:"executed_at"`
}

func toAccountPayload(account *domain.Account) accountPayload {
	positions := make([]positionPayload, 0, len(account.Positions))
	symbols := make([]string, 0, len(account.Positions))
	for symbol := range account.Positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols) // Stable payload order
	for _, symbol := range symbols {
		pos := account.Positions[symbol]
		positions = append(positions, positionPayload{
			Symbol:        pos.Symbol,
			Quantity:      pos.Quantity,
			AvgEntryPrice: pos.AvgEntryPrice,
			RealizedPnL:   pos.RealizedPnL,
			StopLoss:      pos.StopLoss,
			TakeProfit:    pos.TakeProfit,
			OpenedAt:      pos.OpenedAt,
			UpdatedAt:     pos.UpdatedAt,
		})
	}
	return accountPayload{
		ID:               account.ID,
		AgentID:          account.AgentID,
		Name:             account.Name,
		InitialCapital:   account.InitialCapital,
		CashBalance:      account.CashBalance,
		Positions:        positions,
		TotalTrades:      account.TotalTrades,
		WinningTrades:    account.WinningTrades,
		LosingTrades:     account.LosingTrades,
		TotalRealizedPnL: account.TotalRealizedPnL,
		PeakEquity:       account.PeakEquity,
		MaxDrawdown:      account.MaxDrawdown,
		DailyRealizedPnL: account.DailyRealizedPnL,
		CreatedAt:        account.CreatedAt,
		UpdatedAt:        account.UpdatedAt,
	}
}

func toTradePayload(trade *domain.Trade) tradePayload {
	return tradePayload{
		ID:            trade.ID,
		OrderID:       trade.OrderID,
		AccountID:     trade.AccountID,
		Symbol:        trade.Symbol,
		Side:          string(trade.Side),
		ExecutedPrice: trade.ExecutedPrice,
		Quantity:      trade.Quantity,
		ClosedQty:     trade.ClosedQty,
		Fees:          trade.Fees,
		RealizedPnL:   trade.RealizedPnL,
		Return:        trade.Return,
		StrategyTag:   trade.StrategyTag,
		Reasoning:     trade.Reasoning,
		ExecutedAt:    trade.ExecutedAt,
	}
}
