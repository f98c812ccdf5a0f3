// Package llmclient talks to an external decision service over HTTP. The
// service (typically an LLM pipeline) receives the market snapshot plus an
// account summary and answers with a single trading decision. Validation of
// that decision stays with the external_ai strategy; this client only moves
// bytes and maps the wire format.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"

	"github.com/go-resty/resty/v2"
)

const (
	defaultTimeout = 30 * time.Second // LLM backends are slow; the engine's evaluation timeout still binds
	maxHistory     = 128              // Prices sent per request
)

// Client implements strategy.DecisionClient against a JSON REST service.
type Client struct {
	client *resty.Client
	model  string
	logger ports.Logger
}

// Config holds configuration for the decision service client.
type Config struct {
	BaseURL string
	APIKey  string        // Optional bearer token
	Model   string        // Optional model routing hint forwarded with each request
	Timeout time.Duration // Per-request timeout; defaults to 30s
	Logger  ports.Logger
}

// New builds the client. The service must accept POST /decide.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for decision client", ports.ErrInvalidConfiguration)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: decision service base URL is required", ports.ErrInvalidConfiguration)
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

	return &Client{client: client, model: cfg.Model, logger: cfg.Logger}, nil
}

// decisionRequest is what the service sees for each evaluation.
type decisionRequest struct {
	Model     string           `json:"model,omitempty"`
	Symbol    string           `json:"symbol"`
	LastPrice float64          `json:"last_price"`
	History   []float64        `json:"history"`
	Timestamp time.Time        `json:"timestamp"`
	Account   accountSummary   `json:"account"`
	Positions []positionDetail `json:"positions"`
}

type accountSummary struct {
	ID               string  `json:"id"`
	CashBalance      float64 `json:"cash_balance"`
	InitialCapital   float64 `json:"initial_capital"`
	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	TotalTrades      int     `json:"total_trades"`
}

type positionDetail struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
}

// decisionResponse mirrors the service's decision document.
type decisionResponse struct {
	Action     string  `json:"action"` // BUY, SELL, HOLD
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// RequestDecision asks the service for a decision on the given snapshot.
// HOLD (or an empty action) maps to a no-action decision; BUY and SELL pass
// through with the service's sizing and protective levels. Unknown actions
// also pass through so the caller rejects them with full context.
func (c *Client) RequestDecision(ctx context.Context, account *domain.Account, market *domain.MarketSnapshot) (domain.Decision, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(c.buildRequest(account, market)).
		Post("/decide")
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision request for %s failed: %w", market.Symbol, err)
	}
	if !resp.IsSuccess() {
		return domain.Decision{}, fmt.Errorf("decision service error %d: %s", resp.StatusCode(), resp.String())
	}

	var out decisionResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return domain.Decision{}, fmt.Errorf("failed to parse decision response: %w", err)
	}

	action := strings.ToUpper(strings.TrimSpace(out.Action))
	if action == "" || action == "HOLD" {
		return domain.Hold(out.Reason), nil
	}

	c.logger.Debug(ctx, "External decision received", map[string]interface{}{
		"symbol":     market.Symbol,
		"action":     action,
		"quantity":   out.Quantity,
		"confidence": out.Confidence,
	})
	return domain.Decision{
		Side:       domain.OrderSide(action),
		Symbol:     out.Symbol,
		Quantity:   out.Quantity,
		StopLoss:   out.StopLoss,
		TakeProfit: out.TakeProfit,
		Reasoning:  out.Reason,
		Confidence: out.Confidence,
	}, nil
}

func (c *Client) buildRequest(account *domain.Account, market *domain.MarketSnapshot) decisionRequest {
	history := market.History
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	req := decisionRequest{
		Model:     c.model,
		Symbol:    market.Symbol,
		LastPrice: market.LastPrice,
		History:   history,
		Timestamp: market.Timestamp,
		Positions: make([]positionDetail, 0),
	}
	if account != nil {
		req.Account = accountSummary{
			ID:               account.ID,
			CashBalance:      account.CashBalance,
			InitialCapital:   account.InitialCapital,
			TotalRealizedPnL: account.TotalRealizedPnL,
			TotalTrades:      account.TotalTrades,
		}
		for _, pos := range account.Positions {
			req.Positions = append(req.Positions, positionDetail{
				Symbol:        pos.Symbol,
				Quantity:      pos.Quantity,
				AvgEntryPrice: pos.AvgEntryPrice,
			})
		}
	}
	return req
}
