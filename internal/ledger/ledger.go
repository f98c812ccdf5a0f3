package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// Quantities closer to zero than this are treated as a flat position.
const qtyEpsilon = 1e-9

// Config holds the dependencies for the ledger.
type Config struct {
	Quotes       ports.QuoteSource
	Logger       ports.Logger
	RiskFreeRate float64          // Per-observation hurdle used by the Sharpe ratio
	Now          func() time.Time // Defaults to time.Now; injected by tests and replays
}

// Ledger is the authoritative owner of account, position and trade state.
// Every mutation runs under the target account's exclusive lock, so two
// fills for the same account can never interleave; fills for different
// accounts proceed in parallel. All returned values are deep snapshots.
type Ledger struct {
	quotes       ports.QuoteSource
	logger       ports.Logger
	riskFreeRate float64
	now          func() time.Time

	mu       sync.RWMutex
	accounts map[string]*accountState
	order    []string // Account IDs in creation order
}

// accountState pairs an account with its lock and append-only trade log.
type accountState struct {
	mu      sync.Mutex
	account *domain.Account
	trades  []*domain.Trade
}

// TradeMeta carries order context the ledger stamps onto the trade record
// and, for opening fills, onto the position's protective levels.
type TradeMeta struct {
	StrategyTag string
	Reasoning   string
	StopLoss    float64
	TakeProfit  float64
}

// New creates an empty ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrInvalidConfiguration)
	}
	if cfg.Quotes == nil {
		return nil, fmt.Errorf("%w: quote source is required", ports.ErrInvalidConfiguration)
	}
	if cfg.RiskFreeRate < 0 {
		return nil, fmt.Errorf("%w: risk-free rate %f must not be negative", ports.ErrInvalidConfiguration, cfg.RiskFreeRate)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		quotes:       cfg.Quotes,
		logger:       cfg.Logger,
		riskFreeRate: cfg.RiskFreeRate,
		now:          now,
		accounts:     make(map[string]*accountState),
	}, nil
}

// CreateAccount allocates a new account funded with initialCapital.
func (l *Ledger) CreateAccount(ctx context.Context, agentID, name string, initialCapital float64, limits domain.RiskLimits) (*domain.Account, error) {
	if initialCapital <= 0 {
		return nil, fmt.Errorf("%w: initial capital %f must be positive", ports.ErrInvalidConfiguration, initialCapital)
	}
	now := l.now().UTC()
	account := &domain.Account{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		Name:           name,
		InitialCapital: initialCapital,
		CashBalance:    initialCapital,
		Positions:      make(map[string]*domain.Position),
		PeakEquity:     initialCapital,
		DailyWindow:    utcMidnight(now),
		Limits:         limits.Clone(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	l.mu.Lock()
	l.accounts[account.ID] = &accountState{account: account}
	l.order = append(l.order, account.ID)
	l.mu.Unlock()

	l.logger.Info(ctx, "Account created", map[string]interface{}{
		"accountID": account.ID,
		"agentID":   agentID,
		"name":      name,
		"capital":   initialCapital,
	})
	return account.Clone(), nil
}

// GetAccount returns a deep snapshot of the account.
func (l *Ledger) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	state, err := l.state(accountID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.account.Clone(), nil
}

// ListAccounts returns snapshots of every account in creation order.
func (l *Ledger) ListAccounts(ctx context.Context) []*domain.Account {
	l.mu.RLock()
	ids := append([]string(nil), l.order...)
	l.mu.RUnlock()

	accounts := make([]*domain.Account, 0, len(ids))
	for _, id := range ids {
		if acct, err := l.GetAccount(ctx, id); err == nil {
			accounts = append(accounts, acct)
		}
	}
	return accounts
}

// GetPortfolio returns snapshots of the account's open positions.
func (l *Ledger) GetPortfolio(ctx context.Context, accountID string) ([]*domain.Position, error) {
	state, err := l.state(accountID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	positions := make([]*domain.Position, 0, len(state.account.Positions))
	for _, pos := range state.account.Positions {
		positions = append(positions, pos.Clone())
	}
	return positions, nil
}

// GetTradeHistory returns the account's trades, most recent first.
// A non-positive limit returns the full history.
func (l *Ledger) GetTradeHistory(ctx context.Context, accountID string, limit int) ([]*domain.Trade, error) {
	state, err := l.state(accountID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	n := len(state.trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	trades := make([]*domain.Trade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		trades = append(trades, state.trades[i].Clone())
	}
	return trades, nil
}

// UpdateRiskLimits replaces the account's limits. The new limits apply to
// future evaluations only.
func (l *Ledger) UpdateRiskLimits(ctx context.Context, accountID string, limits domain.RiskLimits) error {
	state, err := l.state(accountID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.account.Limits = limits.Clone()
	state.account.UpdatedAt = l.now().UTC()
	return nil
}

// ApplyFill settles one executed fill against the account and appends the
// resulting trade to the history. The mutation is all-or-nothing: a fill
// whose cash settlement would drive the balance negative is rejected with
// ErrInsufficientCash and leaves no trace.
//
// Accounting per fill: cash moves by notional plus fees (buys) or notional
// minus fees (sells); same-direction fills extend the position at the
// weighted-average entry price; opposing fills realize
// (executedPrice - avgEntry) x closedQuantity net of this fill's fees, and
// any remainder after a flip opens at the executed price. Every fill counts
// toward TotalTrades; only fills that closed quantity touch the win/loss
// counters, by the sign of their net realized delta.
func (l *Ledger) ApplyFill(ctx context.Context, accountID string, fill *domain.Fill, meta TradeMeta) (*domain.Account, *domain.Trade, error) {
	if fill == nil || fill.Quantity <= 0 || fill.ExecutedPrice <= 0 {
		return nil, nil, fmt.Errorf("%w: fill must carry a positive quantity and price", ports.ErrInvalidOrder)
	}
	state, err := l.state(accountID)
	if err != nil {
		return nil, nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	acct := state.account
	now := l.now().UTC()
	l.rollDailyWindow(acct, now)

	markPrice := l.markPriceFunc(acct, fill)
	equityBefore := acct.Equity(markPrice)

	// Settle cash first; the whole fill is rejected if it cannot clear.
	newCash := acct.CashBalance
	if fill.Side == domain.Buy {
		newCash -= fill.Notional() + fill.Fees
	} else {
		newCash += fill.Notional() - fill.Fees
	}
	if newCash < 0 {
		return nil, nil, fmt.Errorf("%w: fill for %s needs %.2f more cash",
			ports.ErrInsufficientCash, fill.Symbol, -newCash)
	}

	outcome := applyToPosition(acct.Position(fill.Symbol), fill, meta, now)

	acct.CashBalance = newCash
	if outcome.position == nil {
		delete(acct.Positions, fill.Symbol)
	} else {
		acct.Positions[fill.Symbol] = outcome.position
	}

	acct.TotalTrades++
	if outcome.closedQty > qtyEpsilon {
		switch {
		case outcome.realizedDelta > 0:
			acct.WinningTrades++
		case outcome.realizedDelta < 0:
			acct.LosingTrades++
		}
	}
	acct.TotalRealizedPnL += outcome.realizedDelta
	acct.DailyRealizedPnL += outcome.realizedDelta
	acct.UpdatedAt = now

	equityAfter := acct.Equity(markPrice)
	if equityAfter > acct.PeakEquity {
		acct.PeakEquity = equityAfter
	} else if acct.PeakEquity > 0 {
		if dd := (acct.PeakEquity - equityAfter) / acct.PeakEquity; dd > acct.MaxDrawdown {
			acct.MaxDrawdown = dd
		}
	}

	var ret float64
	if equityBefore > 0 {
		ret = outcome.realizedDelta / equityBefore
	}
	trade := &domain.Trade{
		ID:            uuid.NewString(),
		OrderID:       fill.OrderID,
		AccountID:     accountID,
		Symbol:        fill.Symbol,
		Side:          fill.Side,
		ExecutedPrice: fill.ExecutedPrice,
		Quantity:      fill.Quantity,
		ClosedQty:     outcome.closedQty,
		Fees:          fill.Fees,
		RealizedPnL:   outcome.realizedDelta,
		Return:        ret,
		StrategyTag:   meta.StrategyTag,
		Reasoning:     meta.Reasoning,
		ExecutedAt:    fill.ExecutedAt,
	}
	state.trades = append(state.trades, trade)

	l.logger.Debug(ctx, "Fill applied", map[string]interface{}{
		"accountID":   accountID,
		"symbol":      fill.Symbol,
		"side":        fill.Side,
		"quantity":    fill.Quantity,
		"price":       fill.ExecutedPrice,
		"realizedPnL": outcome.realizedDelta,
		"cash":        acct.CashBalance,
	})
	return acct.Clone(), trade.Clone(), nil
}

// fillOutcome is the precomputed effect of a fill on a single position.
type fillOutcome struct {
	position      *domain.Position // nil when the position is fully closed
	closedQty     float64          // Unsigned quantity closed by this fill
	realizedDelta float64          // Net realized P&L change, fees included
}

// applyToPosition computes the position resulting from a fill without
// touching account state. now stamps OpenedAt/UpdatedAt on the result.
func applyToPosition(pos *domain.Position, fill *domain.Fill, meta TradeMeta, now time.Time) fillOutcome {
	signedQty := fill.SignedQuantity()

	// Opening a fresh position. The fill's fees are the only realized
	// effect, so opening fills always carry a small negative delta.
	if pos == nil || math.Abs(pos.Quantity) <= qtyEpsilon {
		return fillOutcome{
			position:      newPosition(fill, meta, signedQty, fill.ExecutedPrice, -fill.Fees, now),
			realizedDelta: -fill.Fees,
		}
	}

	sameDirection := (pos.Quantity > 0) == (signedQty > 0)
	if sameDirection {
		// Extend: weighted-average entry across the old and new quantity.
		oldAbs := math.Abs(pos.Quantity)
		newAbs := oldAbs + fill.Quantity
		next := pos.Clone()
		next.AvgEntryPrice = (pos.AvgEntryPrice*oldAbs + fill.ExecutedPrice*fill.Quantity) / newAbs
		next.Quantity = pos.Quantity + signedQty
		next.RealizedPnL += -fill.Fees
		next.UpdatedAt = now
		applyProtectiveLevels(next, meta)
		return fillOutcome{position: next, realizedDelta: -fill.Fees}
	}

	// Opposing fill: realize on the overlap, then close, reduce or flip.
	closedQty := math.Min(math.Abs(pos.Quantity), fill.Quantity)
	direction := 1.0
	if pos.Quantity < 0 {
		direction = -1.0
	}
	gross := (fill.ExecutedPrice - pos.AvgEntryPrice) * closedQty * direction
	delta := gross - fill.Fees

	remainder := pos.Quantity + signedQty
	switch {
	case math.Abs(remainder) <= qtyEpsilon:
		return fillOutcome{position: nil, closedQty: closedQty, realizedDelta: delta}
	case (remainder > 0) == (pos.Quantity > 0):
		// Partial close: entry price unchanged.
		next := pos.Clone()
		next.Quantity = remainder
		next.RealizedPnL += delta
		next.UpdatedAt = now
		return fillOutcome{position: next, closedQty: closedQty, realizedDelta: delta}
	default:
		// Flip: the remainder opens a new position at the executed price.
		return fillOutcome{
			position:      newPosition(fill, meta, remainder, fill.ExecutedPrice, 0, now),
			closedQty:     closedQty,
			realizedDelta: delta,
		}
	}
}

func newPosition(fill *domain.Fill, meta TradeMeta, quantity, entry, realized float64, now time.Time) *domain.Position {
	pos := &domain.Position{
		Symbol:        fill.Symbol,
		Quantity:      quantity,
		AvgEntryPrice: entry,
		RealizedPnL:   realized,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	applyProtectiveLevels(pos, meta)
	return pos
}

func applyProtectiveLevels(pos *domain.Position, meta TradeMeta) {
	if meta.StopLoss > 0 {
		pos.StopLoss = meta.StopLoss
	}
	if meta.TakeProfit > 0 {
		pos.TakeProfit = meta.TakeProfit
	}
}

// markPriceFunc marks open symbols with the freshest quote, falling back to
// the fill's executed price for the filled symbol and to the average entry
// otherwise, so equity reads never fail.
func (l *Ledger) markPriceFunc(acct *domain.Account, fill *domain.Fill) func(string) float64 {
	return func(symbol string) float64 {
		if price, err := l.quotes.CurrentPrice(symbol); err == nil && price > 0 {
			return price
		}
		if fill != nil && symbol == fill.Symbol {
			return fill.ExecutedPrice
		}
		if pos := acct.Positions[symbol]; pos != nil {
			return pos.AvgEntryPrice
		}
		return 0
	}
}

// rollDailyWindow resets the daily realized P&L when the UTC day changes.
func (l *Ledger) rollDailyWindow(acct *domain.Account, now time.Time) {
	midnight := utcMidnight(now)
	if !midnight.Equal(acct.DailyWindow) {
		acct.DailyWindow = midnight
		acct.DailyRealizedPnL = 0
	}
}

func utcMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (l *Ledger) state(accountID string) (*accountState, error) {
	l.mu.RLock()
	state, ok := l.accounts[accountID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrAccountNotFound, accountID)
	}
	return state, nil
}
