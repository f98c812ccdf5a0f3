// Package engine orchestrates the paper-trading pipeline: it fans price
// ticks out to agent strategies on a bounded worker pool, funnels every
// resulting order through risk evaluation, simulated execution and ledger
// settlement, and emits events and persistence mirror tasks for each
// mutation. All order paths, manual and tick-driven, serialize through a
// per-account gate; unrelated accounts proceed in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/execution"
	"papertrader/internal/ledger"
	"papertrader/internal/ports"
	"papertrader/internal/registry"
	"papertrader/internal/risk"
)

const (
	defaultWorkers     = 8
	defaultEvalTimeout = 5 * time.Second
	defaultEventBuffer = 64
	defaultHistorySize = 256 // Recent prices kept per symbol for strategy snapshots
)

// Enqueuer is the asynchronous mirror intake fed after every ledger
// mutation. The queue's lifecycle belongs to the composition root; the
// engine only hands it work.
type Enqueuer interface {
	Enqueue(ctx context.Context, account *domain.Account, trade *domain.Trade)
}

// Config holds the dependencies and tuning knobs for the engine.
type Config struct {
	Feed     ports.PriceFeed
	Quotes   *QuoteCache
	Ledger   *ledger.Ledger
	Registry *registry.Registry
	Risk     *risk.Evaluator
	Executor *execution.Executor
	Mirror   Enqueuer // Optional; nil disables mirroring
	Logger   ports.Logger

	Workers     int           // Tick worker pool size
	EvalTimeout time.Duration // Upper bound on one strategy evaluation
	EventBuffer int           // Per-subscriber event channel capacity
	HistorySize int           // Price history window handed to strategies
	Now         func() time.Time
}

// Engine drives the simulated trading loop. Construct with New, then Start;
// the zero value is not usable.
type Engine struct {
	feed     ports.PriceFeed
	quotes   *QuoteCache
	ledger   *ledger.Ledger
	registry *registry.Registry
	risk     *risk.Evaluator
	executor *execution.Executor
	mirror   Enqueuer
	logger   ports.Logger
	bus      *EventBus

	workers     int
	evalTimeout time.Duration
	historySize int
	now         func() time.Time

	mu         sync.Mutex // Guards lifecycle state below
	started    bool
	cancel     context.CancelFunc
	streamDone chan struct{}
	wg         sync.WaitGroup

	gateMu sync.Mutex
	gates  map[string]*sync.Mutex // Per-account serialization points

	agentMu    sync.Mutex
	agentLocks map[string]*sync.Mutex // Serializes Decide per agent
}

// New validates the configuration and assembles an engine. It does not
// touch the feed; nothing runs until Start.
func New(cfg Config) (*Engine, error) {
	if cfg.Feed == nil {
		return nil, fmt.Errorf("%w: price feed is required", ports.ErrInvalidConfiguration)
	}
	if cfg.Quotes == nil {
		return nil, fmt.Errorf("%w: quote cache is required", ports.ErrInvalidConfiguration)
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: ledger is required", ports.ErrInvalidConfiguration)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: agent registry is required", ports.ErrInvalidConfiguration)
	}
	if cfg.Risk == nil {
		return nil, fmt.Errorf("%w: risk evaluator is required", ports.ErrInvalidConfiguration)
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("%w: order executor is required", ports.ErrInvalidConfiguration)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrInvalidConfiguration)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	evalTimeout := cfg.EvalTimeout
	if evalTimeout <= 0 {
		evalTimeout = defaultEvalTimeout
	}
	eventBuffer := cfg.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		feed:        cfg.Feed,
		quotes:      cfg.Quotes,
		ledger:      cfg.Ledger,
		registry:    cfg.Registry,
		risk:        cfg.Risk,
		executor:    cfg.Executor,
		mirror:      cfg.Mirror,
		logger:      cfg.Logger,
		bus:         newEventBus(eventBuffer, cfg.Logger),
		workers:     workers,
		evalTimeout: evalTimeout,
		historySize: historySize,
		now:         now,
		gates:       make(map[string]*sync.Mutex),
		agentLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// Start subscribes to the price feed for the union of symbols tracked by
// registered agents and spins up the tick worker pool. Calling Start on a
// running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		e.logger.Warn(ctx, "Engine already started")
		return nil
	}

	symbols := e.registry.Symbols()
	runCtx, cancel := context.WithCancel(ctx)

	if len(symbols) == 0 {
		// Nothing to stream yet. Manual order and account flows still work.
		e.logger.Warn(ctx, "No symbols tracked by any agent; starting without a price stream")
		done := make(chan struct{})
		close(done)
		e.started = true
		e.cancel = cancel
		e.streamDone = done
		return nil
	}

	ticks, err := e.feed.Subscribe(runCtx, symbols)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing to price feed: %w", err)
	}

	jobs := make(chan tickJob, e.workers*2)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(runCtx, jobs)
	}
	e.wg.Add(1)
	go e.dispatch(runCtx, ticks, jobs)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	e.started = true
	e.cancel = cancel
	e.streamDone = done
	e.logger.Info(ctx, "Engine started", map[string]interface{}{
		"symbols":     symbols,
		"workers":     e.workers,
		"evalTimeout": e.evalTimeout.String(),
	})
	return nil
}

// Stop halts tick intake, drains in-flight work and closes the event bus.
// Safe to call more than once; Stop on a never-started engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.started = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.bus.close()
	e.logger.Info(context.Background(), "Engine stopped")
}

// Subscribe registers an event consumer. See EventBus.Subscribe.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.bus.Subscribe()
}

// Done is closed once the tick pipeline has wound down: the feed closed its
// stream and every queued evaluation drained, or the run was canceled. A
// replay run uses it to detect end of playback before reading final ledger
// state. Valid after Start; Stop is still required to release the event bus.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamDone
}

func (e *Engine) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// OrderRequest describes one order submission. Tick-driven and manual
// orders use the same request type and the same pipeline.
type OrderRequest struct {
	AccountID      string
	Symbol         string
	Side           domain.OrderSide
	Type           domain.OrderType // Defaults to market
	Quantity       float64
	RequestedPrice float64
	StrategyTag    string // Defaults to manual
	Reasoning      string
	StopLoss       float64 // Protective levels stamped onto an opened/extended position
	TakeProfit     float64
	ReduceOnly     bool // Clamp to current position size; reject if nothing to reduce
}

// OrderResult reports how an order resolved. Trade and Account are set only
// for fills; Rejection is set only when the risk evaluator refused the
// order. A resolved order is immutable: rejected orders are resubmitted as
// new orders, never retried.
type OrderResult struct {
	Order     *domain.Order
	Trade     *domain.Trade
	Account   *domain.Account
	Rejection *risk.Result
}

// PlaceOrder runs the synchronous order pipeline under the account's
// serialization gate: price lookup, risk evaluation against the current
// account snapshot, simulated execution, ledger settlement, event emission.
// Risk rejections resolve the order and return no error; infrastructure
// faults (unknown account, no price, settlement refusal) resolve the order
// and return the underlying error.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if !e.running() {
		return nil, fmt.Errorf("%w: start the engine before placing orders", ports.ErrEngineStopped)
	}
	if req.AccountID == "" || req.Symbol == "" {
		return nil, fmt.Errorf("%w: account and symbol are required", ports.ErrInvalidOrder)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity %f must be positive", ports.ErrInvalidOrder, req.Quantity)
	}
	if req.Side != domain.Buy && req.Side != domain.Sell {
		return nil, fmt.Errorf("%w: unknown side %q", ports.ErrInvalidOrder, req.Side)
	}
	orderType := req.Type
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	tag := req.StrategyTag
	if tag == "" {
		tag = domain.TagManual
	}

	order := domain.NewOrder(req.AccountID, req.Symbol, req.Side, orderType, req.Quantity, req.RequestedPrice, tag, req.Reasoning)
	result := &OrderResult{Order: order}

	gate := e.accountGate(req.AccountID)
	gate.Lock()
	defer gate.Unlock()

	price, err := e.quotes.CurrentPrice(order.Symbol)
	if err != nil {
		e.reject(order, err.Error())
		return result, err
	}

	account, err := e.ledger.GetAccount(ctx, order.AccountID)
	if err != nil {
		// Unknown account is an integration fault, not a routine rejection.
		e.logger.Error(ctx, err, "Order references unknown account", map[string]interface{}{
			"orderID":   order.ID,
			"accountID": order.AccountID,
		})
		e.reject(order, err.Error())
		return result, err
	}

	if req.ReduceOnly {
		if msg := clampReduceOnly(order, account); msg != "" {
			e.reject(order, msg)
			return result, nil
		}
	}

	res := e.risk.Evaluate(account, order, price, e.markPrice(account))
	if !res.Allowed {
		e.reject(order, res.Message)
		result.Rejection = &res
		e.logger.Info(ctx, "Order rejected by risk limits", map[string]interface{}{
			"orderID":   order.ID,
			"accountID": order.AccountID,
			"symbol":    order.Symbol,
			"reason":    string(res.Reason),
			"message":   res.Message,
		})
		return result, nil
	}

	fill, err := e.executor.Execute(ctx, order, price)
	if err != nil {
		e.reject(order, err.Error())
		return result, err
	}

	accountSnap, trade, err := e.ledger.ApplyFill(ctx, order.AccountID, fill, ledger.TradeMeta{
		StrategyTag: order.StrategyTag,
		Reasoning:   order.Reasoning,
		StopLoss:    req.StopLoss,
		TakeProfit:  req.TakeProfit,
	})
	if err != nil {
		e.reject(order, err.Error())
		return result, err
	}

	order.Status = domain.OrderStatusFilled
	order.ResolvedAt = e.now().UTC()
	result.Trade = trade
	result.Account = accountSnap

	e.logger.Info(ctx, "Order filled", map[string]interface{}{
		"orderID":       order.ID,
		"accountID":     order.AccountID,
		"symbol":        order.Symbol,
		"side":          string(order.Side),
		"quantity":      order.Quantity,
		"executedPrice": fill.ExecutedPrice,
		"fees":          fill.Fees,
		"strategyTag":   order.StrategyTag,
	})

	e.bus.publish(ctx, TradeExecuted{Trade: trade})
	e.bus.publish(ctx, AccountChanged{AccountID: order.AccountID})
	if e.mirror != nil {
		e.mirror.Enqueue(ctx, accountSnap, trade)
	}
	return result, nil
}

// InitializeAccount creates an account outside the agent-creation flow.
func (e *Engine) InitializeAccount(ctx context.Context, name string, initialBalance float64) (*domain.Account, error) {
	account, err := e.registry.CreateStandaloneAccount(ctx, name, initialBalance, nil)
	if err != nil {
		return nil, err
	}
	e.bus.publish(ctx, AccountChanged{AccountID: account.ID})
	if e.mirror != nil {
		e.mirror.Enqueue(ctx, account, nil)
	}
	return account, nil
}

// CreateAgent registers a trading agent and funds its account.
func (e *Engine) CreateAgent(ctx context.Context, cfg registry.AgentConfig) (*domain.TradingAgent, error) {
	agent, err := e.registry.CreateAgent(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.bus.publish(ctx, AccountChanged{AccountID: agent.AccountID})
	if e.mirror != nil {
		if account, err := e.ledger.GetAccount(ctx, agent.AccountID); err == nil {
			e.mirror.Enqueue(ctx, account, nil)
		}
	}
	return agent, nil
}

// ListAgents returns registered agents in creation order.
func (e *Engine) ListAgents(ctx context.Context) []*domain.TradingAgent {
	return e.registry.ListAgents(ctx)
}

// Account returns a deep snapshot of one account.
func (e *Engine) Account(ctx context.Context, accountID string) (*domain.Account, error) {
	return e.ledger.GetAccount(ctx, accountID)
}

// Accounts returns deep snapshots of all accounts in creation order.
func (e *Engine) Accounts(ctx context.Context) []*domain.Account {
	return e.ledger.ListAccounts(ctx)
}

// Portfolio returns the account's open positions.
func (e *Engine) Portfolio(ctx context.Context, accountID string) ([]*domain.Position, error) {
	return e.ledger.GetPortfolio(ctx, accountID)
}

// TradeHistory returns up to limit trades, most recent first.
func (e *Engine) TradeHistory(ctx context.Context, accountID string, limit int) ([]*domain.Trade, error) {
	return e.ledger.GetTradeHistory(ctx, accountID, limit)
}

// Metrics computes the account's performance metrics.
func (e *Engine) Metrics(ctx context.Context, accountID string) (*ledger.Metrics, error) {
	return e.ledger.ComputeMetrics(ctx, accountID)
}

// tickJob is one unit of work on the worker pool: either a single agent
// evaluation or the protective-exit scan for a tick.
type tickJob struct {
	protective bool
	runtime    registry.Runtime
	snapshot   *domain.MarketSnapshot
}

// dispatch consumes the tick stream, maintains per-symbol price history and
// fans work out to the pool. It is the only writer of the history map;
// snapshots carry their own copy of the window so workers never observe a
// later tick's mutation.
func (e *Engine) dispatch(ctx context.Context, ticks <-chan domain.PriceTick, jobs chan<- tickJob) {
	defer e.wg.Done()
	defer close(jobs)

	history := make(map[string][]float64)
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				e.logger.Warn(ctx, "Price stream closed; tick dispatch stopping")
				return
			}
			if tick.Symbol == "" || tick.Price <= 0 {
				e.logger.Debug(ctx, "Discarding malformed tick", map[string]interface{}{
					"symbol": tick.Symbol,
					"price":  tick.Price,
				})
				continue
			}

			e.quotes.Update(tick.Symbol, tick.Price)
			h := append(history[tick.Symbol], tick.Price)
			if len(h) > e.historySize {
				h = h[len(h)-e.historySize:]
			}
			history[tick.Symbol] = h

			// Protective exits run ahead of new entries for the same tick.
			protect := tickJob{protective: true, snapshot: &domain.MarketSnapshot{
				Symbol:    tick.Symbol,
				LastPrice: tick.Price,
				Timestamp: tick.Timestamp,
			}}
			select {
			case jobs <- protect:
			case <-ctx.Done():
				return
			}

			for _, rt := range e.registry.ActiveForSymbol(tick.Symbol) {
				if len(h) < rt.Strategy.MinHistory() {
					continue
				}
				snap := &domain.MarketSnapshot{
					Symbol:    tick.Symbol,
					LastPrice: tick.Price,
					History:   append([]float64(nil), h...),
					Timestamp: tick.Timestamp,
				}
				select {
				case jobs <- tickJob{runtime: rt, snapshot: snap}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (e *Engine) worker(ctx context.Context, jobs <-chan tickJob) {
	defer e.wg.Done()
	for job := range jobs {
		if job.protective {
			e.checkProtectiveExits(ctx, job.snapshot)
			continue
		}
		e.evaluateAgent(ctx, job.runtime, job.snapshot)
	}
}

// evaluateAgent runs one strategy decision and submits the resulting order.
// Failures are contained: one agent's error or rejection never aborts the
// fan-out to other agents.
func (e *Engine) evaluateAgent(ctx context.Context, rt registry.Runtime, market *domain.MarketSnapshot) {
	agent := rt.Agent

	// Strategies may keep internal state; Decide is never re-entered for
	// the same agent.
	lock := e.agentLock(agent.ID)
	lock.Lock()
	defer lock.Unlock()

	account, err := e.ledger.GetAccount(ctx, agent.AccountID)
	if err != nil {
		e.logger.Error(ctx, err, "Agent account lookup failed", map[string]interface{}{
			"agentID":   agent.ID,
			"accountID": agent.AccountID,
		})
		return
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.evalTimeout)
	decision, err := rt.Strategy.Decide(evalCtx, account, market)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// A hung hook degrades to no decision for this tick.
			e.logger.Warn(ctx, "Strategy evaluation timed out", map[string]interface{}{
				"agentID": agent.ID,
				"symbol":  market.Symbol,
				"timeout": e.evalTimeout.String(),
				"error":   ports.ErrEvaluationTimeout.Error(),
			})
			return
		}
		e.logger.Error(ctx, err, "Strategy evaluation failed", map[string]interface{}{
			"agentID":  agent.ID,
			"strategy": string(agent.Strategy),
			"symbol":   market.Symbol,
		})
		return
	}
	if decision.NoAction {
		e.logger.Debug(ctx, "Agent holds", map[string]interface{}{
			"agentID":   agent.ID,
			"symbol":    market.Symbol,
			"reasoning": decision.Reasoning,
		})
		return
	}

	symbol := decision.Symbol
	if symbol == "" {
		symbol = market.Symbol
	}
	_, err = e.PlaceOrder(ctx, OrderRequest{
		AccountID:   agent.AccountID,
		Symbol:      symbol,
		Side:        decision.Side,
		Type:        domain.OrderTypeMarket,
		Quantity:    decision.Quantity,
		StrategyTag: string(agent.Strategy),
		Reasoning:   decision.Reasoning,
		StopLoss:    decision.StopLoss,
		TakeProfit:  decision.TakeProfit,
	})
	if err != nil {
		e.logger.Warn(ctx, "Agent order failed", map[string]interface{}{
			"agentID": agent.ID,
			"symbol":  symbol,
			"error":   err.Error(),
		})
	}
}

// checkProtectiveExits closes positions whose stop-loss or take-profit
// level the tick crossed, where the account has the corresponding toggle
// enabled. Exits are reduce-only, so a concurrent close can never flip the
// position.
func (e *Engine) checkProtectiveExits(ctx context.Context, market *domain.MarketSnapshot) {
	price := market.LastPrice
	for _, account := range e.ledger.ListAccounts(ctx) {
		pos := account.Position(market.Symbol)
		if pos == nil {
			continue
		}
		tag, level := triggeredExit(pos, account.Limits, price)
		if tag == "" {
			continue
		}

		result, err := e.PlaceOrder(ctx, OrderRequest{
			AccountID:   account.ID,
			Symbol:      market.Symbol,
			Side:        exitSide(pos),
			Type:        domain.OrderTypeMarket,
			Quantity:    pos.AbsQuantity(),
			StrategyTag: tag,
			Reasoning:   fmt.Sprintf("%s %.4f crossed at price %.4f", tag, level, price),
			ReduceOnly:  true,
		})
		if err != nil {
			e.logger.Warn(ctx, "Protective exit failed", map[string]interface{}{
				"accountID": account.ID,
				"symbol":    market.Symbol,
				"tag":       tag,
				"error":     err.Error(),
			})
			continue
		}
		if result.Trade != nil {
			e.logger.Info(ctx, "Protective exit executed", map[string]interface{}{
				"accountID": account.ID,
				"symbol":    market.Symbol,
				"tag":       tag,
				"level":     level,
				"price":     price,
			})
		}
	}
}

// triggeredExit reports which protective level the price crossed, if any.
func triggeredExit(pos *domain.Position, limits domain.RiskLimits, price float64) (string, float64) {
	if pos.IsLong() {
		if limits.StopLossEnabled && pos.StopLoss > 0 && price <= pos.StopLoss {
			return domain.TagStopLoss, pos.StopLoss
		}
		if limits.TakeProfitEnabled && pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return domain.TagTakeProfit, pos.TakeProfit
		}
		return "", 0
	}
	if limits.StopLossEnabled && pos.StopLoss > 0 && price >= pos.StopLoss {
		return domain.TagStopLoss, pos.StopLoss
	}
	if limits.TakeProfitEnabled && pos.TakeProfit > 0 && price <= pos.TakeProfit {
		return domain.TagTakeProfit, pos.TakeProfit
	}
	return "", 0
}

func exitSide(pos *domain.Position) domain.OrderSide {
	if pos.IsLong() {
		return domain.Sell
	}
	return domain.Buy
}

// clampReduceOnly caps the order at the current position size. Returns a
// non-empty rejection message when there is nothing the order could reduce.
func clampReduceOnly(order *domain.Order, account *domain.Account) string {
	pos := account.Position(order.Symbol)
	if pos == nil {
		return fmt.Sprintf("no open %s position to reduce", order.Symbol)
	}
	if exitSide(pos) != order.Side {
		return fmt.Sprintf("reduce-only %s order does not oppose the open position", order.Side)
	}
	order.Quantity = math.Min(order.Quantity, pos.AbsQuantity())
	return ""
}

// markPrice builds the mark-price lookup used for equity computations
// during risk evaluation: last observed quote, falling back to the
// position's entry price so reads never fail.
func (e *Engine) markPrice(account *domain.Account) func(symbol string) float64 {
	return func(symbol string) float64 {
		if price, err := e.quotes.CurrentPrice(symbol); err == nil {
			return price
		}
		if pos := account.Position(symbol); pos != nil {
			return pos.AvgEntryPrice
		}
		return 0
	}
}

func (e *Engine) reject(order *domain.Order, reason string) {
	order.Status = domain.OrderStatusRejected
	order.RejectReason = reason
	order.ResolvedAt = e.now().UTC()
}

func (e *Engine) accountGate(accountID string) *sync.Mutex {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	gate, ok := e.gates[accountID]
	if !ok {
		gate = &sync.Mutex{}
		e.gates[accountID] = gate
	}
	return gate
}

func (e *Engine) agentLock(agentID string) *sync.Mutex {
	e.agentMu.Lock()
	defer e.agentMu.Unlock()
	lock, ok := e.agentLocks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		e.agentLocks[agentID] = lock
	}
	return lock
}
