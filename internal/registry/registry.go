package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// AccountAllocator creates accounts for new agents. The portfolio ledger
// satisfies this interface.
type AccountAllocator interface {
	CreateAccount(ctx context.Context, agentID, name string, initialCapital float64, limits domain.RiskLimits) (*domain.Account, error)
}

// StrategyFactory builds a strategy instance from its type and parameters,
// validating both. The registry calls it at agent creation and on every
// parameter update.
type StrategyFactory func(strategyType domain.StrategyType, params domain.StrategyParams, symbols []string) (ports.Strategy, error)

// Config holds the dependencies for the registry.
type Config struct {
	Accounts      AccountAllocator
	Factory       StrategyFactory
	Logger        ports.Logger
	DefaultLimits domain.RiskLimits // Applied when an agent config carries no limits
	Now           func() time.Time
}

// AgentConfig describes a new agent.
type AgentConfig struct {
	Name           string
	Strategy       domain.StrategyType
	Params         domain.StrategyParams
	Symbols        []string
	InitialCapital float64
	Limits         *domain.RiskLimits // nil uses the registry default
}

// Runtime pairs an agent snapshot with its live strategy instance for tick
// dispatch. The strategy pointer is shared, never copied; the engine
// serializes calls into it per agent.
type Runtime struct {
	Agent    *domain.TradingAgent
	Strategy ports.Strategy
}

// Registry owns the trading-agent lifecycle: creation, status transitions,
// parameter updates and removal. It is the only writer of agent state;
// account state stays with the ledger.
type Registry struct {
	accounts AccountAllocator
	factory  StrategyFactory
	logger   ports.Logger
	defaults domain.RiskLimits
	now      func() time.Time

	mu     sync.RWMutex
	agents map[string]*agentEntry
	order  []string // Agent IDs in creation order
}

type agentEntry struct {
	agent    *domain.TradingAgent
	strategy ports.Strategy
}

// New creates an empty registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("%w: account allocator is required", ports.ErrInvalidConfiguration)
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%w: strategy factory is required", ports.ErrInvalidConfiguration)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrInvalidConfiguration)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		accounts: cfg.Accounts,
		factory:  cfg.Factory,
		logger:   cfg.Logger,
		defaults: cfg.DefaultLimits,
		now:      now,
		agents:   make(map[string]*agentEntry),
	}, nil
}

// CreateAgent validates the configuration, allocates the agent's account and
// registers the agent as active. Validation failures leave no trace.
func (r *Registry) CreateAgent(ctx context.Context, cfg AgentConfig) (*domain.TradingAgent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: agent name is required", ports.ErrInvalidConfiguration)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: agent %q needs at least one symbol", ports.ErrInvalidConfiguration, cfg.Name)
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("%w: initial capital %f must be positive", ports.ErrInvalidConfiguration, cfg.InitialCapital)
	}
	params := cfg.Params
	if params == nil {
		params = domain.StrategyParams{}
	}
	strat, err := r.factory(cfg.Strategy, params, cfg.Symbols)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", cfg.Name, err)
	}

	limits := r.defaults
	if cfg.Limits != nil {
		limits = *cfg.Limits
	}

	agentID := uuid.NewString()
	account, err := r.accounts.CreateAccount(ctx, agentID, cfg.Name, cfg.InitialCapital, limits)
	if err != nil {
		return nil, fmt.Errorf("allocating account for agent %q: %w", cfg.Name, err)
	}

	now := r.now().UTC()
	agent := &domain.TradingAgent{
		ID:        agentID,
		Name:      cfg.Name,
		Strategy:  cfg.Strategy,
		Params:    params.Clone(),
		Symbols:   append([]string(nil), cfg.Symbols...),
		AccountID: account.ID,
		Status:    domain.AgentActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.agents[agent.ID] = &agentEntry{agent: agent, strategy: strat}
	r.order = append(r.order, agent.ID)
	r.mu.Unlock()

	r.logger.Info(ctx, "Agent created", map[string]interface{}{
		"agentID":   agent.ID,
		"name":      agent.Name,
		"strategy":  agent.Strategy,
		"symbols":   agent.Symbols,
		"accountID": agent.AccountID,
	})
	return agent.Clone(), nil
}

// CreateStandaloneAccount allocates an account with no owning agent, for
// manual order flow.
func (r *Registry) CreateStandaloneAccount(ctx context.Context, name string, initialCapital float64, limits *domain.RiskLimits) (*domain.Account, error) {
	if initialCapital <= 0 {
		return nil, fmt.Errorf("%w: initial capital %f must be positive", ports.ErrInvalidConfiguration, initialCapital)
	}
	effective := r.defaults
	if limits != nil {
		effective = *limits
	}
	return r.accounts.CreateAccount(ctx, "", name, initialCapital, effective)
}

// GetAgent returns a snapshot of the agent.
func (r *Registry) GetAgent(ctx context.Context, agentID string) (*domain.TradingAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrAgentNotFound, agentID)
	}
	return entry.agent.Clone(), nil
}

// ListAgents returns snapshots of all agents in creation order.
func (r *Registry) ListAgents(ctx context.Context) []*domain.TradingAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := make([]*domain.TradingAgent, 0, len(r.order))
	for _, id := range r.order {
		if entry, ok := r.agents[id]; ok {
			agents = append(agents, entry.agent.Clone())
		}
	}
	return agents
}

// ActiveForSymbol returns the runtimes of all active agents subscribed to
// the symbol, in creation order. Agent snapshots are detached; strategy
// instances are the live ones.
func (r *Registry) ActiveForSymbol(symbol string) []Runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var runtimes []Runtime
	for _, id := range r.order {
		entry, ok := r.agents[id]
		if !ok || entry.agent.Status != domain.AgentActive {
			continue
		}
		if entry.agent.WantsSymbol(symbol) {
			runtimes = append(runtimes, Runtime{Agent: entry.agent.Clone(), Strategy: entry.strategy})
		}
	}
	return runtimes
}

// Symbols returns the union of all agents' symbol subscriptions.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var symbols []string
	for _, id := range r.order {
		entry, ok := r.agents[id]
		if !ok {
			continue
		}
		for _, s := range entry.agent.Symbols {
			if !seen[s] {
				seen[s] = true
				symbols = append(symbols, s)
			}
		}
	}
	return symbols
}

// UpdateAgentStatus moves the agent to the given status. Setting the current
// status again is a no-op, not an error.
func (r *Registry) UpdateAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) error {
	switch status {
	case domain.AgentActive, domain.AgentPaused, domain.AgentError:
	default:
		return fmt.Errorf("%w: unknown agent status %q", ports.ErrInvalidConfiguration, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrAgentNotFound, agentID)
	}
	if entry.agent.Status == status {
		return nil
	}
	entry.agent.Status = status
	entry.agent.UpdatedAt = r.now().UTC()

	r.logger.Info(ctx, "Agent status changed", map[string]interface{}{
		"agentID": agentID,
		"status":  status,
	})
	return nil
}

// UpdateAgentParams replaces the agent's strategy parameters after
// re-validating them. The strategy instance is rebuilt, so any internal
// state (grid anchors, accumulation counters) starts fresh.
func (r *Registry) UpdateAgentParams(ctx context.Context, agentID string, params domain.StrategyParams) error {
	if params == nil {
		params = domain.StrategyParams{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ports.ErrAgentNotFound, agentID)
	}
	strat, err := r.factory(entry.agent.Strategy, params, entry.agent.Symbols)
	if err != nil {
		return fmt.Errorf("agent %q: %w", entry.agent.Name, err)
	}
	entry.agent.Params = params.Clone()
	entry.agent.UpdatedAt = r.now().UTC()
	entry.strategy = strat

	r.logger.Info(ctx, "Agent parameters updated", map[string]interface{}{
		"agentID": agentID,
	})
	return nil
}

// RemoveAgent deletes the agent. Its account and trade history stay in the
// ledger untouched.
func (r *Registry) RemoveAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agentID]; !ok {
		return fmt.Errorf("%w: %s", ports.ErrAgentNotFound, agentID)
	}
	delete(r.agents, agentID)
	for i, id := range r.order {
		if id == agentID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info(ctx, "Agent removed", map[string]interface{}{"agentID": agentID})
	return nil
}
