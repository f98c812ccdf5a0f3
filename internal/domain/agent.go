package domain

import "time"

// StrategyType tags the decision logic a trading agent runs.
type StrategyType string

const (
	StrategyMomentum      StrategyType = "momentum"
	StrategyMeanReversion StrategyType = "mean_reversion"
	StrategyArbitrage     StrategyType = "arbitrage"
	StrategyGrid          StrategyType = "grid"
	StrategyDCA           StrategyType = "dca"
	StrategyExternalAI    StrategyType = "external_ai"
)

// AgentStatus represents the lifecycle state of a trading agent. Paused and
// error agents are skipped by tick dispatch; their accounts stay intact.
type AgentStatus string

const (
	AgentActive AgentStatus = "active"
	AgentPaused AgentStatus = "paused"
	AgentError  AgentStatus = "error"
)

// StrategyParams is the numeric key-value configuration owned by an agent.
// Each strategy type validates its own required keys at creation time.
type StrategyParams map[string]float64

// Get returns the value for key, or def when the key is absent.
func (p StrategyParams) Get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Clone returns an independent copy of the parameter map.
func (p StrategyParams) Clone() StrategyParams {
	cp := make(StrategyParams, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// TradingAgent is an autonomous strategy instance bound to exactly one
// account. Identity (ID, name, strategy type, account) is immutable after
// creation; status and parameters change only through the registry.
type TradingAgent struct {
	ID        string
	Name      string
	Strategy  StrategyType
	Params    StrategyParams
	Symbols   []string // Symbols the agent wants ticks for
	AccountID string
	Status    AgentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WantsSymbol reports whether the agent subscribed to the given symbol.
func (a *TradingAgent) WantsSymbol(symbol string) bool {
	for _, s := range a.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (a *TradingAgent) Clone() *TradingAgent {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Params = a.Params.Clone()
	cp.Symbols = append([]string(nil), a.Symbols...)
	return &cp
}
