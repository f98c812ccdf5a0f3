package risk

import (
	"testing"
	"time"

	"papertrader/internal/domain"
)

func testAccount(cash float64, limits domain.RiskLimits) *domain.Account {
	return &domain.Account{
		ID:             "acct-1",
		Name:           "test",
		InitialCapital: cash,
		CashBalance:    cash,
		Positions:      make(map[string]*domain.Position),
		PeakEquity:     cash,
		DailyWindow:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Limits:         limits,
	}
}

func marketOrder(symbol string, side domain.OrderSide, qty float64) *domain.Order {
	return domain.NewOrder("acct-1", symbol, side, domain.OrderTypeMarket, qty, 0, domain.TagManual, "test order")
}

func flatPrice(p float64) func(string) float64 {
	return func(string) float64 { return p }
}

func TestEvaluateAllRulesPass(t *testing.T) {
	eval := NewEvaluator()
	account := testAccount(10000, domain.RiskLimits{
		MaxPositionSize: 0.5,
		MaxDailyLoss:    500,
		MaxDrawdown:     0.2,
		MaxLeverage:     2,
		AllowedSymbols:  []string{"BTCUSDT"},
	})

	res := eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 10), 100, flatPrice(100))
	if !res.Allowed {
		t.Fatalf("Expected order to pass all rules, got %s: %s", res.Reason, res.Message)
	}
	if res.Reason != "" || res.Message != "" {
		t.Errorf("Expected empty reason and message on accept, got %q / %q", res.Reason, res.Message)
	}
}

func TestEvaluateSymbolNotAllowed(t *testing.T) {
	eval := NewEvaluator()
	account := testAccount(10000, domain.RiskLimits{
		AllowedSymbols: []string{"BTCUSDT", "ETHUSDT"},
	})

	res := eval.Evaluate(account, marketOrder("DOGEUSDT", domain.Buy, 1), 100, flatPrice(100))
	if res.Allowed {
		t.Fatal("Expected rejection for symbol outside the allowed list")
	}
	if res.Reason != ReasonSymbolNotAllowed {
		t.Errorf("Expected reason %s, got %s", ReasonSymbolNotAllowed, res.Reason)
	}

	// An empty whitelist allows every symbol.
	account.Limits.AllowedSymbols = nil
	res = eval.Evaluate(account, marketOrder("DOGEUSDT", domain.Buy, 1), 100, flatPrice(100))
	if !res.Allowed {
		t.Errorf("Expected empty whitelist to allow any symbol, got %s", res.Reason)
	}
}

// Mirrors the sizing scenario: a $2,000 notional order on a $10,000 account
// with a 10% position size cap must be rejected.
func TestEvaluatePositionSizeExceeded(t *testing.T) {
	eval := NewEvaluator()
	account := testAccount(10000, domain.RiskLimits{MaxPositionSize: 0.10})

	res := eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 20), 100, flatPrice(100))
	if res.Allowed {
		t.Fatal("Expected rejection for notional above the position size cap")
	}
	if res.Reason != ReasonPositionSizeExceeded {
		t.Errorf("Expected reason %s, got %s", ReasonPositionSizeExceeded, res.Reason)
	}

	// Exactly at the cap passes: the rule rejects only strictly greater.
	res = eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 10), 100, flatPrice(100))
	if !res.Allowed {
		t.Errorf("Expected order at exactly the cap to pass, got %s: %s", res.Reason, res.Message)
	}
}

func TestEvaluatePositionSizeCountsExistingPosition(t *testing.T) {
	eval := NewEvaluator()
	account := testAccount(10000, domain.RiskLimits{MaxPositionSize: 0.10})
	account.Positions["BTCUSDT"] = &domain.Position{Symbol: "BTCUSDT", Quantity: 8, AvgEntryPrice: 100}
	account.CashBalance = 10000 - 8*100

	// Existing 8 + 5 more = 13 units = $1,300 notional > 10% of $10,000 equity.
	res := eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 5), 100, flatPrice(100))
	if res.Allowed {
		t.Fatal("Expected rejection when the resulting position exceeds the cap")
	}
	if res.Reason != ReasonPositionSizeExceeded {
		t.Errorf("Expected reason %s, got %s", ReasonPositionSizeExceeded, res.Reason)
	}

	// A reducing sell shrinks the resulting notional and passes.
	res = eval.Evaluate(account, marketOrder("BTCUSDT", domain.Sell, 5), 100, flatPrice(100))
	if !res.Allowed {
		t.Errorf("Expected reducing order to pass, got %s: %s", res.Reason, res.Message)
	}
}

func TestEvaluateDailyLossLimit(t *testing.T) {
	eval := NewEvaluator()
	account := testAccount(10000, domain.RiskLimits{MaxDailyLoss: 300})
	account.DailyRealizedPnL = -250

	// Realized -250 plus unrealized -100 breaches the 300 limit.
	account.Positions["ETHUSDT"] = &domain.Position{Symbol: "ETHUSDT", Quantity: 10, AvgEntryPrice: 100}
	account.CashBalance = 10000 - 250 - 10*100

	res := eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 1), 50, flatPrice(90))
	if res.Allowed {
		t.Fatal("Expected rejection when projected daily loss breaches the limit")
	}
	if res.Reason != ReasonDailyLossLimitHit {
		t.Errorf("Expected reason %s, got %s", ReasonDailyLossLimitHit, res.Reason)
	}

	// With the unrealized loss recovered the projection passes.
	res = eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 1), 50, flatPrice(100))
	if !res.Allowed {
		t.Errorf("Expected order to pass once unrealized loss recovered, got %s: %s", res.Reason, res.Message)
	}
}

func TestEvaluateDrawdownLimit(t *testing.T) {
	eval := NewEvaluator()
	account := testAccount(10000, domain.RiskLimits{MaxDrawdown: 0.10})
	account.PeakEquity = 12000

	// Equity 10,000 from a 12,000 peak is a 16.7% drawdown.
	res := eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 1), 100, flatPrice(100))
	if res.Allowed {
		t.Fatal("Expected rejection when drawdown exceeds the limit")
	}
	if res.Reason != ReasonDrawdownLimitHit {
		t.Errorf("Expected reason %s, got %s", ReasonDrawdownLimitHit, res.Reason)
	}

	account.PeakEquity = 10500 // 4.8% drawdown
	res = eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 1), 100, flatPrice(100))
	if !res.Allowed {
		t.Errorf("Expected order within the drawdown limit to pass, got %s: %s", res.Reason, res.Message)
	}
}

func TestEvaluateLeverageLimit(t *testing.T) {
	eval := NewEvaluator()
	account := testAccount(1000, domain.RiskLimits{MaxLeverage: 2})

	// $3,000 notional at 2x needs $1,500 cash; only $1,000 available.
	res := eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 30), 100, flatPrice(100))
	if res.Allowed {
		t.Fatal("Expected rejection when leverage requirement exceeds cash")
	}
	if res.Reason != ReasonLeverageExceeded {
		t.Errorf("Expected reason %s, got %s", ReasonLeverageExceeded, res.Reason)
	}

	// $2,000 notional at 2x needs exactly the $1,000 available.
	res = eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 20), 100, flatPrice(100))
	if !res.Allowed {
		t.Errorf("Expected order at exactly the leverage limit to pass, got %s: %s", res.Reason, res.Message)
	}
}

func TestEvaluateZeroLimitsDisableRules(t *testing.T) {
	eval := NewEvaluator()
	account := testAccount(100, domain.RiskLimits{})
	account.PeakEquity = 1000000
	account.DailyRealizedPnL = -99999

	// Oversized in every dimension, but no limit is configured.
	res := eval.Evaluate(account, marketOrder("BTCUSDT", domain.Buy, 1000), 100, flatPrice(100))
	if !res.Allowed {
		t.Errorf("Expected zero limits to disable all checks, got %s: %s", res.Reason, res.Message)
	}
}

// The rule chain is ordered: an order violating several rules always reports
// the first violated rule.
func TestEvaluateRuleOrder(t *testing.T) {
	eval := NewEvaluator()
	limits := domain.RiskLimits{
		MaxPositionSize: 0.01,
		MaxDailyLoss:    1,
		MaxDrawdown:     0.01,
		MaxLeverage:     1,
		AllowedSymbols:  []string{"ETHUSDT"},
	}
	account := testAccount(100, limits)
	account.PeakEquity = 10000
	account.DailyRealizedPnL = -5000

	order := marketOrder("BTCUSDT", domain.Buy, 1000)
	res := eval.Evaluate(account, order, 100, flatPrice(100))
	if res.Reason != ReasonSymbolNotAllowed {
		t.Errorf("Expected first rule in the chain to win, got %s", res.Reason)
	}

	// Allow the symbol; the size rule is next.
	account.Limits.AllowedSymbols = nil
	res = eval.Evaluate(account, order, 100, flatPrice(100))
	if res.Reason != ReasonPositionSizeExceeded {
		t.Errorf("Expected position size rule after whitelist, got %s", res.Reason)
	}

	// Identical inputs yield identical results.
	again := eval.Evaluate(account, order, 100, flatPrice(100))
	if again != res {
		t.Errorf("Expected deterministic result, got %+v then %+v", res, again)
	}
}
