package risk

import (
	"fmt"
	"math"

	"papertrader/internal/domain"
)

// Reason identifies the rule that rejected an order.
type Reason string

const (
	ReasonSymbolNotAllowed     Reason = "SymbolNotAllowed"
	ReasonPositionSizeExceeded Reason = "PositionSizeExceeded"
	ReasonDailyLossLimitHit    Reason = "DailyLossLimitHit"
	ReasonDrawdownLimitHit     Reason = "DrawdownLimitHit"
	ReasonLeverageExceeded     Reason = "LeverageExceeded"
)

// Result is the outcome of evaluating one order against account limits.
// A rejection is a routine result, not an error: the Message is surfaced
// to operators as-is.
type Result struct {
	Allowed bool
	Reason  Reason // Empty when Allowed
	Message string // Human-readable rule violation, empty when Allowed
}

func allow() Result {
	return Result{Allowed: true}
}

func reject(reason Reason, format string, args ...interface{}) Result {
	return Result{Allowed: false, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Evaluator checks prospective orders against per-account risk limits.
// It is stateless and side-effect free: every call works only on the
// snapshots it is given, so identical inputs always yield identical results.
type Evaluator struct{}

// NewEvaluator returns a stateless risk evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate runs the rule chain in fixed order and stops at the first
// violation:
//
//	1. symbol whitelist
//	2. max position size (fraction of equity)
//	3. max daily loss (realized plus current unrealized)
//	4. max drawdown from peak equity
//	5. max leverage against available cash
//
// A zero limit disables its rule; an empty whitelist allows every symbol.
// currentPrice is the tick price for the order's symbol; markPrice supplies
// prices for the account's other open symbols.
func (e *Evaluator) Evaluate(account *domain.Account, order *domain.Order, currentPrice float64, markPrice func(symbol string) float64) Result {
	limits := account.Limits

	// Rule 1: symbol whitelist.
	if !limits.SymbolAllowed(order.Symbol) {
		return reject(ReasonSymbolNotAllowed, "symbol %s is not in the allowed list", order.Symbol)
	}

	resulting := resultingQuantity(account, order)
	resultingNotional := math.Abs(resulting) * currentPrice
	equity := account.Equity(markPrice)

	// Rule 2: resulting position size as a fraction of equity.
	if limits.MaxPositionSize > 0 {
		maxNotional := limits.MaxPositionSize * equity
		if resultingNotional > maxNotional {
			return reject(ReasonPositionSizeExceeded,
				"resulting notional %.2f exceeds maximum allowed %.2f (%.0f%% of equity %.2f)",
				resultingNotional, maxNotional, limits.MaxPositionSize*100, equity)
		}
	}

	// Rule 3: projected daily loss. The prospective market order itself
	// contributes no instant P&L, so the projection is today's realized
	// plus the current unrealized P&L.
	if limits.MaxDailyLoss > 0 {
		projected := account.DailyRealizedPnL + account.UnrealizedPnL(markPrice)
		if -projected > limits.MaxDailyLoss {
			return reject(ReasonDailyLossLimitHit,
				"projected daily loss %.2f exceeds maximum allowed %.2f", -projected, limits.MaxDailyLoss)
		}
	}

	// Rule 4: drawdown from peak equity.
	if limits.MaxDrawdown > 0 && account.PeakEquity > 0 {
		drawdown := (account.PeakEquity - equity) / account.PeakEquity
		if drawdown > limits.MaxDrawdown {
			return reject(ReasonDrawdownLimitHit,
				"drawdown %.2f%% exceeds maximum allowed %.2f%%", drawdown*100, limits.MaxDrawdown*100)
		}
	}

	// Rule 5: leverage against available cash.
	if limits.MaxLeverage > 0 {
		required := resultingNotional / limits.MaxLeverage
		if required > account.CashBalance {
			return reject(ReasonLeverageExceeded,
				"notional %.2f at %gx leverage requires %.2f cash, available %.2f",
				resultingNotional, limits.MaxLeverage, required, account.CashBalance)
		}
	}

	return allow()
}

// resultingQuantity returns the signed position size the account would hold
// in the order's symbol after a full fill.
func resultingQuantity(account *domain.Account, order *domain.Order) float64 {
	var existing float64
	if pos := account.Position(order.Symbol); pos != nil {
		existing = pos.Quantity
	}
	if order.Side == domain.Sell {
		return existing - order.Quantity
	}
	return existing + order.Quantity
}
