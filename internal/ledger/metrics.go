package ledger

import (
	"context"
	"math"
	"sort"
	"time"

	"papertrader/internal/domain"
)

// Metrics is the point-in-time performance view of one account, derived
// entirely from ledger state and current quotes.
type Metrics struct {
	AccountID     string
	Equity        float64
	CashBalance   float64
	TotalPnL      float64 // Realized plus unrealized
	RealizedPnL   float64
	UnrealizedPnL float64
	WinRate       float64 // WinningTrades / max(TotalTrades, 1)
	SharpeRatio   float64 // Mean excess per-fill return over its sample standard deviation
	MaxDrawdown   float64 // Deepest peak-to-equity decline observed at fill boundaries
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
}

// ComputeMetrics derives the account's current performance metrics.
// The computation is a pure read: calling it never changes state, and two
// calls without an intervening fill return identical values.
func (l *Ledger) ComputeMetrics(ctx context.Context, accountID string) (*Metrics, error) {
	state, err := l.state(accountID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	acct := state.account
	markPrice := l.markPriceFunc(acct, nil)
	unrealized := acct.UnrealizedPnL(markPrice)

	returns := make([]float64, len(state.trades))
	for i, trade := range state.trades {
		returns[i] = trade.Return
	}

	return &Metrics{
		AccountID:     acct.ID,
		Equity:        acct.Equity(markPrice),
		CashBalance:   acct.CashBalance,
		TotalPnL:      acct.TotalRealizedPnL + unrealized,
		RealizedPnL:   acct.TotalRealizedPnL,
		UnrealizedPnL: unrealized,
		WinRate:       float64(acct.WinningTrades) / math.Max(float64(acct.TotalTrades), 1),
		SharpeRatio:   sharpeRatio(returns, l.riskFreeRate),
		MaxDrawdown:   acct.MaxDrawdown,
		TotalTrades:   acct.TotalTrades,
		WinningTrades: acct.WinningTrades,
		LosingTrades:  acct.LosingTrades,
	}, nil
}

// sharpeRatio computes the annualization-free Sharpe ratio of the given
// per-fill return observations against a fixed risk-free hurdle. Fewer than
// two observations, or a flat series, yield 0.
func sharpeRatio(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return (mean - riskFree) / stdDev
}

// Report holds the extended performance breakdown computed offline from an
// exported trade history. Win/loss buckets cover only fills that closed
// quantity, so the counts match the live account counters exactly.
type Report struct {
	TotalTrades          int
	WinningTrades        int
	LosingTrades         int
	WinRate              float64 // Winners over all fills, as in the live metrics
	TotalPnL             float64 // Sum of net realized deltas
	TotalFees            float64
	FinalEquity          float64 // Initial capital plus cumulative realized P&L
	ReturnOnInvestment   float64
	ProfitFactor         float64 // Gross wins over gross losses
	AverageWin           float64
	AverageLoss          float64
	Expectancy           float64 // Expected net P&L per closing fill
	SharpeRatio          float64
	MaxDrawdown          float64 // On the realized equity curve
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	EquityCurve          []EquityPoint
}

// EquityPoint is one step of the realized equity curve.
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzeTrades reconstructs a performance report from a trade history and
// the account's initial capital. The input order does not matter; trades are
// sorted by execution time before processing.
func AnalyzeTrades(trades []*domain.Trade, initialCapital, riskFreeRate float64) *Report {
	report := &Report{
		FinalEquity: initialCapital,
		EquityCurve: make([]EquityPoint, 0, len(trades)),
	}
	if len(trades) == 0 {
		return report
	}

	sorted := make([]*domain.Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ExecutedAt.Before(sorted[j].ExecutedAt)
	})

	equity := initialCapital
	peak := initialCapital
	returns := make([]float64, 0, len(sorted))
	var grossWins, grossLosses float64
	var consecutiveWins, consecutiveLosses int

	for _, trade := range sorted {
		report.TotalTrades++
		report.TotalPnL += trade.RealizedPnL
		report.TotalFees += trade.Fees
		returns = append(returns, trade.Return)

		if trade.ClosedQty > 0 {
			switch {
			case trade.RealizedPnL > 0:
				report.WinningTrades++
				grossWins += trade.RealizedPnL
				consecutiveWins++
				consecutiveLosses = 0
			case trade.RealizedPnL < 0:
				report.LosingTrades++
				grossLosses += -trade.RealizedPnL
				consecutiveLosses++
				consecutiveWins = 0
			}
			if consecutiveWins > report.MaxConsecutiveWins {
				report.MaxConsecutiveWins = consecutiveWins
			}
			if consecutiveLosses > report.MaxConsecutiveLosses {
				report.MaxConsecutiveLosses = consecutiveLosses
			}
		}

		equity += trade.RealizedPnL
		if equity > peak {
			peak = equity
		}
		var drawdown float64
		if peak > 0 {
			drawdown = (peak - equity) / peak
		}
		if drawdown > report.MaxDrawdown {
			report.MaxDrawdown = drawdown
		}
		report.EquityCurve = append(report.EquityCurve, EquityPoint{
			Time:     trade.ExecutedAt,
			Value:    equity,
			Drawdown: drawdown,
		})
	}

	report.FinalEquity = equity
	report.WinRate = float64(report.WinningTrades) / math.Max(float64(report.TotalTrades), 1)
	if initialCapital > 0 {
		report.ReturnOnInvestment = (equity - initialCapital) / initialCapital
	}
	if report.WinningTrades > 0 {
		report.AverageWin = grossWins / float64(report.WinningTrades)
	}
	if report.LosingTrades > 0 {
		report.AverageLoss = -grossLosses / float64(report.LosingTrades)
	}
	if grossLosses > 0 {
		report.ProfitFactor = grossWins / grossLosses
	}
	if closed := report.WinningTrades + report.LosingTrades; closed > 0 {
		closingWinRate := float64(report.WinningTrades) / float64(closed)
		report.Expectancy = closingWinRate*report.AverageWin + (1-closingWinRate)*report.AverageLoss
	}
	report.SharpeRatio = sharpeRatio(returns, riskFreeRate)
	return report
}
