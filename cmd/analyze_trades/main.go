package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"papertrader/internal/domain"
	"papertrader/internal/export"
	"papertrader/internal/ledger"
)

// analyze_trades reconstructs a performance report from a parquet trade
// export produced by replay_runner and breaks results down by strategy tag,
// which separates protective exits from strategy-driven fills.

var (
	filePath = flag.String("file", "", "Parquet trade export to analyze")
	capital  = flag.Float64("capital", 10000, "Initial capital the trades ran against")
	riskFree = flag.Float64("risk-free", 0.02, "Risk-free rate used for the Sharpe ratio")
)

func main() {
	flag.Parse()

	if *filePath == "" {
		log.Fatalf("Usage: analyze_trades -file <trades.parquet> [-capital 10000] [-risk-free 0.02]")
	}

	trades, err := export.ReadTrades(*filePath)
	if err != nil {
		log.Fatalf("Error reading trades from %s: %v", *filePath, err)
	}
	if len(trades) == 0 {
		log.Println("No trades in export; nothing to analyze.")
		return
	}

	report := ledger.AnalyzeTrades(trades, *capital, *riskFree)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Metric\tValue\t")
	fmt.Fprintf(w, "Trades\t%d\t\n", report.TotalTrades)
	fmt.Fprintf(w, "Winning\t%d\t\n", report.WinningTrades)
	fmt.Fprintf(w, "Losing\t%d\t\n", report.LosingTrades)
	fmt.Fprintf(w, "Win Rate\t%.2f%%\t\n", report.WinRate*100)
	fmt.Fprintf(w, "Total PnL\t%.2f\t\n", report.TotalPnL)
	fmt.Fprintf(w, "Total Fees\t%.2f\t\n", report.TotalFees)
	fmt.Fprintf(w, "Final Equity\t%.2f\t\n", report.FinalEquity)
	fmt.Fprintf(w, "ROI\t%.2f%%\t\n", report.ReturnOnInvestment*100)
	fmt.Fprintf(w, "Profit Factor\t%.2f\t\n", report.ProfitFactor)
	fmt.Fprintf(w, "Avg Win\t%.2f\t\n", report.AverageWin)
	fmt.Fprintf(w, "Avg Loss\t%.2f\t\n", report.AverageLoss)
	fmt.Fprintf(w, "Expectancy\t%.2f\t\n", report.Expectancy)
	fmt.Fprintf(w, "Sharpe\t%.2f\t\n", report.SharpeRatio)
	fmt.Fprintf(w, "Max Drawdown\t%.2f%%\t\n", report.MaxDrawdown*100)
	fmt.Fprintf(w, "Max Consecutive Wins\t%d\t\n", report.MaxConsecutiveWins)
	fmt.Fprintf(w, "Max Consecutive Losses\t%d\t\n", report.MaxConsecutiveLosses)
	w.Flush()

	fmt.Println("\n## Strategy Tag Breakdown")
	analyzeByTag(trades)
}

// tagStats aggregates fills that share a strategy tag.
type tagStats struct {
	count int
	pnl   float64
	fees  float64
}

// analyzeByTag groups fills by the tag that placed them. Stop-loss and
// take-profit tags expose how much of the result protective exits produced.
func analyzeByTag(trades []*domain.Trade) {
	stats := make(map[string]*tagStats)
	for _, trade := range trades {
		s, ok := stats[trade.StrategyTag]
		if !ok {
			s = &tagStats{}
			stats[trade.StrategyTag] = s
		}
		s.count++
		s.pnl += trade.RealizedPnL
		s.fees += trade.Fees
	}

	tags := make([]string, 0, len(stats))
	for tag := range stats {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Tag\tCount\tTotal PnL\tAvg PnL\tFees\t")
	for _, tag := range tags {
		s := stats[tag]
		avg := 0.0
		if s.count > 0 {
			avg = s.pnl / float64(s.count)
		}
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t\n", tag, s.count, s.pnl, avg, s.fees)
	}
	w.Flush()
}
