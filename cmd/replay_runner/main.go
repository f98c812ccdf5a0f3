package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"papertrader/config"
	"papertrader/internal/adapters/llmclient"
	"papertrader/internal/adapters/logger"
	"papertrader/internal/adapters/replayfeed"
	"papertrader/internal/domain"
	"papertrader/internal/engine"
	"papertrader/internal/execution"
	"papertrader/internal/export"
	"papertrader/internal/ledger"
	"papertrader/internal/registry"
	"papertrader/internal/risk"
	"papertrader/internal/strategy"
)

// replay_runner replays a tick recording through the full trading pipeline
// with the configured agents, prints each agent's performance report and
// exports the executed trades to parquet. Nothing is mirrored to SQLite or
// the REST backend; a replay leaves no trace outside its export file.

var (
	configPath = flag.String("config", "", "Path to the YAML configuration file (must declare agents)")
	replayFile = flag.String("file", "", "Tick CSV to replay (defaults to feed.replay.path)")
	speed      = flag.Float64("speed", 0, "Playback speed multiplier (defaults to feed.replay.speed)")
	exportPath = flag.String("export", "", "Parquet path for executed trades (defaults to data/replay_trades_<timestamp>.parquet)")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if len(cfg.Agents) == 0 {
		log.Fatalf("FATAL: No agents configured; a replay needs at least one agent")
	}
	path := cfg.Feed.Replay.Path
	if *replayFile != "" {
		path = *replayFile
	}
	if path == "" {
		log.Fatalf("FATAL: No replay file; pass -file or set feed.replay.path")
	}
	playbackSpeed := cfg.Feed.Replay.Speed
	if *speed > 0 {
		playbackSpeed = *speed
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.Logging.LogLevel())

	// 3. Assemble the Pipeline
	quotes := engine.NewQuoteCache()
	book, err := ledger.New(ledger.Config{
		Quotes:       quotes,
		Logger:       appLogger,
		RiskFreeRate: cfg.Metrics.RiskFreeRate,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}

	var decision strategy.DecisionClient
	if cfg.Decision.Enabled() {
		client, err := llmclient.New(llmclient.Config{
			BaseURL: cfg.Decision.BaseURL,
			APIKey:  cfg.Decision.APIKey,
			Model:   cfg.Decision.Model,
			Timeout: cfg.Decision.Timeout(),
			Logger:  appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize decision client: %v", err)
		}
		decision = client
	}
	factory, err := strategy.NewFactory(appLogger, decision)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize strategy factory: %v", err)
	}
	agents, err := registry.New(registry.Config{
		Accounts:      book,
		Factory:       factory.New,
		Logger:        appLogger,
		DefaultLimits: cfg.Limits.ToDomain(),
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize agent registry: %v", err)
	}
	executor, err := execution.New(execution.Config{
		Costs: execution.Costs{
			SlippageRate:   cfg.Execution.SlippageRate,
			CommissionRate: cfg.Execution.CommissionRate,
		},
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize executor: %v", err)
	}

	feed, err := replayfeed.New(replayfeed.Config{
		Path:   path,
		Speed:  playbackSpeed,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize replay feed: %v", err)
	}

	eng, err := engine.New(engine.Config{
		Feed:        feed,
		Quotes:      quotes,
		Ledger:      book,
		Registry:    agents,
		Risk:        risk.NewEvaluator(),
		Executor:    executor,
		Logger:      appLogger,
		Workers:     cfg.Engine.Workers,
		EvalTimeout: cfg.Engine.EvalTimeout(),
		EventBuffer: cfg.Engine.EventBuffer,
		HistorySize: cfg.Engine.HistorySize,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to assemble engine: %v", err)
	}

	// 4. Create Configured Agents
	for _, spec := range cfg.Agents {
		var limits *domain.RiskLimits
		if spec.Limits != nil {
			l := spec.Limits.ToDomain()
			limits = &l
		}
		if _, err := eng.CreateAgent(ctx, registry.AgentConfig{
			Name:           spec.Name,
			Strategy:       domain.StrategyType(spec.Strategy),
			Params:         domain.StrategyParams(spec.Params),
			Symbols:        spec.Symbols,
			InitialCapital: spec.InitialCapital,
			Limits:         limits,
		}); err != nil {
			log.Fatalf("FATAL: Failed to create agent %q: %v", spec.Name, err)
		}
	}

	// 5. Replay Until the Recording Ends
	started := time.Now()
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("FATAL: Failed to start engine: %v", err)
	}
	select {
	case <-eng.Done():
	case <-ctx.Done():
		appLogger.Warn(context.Background(), "Replay interrupted")
	}
	eng.Stop()
	appLogger.Info(context.Background(), "Replay complete", map[string]interface{}{
		"file":    path,
		"speed":   playbackSpeed,
		"elapsed": time.Since(started).String(),
	})

	// 6. Report Per Agent
	reportCtx := context.Background()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Agent\tTrades\tWinRate\tPnL\tFees\tROI\tMaxDD\tSharpe\t")

	var all []*domain.Trade
	for _, agent := range eng.ListAgents(reportCtx) {
		trades, err := eng.TradeHistory(reportCtx, agent.AccountID, 0)
		if err != nil {
			appLogger.Error(reportCtx, err, "Failed to read trade history", map[string]interface{}{"agent": agent.Name})
			continue
		}
		account, err := eng.Account(reportCtx, agent.AccountID)
		if err != nil {
			appLogger.Error(reportCtx, err, "Failed to read account", map[string]interface{}{"agent": agent.Name})
			continue
		}
		report := ledger.AnalyzeTrades(trades, account.InitialCapital, cfg.Metrics.RiskFreeRate)
		fmt.Fprintf(w, "%s\t%d\t%.2f%%\t%.2f\t%.2f\t%.2f%%\t%.2f%%\t%.2f\t\n",
			agent.Name,
			report.TotalTrades,
			report.WinRate*100,
			report.TotalPnL,
			report.TotalFees,
			report.ReturnOnInvestment*100,
			report.MaxDrawdown*100,
			report.SharpeRatio,
		)
		all = append(all, trades...)
	}
	w.Flush()

	// 7. Export Executed Trades
	if len(all) == 0 {
		appLogger.Warn(reportCtx, "No trades executed; skipping export")
		return
	}
	out := *exportPath
	if out == "" {
		out = fmt.Sprintf("data/replay_trades_%s.parquet", time.Now().UTC().Format("20060102_150405"))
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Error creating export directory: %v", err)
		}
	}
	if err := export.WriteTrades(out, all); err != nil {
		log.Fatalf("Error exporting trades: %v", err)
	}
	appLogger.Info(reportCtx, "Trades exported", map[string]interface{}{
		"filename": out,
		"trades":   len(all),
	})
}
