package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"papertrader/config"
	"papertrader/internal/adapters/binancefeed"
	"papertrader/internal/adapters/llmclient"
	"papertrader/internal/adapters/logger"
	"papertrader/internal/adapters/replayfeed"
	"papertrader/internal/adapters/restmirror"
	"papertrader/internal/adapters/sqlite"
	"papertrader/internal/adapters/wsgateway"
	"papertrader/internal/domain"
	"papertrader/internal/engine"
	"papertrader/internal/execution"
	"papertrader/internal/ledger"
	"papertrader/internal/mirror"
	"papertrader/internal/ports"
	"papertrader/internal/registry"
	"papertrader/internal/risk"
	"papertrader/internal/strategy"
)

const appVersion = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "papertrader",
		Short: "Concurrent paper-trading engine with pluggable strategy agents",
		Long: `papertrader runs simulated trading agents against a live or replayed
price feed. Fills, fees and slippage are simulated; account state lives in
an in-memory ledger mirrored to SQLite and an optional REST backend. An
HTTP/WebSocket gateway exposes accounts, orders and a live event stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), configPath)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML configuration file (environment overrides apply regardless)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the engine, price feed and API gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), configPath)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("papertrader v%s\n", appVersion)
		},
	})

	return rootCmd
}

// runApp wires the full pipeline and blocks until a shutdown signal.
// Components stop in reverse start order: gateway, engine, mirror queue,
// SQLite store.
func runApp(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.Logging.LogLevel())
	appLogger.Info(ctx, "Starting papertrader", map[string]interface{}{
		"version":    appVersion,
		"feedSource": cfg.Feed.Source,
		"logLevel":   cfg.Logging.Level,
	})

	// 3. Initialize Ledger (in-memory source of truth) and quote cache
	quotes := engine.NewQuoteCache()
	book, err := ledger.New(ledger.Config{
		Quotes:       quotes,
		Logger:       appLogger,
		RiskFreeRate: cfg.Metrics.RiskFreeRate,
	})
	if err != nil {
		return fmt.Errorf("initializing ledger: %w", err)
	}

	// 4. Initialize Strategy Factory (with the decision client when an
	// external service is configured; external_ai agents fail without one)
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
			return fmt.Errorf("initializing decision client: %w", err)
		}
		decision = client
		appLogger.Info(ctx, "Decision service client initialized", map[string]interface{}{"baseURL": cfg.Decision.BaseURL})
	}
	factory, err := strategy.NewFactory(appLogger, decision)
	if err != nil {
		return fmt.Errorf("initializing strategy factory: %w", err)
	}

	// 5. Initialize Agent Registry
	agents, err := registry.New(registry.Config{
		Accounts:      book,
		Factory:       factory.New,
		Logger:        appLogger,
		DefaultLimits: cfg.Limits.ToDomain(),
	})
	if err != nil {
		return fmt.Errorf("initializing agent registry: %w", err)
	}

	// 6. Initialize Risk Evaluator and Order Executor
	evaluator := risk.NewEvaluator()
	executor, err := execution.New(execution.Config{
		Costs: execution.Costs{
			SlippageRate:   cfg.Execution.SlippageRate,
			CommissionRate: cfg.Execution.CommissionRate,
		},
		Logger: appLogger,
	})
	if err != nil {
		return fmt.Errorf("initializing executor: %w", err)
	}

	// 7. Initialize Mirror Sinks and Queue (SQLite always, REST optional)
	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.Storage.SQLitePath,
		Logger: appLogger,
	})
	if err != nil {
		return fmt.Errorf("initializing SQLite store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing SQLite store")
		}
	}()
	appLogger.Info(ctx, "SQLite store initialized", map[string]interface{}{"path": cfg.Storage.SQLitePath})

	sinks := []ports.MirrorSink{store}
	if cfg.Mirror.Enabled() {
		rest, err := restmirror.New(restmirror.Config{
			BaseURL: cfg.Mirror.BaseURL,
			APIKey:  cfg.Mirror.APIKey,
			Timeout: cfg.Mirror.Timeout(),
			Logger:  appLogger,
		})
		if err != nil {
			return fmt.Errorf("initializing REST mirror: %w", err)
		}
		sinks = append(sinks, rest)
		appLogger.Info(ctx, "REST mirror initialized", map[string]interface{}{"baseURL": cfg.Mirror.BaseURL})
	}

	queue, err := mirror.New(mirror.Config{
		Sinks:    sinks,
		Logger:   appLogger,
		Capacity: cfg.Engine.MirrorQueue,
	})
	if err != nil {
		return fmt.Errorf("initializing mirror queue: %w", err)
	}
	queue.Start()
	defer queue.Stop()

	// 8. Initialize Price Feed
	var feed ports.PriceFeed
	if cfg.Feed.Source == config.FeedReplay {
		feed, err = replayfeed.New(replayfeed.Config{
			Path:   cfg.Feed.Replay.Path,
			Speed:  cfg.Feed.Replay.Speed,
			Logger: appLogger,
		})
		if err != nil {
			return fmt.Errorf("initializing replay feed: %w", err)
		}
	} else {
		bf, err := binancefeed.New(binancefeed.Config{
			APIKey:               cfg.Feed.Binance.APIKey,
			SecretKey:            cfg.Feed.Binance.SecretKey,
			UseTestnet:           cfg.Feed.Binance.Testnet,
			Interval:             cfg.Feed.Binance.Interval,
			Buffer:               cfg.Feed.Binance.BufferSize,
			ReconnectDelay:       cfg.Feed.Binance.ReconnectDelay(),
			MaxReconnectAttempts: cfg.Feed.Binance.MaxReconnectAttempts,
			Logger:               appLogger,
		})
		if err != nil {
			return fmt.Errorf("initializing binance feed: %w", err)
		}
		if err := bf.Ping(ctx); err != nil {
			return fmt.Errorf("checking exchange connectivity: %w", err)
		}
		warmQuotes(ctx, bf, quotes, trackedSymbols(cfg), appLogger)
		feed = bf
	}

	// 9. Assemble Engine
	eng, err := engine.New(engine.Config{
		Feed:        feed,
		Quotes:      quotes,
		Ledger:      book,
		Registry:    agents,
		Risk:        evaluator,
		Executor:    executor,
		Mirror:      queue,
		Logger:      appLogger,
		Workers:     cfg.Engine.Workers,
		EvalTimeout: cfg.Engine.EvalTimeout(),
		EventBuffer: cfg.Engine.EventBuffer,
		HistorySize: cfg.Engine.HistorySize,
	})
	if err != nil {
		return fmt.Errorf("assembling engine: %w", err)
	}

	// 10. Create Configured Agents (before Start so the feed tracks their symbols)
	for _, spec := range cfg.Agents {
		var limits *domain.RiskLimits
		if spec.Limits != nil {
			l := spec.Limits.ToDomain()
			limits = &l
		}
		agent, err := eng.CreateAgent(ctx, registry.AgentConfig{
			Name:           spec.Name,
			Strategy:       domain.StrategyType(spec.Strategy),
			Params:         domain.StrategyParams(spec.Params),
			Symbols:        spec.Symbols,
			InitialCapital: spec.InitialCapital,
			Limits:         limits,
		})
		if err != nil {
			return fmt.Errorf("creating agent %q: %w", spec.Name, err)
		}
		appLogger.Info(ctx, "Agent created", map[string]interface{}{
			"agentID":  agent.ID,
			"name":     agent.Name,
			"strategy": string(agent.Strategy),
			"symbols":  agent.Symbols,
		})
	}

	// 11. Start Engine
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer eng.Stop()

	// 12. Start API Gateway
	gateway, err := wsgateway.New(wsgateway.Config{
		Addr:   cfg.Gateway.Addr,
		Engine: eng,
		Logger: appLogger,
	})
	if err != nil {
		return fmt.Errorf("initializing gateway: %w", err)
	}
	if err := gateway.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer gateway.Stop()

	appLogger.Info(ctx, "papertrader running", map[string]interface{}{"gatewayAddr": cfg.Gateway.Addr})

	<-ctx.Done()
	appLogger.Info(context.Background(), "Shutdown signal received; stopping components")
	return nil
}

// trackedSymbols unions the extra feed symbols with every configured agent's
// subscriptions, preserving first-seen order.
func trackedSymbols(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var symbols []string
	add := func(list []string) {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	add(cfg.Feed.Symbols)
	for _, agent := range cfg.Agents {
		add(agent.Symbols)
	}
	return symbols
}

// warmQuotes seeds the cache over REST so manual orders can price before
// the first stream update lands. Warmup failures are logged and skipped.
func warmQuotes(ctx context.Context, feed *binancefeed.Feed, quotes *engine.QuoteCache, symbols []string, appLogger ports.Logger) {
	for _, symbol := range symbols {
		price, err := feed.LastPrice(ctx, symbol)
		if err != nil {
			appLogger.Warn(ctx, "Quote warmup failed", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
			continue
		}
		quotes.Update(symbol, price)
	}
	if len(symbols) > 0 {
		appLogger.Info(ctx, "Quote cache warmed", map[string]interface{}{"symbols": symbols})
	}
}
