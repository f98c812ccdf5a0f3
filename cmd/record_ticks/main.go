package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"papertrader/config"
	"papertrader/internal/adapters/binancefeed"
	"papertrader/internal/adapters/logger"
	"papertrader/internal/domain"
	"papertrader/internal/utils"
)

// record_ticks captures live market ticks to a CSV file that the replay
// feed and replay_runner consume.

var (
	configPath = flag.String("config", "", "Path to the YAML configuration file")
	symbolList = flag.String("symbols", "", "Comma-separated symbols to record (defaults to feed.symbols)")
	duration   = flag.Duration("duration", 15*time.Minute, "Recording length")
	outPath    = flag.String("out", "", "Output CSV path (defaults to data/ticks_<timestamp>.csv)")
)

func main() {
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.Logging.LogLevel())

	// 3. Resolve Symbols
	symbols := cfg.Feed.Symbols
	if *symbolList != "" {
		symbols = splitSymbols(*symbolList)
	}
	if len(symbols) == 0 {
		log.Fatalf("FATAL: No symbols to record; pass -symbols or set feed.symbols")
	}

	// 4. Initialize Price Feed
	feed, err := binancefeed.New(binancefeed.Config{
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
		log.Fatalf("FATAL: Failed to initialize Binance feed: %v", err)
	}

	// 5. Record until the duration elapses; the feed closes the channel.
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	ticks, err := feed.Subscribe(ctx, symbols)
	if err != nil {
		log.Fatalf("FATAL: Failed to subscribe to price stream: %v", err)
	}

	fmt.Printf("Recording %s at interval %s for %s...\n", strings.Join(symbols, ", "), cfg.Feed.Binance.Interval, *duration)
	var recorded []domain.PriceTick
	for tick := range ticks {
		recorded = append(recorded, tick)
	}

	// 6. Write Recording
	filename := *outPath
	if filename == "" {
		filename = fmt.Sprintf("data/ticks_%s.csv", time.Now().UTC().Format("20060102_150405"))
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Error creating output directory: %v", err)
		}
	}
	if err := utils.WriteTicksToCSV(recorded, filename); err != nil {
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(context.Background(), "Recording saved", map[string]interface{}{
		"filename": filename,
		"ticks":    len(recorded),
	})
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}
