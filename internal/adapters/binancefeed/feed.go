// Package binancefeed streams live Binance USD-M futures prices into the
// engine's tick pipeline. Each kline update carries the latest close, which
// is what the strategies consume; reconnects are handled per symbol with
// exponential backoff.
package binancefeed

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultInterval          = "1m"
	defaultBuffer            = 512
	defaultReconnectDelay    = 1 * time.Second
	defaultReconnectAttempts = 10
)

// Feed implements ports.PriceFeed backed by Binance kline streams.
type Feed struct {
	client               *futures.Client
	logger               ports.Logger
	interval             string
	buffer               int
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration for the Binance feed adapter.
type Config struct {
	APIKey               string // Optional; market data endpoints are public
	SecretKey            string
	UseTestnet           bool
	Interval             string        // Kline interval driving tick cadence (e.g. "1m")
	Buffer               int           // Tick channel capacity
	ReconnectDelay       time.Duration // Base reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts per symbol before giving up
	Logger               ports.Logger
}

// New creates a new Binance feed adapter.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for Binance feed", ports.ErrInvalidConfiguration)
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance feed configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
	}

	interval := cfg.Interval
	if interval == "" {
		interval = defaultInterval
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultReconnectAttempts
	}

	return &Feed{
		client:               client,
		logger:               cfg.Logger,
		interval:             interval,
		buffer:               buffer,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// Ping checks connectivity to the exchange API.
func (f *Feed) Ping(ctx context.Context) error {
	if err := f.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("%w: binance ping: %w", ports.ErrConnectionFailed, err)
	}
	return nil
}

// LastPrice fetches the current ticker price over REST. Used to warm the
// quote cache before the first stream update lands.
func (f *Feed) LastPrice(ctx context.Context, symbol string) (float64, error) {
	stats, err := f.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: ticker request for %s: %w", ports.ErrFeedUnavailable, symbol, err)
	}
	if len(stats) == 0 {
		return 0, fmt.Errorf("%w: no ticker data returned for %s", ports.ErrPriceUnavailable, symbol)
	}
	price, err := strconv.ParseFloat(stats[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse price '%s' for %s: %w", stats[0].LastPrice, symbol, err)
	}
	return price, nil
}

// Subscribe starts one kline stream per symbol and fans them into a single
// tick channel. The channel closes once every stream has shut down, either
// through ctx cancellation or after exhausting reconnect attempts.
func (f *Feed) Subscribe(ctx context.Context, symbols []string) (<-chan domain.PriceTick, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols to stream", ports.ErrInvalidConfiguration)
	}

	ticks := make(chan domain.PriceTick, f.buffer)
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			f.streamSymbol(ctx, symbol, ticks)
		}(symbol)
	}
	go func() {
		wg.Wait()
		close(ticks)
	}()

	f.logger.Info(ctx, "Price feed subscribed", map[string]interface{}{
		"symbols":  symbols,
		"interval": f.interval,
	})
	return ticks, nil
}

// streamSymbol keeps one symbol's stream alive until ctx is done or the
// reconnect budget is spent.
func (f *Feed) streamSymbol(ctx context.Context, symbol string, ticks chan<- domain.PriceTick) {
	handler := func(event *futures.WsKlineEvent) {
		if event == nil {
			return
		}
		price, err := strconv.ParseFloat(event.Kline.Close, 64)
		if err != nil {
			f.logger.Error(ctx, err, "Failed to parse kline close price", map[string]interface{}{
				"symbol": symbol,
				"raw":    event.Kline.Close,
			})
			return
		}
		tick := domain.PriceTick{
			Symbol:    event.Kline.Symbol,
			Price:     price,
			Timestamp: time.UnixMilli(event.Time),
		}
		select {
		case ticks <- tick:
		default:
			// Dropping is safer than stalling the socket reader.
			f.logger.Debug(ctx, "Tick dropped, feed buffer full", map[string]interface{}{"symbol": symbol})
		}
	}
	errHandler := func(err error) {
		f.logger.Warn(ctx, "WebSocket error reported", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			f.logger.Info(ctx, "Price stream stopped", map[string]interface{}{"symbol": symbol})
			return
		default:
		}

		doneCh, stopCh, err := futures.WsKlineServe(symbol, f.interval, handler, errHandler)
		if err != nil {
			attempt++
			if attempt >= f.maxReconnectAttempts {
				f.logger.Error(ctx, err, "Max reconnection attempts exceeded, giving up on symbol", map[string]interface{}{
					"symbol":      symbol,
					"maxAttempts": f.maxReconnectAttempts,
				})
				return
			}
			delay := f.backoff(attempt)
			f.logger.Warn(ctx, "Stream connection failed, retrying", map[string]interface{}{
				"symbol":  symbol,
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   err.Error(),
			})
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}
		}

		f.logger.Info(ctx, "Price stream connected", map[string]interface{}{
			"symbol":   symbol,
			"interval": f.interval,
		})
		attempt = 0

		select {
		case <-doneCh:
			f.logger.Warn(ctx, "Price stream closed upstream, reconnecting", map[string]interface{}{"symbol": symbol})
		case <-ctx.Done():
			select {
			case stopCh <- struct{}{}:
			default:
			}
			f.logger.Info(ctx, "Price stream stopped", map[string]interface{}{"symbol": symbol})
			return
		}
	}
}

// backoff grows exponentially with up to 10% jitter.
func (f *Feed) backoff(attempt int) time.Duration {
	delay := f.reconnectDelay * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}
