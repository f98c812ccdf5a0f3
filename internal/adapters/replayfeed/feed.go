// Package replayfeed replays recorded ticks from a CSV file as a price
// feed, preserving the recorded inter-tick gaps scaled by a speed factor.
// It drives the same engine pipeline as the live feed, which makes strategy
// behavior reproducible against captured market data.
package replayfeed

import (
	"context"
	"fmt"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
	"papertrader/internal/utils"
)

// Feed implements ports.PriceFeed from a tick recording.
type Feed struct {
	path   string
	speed  float64
	logger ports.Logger
}

// Config holds configuration for the replay feed.
type Config struct {
	Path   string  // Tick CSV produced by the recorder
	Speed  float64 // Playback speed multiplier; 1 = real time, 0 defaults to 1
	Logger ports.Logger
}

// New creates a replay feed. The file is read lazily on Subscribe.
func New(cfg Config) (*Feed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for replay feed", ports.ErrInvalidConfiguration)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: replay file path is required", ports.ErrInvalidConfiguration)
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = 1
	}
	return &Feed{path: cfg.Path, speed: speed, logger: cfg.Logger}, nil
}

// Subscribe loads the recording and streams the ticks for the requested
// symbols. Unlike the live feed, delivery blocks rather than drops: every
// recorded tick reaches the consumer, and the channel closes at end of
// file so the caller knows the replay finished.
func (f *Feed) Subscribe(ctx context.Context, symbols []string) (<-chan domain.PriceTick, error) {
	ticks, err := utils.ReadTicksFromCSV(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading replay file %s: %w", ports.ErrFeedUnavailable, f.path, err)
	}

	wanted := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		wanted[symbol] = true
	}
	selected := make([]domain.PriceTick, 0, len(ticks))
	for _, tick := range ticks {
		if len(wanted) == 0 || wanted[tick.Symbol] {
			selected = append(selected, tick)
		}
	}
	if len(selected) == 0 {
		f.logger.Warn(ctx, "Replay file has no ticks for requested symbols", map[string]interface{}{
			"path":    f.path,
			"symbols": symbols,
		})
	}

	f.logger.Info(ctx, "Replay started", map[string]interface{}{
		"path":  f.path,
		"ticks": len(selected),
		"speed": f.speed,
	})

	out := make(chan domain.PriceTick)
	go f.play(ctx, selected, out)
	return out, nil
}

func (f *Feed) play(ctx context.Context, ticks []domain.PriceTick, out chan<- domain.PriceTick) {
	defer close(out)

	var prev time.Time
	for _, tick := range ticks {
		if !prev.IsZero() && tick.Timestamp.After(prev) {
			gap := time.Duration(float64(tick.Timestamp.Sub(prev)) / f.speed)
			select {
			case <-time.After(gap):
			case <-ctx.Done():
				f.logger.Info(ctx, "Replay canceled")
				return
			}
		}
		prev = tick.Timestamp

		select {
		case out <- tick:
		case <-ctx.Done():
			f.logger.Info(ctx, "Replay canceled")
			return
		}
	}
	f.logger.Info(ctx, "Replay finished", map[string]interface{}{"ticks": len(ticks)})
}
