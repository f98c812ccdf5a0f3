// Package mirror ships account snapshots and trades to external persistence
// sinks (local database, backend REST API) over a bounded asynchronous
// queue. The in-memory ledger stays the source of truth: a full queue drops
// the task and a failing sink is logged and skipped, so mirroring can never
// stall or corrupt the trading path. Delivery is at-least-once and sinks
// must tolerate replays.
package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

const (
	defaultCapacity    = 256
	defaultSinkTimeout = 5 * time.Second
)

// Config holds the dependencies for the queue.
type Config struct {
	Sinks       []ports.MirrorSink
	Logger      ports.Logger
	Capacity    int           // Task buffer size
	SinkTimeout time.Duration // Upper bound on one sink call
}

// task is one mirrored mutation. Trade is nil for account-only upserts.
type task struct {
	account *domain.Account
	trade   *domain.Trade
}

// Queue fans mirrored mutations out to the configured sinks from a single
// worker, preserving enqueue order so the last account upsert a sink sees
// is the newest one.
type Queue struct {
	sinks       []ports.MirrorSink
	logger      ports.Logger
	sinkTimeout time.Duration

	mu      sync.Mutex
	started bool
	tasks   chan task
	done    chan struct{}
}

// New validates the configuration and builds a stopped queue.
func New(cfg Config) (*Queue, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrInvalidConfiguration)
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	sinkTimeout := cfg.SinkTimeout
	if sinkTimeout <= 0 {
		sinkTimeout = defaultSinkTimeout
	}
	return &Queue{
		sinks:       cfg.Sinks,
		logger:      cfg.Logger,
		sinkTimeout: sinkTimeout,
		tasks:       make(chan task, capacity),
	}, nil
}

// Start launches the delivery worker. Starting a running queue is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.done = make(chan struct{})
	go q.run()
}

// Stop closes intake and blocks until the backlog has drained. Safe to call
// more than once; a stopped queue stays stopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	close(q.tasks)
	done := q.done
	q.mu.Unlock()

	<-done
	q.logger.Info(context.Background(), "Mirror queue drained")
}

// Enqueue submits an account snapshot and optional trade for mirroring.
// Never blocks: with a full buffer the task is dropped and logged, and a
// stopped queue ignores the call.
func (q *Queue) Enqueue(ctx context.Context, account *domain.Account, trade *domain.Trade) {
	if account == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return
	}
	select {
	case q.tasks <- task{account: account, trade: trade}:
	default:
		q.logger.Warn(ctx, "Mirror task dropped", map[string]interface{}{
			"accountID": account.ID,
			"error":     ports.ErrQueueFull.Error(),
		})
	}
}

// Depth reports the number of queued tasks, for diagnostics.
func (q *Queue) Depth() int {
	return len(q.tasks)
}

func (q *Queue) run() {
	defer close(q.done)
	for t := range q.tasks {
		q.deliver(t)
	}
}

// deliver pushes one task to every sink. Sink calls run on a detached
// timeout context so shutdown still drains the backlog.
func (q *Queue) deliver(t task) {
	for _, sink := range q.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), q.sinkTimeout)
		if err := sink.SaveAccount(ctx, t.account); err != nil {
			q.logger.Warn(ctx, "Mirror sink rejected account snapshot", map[string]interface{}{
				"sink":      sink.Name(),
				"accountID": t.account.ID,
				"error":     err.Error(),
			})
			cancel()
			continue
		}
		if t.trade != nil {
			if err := sink.SaveTrade(ctx, t.trade); err != nil {
				q.logger.Warn(ctx, "Mirror sink rejected trade", map[string]interface{}{
					"sink":    sink.Name(),
					"tradeID": t.trade.ID,
					"error":   err.Error(),
				})
			}
		}
		cancel()
	}
}
