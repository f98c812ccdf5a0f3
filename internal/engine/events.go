package engine

import (
	"context"
	"sync"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// EventKind discriminates bus events.
type EventKind string

const (
	EventAccountChanged EventKind = "account_changed"
	EventTradeExecuted  EventKind = "trade_executed"
)

// Event is anything published on the engine's event bus. Delivery is
// at-least-once: consumers must treat their handlers as idempotent, since
// the same logical change can surface more than once.
type Event interface {
	Kind() EventKind
}

// AccountChanged signals that an account's balances, positions or counters
// moved. Consumers re-read the account through the ledger; the event carries
// no state on purpose.
type AccountChanged struct {
	AccountID string
}

func (AccountChanged) Kind() EventKind { return EventAccountChanged }

// TradeExecuted carries the immutable trade appended by a fill.
type TradeExecuted struct {
	Trade *domain.Trade
}

func (TradeExecuted) Kind() EventKind { return EventTradeExecuted }

// EventBus fans events out to subscribers over buffered channels. A slow
// subscriber never blocks publishing: when its buffer is full the event is
// dropped and a warning logged.
type EventBus struct {
	logger ports.Logger
	buffer int

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newEventBus(buffer int, logger ports.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		buffer: buffer,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a new consumer and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe and on bus
// shutdown.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// publish delivers the event to every subscriber without blocking.
func (b *EventBus) publish(ctx context.Context, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		select {
		case sub <- event:
		default:
			b.logger.Warn(ctx, "Event dropped for slow subscriber", map[string]interface{}{
				"subscriber": id,
				"kind":       string(event.Kind()),
			})
		}
	}
}

// close shuts the bus down and closes every subscriber channel.
func (b *EventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
