package ports

import (
	"context"

	"papertrader/internal/domain"
)

// MirrorSink receives best-effort copies of ledger mutations for external
// persistence (local database, backend REST API). Delivery is asynchronous
// and at-least-once: implementations must tolerate replays, and a failing
// sink is logged and skipped, never retried synchronously.
type MirrorSink interface {
	// Name identifies the sink in logs.
	Name() string
	// SaveAccount upserts the latest account snapshot.
	SaveAccount(ctx context.Context, account *domain.Account) error
	// SaveTrade appends one executed trade.
	SaveTrade(ctx context.Context, trade *domain.Trade) error
}
