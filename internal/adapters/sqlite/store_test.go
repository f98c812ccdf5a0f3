package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestStore creates a temporary database for testing
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "papertrader-test-*")
	require.NoError(t, err)

	store, err := NewStore(Config{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func testAccount(id string, createdAt time.Time) *domain.Account {
	return &domain.Account{
		ID:             id,
		AgentID:        "agent-" + id,
		Name:           "acct " + id,
		InitialCapital: 10000,
		CashBalance:    10000,
		Positions:      make(map[string]*domain.Position),
		PeakEquity:     10000,
		DailyWindow:    createdAt.Truncate(24 * time.Hour),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func testTrade(id, accountID string, executedAt time.Time) *domain.Trade {
	return &domain.Trade{
		ID:            id,
		OrderID:       "ord-" + id,
		AccountID:     accountID,
		Symbol:        "BTCUSDT",
		Side:          domain.Buy,
		ExecutedPrice: 100.5,
		Quantity:      2,
		Fees:          0.201,
		RealizedPnL:   -0.201,
		Return:        -0.0000201,
		StrategyTag:   "momentum",
		Reasoning:     "fast SMA crossed above slow SMA",
		ExecutedAt:    executedAt,
	}
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(Config{DBPath: "./ignored.db"})
	require.ErrorIs(t, err, ports.ErrInvalidConfiguration)
}

func TestStore_SaveAccountUpsert(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	account := testAccount("acct-1", created)
	account.Positions["BTCUSDT"] = &domain.Position{
		Symbol:        "BTCUSDT",
		Quantity:      2,
		AvgEntryPrice: 100,
		StopLoss:      95,
		TakeProfit:    120,
		OpenedAt:      created,
		UpdatedAt:     created,
	}
	require.NoError(t, store.SaveAccount(ctx, account))

	// A later snapshot with different balances and no open positions must
	// replace the earlier one rather than add a second row.
	account.CashBalance = 9799
	account.TotalTrades = 1
	account.Positions = make(map[string]*domain.Position)
	account.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, store.SaveAccount(ctx, account))

	accounts, err := store.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	got := accounts[0]
	assert.Equal(t, "acct-1", got.ID)
	assert.Equal(t, "agent-acct-1", got.AgentID)
	assert.Equal(t, 9799.0, got.CashBalance)
	assert.Equal(t, 1, got.TotalTrades)
	assert.Empty(t, got.Positions)
	assert.WithinDuration(t, created, got.CreatedAt, time.Second)
}

func TestStore_SaveAccountRoundTripsPositions(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	account := testAccount("acct-2", created)
	account.Positions["ETHUSDT"] = &domain.Position{
		Symbol:        "ETHUSDT",
		Quantity:      -1.5,
		AvgEntryPrice: 2000,
		RealizedPnL:   12.5,
		StopLoss:      2100,
		TakeProfit:    1800,
		OpenedAt:      created,
		UpdatedAt:     created,
	}
	require.NoError(t, store.SaveAccount(ctx, account))

	accounts, err := store.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Contains(t, accounts[0].Positions, "ETHUSDT")

	pos := accounts[0].Positions["ETHUSDT"]
	assert.Equal(t, -1.5, pos.Quantity)
	assert.Equal(t, 2000.0, pos.AvgEntryPrice)
	assert.Equal(t, 12.5, pos.RealizedPnL)
	assert.Equal(t, 2100.0, pos.StopLoss)
	assert.Equal(t, 1800.0, pos.TakeProfit)
}

func TestStore_AccountsOrderedByCreation(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveAccount(ctx, testAccount("newer", base.Add(time.Hour))))
	require.NoError(t, store.SaveAccount(ctx, testAccount("older", base)))

	accounts, err := store.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "older", accounts[0].ID)
	assert.Equal(t, "newer", accounts[1].ID)
}

func TestStore_SaveTradeIgnoresReplay(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	executed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trade := testTrade("trade-1", "acct-1", executed)
	require.NoError(t, store.SaveTrade(ctx, trade))
	// At-least-once delivery may hand us the same trade again.
	require.NoError(t, store.SaveTrade(ctx, trade))

	trades, err := store.Trades(ctx, "acct-1", 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	got := trades[0]
	assert.Equal(t, "trade-1", got.ID)
	assert.Equal(t, "ord-trade-1", got.OrderID)
	assert.Equal(t, domain.Buy, got.Side)
	assert.Equal(t, 100.5, got.ExecutedPrice)
	assert.Equal(t, 2.0, got.Quantity)
	assert.Equal(t, "momentum", got.StrategyTag)
	assert.WithinDuration(t, executed, got.ExecutedAt, time.Second)
}

func TestStore_TradesOrderAndLimit(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	// Insert out of chronological order; readback must sort by execution time.
	require.NoError(t, store.SaveTrade(ctx, testTrade("t-2", "acct-1", base.Add(2*time.Minute))))
	require.NoError(t, store.SaveTrade(ctx, testTrade("t-0", "acct-1", base)))
	require.NoError(t, store.SaveTrade(ctx, testTrade("t-1", "acct-1", base.Add(time.Minute))))
	require.NoError(t, store.SaveTrade(ctx, testTrade("other", "acct-9", base)))

	trades, err := store.Trades(ctx, "acct-1", 0)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "t-0", trades[0].ID)
	assert.Equal(t, "t-1", trades[1].ID)
	assert.Equal(t, "t-2", trades[2].ID)

	limited, err := store.Trades(ctx, "acct-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "t-0", limited[0].ID)
}

func TestStore_RejectsNilWrites(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	assert.Error(t, store.SaveAccount(ctx, nil))
	assert.Error(t, store.SaveTrade(ctx, nil))
}

func TestStore_NameIdentifiesSink(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	assert.Equal(t, "sqlite", store.Name())
}
