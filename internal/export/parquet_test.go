package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"papertrader/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportTrade(id string, executedAt time.Time, pnl float64) *domain.Trade {
	return &domain.Trade{
		ID:            id,
		OrderID:       "ord-" + id,
		AccountID:     "acct-1",
		Symbol:        "BTCUSDT",
		Side:          domain.Sell,
		ExecutedPrice: 105,
		Quantity:      2,
		ClosedQty:     2,
		Fees:          0.21,
		RealizedPnL:   pnl,
		Return:        pnl / 10000,
		StrategyTag:   "momentum",
		ExecutedAt:    executedAt,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.parquet")
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	in := []*domain.Trade{
		exportTrade("t-1", base, 9.79),
		exportTrade("t-2", base.Add(time.Minute), -3.5),
	}
	require.NoError(t, WriteTrades(path, in))

	out, err := ReadTrades(path)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "t-1", out[0].ID)
	assert.Equal(t, domain.Sell, out[0].Side)
	assert.Equal(t, 9.79, out[0].RealizedPnL)
	assert.True(t, base.Equal(out[0].ExecutedAt))
	assert.Equal(t, "t-2", out[1].ID)
}

func TestRepeatedExportDeduplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.parquet")
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, WriteTrades(path, []*domain.Trade{
		exportTrade("t-1", base, 1),
		exportTrade("t-2", base.Add(time.Minute), 2),
	}))
	// Overlapping second export: one replay, one new trade.
	require.NoError(t, WriteTrades(path, []*domain.Trade{
		exportTrade("t-2", base.Add(time.Minute), 2),
		exportTrade("t-3", base.Add(2*time.Minute), 3),
	}))

	out, err := ReadTrades(path)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "t-1", out[0].ID)
	assert.Equal(t, "t-2", out[1].ID)
	assert.Equal(t, "t-3", out[2].ID)
}

func TestWriteNoTradesWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.parquet")
	require.NoError(t, WriteTrades(path, nil))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReadMissingFile(t *testing.T) {
	_, err := ReadTrades(filepath.Join(t.TempDir(), "nope.parquet"))
	require.Error(t, err)
}
