package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
)

func newTestArbitrage(t *testing.T) *Arbitrage {
	t.Helper()
	f := newTestFactory(t, nil)
	s, err := f.New(domain.StrategyArbitrage, domain.StrategyParams{
		"spread_threshold": 0.01, "order_qty": 1,
	}, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	return s.(*Arbitrage)
}

func TestArbitrageCapturesBaselineThenTrades(t *testing.T) {
	s := newTestArbitrage(t)
	ctx := context.Background()
	acct := flatAccount()

	// One leg quoting is not enough.
	d, err := s.Decide(ctx, acct, snapshot("BTCUSDT", 100))
	require.NoError(t, err)
	assert.True(t, d.NoAction)

	// Both legs quoting captures the 2.0 baseline without trading.
	d, err = s.Decide(ctx, acct, snapshot("ETHUSDT", 50))
	require.NoError(t, err)
	assert.True(t, d.NoAction)

	// Ratio 2.06 is 3% rich: sell the leg that ticked.
	d, err = s.Decide(ctx, acct, snapshot("BTCUSDT", 103))
	require.NoError(t, err)
	assert.Equal(t, domain.Sell, d.Side)
	assert.Equal(t, "BTCUSDT", d.Symbol)

	// Same rich ratio seen from the other leg buys the cheap side.
	d, err = s.Decide(ctx, acct, snapshot("ETHUSDT", 50))
	require.NoError(t, err)
	assert.Equal(t, domain.Buy, d.Side)
	assert.Equal(t, "ETHUSDT", d.Symbol)
}

func TestArbitrageThresholdIsExclusive(t *testing.T) {
	s := newTestArbitrage(t)
	ctx := context.Background()
	acct := flatAccount()

	_, err := s.Decide(ctx, acct, snapshot("BTCUSDT", 100))
	require.NoError(t, err)
	_, err = s.Decide(ctx, acct, snapshot("ETHUSDT", 50))
	require.NoError(t, err)

	// Exactly -1% sits on the boundary and does not trade.
	d, err := s.Decide(ctx, acct, snapshot("BTCUSDT", 99))
	require.NoError(t, err)
	assert.True(t, d.NoAction)

	// -3% is a cheap first leg: buy it.
	d, err = s.Decide(ctx, acct, snapshot("BTCUSDT", 97))
	require.NoError(t, err)
	assert.Equal(t, domain.Buy, d.Side)
	assert.Equal(t, "BTCUSDT", d.Symbol)
}

func TestArbitrageIgnoresForeignSymbols(t *testing.T) {
	s := newTestArbitrage(t)

	d, err := s.Decide(context.Background(), flatAccount(), snapshot("SOLUSDT", 10))
	require.NoError(t, err)
	assert.True(t, d.NoAction)
}
