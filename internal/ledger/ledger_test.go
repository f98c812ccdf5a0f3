package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type stubQuotes struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (s *stubQuotes) CurrentPrice(symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prices[symbol]; ok {
		return p, nil
	}
	return 0, ports.ErrPriceUnavailable
}

func (s *stubQuotes) set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prices == nil {
		s.prices = make(map[string]float64)
	}
	s.prices[symbol] = price
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLedger(t *testing.T) (*Ledger, *stubQuotes, *testClock) {
	t.Helper()
	quotes := &stubQuotes{}
	clock := &testClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	l, err := New(Config{
		Quotes: quotes,
		Logger: &mockLogger{},
		Now:    clock.Now,
	})
	require.NoError(t, err)
	return l, quotes, clock
}

func newFill(symbol string, side domain.OrderSide, qty, price, fees float64, at time.Time) *domain.Fill {
	return &domain.Fill{
		OrderID:       uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		ExecutedPrice: price,
		Quantity:      qty,
		Fees:          fees,
		ExecutedAt:    at,
	}
}

// assertIdentity checks the accounting identity that must hold after every
// mutation: cash + market value == initial capital + realized + unrealized.
func assertIdentity(t *testing.T, acct *domain.Account, quotes *stubQuotes) {
	t.Helper()
	mark := func(symbol string) float64 {
		if p, err := quotes.CurrentPrice(symbol); err == nil {
			return p
		}
		if pos := acct.Positions[symbol]; pos != nil {
			return pos.AvgEntryPrice
		}
		return 0
	}
	var marketValue, unrealized float64
	for _, pos := range acct.Positions {
		marketValue += pos.MarketValue(mark(pos.Symbol))
		unrealized += pos.UnrealizedPnL(mark(pos.Symbol))
	}
	lhs := acct.CashBalance + marketValue
	rhs := acct.InitialCapital + acct.TotalRealizedPnL + unrealized
	assert.InDelta(t, rhs, lhs, 1e-6, "accounting identity violated")
}

func TestCreateAccountValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreateAccount(ctx, "", "bad", 0, domain.RiskLimits{})
	assert.ErrorIs(t, err, ports.ErrInvalidConfiguration)

	_, err = l.CreateAccount(ctx, "", "bad", -50, domain.RiskLimits{})
	assert.ErrorIs(t, err, ports.ErrInvalidConfiguration)

	acct, err := l.CreateAccount(ctx, "agent-1", "good", 10000, domain.RiskLimits{})
	require.NoError(t, err)
	assert.NotEmpty(t, acct.ID)
	assert.Equal(t, "agent-1", acct.AgentID)
	assert.Equal(t, 10000.0, acct.CashBalance)
	assert.Equal(t, 10000.0, acct.InitialCapital)
	assert.Equal(t, 10000.0, acct.PeakEquity)
	assert.Empty(t, acct.Positions)
}

func TestApplyFillUnknownAccount(t *testing.T) {
	l, _, clock := newTestLedger(t)
	_, _, err := l.ApplyFill(context.Background(), "missing",
		newFill("BTCUSDT", domain.Buy, 1, 100, 0, clock.Now()), TradeMeta{})
	assert.ErrorIs(t, err, ports.ErrAccountNotFound)
}

// A $10,000 account buying 10 units at $100 with a 0.1% commission ends with
// $8,999.00 cash, a 10-unit position at entry 100, and one recorded trade
// whose realized P&L is exactly the commission.
func TestApplyFillOpensPosition(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "scenario-a", 10000, domain.RiskLimits{})
	require.NoError(t, err)

	after, trade, err := l.ApplyFill(ctx, acct.ID,
		newFill("BTCUSDT", domain.Buy, 10, 100, 1.0, clock.Now()), TradeMeta{StrategyTag: domain.TagManual})
	require.NoError(t, err)

	assert.InDelta(t, 8999.0, after.CashBalance, 1e-9)
	require.NotNil(t, after.Position("BTCUSDT"))
	assert.InDelta(t, 10.0, after.Position("BTCUSDT").Quantity, 1e-9)
	assert.InDelta(t, 100.0, after.Position("BTCUSDT").AvgEntryPrice, 1e-9)
	assert.Equal(t, 1, after.TotalTrades)
	assert.Equal(t, 0, after.WinningTrades, "opening fills never count as wins")
	assert.Equal(t, 0, after.LosingTrades, "opening fills never count as losses")
	assert.InDelta(t, -1.0, after.TotalRealizedPnL, 1e-9)

	assert.InDelta(t, -1.0, trade.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.0, trade.ClosedQty, 1e-9)
	assert.Equal(t, domain.TagManual, trade.StrategyTag)
	assertIdentity(t, after, quotes)
}

// Selling the full 10-unit position at $120 realizes (120-100)*10 minus the
// sell fee, removes the position, and counts the fill as one winning trade.
func TestApplyFillClosesPosition(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "scenario-b", 10000, domain.RiskLimits{})
	require.NoError(t, err)

	_, _, err = l.ApplyFill(ctx, acct.ID,
		newFill("BTCUSDT", domain.Buy, 10, 100, 1.0, clock.Now()), TradeMeta{})
	require.NoError(t, err)

	quotes.set("BTCUSDT", 120)
	after, trade, err := l.ApplyFill(ctx, acct.ID,
		newFill("BTCUSDT", domain.Sell, 10, 120, 1.2, clock.Now()), TradeMeta{})
	require.NoError(t, err)

	assert.InDelta(t, 198.8, trade.RealizedPnL, 1e-9)
	assert.InDelta(t, 10.0, trade.ClosedQty, 1e-9)
	assert.InDelta(t, 10197.8, after.CashBalance, 1e-9)
	assert.Nil(t, after.Position("BTCUSDT"), "fully closed position must be removed")
	assert.Equal(t, 2, after.TotalTrades)
	assert.Equal(t, 1, after.WinningTrades)
	assert.Equal(t, 0, after.LosingTrades)
	assert.InDelta(t, 197.8, after.TotalRealizedPnL, 1e-9)
	assertIdentity(t, after, quotes)
}

func TestApplyFillWeightedAverageEntry(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("ETHUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "averaging", 10000, domain.RiskLimits{})
	require.NoError(t, err)

	_, _, err = l.ApplyFill(ctx, acct.ID, newFill("ETHUSDT", domain.Buy, 10, 100, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)

	quotes.set("ETHUSDT", 110)
	after, _, err := l.ApplyFill(ctx, acct.ID, newFill("ETHUSDT", domain.Buy, 10, 110, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)

	pos := after.Position("ETHUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 20.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 105.0, pos.AvgEntryPrice, 1e-9)
	assertIdentity(t, after, quotes)

	// A partial close leaves the average entry untouched.
	quotes.set("ETHUSDT", 115)
	after, trade, err := l.ApplyFill(ctx, acct.ID, newFill("ETHUSDT", domain.Sell, 5, 115, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)
	pos = after.Position("ETHUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 15.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 105.0, pos.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 50.0, trade.RealizedPnL, 1e-9) // (115-105)*5
	assertIdentity(t, after, quotes)
}

// A sell bigger than the long position realizes on the overlap and opens a
// short with the remainder at the executed price.
func TestApplyFillFlipsPosition(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "flip", 10000, domain.RiskLimits{})
	require.NoError(t, err)

	_, _, err = l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Buy, 10, 100, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)

	quotes.set("BTCUSDT", 110)
	after, trade, err := l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Sell, 15, 110, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)

	assert.InDelta(t, 100.0, trade.RealizedPnL, 1e-9) // (110-100)*10
	assert.InDelta(t, 10.0, trade.ClosedQty, 1e-9)
	pos := after.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, -5.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 110.0, pos.AvgEntryPrice, 1e-9, "remainder opens at the executed price")
	assert.Equal(t, 1, after.WinningTrades)
	assertIdentity(t, after, quotes)
}

func TestApplyFillShortAccounting(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("ETHUSDT", 200)

	acct, err := l.CreateAccount(ctx, "", "short", 10000, domain.RiskLimits{})
	require.NoError(t, err)

	// Open a 5-unit short at 200: cash grows by the notional.
	after, _, err := l.ApplyFill(ctx, acct.ID, newFill("ETHUSDT", domain.Sell, 5, 200, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)
	assert.InDelta(t, 11000.0, after.CashBalance, 1e-9)
	assert.InDelta(t, -5.0, after.Position("ETHUSDT").Quantity, 1e-9)
	assertIdentity(t, after, quotes)

	// Cover at 180: the short gains (200-180)*5.
	quotes.set("ETHUSDT", 180)
	after, trade, err := l.ApplyFill(ctx, acct.ID, newFill("ETHUSDT", domain.Buy, 5, 180, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, trade.RealizedPnL, 1e-9)
	assert.Nil(t, after.Position("ETHUSDT"))
	assert.InDelta(t, 10100.0, after.CashBalance, 1e-9)
	assertIdentity(t, after, quotes)
}

func TestApplyFillInsufficientCash(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "broke", 500, domain.RiskLimits{})
	require.NoError(t, err)

	_, _, err = l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Buy, 10, 100, 1, clock.Now()), TradeMeta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInsufficientCash)

	// The failed fill left no trace.
	after, err := l.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, after.CashBalance, 1e-9)
	assert.Equal(t, 0, after.TotalTrades)
	assert.Empty(t, after.Positions)
	history, err := l.GetTradeHistory(ctx, acct.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApplyFillZeroDeltaCloseCountsNeither(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "flat-close", 10000, domain.RiskLimits{})
	require.NoError(t, err)

	_, _, err = l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Buy, 10, 100, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)

	// A break-even close with no fee realizes exactly zero: neither a win
	// nor a loss.
	after, trade, err := l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Sell, 10, 100, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, trade.RealizedPnL, 1e-9)
	assert.Equal(t, 2, after.TotalTrades)
	assert.Equal(t, 0, after.WinningTrades)
	assert.Equal(t, 0, after.LosingTrades)
}

func TestDailyWindowRollover(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "daily", 10000, domain.RiskLimits{})
	require.NoError(t, err)

	_, _, err = l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Buy, 10, 100, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)
	quotes.set("BTCUSDT", 90)
	after, _, err := l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Sell, 10, 90, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)
	assert.InDelta(t, -100.0, after.DailyRealizedPnL, 1e-9)

	// Crossing UTC midnight resets the daily window; lifetime totals keep
	// accumulating.
	clock.Advance(24 * time.Hour)
	quotes.set("BTCUSDT", 100)
	_, _, err = l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Buy, 5, 100, 2.5, clock.Now()), TradeMeta{})
	require.NoError(t, err)
	after, err = l.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.InDelta(t, -2.5, after.DailyRealizedPnL, 1e-9)
	assert.InDelta(t, -102.5, after.TotalRealizedPnL, 1e-9)
}

func TestPeakEquityAndMaxDrawdown(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "drawdown", 10000, domain.RiskLimits{})
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, acct.PeakEquity, 1e-9)

	_, _, err = l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Buy, 10, 100, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)

	// Price halves; selling half the position marks equity at the fill.
	quotes.set("BTCUSDT", 50)
	after, _, err := l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Sell, 5, 50, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, after.PeakEquity, 1e-9)
	assert.InDelta(t, 0.05, after.MaxDrawdown, 1e-9) // equity 9500 vs peak 10000
	assert.Equal(t, 1, after.LosingTrades)

	// A recovery above the old peak raises it and never lowers MaxDrawdown.
	quotes.set("BTCUSDT", 250)
	after, _, err = l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Sell, 5, 250, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)
	assert.Greater(t, after.PeakEquity, 10000.0)
	assert.InDelta(t, 0.05, after.MaxDrawdown, 1e-9)
}

func TestGetTradeHistoryOrderAndLimit(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "history", 100000, domain.RiskLimits{})
	require.NoError(t, err)

	var orderIDs []string
	for i := 0; i < 3; i++ {
		fill := newFill("BTCUSDT", domain.Buy, 1, 100, 0, clock.Now())
		orderIDs = append(orderIDs, fill.OrderID)
		_, _, err = l.ApplyFill(ctx, acct.ID, fill, TradeMeta{})
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	history, err := l.GetTradeHistory(ctx, acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, orderIDs[2], history[0].OrderID, "most recent trade first")
	assert.Equal(t, orderIDs[0], history[2].OrderID)

	limited, err := l.GetTradeHistory(ctx, acct.ID, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, orderIDs[2], limited[0].OrderID)

	// Returned snapshots are detached from ledger state.
	limited[0].RealizedPnL = 12345
	fresh, err := l.GetTradeHistory(ctx, acct.ID, 1)
	require.NoError(t, err)
	assert.NotEqual(t, 12345.0, fresh[0].RealizedPnL)
}

func TestUpdateRiskLimits(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	acct, err := l.CreateAccount(ctx, "", "limits", 10000, domain.RiskLimits{MaxLeverage: 1})
	require.NoError(t, err)

	err = l.UpdateRiskLimits(ctx, acct.ID, domain.RiskLimits{MaxLeverage: 5, AllowedSymbols: []string{"BTCUSDT"}})
	require.NoError(t, err)

	after, err := l.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, after.Limits.MaxLeverage)
	assert.Equal(t, []string{"BTCUSDT"}, after.Limits.AllowedSymbols)

	assert.ErrorIs(t, l.UpdateRiskLimits(ctx, "missing", domain.RiskLimits{}), ports.ErrAccountNotFound)
}

// Two concurrent 5-unit buys must both settle: the final position is 10
// units and cash reflects both fills, regardless of arrival order.
func TestApplyFillConcurrentSameAccount(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "concurrent", 10000, domain.RiskLimits{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", domain.Buy, 5, 100, 0.5, clock.Now()), TradeMeta{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	after, err := l.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.NotNil(t, after.Position("BTCUSDT"))
	assert.InDelta(t, 10.0, after.Position("BTCUSDT").Quantity, 1e-9)
	assert.InDelta(t, 10000.0-2*(500+0.5), after.CashBalance, 1e-9)
	assert.Equal(t, 2, after.TotalTrades)
	assertIdentity(t, after, quotes)
}

// Interleaved buys and sells from several goroutines must behave like some
// serial ordering: every fill lands, and the books balance exactly.
func TestApplyFillConcurrentStress(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "stress", 100000, domain.RiskLimits{})
	require.NoError(t, err)

	const goroutines = 4
	const fillsPerGoroutine = 24

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < fillsPerGoroutine; i++ {
				side := domain.Buy
				if i%2 == 1 {
					side = domain.Sell
				}
				_, _, err := l.ApplyFill(ctx, acct.ID, newFill("BTCUSDT", side, 1, 100, 0.1, clock.Now()), TradeMeta{})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	after, err := l.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, goroutines*fillsPerGoroutine, after.TotalTrades)
	assert.Nil(t, after.Position("BTCUSDT"), "equal buys and sells must net to flat")
	assert.InDelta(t, after.InitialCapital+after.TotalRealizedPnL, after.CashBalance, 1e-6)
	assertIdentity(t, after, quotes)

	history, err := l.GetTradeHistory(ctx, acct.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, goroutines*fillsPerGoroutine)
}

func TestProtectiveLevelsStamped(t *testing.T) {
	l, quotes, clock := newTestLedger(t)
	ctx := context.Background()
	quotes.set("BTCUSDT", 100)

	acct, err := l.CreateAccount(ctx, "", "levels", 10000, domain.RiskLimits{})
	require.NoError(t, err)

	after, _, err := l.ApplyFill(ctx, acct.ID,
		newFill("BTCUSDT", domain.Buy, 5, 100, 0, clock.Now()),
		TradeMeta{StopLoss: 95, TakeProfit: 120})
	require.NoError(t, err)

	pos := after.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 95.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 120.0, pos.TakeProfit, 1e-9)

	// A reducing fill leaves the levels untouched.
	after, _, err = l.ApplyFill(ctx, acct.ID,
		newFill("BTCUSDT", domain.Sell, 2, 100, 0, clock.Now()), TradeMeta{})
	require.NoError(t, err)
	pos = after.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 95.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 120.0, pos.TakeProfit, 1e-9)
}
