// Package sqlite persists mirrored engine state to a local SQLite database.
// The store is a ports.MirrorSink: the in-memory ledger stays authoritative
// and writes here are asynchronous, at-least-once and idempotent. The same
// file serves the offline analysis command as a trade source.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements ports.MirrorSink backed by SQLite.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewStore opens (or creates) the database and prepares the schema.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for SQLite store", ports.ErrInvalidConfiguration)
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/papertrader.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the mirror worker and readers
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db, logger: cfg.Logger}
	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite store ready", map[string]interface{}{"path": dbPath})
	return store, nil
}

// initializeSchema creates tables if they don't exist.
func (s *Store) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		initial_capital REAL NOT NULL,
		cash_balance REAL NOT NULL,
		total_trades INTEGER NOT NULL,
		winning_trades INTEGER NOT NULL,
		losing_trades INTEGER NOT NULL,
		total_realized_pnl REAL NOT NULL,
		peak_equity REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		daily_realized_pnl REAL NOT NULL,
		daily_window TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity REAL NOT NULL,
		avg_entry_price REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, symbol)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		executed_price REAL NOT NULL,
		quantity REAL NOT NULL,
		closed_qty REAL NOT NULL,
		fees REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		fill_return REAL NOT NULL,
		strategy_tag TEXT NOT NULL,
		reasoning TEXT NOT NULL,
		executed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_account_executed_at ON trades (account_id, executed_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite store")
		return s.db.Close()
	}
	return nil
}

// Name identifies the sink in logs.
func (s *Store) Name() string { return "sqlite" }

// SaveAccount upserts the account row and replaces its position rows in one
// transaction, so readers never observe a half-written snapshot. Replaying
// an older snapshot after a newer one is tolerated; the queue delivers in
// enqueue order so the last write is the freshest.
func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) error {
	if account == nil {
		return fmt.Errorf("%w: nil account", ports.ErrInvalidConfiguration)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for account %s: %w", account.ID, err)
	}
	defer tx.Rollback()

	const upsert = `
	INSERT INTO accounts (id, agent_id, name, initial_capital, cash_balance,
		total_trades, winning_trades, losing_trades, total_realized_pnl,
		peak_equity, max_drawdown, daily_realized_pnl, daily_window,
		created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		agent_id = excluded.agent_id,
		name = excluded.name,
		initial_capital = excluded.initial_capital,
		cash_balance = excluded.cash_balance,
		total_trades = excluded.total_trades,
		winning_trades = excluded.winning_trades,
		losing_trades = excluded.losing_trades,
		total_realized_pnl = excluded.total_realized_pnl,
		peak_equity = excluded.peak_equity,
		max_drawdown = excluded.max_drawdown,
		daily_realized_pnl = excluded.daily_realized_pnl,
		daily_window = excluded.daily_window,
		updated_at = excluded.updated_at`

	if _, err := tx.ExecContext(ctx, upsert,
		account.ID, account.AgentID, account.Name, account.InitialCapital, account.CashBalance,
		account.TotalTrades, account.WinningTrades, account.LosingTrades, account.TotalRealizedPnL,
		account.PeakEquity, account.MaxDrawdown, account.DailyRealizedPnL, account.DailyWindow,
		account.CreatedAt, account.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", account.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE account_id = ?`, account.ID); err != nil {
		return fmt.Errorf("failed to clear positions for account %s: %w", account.ID, err)
	}
	const insertPos = `
	INSERT INTO positions (account_id, symbol, quantity, avg_entry_price,
		realized_pnl, stop_loss, take_profit, opened_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, pos := range account.Positions {
		if _, err := tx.ExecContext(ctx, insertPos,
			account.ID, pos.Symbol, pos.Quantity, pos.AvgEntryPrice,
			pos.RealizedPnL, pos.StopLoss, pos.TakeProfit, pos.OpenedAt, pos.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert position %s for account %s: %w", pos.Symbol, account.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account %s: %w", account.ID, err)
	}
	s.logger.Debug(ctx, "Account snapshot mirrored", map[string]interface{}{
		"accountID": account.ID,
		"positions": len(account.Positions),
	})
	return nil
}

// SaveTrade appends one trade. Replays of the same trade ID are ignored,
// which makes at-least-once delivery safe.
func (s *Store) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	if trade == nil {
		return fmt.Errorf("%w: nil trade", ports.ErrInvalidConfiguration)
	}
	const query = `
	INSERT OR IGNORE INTO trades (id, order_id, account_id, symbol, side,
		executed_price, quantity, closed_qty, fees, realized_pnl, fill_return,
		strategy_tag, reasoning, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query,
		trade.ID, trade.OrderID, trade.AccountID, trade.Symbol, string(trade.Side),
		trade.ExecutedPrice, trade.Quantity, trade.ClosedQty, trade.Fees, trade.RealizedPnL, trade.Return,
		trade.StrategyTag, trade.Reasoning, trade.ExecutedAt); err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", trade.ID, err)
	}
	return nil
}

// Accounts returns every mirrored account with its open positions, ordered
// by creation time.
func (s *Store) Accounts(ctx context.Context) ([]*domain.Account, error) {
	const query = `
	SELECT id, agent_id, name, initial_capital, cash_balance, total_trades,
	       winning_trades, losing_trades, total_realized_pnl, peak_equity,
	       max_drawdown, daily_realized_pnl, daily_window, created_at, updated_at
	FROM accounts
	ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*domain.Account, 0)
	for rows.Next() {
		account := &domain.Account{Positions: make(map[string]*domain.Position)}
		if err := rows.Scan(
			&account.ID, &account.AgentID, &account.Name, &account.InitialCapital, &account.CashBalance,
			&account.TotalTrades, &account.WinningTrades, &account.LosingTrades, &account.TotalRealizedPnL,
			&account.PeakEquity, &account.MaxDrawdown, &account.DailyRealizedPnL, &account.DailyWindow,
			&account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}

	for _, account := range accounts {
		if err := s.loadPositions(ctx, account); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func (s *Store) loadPositions(ctx context.Context, account *domain.Account) error {
	const query = `
	SELECT symbol, quantity, avg_entry_price, realized_pnl, stop_loss,
	       take_profit, opened_at, updated_at
	FROM positions
	WHERE account_id = ?`

	rows, err := s.db.QueryContext(ctx, query, account.ID)
	if err != nil {
		return fmt.Errorf("failed to query positions for account %s: %w", account.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		pos := &domain.Position{}
		if err := rows.Scan(&pos.Symbol, &pos.Quantity, &pos.AvgEntryPrice, &pos.RealizedPnL,
			&pos.StopLoss, &pos.TakeProfit, &pos.OpenedAt, &pos.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan position row: %w", err)
		}
		account.Positions[pos.Symbol] = pos
	}
	return rows.Err()
}

// Trades returns the account's trades in execution order, oldest first.
// A zero limit returns everything.
func (s *Store) Trades(ctx context.Context, accountID string, limit int) ([]*domain.Trade, error) {
	query := `
	SELECT id, order_id, account_id, symbol, side, executed_price, quantity,
	       closed_qty, fees, realized_pnl, fill_return, strategy_tag, reasoning, executed_at
	FROM trades
	WHERE account_id = ?
	ORDER BY executed_at ASC`
	args := []interface{}{accountID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for account %s: %w", accountID, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade := &domain.Trade{}
		var side string
		if err := rows.Scan(&trade.ID, &trade.OrderID, &trade.AccountID, &trade.Symbol, &side,
			&trade.ExecutedPrice, &trade.Quantity, &trade.ClosedQty, &trade.Fees, &trade.RealizedPnL,
			&trade.Return, &trade.StrategyTag, &trade.Reasoning, &trade.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trade.Side = domain.OrderSide(side)
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}
