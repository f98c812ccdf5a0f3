// Package export moves executed trades between the engine's stores and
// columnar Parquet files for offline analysis tooling.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"papertrader/internal/domain"
)

// tradeRecord is the Parquet schema for executed trades.
type tradeRecord struct {
	ID            string  `parquet:"id"`
	OrderID       string  `parquet:"order_id"`
	AccountID     string  `parquet:"account_id"`
	Symbol        string  `parquet:"symbol"`
	Side          string  `parquet:"side"`
	ExecutedPrice float64 `parquet:"executed_price"`
	Quantity      float64 `parquet:"quantity"`
	ClosedQty     float64 `parquet:"closed_qty"`
	Fees          float64 `parquet:"fees"`
	RealizedPnL   float64 `parquet:"realized_pnl"`
	Return        float64 `parquet:"return"`
	StrategyTag   string  `parquet:"strategy_tag"`
	Reasoning     string  `parquet:"reasoning"`
	ExecutedAt    int64   `parquet:"executed_at,timestamp(millisecond)"` // Unix ms
}

// WriteTrades exports trades to a Parquet file, merging with any existing
// file at the path. Records deduplicate by trade ID so repeated exports of
// overlapping ranges stay idempotent.
func WriteTrades(path string, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	incoming := make([]tradeRecord, 0, len(trades))
	for _, t := range trades {
		incoming = append(incoming, toRecord(t))
	}

	existing, _ := readParquetFile[tradeRecord](path)
	merged := mergeTradeRecords(existing, incoming)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing trade export %s: %w", path, err)
	}
	return nil
}

// ReadTrades loads an exported trade file, oldest trade first.
func ReadTrades(path string) ([]*domain.Trade, error) {
	records, err := readParquetFile[tradeRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading trade export %s: %w", path, err)
	}

	trades := make([]*domain.Trade, 0, len(records))
	for _, r := range records {
		trades = append(trades, fromRecord(r))
	}
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].ExecutedAt.Before(trades[j].ExecutedAt)
	})
	return trades, nil
}

func toRecord(t *domain.Trade) tradeRecord {
	return tradeRecord{
		ID:            t.ID,
		OrderID:       t.OrderID,
		AccountID:     t.AccountID,
		Symbol:        t.Symbol,
		Side:          string(t.Side),
		ExecutedPrice: t.ExecutedPrice,
		Quantity:      t.Quantity,
		ClosedQty:     t.ClosedQty,
		Fees:          t.Fees,
		RealizedPnL:   t.RealizedPnL,
		Return:        t.Return,
		StrategyTag:   t.StrategyTag,
		Reasoning:     t.Reasoning,
		ExecutedAt:    t.ExecutedAt.UnixMilli(),
	}
}

func fromRecord(r tradeRecord) *domain.Trade {
	return &domain.Trade{
		ID:            r.ID,
		OrderID:       r.OrderID,
		AccountID:     r.AccountID,
		Symbol:        r.Symbol,
		Side:          domain.OrderSide(r.Side),
		ExecutedPrice: r.ExecutedPrice,
		Quantity:      r.Quantity,
		ClosedQty:     r.ClosedQty,
		Fees:          r.Fees,
		RealizedPnL:   r.RealizedPnL,
		Return:        r.Return,
		StrategyTag:   r.StrategyTag,
		Reasoning:     r.Reasoning,
		ExecutedAt:    time.UnixMilli(r.ExecutedAt),
	}
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTradeRecords deduplicates by trade ID, preferring incoming records,
// and sorts by execution time.
func mergeTradeRecords(existing, incoming []tradeRecord) []tradeRecord {
	seen := make(map[string]tradeRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}

	merged := make([]tradeRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ExecutedAt < merged[j].ExecutedAt
	})
	return merged
}
