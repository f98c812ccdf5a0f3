package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"papertrader/internal/domain"
)

// WriteTicksToCSV stores recorded price ticks with a header row. The format
// is what ReadTicksFromCSV expects and what the replay feed consumes.
func WriteTicksToCSV(ticks []domain.PriceTick, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"timestamp", "symbol", "price"})

	for _, tick := range ticks {
		writer.Write([]string{
			tick.Timestamp.Format(time.RFC3339Nano),
			tick.Symbol,
			strconv.FormatFloat(tick.Price, 'f', -1, 64),
		})
	}
	return writer.Error()
}

// ReadTicksFromCSV loads ticks from a file produced by WriteTicksToCSV.
// Rows keep their file order; recorders write chronologically.
func ReadTicksFromCSV(filename string) ([]domain.PriceTick, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Skip header
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	var ticks []domain.PriceTick
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", line, len(record))
		}

		ts, err := time.Parse(time.RFC3339Nano, record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing timestamp '%s': %w", line, record[0], err)
		}
		price, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parsing price '%s': %w", line, record[2], err)
		}

		ticks = append(ticks, domain.PriceTick{
			Timestamp: ts,
			Symbol:    record[1],
			Price:     price,
		})
	}
	return ticks, nil
}
