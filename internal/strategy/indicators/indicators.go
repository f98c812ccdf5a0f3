// Package indicators provides the technical indicator math shared by the
// built-in strategies. All functions operate on a price series ordered
// oldest first.
package indicators

import "fmt"

// SMA computes the simple moving average of the last period prices.
func SMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("SMA period %d must be positive", period)
	}
	if len(prices) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(prices), period)
	}
	total := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		total += prices[i]
	}
	return total / float64(period), nil
}

// EMA computes the exponential moving average over the whole series, seeded
// with the SMA of the first period prices.
func EMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("EMA period %d must be positive", period)
	}
	if len(prices) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(prices), period)
	}
	seed, err := SMA(prices[:period], period)
	if err != nil {
		return 0, fmt.Errorf("failed to seed EMA: %w", err)
	}
	multiplier := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}
	return ema, nil
}

// RSI computes the Relative Strength Index using Wilder's smoothing method.
// A series with no losses returns 100, no gains returns 0, and no movement
// at all returns the neutral 50.
func RSI(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("RSI period %d must be positive", period)
	}
	if len(prices) <= period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(prices), period)
	}

	changes := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		changes = append(changes, prices[i]-prices[i-1])
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*float64(period-1) + changes[i]) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - changes[i]) / float64(period)
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}
