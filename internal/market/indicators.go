package market

import (
	"fmt"
	"math"
)

// RSI computes Wilder's relative strength index over closes.
func RSI(candles []Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("rsi period must be > 0")
	}
	if len(candles) < period+1 {
		return 0, fmt.Errorf("rsi needs %d candles, got %d", period+1, len(candles))
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		up, down := 0.0, 0.0
		if change > 0 {
			up = change
		} else {
			down = -change
		}
		avgGain = (avgGain*float64(period-1) + up) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + down) / float64(period)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// ATR computes Wilder's average true range in price units.
func ATR(candles []Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("atr period must be > 0")
	}
	if len(candles) < period+1 {
		return 0, fmt.Errorf("atr needs %d candles, got %d", period+1, len(candles))
	}
	trueRange := func(i int) float64 {
		prevClose := candles[i-1].Close
		c := candles[i]
		return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	var sum float64
	for i := 1; i <= period; i++ {
		sum += trueRange(i)
	}
	atr := sum / float64(period)
	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRange(i)) / float64(period)
	}
	return atr, nil
}
