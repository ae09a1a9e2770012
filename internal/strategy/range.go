package strategy

import (
	"errors"
	"math"

	"lp-hedge-bot/internal/clmath"
	"lp-hedge-bot/internal/config"
)

// RangeInput carries the pool and signal values a range is sized from.
// Inverted is set when the volatile asset is token1, so a rising price
// moves the tick down.
type RangeInput struct {
	Tick        int
	TickSpacing int
	Price       float64
	Signal      MarketSignal
	Inverted    bool
}

// VolatilityWidth converts ATR into a range radius in ticks.
func VolatilityWidth(cfg config.RangeConfig, atr, price float64) int {
	if price <= 0 || math.IsNaN(atr) || math.IsInf(atr, 0) {
		return cfg.MaxWidth
	}
	if atr < 0 {
		atr = 0
	}
	volPercent := atr / price * 100
	raw := math.Floor(volPercent * cfg.TicksPerPercent * cfg.SafetyFactor)
	if raw >= float64(cfg.MaxWidth) {
		return cfg.MaxWidth
	}
	if raw <= float64(cfg.MinWidth) {
		return cfg.MinWidth
	}
	return int(raw)
}

// SelectSkew returns the share of the span placed above the current price.
func SelectSkew(cfg config.RangeConfig, rsiShort, rsiLong float64) float64 {
	skew := 0.5
	switch {
	case rsiLong > cfg.BullishRSI:
		skew = cfg.BullishSkew
	case rsiLong < cfg.BearishRSI:
		skew = cfg.BearishSkew
	}
	if skew > 0.5 && rsiShort > cfg.OverboughtRSI {
		skew = cfg.DampenedBullish
	}
	if skew < 0.5 && rsiShort < cfg.OversoldRSI {
		skew = cfg.DampenedBearish
	}
	return skew
}

func ComputeRange(cfg config.RangeConfig, in RangeInput) (TickRange, error) {
	if in.TickSpacing <= 0 {
		return TickRange{}, errors.New("tick spacing must be > 0")
	}
	width := VolatilityWidth(cfg, in.Signal.ATR, in.Price)
	skew := SelectSkew(cfg, in.Signal.RSIShort, in.Signal.RSILong)
	if in.Inverted {
		skew = 1 - skew
	}
	totalSpan := float64(width * 2)
	upperDiff := int(math.Floor(totalSpan * skew))
	lowerDiff := int(math.Floor(totalSpan * (1 - skew)))

	spacing := in.TickSpacing
	lower := clmath.FloorDiv(in.Tick-lowerDiff, spacing) * spacing
	upper := clmath.FloorDiv(in.Tick+upperDiff, spacing) * spacing
	return sanitizeRange(lower, upper, spacing), nil
}

func sanitizeRange(lower, upper, spacing int) TickRange {
	minTick, maxTick := clmath.UsableTicks(spacing)
	lower = clampInt(lower, minTick, maxTick)
	upper = clampInt(upper, minTick, maxTick)
	if lower >= upper {
		upper = lower + spacing
		if upper > maxTick {
			upper -= spacing
			lower -= spacing
		}
	}
	return TickRange{Lower: lower, Upper: upper}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
