// Package clmath holds the concentrated-liquidity primitives the strategy
// consumes: tick bounds, tick and sqrt-price conversions, and the
// liquidity-to-amounts split.
package clmath

import (
	"math"
	"math/big"
)

const (
	MinTick = -887272
	MaxTick = 887272
)

var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// UsableTicks returns the widest spacing-aligned bounds inside [MinTick, MaxTick].
func UsableTicks(spacing int) (int, int) {
	if spacing <= 0 {
		return MinTick, MaxTick
	}
	lower := -FloorDiv(-MinTick, spacing) * spacing
	upper := FloorDiv(MaxTick, spacing) * spacing
	return lower, upper
}

// TickToPrice returns token1 per token0 in human units.
func TickToPrice(tick int, decimals0, decimals1 int) float64 {
	return math.Pow(1.0001, float64(tick)) * math.Pow10(decimals0-decimals1)
}

// SqrtPriceX96ToPrice returns token1 per token0 in human units.
func SqrtPriceX96ToPrice(sqrtPriceX96 *big.Int, decimals0, decimals1 int) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), new(big.Float).SetInt(q96))
	f, _ := ratio.Float64()
	return f * f * math.Pow10(decimals0-decimals1)
}

// TickToSqrtPriceX96 approximates the pool's sqrt ratio at tick with big.Float
// precision, which is enough for amount estimates.
func TickToSqrtPriceX96(tick int) *big.Int {
	if tick < MinTick {
		tick = MinTick
	}
	if tick > MaxTick {
		tick = MaxTick
	}
	sqrt := new(big.Float).SetPrec(256).SetFloat64(math.Pow(1.0001, float64(tick)/2))
	sqrt.Mul(sqrt, new(big.Float).SetPrec(256).SetInt(q96))
	out, _ := sqrt.Int(nil)
	return out
}

// AmountsForLiquidity splits liquidity into token0/token1 raw amounts for a
// position bounded by sqrtA and sqrtB at the current sqrtP.
func AmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity *big.Int) (*big.Int, *big.Int) {
	amount0 := new(big.Int)
	amount1 := new(big.Int)
	if liquidity == nil || liquidity.Sign() == 0 || sqrtP == nil || sqrtA == nil || sqrtB == nil {
		return amount0, amount1
	}
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	switch {
	case sqrtP.Cmp(sqrtA) <= 0:
		amount0 = amount0ForLiquidity(sqrtA, sqrtB, liquidity)
	case sqrtP.Cmp(sqrtB) < 0:
		amount0 = amount0ForLiquidity(sqrtP, sqrtB, liquidity)
		amount1 = amount1ForLiquidity(sqrtA, sqrtP, liquidity)
	default:
		amount1 = amount1ForLiquidity(sqrtA, sqrtB, liquidity)
	}
	return amount0, amount1
}

func amount0ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	num := new(big.Int).Lsh(liquidity, 96)
	num.Mul(num, new(big.Int).Sub(sqrtB, sqrtA))
	num.Quo(num, sqrtB)
	return num.Quo(num, sqrtA)
}

func amount1ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	out := new(big.Int).Mul(liquidity, new(big.Int).Sub(sqrtB, sqrtA))
	return out.Quo(out, q96)
}
