package strategy

import (
	"errors"
	"fmt"
	"math"

	"lp-hedge-bot/internal/config"
)

// HealthFactorSentinel stands in for an unbounded health factor.
const HealthFactorSentinel = 1e9

var ErrManipulation = errors.New("price manipulation suspected")

// NormalizeHealthFactor maps degenerate lending readings (no collateral, no
// debt, or an absurd ratio) to HealthFactorSentinel.
func NormalizeHealthFactor(cfg config.HedgeConfig, raw, collateralUSD float64) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return HealthFactorSentinel
	}
	if collateralUSD < cfg.CollateralDustUSD {
		return HealthFactorSentinel
	}
	if cfg.HealthFactorCeiling > 0 && raw > cfg.HealthFactorCeiling {
		return HealthFactorSentinel
	}
	return raw
}

// CheckManipulation fails when spot deviates from the TWAP tick by more
// than maxDeviation ticks.
func CheckManipulation(spotTick, twapTick, maxDeviation int) error {
	dev := spotTick - twapTick
	if dev < 0 {
		dev = -dev
	}
	if dev > maxDeviation {
		return fmt.Errorf("spot tick %d deviates %d from twap %d (max %d): %w", spotTick, dev, twapTick, maxDeviation, ErrManipulation)
	}
	return nil
}

// PortfolioValueUSD marks wallet, in-range position and uncollected fees to
// the stable asset.
func PortfolioValueUSD(price float64, wallet, position, fees Balances) float64 {
	return wallet.ValueUSD(price) + position.ValueUSD(price) + fees.ValueUSD(price)
}

func CircuitBreakerTripped(cfg config.CircuitBreakerConfig, valueUSD float64) bool {
	return cfg.FloorUSD > 0 && valueUSD < cfg.FloorUSD
}

// PullbackReached reports whether price has fallen the configured fraction
// below the standby reference.
func PullbackReached(cfg config.StandbyConfig, price, reference float64) bool {
	if reference <= 0 || price <= 0 {
		return false
	}
	return price <= reference*(1-cfg.PullbackFraction)
}

func DepositDetected(cfg config.AutoInvestConfig, stableBalance, lastKnown float64) bool {
	if !cfg.Enabled {
		return false
	}
	return stableBalance-lastKnown > cfg.ThresholdUSD
}

// ProfitSecured reports a wallet that closed a position into almost pure
// stable holdings.
func ProfitSecured(cfg config.RebalanceConfig, hadPosition bool, wallet Balances, price float64) bool {
	if !hadPosition {
		return false
	}
	return wallet.Volatile*price < cfg.ProfitVolatileDust && wallet.Stable > cfg.ProfitStableMinUSD
}

// LiquidationSwap returns the volatile amount to sell so that the stable share
// of the wallet reaches targetRatio. Zero means no sale is needed.
func LiquidationSwap(wallet Balances, price, targetRatio float64) float64 {
	total := wallet.ValueUSD(price)
	if total <= 0 || price <= 0 {
		return 0
	}
	deficit := total*targetRatio - wallet.Stable
	if deficit <= 0 {
		return 0
	}
	return math.Min(deficit/price, wallet.Volatile)
}
