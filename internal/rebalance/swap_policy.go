package rebalance

import (
	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/strategy"
)

// PlanPortfolioSwap sizes the swap that moves the wallet toward an even
// value split. The configured fraction of the value imbalance is swapped
// from the over-held asset; 0.5 lands exactly on the even split. ok is
// false when the trade is below the minimum notional.
func PlanPortfolioSwap(cfg config.RebalanceConfig, wallet strategy.Balances, price float64) (strategy.SwapOrder, bool) {
	if price <= 0 {
		return strategy.SwapOrder{}, false
	}
	volatileUSD := wallet.Volatile * price
	imbalance := volatileUSD - wallet.Stable
	if imbalance > 0 {
		notional := imbalance * cfg.SellFraction
		if notional < cfg.MinSwapUSD || notional <= 0 {
			return strategy.SwapOrder{}, false
		}
		amountIn := notional / price
		if amountIn > wallet.Volatile {
			amountIn = wallet.Volatile
		}
		return strategy.SwapOrder{
			Side:     strategy.SellVolatile,
			AmountIn: amountIn,
			MinOut:   minOut(cfg, amountIn*price),
		}, true
	}
	notional := -imbalance * cfg.BuyFraction
	if notional < cfg.MinSwapUSD || notional <= 0 {
		return strategy.SwapOrder{}, false
	}
	if notional > wallet.Stable {
		notional = wallet.Stable
	}
	return strategy.SwapOrder{
		Side:     strategy.BuyVolatile,
		AmountIn: notional,
		MinOut:   minOut(cfg, notional/price),
	}, true
}

// minOut applies the slippage tolerance to an expected output. It returns
// zero, which disables the floor, when protection is off.
func minOut(cfg config.RebalanceConfig, expected float64) float64 {
	if !cfg.SlippageProtectionValue() || expected <= 0 {
		return 0
	}
	return expected * (1 - float64(cfg.SlippageBps)/10_000)
}
