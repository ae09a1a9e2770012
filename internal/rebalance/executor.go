// Package rebalance closes the current liquidity position, rebalances the
// wallet and mints a fresh range in one ordered sequence.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/state"
	"lp-hedge-bot/internal/strategy"

	"go.uber.org/zap"
)

// AMM is the slice of the pool adapter the executor drives.
type AMM interface {
	Pool(ctx context.Context) (strategy.PoolSnapshot, error)
	TWAPTick(ctx context.Context, window time.Duration) (int, error)
	Balances(ctx context.Context) (strategy.Balances, error)
	ExitPosition(ctx context.Context, id strategy.PositionID) error
	Swap(ctx context.Context, order strategy.SwapOrder) error
	Quote(ctx context.Context, side strategy.SwapSide, amountIn float64) (float64, error)
	Mint(ctx context.Context, rng strategy.TickRange, amounts strategy.Balances) (strategy.PositionID, error)
}

type Signals interface {
	Signals(ctx context.Context) (strategy.MarketSignal, error)
}

type Ledger interface {
	Save(ctx context.Context, update state.RecordUpdate) (state.PositionRecord, error)
}

type Executor struct {
	amm      AMM
	signals  Signals
	ledger   Ledger
	cfg      config.RebalanceConfig
	rangeCfg config.RangeConfig
	log      *zap.Logger
}

func NewExecutor(amm AMM, signals Signals, ledger Ledger, cfg config.RebalanceConfig, rangeCfg config.RangeConfig, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		amm:      amm,
		signals:  signals,
		ledger:   ledger,
		cfg:      cfg,
		rangeCfg: rangeCfg,
		log:      log,
	}
}

// ExecuteFullRebalance runs guard, signals, exit, swap, refresh, range and
// mint in that order. Failures before the exit come back as an Aborted
// outcome; failures after it are returned as errors with the ledger
// already cleared.
func (e *Executor) ExecuteFullRebalance(ctx context.Context, pool strategy.PoolSnapshot, oldID strategy.PositionID) (Outcome, error) {
	log := e.log.With(zap.String("old_position", oldID.String()))

	twap, err := e.amm.TWAPTick(ctx, e.cfg.TWAPWindow)
	if err != nil {
		return Outcome{}, fmt.Errorf("twap: %w", err)
	}
	if err := strategy.CheckManipulation(pool.Tick, twap, e.cfg.MaxTickDeviation); err != nil {
		log.Warn("rebalance aborted", zap.Int("tick", pool.Tick), zap.Int("twap_tick", twap), zap.Error(err))
		return Aborted("price manipulation suspected", err), nil
	}

	signal, err := e.signals.Signals(ctx)
	if err != nil {
		log.Warn("rebalance aborted", zap.Error(err))
		return Aborted("market data unavailable", err), nil
	}
	log.Info("market signals",
		zap.Float64("atr", signal.ATR),
		zap.Float64("rsi_short", signal.RSIShort),
		zap.Float64("rsi_long", signal.RSILong),
	)

	hadPosition := !oldID.IsNone()
	if hadPosition {
		if err := e.amm.ExitPosition(ctx, oldID); err != nil {
			return Outcome{}, fmt.Errorf("exit position %s: %w", oldID, err)
		}
		if _, err := e.ledger.Save(ctx, state.ClearPosition()); err != nil {
			return Outcome{}, fmt.Errorf("persist exit: %w", err)
		}
		log.Info("position exited")
	}

	wallet, err := e.amm.Balances(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("balances: %w", err)
	}
	if strategy.ProfitSecured(e.cfg, hadPosition, wallet, pool.Price) {
		log.Info("profit secured", zap.Float64("stable", wallet.Stable), zap.Float64("volatile", wallet.Volatile))
		return ProfitSecured(pool.Price), nil
	}

	if err := e.portfolioSwap(ctx, log, wallet, pool.Price); err != nil {
		return Outcome{}, err
	}

	fresh, err := e.amm.Pool(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("refresh pool: %w", err)
	}
	rng, err := strategy.ComputeRange(e.rangeCfg, strategy.RangeInput{
		Tick:        fresh.Tick,
		TickSpacing: fresh.TickSpacing,
		Price:       fresh.Price,
		Signal:      signal,
		Inverted:    !fresh.VolatileIsToken0,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("compute range: %w", err)
	}

	wallet, err = e.amm.Balances(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("balances: %w", err)
	}
	amounts := strategy.Balances{
		Stable:   wallet.Stable * e.cfg.MintHaircut,
		Volatile: wallet.Volatile * e.cfg.MintHaircut,
	}
	if amounts.Stable <= 0 && amounts.Volatile <= 0 {
		return Outcome{}, errors.New("wallet is empty, nothing to mint")
	}
	id, err := e.amm.Mint(ctx, rng, amounts)
	if err != nil {
		return Outcome{}, fmt.Errorf("mint: %w", err)
	}

	stableAfter := wallet.Stable - amounts.Stable
	if post, err := e.amm.Balances(ctx); err == nil {
		stableAfter = post.Stable
	} else {
		log.Warn("post-mint balance read failed", zap.Error(err))
	}
	if _, err := e.ledger.Save(ctx, state.SetPosition(id, stableAfter)); err != nil {
		return Outcome{}, fmt.Errorf("persist position %s: %w", id, err)
	}
	log.Info("position minted",
		zap.String("position", id.String()),
		zap.Int("tick_lower", rng.Lower),
		zap.Int("tick_upper", rng.Upper),
		zap.Int("tick", fresh.Tick),
		zap.Float64("amount_stable", amounts.Stable),
		zap.Float64("amount_volatile", amounts.Volatile),
	)
	return Minted(id, rng, fresh.Price), nil
}

func (e *Executor) portfolioSwap(ctx context.Context, log *zap.Logger, wallet strategy.Balances, price float64) error {
	order, ok := PlanPortfolioSwap(e.cfg, wallet, price)
	if !ok {
		log.Info("portfolio balanced, no swap", zap.Float64("stable", wallet.Stable), zap.Float64("volatile", wallet.Volatile))
		return nil
	}
	if e.cfg.UseQuoter && e.cfg.SlippageProtectionValue() {
		quoted, err := e.amm.Quote(ctx, order.Side, order.AmountIn)
		if err != nil {
			return fmt.Errorf("quote %s: %w", order.Side, err)
		}
		order.MinOut = minOut(e.cfg, quoted)
	}
	if err := e.amm.Swap(ctx, order); err != nil {
		return fmt.Errorf("portfolio swap %s: %w", order.Side, err)
	}
	log.Info("portfolio swap",
		zap.String("side", order.Side.String()),
		zap.Float64("amount_in", order.AmountIn),
		zap.Float64("min_out", order.MinOut),
	)
	return nil
}
