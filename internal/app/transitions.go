package app

import (
	"context"
	"fmt"

	"lp-hedge-bot/internal/hedge"
	"lp-hedge-bot/internal/logging"
	"lp-hedge-bot/internal/rebalance"
	"lp-hedge-bot/internal/state"
	"lp-hedge-bot/internal/strategy"
	"lp-hedge-bot/internal/timescale"

	"go.uber.org/zap"
)

// tripBreaker exits the position, repays all debt and sells volatile down
// to the target stable share. The flag is persisted last so a failed step
// is retried on the next cycle.
func (l *Loop) tripBreaker(ctx context.Context, c *cycle) error {
	log := logging.Phase(c.log, "circuit")
	log.Error("portfolio below floor, tripping circuit breaker",
		zap.Float64("portfolio_usd", c.value),
		zap.Float64("floor_usd", l.cfg.CircuitBreaker.FloorUSD),
	)
	id := c.record.PositionID
	if !id.IsNone() {
		if err := l.deps.AMM.ExitPosition(ctx, id); err != nil {
			return fmt.Errorf("circuit breaker exit %s: %w", id, err)
		}
		if _, err := l.deps.Ledger.Save(ctx, state.ClearPosition()); err != nil {
			return fmt.Errorf("circuit breaker clear ledger: %w", err)
		}
		l.state.positionID = strategy.NoPosition
	}
	if _, err := l.deps.Hedger.DecreaseShort(ctx, 0, true); err != nil {
		return fmt.Errorf("circuit breaker repay: %w", err)
	}
	wallet, err := l.deps.AMM.Balances(ctx)
	if err != nil {
		return fmt.Errorf("circuit breaker balances: %w", err)
	}
	if sell := strategy.LiquidationSwap(wallet, c.pool.Price, l.cfg.CircuitBreaker.TargetStableRatio); sell > 0 {
		if err := l.deps.AMM.Swap(ctx, strategy.SwapOrder{Side: strategy.SellVolatile, AmountIn: sell}); err != nil {
			return fmt.Errorf("circuit breaker liquidation: %w", err)
		}
		log.Info("partial liquidation", zap.Float64("sold_volatile", sell))
	}
	if _, err := l.deps.Ledger.Save(ctx, state.TripBreaker(c.pool.Price)); err != nil {
		return fmt.Errorf("persist breaker: %w", err)
	}
	l.state.machine.Apply(strategy.EventCircuitBreak)
	l.state.forceRebalance = false
	l.deps.Metrics.CircuitBreaks.Inc()
	l.alert(ctx, log, "Circuit breaker tripped", fmt.Sprintf(
		"Portfolio %.2f fell below floor %.2f at price %.4f. Position closed, debt repaid. Run reset-breaker to resume.",
		c.value, l.cfg.CircuitBreaker.FloorUSD, c.pool.Price))
	return nil
}

func (l *Loop) enterStandby(ctx context.Context, c *cycle, price float64) error {
	log := logging.Phase(c.log, "standby")
	if _, err := l.deps.Ledger.Save(ctx, state.EnterStandby(price)); err != nil {
		return fmt.Errorf("persist standby: %w", err)
	}
	l.state.machine.Apply(strategy.EventProfitSecured)
	l.deps.Metrics.StandbyEntries.Inc()
	log.Info("standby entered", zap.Float64("reference_price", price))
	l.alert(ctx, log, "Standby entered", fmt.Sprintf(
		"Profit secured at price %.4f. Waiting for a %.1f%% pullback before re-entering.",
		price, l.cfg.Standby.PullbackFraction*100))
	return l.unwindHedge(ctx, c)
}

func (l *Loop) exitStandby(ctx context.Context, c *cycle) error {
	log := logging.Phase(c.log, "standby")
	if _, err := l.deps.Ledger.Save(ctx, state.ExitStandby()); err != nil {
		return fmt.Errorf("persist standby exit: %w", err)
	}
	l.state.machine.Apply(strategy.EventPullback)
	l.state.forceRebalance = true
	l.deps.Metrics.StandbyExits.Inc()
	log.Info("standby exited on pullback",
		zap.Float64("price", c.pool.Price),
		zap.Float64("reference_price", c.record.StandbyReferencePrice),
	)
	l.alert(ctx, log, "Standby exited", fmt.Sprintf(
		"Price %.4f pulled back from %.4f. Re-entering.", c.pool.Price, c.record.StandbyReferencePrice))
	return nil
}

// standbyWait keeps the hedge flat while no position is held.
func (l *Loop) standbyWait(ctx context.Context, c *cycle) error {
	logging.Phase(c.log, "standby").Info("standby, waiting for pullback",
		zap.Float64("price", c.pool.Price),
		zap.Float64("reference_price", c.record.StandbyReferencePrice),
		zap.Float64("trigger_price", c.record.StandbyReferencePrice*(1-l.cfg.Standby.PullbackFraction)),
	)
	return l.unwindHedge(ctx, c)
}

func (l *Loop) unwindHedge(ctx context.Context, c *cycle) error {
	return l.adjustHedge(ctx, c, 0, strategy.NoPosition)
}

func (l *Loop) maybeReportStatus(ctx context.Context, c *cycle) {
	if l.cfg.Loop.StatusInterval <= 0 {
		return
	}
	now := l.now()
	if now.Sub(l.state.lastStatus) < l.cfg.Loop.StatusInterval {
		return
	}
	l.state.lastStatus = now
	l.alert(ctx, c.log, "Daily status", statusBody(l.state.machine.Current(), c))
}

func statusBody(st strategy.State, c *cycle) string {
	rng := "none"
	if c.open {
		rng = fmt.Sprintf("[%d, %d) in_range=%t", c.position.Range.Lower, c.position.Range.Upper, c.position.Range.Contains(c.pool.Tick))
	}
	return fmt.Sprintf(
		"state: %s\nposition: %s\nrange: %s\ntick: %d\nprice: %.4f\nhealth factor: %s\ndebt: %.6f\nportfolio: %.2f",
		st, c.record.PositionID, rng, c.pool.Tick, c.pool.Price, formatHealth(c.hedge.HealthFactor), c.hedge.Debt, c.value,
	)
}

func formatHealth(hf float64) string {
	if hf >= strategy.HealthFactorSentinel {
		return "inf"
	}
	return fmt.Sprintf("%.3f", hf)
}

func (l *Loop) journalSnapshot(c *cycle) {
	if l.deps.Journal == nil {
		return
	}
	l.deps.Journal.EnqueueSnapshot(timescale.CycleSnapshot{
		Time:           l.now().UTC(),
		CycleID:        c.id,
		Block:          c.block,
		State:          string(l.state.machine.Current()),
		PositionID:     c.record.PositionID.String(),
		Tick:           c.pool.Tick,
		TickLower:      c.position.Range.Lower,
		TickUpper:      c.position.Range.Upper,
		InRange:        c.open && c.position.Range.Contains(c.pool.Tick),
		Price:          c.pool.Price,
		HealthFactor:   c.hedge.HealthFactor,
		Debt:           c.hedge.Debt,
		LPVolatile:     hedge.LPVolatile(c.position),
		WalletStable:   c.wallet.Stable,
		WalletVolatile: c.wallet.Volatile,
		PortfolioUSD:   c.value,
	})
}

func (l *Loop) journalEvent(c *cycle, oldID strategy.PositionID, out rebalance.Outcome) {
	if l.deps.Journal == nil {
		return
	}
	reason := out.Reason
	if out.Cause != nil {
		reason = fmt.Sprintf("%s: %v", reason, out.Cause)
	}
	l.deps.Journal.EnqueueEvent(timescale.RebalanceEvent{
		Time:          l.now().UTC(),
		CycleID:       c.id,
		Outcome:       out.Kind.String(),
		Reason:        reason,
		OldPositionID: oldID.String(),
		NewPositionID: out.PositionID.String(),
		TickLower:     out.Range.Lower,
		TickUpper:     out.Range.Upper,
		Price:         out.Price,
	})
}
