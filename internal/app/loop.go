package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/hedge"
	"lp-hedge-bot/internal/logging"
	"lp-hedge-bot/internal/metrics"
	"lp-hedge-bot/internal/rebalance"
	"lp-hedge-bot/internal/state"
	"lp-hedge-bot/internal/strategy"
	"lp-hedge-bot/internal/timescale"

	"go.uber.org/zap"
)

// ErrSafeMode is returned by Run after a panic exit. The process must stay
// down until an operator has reviewed the accounts.
var ErrSafeMode = errors.New("safe mode entered after panic exit")

type AMM interface {
	Pool(ctx context.Context) (strategy.PoolSnapshot, error)
	Position(ctx context.Context, id strategy.PositionID, pool strategy.PoolSnapshot) (strategy.PositionInfo, error)
	Balances(ctx context.Context) (strategy.Balances, error)
	ExitPosition(ctx context.Context, id strategy.PositionID) error
	// OpenPositions lists live positions the wallet owns in the pool.
	OpenPositions(ctx context.Context) ([]strategy.PositionID, error)
	Swap(ctx context.Context, order strategy.SwapOrder) error
}

type Rebalancer interface {
	ExecuteFullRebalance(ctx context.Context, pool strategy.PoolSnapshot, oldID strategy.PositionID) (rebalance.Outcome, error)
}

type Hedger interface {
	CheckHealth(ctx context.Context) (strategy.HedgeState, bool, error)
	AdjustHedge(ctx context.Context, lpHeld float64, id strategy.PositionID) (hedge.Result, error)
	DecreaseShort(ctx context.Context, amount float64, force bool) (hedge.Result, error)
	PanicExitAll(ctx context.Context, id strategy.PositionID) (hedge.Result, error)
}

type Ledger interface {
	Load(ctx context.Context) (state.PositionRecord, error)
	Save(ctx context.Context, update state.RecordUpdate) (state.PositionRecord, error)
}

type Alerter interface {
	Send(ctx context.Context, subject, body string) error
}

type HeadSource interface {
	SubscribeNewHeads(ctx context.Context, handler func(ctx context.Context, block uint64)) error
}

// LoopState is everything the loop carries between blocks.
type LoopState struct {
	busy           atomic.Bool
	machine        *strategy.StateMachine
	lastRun        time.Time
	lastStatus     time.Time
	forceRebalance bool
	positionID     strategy.PositionID
	safeOnce       sync.Once
	safe           chan struct{}
}

func NewLoopState(now time.Time) *LoopState {
	return &LoopState{
		machine:    strategy.NewStateMachine(),
		lastStatus: now,
		positionID: strategy.NoPosition,
		safe:       make(chan struct{}),
	}
}

func (s *LoopState) State() strategy.State {
	return s.machine.Current()
}

// SafeMode is closed once the loop reaches SAFE_MODE.
func (s *LoopState) SafeMode() <-chan struct{} {
	return s.safe
}

type Deps struct {
	AMM        AMM
	Rebalancer Rebalancer
	Hedger     Hedger
	Ledger     Ledger
	Alerts     Alerter
	Metrics    *metrics.Metrics
	Journal    *timescale.Writer
}

type Loop struct {
	cfg   *config.Config
	deps  Deps
	log   *zap.Logger
	state *LoopState
	now   func() time.Time
}

func NewLoop(cfg *config.Config, deps Deps, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	return &Loop{
		cfg:   cfg,
		deps:  deps,
		log:   log,
		state: NewLoopState(time.Now()),
		now:   time.Now,
	}
}

func (l *Loop) State() *LoopState {
	return l.state
}

// Restore applies the persisted standby and breaker flags.
func (l *Loop) Restore(ctx context.Context) error {
	rec, err := l.deps.Ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	l.state.positionID = rec.PositionID
	switch {
	case rec.CircuitBreaker:
		l.state.machine.SetState(strategy.StateCircuitBroken)
	case rec.Standby:
		l.state.machine.SetState(strategy.StateStandby)
	}
	l.log.Info("ledger restored",
		zap.String("position", rec.PositionID.String()),
		zap.String("state", string(l.state.machine.Current())),
		zap.Float64("last_known_stable", rec.LastKnownStableBalance),
	)
	return nil
}

// Run dispatches a cycle for every new block until ctx ends or the loop
// reaches SAFE_MODE.
func (l *Loop) Run(ctx context.Context, heads HeadSource) error {
	if err := l.Restore(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- heads.SubscribeNewHeads(ctx, func(ctx context.Context, block uint64) {
			go l.OnBlock(ctx, block)
		})
	}()
	select {
	case <-l.state.safe:
		cancel()
		return ErrSafeMode
	case err := <-errCh:
		select {
		case <-l.state.safe:
			return ErrSafeMode
		default:
		}
		return err
	}
}

// OnBlock runs the critical health check and, when the throttle allows, one
// decision cycle. Blocks arriving while a cycle is in flight are dropped.
func (l *Loop) OnBlock(ctx context.Context, block uint64) {
	if l.state.machine.Current() == strategy.StateSafeMode {
		l.log.Debug("safe mode, block ignored", zap.Uint64("block", block))
		return
	}
	if !l.state.busy.CompareAndSwap(false, true) {
		l.deps.Metrics.BlocksSkipped.Inc()
		return
	}
	defer l.state.busy.Store(false)

	log, cycleID := logging.Cycle(l.log, block)
	c := &cycle{id: cycleID, block: block, log: log}
	defer func() {
		if r := recover(); r != nil {
			l.deps.Metrics.CycleFailures.Inc()
			log.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	hs, critical, err := l.deps.Hedger.CheckHealth(ctx)
	if err != nil {
		l.deps.Metrics.CycleFailures.Inc()
		logging.Phase(log, "health").Warn("health check failed", zap.Error(err))
		return
	}
	l.deps.Metrics.HealthFactor.Set(hs.HealthFactor)
	if critical {
		logging.Phase(log, "health").Error("health factor critical", zap.Float64("health_factor", hs.HealthFactor))
		l.panicExit(ctx, c, l.state.positionID)
		return
	}

	now := l.now()
	if !l.state.lastRun.IsZero() && now.Sub(l.state.lastRun) < l.cfg.Loop.MinInterval {
		return
	}
	l.state.lastRun = now
	l.deps.Metrics.Cycles.Inc()
	c.hedge = hs
	if err := l.runCycle(ctx, c); err != nil {
		l.deps.Metrics.CycleFailures.Inc()
		log.Warn("cycle failed", zap.Error(err))
	}
}

type cycle struct {
	id    string
	block uint64
	log   *zap.Logger

	hedge    strategy.HedgeState
	record   state.PositionRecord
	pool     strategy.PoolSnapshot
	wallet   strategy.Balances
	position strategy.PositionInfo
	open     bool
	value    float64
}

func (l *Loop) runCycle(ctx context.Context, c *cycle) error {
	rec, err := l.deps.Ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	c.record = rec
	l.state.positionID = rec.PositionID
	l.syncFlags(ctx, c)

	pool, err := l.deps.AMM.Pool(ctx)
	if err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	c.pool = pool
	l.deps.Metrics.PoolTick.Set(float64(pool.Tick))

	wallet, err := l.deps.AMM.Balances(ctx)
	if err != nil {
		return fmt.Errorf("read balances: %w", err)
	}
	c.wallet = wallet

	if !rec.PositionID.IsNone() {
		info, err := l.deps.AMM.Position(ctx, rec.PositionID, pool)
		switch {
		case err != nil:
			logging.Phase(c.log, "pool").Warn("position unreadable, treating as closed", zap.String("position", rec.PositionID.String()), zap.Error(err))
		case info.Closed():
			logging.Phase(c.log, "pool").Warn("position has no liquidity, treating as closed", zap.String("position", rec.PositionID.String()))
		default:
			c.position = info
			c.open = true
		}
	}
	c.value = strategy.PortfolioValueUSD(pool.Price, wallet, c.position.Amounts, c.position.Fees)
	l.deps.Metrics.PortfolioUSD.Set(c.value)
	logging.Phase(c.log, "pool").Info("cycle state",
		zap.String("state", string(l.state.machine.Current())),
		zap.String("position", rec.PositionID.String()),
		zap.Int("tick", pool.Tick),
		zap.Float64("price", pool.Price),
		zap.Bool("position_open", c.open),
		zap.Float64("portfolio_usd", c.value),
		zap.Float64("health_factor", c.hedge.HealthFactor),
	)
	defer l.journalSnapshot(c)
	defer l.maybeReportStatus(ctx, c)

	switch l.state.machine.Current() {
	case strategy.StateSafeMode:
		return nil
	case strategy.StateCircuitBroken:
		logging.Phase(c.log, "circuit").Info("circuit breaker engaged, waiting for operator reset")
		return nil
	}
	if strategy.CircuitBreakerTripped(l.cfg.CircuitBreaker, c.value) {
		return l.tripBreaker(ctx, c)
	}
	if l.state.machine.Current() == strategy.StateStandby {
		if !strategy.PullbackReached(l.cfg.Standby, pool.Price, rec.StandbyReferencePrice) {
			return l.standbyWait(ctx, c)
		}
		if err := l.exitStandby(ctx, c); err != nil {
			return err
		}
	}
	if c.open && strategy.DepositDetected(l.cfg.AutoInvest, wallet.Stable, rec.LastKnownStableBalance) {
		c.log.Info("deposit detected, scheduling rebalance",
			zap.Float64("stable", wallet.Stable),
			zap.Float64("last_known", rec.LastKnownStableBalance),
		)
		l.state.forceRebalance = true
	}

	switch {
	case rec.PositionID.IsNone():
		adopted, err := l.adoptOrphans(ctx, c)
		if err != nil || adopted {
			return err
		}
		return l.rebalance(ctx, c, "initialize")
	case !c.open:
		return l.rebalance(ctx, c, "position closed")
	case !c.position.Range.Contains(pool.Tick):
		return l.rebalance(ctx, c, "out of range")
	case l.state.forceRebalance:
		return l.rebalance(ctx, c, "forced")
	default:
		return l.adjustHedge(ctx, c, hedge.LPVolatile(c.position), rec.PositionID)
	}
}

// syncFlags applies flags an operator cleared while the loop was running.
func (l *Loop) syncFlags(ctx context.Context, c *cycle) {
	switch l.state.machine.Current() {
	case strategy.StateCircuitBroken:
		if !c.record.CircuitBreaker {
			l.state.machine.Apply(strategy.EventBreakerReset)
			l.alert(ctx, c.log, "Circuit breaker reset", "Operator cleared the breaker flag; automated operation resumes.")
		}
	case strategy.StateStandby:
		if !c.record.Standby {
			l.state.machine.Apply(strategy.EventPullback)
			c.log.Info("standby cleared by operator")
		}
	case strategy.StateActive:
		if c.record.CircuitBreaker {
			l.state.machine.Apply(strategy.EventCircuitBreak)
		} else if c.record.Standby {
			l.state.machine.SetState(strategy.StateStandby)
		}
	}
}

func (l *Loop) rebalance(ctx context.Context, c *cycle, reason string) error {
	log := logging.Phase(c.log, "rebalance")
	oldID := c.record.PositionID
	log.Info("rebalance", zap.String("reason", reason), zap.String("old_position", oldID.String()))
	out, err := l.deps.Rebalancer.ExecuteFullRebalance(ctx, c.pool, oldID)
	if err != nil {
		l.journalEvent(c, oldID, rebalance.Outcome{Kind: rebalance.KindAborted, Reason: err.Error()})
		return fmt.Errorf("rebalance (%s): %w", reason, err)
	}
	l.journalEvent(c, oldID, out)
	switch out.Kind {
	case rebalance.KindAborted:
		l.deps.Metrics.RebalancesAborted.Inc()
		l.alert(ctx, log, "Rebalance aborted", fmt.Sprintf("%s: %v", out.Reason, out.Cause))
	case rebalance.KindProfitSecured:
		l.state.positionID = strategy.NoPosition
		l.state.forceRebalance = false
		return l.enterStandby(ctx, c, out.Price)
	case rebalance.KindMinted:
		l.state.positionID = out.PositionID
		l.state.forceRebalance = false
		l.deps.Metrics.Rebalances.Inc()
		log.Info("rebalance complete",
			zap.String("position", out.PositionID.String()),
			zap.Int("tick_lower", out.Range.Lower),
			zap.Int("tick_upper", out.Range.Upper),
		)
	}
	return nil
}

// adoptOrphans looks for positions the wallet owns while the ledger records
// none, which happens when a mint landed after its confirmation timed out.
// The first one is recorded and the rest are exited.
func (l *Loop) adoptOrphans(ctx context.Context, c *cycle) (bool, error) {
	log := logging.Phase(c.log, "reconcile")
	owned, err := l.deps.AMM.OpenPositions(ctx)
	if err != nil {
		return false, fmt.Errorf("list owned positions: %w", err)
	}
	if len(owned) == 0 {
		return false, nil
	}
	id := owned[0]
	if _, err := l.deps.Ledger.Save(ctx, state.SetPosition(id, c.wallet.Stable)); err != nil {
		return false, fmt.Errorf("record adopted position %s: %w", id, err)
	}
	l.state.positionID = id
	log.Warn("adopted untracked position", zap.String("position", id.String()), zap.Int("owned", len(owned)))
	var errs []error
	for _, extra := range owned[1:] {
		if err := l.deps.AMM.ExitPosition(ctx, extra); err != nil {
			errs = append(errs, fmt.Errorf("exit untracked position %s: %w", extra, err))
			continue
		}
		log.Info("exited untracked position", zap.String("position", extra.String()))
	}
	l.alert(ctx, log, "Position adopted", fmt.Sprintf("Ledger had no position; adopted %s (%d owned in pool).", id, len(owned)))
	return true, errors.Join(errs...)
}

func (l *Loop) adjustHedge(ctx context.Context, c *cycle, lpHeld float64, id strategy.PositionID) error {
	res, err := l.deps.Hedger.AdjustHedge(ctx, lpHeld, id)
	if res.Panicked() {
		l.enterSafeMode(c, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("adjust hedge: %w", err)
	}
	switch res.Action {
	case hedge.ActionIncrease, hedge.ActionDecrease:
		l.deps.Metrics.HedgeAdjustments.Inc()
	case hedge.ActionRefused:
		l.deps.Metrics.BorrowsRefused.Inc()
	}
	logging.Phase(c.log, "hedge").Info("hedge evaluated", zap.String("action", res.Action.String()), zap.Float64("amount", res.Amount))
	return nil
}

// panicExit prefers the persisted position id and falls back to the one
// seen by the last cycle when the ledger cannot be read.
func (l *Loop) panicExit(ctx context.Context, c *cycle, cached strategy.PositionID) {
	id := cached
	if rec, err := l.deps.Ledger.Load(ctx); err == nil {
		id = rec.PositionID
	} else {
		c.log.Warn("ledger unreadable during panic, using cached position", zap.Error(err))
	}
	var extra []strategy.PositionID
	if id.IsNone() {
		if owned, err := l.deps.AMM.OpenPositions(ctx); err != nil {
			c.log.Warn("owned positions unreadable during panic", zap.Error(err))
		} else if len(owned) > 0 {
			id, extra = owned[0], owned[1:]
			c.log.Warn("panic exit picking up untracked position", zap.String("position", id.String()))
		}
	}
	_, err := l.deps.Hedger.PanicExitAll(ctx, id)
	for _, other := range extra {
		if exitErr := l.deps.AMM.ExitPosition(ctx, other); exitErr != nil {
			err = errors.Join(err, fmt.Errorf("exit untracked position %s: %w", other, exitErr))
		}
	}
	l.enterSafeMode(c, err)
}

func (l *Loop) enterSafeMode(c *cycle, err error) {
	l.deps.Metrics.PanicExits.Inc()
	l.state.machine.Apply(strategy.EventPanic)
	l.state.positionID = strategy.NoPosition
	if err != nil {
		c.log.Error("panic exit finished with errors", zap.Error(err))
	}
	c.log.Error("safe mode entered")
	l.state.safeOnce.Do(func() { close(l.state.safe) })
}

func (l *Loop) alert(ctx context.Context, log *zap.Logger, subject, body string) {
	if l.deps.Alerts == nil {
		return
	}
	if err := l.deps.Alerts.Send(ctx, subject, body); err != nil {
		log.Warn("alert send failed", zap.String("subject", subject), zap.Error(err))
	}
}
