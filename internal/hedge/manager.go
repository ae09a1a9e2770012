// Package hedge keeps a variable-rate borrow of the volatile asset sized to
// the volatile amount held in the liquidity position.
package hedge

import (
	"context"
	"errors"
	"fmt"
	"math"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/state"
	"lp-hedge-bot/internal/strategy"

	"go.uber.org/zap"
)

// forceRepayBuffer over-buys the volatile asset before a full repay so
// interest accrued since the debt read does not leave the wallet short.
const forceRepayBuffer = 1.002

type Lending interface {
	AccountData(ctx context.Context) (strategy.HedgeState, error)
	Debt(ctx context.Context) (float64, error)
	Borrow(ctx context.Context, amount float64) error
	Repay(ctx context.Context, amount float64, all bool) error
}

type AMM interface {
	Balances(ctx context.Context) (strategy.Balances, error)
	Swap(ctx context.Context, order strategy.SwapOrder) error
	ExitPosition(ctx context.Context, id strategy.PositionID) error
}

type Ledger interface {
	Save(ctx context.Context, update state.RecordUpdate) (state.PositionRecord, error)
}

type Alerter interface {
	Send(ctx context.Context, subject, body string) error
}

type Action int

const (
	ActionNone Action = iota
	ActionIncrease
	ActionDecrease
	ActionRefused
	ActionPanicked
)

func (a Action) String() string {
	switch a {
	case ActionIncrease:
		return "increase"
	case ActionDecrease:
		return "decrease"
	case ActionRefused:
		return "refused"
	case ActionPanicked:
		return "panicked"
	default:
		return "none"
	}
}

// Result reports what a hedge call did. ActionPanicked means the panic
// sequence ran and the caller must stop automated operation.
type Result struct {
	Action       Action
	Amount       float64
	HealthFactor float64
}

func (r Result) Panicked() bool {
	return r.Action == ActionPanicked
}

type Manager struct {
	lending Lending
	amm     AMM
	ledger  Ledger
	alerts  Alerter
	cfg     config.HedgeConfig
	log     *zap.Logger
}

func NewManager(lending Lending, amm AMM, ledger Ledger, alerts Alerter, cfg config.HedgeConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		lending: lending,
		amm:     amm,
		ledger:  ledger,
		alerts:  alerts,
		cfg:     cfg,
		log:     log,
	}
}

// ReadState returns the normalized health factor and the outstanding debt.
func (m *Manager) ReadState(ctx context.Context) (strategy.HedgeState, error) {
	st, err := m.lending.AccountData(ctx)
	if err != nil {
		return strategy.HedgeState{}, fmt.Errorf("account data: %w", err)
	}
	st.HealthFactor = strategy.NormalizeHealthFactor(m.cfg, st.HealthFactor, st.CollateralUSD)
	debt, err := m.lending.Debt(ctx)
	if err != nil {
		return strategy.HedgeState{}, fmt.Errorf("debt: %w", err)
	}
	st.Debt = debt
	return st, nil
}

// CheckHealth reads the hedge state and reports whether the health factor
// is below the critical floor.
func (m *Manager) CheckHealth(ctx context.Context) (strategy.HedgeState, bool, error) {
	st, err := m.ReadState(ctx)
	if err != nil {
		return strategy.HedgeState{}, false, err
	}
	return st, st.HealthFactor < m.cfg.CriticalHealthFactor, nil
}

// AdjustHedge moves the debt toward lpHeld. Differences inside the
// threshold band are ignored. A critical health factor runs PanicExitAll
// instead.
func (m *Manager) AdjustHedge(ctx context.Context, lpHeld float64, id strategy.PositionID) (Result, error) {
	st, critical, err := m.CheckHealth(ctx)
	if err != nil {
		return Result{}, err
	}
	if critical {
		m.log.Error("health factor below critical floor",
			zap.Float64("health_factor", st.HealthFactor),
			zap.Float64("critical", m.cfg.CriticalHealthFactor),
		)
		return m.PanicExitAll(ctx, id)
	}
	diff := lpHeld - st.Debt
	m.log.Info("hedge delta",
		zap.Float64("lp_volatile", lpHeld),
		zap.Float64("debt", st.Debt),
		zap.Float64("diff", diff),
		zap.Float64("health_factor", st.HealthFactor),
	)
	switch {
	case diff > m.cfg.Threshold:
		return m.IncreaseShort(ctx, diff)
	case diff < -m.cfg.Threshold:
		return m.DecreaseShort(ctx, -diff, false)
	default:
		return Result{Action: ActionNone, HealthFactor: st.HealthFactor}, nil
	}
}

// IncreaseShort borrows amount and sells it for the stable asset. Borrowing
// is refused while the health factor is under the target.
func (m *Manager) IncreaseShort(ctx context.Context, amount float64) (Result, error) {
	if amount <= 0 {
		return Result{Action: ActionNone}, nil
	}
	st, err := m.ReadState(ctx)
	if err != nil {
		return Result{}, err
	}
	if st.HealthFactor < m.cfg.TargetHealthFactor {
		m.log.Warn("borrow refused",
			zap.Float64("amount", amount),
			zap.Float64("health_factor", st.HealthFactor),
			zap.Float64("target", m.cfg.TargetHealthFactor),
		)
		m.alert(ctx, "Borrow refused", fmt.Sprintf("Health factor %.3f is below target %.3f; hedge short of %.6f not opened.", st.HealthFactor, m.cfg.TargetHealthFactor, amount))
		return Result{Action: ActionRefused, Amount: amount, HealthFactor: st.HealthFactor}, nil
	}
	if err := m.lending.Borrow(ctx, amount); err != nil {
		return Result{}, fmt.Errorf("borrow %.6f: %w", amount, err)
	}
	if err := m.amm.Swap(ctx, strategy.SwapOrder{Side: strategy.SellVolatile, AmountIn: amount}); err != nil {
		return Result{}, fmt.Errorf("sell borrowed %.6f: %w", amount, err)
	}
	m.refreshStableBalance(ctx)
	m.log.Info("short increased", zap.Float64("amount", amount))
	return Result{Action: ActionIncrease, Amount: amount, HealthFactor: st.HealthFactor}, nil
}

// DecreaseShort repays amount of debt, first buying any volatile shortfall
// with the stable balance. force repays the entire outstanding debt.
func (m *Manager) DecreaseShort(ctx context.Context, amount float64, force bool) (Result, error) {
	if amount <= 0 && !force {
		return Result{Action: ActionNone}, nil
	}
	need := amount
	if force {
		debt, err := m.lending.Debt(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("debt: %w", err)
		}
		if debt <= 0 {
			return Result{Action: ActionNone}, nil
		}
		amount = debt
		need = debt * forceRepayBuffer
	}
	wallet, err := m.amm.Balances(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("balances: %w", err)
	}
	if deficit := need - wallet.Volatile; deficit > 0 {
		if wallet.Stable <= 0 {
			return Result{}, fmt.Errorf("cannot buy %.6f volatile to repay: no stable balance", deficit)
		}
		order := strategy.SwapOrder{
			Side:        strategy.BuyVolatile,
			ExactOutput: true,
			AmountOut:   deficit,
			MaxIn:       wallet.Stable,
		}
		if err := m.amm.Swap(ctx, order); err != nil {
			return Result{}, fmt.Errorf("buy %.6f for repay: %w", deficit, err)
		}
		m.log.Info("bought volatile for repay", zap.Float64("amount", deficit))
	}
	if err := m.lending.Repay(ctx, amount, force); err != nil {
		return Result{}, fmt.Errorf("repay %.6f: %w", amount, err)
	}
	m.refreshStableBalance(ctx)
	m.log.Info("short decreased", zap.Float64("amount", amount), zap.Bool("force", force))
	return Result{Action: ActionDecrease, Amount: amount}, nil
}

// PanicExitAll alerts, exits the position, clears the ledger and force
// repays the debt. Every step runs even if an earlier one failed; the
// errors are joined. The caller must treat the result as terminal.
func (m *Manager) PanicExitAll(ctx context.Context, id strategy.PositionID) (Result, error) {
	m.log.Error("panic exit", zap.String("position", id.String()))
	m.alert(ctx, "PANIC EXIT", fmt.Sprintf("Health factor below %.3f. Exiting position %s and repaying all debt. Bot will stop.", m.cfg.CriticalHealthFactor, id))

	var errs []error
	if !id.IsNone() {
		if err := m.amm.ExitPosition(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("exit position %s: %w", id, err))
		} else if _, err := m.ledger.Save(ctx, state.ClearPosition()); err != nil {
			errs = append(errs, fmt.Errorf("clear ledger: %w", err))
		}
	}
	repaid := 0.0
	res, err := m.DecreaseShort(ctx, 0, true)
	if err != nil {
		errs = append(errs, err)
	} else {
		repaid = res.Amount
	}
	joined := errors.Join(errs...)
	if joined != nil {
		m.log.Error("panic exit incomplete", zap.Error(joined))
	} else {
		m.log.Warn("panic exit complete", zap.Float64("repaid", repaid))
	}
	return Result{Action: ActionPanicked, Amount: repaid}, joined
}

func (m *Manager) refreshStableBalance(ctx context.Context) {
	wallet, err := m.amm.Balances(ctx)
	if err != nil {
		m.log.Warn("balance refresh failed", zap.Error(err))
		return
	}
	if _, err := m.ledger.Save(ctx, state.SetStableBalance(wallet.Stable)); err != nil {
		m.log.Warn("stable balance persist failed", zap.Error(err))
	}
}

func (m *Manager) alert(ctx context.Context, subject, body string) {
	if m.alerts == nil {
		return
	}
	if err := m.alerts.Send(ctx, subject, body); err != nil {
		m.log.Warn("alert send failed", zap.String("subject", subject), zap.Error(err))
	}
}

// LPVolatile returns the volatile amount the position exposes, fees
// included.
func LPVolatile(info strategy.PositionInfo) float64 {
	return math.Max(info.Amounts.Volatile+info.Fees.Volatile, 0)
}
