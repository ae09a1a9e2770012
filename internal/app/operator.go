package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/hedge"
	"lp-hedge-bot/internal/state"
	"lp-hedge-bot/internal/strategy"

	"go.uber.org/zap"
)

// Operator runs manual remediation outside the control loop.
type Operator struct {
	amm    AMM
	hedger Hedger
	ledger Ledger
	log    *zap.Logger
}

func NewOperator(amm AMM, hedger Hedger, ledger Ledger, log *zap.Logger) *Operator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Operator{amm: amm, hedger: hedger, ledger: ledger, log: log}
}

type Status struct {
	Record   state.PositionRecord
	Hedge    strategy.HedgeState
	Pool     strategy.PoolSnapshot
	Wallet   strategy.Balances
	Position *strategy.PositionInfo
	ValueUSD float64
}

func (o *Operator) Status(ctx context.Context) (Status, error) {
	var st Status
	rec, err := o.ledger.Load(ctx)
	if err != nil {
		return st, err
	}
	st.Record = rec
	if st.Hedge, _, err = o.hedger.CheckHealth(ctx); err != nil {
		return st, err
	}
	if st.Pool, err = o.amm.Pool(ctx); err != nil {
		return st, err
	}
	if st.Wallet, err = o.amm.Balances(ctx); err != nil {
		return st, err
	}
	var position, fees strategy.Balances
	if !rec.PositionID.IsNone() {
		info, err := o.amm.Position(ctx, rec.PositionID, st.Pool)
		if err != nil {
			o.log.Warn("position unreadable", zap.String("position", rec.PositionID.String()), zap.Error(err))
		} else {
			st.Position = &info
			position, fees = info.Amounts, info.Fees
		}
	}
	st.ValueUSD = strategy.PortfolioValueUSD(st.Pool.Price, st.Wallet, position, fees)
	return st, nil
}

func (s Status) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "position:        %s\n", s.Record.PositionID)
	if s.Position != nil {
		fmt.Fprintf(&b, "range:           [%d, %d) in_range=%t\n", s.Position.Range.Lower, s.Position.Range.Upper, s.Position.Range.Contains(s.Pool.Tick))
		fmt.Fprintf(&b, "lp amounts:      stable=%.6f volatile=%.6f\n", s.Position.Amounts.Stable, s.Position.Amounts.Volatile)
		fmt.Fprintf(&b, "pending fees:    stable=%.6f volatile=%.6f\n", s.Position.Fees.Stable, s.Position.Fees.Volatile)
	}
	fmt.Fprintf(&b, "pool tick:       %d\n", s.Pool.Tick)
	fmt.Fprintf(&b, "price:           %.6f\n", s.Pool.Price)
	fmt.Fprintf(&b, "wallet:          stable=%.6f volatile=%.6f\n", s.Wallet.Stable, s.Wallet.Volatile)
	fmt.Fprintf(&b, "health factor:   %s\n", formatHealth(s.Hedge.HealthFactor))
	fmt.Fprintf(&b, "debt:            %.6f\n", s.Hedge.Debt)
	fmt.Fprintf(&b, "portfolio usd:   %.2f\n", s.ValueUSD)
	fmt.Fprintf(&b, "standby:         %t (reference %.6f)\n", s.Record.Standby, s.Record.StandbyReferencePrice)
	fmt.Fprintf(&b, "circuit breaker: %t (exit price %.6f)\n", s.Record.CircuitBreaker, s.Record.CircuitBreakerExitPrice)
	return b.String()
}

// CloseAll exits the recorded position, clears the ledger and repays all
// debt. Each step runs even if an earlier one failed.
func (o *Operator) CloseAll(ctx context.Context) error {
	rec, err := o.ledger.Load(ctx)
	if err != nil {
		return err
	}
	var errs []error
	if !rec.PositionID.IsNone() {
		o.log.Info("exiting position", zap.String("position", rec.PositionID.String()))
		if err := o.amm.ExitPosition(ctx, rec.PositionID); err != nil {
			errs = append(errs, fmt.Errorf("exit position %s: %w", rec.PositionID, err))
		} else if _, err := o.ledger.Save(ctx, state.ClearPosition()); err != nil {
			errs = append(errs, fmt.Errorf("clear ledger: %w", err))
		}
	}
	owned, err := o.amm.OpenPositions(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list owned positions: %w", err))
	}
	for _, id := range owned {
		if id == rec.PositionID {
			continue
		}
		o.log.Info("exiting untracked position", zap.String("position", id.String()))
		if err := o.amm.ExitPosition(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("exit position %s: %w", id, err))
		}
	}
	res, err := o.hedger.DecreaseShort(ctx, 0, true)
	if err != nil {
		errs = append(errs, err)
	} else if res.Action == hedge.ActionDecrease {
		o.log.Info("debt repaid", zap.Float64("amount", res.Amount))
	}
	return errors.Join(errs...)
}

func (o *Operator) ResetBreaker(ctx context.Context) error {
	_, err := o.ledger.Save(ctx, state.ResetBreaker())
	return err
}

func (o *Operator) ResetStandby(ctx context.Context) error {
	_, err := o.ledger.Save(ctx, state.ExitStandby())
	return err
}

// OpenLedger opens only the state store, for commands that never touch
// the chain.
func OpenLedger(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Operator, func() error, error) {
	store, err := openStore(ctx, cfg.State)
	if err != nil {
		return nil, nil, err
	}
	ledger := state.NewLedger(store, cfg.State.InstanceKey, log)
	return NewOperator(nil, nil, ledger, log), store.Close, nil
}
