package hedge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/state"
	"lp-hedge-bot/internal/strategy"
)

type callLog struct {
	calls []string
}

func (c *callLog) add(format string, args ...any) {
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *callLog) index(call string) int {
	for i, v := range c.calls {
		if v == call {
			return i
		}
	}
	return -1
}

func (c *callLog) count(prefix string) int {
	n := 0
	for _, v := range c.calls {
		if len(v) >= len(prefix) && v[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type stubLending struct {
	log        *callLog
	hf         float64
	collateral float64
	debt       float64
	repayErr   error
}

func (s *stubLending) AccountData(ctx context.Context) (strategy.HedgeState, error) {
	s.log.add("account")
	return strategy.HedgeState{HealthFactor: s.hf, CollateralUSD: s.collateral}, nil
}

func (s *stubLending) Debt(ctx context.Context) (float64, error) {
	s.log.add("debt")
	return s.debt, nil
}

func (s *stubLending) Borrow(ctx context.Context, amount float64) error {
	s.log.add("borrow")
	s.debt += amount
	return nil
}

func (s *stubLending) Repay(ctx context.Context, amount float64, all bool) error {
	s.log.add("repay:%t", all)
	if s.repayErr != nil {
		return s.repayErr
	}
	if all {
		s.debt = 0
	} else {
		s.debt -= amount
	}
	return nil
}

type stubAMM struct {
	log     *callLog
	wallet  strategy.Balances
	exitErr error
	swaps   []strategy.SwapOrder
}

func (s *stubAMM) Balances(ctx context.Context) (strategy.Balances, error) {
	s.log.add("balances")
	return s.wallet, nil
}

func (s *stubAMM) Swap(ctx context.Context, order strategy.SwapOrder) error {
	s.log.add("swap:%s", order.Side)
	s.swaps = append(s.swaps, order)
	return nil
}

func (s *stubAMM) ExitPosition(ctx context.Context, id strategy.PositionID) error {
	s.log.add("exit:%s", id)
	return s.exitErr
}

type stubLedger struct {
	log    *callLog
	record state.PositionRecord
}

func (l *stubLedger) Save(ctx context.Context, update state.RecordUpdate) (state.PositionRecord, error) {
	if update.PositionID != nil {
		l.log.add("ledger:%s", *update.PositionID)
		l.record.PositionID = *update.PositionID
	}
	return l.record, nil
}

type stubAlerts struct {
	log *callLog
	err error
}

func (a *stubAlerts) Send(ctx context.Context, subject, body string) error {
	a.log.add("alert:%s", subject)
	return a.err
}

func hedgeConfig() config.HedgeConfig {
	return config.HedgeConfig{
		Threshold:            0.01,
		CriticalHealthFactor: 1.0,
		TargetHealthFactor:   1.5,
		HealthFactorCeiling:  100,
		CollateralDustUSD:    1,
	}
}

type fixture struct {
	log     *callLog
	lending *stubLending
	amm     *stubAMM
	ledger  *stubLedger
	alerts  *stubAlerts
	mgr     *Manager
}

func newFixture(hf, debt float64, wallet strategy.Balances) *fixture {
	log := &callLog{}
	f := &fixture{
		log:     log,
		lending: &stubLending{log: log, hf: hf, collateral: 5000, debt: debt},
		amm:     &stubAMM{log: log, wallet: wallet},
		ledger:  &stubLedger{log: log, record: state.PositionRecord{PositionID: "5"}},
		alerts:  &stubAlerts{log: log},
	}
	f.mgr = NewManager(f.lending, f.amm, f.ledger, f.alerts, hedgeConfig(), nil)
	return f
}

func TestAdjustHedgeNoChurnInsideBand(t *testing.T) {
	f := newFixture(2, 1.0, strategy.Balances{})
	for _, lp := range []float64{1.0, 1.005, 0.995, 1.009, 0.991} {
		res, err := f.mgr.AdjustHedge(context.Background(), lp, "5")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Action != ActionNone {
			t.Fatalf("lp %v: expected no action, got %s", lp, res.Action)
		}
	}
	if f.log.count("borrow") != 0 || f.log.count("repay") != 0 || f.log.count("swap") != 0 {
		t.Fatalf("no mutating calls expected, got %v", f.log.calls)
	}
}

func TestAdjustHedgeIncreasesShort(t *testing.T) {
	f := newFixture(2, 0.5, strategy.Balances{Stable: 100})
	res, err := f.mgr.AdjustHedge(context.Background(), 1.5, "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionIncrease || math.Abs(res.Amount-1.0) > 1e-12 {
		t.Fatalf("expected increase of 1.0, got %+v", res)
	}
	if f.log.index("borrow") > f.log.index("swap:sell_volatile") {
		t.Fatalf("borrow must precede sale, calls %v", f.log.calls)
	}
	if f.amm.swaps[0].MinOut != 0 {
		t.Fatalf("borrowed sale carries no floor")
	}
}

func TestIncreaseShortRefusedBelowTarget(t *testing.T) {
	f := newFixture(1.2, 0.5, strategy.Balances{})
	res, err := f.mgr.AdjustHedge(context.Background(), 1.5, "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionRefused {
		t.Fatalf("expected refused, got %s", res.Action)
	}
	if f.log.count("borrow") != 0 || f.log.count("alert:Borrow refused") != 1 {
		t.Fatalf("expected alert without borrow, calls %v", f.log.calls)
	}
}

func TestDecreaseShortBuysDeficit(t *testing.T) {
	f := newFixture(2, 2, strategy.Balances{Stable: 500, Volatile: 0.2})
	res, err := f.mgr.AdjustHedge(context.Background(), 1.0, "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionDecrease || math.Abs(res.Amount-1.0) > 1e-12 {
		t.Fatalf("expected decrease of 1.0, got %+v", res)
	}
	if len(f.amm.swaps) != 1 {
		t.Fatalf("expected one buy, got %d", len(f.amm.swaps))
	}
	buy := f.amm.swaps[0]
	if !buy.ExactOutput || buy.Side != strategy.BuyVolatile || math.Abs(buy.AmountOut-0.8) > 1e-12 || buy.MaxIn != 500 {
		t.Fatalf("unexpected buy %+v", buy)
	}
	if f.log.index("swap:buy_volatile") > f.log.index("repay:false") {
		t.Fatalf("buy must precede repay, calls %v", f.log.calls)
	}
}

func TestCriticalHealthRunsPanicInOrder(t *testing.T) {
	f := newFixture(0.95, 1.5, strategy.Balances{Stable: 3000, Volatile: 0.4})
	res, err := f.mgr.AdjustHedge(context.Background(), 1.0, "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Panicked() {
		t.Fatalf("expected panic result, got %s", res.Action)
	}
	alert := f.log.index("alert:PANIC EXIT")
	exit := f.log.index("exit:5")
	cleared := f.log.index("ledger:none")
	repay := f.log.index("repay:true")
	if alert < 0 || exit < 0 || cleared < 0 || repay < 0 {
		t.Fatalf("missing panic step in %v", f.log.calls)
	}
	if !(alert < exit && exit < cleared && cleared < repay) {
		t.Fatalf("unexpected panic order %v", f.log.calls)
	}
	if f.ledger.record.PositionID != strategy.NoPosition || f.lending.debt != 0 {
		t.Fatalf("expected cleared ledger and zero debt")
	}
}

func TestPanicContinuesWhenAlertAndExitFail(t *testing.T) {
	f := newFixture(0.5, 1, strategy.Balances{Stable: 3000, Volatile: 2})
	f.alerts.err = errors.New("telegram down")
	f.amm.exitErr = errors.New("exit reverted")
	res, err := f.mgr.PanicExitAll(context.Background(), "5")
	if !res.Panicked() {
		t.Fatalf("expected panicked result")
	}
	if err == nil || !errors.Is(err, f.amm.exitErr) {
		t.Fatalf("expected joined exit error, got %v", err)
	}
	if f.log.index("repay:true") < 0 {
		t.Fatalf("repay must still run, calls %v", f.log.calls)
	}
	if f.ledger.record.PositionID != "5" {
		t.Fatalf("ledger must not be cleared after a failed exit")
	}
}

func TestPanicWithoutPositionSkipsExit(t *testing.T) {
	f := newFixture(0.5, 0, strategy.Balances{})
	if _, err := f.mgr.PanicExitAll(context.Background(), strategy.NoPosition); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.log.count("exit") != 0 || f.log.count("repay") != 0 {
		t.Fatalf("expected no exit or repay, calls %v", f.log.calls)
	}
}

func TestReadStateNormalizesDustCollateral(t *testing.T) {
	f := newFixture(0.0001, 0, strategy.Balances{})
	f.lending.collateral = 0.1
	st, critical, err := f.mgr.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if critical || st.HealthFactor != strategy.HealthFactorSentinel {
		t.Fatalf("expected sentinel health factor, got %v critical=%v", st.HealthFactor, critical)
	}
}
