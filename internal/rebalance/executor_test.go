package rebalance

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/market"
	"lp-hedge-bot/internal/state"
	"lp-hedge-bot/internal/strategy"
)

type stubAMM struct {
	calls    []string
	pool     strategy.PoolSnapshot
	twap     int
	wallet   strategy.Balances
	mintID   strategy.PositionID
	exitErr  error
	swapErr  error
	mintErr  error
	quoteOut float64

	swaps  []strategy.SwapOrder
	minted []strategy.Balances
	ranges []strategy.TickRange
}

func (s *stubAMM) Pool(ctx context.Context) (strategy.PoolSnapshot, error) {
	s.calls = append(s.calls, "pool")
	return s.pool, nil
}

func (s *stubAMM) TWAPTick(ctx context.Context, window time.Duration) (int, error) {
	s.calls = append(s.calls, "twap")
	return s.twap, nil
}

func (s *stubAMM) Balances(ctx context.Context) (strategy.Balances, error) {
	s.calls = append(s.calls, "balances")
	return s.wallet, nil
}

func (s *stubAMM) ExitPosition(ctx context.Context, id strategy.PositionID) error {
	s.calls = append(s.calls, "exit:"+string(id))
	return s.exitErr
}

func (s *stubAMM) Swap(ctx context.Context, order strategy.SwapOrder) error {
	s.calls = append(s.calls, "swap:"+order.Side.String())
	if s.swapErr != nil {
		return s.swapErr
	}
	s.swaps = append(s.swaps, order)
	price := s.pool.Price
	if order.Side == strategy.BuyVolatile {
		s.wallet.Stable -= order.AmountIn
		s.wallet.Volatile += order.AmountIn / price
	} else {
		s.wallet.Volatile -= order.AmountIn
		s.wallet.Stable += order.AmountIn * price
	}
	return nil
}

func (s *stubAMM) Quote(ctx context.Context, side strategy.SwapSide, amountIn float64) (float64, error) {
	s.calls = append(s.calls, "quote")
	return s.quoteOut, nil
}

func (s *stubAMM) Mint(ctx context.Context, rng strategy.TickRange, amounts strategy.Balances) (strategy.PositionID, error) {
	s.calls = append(s.calls, "mint")
	if s.mintErr != nil {
		return strategy.NoPosition, s.mintErr
	}
	s.minted = append(s.minted, amounts)
	s.ranges = append(s.ranges, rng)
	s.wallet.Stable -= amounts.Stable
	s.wallet.Volatile -= amounts.Volatile
	return s.mintID, nil
}

func (s *stubAMM) index(call string) int {
	for i, c := range s.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func (s *stubAMM) has(prefix string) bool {
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

type stubSignals struct {
	signal strategy.MarketSignal
	err    error
	calls  int
}

func (s *stubSignals) Signals(ctx context.Context) (strategy.MarketSignal, error) {
	s.calls++
	return s.signal, s.err
}

type stubLedger struct {
	updates []state.RecordUpdate
	record  state.PositionRecord
	amm     *stubAMM
}

func (l *stubLedger) Save(ctx context.Context, update state.RecordUpdate) (state.PositionRecord, error) {
	l.updates = append(l.updates, update)
	if update.PositionID != nil {
		l.record.PositionID = *update.PositionID
		if l.amm != nil {
			l.amm.calls = append(l.amm.calls, "ledger:"+string(*update.PositionID))
		}
	}
	if update.LastKnownStableBalance != nil {
		l.record.LastKnownStableBalance = *update.LastKnownStableBalance
	}
	return l.record, nil
}

func testPool(tick int) strategy.PoolSnapshot {
	return strategy.PoolSnapshot{
		SqrtPriceX96:     big.NewInt(1),
		Tick:             tick,
		Liquidity:        big.NewInt(1),
		TickSpacing:      10,
		Price:            2000,
		VolatileIsToken0: true,
	}
}

func testRebalanceConfig() config.RebalanceConfig {
	return config.RebalanceConfig{
		TWAPWindow:         300 * time.Second,
		MaxTickDeviation:   200,
		MinSwapUSD:         10,
		BuyFraction:        0.5,
		SellFraction:       0.5,
		SlippageBps:        50,
		MintHaircut:        0.999,
		ProfitVolatileDust: 5,
		ProfitStableMinUSD: 100,
	}
}

func newTestExecutor(amm *stubAMM, sig *stubSignals, ledger *stubLedger, cfg config.RebalanceConfig) *Executor {
	return NewExecutor(amm, sig, ledger, cfg, config.DefaultRange(), nil)
}

func goodSignal() strategy.MarketSignal {
	return strategy.MarketSignal{ATR: 40, RSIShort: 50, RSILong: 50}
}

func TestManipulationGuardAbortsWithoutSideEffects(t *testing.T) {
	amm := &stubAMM{pool: testPool(1000), twap: 1201}
	sig := &stubSignals{signal: goodSignal()}
	ledger := &stubLedger{}
	ex := newTestExecutor(amm, sig, ledger, testRebalanceConfig())

	out, err := ex.ExecuteFullRebalance(context.Background(), amm.pool, "7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != KindAborted || !errors.Is(out.Cause, strategy.ErrManipulation) {
		t.Fatalf("expected manipulation abort, got %+v", out)
	}
	if amm.has("exit") || amm.has("swap") || amm.has("mint") {
		t.Fatalf("no mutating calls expected, got %v", amm.calls)
	}
	if sig.calls != 0 || len(ledger.updates) != 0 {
		t.Fatalf("expected no signal fetch or ledger write")
	}
}

func TestMarketDataFailureAbortsBeforeExit(t *testing.T) {
	amm := &stubAMM{pool: testPool(1000), twap: 1000}
	sig := &stubSignals{err: market.ErrUnavailable}
	ex := newTestExecutor(amm, sig, &stubLedger{}, testRebalanceConfig())

	out, err := ex.ExecuteFullRebalance(context.Background(), amm.pool, "7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != KindAborted || !errors.Is(out.Cause, market.ErrUnavailable) {
		t.Fatalf("expected market data abort, got %+v", out)
	}
	if amm.has("exit") {
		t.Fatalf("old position must stay untouched, calls %v", amm.calls)
	}
}

func TestColdStartMintsFromWallet(t *testing.T) {
	amm := &stubAMM{pool: testPool(1000), twap: 1000, wallet: strategy.Balances{Stable: 1000}, mintID: "42"}
	ledger := &stubLedger{amm: amm}
	ex := newTestExecutor(amm, &stubSignals{signal: goodSignal()}, ledger, testRebalanceConfig())

	out, err := ex.ExecuteFullRebalance(context.Background(), amm.pool, strategy.NoPosition)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != KindMinted || out.PositionID != "42" {
		t.Fatalf("expected minted 42, got %+v", out)
	}
	if amm.has("exit") {
		t.Fatalf("no exit expected on cold start")
	}
	if len(amm.swaps) != 1 || amm.swaps[0].Side != strategy.BuyVolatile || math.Abs(amm.swaps[0].AmountIn-500) > 1e-9 {
		t.Fatalf("expected buy of 500 stable, got %+v", amm.swaps)
	}
	if len(amm.minted) != 1 {
		t.Fatalf("expected one mint, got %d", len(amm.minted))
	}
	m := amm.minted[0]
	if math.Abs(m.Stable-500*0.999) > 1e-6 || math.Abs(m.Volatile-0.25*0.999) > 1e-9 {
		t.Fatalf("expected mint sized at 99.9%% of wallet, got %+v", m)
	}
	if ledger.record.PositionID != "42" {
		t.Fatalf("expected ledger position 42, got %s", ledger.record.PositionID)
	}
	rng := out.Range
	if rng.Lower >= rng.Upper || rng.Lower%10 != 0 || rng.Upper%10 != 0 {
		t.Fatalf("invalid range %+v", rng)
	}
}

func TestOutOfRangeOrdersExitSwapMint(t *testing.T) {
	amm := &stubAMM{pool: testPool(5000), twap: 4990, wallet: strategy.Balances{Stable: 200, Volatile: 1}, mintID: "9"}
	ledger := &stubLedger{amm: amm}
	ex := newTestExecutor(amm, &stubSignals{signal: goodSignal()}, ledger, testRebalanceConfig())

	out, err := ex.ExecuteFullRebalance(context.Background(), amm.pool, "8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != KindMinted || out.PositionID != "9" {
		t.Fatalf("expected minted 9, got %+v", out)
	}
	exit := amm.index("exit:8")
	cleared := amm.index("ledger:none")
	swap := amm.index("swap:sell_volatile")
	mint := amm.index("mint")
	saved := amm.index("ledger:9")
	if exit < 0 || cleared < 0 || swap < 0 || mint < 0 || saved < 0 {
		t.Fatalf("missing step in %v", amm.calls)
	}
	if !(exit < cleared && cleared < swap && swap < mint && mint < saved) {
		t.Fatalf("unexpected order %v", amm.calls)
	}
	if ledger.record.PositionID == "8" {
		t.Fatalf("old handle reused")
	}
}

func TestProfitSecuredSkipsMint(t *testing.T) {
	amm := &stubAMM{pool: testPool(5000), twap: 5000, wallet: strategy.Balances{Stable: 2500, Volatile: 0.001}}
	ledger := &stubLedger{amm: amm}
	ex := newTestExecutor(amm, &stubSignals{signal: goodSignal()}, ledger, testRebalanceConfig())

	out, err := ex.ExecuteFullRebalance(context.Background(), amm.pool, "8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != KindProfitSecured {
		t.Fatalf("expected profit secured, got %+v", out)
	}
	if amm.has("swap") || amm.has("mint") {
		t.Fatalf("no swap or mint expected, calls %v", amm.calls)
	}
	if ledger.record.PositionID != strategy.NoPosition {
		t.Fatalf("expected cleared ledger, got %s", ledger.record.PositionID)
	}
}

func TestMintFailureAfterExitLeavesLedgerCleared(t *testing.T) {
	amm := &stubAMM{pool: testPool(5000), twap: 5000, wallet: strategy.Balances{Stable: 1000, Volatile: 0.5}, mintErr: errors.New("reverted")}
	ledger := &stubLedger{amm: amm}
	ex := newTestExecutor(amm, &stubSignals{signal: goodSignal()}, ledger, testRebalanceConfig())

	if _, err := ex.ExecuteFullRebalance(context.Background(), amm.pool, "8"); err == nil {
		t.Fatalf("expected mint error")
	}
	if ledger.record.PositionID != strategy.NoPosition {
		t.Fatalf("expected ledger cleared after exit, got %s", ledger.record.PositionID)
	}
}

func TestQuoterSetsMinOut(t *testing.T) {
	cfg := testRebalanceConfig()
	cfg.UseQuoter = true
	amm := &stubAMM{pool: testPool(0), twap: 0, wallet: strategy.Balances{Stable: 1000}, mintID: "1", quoteOut: 0.24}
	ex := newTestExecutor(amm, &stubSignals{signal: goodSignal()}, &stubLedger{}, cfg)

	if _, err := ex.ExecuteFullRebalance(context.Background(), amm.pool, strategy.NoPosition); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amm.index("quote") < 0 || amm.index("quote") > amm.index("swap:buy_volatile") {
		t.Fatalf("expected quote before swap, calls %v", amm.calls)
	}
	want := 0.24 * (1 - 0.005)
	if math.Abs(amm.swaps[0].MinOut-want) > 1e-12 {
		t.Fatalf("expected min out %v, got %v", want, amm.swaps[0].MinOut)
	}
}
