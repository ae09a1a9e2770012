package state

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"lp-hedge-bot/internal/strategy"
)

type memoryStore struct {
	mu     sync.Mutex
	items  map[string]string
	getErr error
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) CompareAndSwap(ctx context.Context, key, old string, existed bool, value string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[key]
	if ok != existed || (ok && cur != old) {
		return false, nil
	}
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return true, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

// racingStore lets another writer land between the ledger's read and its
// conditional write.
type racingStore struct {
	memoryStore
	races int
	race  func(*memoryStore)
}

func (r *racingStore) CompareAndSwap(ctx context.Context, key, old string, existed bool, value string) (bool, error) {
	if r.races > 0 {
		r.races--
		r.race(&r.memoryStore)
	}
	return r.memoryStore.CompareAndSwap(ctx, key, old, existed, value)
}

func TestLedgerLoadMissingIsFresh(t *testing.T) {
	ledger := NewLedger(&memoryStore{}, "", nil)
	rec, err := ledger.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.PositionID.IsNone() || rec.Standby || rec.CircuitBreaker {
		t.Fatalf("expected fresh record, got %+v", rec)
	}
}

func TestLedgerCorruptIsFresh(t *testing.T) {
	store := &memoryStore{items: map[string]string{"ledger:bot": "{not json"}}
	ledger := NewLedger(store, "bot", nil)
	rec, err := ledger.Load(context.Background())
	if err != nil {
		t.Fatalf("corrupt record should not error: %v", err)
	}
	if rec.PositionID != strategy.NoPosition {
		t.Fatalf("expected no position, got %s", rec.PositionID)
	}
}

func TestLedgerStoreErrorPropagates(t *testing.T) {
	ledger := NewLedger(&memoryStore{getErr: errors.New("disk gone")}, "bot", nil)
	if _, err := ledger.Load(context.Background()); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestLedgerPartialUpdatesKeepOtherFields(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(&memoryStore{}, "bot", nil)
	if _, err := ledger.Save(ctx, SetPosition("1234", 980.5)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := ledger.Save(ctx, EnterStandby(2500)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	rec, err := ledger.Save(ctx, TripBreaker(2100))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if rec.PositionID != "1234" || rec.LastKnownStableBalance != 980.5 {
		t.Fatalf("position fields clobbered: %+v", rec)
	}
	if !rec.Standby || rec.StandbyReferencePrice != 2500 {
		t.Fatalf("standby fields clobbered: %+v", rec)
	}
	if !rec.CircuitBreaker || rec.CircuitBreakerExitPrice != 2100 {
		t.Fatalf("breaker fields not set: %+v", rec)
	}

	if _, err := ledger.Save(ctx, ClearPosition()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	rec, err = ledger.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if rec.PositionID != strategy.NoPosition || rec.LastKnownStableBalance != 980.5 {
		t.Fatalf("clear should only touch position id: %+v", rec)
	}
	if !rec.Standby {
		t.Fatalf("clear should not touch standby")
	}
}

func TestLedgerResetFlags(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(&memoryStore{}, "bot", nil)
	_, _ = ledger.Save(ctx, EnterStandby(2500))
	_, _ = ledger.Save(ctx, TripBreaker(2100))
	_, _ = ledger.Save(ctx, ExitStandby())
	rec, err := ledger.Save(ctx, ResetBreaker())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if rec.Standby || rec.StandbyReferencePrice != 0 || rec.CircuitBreaker || rec.CircuitBreakerExitPrice != 0 {
		t.Fatalf("expected flags cleared, got %+v", rec)
	}
}

func TestLedgerInstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{}
	a := NewLedger(store, "a", nil)
	b := NewLedger(store, "b", nil)
	_, _ = a.Save(ctx, SetPosition("7", 0))
	rec, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !rec.PositionID.IsNone() {
		t.Fatalf("instance b saw instance a's position")
	}
}

func TestLedgerSaveKeepsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{races: 1}
	other := NewLedger(&store.memoryStore, "bot", nil)
	store.race = func(*memoryStore) {
		if _, err := other.Save(ctx, TripBreaker(2100)); err != nil {
			t.Fatalf("concurrent save failed: %v", err)
		}
	}
	ledger := NewLedger(store, "bot", nil)
	if _, err := ledger.Save(ctx, SetPosition("9", 400)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	rec, err := ledger.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if rec.PositionID != "9" || rec.LastKnownStableBalance != 400 {
		t.Fatalf("retried save lost its own update: %+v", rec)
	}
	if !rec.CircuitBreaker || rec.CircuitBreakerExitPrice != 2100 {
		t.Fatalf("retried save clobbered the concurrent write: %+v", rec)
	}
}

func TestLedgerSaveGivesUpUnderContention(t *testing.T) {
	ctx := context.Background()
	n := 0.0
	store := &racingStore{races: saveAttempts}
	store.items = map[string]string{}
	store.race = func(m *memoryStore) {
		n++
		m.items["ledger:bot"] = `{"positionId":"1","lastKnownCollateralBalance":` + strconv.FormatFloat(n, 'f', -1, 64) + `}`
	}
	ledger := NewLedger(store, "bot", nil)
	if _, err := ledger.Save(ctx, ClearPosition()); !errors.Is(err, ErrLedgerConflict) {
		t.Fatalf("expected ErrLedgerConflict, got %v", err)
	}
}
