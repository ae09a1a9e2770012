package timescale

import (
	"testing"
	"time"

	"lp-hedge-bot/internal/config"

	"go.uber.org/zap"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{Enabled: false}, zap.NewNop())
	if err != nil || w != nil {
		t.Fatalf("expected nil writer, got %v err=%v", w, err)
	}
	w.EnqueueSnapshot(CycleSnapshot{})
	w.EnqueueEvent(RebalanceEvent{})
	if s, e := w.Dropped(); s != 0 || e != 0 {
		t.Fatalf("nil writer reports no drops")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected dsn error")
	}
	cfg := config.TimescaleConfig{Enabled: true, DSN: "postgres://localhost/db", Schema: "bad;drop"}
	if _, err := New(cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected schema error")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, "public", 1, zap.NewNop())
	now := time.Now()
	w.EnqueueSnapshot(CycleSnapshot{Time: now})
	w.EnqueueSnapshot(CycleSnapshot{Time: now})
	w.EnqueueEvent(RebalanceEvent{Time: now})
	w.EnqueueEvent(RebalanceEvent{Time: now})
	w.EnqueueEvent(RebalanceEvent{Time: now})
	snaps, events := w.Dropped()
	if snaps != 1 || events != 2 {
		t.Fatalf("expected 1/2 drops, got %d/%d", snaps, events)
	}
	if w.table("cycle_snapshots") != "public.cycle_snapshots" {
		t.Fatalf("unexpected table name %s", w.table("cycle_snapshots"))
	}
}
