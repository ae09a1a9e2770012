package state

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"lp-hedge-bot/internal/strategy"

	"go.uber.org/zap"
)

const ledgerKeyPrefix = "ledger:"

// PositionRecord is the durable view of what the bot owns.
type PositionRecord struct {
	PositionID              strategy.PositionID `json:"positionId"`
	LastKnownStableBalance  float64             `json:"lastKnownCollateralBalance"`
	Standby                 bool                `json:"standbyFlag"`
	StandbyReferencePrice   float64             `json:"standbyReferencePrice"`
	CircuitBreaker          bool                `json:"circuitBreakerFlag"`
	CircuitBreakerExitPrice float64             `json:"circuitBreakerExitPrice"`
	UpdatedAtMS             int64               `json:"updatedAtMs"`
}

func FreshRecord() PositionRecord {
	return PositionRecord{PositionID: strategy.NoPosition}
}

// RecordUpdate names the fields a write touches; nil fields are kept.
type RecordUpdate struct {
	PositionID              *strategy.PositionID
	LastKnownStableBalance  *float64
	Standby                 *bool
	StandbyReferencePrice   *float64
	CircuitBreaker          *bool
	CircuitBreakerExitPrice *float64
}

func (u RecordUpdate) apply(rec *PositionRecord) {
	if u.PositionID != nil {
		rec.PositionID = *u.PositionID
	}
	if u.LastKnownStableBalance != nil {
		rec.LastKnownStableBalance = *u.LastKnownStableBalance
	}
	if u.Standby != nil {
		rec.Standby = *u.Standby
	}
	if u.StandbyReferencePrice != nil {
		rec.StandbyReferencePrice = *u.StandbyReferencePrice
	}
	if u.CircuitBreaker != nil {
		rec.CircuitBreaker = *u.CircuitBreaker
	}
	if u.CircuitBreakerExitPrice != nil {
		rec.CircuitBreakerExitPrice = *u.CircuitBreakerExitPrice
	}
}

func ClearPosition() RecordUpdate {
	id := strategy.NoPosition
	return RecordUpdate{PositionID: &id}
}

func SetPosition(id strategy.PositionID, stableBalance float64) RecordUpdate {
	return RecordUpdate{PositionID: &id, LastKnownStableBalance: &stableBalance}
}

func SetStableBalance(stableBalance float64) RecordUpdate {
	return RecordUpdate{LastKnownStableBalance: &stableBalance}
}

func EnterStandby(price float64) RecordUpdate {
	on := true
	return RecordUpdate{Standby: &on, StandbyReferencePrice: &price}
}

func ExitStandby() RecordUpdate {
	off := false
	zero := 0.0
	return RecordUpdate{Standby: &off, StandbyReferencePrice: &zero}
}

func TripBreaker(price float64) RecordUpdate {
	on := true
	return RecordUpdate{CircuitBreaker: &on, CircuitBreakerExitPrice: &price}
}

func ResetBreaker() RecordUpdate {
	off := false
	zero := 0.0
	return RecordUpdate{CircuitBreaker: &off, CircuitBreakerExitPrice: &zero}
}

// Ledger stores one PositionRecord per bot instance.
type Ledger struct {
	store Store
	key   string
	log   *zap.Logger
	now   func() time.Time
}

func NewLedger(store Store, instance string, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	instance = strings.TrimSpace(instance)
	if instance == "" {
		instance = "default"
	}
	return &Ledger{store: store, key: ledgerKeyPrefix + instance, log: log, now: time.Now}
}

// ErrLedgerConflict means other writers kept changing the record while
// Save tried to merge into it.
var ErrLedgerConflict = errors.New("ledger changed concurrently")

const saveAttempts = 5

// Load returns the persisted record. Missing or undecodable documents yield a
// fresh record; only store I/O failures are returned as errors.
func (l *Ledger) Load(ctx context.Context) (PositionRecord, error) {
	rec, _, _, err := l.read(ctx)
	return rec, err
}

func (l *Ledger) read(ctx context.Context) (PositionRecord, string, bool, error) {
	if l == nil || l.store == nil {
		return FreshRecord(), "", false, errors.New("ledger store not configured")
	}
	raw, ok, err := l.store.Get(ctx, l.key)
	if err != nil {
		return FreshRecord(), "", false, err
	}
	return l.decode(raw, ok), raw, ok, nil
}

func (l *Ledger) decode(raw string, ok bool) PositionRecord {
	if !ok || strings.TrimSpace(raw) == "" {
		return FreshRecord()
	}
	var rec PositionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		l.log.Warn("ledger record corrupt, starting fresh", zap.String("key", l.key), zap.Error(err))
		return FreshRecord()
	}
	if rec.PositionID == "" {
		rec.PositionID = strategy.NoPosition
	}
	return rec
}

// Save merges update into the stored record. The write only lands if the
// record is unchanged since it was read; otherwise the merge is redone on
// the fresh copy, so the bot and the ops tool never drop each other's
// fields.
func (l *Ledger) Save(ctx context.Context, update RecordUpdate) (PositionRecord, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		rec, raw, existed, err := l.read(ctx)
		if err != nil {
			return rec, err
		}
		update.apply(&rec)
		rec.UpdatedAtMS = l.now().UnixMilli()
		payload, err := json.Marshal(rec)
		if err != nil {
			return rec, err
		}
		swapped, err := l.store.CompareAndSwap(ctx, l.key, raw, existed, string(payload))
		if err != nil {
			return rec, err
		}
		if swapped {
			return rec, nil
		}
		l.log.Debug("ledger changed during save, retrying", zap.Int("attempt", attempt+1))
	}
	return FreshRecord(), ErrLedgerConflict
}
