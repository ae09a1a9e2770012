// Package timescale journals cycle snapshots and rebalance events to a
// Postgres/TimescaleDB database. Writes are queued and dropped when the
// queue is full so the control loop never blocks on the database.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"lp-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

var schemaName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type CycleSnapshot struct {
	Time           time.Time
	CycleID        string
	Block          uint64
	State          string
	PositionID     string
	Tick           int
	TickLower      int
	TickUpper      int
	InRange        bool
	Price          float64
	HealthFactor   float64
	Debt           float64
	LPVolatile     float64
	WalletStable   float64
	WalletVolatile float64
	PortfolioUSD   float64
}

type RebalanceEvent struct {
	Time          time.Time
	CycleID       string
	Outcome       string
	Reason        string
	OldPositionID string
	NewPositionID string
	TickLower     int
	TickUpper     int
	Price         float64
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	snapshots chan CycleSnapshot
	events    chan RebalanceEvent
	started   atomic.Bool
	dropSnap  atomic.Uint64
	dropEvent atomic.Uint64
}

// New opens the database and ensures the tables. It returns a nil writer
// when the journal is disabled; every method is safe on a nil writer.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	if !schemaName.MatchString(schema) {
		return nil, fmt.Errorf("timescale schema %q is not a plain identifier", schema)
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		snapshots: make(chan CycleSnapshot, queueSize),
		events:    make(chan RebalanceEvent, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueSnapshot(snap CycleSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.snapshots <- snap:
	default:
		if w.dropSnap.Add(1) == 1 {
			w.log.Warn("timescale snapshot queue full")
		}
	}
}

func (w *Writer) EnqueueEvent(event RebalanceEvent) {
	if w == nil {
		return
	}
	select {
	case w.events <- event:
	default:
		if w.dropEvent.Add(1) == 1 {
			w.log.Warn("timescale event queue full")
		}
	}
}

// Dropped returns how many snapshots and events were discarded.
func (w *Writer) Dropped() (snapshots, events uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropSnap.Load(), w.dropEvent.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.snapshots:
			w.writeSnapshot(ctx, snap)
		case event := <-w.events:
			w.writeEvent(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id UUID NOT NULL,
		block BIGINT NOT NULL,
		state TEXT NOT NULL,
		position_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		tick_lower INTEGER NOT NULL,
		tick_upper INTEGER NOT NULL,
		in_range BOOLEAN NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		health_factor DOUBLE PRECISION NOT NULL,
		debt DOUBLE PRECISION NOT NULL,
		lp_volatile DOUBLE PRECISION NOT NULL,
		wallet_stable DOUBLE PRECISION NOT NULL,
		wallet_volatile DOUBLE PRECISION NOT NULL,
		portfolio_usd DOUBLE PRECISION NOT NULL
	)`, w.table("cycle_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id UUID NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		old_position_id TEXT NOT NULL,
		new_position_id TEXT NOT NULL,
		tick_lower INTEGER NOT NULL,
		tick_upper INTEGER NOT NULL,
		price DOUBLE PRECISION NOT NULL
	)`, w.table("rebalance_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"cycle_snapshots", "rebalance_events"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeSnapshot(ctx context.Context, snap CycleSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, block, state, position_id, tick, tick_lower, tick_upper, in_range,
		price, health_factor, debt, lp_volatile, wallet_stable, wallet_volatile, portfolio_usd
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
	)`, w.table("cycle_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.CycleID,
		int64(snap.Block),
		snap.State,
		snap.PositionID,
		snap.Tick,
		snap.TickLower,
		snap.TickUpper,
		snap.InRange,
		snap.Price,
		snap.HealthFactor,
		snap.Debt,
		snap.LPVolatile,
		snap.WalletStable,
		snap.WalletVolatile,
		snap.PortfolioUSD,
	); err != nil {
		w.log.Warn("timescale snapshot insert failed", zap.Error(err))
	}
}

func (w *Writer) writeEvent(ctx context.Context, event RebalanceEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, outcome, reason, old_position_id, new_position_id, tick_lower, tick_upper, price
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)`, w.table("rebalance_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.CycleID,
		event.Outcome,
		event.Reason,
		event.OldPositionID,
		event.NewPositionID,
		event.TickLower,
		event.TickUpper,
		event.Price,
	); err != nil {
		w.log.Warn("timescale event insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
