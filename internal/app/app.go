// Package app wires the chain, contract, market and storage layers into
// the block-driven control loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"lp-hedge-bot/internal/alerts"
	"lp-hedge-bot/internal/chain"
	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/contracts"
	"lp-hedge-bot/internal/hedge"
	"lp-hedge-bot/internal/market"
	"lp-hedge-bot/internal/metrics"
	"lp-hedge-bot/internal/rebalance"
	"lp-hedge-bot/internal/state"
	"lp-hedge-bot/internal/state/redisstore"
	"lp-hedge-bot/internal/state/sqlite"
	"lp-hedge-bot/internal/timescale"

	"go.uber.org/zap"
)

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	store      state.Store
	ledger     *state.Ledger
	provider   *chain.Provider
	contracts  *contracts.Client
	market     *market.Provider
	rebalancer *rebalance.Executor
	hedger     *hedge.Manager
	alerts     Alerter
	prom       *metrics.Prometheus
	metrics    *metrics.Metrics
	journal    *timescale.Writer
	loop       *Loop

	closeOnce sync.Once
	closeErr  error
}

// New connects every collaborator. The returned App owns the store, the
// RPC transport and the journal; Close releases them. A failure on the way
// is sent as a "Startup failed" alert before it is returned.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	return newApp(ctx, cfg, log, alerts.NewTelegram(cfg.Telegram, log))
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, alerter Alerter) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{cfg: cfg, log: log, alerts: alerter}
	store, err := openStore(ctx, cfg.State)
	if err != nil {
		return nil, a.abort(ctx, fmt.Errorf("open state store: %w", err))
	}
	a.store = store
	a.ledger = state.NewLedger(store, cfg.State.InstanceKey, log)
	if err := a.connect(ctx); err != nil {
		return nil, a.abort(ctx, err)
	}
	a.metrics = metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		a.prom = metrics.NewPrometheus()
		a.metrics = a.prom.Metrics
	}
	journal, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, a.abort(ctx, fmt.Errorf("timescale: %w", err))
	}
	a.journal = journal

	a.market = market.New(cfg.Market, log)
	a.rebalancer = rebalance.NewExecutor(a.contracts, a.market, a.ledger, cfg.Rebalance, cfg.Range, log.Named("rebalance"))
	a.hedger = hedge.NewManager(a.contracts, a.contracts, a.ledger, a.alerts, cfg.Hedge, log.Named("hedge"))
	a.loop = NewLoop(cfg, Deps{
		AMM:        a.contracts,
		Rebalancer: a.rebalancer,
		Hedger:     a.hedger,
		Ledger:     a.ledger,
		Alerts:     a.alerts,
		Metrics:    a.metrics,
		Journal:    a.journal,
	}, log.Named("loop"))
	return a, nil
}

// abort alerts, releases whatever was opened and hands err back.
func (a *App) abort(ctx context.Context, err error) error {
	a.alertStartupFailure(ctx, err)
	_ = a.Close()
	return err
}

func (a *App) connect(ctx context.Context) error {
	provider, err := chain.Dial(ctx, a.cfg.Chain, a.log.Named("chain"))
	if err != nil {
		return err
	}
	a.provider = provider
	client, err := contracts.New(provider, a.cfg.Contracts, a.log.Named("contracts"))
	if err != nil {
		return err
	}
	a.contracts = client
	a.log.Info("wallet", zap.String("address", provider.From().Hex()))
	return nil
}

func openStore(ctx context.Context, cfg config.StateConfig) (state.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "sqlite":
		return sqlite.New(cfg.SQLitePath)
	case "redis":
		return redisstore.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// Run ensures approvals, starts the side services and blocks in the
// control loop. It returns ErrSafeMode after a panic exit.
func (a *App) Run(ctx context.Context) error {
	if err := a.contracts.EnsureApprovals(ctx); err != nil {
		a.alertStartupFailure(ctx, err)
		return fmt.Errorf("ensure approvals: %w", err)
	}
	if a.prom != nil {
		a.prom.Serve(ctx, a.cfg.Metrics.Address, a.cfg.Metrics.Path, a.log)
	}
	a.journal.Start(ctx)
	a.log.Info("control loop starting",
		zap.Duration("min_interval", a.cfg.Loop.MinInterval),
		zap.String("state_backend", a.cfg.State.Backend),
	)
	err := a.loop.Run(ctx, a.provider)
	if errors.Is(err, ErrSafeMode) {
		a.log.Error("bot halted in safe mode; operator review required")
	}
	return err
}

func (a *App) alertStartupFailure(ctx context.Context, err error) {
	if sendErr := a.alerts.Send(ctx, "Startup failed", err.Error()); sendErr != nil {
		a.log.Warn("alert send failed", zap.Error(sendErr))
	}
}

func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.journal != nil {
			errs = append(errs, a.journal.Close())
		}
		if a.provider != nil {
			a.provider.Close()
		}
		if a.store != nil {
			errs = append(errs, a.store.Close())
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// Operator returns the one-shot remediation commands bound to this app.
func (a *App) Operator() *Operator {
	return NewOperator(a.contracts, a.hedger, a.ledger, a.log.Named("ops"))
}
