package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const promNamespace = "lp_hedge_bot"

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

var counterHelp = []struct {
	name string
	help string
}{
	{"cycles_total", "Decision cycles dispatched."},
	{"cycle_failures_total", "Decision cycles that ended in an error."},
	{"blocks_skipped_total", "Blocks dropped because a cycle was in flight."},
	{"rebalances_total", "Positions minted by the rebalance executor."},
	{"rebalances_aborted_total", "Rebalances aborted before touching the position."},
	{"hedge_adjustments_total", "Borrow or repay adjustments issued."},
	{"borrows_refused_total", "Borrows refused for a low health factor."},
	{"panic_exits_total", "Panic exit sequences run."},
	{"circuit_breaks_total", "Circuit breaker trips."},
	{"standby_entries_total", "Standby entries after profit was secured."},
	{"standby_exits_total", "Standby exits on price pullback."},
}

var gaugeHelp = []struct {
	name string
	help string
}{
	{"health_factor", "Normalized lending health factor."},
	{"portfolio_usd", "Mark-to-market portfolio value in the stable asset."},
	{"pool_tick", "Current pool tick."},
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	p := &Prometheus{
		registry: registry,
		counters: make(map[string]prometheus.Counter, len(counterHelp)),
		gauges:   make(map[string]prometheus.Gauge, len(gaugeHelp)),
	}
	for _, c := range counterHelp {
		counter := prometheus.NewCounter(prometheus.CounterOpts{Namespace: promNamespace, Name: c.name, Help: c.help})
		registry.MustRegister(counter)
		p.counters[c.name] = counter
	}
	for _, g := range gaugeHelp {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: promNamespace, Name: g.name, Help: g.help})
		registry.MustRegister(gauge)
		p.gauges[g.name] = gauge
	}
	p.Metrics = &Metrics{
		Cycles:            p.counters["cycles_total"],
		CycleFailures:     p.counters["cycle_failures_total"],
		BlocksSkipped:     p.counters["blocks_skipped_total"],
		Rebalances:        p.counters["rebalances_total"],
		RebalancesAborted: p.counters["rebalances_aborted_total"],
		HedgeAdjustments:  p.counters["hedge_adjustments_total"],
		BorrowsRefused:    p.counters["borrows_refused_total"],
		PanicExits:        p.counters["panic_exits_total"],
		CircuitBreaks:     p.counters["circuit_breaks_total"],
		StandbyEntries:    p.counters["standby_entries_total"],
		StandbyExits:      p.counters["standby_exits_total"],
		HealthFactor:      p.gauges["health_factor"],
		PortfolioUSD:      p.gauges["portfolio_usd"],
		PoolTick:          p.gauges["pool_tick"],
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes the registry on addr until ctx is cancelled.
func (p *Prometheus) Serve(ctx context.Context, addr, path string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, p.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("metrics listening", zap.String("addr", addr), zap.String("path", path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}
