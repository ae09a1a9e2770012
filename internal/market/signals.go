// Package market fetches candles from public exchange APIs and derives the
// momentum and volatility signals that size liquidity ranges.
package market

import (
	"context"
	"errors"
	"fmt"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/strategy"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnavailable is returned when every source failed. Callers must not
// substitute defaults.
var ErrUnavailable = errors.New("market data unavailable")

type Provider struct {
	cfg     config.MarketConfig
	sources []Source
	log     *zap.Logger
}

// New builds a provider that tries Binance first and Bybit second.
func New(cfg config.MarketConfig, log *zap.Logger) *Provider {
	return NewWithSources(cfg, log,
		NewBinance(cfg.BinanceURL, cfg.Timeout, log),
		NewBybit(cfg.BybitURL, cfg.Timeout, log),
	)
}

func NewWithSources(cfg config.MarketConfig, log *zap.Logger, sources ...Source) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{cfg: cfg, sources: sources, log: log}
}

func candleLimit(period int) int {
	limit := period * 10
	if limit < 100 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit
}

// indicator evaluates fn against each source in order until one succeeds.
func (p *Provider) indicator(ctx context.Context, name, interval string, period int, fn func([]Candle, int) (float64, error)) (float64, error) {
	var errs []error
	for _, src := range p.sources {
		candles, err := src.Candles(ctx, p.cfg.Symbol, interval, candleLimit(period))
		if err == nil {
			var value float64
			value, err = fn(candles, period)
			if err == nil {
				return value, nil
			}
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		p.log.Warn("market source failed",
			zap.String("source", src.Name()),
			zap.String("indicator", name),
			zap.String("interval", interval),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}
	return 0, fmt.Errorf("%w: %s %s %s: %w", ErrUnavailable, name, p.cfg.Symbol, interval, errors.Join(errs...))
}

func (p *Provider) RSI(ctx context.Context, interval string) (float64, error) {
	return p.indicator(ctx, "rsi", interval, p.cfg.RSIPeriod, RSI)
}

func (p *Provider) ATR(ctx context.Context, interval string) (float64, error) {
	return p.indicator(ctx, "atr", interval, p.cfg.ATRPeriod, ATR)
}

// Signals fetches both RSI horizons and ATR concurrently.
func (p *Provider) Signals(ctx context.Context) (strategy.MarketSignal, error) {
	var sig strategy.MarketSignal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := p.RSI(gctx, p.cfg.RSIShortInterval)
		sig.RSIShort = v
		return err
	})
	g.Go(func() error {
		v, err := p.RSI(gctx, p.cfg.RSILongInterval)
		sig.RSILong = v
		return err
	})
	g.Go(func() error {
		v, err := p.ATR(gctx, p.cfg.ATRInterval)
		sig.ATR = v
		return err
	})
	if err := g.Wait(); err != nil {
		return strategy.MarketSignal{}, err
	}
	return sig, nil
}
