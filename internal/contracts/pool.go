package contracts

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"lp-hedge-bot/internal/clmath"
	"lp-hedge-bot/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// Pool reads slot0 and liquidity together and orients the price as stable
// per volatile.
func (c *Client) Pool(ctx context.Context) (strategy.PoolSnapshot, error) {
	meta, err := c.loadMeta(ctx)
	if err != nil {
		return strategy.PoolSnapshot{}, err
	}
	b := c.contracts()
	var slot0, liq []interface{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		slot0, err = c.call(gctx, b.pool, "slot0")
		return err
	})
	g.Go(func() error {
		var err error
		liq, err = c.call(gctx, b.pool, "liquidity")
		return err
	})
	if err := g.Wait(); err != nil {
		return strategy.PoolSnapshot{}, err
	}
	sqrtPrice, err := bigOutput(slot0, 0, "slot0")
	if err != nil {
		return strategy.PoolSnapshot{}, err
	}
	tickBig, err := bigOutput(slot0, 1, "slot0")
	if err != nil {
		return strategy.PoolSnapshot{}, err
	}
	tick, err := int24FromBig(tickBig)
	if err != nil {
		return strategy.PoolSnapshot{}, err
	}
	liquidity, err := bigOutput(liq, 0, "liquidity")
	if err != nil {
		return strategy.PoolSnapshot{}, err
	}
	return buildSnapshot(meta, sqrtPrice, tick, liquidity), nil
}

func buildSnapshot(meta poolMeta, sqrtPrice *big.Int, tick int, liquidity *big.Int) strategy.PoolSnapshot {
	return strategy.PoolSnapshot{
		SqrtPriceX96:     sqrtPrice,
		Tick:             tick,
		Liquidity:        liquidity,
		TickSpacing:      meta.tickSpacing,
		Fee:              uint32(meta.fee.Uint64()),
		Token0:           meta.token0.Hex(),
		Token1:           meta.token1.Hex(),
		Price:            stablePerVolatile(meta, sqrtPrice),
		VolatileIsToken0: meta.volatileIsToken0,
	}
}

func stablePerVolatile(meta poolMeta, sqrtPrice *big.Int) float64 {
	if meta.volatileIsToken0 {
		return clmath.SqrtPriceX96ToPrice(sqrtPrice, meta.volatileDecimals, meta.stableDecimals)
	}
	inverse := clmath.SqrtPriceX96ToPrice(sqrtPrice, meta.stableDecimals, meta.volatileDecimals)
	if inverse == 0 {
		return 0
	}
	return 1 / inverse
}

// TWAPTick returns the arithmetic mean tick over the trailing window.
func (c *Client) TWAPTick(ctx context.Context, window time.Duration) (int, error) {
	secs := uint32(window / time.Second)
	if secs == 0 {
		return 0, fmt.Errorf("twap window %s too short", window)
	}
	out, err := c.call(ctx, c.contracts().pool, "observe", []uint32{secs, 0})
	if err != nil {
		return 0, err
	}
	v, err := outputAt(out, 0, "observe")
	if err != nil {
		return 0, err
	}
	cumulatives, ok := v.([]*big.Int)
	if !ok || len(cumulatives) != 2 {
		return 0, fmt.Errorf("observe: unexpected tick cumulatives %T", v)
	}
	return twapTick(cumulatives[0], cumulatives[1], secs), nil
}

// twapTick rounds toward negative infinity like the on-chain oracle library.
func twapTick(older, newer *big.Int, secs uint32) int {
	delta := new(big.Int).Sub(newer, older)
	period := big.NewInt(int64(secs))
	q, r := new(big.Int).QuoRem(delta, period, new(big.Int))
	if delta.Sign() < 0 && r.Sign() != 0 {
		q.Sub(q, big.NewInt(1))
	}
	return int(q.Int64())
}

// Balances reads both wallet balances together.
func (c *Client) Balances(ctx context.Context) (strategy.Balances, error) {
	meta, err := c.loadMeta(ctx)
	if err != nil {
		return strategy.Balances{}, err
	}
	b := c.contracts()
	owner := c.backend.From()
	var stableRaw, volatileRaw *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := c.call(gctx, b.stable, "balanceOf", owner)
		if err != nil {
			return err
		}
		stableRaw, err = bigOutput(out, 0, "balanceOf")
		return err
	})
	g.Go(func() error {
		out, err := c.call(gctx, b.volatile, "balanceOf", owner)
		if err != nil {
			return err
		}
		volatileRaw, err = bigOutput(out, 0, "balanceOf")
		return err
	})
	if err := g.Wait(); err != nil {
		return strategy.Balances{}, err
	}
	return strategy.Balances{
		Stable:   fromRaw(stableRaw, meta.stableDecimals),
		Volatile: fromRaw(volatileRaw, meta.volatileDecimals),
	}, nil
}
