package contracts

import (
	"context"
	"errors"
	"math/big"

	"lp-hedge-bot/internal/strategy"

	"github.com/ethereum/go-ethereum/common"
)

type exactInputParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactOutputParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountOut         *big.Int
	AmountInMaximum   *big.Int
	SqrtPriceLimitX96 *big.Int
}

type quoteParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type swapLeg struct {
	tokenIn     common.Address
	tokenOut    common.Address
	decimalsIn  int
	decimalsOut int
}

func (c *Client) leg(meta poolMeta, side strategy.SwapSide) swapLeg {
	if side == strategy.BuyVolatile {
		return swapLeg{
			tokenIn:     c.addrs.stable,
			tokenOut:    c.addrs.volatile,
			decimalsIn:  meta.stableDecimals,
			decimalsOut: meta.volatileDecimals,
		}
	}
	return swapLeg{
		tokenIn:     c.addrs.volatile,
		tokenOut:    c.addrs.stable,
		decimalsIn:  meta.volatileDecimals,
		decimalsOut: meta.stableDecimals,
	}
}

// Swap routes a single-pool swap through the router.
func (c *Client) Swap(ctx context.Context, order strategy.SwapOrder) error {
	meta, err := c.loadMeta(ctx)
	if err != nil {
		return err
	}
	leg := c.leg(meta, order.Side)
	router := c.contracts().router
	if order.ExactOutput {
		amountOut := toRaw(order.AmountOut, leg.decimalsOut)
		if amountOut.Sign() == 0 {
			return errors.New("swap amount out is zero")
		}
		_, err = c.transact(ctx, "swap_exact_out_"+order.Side.String(), router, "exactOutputSingle", exactOutputParams{
			TokenIn:           leg.tokenIn,
			TokenOut:          leg.tokenOut,
			Fee:               meta.fee,
			Recipient:         c.backend.From(),
			AmountOut:         amountOut,
			AmountInMaximum:   toRaw(order.MaxIn, leg.decimalsIn),
			SqrtPriceLimitX96: new(big.Int),
		})
		return err
	}
	amountIn := toRaw(order.AmountIn, leg.decimalsIn)
	if amountIn.Sign() == 0 {
		return errors.New("swap amount in is zero")
	}
	_, err = c.transact(ctx, "swap_"+order.Side.String(), router, "exactInputSingle", exactInputParams{
		TokenIn:           leg.tokenIn,
		TokenOut:          leg.tokenOut,
		Fee:               meta.fee,
		Recipient:         c.backend.From(),
		AmountIn:          amountIn,
		AmountOutMinimum:  toRaw(order.MinOut, leg.decimalsOut),
		SqrtPriceLimitX96: new(big.Int),
	})
	return err
}

// Quote simulates an exact-input swap on the quoter.
func (c *Client) Quote(ctx context.Context, side strategy.SwapSide, amountIn float64) (float64, error) {
	if c.addrs.quoter == (common.Address{}) {
		return 0, errors.New("quoter address not configured")
	}
	meta, err := c.loadMeta(ctx)
	if err != nil {
		return 0, err
	}
	leg := c.leg(meta, side)
	out, err := c.call(ctx, c.contracts().quoter, "quoteExactInputSingle", quoteParams{
		TokenIn:           leg.tokenIn,
		TokenOut:          leg.tokenOut,
		AmountIn:          toRaw(amountIn, leg.decimalsIn),
		Fee:               meta.fee,
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return 0, err
	}
	amountOut, err := bigOutput(out, 0, "quoteExactInputSingle")
	if err != nil {
		return 0, err
	}
	return fromRaw(amountOut, leg.decimalsOut), nil
}
