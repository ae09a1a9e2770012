package contracts

import (
	"context"
	"errors"
	"math/big"

	"lp-hedge-bot/internal/strategy"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	// lending base currency carries 8 decimals, health factor 18
	baseCurrencyDecimals = 8
	healthFactorDecimals = 18
	variableRateMode     = 2
)

// AccountData returns the lending account's raw health factor and the
// collateral and debt values in base currency.
func (c *Client) AccountData(ctx context.Context) (strategy.HedgeState, error) {
	out, err := c.call(ctx, c.contracts().lending, "getUserAccountData", c.backend.From())
	if err != nil {
		return strategy.HedgeState{}, err
	}
	collateral, err := bigOutput(out, 0, "getUserAccountData")
	if err != nil {
		return strategy.HedgeState{}, err
	}
	debt, err := bigOutput(out, 1, "getUserAccountData")
	if err != nil {
		return strategy.HedgeState{}, err
	}
	hf, err := bigOutput(out, 5, "getUserAccountData")
	if err != nil {
		return strategy.HedgeState{}, err
	}
	return strategy.HedgeState{
		HealthFactor:  fromRaw(hf, healthFactorDecimals),
		CollateralUSD: fromRaw(collateral, baseCurrencyDecimals),
		DebtUSD:       fromRaw(debt, baseCurrencyDecimals),
	}, nil
}

// Debt returns the outstanding variable debt in volatile units.
func (c *Client) Debt(ctx context.Context) (float64, error) {
	meta, err := c.loadMeta(ctx)
	if err != nil {
		return 0, err
	}
	out, err := c.call(ctx, c.contracts().debt, "balanceOf", c.backend.From())
	if err != nil {
		return 0, err
	}
	raw, err := bigOutput(out, 0, "balanceOf")
	if err != nil {
		return 0, err
	}
	return fromRaw(raw, meta.volatileDecimals), nil
}

func (c *Client) Borrow(ctx context.Context, amount float64) error {
	meta, err := c.loadMeta(ctx)
	if err != nil {
		return err
	}
	raw := toRaw(amount, meta.volatileDecimals)
	if raw.Sign() == 0 {
		return errors.New("borrow amount is zero")
	}
	_, err = c.transact(ctx, "borrow", c.contracts().lending, "borrow",
		c.addrs.volatile, raw, big.NewInt(variableRateMode), uint16(0), c.backend.From())
	return err
}

// Repay repays amount of volatile debt, or the full balance when all is set.
func (c *Client) Repay(ctx context.Context, amount float64, all bool) error {
	meta, err := c.loadMeta(ctx)
	if err != nil {
		return err
	}
	raw := toRaw(amount, meta.volatileDecimals)
	if all {
		raw = new(big.Int).Set(maxUint256)
	}
	if raw.Sign() == 0 {
		return errors.New("repay amount is zero")
	}
	_, err = c.transact(ctx, "repay", c.contracts().lending, "repay",
		c.addrs.volatile, raw, big.NewInt(variableRateMode), c.backend.From())
	return err
}

type tokenRef struct {
	name     string
	contract *bind.BoundContract
}

type spenderRef struct {
	name string
	addr common.Address
}

// EnsureApprovals grants the router, position manager and lending pool
// unlimited allowances on both tokens where missing.
func (c *Client) EnsureApprovals(ctx context.Context) error {
	b := c.contracts()
	owner := c.backend.From()
	for _, token := range []tokenRef{{"stable", b.stable}, {"volatile", b.volatile}} {
		for _, spender := range []spenderRef{
			{"swap_router", c.addrs.router},
			{"position_manager", c.addrs.manager},
			{"lending_pool", c.addrs.lending},
		} {
			out, err := c.call(ctx, token.contract, "allowance", owner, spender.addr)
			if err != nil {
				return err
			}
			current, err := bigOutput(out, 0, "allowance")
			if err != nil {
				return err
			}
			if current.Cmp(approvalFloor) >= 0 {
				continue
			}
			c.log.Info("approving spender", zap.String("token", token.name), zap.String("spender", spender.name))
			if _, err := c.transact(ctx, "approve_"+token.name+"_"+spender.name, token.contract, "approve", spender.addr, maxUint256); err != nil {
				return err
			}
		}
	}
	return nil
}
