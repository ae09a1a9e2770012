// Package contracts adapts the pool, position manager, router, quoter,
// lending pool and ERC20 contracts to the bot's domain types.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"lp-hedge-bot/internal/config"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var ErrMintEventMissing = errors.New("mint receipt has no IncreaseLiquidity event")

const txDeadline = 10 * time.Minute

// Backend is the transport the adapters need; chain.Provider satisfies it.
type Backend interface {
	Client() *ethclient.Client
	From() common.Address
	CallOpts(ctx context.Context) *bind.CallOpts
	Read(ctx context.Context, fn func(ctx context.Context) error) error
	Transact(ctx context.Context, label string, send func(opts *bind.TransactOpts) (*types.Transaction, error)) (*types.Receipt, error)
	OnReconnect(fn func(client *ethclient.Client) error)
}

type addresses struct {
	pool     common.Address
	manager  common.Address
	router   common.Address
	quoter   common.Address
	lending  common.Address
	stable   common.Address
	volatile common.Address
	debt     common.Address
}

type bound struct {
	pool     *bind.BoundContract
	manager  *bind.BoundContract
	router   *bind.BoundContract
	quoter   *bind.BoundContract
	lending  *bind.BoundContract
	stable   *bind.BoundContract
	volatile *bind.BoundContract
	debt     *bind.BoundContract
}

// poolMeta holds the immutable pool and token fields.
type poolMeta struct {
	token0           common.Address
	token1           common.Address
	fee              *big.Int
	tickSpacing      int
	volatileIsToken0 bool
	stableDecimals   int
	volatileDecimals int
}

type Client struct {
	backend Backend
	addrs   addresses
	log     *zap.Logger

	mu    sync.RWMutex
	b     bound
	meta  *poolMeta
	epoch uint64
}

func New(backend Backend, cfg config.ContractsConfig, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	addrs, err := parseAddresses(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{backend: backend, addrs: addrs, log: log}
	if err := c.rebind(backend.Client()); err != nil {
		return nil, err
	}
	backend.OnReconnect(c.rebind)
	return c, nil
}

func parseAddresses(cfg config.ContractsConfig) (addresses, error) {
	parse := func(name, value string, required bool) (common.Address, error) {
		value = strings.TrimSpace(value)
		if value == "" {
			if required {
				return common.Address{}, fmt.Errorf("%s address is required", name)
			}
			return common.Address{}, nil
		}
		if !common.IsHexAddress(value) {
			return common.Address{}, fmt.Errorf("%s address %q is invalid", name, value)
		}
		return common.HexToAddress(value), nil
	}
	var a addresses
	var err error
	if a.pool, err = parse("pool", cfg.Pool, true); err != nil {
		return a, err
	}
	if a.manager, err = parse("position_manager", cfg.PositionManager, true); err != nil {
		return a, err
	}
	if a.router, err = parse("swap_router", cfg.SwapRouter, true); err != nil {
		return a, err
	}
	if a.quoter, err = parse("quoter", cfg.Quoter, false); err != nil {
		return a, err
	}
	if a.lending, err = parse("lending_pool", cfg.LendingPool, true); err != nil {
		return a, err
	}
	if a.stable, err = parse("stable_token", cfg.StableToken, true); err != nil {
		return a, err
	}
	if a.volatile, err = parse("volatile_token", cfg.VolatileToken, true); err != nil {
		return a, err
	}
	if a.debt, err = parse("variable_debt_token", cfg.VariableDebtToken, true); err != nil {
		return a, err
	}
	return a, nil
}

// rebind attaches every contract handle to client and drops cached pool
// metadata so it is re-read on the new transport.
func (c *Client) rebind(client *ethclient.Client) error {
	poolABI, err := PoolABI()
	if err != nil {
		return err
	}
	erc20, err := ERC20ABI()
	if err != nil {
		return err
	}
	manager, err := PositionManagerABI()
	if err != nil {
		return err
	}
	router, err := SwapRouterABI()
	if err != nil {
		return err
	}
	quoter, err := QuoterABI()
	if err != nil {
		return err
	}
	lending, err := LendingPoolABI()
	if err != nil {
		return err
	}
	b := bound{
		pool:     bind.NewBoundContract(c.addrs.pool, poolABI, client, client, client),
		manager:  bind.NewBoundContract(c.addrs.manager, manager, client, client, client),
		router:   bind.NewBoundContract(c.addrs.router, router, client, client, client),
		quoter:   bind.NewBoundContract(c.addrs.quoter, quoter, client, client, client),
		lending:  bind.NewBoundContract(c.addrs.lending, lending, client, client, client),
		stable:   bind.NewBoundContract(c.addrs.stable, erc20, client, client, client),
		volatile: bind.NewBoundContract(c.addrs.volatile, erc20, client, client, client),
		debt:     bind.NewBoundContract(c.addrs.debt, erc20, client, client, client),
	}
	c.mu.Lock()
	c.b = b
	c.meta = nil
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()
	c.log.Info("contracts bound", zap.Uint64("epoch", epoch))
	return nil
}

func (c *Client) contracts() bound {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.b
}

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := c.backend.Read(ctx, func(ctx context.Context) error {
		out = nil
		return contract.Call(c.backend.CallOpts(ctx), &out, method, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

func (c *Client) transact(ctx context.Context, label string, contract *bind.BoundContract, method string, args ...interface{}) (*types.Receipt, error) {
	return c.backend.Transact(ctx, label, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return contract.Transact(opts, method, args...)
	})
}

func (c *Client) loadMeta(ctx context.Context) (poolMeta, error) {
	c.mu.RLock()
	cached := c.meta
	c.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	b := c.contracts()
	token0, err := c.addressCall(ctx, b.pool, "token0")
	if err != nil {
		return poolMeta{}, err
	}
	token1, err := c.addressCall(ctx, b.pool, "token1")
	if err != nil {
		return poolMeta{}, err
	}
	feeOut, err := c.call(ctx, b.pool, "fee")
	if err != nil {
		return poolMeta{}, err
	}
	fee, err := bigOutput(feeOut, 0, "fee")
	if err != nil {
		return poolMeta{}, err
	}
	spacingOut, err := c.call(ctx, b.pool, "tickSpacing")
	if err != nil {
		return poolMeta{}, err
	}
	spacingBig, err := bigOutput(spacingOut, 0, "tickSpacing")
	if err != nil {
		return poolMeta{}, err
	}
	spacing, err := int24FromBig(spacingBig)
	if err != nil {
		return poolMeta{}, err
	}
	stableDec, err := c.decimals(ctx, b.stable)
	if err != nil {
		return poolMeta{}, err
	}
	volatileDec, err := c.decimals(ctx, b.volatile)
	if err != nil {
		return poolMeta{}, err
	}
	meta, err := buildMeta(c.addrs, token0, token1, fee, spacing, stableDec, volatileDec)
	if err != nil {
		return poolMeta{}, err
	}
	c.mu.Lock()
	c.meta = &meta
	c.mu.Unlock()
	return meta, nil
}

func buildMeta(addrs addresses, token0, token1 common.Address, fee *big.Int, spacing, stableDec, volatileDec int) (poolMeta, error) {
	meta := poolMeta{
		token0:           token0,
		token1:           token1,
		fee:              fee,
		tickSpacing:      spacing,
		stableDecimals:   stableDec,
		volatileDecimals: volatileDec,
	}
	switch {
	case token0 == addrs.volatile && token1 == addrs.stable:
		meta.volatileIsToken0 = true
	case token0 == addrs.stable && token1 == addrs.volatile:
		meta.volatileIsToken0 = false
	default:
		return poolMeta{}, fmt.Errorf("pool tokens %s/%s do not match configured stable/volatile", token0.Hex(), token1.Hex())
	}
	if spacing <= 0 {
		return poolMeta{}, fmt.Errorf("pool tick spacing %d invalid", spacing)
	}
	return meta, nil
}

func (c *Client) addressCall(ctx context.Context, contract *bind.BoundContract, method string) (common.Address, error) {
	out, err := c.call(ctx, contract, method)
	if err != nil {
		return common.Address{}, err
	}
	v, err := outputAt(out, 0, method)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(v)
}

func (c *Client) decimals(ctx context.Context, token *bind.BoundContract) (int, error) {
	out, err := c.call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	v, err := outputAt(out, 0, "decimals")
	if err != nil {
		return 0, err
	}
	d, err := asUint8(v)
	if err != nil {
		return 0, err
	}
	return int(d), nil
}

func deadline() *big.Int {
	return big.NewInt(time.Now().Add(txDeadline).Unix())
}
