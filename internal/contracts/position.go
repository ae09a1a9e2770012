package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"lp-hedge-bot/internal/clmath"
	"lp-hedge-bot/internal/strategy"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

type decreaseParams struct {
	TokenId    *big.Int
	Liquidity  *big.Int
	Amount0Min *big.Int
	Amount1Min *big.Int
	Deadline   *big.Int
}

type collectParams struct {
	TokenId    *big.Int
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

type mintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            *big.Int
	TickLower      *big.Int
	TickUpper      *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
}

type positionData struct {
	token0      common.Address
	token1      common.Address
	fee         *big.Int
	tickLower   int
	tickUpper   int
	liquidity   *big.Int
	tokensOwed0 *big.Int
	tokensOwed1 *big.Int
}

func parseTokenID(id strategy.PositionID) (*big.Int, error) {
	tokenID, ok := new(big.Int).SetString(string(id), 10)
	if !ok || tokenID.Sign() < 0 {
		return nil, fmt.Errorf("position id %q is not a token id", id)
	}
	return tokenID, nil
}

func (c *Client) readPosition(ctx context.Context, tokenID *big.Int) (positionData, error) {
	out, err := c.call(ctx, c.contracts().manager, "positions", tokenID)
	if err != nil {
		return positionData{}, err
	}
	var p positionData
	for i, dst := range []*common.Address{&p.token0, &p.token1} {
		v, err := outputAt(out, 2+i, "positions")
		if err != nil {
			return p, err
		}
		if *dst, err = asAddress(v); err != nil {
			return p, err
		}
	}
	if p.fee, err = bigOutput(out, 4, "positions"); err != nil {
		return p, err
	}
	lower, err := bigOutput(out, 5, "positions")
	if err != nil {
		return p, err
	}
	upper, err := bigOutput(out, 6, "positions")
	if err != nil {
		return p, err
	}
	if p.tickLower, err = int24FromBig(lower); err != nil {
		return p, err
	}
	if p.tickUpper, err = int24FromBig(upper); err != nil {
		return p, err
	}
	if p.liquidity, err = bigOutput(out, 7, "positions"); err != nil {
		return p, err
	}
	if p.tokensOwed0, err = bigOutput(out, 10, "positions"); err != nil {
		return p, err
	}
	if p.tokensOwed1, err = bigOutput(out, 11, "positions"); err != nil {
		return p, err
	}
	return p, nil
}

// Position reads a position and values it against pool. Pending fees come
// from a simulated collect, falling back to the owed counters.
func (c *Client) Position(ctx context.Context, id strategy.PositionID, pool strategy.PoolSnapshot) (strategy.PositionInfo, error) {
	if id.IsNone() {
		return strategy.PositionInfo{}, errors.New("no position")
	}
	meta, err := c.loadMeta(ctx)
	if err != nil {
		return strategy.PositionInfo{}, err
	}
	tokenID, err := parseTokenID(id)
	if err != nil {
		return strategy.PositionInfo{}, err
	}
	p, err := c.readPosition(ctx, tokenID)
	if err != nil {
		return strategy.PositionInfo{}, err
	}
	amount0, amount1 := clmath.AmountsForLiquidity(
		pool.SqrtPriceX96,
		clmath.TickToSqrtPriceX96(p.tickLower),
		clmath.TickToSqrtPriceX96(p.tickUpper),
		p.liquidity,
	)
	fee0, fee1, err := c.simulateCollect(ctx, tokenID)
	if err != nil {
		c.log.Debug("collect simulation failed, using owed counters", zap.Error(err))
		fee0, fee1 = p.tokensOwed0, p.tokensOwed1
	}
	return strategy.PositionInfo{
		ID:        id,
		Range:     strategy.TickRange{Lower: p.tickLower, Upper: p.tickUpper},
		Liquidity: p.liquidity,
		Amounts:   meta.toBalances(amount0, amount1),
		Fees:      meta.toBalances(fee0, fee1),
	}, nil
}

func (c *Client) simulateCollect(ctx context.Context, tokenID *big.Int) (*big.Int, *big.Int, error) {
	managerABI, err := PositionManagerABI()
	if err != nil {
		return nil, nil, err
	}
	data, err := managerABI.Pack("collect", collectParams{
		TokenId:    tokenID,
		Recipient:  c.backend.From(),
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("pack collect: %w", err)
	}
	from := c.backend.From()
	msg := ethereum.CallMsg{From: from, To: &c.addrs.manager, Data: data}
	var resp []byte
	err = c.backend.Read(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.backend.Client().CallContract(ctx, msg, nil)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("call collect: %w", err)
	}
	out, err := managerABI.Unpack("collect", resp)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack collect: %w", err)
	}
	fee0, err := bigOutput(out, 0, "collect")
	if err != nil {
		return nil, nil, err
	}
	fee1, err := bigOutput(out, 1, "collect")
	if err != nil {
		return nil, nil, err
	}
	return fee0, fee1, nil
}

// OpenPositions lists the wallet's position NFTs that still hold liquidity
// in the configured pool. Tokens for other pools are ignored.
func (c *Client) OpenPositions(ctx context.Context) ([]strategy.PositionID, error) {
	meta, err := c.loadMeta(ctx)
	if err != nil {
		return nil, err
	}
	manager := c.contracts().manager
	owner := c.backend.From()
	out, err := c.call(ctx, manager, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	count, err := bigOutput(out, 0, "balanceOf")
	if err != nil {
		return nil, err
	}
	if !count.IsInt64() {
		return nil, fmt.Errorf("position count %s out of range", count)
	}
	var ids []strategy.PositionID
	for i := int64(0); i < count.Int64(); i++ {
		out, err := c.call(ctx, manager, "tokenOfOwnerByIndex", owner, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		tokenID, err := bigOutput(out, 0, "tokenOfOwnerByIndex")
		if err != nil {
			return nil, err
		}
		p, err := c.readPosition(ctx, tokenID)
		if err != nil {
			if isInvalidToken(err) {
				continue
			}
			return nil, err
		}
		if !meta.holds(p) {
			continue
		}
		ids = append(ids, strategy.PositionID(tokenID.String()))
	}
	return ids, nil
}

// holds reports whether p is a live position in this pool.
func (m poolMeta) holds(p positionData) bool {
	return p.token0 == m.token0 && p.token1 == m.token1 &&
		p.fee != nil && m.fee != nil && p.fee.Cmp(m.fee) == 0 &&
		p.liquidity != nil && p.liquidity.Sign() > 0
}

// ExitPosition removes all liquidity, collects everything owed and burns the
// token in a single multicall. An already burned token is a successful exit.
func (c *Client) ExitPosition(ctx context.Context, id strategy.PositionID) error {
	if id.IsNone() {
		return nil
	}
	tokenID, err := parseTokenID(id)
	if err != nil {
		return err
	}
	p, err := c.readPosition(ctx, tokenID)
	if err != nil {
		if isInvalidToken(err) {
			c.log.Info("position already released", zap.String("position", id.String()))
			return nil
		}
		return err
	}
	managerABI, err := PositionManagerABI()
	if err != nil {
		return err
	}
	calls, err := buildExitCalls(managerABI, tokenID, p.liquidity, c.backend.From(), deadline())
	if err != nil {
		return err
	}
	_, err = c.transact(ctx, "exit_position", c.contracts().manager, "multicall", calls)
	if err != nil {
		if isInvalidToken(err) {
			c.log.Info("position released concurrently", zap.String("position", id.String()))
			return nil
		}
		return err
	}
	return nil
}

// buildExitCalls encodes [decreaseLiquidity?, collect, burn]. The decrease
// is omitted when liquidity is already zero.
func buildExitCalls(managerABI abi.ABI, tokenID, liquidity *big.Int, recipient common.Address, deadline *big.Int) ([][]byte, error) {
	calls := make([][]byte, 0, 3)
	if liquidity != nil && liquidity.Sign() > 0 {
		data, err := managerABI.Pack("decreaseLiquidity", decreaseParams{
			TokenId:    tokenID,
			Liquidity:  liquidity,
			Amount0Min: new(big.Int),
			Amount1Min: new(big.Int),
			Deadline:   deadline,
		})
		if err != nil {
			return nil, fmt.Errorf("pack decreaseLiquidity: %w", err)
		}
		calls = append(calls, data)
	}
	data, err := managerABI.Pack("collect", collectParams{
		TokenId:    tokenID,
		Recipient:  recipient,
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	})
	if err != nil {
		return nil, fmt.Errorf("pack collect: %w", err)
	}
	calls = append(calls, data)
	data, err = managerABI.Pack("burn", tokenID)
	if err != nil {
		return nil, fmt.Errorf("pack burn: %w", err)
	}
	return append(calls, data), nil
}

// Mint opens a position over rng with the given human amounts and returns
// the new token id read from the receipt.
func (c *Client) Mint(ctx context.Context, rng strategy.TickRange, amounts strategy.Balances) (strategy.PositionID, error) {
	meta, err := c.loadMeta(ctx)
	if err != nil {
		return strategy.NoPosition, err
	}
	amount0, amount1 := meta.toRaw(amounts)
	params := mintParams{
		Token0:         meta.token0,
		Token1:         meta.token1,
		Fee:            meta.fee,
		TickLower:      big.NewInt(int64(rng.Lower)),
		TickUpper:      big.NewInt(int64(rng.Upper)),
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Amount0Min:     new(big.Int),
		Amount1Min:     new(big.Int),
		Recipient:      c.backend.From(),
		Deadline:       deadline(),
	}
	receipt, err := c.transact(ctx, "mint", c.contracts().manager, "mint", params)
	if err != nil {
		return strategy.NoPosition, err
	}
	managerABI, err := PositionManagerABI()
	if err != nil {
		return strategy.NoPosition, err
	}
	tokenID, err := mintedTokenID(receipt, c.addrs.manager, managerABI.Events["IncreaseLiquidity"].ID)
	if err != nil {
		return strategy.NoPosition, fmt.Errorf("tx %s: %w", receipt.TxHash.Hex(), err)
	}
	return strategy.PositionID(tokenID.String()), nil
}

func mintedTokenID(receipt *types.Receipt, manager common.Address, eventID common.Hash) (*big.Int, error) {
	if receipt == nil {
		return nil, ErrMintEventMissing
	}
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != manager || len(lg.Topics) < 2 {
			continue
		}
		if lg.Topics[0] != eventID {
			continue
		}
		return new(big.Int).SetBytes(lg.Topics[1].Bytes()), nil
	}
	return nil, ErrMintEventMissing
}

func (m poolMeta) toBalances(amount0, amount1 *big.Int) strategy.Balances {
	if m.volatileIsToken0 {
		return strategy.Balances{
			Volatile: fromRaw(amount0, m.volatileDecimals),
			Stable:   fromRaw(amount1, m.stableDecimals),
		}
	}
	return strategy.Balances{
		Stable:   fromRaw(amount0, m.stableDecimals),
		Volatile: fromRaw(amount1, m.volatileDecimals),
	}
}

func (m poolMeta) toRaw(b strategy.Balances) (*big.Int, *big.Int) {
	stable := toRaw(b.Stable, m.stableDecimals)
	volatile := toRaw(b.Volatile, m.volatileDecimals)
	if m.volatileIsToken0 {
		return volatile, stable
	}
	return stable, volatile
}
