package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/strategy"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	poolAddr    = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	routerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	lendingAddr = common.HexToAddress("0x00000000000000000000000000000000000000f6")
	debtAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a7")
	walletAddr  = common.HexToAddress("0x0000000000000000000000000000000000000abc")
)

type rpcAnswer func(args []interface{}) ([]interface{}, error)

// fakeChain answers eth_call by decoding the calldata against the ABI bound
// at the target address.
type fakeChain struct {
	t         *testing.T
	mu        sync.Mutex
	contracts map[common.Address]abi.ABI
	answers   map[string]rpcAnswer
	rawSends  int
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	pool, err := PoolABI()
	if err != nil {
		t.Fatalf("pool abi: %v", err)
	}
	erc20, err := ERC20ABI()
	if err != nil {
		t.Fatalf("erc20 abi: %v", err)
	}
	manager, err := PositionManagerABI()
	if err != nil {
		t.Fatalf("manager abi: %v", err)
	}
	contracts := map[common.Address]abi.ABI{
		poolAddr:     pool,
		managerAddr:  manager,
		stableAddr:   erc20,
		volatileAddr: erc20,
	}
	return &fakeChain{t: t, contracts: contracts, answers: make(map[string]rpcAnswer)}
}

func (f *fakeChain) answer(contract common.Address, method string, fn rpcAnswer) {
	f.answers[contract.Hex()+"."+method] = fn
}

func (f *fakeChain) sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rawSends
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type callArgs struct {
	To    common.Address `json:"to"`
	Input hexutil.Bytes  `json:"input"`
	Data  hexutil.Bytes  `json:"data"`
}

func (f *fakeChain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "eth_call":
		resp.Result, resp.Error = f.call(req.Params)
	case "eth_getCode":
		resp.Result = "0x01"
	case "eth_chainId":
		resp.Result = "0x1"
	case "eth_sendRawTransaction":
		f.mu.Lock()
		f.rawSends++
		f.mu.Unlock()
		resp.Error = &rpcError{Code: -32000, Message: "raw transactions not accepted"}
	default:
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeChain) call(params []json.RawMessage) (interface{}, *rpcError) {
	if len(params) == 0 {
		return nil, &rpcError{Code: -32602, Message: "missing call args"}
	}
	var args callArgs
	if err := json.Unmarshal(params[0], &args); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}
	input := args.Input
	if len(input) == 0 {
		input = args.Data
	}
	contract, ok := f.contracts[args.To]
	if !ok || len(input) < 4 {
		return nil, &rpcError{Code: -32000, Message: "no contract at " + args.To.Hex()}
	}
	method, err := contract.MethodById(input[:4])
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	in, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	fn, ok := f.answers[args.To.Hex()+"."+method.Name]
	if !ok {
		f.t.Errorf("unexpected call %s on %s", method.Name, args.To.Hex())
		return nil, &rpcError{Code: -32000, Message: "execution reverted"}
	}
	out, err := fn(in)
	if err != nil {
		return nil, &rpcError{Code: 3, Message: err.Error()}
	}
	packed, err := method.Outputs.Pack(out...)
	if err != nil {
		f.t.Errorf("pack %s outputs: %v", method.Name, err)
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	return hexutil.Encode(packed), nil
}

// directBackend reads straight through the client and refuses to sign.
type directBackend struct {
	client    *ethclient.Client
	mu        sync.Mutex
	transacts int
}

func (b *directBackend) Client() *ethclient.Client { return b.client }
func (b *directBackend) From() common.Address { return walletAddr }

func (b *directBackend) CallOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx, From: walletAddr}
}

func (b *directBackend) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (b *directBackend) Transact(context.Context, string, func(opts *bind.TransactOpts) (*types.Transaction, error)) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transacts++
	return nil, errors.New("signing disabled")
}

func (b *directBackend) OnReconnect(func(client *ethclient.Client) error) {}

func newRPCClient(t *testing.T, chain *fakeChain) (*Client, *directBackend) {
	t.Helper()
	server := httptest.NewServer(chain)
	t.Cleanup(server.Close)
	eth, err := ethclient.Dial(server.URL)
	if err != nil {
		t.Fatalf("dial fake chain: %v", err)
	}
	t.Cleanup(eth.Close)
	backend := &directBackend{client: eth}
	c, err := New(backend, config.ContractsConfig{
		Pool:              poolAddr.Hex(),
		PositionManager:   managerAddr.Hex(),
		SwapRouter:        routerAddr.Hex(),
		LendingPool:       lendingAddr.Hex(),
		StableToken:       stableAddr.Hex(),
		VolatileToken:     volatileAddr.Hex(),
		VariableDebtToken: debtAddr.Hex(),
	}, nil)
	if err != nil {
		t.Fatalf("bind contracts: %v", err)
	}
	return c, backend
}

func answerPoolMeta(chain *fakeChain) {
	chain.answer(poolAddr, "token0", func([]interface{}) ([]interface{}, error) {
		return []interface{}{volatileAddr}, nil
	})
	chain.answer(poolAddr, "token1", func([]interface{}) ([]interface{}, error) {
		return []interface{}{stableAddr}, nil
	})
	chain.answer(poolAddr, "fee", func([]interface{}) ([]interface{}, error) {
		return []interface{}{big.NewInt(500)}, nil
	})
	chain.answer(poolAddr, "tickSpacing", func([]interface{}) ([]interface{}, error) {
		return []interface{}{big.NewInt(10)}, nil
	})
	chain.answer(stableAddr, "decimals", func([]interface{}) ([]interface{}, error) {
		return []interface{}{uint8(6)}, nil
	})
	chain.answer(volatileAddr, "decimals", func([]interface{}) ([]interface{}, error) {
		return []interface{}{uint8(18)}, nil
	})
}

func positionOutputs(token0, token1 common.Address, fee, liquidity int64) []interface{} {
	return []interface{}{
		big.NewInt(0), common.Address{}, token0, token1, big.NewInt(fee),
		big.NewInt(-600), big.NewInt(600), big.NewInt(liquidity),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
	}
}

func TestExitPositionIsIdempotent(t *testing.T) {
	chain := newFakeChain(t)
	chain.answer(managerAddr, "positions", func([]interface{}) ([]interface{}, error) {
		return nil, errors.New("execution reverted: Invalid token ID")
	})
	c, backend := newRPCClient(t, chain)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := c.ExitPosition(ctx, "7"); err != nil {
			t.Fatalf("exit %d of burned token: %v", i+1, err)
		}
	}
	if backend.transacts != 0 {
		t.Fatalf("expected no transactions, got %d", backend.transacts)
	}
	if n := chain.sends(); n != 0 {
		t.Fatalf("expected no raw transactions, got %d", n)
	}
}

func TestExitPositionPropagatesReadFailure(t *testing.T) {
	chain := newFakeChain(t)
	chain.answer(managerAddr, "positions", func([]interface{}) ([]interface{}, error) {
		return nil, errors.New("execution reverted")
	})
	c, backend := newRPCClient(t, chain)
	if err := c.ExitPosition(context.Background(), "7"); err == nil {
		t.Fatalf("expected read failure to surface")
	}
	if backend.transacts != 0 {
		t.Fatalf("expected no transactions, got %d", backend.transacts)
	}
}

func TestOpenPositionsFiltersByPool(t *testing.T) {
	chain := newFakeChain(t)
	answerPoolMeta(chain)
	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	chain.answer(managerAddr, "balanceOf", func(args []interface{}) ([]interface{}, error) {
		if owner, _ := args[0].(common.Address); owner != walletAddr {
			t.Errorf("balanceOf asked for %s", owner.Hex())
		}
		return []interface{}{big.NewInt(4)}, nil
	})
	chain.answer(managerAddr, "tokenOfOwnerByIndex", func(args []interface{}) ([]interface{}, error) {
		idx := args[1].(*big.Int)
		return []interface{}{new(big.Int).Add(idx, big.NewInt(10))}, nil
	})
	chain.answer(managerAddr, "positions", func(args []interface{}) ([]interface{}, error) {
		switch args[0].(*big.Int).Int64() {
		case 10:
			return positionOutputs(volatileAddr, stableAddr, 500, 1_000), nil
		case 11:
			return positionOutputs(volatileAddr, other, 500, 1_000), nil
		case 12:
			return positionOutputs(volatileAddr, stableAddr, 500, 0), nil
		default:
			return positionOutputs(volatileAddr, stableAddr, 3000, 1_000), nil
		}
	})
	c, _ := newRPCClient(t, chain)

	ids, err := c.OpenPositions(context.Background())
	if err != nil {
		t.Fatalf("open positions: %v", err)
	}
	if len(ids) != 1 || ids[0] != strategy.PositionID("10") {
		t.Fatalf("expected only position 10, got %v", ids)
	}
}

func TestOpenPositionsEmptyWallet(t *testing.T) {
	chain := newFakeChain(t)
	answerPoolMeta(chain)
	chain.answer(managerAddr, "balanceOf", func([]interface{}) ([]interface{}, error) {
		return []interface{}{big.NewInt(0)}, nil
	})
	c, _ := newRPCClient(t, chain)
	ids, err := c.OpenPositions(context.Background())
	if err != nil {
		t.Fatalf("open positions: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected none, got %v", ids)
	}
}
