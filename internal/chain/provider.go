// Package chain owns the RPC transport: dialing, retried reads, one-shot
// transaction submission, block subscriptions and reconnects.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/exec"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Rebinder re-resolves handles bound to a previous transport.
type Rebinder = func(client *ethclient.Client) error

type Provider struct {
	cfg      config.ChainConfig
	log      *zap.Logger
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	executor *exec.Executor

	mu        sync.RWMutex
	client    *ethclient.Client
	rebinders []Rebinder
}

// Dial connects to the RPC endpoint and verifies the chain id.
func Dial(ctx context.Context, cfg config.ChainConfig, log *zap.Logger) (*Provider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x")
	if keyHex == "" {
		return nil, errors.New("private key is required (BOT_PRIVATE_KEY)")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	p := &Provider{
		cfg:     cfg,
		log:     log,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(cfg.ChainID),
	}
	p.executor = exec.New(nil, cfg.TxTimeout, log)
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, p.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	id, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		return fmt.Errorf("read chain id: %w", err)
	}
	if id.Cmp(p.chainID) != 0 {
		client.Close()
		return fmt.Errorf("rpc chain id %s does not match configured %s", id, p.chainID)
	}

	p.mu.Lock()
	old := p.client
	p.client = client
	rebinders := append([]Rebinder(nil), p.rebinders...)
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
	p.executor.SetBackend(client)
	for _, rebind := range rebinders {
		if err := rebind(client); err != nil {
			return fmt.Errorf("rebind after connect: %w", err)
		}
	}
	return nil
}

// Client returns the current transport. Do not retain it across reconnects;
// register an OnReconnect hook instead.
func (p *Provider) Client() *ethclient.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

func (p *Provider) From() common.Address {
	return p.from
}

// OnReconnect registers fn to run after every successful reconnect.
func (p *Provider) OnReconnect(fn Rebinder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebinders = append(p.rebinders, fn)
}

// Reconnect replaces the transport and runs the registered rebinders.
func (p *Provider) Reconnect(ctx context.Context) error {
	p.log.Warn("reconnecting rpc transport")
	return p.connect(ctx)
}

// Read runs a contract read with transient-fault retry.
func (p *Provider) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	return exec.Retry(ctx, p.cfg.ReadRetries, p.cfg.ReadBackoff, fn)
}

// Transact signs with the bot key and submits once, waiting for the receipt.
func (p *Provider) Transact(ctx context.Context, label string, send func(opts *bind.TransactOpts) (*types.Transaction, error)) (*types.Receipt, error) {
	return p.executor.Submit(ctx, label, func(ctx context.Context) (*types.Transaction, error) {
		opts, err := bind.NewKeyedTransactorWithChainID(p.key, p.chainID)
		if err != nil {
			return nil, err
		}
		opts.Context = ctx
		return send(opts)
	})
}

// CallOpts returns read options sending from the bot address.
func (p *Provider) CallOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx, From: p.from}
}

// SubscribeNewHeads delivers block numbers to handler until ctx ends,
// reconnecting and resubscribing when the subscription drops. handler must
// not block.
func (p *Provider) SubscribeNewHeads(ctx context.Context, handler func(ctx context.Context, block uint64)) error {
	for {
		heads := make(chan *types.Header, 16)
		sub, err := p.Client().SubscribeNewHead(ctx, heads)
		if err == nil {
			p.log.Info("block subscription active")
			err = consumeHeads(ctx, sub, heads, handler)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn("block subscription ended", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.ReconnectDelay):
		}
		if err := p.Reconnect(ctx); err != nil {
			p.log.Warn("reconnect failed", zap.Error(err))
		}
	}
}

func consumeHeads(ctx context.Context, sub ethereum.Subscription, heads <-chan *types.Header, handler func(ctx context.Context, block uint64)) error {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return errors.New("subscription closed")
			}
			return err
		case head := <-heads:
			if head == nil || head.Number == nil {
				continue
			}
			handler(ctx, head.Number.Uint64())
		}
	}
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}
