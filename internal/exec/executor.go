package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var (
	// ErrTxTimeout means the transaction may still land; callers must re-read
	// chain state instead of assuming either outcome.
	ErrTxTimeout  = errors.New("transaction confirmation timed out")
	ErrTxReverted = errors.New("transaction reverted")
)

type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Executor submits state-changing transactions exactly once and waits for
// their receipts.
type Executor struct {
	timeout      time.Duration
	pollInterval time.Duration
	log          *zap.Logger

	mu      sync.RWMutex
	backend ReceiptBackend
}

func New(backend ReceiptBackend, timeout time.Duration, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Executor{
		backend:      backend,
		timeout:      timeout,
		pollInterval: time.Second,
		log:          log,
	}
}

// SetBackend swaps the receipt source after a transport reconnect.
func (e *Executor) SetBackend(backend ReceiptBackend) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backend = backend
}

func (e *Executor) receipts() ReceiptBackend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backend
}

// Submit sends a transaction once, without retry, and waits until it is
// mined or the confirmation timeout elapses.
func (e *Executor) Submit(ctx context.Context, label string, send func(ctx context.Context) (*types.Transaction, error)) (*types.Receipt, error) {
	tx, err := send(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: submit: %w", label, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("%s: submit returned no transaction", label)
	}
	e.log.Info("transaction submitted", zap.String("op", label), zap.String("tx", tx.Hash().Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	receipt, err := e.waitMined(waitCtx, tx.Hash())
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: tx %s: %w", label, tx.Hash().Hex(), ErrTxTimeout)
		}
		return nil, fmt.Errorf("%s: tx %s: %w", label, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s: tx %s: %w", label, tx.Hash().Hex(), ErrTxReverted)
	}
	e.log.Info("transaction confirmed",
		zap.String("op", label),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return receipt, nil
}

func (e *Executor) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.receipts().TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			e.log.Debug("receipt lookup failed", zap.String("tx", hash.Hex()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Retry runs a read with doubling backoff. Reverts and cancellations are
// not retried.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !Retryable(err) || attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return fmt.Errorf("retry failed: %w", err)
}

func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsRevert(err)
}

func IsRevert(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
