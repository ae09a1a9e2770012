// Package state persists the bot's position ledger in a key-value store.
package state

import "context"

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// CompareAndSwap writes value only while key still holds old, or is
	// absent when existed is false. It reports whether the write happened.
	CompareAndSwap(ctx context.Context, key, old string, existed bool, value string) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
