// Package redisstore backs the ledger with Redis so several hosts can share
// one bot instance's state.
package redisstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lp-hedge-bot:"

type Store struct {
	client redis.UniversalClient
}

func New(ctx context.Context, addr string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, keyPrefix+key, value, 0).Err()
}

// CompareAndSwap runs the check and the write under WATCH, so a concurrent
// writer aborts the transaction instead of being overwritten.
func (s *Store) CompareAndSwap(ctx context.Context, key, old string, existed bool, value string) (bool, error) {
	full := keyPrefix + key
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, full).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if existed {
				return redis.TxFailedErr
			}
		case err != nil:
			return err
		case !existed || cur != old:
			return redis.TxFailedErr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, value, 0)
			return nil
		})
		return err
	}, full)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
