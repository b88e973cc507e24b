package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore persists room blobs as plain string keys. Update uses WATCH so
// the read-check-write is an optimistic transaction: if another writer
// touches the key between the read and the exec, the attempt is retried.
type RedisStore struct {
	cli       *redis.Client
	keyPrefix string
}

const redisTxRetries = 5

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Info().Str("addr", addr).Msg("redis store ready")
	return &RedisStore{cli: cli, keyPrefix: "room:"}, nil
}

func (s *RedisStore) key(k string) string { return s.keyPrefix + k }

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.cli.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", key, err)
	}
	return blob, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, blob []byte) error {
	if err := s.cli.Set(ctx, s.key(key), blob, 0).Err(); err != nil {
		return fmt.Errorf("failed to save room %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	rkey := s.key(key)

	txn := func(tx *redis.Tx) error {
		old, err := tx.Get(ctx, rkey).Bytes()
		if errors.Is(err, redis.Nil) {
			old = nil
		} else if err != nil {
			return err
		}

		next, write, err := fn(old)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.cli.Watch(ctx, txn, rkey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update room %s: transaction contention after %d attempts", key, redisTxRetries)
}

func (s *RedisStore) Close() error {
	return s.cli.Close()
}
