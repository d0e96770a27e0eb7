// Package redisstore is the distributed backend: one Redis key per entity,
// ZSET per sorted index, TTLs applied as given. Apply uses MULTI/EXEC so the
// balance write and the ledger append land atomically.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stellune/credits-service/internal/store"
)

type Store struct {
	client *redis.Client
}

func New(addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("connected to Redis", "addr", addr)
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client; tests use this with miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string, dest any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode value for %s: %w", key, err)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.SetTTL(ctx, key, value, 0)
}

func (s *Store) SetTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *Store) IndexAdd(ctx context.Context, index, member string, score int64) error {
	err := s.client.ZAdd(ctx, index, redis.Z{Score: float64(score), Member: member}).Err()
	if err != nil {
		return fmt.Errorf("redis zadd %s: %w", index, err)
	}
	return nil
}

func (s *Store) IndexRemove(ctx context.Context, index, member string) error {
	if err := s.client.ZRem(ctx, index, member).Err(); err != nil {
		return fmt.Errorf("redis zrem %s: %w", index, err)
	}
	return nil
}

func (s *Store) IndexRange(ctx context.Context, index string, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := s.client.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange %s: %w", index, err)
	}
	return members, nil
}

// IndexTrim keeps the keep highest-scored members by removing the ascending
// rank range below them.
func (s *Store) IndexTrim(ctx context.Context, index string, keep int) error {
	if keep < 0 {
		return nil
	}
	if err := s.client.ZRemRangeByRank(ctx, index, 0, int64(-keep)-1).Err(); err != nil {
		return fmt.Errorf("redis zremrangebyrank %s: %w", index, err)
	}
	return nil
}

func (s *Store) IndexExpire(ctx context.Context, index string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, index, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", index, err)
	}
	return nil
}

func (s *Store) Apply(ctx context.Context, b *store.Batch) error {
	pipe := s.client.TxPipeline()
	for _, op := range b.Ops {
		switch op.Kind {
		case store.OpSet, store.OpSetTTL:
			raw, err := json.Marshal(op.Value)
			if err != nil {
				return fmt.Errorf("failed to encode value for %s: %w", op.Key, err)
			}
			pipe.Set(ctx, op.Key, raw, op.TTL)
		case store.OpDelete:
			pipe.Del(ctx, op.Key)
		case store.OpIndexAdd:
			pipe.ZAdd(ctx, op.Index, redis.Z{Score: float64(op.Score), Member: op.Member})
		case store.OpIndexRemove:
			pipe.ZRem(ctx, op.Index, op.Member)
		case store.OpIndexTrim:
			if op.Keep >= 0 {
				pipe.ZRemRangeByRank(ctx, op.Index, 0, int64(-op.Keep)-1)
			}
		case store.OpIndexExpire:
			pipe.Expire(ctx, op.Index, op.TTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis batch exec: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
