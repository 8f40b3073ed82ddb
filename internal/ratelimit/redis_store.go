package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each identity's timestamps in a sorted set scored by
// unix milliseconds. Keys expire after the window so idle identities vanish
// even without a sweep.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// RedisStoreOption customizes a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix namespaces keys, e.g. per limiter.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisStoreOption) *RedisStore {
	if rdb == nil {
		panic("ratelimit: redis client required")
	}
	s := &RedisStore{rdb: rdb, prefix: "ratelimit"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + ":" + identity
}

func (s *RedisStore) Get(ctx context.Context, identity string) ([]time.Time, error) {
	members, err := s.rdb.ZRangeWithScores(ctx, s.key(identity), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	out := make([]time.Time, 0, len(members))
	for _, m := range members {
		out = append(out, time.UnixMilli(int64(m.Score)))
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, identity string, stamps []time.Time, ttl time.Duration) error {
	key := s.key(identity)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(stamps) == 0 {
			return nil
		}
		members := make([]redis.Z, len(stamps))
		for i, ts := range stamps {
			// The index keeps members unique when two requests share a millisecond.
			members[i] = redis.Z{
				Score:  float64(ts.UnixMilli()),
				Member: strconv.FormatInt(ts.UnixMilli(), 10) + "-" + strconv.Itoa(i),
			}
		}
		pipe.ZAdd(ctx, key, members...)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ratelimit: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	// Inclusive bound: scores at or before cutoff are dropped.
	upper := strconv.FormatInt(cutoff.UnixMilli(), 10)
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := s.rdb.ZRemRangeByScore(ctx, key, "-inf", upper).Err(); err != nil {
			return removed, fmt.Errorf("ratelimit: redis prune %s: %w", key, err)
		}
		n, err := s.rdb.ZCard(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("ratelimit: redis card %s: %w", key, err)
		}
		if n == 0 {
			if err := s.rdb.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("ratelimit: redis del %s: %w", key, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("ratelimit: redis scan: %w", err)
	}
	return removed, nil
}
