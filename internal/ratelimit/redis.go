package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments a counter and starts its window on the first hit. A
// counter with no TTL, or one longer than the current window, gets a fresh
// TTL so a window never outlasts its configured duration. Returns
// {count, pttl}.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if count == 1 or ttl < 0 or ttl > tonumber(ARGV[1]) then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore is a CounterStore shared by every gateway replica. Windows are
// enforced by key TTLs, so Sweep has nothing to do.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store whose keys live under prefix. The client is
// not owned by the store and is not closed by Close.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		prefix: strings.TrimRight(prefix, ":") + ":",
	}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

// Hit records one request for key.
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error) {
	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	vals, err := hitScript.Run(ctx, s.rdb, []string{s.redisKey(key)}, ms).Int64Slice()
	if err != nil {
		return Record{}, fmt.Errorf("redis hit %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Record{}, fmt.Errorf("redis hit %s: unexpected reply length %d", key, len(vals))
	}
	return Record{
		Key:     key,
		Count:   int(vals[0]),
		ResetAt: now.Add(time.Duration(vals[1]) * time.Millisecond),
	}, nil
}

// Sweep is a no-op; Redis expires counters itself.
func (s *RedisStore) Sweep(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// Records scans the prefix and returns every live counter.
func (s *RedisStore) Records(ctx context.Context, now time.Time) ([]Record, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []Record{}, nil
	}

	pipe := s.rdb.Pipeline()
	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, k := range keys {
		gets[i] = pipe.Get(ctx, k)
		ttls[i] = pipe.PTTL(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis records: %w", err)
	}

	out := make([]Record, 0, len(keys))
	for i, k := range keys {
		count, err := gets[i].Int()
		if err != nil {
			// Expired between SCAN and GET.
			continue
		}
		ttl := ttls[i].Val()
		if ttl <= 0 {
			continue
		}
		out = append(out, Record{
			Key:     strings.TrimPrefix(k, s.prefix),
			Count:   count,
			ResetAt: now.Add(ttl),
		})
	}
	return out, nil
}

// Delete removes the counter for key.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete %s: %w", key, err)
	}
	return n > 0, nil
}

// Clear removes every counter under the prefix.
func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis clear: %w", err)
	}
	return int(n), nil
}

// Len counts the keys under the prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}
