package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript is the fixed-window algorithm run atomically inside Redis.
// KEYS[1] = entry key; ARGV = max, window ms, now ms.
// Returns {admitted, count, resetAt ms}.
var takeScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset') or '0')
if reset <= now then
  count = 0
  reset = now + window
  redis.call('HSET', KEYS[1], 'count', 0, 'reset', reset)
  redis.call('PEXPIRE', KEYS[1], math.max(window, 1))
end
if count >= max then
  return {0, count, reset}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, reset}
`)

// RedisStore shares window state between processes through Redis.
// Keys expire on their own, so Sweep has nothing to do.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore returns a RedisStore that namespaces keys under prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, p Policy, now time.Time) (Decision, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key},
		p.MaxRequests, p.Window.Milliseconds(), now.UnixMilli()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis take %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis take %s: unexpected reply length %d", key, len(res))
	}
	d := Decision{
		Admitted: res[0] == 1,
		Limit:    p.MaxRequests,
		ResetAt:  time.UnixMilli(res[2]),
	}
	if d.Admitted {
		d.Remaining = p.MaxRequests - int(res[1])
	}
	return d, nil
}

// Sweep implements Store.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
