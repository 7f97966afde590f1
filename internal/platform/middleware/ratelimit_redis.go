package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter is a fixed window counter shared by every replica. It guards
// the OTP and login endpoints, where a per-process bucket would let an
// attacker multiply their budget by the replica count.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l.client == nil {
		return Decision{}, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		key = "unknown"
	}

	raw, err := fixedWindowScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run rate limit script: %w", err)
	}
	if len(raw) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit script response")
	}

	count, ttl := int(raw[0]), time.Duration(raw[1])*time.Millisecond
	d := Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: l.limit - count,
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}
