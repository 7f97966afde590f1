package middleware

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiterForTest(t *testing.T, limit int) (*miniredis.Miniredis, *RedisLimiter) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		m.Close()
	})
	return m, NewRedisLimiter(client, "rl_test", limit, time.Minute)
}

func TestRedisLimiter_AllowThenDeny(t *testing.T) {
	_, limiter := newRedisLimiterForTest(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := limiter.Allow(ctx, "otp:10.0.0.1")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if d.Remaining != 3-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 3-i, d.Remaining)
		}
	}

	d, err := limiter.Allow(ctx, "otp:10.0.0.1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth request should be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("unexpected retry-after %s", d.RetryAfter)
	}
}

func TestRedisLimiter_WindowResets(t *testing.T) {
	m, limiter := newRedisLimiterForTest(t, 1)
	ctx := context.Background()

	if d, _ := limiter.Allow(ctx, "login:a"); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d, _ := limiter.Allow(ctx, "login:a"); d.Allowed {
		t.Fatal("second request should be denied")
	}

	m.FastForward(time.Minute + time.Second)

	if d, _ := limiter.Allow(ctx, "login:a"); !d.Allowed {
		t.Error("expected window to reset")
	}
}

func TestRedisLimiter_NilClient(t *testing.T) {
	limiter := NewRedisLimiter(nil, "", 1, time.Second)
	if _, err := limiter.Allow(context.Background(), "k"); err == nil {
		t.Fatal("expected nil client error")
	}
}
