package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RateLimitConfig holds token bucket settings for the in-process limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// Decision is the outcome of a single limiter check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

func (b *tokenBucket) take(now time.Time) (bool, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(b.maxTokens, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, b.tokens
	}
	return false, b.tokens
}

// MemoryLimiter keeps one token bucket per key in process memory. Suitable
// for a single replica or as a fallback when Redis is not configured.
type MemoryLimiter struct {
	cfg     RateLimitConfig
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	return &MemoryLimiter{
		cfg:     cfg,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) bucket(key string) *tokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b = newTokenBucket(l.cfg.RequestsPerSecond, l.cfg.BurstSize, l.now())
	l.buckets[key] = b
	return b
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	ok, left := l.bucket(key).take(l.now())
	d := Decision{Allowed: ok, Limit: l.cfg.BurstSize, Remaining: int(left)}
	if !ok {
		d.RetryAfter = time.Duration((1 - left) / l.cfg.RequestsPerSecond * float64(time.Second))
	}
	return d, nil
}

// KeyFunc derives the rate limit key for a request.
type KeyFunc func(c echo.Context) string

// ByIP keys requests by client IP, prefixed with scope.
func ByIP(scope string) KeyFunc {
	return func(c echo.Context) string {
		return scope + ":" + c.RealIP()
	}
}

// RateLimit applies an in-process token bucket keyed by client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return Limit(NewMemoryLimiter(cfg), ByIP("global"), zerolog.Nop())
}

// Limit enforces l for every request. Limiter backend errors are logged and
// the request is let through.
func Limit(l Limiter, key KeyFunc, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d, err := l.Allow(c.Request().Context(), key(c))
			if err != nil {
				logger.Warn().Err(err).Str("path", c.Path()).Msg("rate limiter unavailable")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
			if !d.Allowed {
				retry := int(math.Ceil(d.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				h.Set("Retry-After", strconv.Itoa(retry))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
