package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/config"
	"github.com/curafile/curafile/internal/domain/verification"
	"github.com/curafile/curafile/internal/platform/auth"
	"github.com/curafile/curafile/internal/platform/blobstore"
	"github.com/curafile/curafile/internal/platform/events"
	"github.com/curafile/curafile/internal/platform/middleware"
)

func TestNewPublisher_NopWithoutBrokers(t *testing.T) {
	p := newPublisher(&config.Config{}, zerolog.Nop())
	if _, ok := p.(events.Nop); !ok {
		t.Errorf("expected Nop publisher, got %T", p)
	}

	p = newPublisher(&config.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "t"}, zerolog.Nop())
	if _, ok := p.(*events.KafkaPublisher); !ok {
		t.Errorf("expected Kafka publisher, got %T", p)
	}
	_ = p.Close()
}

func TestNewAuthState(t *testing.T) {
	mem := newAuthState(&config.Config{AuthStateStore: "memory"}, nil, zerolog.Nop())
	if _, ok := mem.revocations.(*auth.MemoryRevocationStore); !ok {
		t.Errorf("expected memory revocation store, got %T", mem.revocations)
	}
	if _, ok := mem.otps.(*verification.MemoryOTPRepo); !ok {
		t.Errorf("expected memory OTP repo, got %T", mem.otps)
	}
	if _, ok := mem.resets.(*verification.MemoryResetTokenRepo); !ok {
		t.Errorf("expected memory reset token repo, got %T", mem.resets)
	}

	pg := newAuthState(&config.Config{AuthStateStore: "postgres"}, nil, zerolog.Nop())
	if _, ok := pg.revocations.(*auth.MemoryRevocationStore); ok {
		t.Error("expected the postgres revocation store")
	}
	if _, ok := pg.otps.(*verification.MemoryOTPRepo); ok {
		t.Error("expected the postgres OTP repo")
	}
}

func TestNewBlobStore_MemoryOutsideProduction(t *testing.T) {
	s, err := newBlobStore(context.Background(), &config.Config{Env: "development"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*blobstore.MemoryStore); !ok {
		t.Errorf("expected memory store, got %T", s)
	}

	if _, err := newBlobStore(context.Background(), &config.Config{Env: "production"}, zerolog.Nop()); err == nil {
		t.Error("expected production without MINIO_ENDPOINT to fail")
	}
}

func TestNewAuthLimiter(t *testing.T) {
	l, closeFn, err := newAuthLimiter(&config.Config{AuthRateLimit: 5}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.(*middleware.MemoryLimiter); !ok {
		t.Errorf("expected memory limiter, got %T", l)
	}
	_ = closeFn()

	mr := miniredis.RunT(t)
	l, closeFn, err = newAuthLimiter(&config.Config{AuthRateLimit: 2, RedisURL: "redis://" + mr.Addr()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()
	for i := 0; i < 2; i++ {
		d, err := l.Allow(context.Background(), "auth:1.2.3.4")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allowed, got %+v (%v)", i, d, err)
		}
	}
	if d, _ := l.Allow(context.Background(), "auth:1.2.3.4"); d.Allowed {
		t.Error("expected third request in the window to be denied")
	}

	if _, _, err := newAuthLimiter(&config.Config{RedisURL: "://bad"}, zerolog.Nop()); err == nil {
		t.Error("expected an invalid REDIS_URL to fail")
	}
}

func TestNewEcho_Middleware(t *testing.T) {
	e := newEcho(&config.Config{CORSOrigins: []string{"http://localhost:3000"}}, zerolog.Nop())
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
