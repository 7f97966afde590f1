package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/curafile/curafile/internal/config"
	"github.com/curafile/curafile/internal/domain/affiliation"
	"github.com/curafile/curafile/internal/domain/family"
	"github.com/curafile/curafile/internal/domain/identity"
	"github.com/curafile/curafile/internal/domain/records"
	"github.com/curafile/curafile/internal/domain/sharing"
	"github.com/curafile/curafile/internal/domain/vaccinations"
	"github.com/curafile/curafile/internal/domain/verification"
	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
	"github.com/curafile/curafile/internal/platform/blobstore"
	"github.com/curafile/curafile/internal/platform/db"
	"github.com/curafile/curafile/internal/platform/events"
	"github.com/curafile/curafile/internal/platform/middleware"
	"github.com/curafile/curafile/internal/platform/notification"
	"github.com/curafile/curafile/internal/platform/qrcode"
)

const version = "0.1.0"

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	sender, closeSender, err := notification.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("email backend: %w", err)
	}
	defer closeSender()

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	blobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := newAuthLimiter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	// Storage and services
	tx := db.NewTxManager(pool)
	identityRepo := identity.NewRepo(pool)
	state := newAuthState(cfg, pool, logger)
	ledger := auth.NewLedger(state.revocations, cfg.LedgerRetention(), logger)
	signer := auth.NewSigner(cfg.JWTSecret, cfg.JWTTTL)
	authn := auth.NewAuthenticator(signer, ledger, identityRepo)

	identitySvc := identity.NewService(identity.Deps{
		Repo:   identityRepo,
		Tx:     tx,
		Signer: signer,
		Ledger: ledger,
		OTP:    verification.NewOTPService(state.otps, sender, cfg.OTPTTL, logger),
		Resets: verification.NewResetTokenService(state.resets, cfg.ResetTokenTTL),
		Sender: sender,
		Events: publisher,
		QR:     qrcode.NewGenerator(),
		Logger: logger,
	}, identity.Options{
		FrontendURL:        cfg.FrontendURL,
		DefaultDoctorSlots: cfg.ClinicDefaultDoctorSlots,
	})
	sharingSvc := sharing.NewService(sharing.NewRepo(pool), identityRepo, tx, publisher, logger)
	affiliationSvc := affiliation.NewService(affiliation.NewRepo(pool), identityRepo, tx, sender, publisher, logger)
	recordsSvc := records.NewService(records.NewRepo(pool), blobs, sharingSvc, publisher, logger)
	vaccinationsSvc := vaccinations.NewService(vaccinations.NewRepo(pool), sharingSvc, publisher, logger)
	familySvc := family.NewService(family.NewRepo(pool), identityRepo, publisher, logger)

	e := newEcho(cfg, logger)
	e.GET("/health", db.HealthHandler(pool, version))

	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	api.Use(middleware.Audit(logger))
	authLimit := middleware.Limit(limiter, middleware.ByIP("auth"), logger)

	identity.NewHandler(identitySvc, authn).RegisterRoutes(api, authLimit)
	auth.NewSessionHandler(ledger, authn).RegisterRoutes(api)
	sharing.NewHandler(sharingSvc, identityRepo, authn).RegisterRoutes(api)
	affiliation.NewHandler(affiliationSvc, identityRepo, authn).RegisterRoutes(api)
	records.NewHandler(recordsSvc, identityRepo, authn).RegisterRoutes(api)
	vaccinations.NewHandler(vaccinationsSvc, identityRepo, authn).RegisterRoutes(api)
	family.NewHandler(familySvc, identityRepo, authn).RegisterRoutes(api)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return auth.NewSweeper(ledger, cfg.LedgerSweepInterval, logger).Run(gctx)
	})
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the server with the global middleware chain.
func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("30M"))
	e.Use(middleware.RequestTimeout(60 * time.Second))
	return e
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info().Msg("KAFKA_BROKERS not set; domain events are discarded")
		return events.Nop{}
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

func newBlobStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blobstore.Store, error) {
	if cfg.MinioEndpoint == "" {
		if cfg.IsProduction() {
			return nil, errors.New("MINIO_ENDPOINT is required in production")
		}
		logger.Warn().Msg("MINIO_ENDPOINT not set; documents are kept in memory")
		return blobstore.NewMemoryStore(), nil
	}
	s, err := blobstore.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	return s, nil
}

// authState holds the short-lived auth records.
type authState struct {
	revocations auth.RevocationStore
	otps        verification.OTPRepository
	resets      verification.ResetTokenRepository
}

func newAuthState(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) authState {
	if cfg.AuthStateStore == "memory" {
		logger.Warn().Msg("AUTH_STATE_STORE is memory; logouts and pending codes are lost on restart")
		return authState{
			revocations: auth.NewMemoryRevocationStore(),
			otps:        verification.NewMemoryOTPRepo(),
			resets:      verification.NewMemoryResetTokenRepo(),
		}
	}
	return authState{
		revocations: auth.NewRevocationStorePG(pool),
		otps:        verification.NewOTPRepo(pool),
		resets:      verification.NewResetTokenRepo(pool),
	}
}

// newAuthLimiter returns the limiter guarding OTP and login routes. Redis
// is shared across replicas; the fallback only limits this process.
func newAuthLimiter(cfg *config.Config, logger zerolog.Logger) (middleware.Limiter, func() error, error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set; auth rate limits are per process")
		return middleware.NewMemoryLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: float64(cfg.AuthRateLimit) / 60,
			BurstSize:         cfg.AuthRateLimit,
		}), func() error { return nil }, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	return middleware.NewRedisLimiter(client, "curafile:auth", cfg.AuthRateLimit, time.Minute), client.Close, nil
}
