package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSecret           string        `mapstructure:"JWT_SECRET"`
	JWTTTL              time.Duration `mapstructure:"JWT_TTL"`
	LedgerMinRetention  time.Duration `mapstructure:"LEDGER_MIN_RETENTION"`
	LedgerSweepInterval time.Duration `mapstructure:"LEDGER_SWEEP_INTERVAL"`
	OTPTTL              time.Duration `mapstructure:"OTP_TTL"`
	ResetTokenTTL       time.Duration `mapstructure:"RESET_TOKEN_TTL"`

	// AuthStateStore is "postgres" or "memory" (development only) for the
	// revocation ledger, one-time codes and reset tokens.
	AuthStateStore string `mapstructure:"AUTH_STATE_STORE"`

	EmailProvider string `mapstructure:"EMAIL_PROVIDER"`
	EmailFrom     string `mapstructure:"EMAIL_FROM"`
	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      int    `mapstructure:"SMTP_PORT"`
	SMTPUser      string `mapstructure:"SMTP_USER"`
	SMTPPassword  string `mapstructure:"SMTP_PASSWORD"`
	ResendAPIKey  string `mapstructure:"RESEND_API_KEY"`
	FrontendURL   string `mapstructure:"FRONTEND_URL"`

	RabbitMQURL  string   `mapstructure:"RABBITMQ_URL"`
	EmailQueue   string   `mapstructure:"EMAIL_QUEUE"`
	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	RedisURL       string  `mapstructure:"REDIS_URL"`
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
	AuthRateLimit  int     `mapstructure:"AUTH_RATE_LIMIT"`

	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	ClinicDefaultDoctorSlots int `mapstructure:"CLINIC_DEFAULT_DOCTOR_SLOTS"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"JWT_SECRET", "JWT_TTL", "LEDGER_MIN_RETENTION", "LEDGER_SWEEP_INTERVAL", "OTP_TTL", "RESET_TOKEN_TTL", "AUTH_STATE_STORE",
	"EMAIL_PROVIDER", "EMAIL_FROM", "SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD",
	"RESEND_API_KEY", "FRONTEND_URL",
	"RABBITMQ_URL", "EMAIL_QUEUE", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"REDIS_URL", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "AUTH_RATE_LIMIT",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
	"CLINIC_DEFAULT_DOCTOR_SLOTS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_TTL", "168h")
	v.SetDefault("LEDGER_MIN_RETENTION", "168h")
	v.SetDefault("LEDGER_SWEEP_INTERVAL", "1h")
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("RESET_TOKEN_TTL", "10m")
	v.SetDefault("AUTH_STATE_STORE", "postgres")
	v.SetDefault("EMAIL_PROVIDER", "log")
	v.SetDefault("EMAIL_FROM", "CuraFile <no-reply@curafile.local>")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("EMAIL_QUEUE", "email_jobs")
	v.SetDefault("KAFKA_TOPIC", "curafile.events")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("AUTH_RATE_LIMIT", 10)
	v.SetDefault("MINIO_BUCKET", "medical-documents")
	v.SetDefault("CLINIC_DEFAULT_DOCTOR_SLOTS", 3)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}
	if cfg.KafkaBrokers == nil {
		cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET is empty; using an insecure development secret.")
		cfg.JWTSecret = "curafile-development-secret-do-not-use-in-prod"
	}

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LedgerRetention is how long identity-wide revocation entries are kept. It
// never drops below the session TTL currently in force.
func (c *Config) LedgerRetention() time.Duration {
	if c.LedgerMinRetention > c.JWTTTL {
		return c.LedgerMinRetention
	}
	return c.JWTTTL
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes in production, got %d", len(c.JWTSecret))
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL)
	}
	if c.OTPTTL <= 0 || c.ResetTokenTTL <= 0 {
		return fmt.Errorf("OTP_TTL and RESET_TOKEN_TTL must be positive")
	}

	switch c.AuthStateStore {
	case "postgres", "":
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_STATE_STORE \"memory\" is not allowed in production")
		}
	default:
		return fmt.Errorf("AUTH_STATE_STORE must be \"postgres\" or \"memory\", got %q", c.AuthStateStore)
	}

	switch c.EmailProvider {
	case "log":
		if c.IsProduction() {
			return fmt.Errorf("EMAIL_PROVIDER \"log\" is not allowed in production")
		}
	case "smtp":
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER is \"smtp\"")
		}
	case "resend":
		if c.ResendAPIKey == "" {
			return fmt.Errorf("RESEND_API_KEY is required when EMAIL_PROVIDER is \"resend\"")
		}
	case "queue":
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when EMAIL_PROVIDER is \"queue\"")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be \"smtp\", \"resend\", \"queue\", or \"log\", got %q", c.EmailProvider)
	}

	if c.ClinicDefaultDoctorSlots < 0 {
		return fmt.Errorf("CLINIC_DEFAULT_DOCTOR_SLOTS must not be negative")
	}
	return nil
}
