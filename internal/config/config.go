package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	AuthJWTSecret string

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	RedisAddr     string
	RedisPassword string

	Ciabra    CiabraConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig
	Seed      SeedConfig
}

// RateLimitConfig throttles the interactive charge endpoint. Requires redis;
// disabled by default for single-instance deployments.
type RateLimitConfig struct {
	Enabled     bool
	ChargeRate  float64
	ChargeBurst int
}

// SeedConfig bootstraps an administrator account at startup. Skipped when
// the email is empty.
type SeedConfig struct {
	AdminEmail string
	AdminName  string
}

// CiabraConfig carries credentials for the external billing provider.
type CiabraConfig struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	CallbackURL   string
	Timeout       time.Duration
}

// BillingConfig holds the contribution defaults applied when a charge is
// generated without an explicit amount.
type BillingConfig struct {
	// DefaultAmount is the fixed monthly contribution in BRL.
	// Per-association amounts are a known limitation; see DESIGN.md.
	DefaultAmount float64
	Currency      string
}

var Module = fx.Provide(Load)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "morada"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "morada"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Ciabra: CiabraConfig{
			BaseURL:       strings.TrimRight(getenv("CIABRA_BASE_URL", ""), "/"),
			ClientID:      strings.TrimSpace(getenv("CIABRA_CLIENT_ID", "")),
			ClientSecret:  strings.TrimSpace(getenv("CIABRA_CLIENT_SECRET", "")),
			WebhookSecret: strings.TrimSpace(getenv("CIABRA_WEBHOOK_SECRET", "")),
			CallbackURL:   strings.TrimSpace(getenv("CIABRA_CALLBACK_URL", "")),
			Timeout:       getenvDuration("CIABRA_TIMEOUT", 30*time.Second),
		},
		Billing: BillingConfig{
			DefaultAmount: getenvFloat("BILLING_DEFAULT_AMOUNT", 150.00),
			Currency:      getenv("BILLING_CURRENCY", "BRL"),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATELIMIT_ENABLED", false),
			ChargeRate:  getenvFloat("RATELIMIT_CHARGE_RATE", 0.5),
			ChargeBurst: getenvInt("RATELIMIT_CHARGE_BURST", 5),
		},
		Seed: SeedConfig{
			AdminEmail: strings.TrimSpace(getenv("SEED_ADMIN_EMAIL", "")),
			AdminName:  getenv("SEED_ADMIN_NAME", "Administrador"),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
