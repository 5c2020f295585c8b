package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MigrationsPath  string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type RedisConfig struct {
	Addr string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type Config struct {
	App struct {
		Port string
		// FrontendURL is where the payment provider redirects customers
		// after checkout.
		FrontendURL string
	}
	Postgres PostgresConfig
	Redis    RedisConfig
	Stripe   StripeConfig
	Orders   struct {
		// PendingTTL > 0 enables automatic cancellation of orders left
		// unpaid for that long. Zero (the default) disables it.
		PendingTTL    time.Duration
		ExpirerPeriod time.Duration
	}
}

// NewConfig reads configuration from the environment, optionally seeded
// from a .env file.
func NewConfig() (*Config, error) {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.FrontendURL = getEnv("FRONTEND_URL", "http://localhost:3000")

	var err error
	if cfg.Postgres.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Postgres.Port, err = requireEnv("DB_PORT"); err != nil {
		return nil, err
	}
	if cfg.Postgres.User, err = requireEnv("DB_USER"); err != nil {
		return nil, err
	}
	if cfg.Postgres.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Postgres.DBName, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = getEnv("MIGRATIONS_PATH", "migrations")
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")

	if cfg.Stripe.SecretKey, err = requireEnv("STRIPE_SECRET_KEY"); err != nil {
		return nil, err
	}
	if cfg.Stripe.WebhookSecret, err = requireEnv("STRIPE_WEBHOOK_SECRET"); err != nil {
		return nil, err
	}

	if cfg.Orders.PendingTTL, err = durationEnv("PENDING_ORDER_TTL", 0); err != nil {
		return nil, err
	}
	if cfg.Orders.ExpirerPeriod, err = durationEnv("PENDING_ORDER_SWEEP_PERIOD", time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("config: %s is required", key)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration in %s: %w", key, err)
	}
	return d, nil
}
