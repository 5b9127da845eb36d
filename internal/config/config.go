package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port string
	Env  string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

// GatewayConfig holds the credentials for one payment provider. An
// adapter is only registered when its SecretKey is set.
type GatewayConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

type CheckoutConfig struct {
	OrderNumberPrefix string
	MaxLineQuantity   int
	LockTimeout       time.Duration
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

type MaintenanceConfig struct {
	SweepInterval    time.Duration
	CartRetention    time.Duration
	WebhookRetention time.Duration
}

type Config struct {
	App         AppConfig
	Postgres    PostgresConfig
	Stripe      GatewayConfig
	Paystack    GatewayConfig
	Checkout    CheckoutConfig
	Events      EventsConfig
	Maintenance MaintenanceConfig
}

// NewConfig reads the environment, optionally seeded from a .env file
// in the working directory. Missing required keys fail fast.
func NewConfig() (*Config, error) {
	// .env is a local development convenience; absence is fine.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.Env = getEnv("APP_ENV", "development")

	var err error
	if cfg.Postgres.Host, err = requireEnv("DB_HOST"); err != nil {
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
	cfg.Postgres.Port = getEnv("DB_PORT", "5432")
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Postgres.MaxConns = int32(getEnvInt("DB_MAX_CONNS", 10))
	cfg.Postgres.MinConns = int32(getEnvInt("DB_MIN_CONNS", 2))
	cfg.Postgres.MaxConnLifetime = getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour)
	cfg.Postgres.MigrationsPath = getEnv("DB_MIGRATIONS_PATH", "migrations")

	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.Stripe.BaseURL = getEnv("STRIPE_BASE_URL", "https://api.stripe.com")

	cfg.Paystack.SecretKey = os.Getenv("PAYSTACK_SECRET_KEY")
	// Paystack signs webhooks with the account secret key itself.
	cfg.Paystack.WebhookSecret = getEnv("PAYSTACK_WEBHOOK_SECRET", cfg.Paystack.SecretKey)
	cfg.Paystack.BaseURL = getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co")

	cfg.Checkout.OrderNumberPrefix = getEnv("ORDER_NUMBER_PREFIX", "ORD")
	cfg.Checkout.MaxLineQuantity = getEnvInt("CART_MAX_LINE_QUANTITY", 100)
	cfg.Checkout.LockTimeout = getEnvDuration("CHECKOUT_LOCK_TIMEOUT", 5*time.Second)

	cfg.Events.AMQPURL = os.Getenv("AMQP_URL")
	cfg.Events.Exchange = getEnv("AMQP_EXCHANGE", "checkout.events")

	cfg.Maintenance.SweepInterval = getEnvDuration("SWEEP_INTERVAL", time.Hour)
	cfg.Maintenance.CartRetention = getEnvDuration("CART_RETENTION", 30*24*time.Hour)
	cfg.Maintenance.WebhookRetention = getEnvDuration("WEBHOOK_RETENTION", 90*24*time.Hour)

	if cfg.Checkout.MaxLineQuantity < 1 {
		return nil, fmt.Errorf("config: CART_MAX_LINE_QUANTITY must be positive, got %d", cfg.Checkout.MaxLineQuantity)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("config: %s is required", key)
	}
	return value, nil
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
