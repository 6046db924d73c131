package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Database struct {
	Host     string
	Port     string
	Name     string
	Username string
	Password string
	Schema   string
}

// DSN builds the pgx connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.Username, d.Password, d.Host, d.Port, d.Name, d.Schema,
	)
}

type Gateway struct {
	BaseURL       string
	AccessToken   string
	SpaceID       string
	WebhookSecret string
	Timeout       time.Duration
}

type Config struct {
	HTTPAddr           string
	StoreDriver        string
	AppBaseURL         string
	CORSAllowedOrigins []string

	Database Database
	Gateway  Gateway

	Currency               string
	SellerShareRatio       decimal.Decimal
	PayoutEstimatedArrival time.Duration

	RedisAddr      string
	IdempotencyTTL time.Duration

	KafkaBrokers        []string
	KafkaOrderPaidTopic string

	ReconcileInterval   time.Duration
	StuckOrderAge       time.Duration
	PayoutSweepInterval time.Duration
	PaidEventRetryAge   time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("APP_BASE_URL", "http://localhost:3000")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("BLUEPRINT_DB_HOST", "localhost")
	v.SetDefault("BLUEPRINT_DB_PORT", "5432")
	v.SetDefault("BLUEPRINT_DB_SCHEMA", "public")
	v.SetDefault("MONIME_API_BASE_URL", "https://api.monime.io")
	v.SetDefault("GATEWAY_TIMEOUT", "15s")
	v.SetDefault("CURRENCY", "SLE")
	v.SetDefault("SELLER_SHARE_RATIO", "0.90")
	v.SetDefault("PAYOUT_ESTIMATED_ARRIVAL", "48h")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("KAFKA_ORDER_PAID_TOPIC", "orders.paid")
	v.SetDefault("RECONCILE_INTERVAL", "1m")
	v.SetDefault("STUCK_ORDER_AGE", "10m")
	v.SetDefault("PAYOUT_SWEEP_INTERVAL", "15m")
	v.SetDefault("PAID_EVENT_RETRY_AGE", "1m")
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// Missing .env is fine; production uses real env vars.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	ratio, err := decimal.NewFromString(v.GetString("SELLER_SHARE_RATIO"))
	if err != nil {
		return nil, fmt.Errorf("invalid SELLER_SHARE_RATIO: %w", err)
	}

	cfg := &Config{
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		StoreDriver:        strings.ToLower(v.GetString("STORE_DRIVER")),
		AppBaseURL:         strings.TrimRight(v.GetString("APP_BASE_URL"), "/"),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		Database: Database{
			Host:     v.GetString("BLUEPRINT_DB_HOST"),
			Port:     v.GetString("BLUEPRINT_DB_PORT"),
			Name:     v.GetString("BLUEPRINT_DB_DATABASE"),
			Username: v.GetString("BLUEPRINT_DB_USERNAME"),
			Password: v.GetString("BLUEPRINT_DB_PASSWORD"),
			Schema:   v.GetString("BLUEPRINT_DB_SCHEMA"),
		},
		Gateway: Gateway{
			BaseURL:       strings.TrimRight(v.GetString("MONIME_API_BASE_URL"), "/"),
			AccessToken:   v.GetString("MONIME_ACCESS_TOKEN"),
			SpaceID:       v.GetString("MONIME_SPACE_ID"),
			WebhookSecret: v.GetString("MONIME_WEBHOOK_SECRET"),
			Timeout:       v.GetDuration("GATEWAY_TIMEOUT"),
		},
		Currency:               strings.ToUpper(v.GetString("CURRENCY")),
		SellerShareRatio:       ratio,
		PayoutEstimatedArrival: v.GetDuration("PAYOUT_ESTIMATED_ARRIVAL"),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		IdempotencyTTL:         v.GetDuration("IDEMPOTENCY_TTL"),
		KafkaBrokers:           splitList(v.GetString("KAFKA_BROKERS")),
		KafkaOrderPaidTopic:    v.GetString("KAFKA_ORDER_PAID_TOPIC"),
		ReconcileInterval:      v.GetDuration("RECONCILE_INTERVAL"),
		StuckOrderAge:          v.GetDuration("STUCK_ORDER_AGE"),
		PayoutSweepInterval:    v.GetDuration("PAYOUT_SWEEP_INTERVAL"),
		PaidEventRetryAge:      v.GetDuration("PAID_EVENT_RETRY_AGE"),
	}
	return cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	if !c.SellerShareRatio.IsPositive() || c.SellerShareRatio.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("SELLER_SHARE_RATIO must be in (0, 1], got %s", c.SellerShareRatio))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.Gateway.WebhookSecret == "" {
		errs = append(errs, errors.New("MONIME_WEBHOOK_SECRET is required"))
	}
	if c.StoreDriver != "postgres" && c.StoreDriver != "memory" {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver))
	}
	if c.Currency == "" {
		errs = append(errs, errors.New("CURRENCY is required"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
