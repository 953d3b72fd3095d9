package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Auth       AuthConfig       `yaml:"auth"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Settlement SettlementConfig `yaml:"settlement"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PostgresConfig selects the database. Driver "sqlite" is for local runs.
type PostgresConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig; an empty Addr disables the cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type LedgerConfig struct {
	MinimumPayoutPoints int64             `yaml:"minimum_payout_points"`
	MaxPurchaseAmount   string            `yaml:"max_purchase_amount"`
	DefaultCurrency     string            `yaml:"default_currency"`
	SeedRates           map[string]string `yaml:"seed_rates"`
}

// GatewayConfig tunes the simulated payment provider.
type GatewayConfig struct {
	ChargeSuccessRate float64       `yaml:"charge_success_rate"`
	PayoutSuccessRate float64       `yaml:"payout_success_rate"`
	Latency           time.Duration `yaml:"latency"`
}

type SettlementConfig struct {
	// Embedded runs the worker inside the API server as well as the poller.
	Embedded     bool          `yaml:"embedded"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Lease        time.Duration `yaml:"lease"`
	Backoff      time.Duration `yaml:"backoff"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BatchSize    int           `yaml:"batch_size"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

// TracingConfig; an empty Endpoint disables export.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a .env file when present, then the yaml file, then env overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Postgres.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = c.Postgres.DSN + " password=" + pw
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Postgres.Driver == "" {
		c.Postgres.Driver = "postgres"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "ledger-events"
	}
	if c.Ledger.MinimumPayoutPoints == 0 {
		c.Ledger.MinimumPayoutPoints = 100
	}
	if c.Ledger.MaxPurchaseAmount == "" {
		c.Ledger.MaxPurchaseAmount = "100000"
	}
	if c.Ledger.DefaultCurrency == "" {
		c.Ledger.DefaultCurrency = "USD"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "points-ledger"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Ledger.MinimumPayoutPoints < 1 {
		return fmt.Errorf("ledger.minimum_payout_points must be positive")
	}
	for _, p := range []float64{c.Gateway.ChargeSuccessRate, c.Gateway.PayoutSuccessRate} {
		if p < 0 || p > 1 {
			return fmt.Errorf("gateway success rates must be between 0 and 1")
		}
	}
	if _, err := c.Ledger.MaxPurchase(); err != nil {
		return err
	}
	if _, err := c.Ledger.Rates(); err != nil {
		return err
	}
	return nil
}

// MaxPurchase parses the per-purchase cash cap.
func (l LedgerConfig) MaxPurchase() (decimal.Decimal, error) {
	max, err := decimal.NewFromString(l.MaxPurchaseAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.max_purchase_amount: %w", err)
	}
	if !max.IsPositive() {
		return decimal.Zero, fmt.Errorf("ledger.max_purchase_amount must be positive")
	}
	return max, nil
}

// Rates parses the seed rates.
func (l LedgerConfig) Rates() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(l.SeedRates))
	for currency, raw := range l.SeedRates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("ledger.seed_rates.%s: %w", currency, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("ledger.seed_rates.%s must be positive", currency)
		}
		out[strings.ToUpper(currency)] = rate
	}
	return out, nil
}
