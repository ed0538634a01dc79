// Package config loads service configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sync pipeline services.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Owner    OwnerConfig    `mapstructure:"owner"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the postgres connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds redis settings for the dedupe marker store.
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// WebhookConfig holds receiver settings.
type WebhookConfig struct {
	// Secret is the shared HMAC secret the CRM signs deliveries with.
	Secret    string        `mapstructure:"secret"`
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
}

// WorkerConfig holds sync worker settings.
type WorkerConfig struct {
	ConsumerName  string        `mapstructure:"consumer_name"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	MaxDeliver    int           `mapstructure:"max_deliver"`
	MaxAckPending int           `mapstructure:"max_ack_pending"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepMinAge   time.Duration `mapstructure:"sweep_min_age"`
	SweepBatch    int           `mapstructure:"sweep_batch"`
}

// BreakerConfig holds circuit breaker tuning shared by all dependencies.
type BreakerConfig struct {
	Threshold   int           `mapstructure:"threshold"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// OwnerConfig is the fallback owner identity applied when a payload carries
// no owner. A business policy, not a technical default.
type OwnerConfig struct {
	DefaultEmail string `mapstructure:"default_email"`
	DefaultName  string `mapstructure:"default_name"`
}

// SchemaConfig locates the entity schema document.
type SchemaConfig struct {
	Path           string        `mapstructure:"path"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// Environment variables use the CRMSYNC prefix with underscores for nesting
// (CRMSYNC_DATABASE_POSTGRES_HOST).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("CRMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "crmsync")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "crmsync")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.timeout", "5s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.dedupe_ttl", "10m")

	v.SetDefault("worker.consumer_name", "sync-worker")
	v.SetDefault("worker.ack_wait", "30s")
	v.SetDefault("worker.max_deliver", 5)
	v.SetDefault("worker.max_ack_pending", 64)
	v.SetDefault("worker.sweep_interval", "1m")
	v.SetDefault("worker.sweep_min_age", "5m")
	v.SetDefault("worker.sweep_batch", 100)

	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown", "30s")
	v.SetDefault("breaker.call_timeout", "10s")

	v.SetDefault("owner.default_email", "unassigned@talentbridge.example")
	v.SetDefault("owner.default_name", "Unassigned")

	v.SetDefault("schema.path", "config/schema.yaml")
	v.SetDefault("schema.reload_interval", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
