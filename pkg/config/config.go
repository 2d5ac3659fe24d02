package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-rest.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Defaults apply to zero values, so boolean settings default to false.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3000"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Per-client request rate on /api. Zero disables limiting. Burst
	// defaults to the rounded-up rate.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS" env-default:"0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST" env-default:"0"`

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Database configuration (PostgreSQL database served by the API)
	Database DatabaseConfig `yaml:"database"`

	// Table stats cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Statement generation and execution settings
	Engine EngineConfig `yaml:"engine"`

	// Redis is optional. When Host is empty, cache resets stay local.
	Redis RedisConfig `yaml:"redis"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"postgres"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"postgres"`
	Schema         string `yaml:"schema" env:"PGSCHEMA" env-default:"public"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"1"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// CacheConfig controls the table stats cache.
type CacheConfig struct {
	// Enabled caches column metadata per table instead of reading it on every request.
	Enabled bool `yaml:"enabled" env:"CACHE_TABLE_STATS" env-default:"false"`
	// ResetIntervalSeconds clears the cache on a fixed cadence. Zero disables the timer.
	ResetIntervalSeconds uint32 `yaml:"reset_interval_seconds" env:"CACHE_RESET_INTERVAL_SECONDS" env-default:"0"`
}

// EngineConfig tunes statement generation.
type EngineConfig struct {
	// InsertBatchSize is the number of rows per INSERT statement.
	InsertBatchSize int `yaml:"insert_batch_size" env:"ENGINE_INSERT_BATCH_SIZE" env-default:"100"`
	// DefaultLimit is the SELECT limit when a request does not pass one.
	DefaultLimit int64 `yaml:"default_limit" env:"ENGINE_DEFAULT_LIMIT" env-default:"10000"`
	// PerBatchCommit commits every INSERT batch on its own. By default all
	// batches of one request share a transaction.
	PerBatchCommit bool `yaml:"per_batch_commit" env:"ENGINE_PER_BATCH_COMMIT" env-default:"false"`
	// InspectWhere rejects where clauses that libinjection fingerprints as SQL injection.
	InspectWhere bool `yaml:"inspect_where" env:"ENGINE_INSPECT_WHERE" env-default:"false"`
}

// RedisConfig holds the connection used to broadcast cache resets.
type RedisConfig struct {
	Host         string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port         int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password     string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB           int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	ResetChannel string `yaml:"reset_channel" env:"REDIS_RESET_CHANNEL" env-default:"ekaya-rest:table-stats:reset"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Secrets (PGPASSWORD, REDIS_PASSWORD) must come from environment variables.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	// Validate TLS configuration
	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.validateEngine(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}

	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = ResolveHostForDocker(cfg.Redis.Host)

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// If both provided, verify files exist (actual readability checked by tls.LoadX509KeyPair at startup)
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (c *Config) validateEngine() error {
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate_limit_rps and rate_limit_burst must not be negative")
	}
	if c.Engine.InsertBatchSize <= 0 {
		return fmt.Errorf("insert_batch_size must be positive, got %d", c.Engine.InsertBatchSize)
	}
	if c.Engine.DefaultLimit <= 0 {
		return fmt.Errorf("default_limit must be positive, got %d", c.Engine.DefaultLimit)
	}
	return nil
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}

// IsLocal reports whether the server runs in a local development environment.
func (c *Config) IsLocal() bool {
	return strings.EqualFold(c.Env, "local")
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Addr returns the host:port of the Redis server.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
