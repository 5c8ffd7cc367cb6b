package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for relay-engine.
// Configuration can come from YAML file (config.yaml) or environment
// variables; environment variables always override YAML values. Secrets
// (passwords, the credentials key) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8084"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database is the engine's own store and the analytics store
	// (same PostgreSQL instance, separate schemas of tables).
	Database DatabaseConfig `yaml:"database"`

	// Sync tunes the ETL subsystem.
	Sync SyncConfig `yaml:"sync"`

	// CredentialsKey encrypts connection credentials at rest.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// The server fails to start if this is not set.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL configuration for the engine store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"relay"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"relay_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	// ConnLifetimeMinutes recycles pooled connections so long-lived loads
	// do not pin a server backend forever.
	ConnLifetimeMinutes int    `yaml:"conn_lifetime_minutes" env:"PGCONN_LIFETIME_MINUTES" env-default:"45"`
	ConnIdleMinutes     int    `yaml:"conn_idle_minutes" env:"PGCONN_IDLE_MINUTES" env-default:"10"`
	SSLMode             string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath      string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// ConnLifetime returns the maximum age of a pooled connection.
func (c *DatabaseConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnLifetimeMinutes) * time.Minute
}

// ConnIdle returns how long an idle pooled connection is kept.
func (c *DatabaseConfig) ConnIdle() time.Duration {
	return time.Duration(c.ConnIdleMinutes) * time.Minute
}

// SyncConfig holds ETL tuning knobs. The retry and abort-threshold values
// are policy defaults, deliberately configurable rather than hard-coded.
type SyncConfig struct {
	// Workers bounds concurrent cross-database syncs.
	Workers int `yaml:"workers" env:"SYNC_WORKERS" env-default:"4"`
	// TickSeconds is the scheduler scan interval.
	TickSeconds int `yaml:"tick_seconds" env:"SYNC_TICK_SECONDS" env-default:"60"`
	// ConnectionTimeoutSeconds bounds TestConnection, connector opens and
	// each batch read while streaming.
	ConnectionTimeoutSeconds int `yaml:"connection_timeout_seconds" env:"SYNC_CONNECTION_TIMEOUT_SECONDS" env-default:"10"`
	// MaxRetryAttempts is the default transient-error retry budget per job;
	// connections can override it.
	MaxRetryAttempts int `yaml:"max_retry_attempts" env:"SYNC_MAX_RETRY_ATTEMPTS" env-default:"3"`
	// TableFailureThreshold aborts a sync when the failed fraction of its
	// tables exceeds this value (0 < t <= 1).
	TableFailureThreshold float64 `yaml:"table_failure_threshold" env:"SYNC_TABLE_FAILURE_THRESHOLD" env-default:"0.5"`
	// FetchBatchSize bounds rows held in memory while streaming a table.
	FetchBatchSize int `yaml:"fetch_batch_size" env:"SYNC_FETCH_BATCH_SIZE" env-default:"500"`
	// OrphanTimeoutMinutes: running jobs older than this are swept to failed
	// at startup (crash recovery).
	OrphanTimeoutMinutes int `yaml:"orphan_timeout_minutes" env:"SYNC_ORPHAN_TIMEOUT_MINUTES" env-default:"60"`
}

// Tick returns the scheduler scan interval.
func (s *SyncConfig) Tick() time.Duration {
	return time.Duration(s.TickSeconds) * time.Second
}

// ConnectionTimeout returns the hard timeout for connector I/O.
func (s *SyncConfig) ConnectionTimeout() time.Duration {
	return time.Duration(s.ConnectionTimeoutSeconds) * time.Second
}

// OrphanTimeout returns the crash-recovery cutoff for stale running jobs.
func (s *SyncConfig) OrphanTimeout() time.Duration {
	return time.Duration(s.OrphanTimeoutMinutes) * time.Minute
}

// Load reads configuration from config.yaml with environment variable
// overrides. When no config.yaml exists, environment variables alone are
// used. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}
	if c.Sync.TableFailureThreshold <= 0 || c.Sync.TableFailureThreshold > 1 {
		return fmt.Errorf("sync.table_failure_threshold must be in (0, 1]")
	}
	if c.Sync.FetchBatchSize < 1 {
		return fmt.Errorf("sync.fetch_batch_size must be at least 1")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
