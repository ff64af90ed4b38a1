package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the intake engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration for the processed-file marker cache (optional)
	Redis RedisConfig `yaml:"redis"`

	// Intake pipeline settings
	Intake IntakeConfig `yaml:"intake"`

	// Audit trail settings
	Audit AuditConfig `yaml:"audit"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"intake"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"intake_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds Redis configuration for the file marker cache.
// If Host is empty the engine falls back to an in-memory marker store.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// MarkerTTLHours is how long processed-file markers are retained.
	MarkerTTLHours int `yaml:"marker_ttl_hours" env:"REDIS_MARKER_TTL_HOURS" env-default:"720"`
}

// IntakeConfig holds file intake pipeline settings.
type IntakeConfig struct {
	// InboxDir is scanned for new delimited files.
	InboxDir string `yaml:"inbox_dir" env:"INTAKE_INBOX_DIR" env-default:"data/inbox"`
	// WorkDir holds the per-run working copy of a file while it is processed.
	WorkDir string `yaml:"work_dir" env:"INTAKE_WORK_DIR" env-default:"data/work"`
	// ArchiveDir receives files after a completed run.
	ArchiveDir string `yaml:"archive_dir" env:"INTAKE_ARCHIVE_DIR" env-default:"data/archive"`
	// BatchSize is the number of rows per insert batch.
	BatchSize int `yaml:"batch_size" env:"INTAKE_BATCH_SIZE" env-default:"100"`
	// ScanIntervalSeconds is the period of the inbox re-scan loop.
	ScanIntervalSeconds int `yaml:"scan_interval_seconds" env:"INTAKE_SCAN_INTERVAL_SECONDS" env-default:"60"`
	// QueueDepth bounds the file queue between the scanner and the worker.
	QueueDepth int `yaml:"queue_depth" env:"INTAKE_QUEUE_DEPTH" env-default:"64"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	// RequireAtomic makes audit entries commit in the same transaction as
	// the mutation they describe. When false (default), audit failures are
	// logged and the primary write stands.
	RequireAtomic bool `yaml:"require_atomic" env:"AUDIT_REQUIRE_ATOMIC" env-default:"false"`
	// Actor recorded on engine-originated audit entries.
	Actor string `yaml:"actor" env:"AUDIT_ACTOR" env-default:"intake-engine"`
}

// ScanInterval returns the inbox scan interval as a duration.
func (c *IntakeConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// MarkerTTL returns the marker retention as a duration.
func (c *RedisConfig) MarkerTTL() time.Duration {
	return time.Duration(c.MarkerTTLHours) * time.Hour
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD,
// REDIS_PASSWORD) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Intake.BatchSize <= 0 {
		return fmt.Errorf("intake batch_size must be positive, got %d", c.Intake.BatchSize)
	}
	if c.Intake.QueueDepth <= 0 {
		return fmt.Errorf("intake queue_depth must be positive, got %d", c.Intake.QueueDepth)
	}
	if c.Intake.InboxDir == "" || c.Intake.WorkDir == "" || c.Intake.ArchiveDir == "" {
		return fmt.Errorf("intake inbox_dir, work_dir and archive_dir must all be set")
	}
	if c.Database.MigrationsPath != "" {
		if _, err := os.Stat(c.Database.MigrationsPath); err != nil {
			return fmt.Errorf("migrations path does not exist: %w", err)
		}
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
