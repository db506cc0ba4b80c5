package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/V4T54L/hostwatch/internal/detector"
)

// Config holds all application configuration.
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	Host            string `env:"SIEM_HOST" envDefault:"0.0.0.0"`
	Port            int    `env:"SIEM_PORT" envDefault:"5000"`
	AdminServerAddr string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"` // sqlite or postgres
	DatabasePath  string `env:"DATABASE_PATH" envDefault:"siem_logs.db"`
	PostgresURL   string `env:"POSTGRES_URL"`

	RedisAddr             string `env:"REDIS_ADDR"` // empty disables the alert stream
	AlertStream           string `env:"ALERT_STREAM" envDefault:"siem_alerts"`
	AlertStreamMaxLen     int64  `env:"ALERT_STREAM_MAXLEN" envDefault:"10000"`
	AlertSpoolDir         string `env:"ALERT_SPOOL_DIR" envDefault:"./data/alert-spool"`
	AlertSpoolSegmentSize int64  `env:"ALERT_SPOOL_SEGMENT_SIZE_BYTES" envDefault:"1048576"`    // 1MB
	AlertSpoolMaxDiskSize int64  `env:"ALERT_SPOOL_MAX_DISK_SIZE_BYTES" envDefault:"104857600"` // 100MB

	MaxEventSize       int64   `env:"MAX_EVENT_SIZE_BYTES" envDefault:"1048576"` // 1MB
	IngestRateLimit    float64 `env:"INGEST_RATE_LIMIT" envDefault:"0"`          // requests per second, 0 disables
	IngestRateBurst    int     `env:"INGEST_RATE_BURST" envDefault:"100"`
	PIIRedactionFields string  `env:"PII_REDACTION_FIELDS" envDefault:"email,password,credit_card,ssn"`
	RulesFile          string  `env:"RULES_FILE"`

	ErrorThreshold      int     `env:"ERROR_THRESHOLD" envDefault:"10"`
	ErrorTimeWindow     int     `env:"ERROR_TIME_WINDOW" envDefault:"60"` // seconds
	ConnectionThreshold int     `env:"ABNORMAL_CONNECTION_THRESHOLD" envDefault:"5"`
	ConnectionWindow    int     `env:"CONNECTION_TIME_WINDOW" envDefault:"300"` // seconds
	HighCPUThreshold    float64 `env:"HIGH_CPU_THRESHOLD" envDefault:"90.0"`
	HighMemoryThreshold float64 `env:"HIGH_MEMORY_THRESHOLD" envDefault:"90.0"`
	HighDiskThreshold   float64 `env:"HIGH_DISK_THRESHOLD" envDefault:"90.0"`
	ResourceWindow      int     `env:"RESOURCE_TIME_WINDOW" envDefault:"300"` // seconds

	AnalysisInterval    int           `env:"ANALYSIS_INTERVAL" envDefault:"30"` // seconds
	AnalysisStopTimeout time.Duration `env:"ANALYSIS_STOP_TIMEOUT" envDefault:"5s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.AnalysisInterval <= 0 {
		errs = append(errs, fmt.Errorf("ANALYSIS_INTERVAL must be positive, got %d", c.AnalysisInterval))
	}
	if c.AnalysisStopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ANALYSIS_STOP_TIMEOUT must be positive, got %s", c.AnalysisStopTimeout))
	}
	if c.MaxEventSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_EVENT_SIZE_BYTES must be positive, got %d", c.MaxEventSize))
	}
	if c.AlertSpoolSegmentSize <= 0 || c.AlertSpoolMaxDiskSize < c.AlertSpoolSegmentSize {
		errs = append(errs, fmt.Errorf("alert spool sizes must satisfy 0 < segment (%d) <= max disk (%d)",
			c.AlertSpoolSegmentSize, c.AlertSpoolMaxDiskSize))
	}
	switch c.StorageDriver {
	case "sqlite":
	case "postgres":
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required when STORAGE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be sqlite or postgres, got %q", c.StorageDriver))
	}
	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Thresholds converts the detector settings.
func (c *Config) Thresholds() detector.Thresholds {
	return detector.Thresholds{
		ErrorThreshold:      c.ErrorThreshold,
		ErrorWindow:         seconds(c.ErrorTimeWindow),
		ConnectionThreshold: c.ConnectionThreshold,
		ConnectionWindow:    seconds(c.ConnectionWindow),
		HighCPU:             c.HighCPUThreshold,
		HighMemory:          c.HighMemoryThreshold,
		HighDisk:            c.HighDiskThreshold,
		ResourceWindow:      seconds(c.ResourceWindow),
	}
}

// AnalysisEvery returns the scheduler interval.
func (c *Config) AnalysisEvery() time.Duration {
	return seconds(c.AnalysisInterval)
}

// RedactionFields splits PII_REDACTION_FIELDS.
func (c *Config) RedactionFields() []string {
	var out []string
	for _, f := range strings.Split(c.PIIRedactionFields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
