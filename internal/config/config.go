package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the logsieve engine configuration. All knobs are fixed at
// process start; nothing here is mutable at runtime.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Cursors   CursorConfig    `yaml:"cursors"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Segment   SegmentConfig   `yaml:"segment"`
	Retention RetentionConfig `yaml:"retention"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// CursorConfig selects the SourceState cursor store.
type CursorConfig struct {
	Driver           string   `yaml:"driver"` // memory, redis (default: memory)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IngestConfig holds Ingestion Gateway settings.
type IngestConfig struct {
	// SkewToleranceSec rejects records older than now minus this tolerance.
	SkewToleranceSec int `yaml:"skew_tolerance_sec"`
	// EnqueueTimeoutMs bounds how long an overloaded source blocks before
	// receiving a transient-overload error.
	EnqueueTimeoutMs int `yaml:"enqueue_timeout_ms"`
}

// BufferConfig holds per-source Record Buffer settings.
type BufferConfig struct {
	// Capacity is the maximum number of unacknowledged records per source.
	Capacity int `yaml:"capacity"`
	// FlushRecords triggers a flush once this many records are pending.
	FlushRecords int `yaml:"flush_records"`
	// FlushIntervalMs triggers a flush once the oldest pending record is
	// this old, whichever comes first.
	FlushIntervalMs int `yaml:"flush_interval_ms"`
	// Dir is the WAL directory.
	Dir string `yaml:"dir"`
}

// SegmentConfig holds Indexer segment settings.
type SegmentConfig struct {
	// MaxRecords seals the active segment at this record count.
	MaxRecords int `yaml:"max_records"`
	// MaxBytes seals the active segment at this estimated size.
	MaxBytes int64 `yaml:"max_bytes"`
	// MaxAgeSec seals the active segment at this age.
	MaxAgeSec int `yaml:"max_age_sec"`
	// Dir is the sealed-segment directory.
	Dir string `yaml:"dir"`
	// IndexWorkers is the indexer pool size.
	IndexWorkers int `yaml:"index_workers"`
	// PersistRetries is how many times a failed segment write is retried
	// before the segment is marked corrupt.
	PersistRetries int `yaml:"persist_retries"`
}

// RetentionConfig holds Retention Manager settings.
type RetentionConfig struct {
	// WindowSec is the maximum sealed-segment age; 0 disables retention.
	WindowSec int `yaml:"window_sec"`
	// SweepIntervalSec is the scan period.
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
	// GraceSec force-removes a retiring segment still referenced by queries
	// after this long.
	GraceSec int `yaml:"grace_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 15
	}
	if c.Cursors.Driver == "" {
		c.Cursors.Driver = "memory"
	}
	if c.Cursors.KeyPrefix == "" {
		c.Cursors.KeyPrefix = "logsieve:"
	}
	if c.Cursors.ReadinessTimeout <= 0 {
		c.Cursors.ReadinessTimeout = 10
	}
	if c.Ingest.SkewToleranceSec <= 0 {
		c.Ingest.SkewToleranceSec = 300
	}
	if c.Ingest.EnqueueTimeoutMs <= 0 {
		c.Ingest.EnqueueTimeoutMs = 2000
	}
	if c.Buffer.Capacity <= 0 {
		c.Buffer.Capacity = 4096
	}
	if c.Buffer.FlushRecords <= 0 {
		c.Buffer.FlushRecords = 512
	}
	if c.Buffer.FlushIntervalMs <= 0 {
		c.Buffer.FlushIntervalMs = 1000
	}
	if c.Buffer.Dir == "" {
		c.Buffer.Dir = "data/wal"
	}
	if c.Segment.MaxRecords <= 0 {
		c.Segment.MaxRecords = 100000
	}
	if c.Segment.MaxBytes <= 0 {
		c.Segment.MaxBytes = 64 * 1024 * 1024
	}
	if c.Segment.MaxAgeSec <= 0 {
		c.Segment.MaxAgeSec = 300
	}
	if c.Segment.Dir == "" {
		c.Segment.Dir = "data/segments"
	}
	if c.Segment.IndexWorkers <= 0 {
		c.Segment.IndexWorkers = runtime.GOMAXPROCS(0)
	}
	if c.Segment.PersistRetries <= 0 {
		c.Segment.PersistRetries = 3
	}
	if c.Retention.SweepIntervalSec <= 0 {
		c.Retention.SweepIntervalSec = 60
	}
	if c.Retention.GraceSec <= 0 {
		c.Retention.GraceSec = 30
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Cursors.Driver {
	case "memory":
	case "redis":
		if len(c.Cursors.Addrs) == 0 {
			return fmt.Errorf("cursors.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("cursors.driver must be \"memory\" or \"redis\", got %q", c.Cursors.Driver)
	}
	if c.Buffer.FlushRecords > c.Buffer.Capacity {
		return fmt.Errorf("buffer.flush_records (%d) must not exceed buffer.capacity (%d)",
			c.Buffer.FlushRecords, c.Buffer.Capacity)
	}
	if c.Retention.WindowSec < 0 {
		return fmt.Errorf("retention.window_sec must not be negative")
	}
	return nil
}

// SkewTolerance returns the ingest skew tolerance as a duration.
func (c *Config) SkewTolerance() time.Duration {
	return time.Duration(c.Ingest.SkewToleranceSec) * time.Second
}

// EnqueueTimeout returns the admission-control timeout as a duration.
func (c *Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Ingest.EnqueueTimeoutMs) * time.Millisecond
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
