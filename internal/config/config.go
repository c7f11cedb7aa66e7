package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/wellsgz/pingmon/internal/stats"
	"github.com/wellsgz/pingmon/internal/target"
)

// EnvPrefix prefixes environment overrides, e.g. PINGMON_REDIS_URL
const EnvPrefix = "PINGMON"

// Config represents the root configuration
type Config struct {
	Redis     RedisConfig     `mapstructure:"redis"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// RedisConfig holds the store connection
type RedisConfig struct {
	URL string `mapstructure:"url"` // redis://... or memory://
}

// ProbeConfig holds echo probe settings
type ProbeConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PayloadSize int           `mapstructure:"payload_size"`
	Backend     string        `mapstructure:"backend"` // icmp or pro-bing
	Privileged  bool          `mapstructure:"privileged"`
	MaxInFlight int64         `mapstructure:"max_in_flight"` // 0 = unbounded
}

// StorageConfig holds sample retention
type StorageConfig struct {
	MaxLen int64 `mapstructure:"max_len"`
}

// RegistryConfig holds the target sources
type RegistryConfig struct {
	Interval time.Duration   `mapstructure:"interval"`
	Pattern  string          `mapstructure:"pattern"`
	Static   []target.Target `mapstructure:"static"`
	Files    []FileSource    `mapstructure:"files"`
}

// FileSource is a watched target file
type FileSource struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"` // yaml, json or leases
	Prefix string `mapstructure:"prefix"`
}

// AggregateConfig holds aggregation settings
type AggregateConfig struct {
	InitialDelay     time.Duration `mapstructure:"initial_delay"`
	Interval         time.Duration `mapstructure:"interval"`
	Lookback         time.Duration `mapstructure:"lookback"`
	HistoryBuckets   int           `mapstructure:"history_buckets"`
	BucketWidth      time.Duration `mapstructure:"bucket_width"`
	SkipDeadPrefixes []string      `mapstructure:"skip_dead_prefixes"`
}

// ArchiveConfig holds the optional RRD archive settings
type ArchiveConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DataDir     string  `mapstructure:"data_dir"`
	Retention   string  `mapstructure:"retention"`
	Aggregation string  `mapstructure:"aggregation"`
	XFF         float64 `mapstructure:"xff"`
}

// ServerConfig holds admin API settings
type ServerConfig struct {
	Address string `mapstructure:"address"` // empty disables the API
}

// LogConfig holds logging settings
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.url", "redis://127.0.0.1:6379/0")
	v.SetDefault("probe.interval", "5s")
	v.SetDefault("probe.timeout", "5s")
	v.SetDefault("probe.payload_size", 32)
	v.SetDefault("probe.backend", "icmp")
	v.SetDefault("probe.privileged", true)
	v.SetDefault("probe.max_in_flight", 0)
	v.SetDefault("storage.max_len", 17280)
	v.SetDefault("registry.interval", "10s")
	v.SetDefault("registry.pattern", "monitor:targets:*")
	v.SetDefault("registry.static", []map[string]string{})
	v.SetDefault("registry.files", []map[string]string{})
	v.SetDefault("aggregate.initial_delay", "5s")
	v.SetDefault("aggregate.interval", "60s")
	v.SetDefault("aggregate.lookback", "24h")
	v.SetDefault("aggregate.history_buckets", 30)
	v.SetDefault("aggregate.bucket_width", "1m")
	v.SetDefault("aggregate.skip_dead_prefixes", []string{})
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.data_dir", "./data")
	v.SetDefault("archive.retention", "5s:1d,1m:7d,1h:90d")
	v.SetDefault("archive.aggregation", "average")
	v.SetDefault("archive.xff", 0.5)
	v.SetDefault("server.address", "")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
}

// Load reads configuration from the specified file. An empty path uses
// defaults and environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for required fields and valid values
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}

	if c.Probe.Interval <= 0 {
		return fmt.Errorf("probe.interval must be positive")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be positive")
	}
	ceiling := time.Duration(stats.Ceiling) * time.Millisecond
	if c.Probe.Timeout > ceiling {
		return fmt.Errorf("probe.timeout must not exceed %s", ceiling)
	}
	if c.Probe.PayloadSize < 8 || c.Probe.PayloadSize > 1024 {
		return fmt.Errorf("probe.payload_size must be between 8 and 1024")
	}
	if c.Probe.Backend != "icmp" && c.Probe.Backend != "pro-bing" {
		return fmt.Errorf("probe.backend must be 'icmp' or 'pro-bing', got %q", c.Probe.Backend)
	}
	if c.Probe.MaxInFlight < 0 {
		return fmt.Errorf("probe.max_in_flight must not be negative")
	}

	if c.Storage.MaxLen <= 0 {
		return fmt.Errorf("storage.max_len must be positive")
	}

	if c.Registry.Interval <= 0 {
		return fmt.Errorf("registry.interval must be positive")
	}
	if c.Registry.Pattern == "" {
		return fmt.Errorf("registry.pattern is required")
	}
	for i, t := range c.Registry.Static {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("registry.static[%d]: %w", i, err)
		}
	}
	validFormats := map[string]bool{"yaml": true, "json": true, "leases": true}
	for i, f := range c.Registry.Files {
		if f.Path == "" {
			return fmt.Errorf("registry.files[%d]: path is required", i)
		}
		if !validFormats[f.Format] {
			return fmt.Errorf("registry.files[%d] %q: format must be one of: yaml, json, leases", i, f.Path)
		}
		if f.Format == "leases" && f.Prefix == "" {
			return fmt.Errorf("registry.files[%d] %q: prefix is required for lease files", i, f.Path)
		}
	}

	if c.Aggregate.InitialDelay < 0 {
		return fmt.Errorf("aggregate.initial_delay must not be negative")
	}
	if c.Aggregate.Interval <= 0 {
		return fmt.Errorf("aggregate.interval must be positive")
	}
	if c.Aggregate.Lookback <= 0 {
		return fmt.Errorf("aggregate.lookback must be positive")
	}
	if c.Aggregate.HistoryBuckets < 1 {
		return fmt.Errorf("aggregate.history_buckets must be at least 1")
	}
	if c.Aggregate.BucketWidth <= 0 {
		return fmt.Errorf("aggregate.bucket_width must be positive")
	}

	if c.Archive.Enabled {
		if c.Archive.DataDir == "" {
			return fmt.Errorf("archive.data_dir is required when the archive is enabled")
		}
		if c.Archive.XFF < 0 || c.Archive.XFF > 1 {
			return fmt.Errorf("archive.xff must be between 0 and 1")
		}

		validAggregations := map[string]bool{
			"average": true,
			"min":     true,
			"max":     true,
			"last":    true,
		}
		if !validAggregations[c.Archive.Aggregation] {
			return fmt.Errorf("archive.aggregation must be one of: average, min, max, last")
		}

		if err := validateRetention(c.Archive.Retention); err != nil {
			return fmt.Errorf("archive.retention: %w", err)
		}
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json', got %q", c.Log.Format)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

// validateRetention validates the RRD retention string format
// Format: "resolution:duration,resolution:duration,..."
// Examples: "5s:1d", "5s:1d,1m:7d,1h:90d"
func validateRetention(retention string) error {
	if retention == "" {
		return fmt.Errorf("retention string cannot be empty")
	}

	// Pattern for duration: number followed by s/m/h/d/w/y
	durationPattern := regexp.MustCompile(`^(\d+)(s|m|h|d|w|y)$`)

	archives := strings.Split(retention, ",")
	for i, archive := range archives {
		archive = strings.TrimSpace(archive)
		parts := strings.Split(archive, ":")
		if len(parts) != 2 {
			return fmt.Errorf("archive %d: expected format 'resolution:duration', got %q", i+1, archive)
		}

		resolution := strings.TrimSpace(parts[0])
		if !durationPattern.MatchString(resolution) {
			return fmt.Errorf("archive %d: invalid resolution %q (use format like 5s, 1m, 1h)", i+1, resolution)
		}

		duration := strings.TrimSpace(parts[1])
		if !durationPattern.MatchString(duration) {
			return fmt.Errorf("archive %d: invalid duration %q (use format like 1d, 7d, 90d)", i+1, duration)
		}
	}

	return nil
}
