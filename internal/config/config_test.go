package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wellsgz/pingmon/internal/target"
)

func TestValidateRetention(t *testing.T) {
	tests := []struct {
		name      string
		retention string
		wantErr   bool
	}{
		{"valid single", "5s:1d", false},
		{"valid multiple", "5s:1d,1m:7d,1h:90d", false},
		{"valid with spaces", "5s:1d, 1m:7d", false},
		{"empty", "", true},
		{"missing duration", "5s", true},
		{"invalid resolution", "abc:1d", true},
		{"invalid duration", "5s:abc", true},
		{"extra colons", "5s:1d:extra", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRetention(tt.retention)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRetention(%q) error = %v, wantErr %v", tt.retention, err, tt.wantErr)
			}
		})
	}
}

func validConfig() Config {
	return Config{
		Redis: RedisConfig{URL: "redis://127.0.0.1:6379/0"},
		Probe: ProbeConfig{
			Interval:    5 * time.Second,
			Timeout:     5 * time.Second,
			PayloadSize: 32,
			Backend:     "icmp",
			Privileged:  true,
		},
		Storage: StorageConfig{MaxLen: 17280},
		Registry: RegistryConfig{
			Interval: 10 * time.Second,
			Pattern:  "monitor:targets:*",
		},
		Aggregate: AggregateConfig{
			InitialDelay:   5 * time.Second,
			Interval:       time.Minute,
			Lookback:       24 * time.Hour,
			HistoryBuckets: 30,
			BucketWidth:    time.Minute,
		},
		Archive: ArchiveConfig{
			DataDir:     "./data",
			Retention:   "5s:1d",
			Aggregation: "average",
			XFF:         0.5,
		},
		Log: LogConfig{Format: "text", Level: "info"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"timeout equal to interval", func(c *Config) { c.Probe.Interval = 5 * time.Second }, false},
		{"timeout above ceiling", func(c *Config) {
			c.Probe.Interval = 10 * time.Second
			c.Probe.Timeout = 6 * time.Second
		}, true},
		{"missing redis url", func(c *Config) { c.Redis.URL = "" }, true},
		{"zero interval", func(c *Config) { c.Probe.Interval = 0 }, true},
		{"payload too small", func(c *Config) { c.Probe.PayloadSize = 4 }, true},
		{"payload too large", func(c *Config) { c.Probe.PayloadSize = 4096 }, true},
		{"unknown backend", func(c *Config) { c.Probe.Backend = "tcp" }, true},
		{"pro-bing backend", func(c *Config) { c.Probe.Backend = "pro-bing" }, false},
		{"negative in-flight cap", func(c *Config) { c.Probe.MaxInFlight = -1 }, true},
		{"zero max len", func(c *Config) { c.Storage.MaxLen = 0 }, true},
		{"static target", func(c *Config) {
			c.Registry.Static = []target.Target{{ID: "dns", Address: "8.8.8.8", Prefix: "monitor"}}
		}, false},
		{"static target missing address", func(c *Config) {
			c.Registry.Static = []target.Target{{ID: "dns", Prefix: "monitor"}}
		}, true},
		{"file with unknown format", func(c *Config) {
			c.Registry.Files = []FileSource{{Path: "/tmp/t.toml", Format: "toml"}}
		}, true},
		{"lease file without prefix", func(c *Config) {
			c.Registry.Files = []FileSource{{Path: "/var/lib/misc/dnsmasq.leases", Format: "leases"}}
		}, true},
		{"lease file", func(c *Config) {
			c.Registry.Files = []FileSource{{Path: "/var/lib/misc/dnsmasq.leases", Format: "leases", Prefix: "iot"}}
		}, false},
		{"zero history buckets", func(c *Config) { c.Aggregate.HistoryBuckets = 0 }, true},
		{"zero initial delay", func(c *Config) { c.Aggregate.InitialDelay = 0 }, false},
		{"invalid aggregation ignored when archive disabled", func(c *Config) { c.Archive.Aggregation = "invalid" }, false},
		{"invalid aggregation", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Aggregation = "invalid"
		}, true},
		{"invalid xff", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.XFF = 1.5
		}, true},
		{"invalid retention", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Retention = "5s"
		}, true},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Probe.Interval != 5*time.Second || cfg.Probe.Timeout != 5*time.Second {
		t.Errorf("probe interval/timeout = %s/%s", cfg.Probe.Interval, cfg.Probe.Timeout)
	}
	if cfg.Storage.MaxLen != 17280 {
		t.Errorf("storage.max_len = %d", cfg.Storage.MaxLen)
	}
	if cfg.Registry.Interval != 10*time.Second || cfg.Registry.Pattern != "monitor:targets:*" {
		t.Errorf("registry = %+v", cfg.Registry)
	}
	if cfg.Aggregate.InitialDelay != 5*time.Second || cfg.Aggregate.Interval != time.Minute {
		t.Errorf("aggregate = %+v", cfg.Aggregate)
	}
	if cfg.Aggregate.HistoryBuckets != 30 || cfg.Aggregate.Lookback != 24*time.Hour {
		t.Errorf("aggregate = %+v", cfg.Aggregate)
	}
	if cfg.Server.Address != "" || cfg.Archive.Enabled {
		t.Error("optional surfaces enabled by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
redis:
  url: memory://
probe:
  interval: 2s
  timeout: 1s
  backend: pro-bing
  max_in_flight: 64
registry:
  static:
    - id: dns
      address: 8.8.8.8
      prefix: monitor
  files:
    - path: /var/lib/misc/dnsmasq.leases
      format: leases
      prefix: iot
aggregate:
  skip_dead_prefixes: [iot]
log:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Redis.URL != "memory://" || cfg.Probe.Backend != "pro-bing" || cfg.Probe.MaxInFlight != 64 {
		t.Errorf("unexpected values: %+v %+v", cfg.Redis, cfg.Probe)
	}
	if cfg.Probe.Interval != 2*time.Second || cfg.Probe.Timeout != time.Second {
		t.Errorf("probe interval/timeout = %s/%s", cfg.Probe.Interval, cfg.Probe.Timeout)
	}
	want := target.Target{ID: "dns", Address: "8.8.8.8", Prefix: "monitor"}
	if len(cfg.Registry.Static) != 1 || cfg.Registry.Static[0] != want {
		t.Errorf("registry.static = %+v", cfg.Registry.Static)
	}
	if len(cfg.Registry.Files) != 1 || cfg.Registry.Files[0].Prefix != "iot" {
		t.Errorf("registry.files = %+v", cfg.Registry.Files)
	}
	if len(cfg.Aggregate.SkipDeadPrefixes) != 1 || cfg.Aggregate.SkipDeadPrefixes[0] != "iot" {
		t.Errorf("aggregate.skip_dead_prefixes = %v", cfg.Aggregate.SkipDeadPrefixes)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PINGMON_REDIS_URL", "redis://cache.internal:6380/2")
	t.Setenv("PINGMON_SERVER_ADDRESS", "127.0.0.1:9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Redis.URL != "redis://cache.internal:6380/2" {
		t.Errorf("redis.url = %q", cfg.Redis.URL)
	}
	if cfg.Server.Address != "127.0.0.1:9090" {
		t.Errorf("server.address = %q", cfg.Server.Address)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file succeeded")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("probe:\n  timeout: 30s\n  interval: 60s\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted a timeout above the ceiling")
	}
}
