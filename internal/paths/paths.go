package paths

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// Paths holds the resolved config and archive locations
type Paths struct {
	ConfigFile string
	DataDir    string
}

// DefaultPaths returns the default paths based on current user
// Root user: /etc/pingmon/config.yaml, /var/lib/pingmon/
// Non-root: ~/.pingmon/config.yaml, ~/.pingmon/data/
func DefaultPaths() (*Paths, error) {
	if os.Geteuid() == 0 {
		return &Paths{
			ConfigFile: "/etc/pingmon/config.yaml",
			DataDir:    "/var/lib/pingmon",
		}, nil
	}

	usr, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return ForHome(usr.HomeDir), nil
}

// ForHome returns the per-user paths under home
func ForHome(home string) *Paths {
	baseDir := filepath.Join(home, ".pingmon")
	return &Paths{
		ConfigFile: filepath.Join(baseDir, "config.yaml"),
		DataDir:    filepath.Join(baseDir, "data"),
	}
}

// EnsureDirectories creates all necessary directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{filepath.Dir(p.ConfigFile), p.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigExists checks if the config file exists
func (p *Paths) ConfigExists() bool {
	_, err := os.Stat(p.ConfigFile)
	return err == nil
}

// String returns a human-readable representation of the paths
func (p *Paths) String() string {
	return fmt.Sprintf("Config: %s, Data: %s", p.ConfigFile, p.DataDir)
}

// CreateDefaultConfig creates a default config file with sample content
// Returns true if a new config was created, false if it already existed
func (p *Paths) CreateDefaultConfig() (bool, error) {
	if p.ConfigExists() {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(p.ConfigFile), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# pingmon configuration
# Every key can be overridden from the environment, e.g. PINGMON_REDIS_URL

redis:
  url: "redis://127.0.0.1:6379/0"   # memory:// for a throwaway in-process store

probe:
  interval: 5s
  timeout: 5s
  backend: icmp        # icmp or pro-bing
  privileged: true     # false uses unprivileged datagram sockets
  max_in_flight: 0     # 0 = no cap

storage:
  max_len: 17280       # 24h at a 5s interval

registry:
  interval: 10s
  pattern: "monitor:targets:*"
  static:
    - id: google-dns
      address: 8.8.8.8
      prefix: monitor
    - id: cloudflare
      address: 1.1.1.1
      prefix: monitor
  # files:
  #   - path: /var/lib/misc/dnsmasq.leases
  #     format: leases
  #     prefix: iot

aggregate:
  initial_delay: 5s
  interval: 60s
  # skip_dead_prefixes: [iot]

archive:
  enabled: false
  data_dir: %q
  retention: "5s:1d,1m:7d,1h:90d"
  aggregation: average
  xff: 0.5

server:
  address: ""          # e.g. 127.0.0.1:8080 to enable the admin API

log:
  format: text
  level: info
`, p.DataDir)

	if err := os.WriteFile(p.ConfigFile, []byte(defaultConfig), 0644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}

	return true, nil
}
