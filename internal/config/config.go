package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netmapper/netmapper/internal/db"
	"github.com/netmapper/netmapper/internal/logging"
)

// Default filesystem locations. Dev mode moves the socket to /tmp and the
// database under the invoking user's data directory so no root is needed.
const (
	DefaultSocketPath = "/var/run/netmapper.sock"
	DevSocketPath     = "/tmp/netmapper.sock"
	DefaultDBPath     = "/var/lib/netmapper/netmapper.db"
)

// Config represents the complete daemon configuration.
type Config struct {
	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Gateway configuration
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`

	// Retention configuration
	Retention RetentionConfig `yaml:"retention" json:"retention"`

	// Vendor lookup configuration
	Vendor VendorConfig `yaml:"vendor" json:"vendor"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`

	// Source is the file this configuration was loaded from, if any.
	Source string `yaml:"-" json:"-"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	// Unix socket path the gateway listens on
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	// PID file location
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Dev mode: user-writable socket and database paths
	DevMode bool `yaml:"dev_mode" json:"dev_mode"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ScanningConfig holds discovery and port-scan settings.
type ScanningConfig struct {
	// Concurrent workers for /24 sub-block fan-out within one scan
	WorkerPoolSize int `yaml:"worker_pool_size" json:"worker_pool_size"`

	// Concurrent workers for multi-network scans
	MultiNetworkPoolSize int `yaml:"multi_network_pool_size" json:"multi_network_pool_size"`

	// Timeout for a single sub-block discovery sweep
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// Default port range for nmap port scans
	DefaultPortRange string `yaml:"default_port_range" json:"default_port_range"`

	// Timeout for one nmap port scan invocation
	PortScanTimeout time.Duration `yaml:"port_scan_timeout" json:"port_scan_timeout"`

	// Use the canned mock prober instead of live ARP sweeps
	UseMockProber bool `yaml:"use_mock_prober" json:"use_mock_prober"`
}

// GatewayConfig holds request gateway settings.
type GatewayConfig struct {
	// Sliding-window rate limit capacity per client
	RateLimitRequests int `yaml:"rate_limit_requests" json:"rate_limit_requests"`

	// Rate limit window length
	RateLimitWindow time.Duration `yaml:"rate_limit_window" json:"rate_limit_window"`

	// Maximum size of one request message in bytes
	MaxRequestBytes int64 `yaml:"max_request_bytes" json:"max_request_bytes"`

	// Maximum concurrently serviced connections
	MaxConnections int64 `yaml:"max_connections" json:"max_connections"`
}

// RetentionConfig holds the retention sweep settings.
type RetentionConfig struct {
	// Enable the background sweep
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Scans older than this many days are deleted
	MaxAgeDays int `yaml:"max_age_days" json:"max_age_days"`

	// Interval between sweeps
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// VendorConfig holds OUI vendor-lookup settings.
type VendorConfig struct {
	// Path to the OUI CSV table (rebuilt out-of-band from the IEEE registry)
	OUIPath string `yaml:"oui_path" json:"oui_path"`

	// Registry URL for periodic in-process refresh; empty disables it
	RefreshURL string `yaml:"refresh_url" json:"refresh_url"`

	// Interval between registry refreshes
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
}

// MetricsConfig holds metrics endpoint settings.
type MetricsConfig struct {
	// Serve Prometheus metrics over HTTP
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address for the metrics endpoint
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			SocketPath:      DefaultSocketPath,
			PIDFile:         "/var/run/netmapper.pid",
			DevMode:         false,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: db.DefaultConfig(),
		Scanning: ScanningConfig{
			WorkerPoolSize:       10,
			MultiNetworkPoolSize: 5,
			ProbeTimeout:         2 * time.Second,
			DefaultPortRange:     "1-1024",
			PortScanTimeout:      5 * time.Minute,
			UseMockProber:        false,
		},
		Gateway: GatewayConfig{
			RateLimitRequests: 10,
			RateLimitWindow:   60 * time.Second,
			MaxRequestBytes:   64 * 1024,
			MaxConnections:    32,
		},
		Retention: RetentionConfig{
			Enabled:       true,
			MaxAgeDays:    90,
			SweepInterval: time.Hour,
		},
		Vendor: VendorConfig{
			OUIPath:         "/usr/lib/netmapper/oui.csv",
			RefreshURL:      "",
			RefreshInterval: 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9099",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.Source = path

	if config.Daemon.DevMode {
		config.ApplyDevMode()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// ApplyDevMode rewrites paths that require root to user-writable locations.
func (c *Config) ApplyDevMode() {
	c.Daemon.DevMode = true
	c.Daemon.SocketPath = DevSocketPath
	c.Daemon.PIDFile = filepath.Join(os.TempDir(), "netmapper.pid")

	home, err := os.UserHomeDir()
	if err == nil {
		c.Database.Path = filepath.Join(home, ".local", "share", "netmapper", "netmapper.db")
	}
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Daemon.SocketPath == "" {
		return fmt.Errorf("daemon socket path is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Scanning.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive")
	}
	if c.Scanning.MultiNetworkPoolSize <= 0 {
		return fmt.Errorf("multi-network pool size must be positive")
	}
	if c.Scanning.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}

	if c.Gateway.RateLimitRequests <= 0 {
		return fmt.Errorf("rate limit request capacity must be positive")
	}
	if c.Gateway.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.Gateway.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}

	if c.Vendor.RefreshURL != "" && c.Vendor.RefreshInterval <= 0 {
		return fmt.Errorf("vendor refresh interval must be positive")
	}

	if c.Retention.Enabled {
		if c.Retention.MaxAgeDays <= 0 {
			return fmt.Errorf("retention max age must be positive")
		}
		if c.Retention.SweepInterval <= 0 {
			return fmt.Errorf("retention sweep interval must be positive")
		}
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[logging.LogFormat]bool{
		logging.FormatText: true,
		logging.FormatJSON: true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// GetDatabaseConfig returns the database configuration.
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}

// IsDevMode returns true if running in dev mode.
func (c *Config) IsDevMode() bool {
	return c.Daemon.DevMode
}
