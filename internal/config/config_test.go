package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmapper/netmapper/internal/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultSocketPath, cfg.Daemon.SocketPath)
	assert.False(t, cfg.Daemon.DevMode)
	assert.Equal(t, DefaultDBPath, cfg.Database.Path)

	assert.Equal(t, 10, cfg.Scanning.WorkerPoolSize)
	assert.Equal(t, 5, cfg.Scanning.MultiNetworkPoolSize)
	assert.Equal(t, 2*time.Second, cfg.Scanning.ProbeTimeout)
	assert.Equal(t, "1-1024", cfg.Scanning.DefaultPortRange)
	assert.Equal(t, 5*time.Minute, cfg.Scanning.PortScanTimeout)

	assert.Equal(t, 10, cfg.Gateway.RateLimitRequests)
	assert.Equal(t, 60*time.Second, cfg.Gateway.RateLimitWindow)
	assert.Equal(t, int64(64*1024), cfg.Gateway.MaxRequestBytes)
	assert.Equal(t, int64(32), cfg.Gateway.MaxConnections)

	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 90, cfg.Retention.MaxAgeDays)
	assert.Equal(t, time.Hour, cfg.Retention.SweepInterval)

	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty socket path", func(c *Config) { c.Daemon.SocketPath = "" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero worker pool", func(c *Config) { c.Scanning.WorkerPoolSize = 0 }},
		{"negative multi pool", func(c *Config) { c.Scanning.MultiNetworkPoolSize = -1 }},
		{"zero probe timeout", func(c *Config) { c.Scanning.ProbeTimeout = 0 }},
		{"zero rate limit", func(c *Config) { c.Gateway.RateLimitRequests = 0 }},
		{"zero rate window", func(c *Config) { c.Gateway.RateLimitWindow = 0 }},
		{"vendor refresh without interval", func(c *Config) {
			c.Vendor.RefreshURL = "https://standards-oui.ieee.org/oui/oui.csv"
			c.Vendor.RefreshInterval = 0
		}},
		{"zero max connections", func(c *Config) { c.Gateway.MaxConnections = 0 }},
		{"retention without age", func(c *Config) { c.Retention.MaxAgeDays = 0 }},
		{"retention without interval", func(c *Config) { c.Retention.SweepInterval = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRetentionDisabled(t *testing.T) {
	cfg := Default()
	cfg.Retention.Enabled = false
	cfg.Retention.MaxAgeDays = 0
	cfg.Retention.SweepInterval = 0

	// Retention bounds only apply when the sweep is on.
	assert.NoError(t, cfg.Validate())
}

func TestApplyDevMode(t *testing.T) {
	cfg := Default()
	cfg.ApplyDevMode()

	assert.True(t, cfg.Daemon.DevMode)
	assert.Equal(t, DevSocketPath, cfg.Daemon.SocketPath)
	assert.Equal(t, filepath.Join(os.TempDir(), "netmapper.pid"), cfg.Daemon.PIDFile)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "netmapper", "netmapper.db"), cfg.Database.Path)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Empty(t, cfg.Source)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netmapper.yaml")
	content := `
daemon:
  socket_path: /tmp/test.sock
scanning:
  worker_pool_size: 3
  use_mock_prober: true
gateway:
  rate_limit_requests: 99
retention:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.sock", cfg.Daemon.SocketPath)
	assert.Equal(t, 3, cfg.Scanning.WorkerPoolSize)
	assert.True(t, cfg.Scanning.UseMockProber)
	assert.Equal(t, 99, cfg.Gateway.RateLimitRequests)
	assert.False(t, cfg.Retention.Enabled)
	assert.Equal(t, path, cfg.Source)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Scanning.MultiNetworkPoolSize)
	assert.Equal(t, DefaultDBPath, cfg.Database.Path)
}

func TestLoadInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netmapper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scanning:\n  worker_pool_size: -1\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAppliesDevMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netmapper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daemon:\n  dev_mode: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DevSocketPath, cfg.Daemon.SocketPath)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Daemon.SocketPath = "/tmp/roundtrip.sock"
	cfg.Scanning.WorkerPoolSize = 7
	cfg.Logging.Level = logging.LevelDebug

	path := filepath.Join(t.TempDir(), "saved", "netmapper.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/roundtrip.sock", loaded.Daemon.SocketPath)
	assert.Equal(t, 7, loaded.Scanning.WorkerPoolSize)
	assert.Equal(t, logging.LevelDebug, loaded.Logging.Level)
}
