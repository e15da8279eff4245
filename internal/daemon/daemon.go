// Package daemon runs the netmapper background service: it owns the store,
// the scan orchestrator, the request gateway, the optional metrics
// listener, and the retention sweep loop.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/netmapper/netmapper/internal/config"
	"github.com/netmapper/netmapper/internal/db"
	"github.com/netmapper/netmapper/internal/gateway"
	"github.com/netmapper/netmapper/internal/logging"
	"github.com/netmapper/netmapper/internal/metrics"
	"github.com/netmapper/netmapper/internal/probe"
	"github.com/netmapper/netmapper/internal/scan"
	"github.com/netmapper/netmapper/internal/vendor"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// Daemon is the long-running netmapper process.
type Daemon struct {
	config *config.Config
	logger *logging.Logger

	store         *db.DB
	gateway       *gateway.Server
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	orchestrator  *scan.Orchestrator

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex
}

// New creates a daemon from validated configuration.
func New(cfg *config.Config, logger *logging.Logger) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		config: cfg,
		logger: logger.WithComponent("daemon"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start brings the daemon up and blocks until shutdown. Failure to open
// the store or bind the gateway socket aborts startup; everything else is
// contained per-request or per-scan.
func (d *Daemon) Start() error {
	d.logger.Info("starting netmapper daemon", "dev_mode", d.config.Daemon.DevMode)

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	dbConfig := d.config.GetDatabaseConfig()
	store, err := db.OpenAndMigrate(d.ctx, &dbConfig)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("failed to open store: %w", err)
	}
	d.store = store
	d.logger.Info("store opened", "path", dbConfig.Path)

	if d.config.Metrics.Enabled {
		d.metrics = metrics.New()
		d.metricsServer = metrics.NewServer(d.metrics, d.config.Metrics.ListenAddr, d.logger)
		go d.metricsServer.Start()
	}
	store.SetMetrics(d.metrics)

	if schedules, err := store.ListSchedules(d.ctx); err != nil {
		d.logger.Warn("could not read registered schedules", "error", err)
	} else {
		for _, sched := range schedules {
			d.logger.Info("scan schedule registered", "cidr", sched.CIDR, "schedule", sched.Schedule, "enabled", sched.Enabled)
		}
	}

	resolver := vendor.NewResolver(d.logger)
	if d.config.Vendor.OUIPath != "" {
		if err := resolver.LoadFile(d.config.Vendor.OUIPath); err != nil {
			d.logger.Warn("failed to load OUI registry", "path", d.config.Vendor.OUIPath, "error", err)
		}
	}
	if d.config.Vendor.RefreshURL != "" {
		go d.vendorRefreshLoop(resolver)
	}

	var prober probe.Prober
	if d.config.Scanning.UseMockProber {
		d.logger.Info("using mock prober")
		prober = probe.NewMockProber()
	} else {
		prober = probe.NewARPProber(d.logger)
	}

	d.orchestrator = scan.New(d.ctx, d.config.Scanning, store, prober, resolver, d.metrics, d.logger)
	portScanner := probe.NewPortScanner(d.logger, d.config.Scanning.PortScanTimeout, d.config.Scanning.DefaultPortRange)

	d.gateway = gateway.New(d.config, store, d.orchestrator, portScanner, d.metrics, d.logger)
	if err := d.gateway.Start(d.ctx); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	if d.config.Retention.Enabled {
		go d.retentionLoop()
	}

	d.logger.Info("daemon started")
	return d.run()
}

// Stop initiates a graceful shutdown and waits for it to complete.
func (d *Daemon) Stop() {
	d.cancel()
	select {
	case <-d.done:
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Warn("shutdown timeout reached, forcing exit")
	}
}

func (d *Daemon) run() error {
	<-d.ctx.Done()
	d.logger.Info("shutdown signal received")

	if d.gateway != nil {
		d.gateway.Stop()
	}
	if d.metricsServer != nil {
		d.metricsServer.Stop()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error("failed to close store", "error", err)
		}
	}
	d.cleanup()

	close(d.done)
	d.logger.Info("daemon stopped")
	return nil
}

// retentionLoop removes expired scans on the configured interval. Sweep
// outcomes land in the audit trail so operators can account for vanished
// history.
func (d *Daemon) retentionLoop() {
	interval := d.config.Retention.SweepInterval
	d.logger.Info("retention sweep enabled",
		"max_age_days", d.config.Retention.MaxAgeDays, "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			deleted, err := d.store.RetentionSweep(d.ctx, d.config.Retention.MaxAgeDays)
			if err != nil {
				d.logger.Error("retention sweep failed", "error", err)
				continue
			}
			d.metrics.RetentionDeleted(deleted)
			if deleted > 0 {
				d.logger.Info("retention sweep removed scans", "deleted", deleted)
			}
			details := fmt.Sprintf("deleted %d scans older than %d days", deleted, d.config.Retention.MaxAgeDays)
			if err := d.store.AppendAudit(d.ctx, db.AuditActionRetentionSweep, details, "system"); err != nil {
				d.logger.Error("failed to audit retention sweep", "error", err)
			}
		}
	}
}

// vendorRefreshLoop re-downloads the OUI registry on the configured
// interval, starting with an immediate refresh so a stale or missing local
// table is replaced as soon as the daemon is up. Download failures keep the
// current table.
func (d *Daemon) vendorRefreshLoop(resolver *vendor.Resolver) {
	url := d.config.Vendor.RefreshURL
	interval := d.config.Vendor.RefreshInterval

	if err := resolver.RefreshFromURL(d.ctx, url); err != nil {
		d.logger.Warn("OUI registry refresh failed", "url", url, "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := resolver.RefreshFromURL(d.ctx, url); err != nil {
				d.logger.Warn("OUI registry refresh failed", "url", url, "error", err)
			}
		}
	}
}

func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	go func() {
		for sig := range sigChan {
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.logger.Info("initiating graceful shutdown", "signal", sig.String())
				d.cancel()
				return
			case syscall.SIGHUP:
				d.logger.Info("received SIGHUP, re-checking configuration")
				d.reloadConfiguration()
			}
		}
	}()
}

// reloadConfiguration re-reads the config file and applies what can change
// at runtime: logging and retention limits. Socket and database paths need
// a restart.
func (d *Daemon) reloadConfiguration() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config.Source == "" {
		d.logger.Warn("no config file to reload")
		return
	}

	fresh, err := config.Load(d.config.Source)
	if err != nil {
		d.logger.Error("configuration reload failed", "error", err)
		return
	}
	if err := fresh.Validate(); err != nil {
		d.logger.Error("reloaded configuration is invalid", "error", err)
		return
	}

	d.config.Logging = fresh.Logging
	d.config.Retention = fresh.Retention
	d.logger.Info("configuration reloaded", "source", d.config.Source)
}

func (d *Daemon) createPIDFile() error {
	pidFile := d.config.Daemon.PIDFile
	if pidFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(pidFile), dirPermissions); err != nil {
		return err
	}
	if err := d.checkExistingPID(pidFile); err != nil {
		return err
	}
	return os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), filePermissions)
}

func (d *Daemon) checkExistingPID(pidFile string) error {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return os.Remove(pidFile)
	}

	if process, err := os.FindProcess(pid); err == nil {
		if process.Signal(syscall.Signal(0)) == nil {
			return fmt.Errorf("daemon already running with PID %d", pid)
		}
	}
	return os.Remove(pidFile)
}

func (d *Daemon) cleanup() {
	if d.config.Daemon.PIDFile != "" {
		_ = os.Remove(d.config.Daemon.PIDFile)
	}
}
