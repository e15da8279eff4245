// Package scan owns the lifecycle of scan jobs: strategy selection, fan-out
// across the worker pool, vendor enrichment, and the single write-through
// to the store when a job finishes.
package scan

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netmapper/netmapper/internal/config"
	"github.com/netmapper/netmapper/internal/db"
	"github.com/netmapper/netmapper/internal/errors"
	"github.com/netmapper/netmapper/internal/logging"
	"github.com/netmapper/netmapper/internal/metrics"
	"github.com/netmapper/netmapper/internal/probe"
	"github.com/netmapper/netmapper/internal/subnet"
	"github.com/netmapper/netmapper/internal/vendor"
	"github.com/netmapper/netmapper/internal/workers"
)

// Scan modes, recorded in logs and metrics.
const (
	modeSerial   = "serial"
	modeParallel = "parallel"
	modeMulti    = "multi"
)

// Orchestrator starts scans and runs them to completion in the background.
// A scan becomes visible in the store only when its batch write lands;
// until then get_results on its ID returns nothing.
type Orchestrator struct {
	cfg      config.ScanningConfig
	store    *db.DB
	prober   probe.Prober
	resolver *vendor.Resolver
	metrics  *metrics.Metrics
	logger   *logging.Logger

	// baseCtx outlives individual requests; background jobs stop when the
	// daemon does, not when the requesting connection closes.
	baseCtx context.Context

	running   map[string]string
	runningMu sync.RWMutex
}

// New builds an orchestrator bound to the daemon context.
func New(ctx context.Context, cfg config.ScanningConfig, store *db.DB, prober probe.Prober,
	resolver *vendor.Resolver, m *metrics.Metrics, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		prober:   prober,
		resolver: resolver,
		metrics:  m,
		logger:   logger.WithComponent("scan"),
		baseCtx:  ctx,
		running:  map[string]string{},
	}
}

// StartScan validates the CIDR, assigns a scan ID, and kicks the job off in
// the background. The returned ID is immediately usable with get_results,
// which stays empty until the scan completes.
func (o *Orchestrator) StartScan(cidr string) (string, error) {
	if err := subnet.Validate(cidr); err != nil {
		return "", err
	}

	scanID := uuid.NewString()
	o.track(scanID, cidr)

	go o.runScan(scanID, cidr)

	o.logger.InfoScan("scan started", cidr, "scan_id", scanID)
	return scanID, nil
}

// StartMultiScan runs several networks as one scan job under a single scan
// ID. Every network is partitioned into blocks and the combined block list
// fans out across the multi-network pool; all hosts land in one batch write
// with the CIDR column holding the comma-joined network list.
func (o *Orchestrator) StartMultiScan(cidrs []string) (string, error) {
	if len(cidrs) == 0 {
		return "", errors.NewGatewayError(errors.CodeValidation, "no networks given")
	}
	for _, cidr := range cidrs {
		if err := subnet.Validate(cidr); err != nil {
			return "", err
		}
	}

	scanID := uuid.NewString()
	label := strings.Join(cidrs, ",")
	o.track(scanID, label)

	go o.runMultiScan(scanID, label, cidrs)

	o.logger.Info("multi-network scan started", "scan_id", scanID, "networks", len(cidrs))
	return scanID, nil
}

// Running reports whether a scan ID belongs to a job that has not yet
// written its results.
func (o *Orchestrator) Running(scanID string) bool {
	o.runningMu.RLock()
	defer o.runningMu.RUnlock()
	_, ok := o.running[scanID]
	return ok
}

// RunningCount returns the number of in-flight scan jobs.
func (o *Orchestrator) RunningCount() int {
	o.runningMu.RLock()
	defer o.runningMu.RUnlock()
	return len(o.running)
}

// runScan executes one scan job end to end and writes its results in a
// single batch. Block failures are logged and counted but never abort the
// job; the affected block simply contributes no hosts.
func (o *Orchestrator) runScan(scanID, cidr string) {
	defer o.untrack(scanID)

	mode := modeSerial
	blocks, err := subnet.PartitionCIDR(cidr)
	if err != nil {
		o.logger.ErrorScan("scan aborted", cidr, err, "scan_id", scanID)
		return
	}
	if len(blocks) > 1 {
		mode = modeParallel
	}
	o.metrics.ScanStarted(mode)

	start := time.Now()
	started := start.Unix()

	var discovered []probe.Host
	if mode == modeSerial {
		discovered = o.sweepBlock(blocks[0])
	} else {
		pool := workers.NewPool(o.cfg.WorkerPoolSize, func(ctx context.Context, block string) ([]probe.Host, error) {
			return o.prober.Discover(ctx, block, o.cfg.ProbeTimeout)
		}, o.logger)
		for _, res := range pool.Execute(o.baseCtx, blocks) {
			if res.Err != nil {
				o.metrics.BlockFailed()
				continue
			}
			discovered = append(discovered, res.Hosts...)
		}
	}

	hosts := o.enrich(discovered)
	scan := &db.Scan{ID: scanID, CIDR: cidr, Timestamp: started}
	if err := o.store.SaveScanResults(o.baseCtx, scan, hosts); err != nil {
		o.logger.ErrorScan("failed to persist scan results", cidr, err, "scan_id", scanID)
		return
	}

	o.metrics.ScanFinished(mode, time.Since(start), len(hosts))
	o.logger.InfoScan("scan completed", cidr,
		"scan_id", scanID, "mode", mode, "blocks", len(blocks),
		"hosts", len(hosts), "duration", time.Since(start).String())
}

// runMultiScan is the multi-network counterpart of runScan.
func (o *Orchestrator) runMultiScan(scanID, label string, cidrs []string) {
	defer o.untrack(scanID)

	var blocks []string
	for _, cidr := range cidrs {
		parts, err := subnet.PartitionCIDR(cidr)
		if err != nil {
			o.logger.ErrorScan("multi scan aborted", cidr, err, "scan_id", scanID)
			return
		}
		blocks = append(blocks, parts...)
	}
	o.metrics.ScanStarted(modeMulti)

	start := time.Now()
	started := start.Unix()

	pool := workers.NewPool(o.cfg.MultiNetworkPoolSize, func(ctx context.Context, block string) ([]probe.Host, error) {
		return o.prober.Discover(ctx, block, o.cfg.ProbeTimeout)
	}, o.logger)

	var discovered []probe.Host
	for _, res := range pool.Execute(o.baseCtx, blocks) {
		if res.Err != nil {
			o.metrics.BlockFailed()
			continue
		}
		discovered = append(discovered, res.Hosts...)
	}

	hosts := o.enrich(discovered)
	scan := &db.Scan{ID: scanID, CIDR: label, Timestamp: started}
	if err := o.store.SaveScanResults(o.baseCtx, scan, hosts); err != nil {
		o.logger.ErrorScan("failed to persist scan results", label, err, "scan_id", scanID)
		return
	}

	o.metrics.ScanFinished(modeMulti, time.Since(start), len(hosts))
	o.logger.InfoScan("multi scan completed", label,
		"scan_id", scanID, "blocks", len(blocks),
		"hosts", len(hosts), "duration", time.Since(start).String())
}

// sweepBlock runs one block serially; a failed sweep yields no hosts.
func (o *Orchestrator) sweepBlock(block string) []probe.Host {
	hosts, err := o.prober.Discover(o.baseCtx, block, o.cfg.ProbeTimeout)
	if err != nil {
		o.logger.ErrorScan("block discovery failed", block, err)
		o.metrics.BlockFailed()
		return nil
	}
	return hosts
}

// enrich converts discovered hosts to store rows, filling in vendors from
// the OUI registry. An unknown prefix leaves the vendor nil. Blocks from
// overlapping networks can report the same address more than once; the
// first sighting wins so a scan holds at most one row per IP.
func (o *Orchestrator) enrich(discovered []probe.Host) []db.Host {
	hosts := make([]db.Host, 0, len(discovered))
	seen := make(map[string]bool, len(discovered))
	for _, d := range discovered {
		if seen[d.IP] {
			continue
		}
		seen[d.IP] = true
		h := db.Host{
			IP:       d.IP,
			MAC:      strings.ToLower(d.MAC),
			Hostname: d.Hostname,
		}
		if o.resolver != nil {
			if name := o.resolver.Lookup(d.MAC); name != "" {
				h.Vendor = &name
			}
		}
		hosts = append(hosts, h)
	}
	return hosts
}

func (o *Orchestrator) track(scanID, cidr string) {
	o.runningMu.Lock()
	o.running[scanID] = cidr
	o.runningMu.Unlock()
}

func (o *Orchestrator) untrack(scanID string) {
	o.runningMu.Lock()
	delete(o.running, scanID)
	o.runningMu.Unlock()
}
