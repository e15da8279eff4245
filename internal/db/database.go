// Package db provides the persistent store for netmapper. It handles
// migrations and durable records of scans, hosts, port-scan results, tags,
// schedules, and the request audit trail, plus the comparison and timeline
// queries used for historical analysis.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/netmapper/netmapper/internal/errors"
	"github.com/netmapper/netmapper/internal/metrics"
)

const (
	// Default database configuration values.
	defaultBusyTimeoutMS = 5000
	defaultMaxOpenConns  = 4
	defaultMaxIdleConns  = 2

	dbDirPerm = 0o750
)

func init() {
	// The modernc driver registers as "sqlite", which sqlx does not know a
	// bindvar type for out of the box.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// DB wraps sqlx.DB with the netmapper store operations.
type DB struct {
	*sqlx.DB

	metrics *metrics.Metrics
}

// SetMetrics attaches query instrumentation. A nil metrics instance keeps
// instrumentation calls as no-ops.
func (db *DB) SetMetrics(m *metrics.Metrics) {
	db.metrics = m
}

// Config holds database configuration.
type Config struct {
	Path          string        `yaml:"path" json:"path"`
	BusyTimeoutMS int           `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
	MaxOpenConns  int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns  int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxIdle   time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
func DefaultConfig() Config {
	return Config{
		Path:          "/var/lib/netmapper/netmapper.db",
		BusyTimeoutMS: defaultBusyTimeoutMS,
		MaxOpenConns:  defaultMaxOpenConns,
		MaxIdleConns:  defaultMaxIdleConns,
		ConnMaxIdle:   5 * time.Minute,
	}
}

// dsn builds the sqlite connection string with the pragmas the store relies
// on: WAL for concurrent readers during the retention sweep, busy timeout so
// concurrent writers queue instead of failing, and enforced foreign keys so
// deleting a scan cascades to its hosts.
func (c *Config) dsn() string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeoutMS))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return fmt.Sprintf("file:%s?%s", c.Path, q.Encode())
}

// Open opens (creating if necessary) the store database file.
func Open(ctx context.Context, config *Config) (*DB, error) {
	if dir := filepath.Dir(config.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, dbDirPerm); err != nil {
			return nil, errors.ErrDatabaseConnection(err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite", config.dsn())
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxIdleTime(config.ConnMaxIdle)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "failed to verify database connection", err)
	}

	return &DB{DB: db}, nil
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// SaveScanResults persists one scan and its discovered hosts as a single
// transaction. Readers either see the complete scan or nothing.
func (db *DB) SaveScanResults(ctx context.Context, scan *Scan, hosts []Host) (err error) {
	defer func() { db.metrics.StoreQuery("save_scan_results", err) }()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.ErrDatabaseQuery("save scan results", err)
	}
	defer func() { _ = tx.Rollback() }()

	scan.HostCount = len(hosts)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO scans (id, cidr, ts, host_count) VALUES (?, ?, ?, ?)`,
		scan.ID, scan.CIDR, scan.Timestamp, scan.HostCount)
	if err != nil {
		return errors.ErrDatabaseQuery("insert scan", err)
	}

	for i := range hosts {
		hosts[i].ScanID = scan.ID
		_, err = tx.ExecContext(ctx,
			`INSERT INTO hosts (scan_id, ip, mac, hostname, vendor) VALUES (?, ?, ?, ?, ?)`,
			scan.ID, hosts[i].IP, hosts[i].MAC, hosts[i].Hostname, hosts[i].Vendor)
		if err != nil {
			return errors.ErrDatabaseQuery("insert host", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.ErrDatabaseQuery("commit scan results", err)
	}
	return nil
}

// GetScan returns one scan row by identifier.
func (db *DB) GetScan(ctx context.Context, scanID string) (_ *Scan, err error) {
	defer func() { db.metrics.StoreQuery("get_scan", err) }()

	var scan Scan
	err = db.GetContext(ctx, &scan,
		`SELECT id, cidr, ts, host_count FROM scans WHERE id = ?`, scanID)
	if err == sql.ErrNoRows {
		return nil, errors.NewDatabaseError(errors.CodeNotFound, "scan not found")
	}
	if err != nil {
		return nil, errors.ErrDatabaseQuery("get scan", err)
	}
	return &scan, nil
}

// GetScanResults returns the hosts recorded for one scan. An unknown or
// still-running scan yields an empty slice, indistinguishable from a scan
// that found nothing.
func (db *DB) GetScanResults(ctx context.Context, scanID string) (_ []Host, err error) {
	defer func() { db.metrics.StoreQuery("get_scan_results", err) }()

	hosts := []Host{}
	err = db.SelectContext(ctx, &hosts,
		`SELECT id, scan_id, ip, mac, hostname, vendor FROM hosts WHERE scan_id = ? ORDER BY ip`,
		scanID)
	if err != nil {
		return nil, errors.ErrDatabaseQuery("get scan results", err)
	}
	return hosts, nil
}

// ListScanHistory returns recent scans, newest first.
func (db *DB) ListScanHistory(ctx context.Context, limit int) (_ []Scan, err error) {
	defer func() { db.metrics.StoreQuery("list_scan_history", err) }()

	scans := []Scan{}
	err = db.SelectContext(ctx, &scans,
		`SELECT id, cidr, ts, host_count FROM scans ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.ErrDatabaseQuery("list scan history", err)
	}
	return scans, nil
}

// SavePortScan persists one port-scan record.
func (db *DB) SavePortScan(ctx context.Context, rec *PortScanRecord) (err error) {
	defer func() { db.metrics.StoreQuery("save_port_scan", err) }()

	_, err = db.ExecContext(ctx,
		`INSERT INTO port_scans (ip, ts, ports, services, raw_output) VALUES (?, ?, ?, ?, ?)`,
		rec.IP, rec.Timestamp, rec.Ports, rec.Services, rec.RawOutput)
	if err != nil {
		return errors.ErrDatabaseQuery("save port scan", err)
	}
	return nil
}

// GetPortScanHistory returns port-scan records for one IP, newest first.
func (db *DB) GetPortScanHistory(ctx context.Context, ip string, limit int) (_ []PortScanRecord, err error) {
	defer func() { db.metrics.StoreQuery("get_port_scan_history", err) }()

	records := []PortScanRecord{}
	err = db.SelectContext(ctx, &records,
		`SELECT id, ip, ts, ports, services, raw_output
		 FROM port_scans WHERE ip = ? ORDER BY ts DESC LIMIT ?`,
		ip, limit)
	if err != nil {
		return nil, errors.ErrDatabaseQuery("get port scan history", err)
	}
	return records, nil
}

// AddDeviceTag appends a tag to an IP. Tags are a multiset; duplicates are
// allowed.
func (db *DB) AddDeviceTag(ctx context.Context, ip, tag string) (err error) {
	defer func() { db.metrics.StoreQuery("add_device_tag", err) }()

	_, err = db.ExecContext(ctx,
		`INSERT INTO device_tags (ip, tag, created_at) VALUES (?, ?, ?)`,
		ip, tag, NowUnix())
	if err != nil {
		return errors.ErrDatabaseQuery("add device tag", err)
	}
	return nil
}

// GetDeviceTags returns all tags for an IP in insertion order.
func (db *DB) GetDeviceTags(ctx context.Context, ip string) (_ []string, err error) {
	defer func() { db.metrics.StoreQuery("get_device_tags", err) }()

	tags := []string{}
	err = db.SelectContext(ctx, &tags,
		`SELECT tag FROM device_tags WHERE ip = ? ORDER BY id`, ip)
	if err != nil {
		return nil, errors.ErrDatabaseQuery("get device tags", err)
	}
	return tags, nil
}

// SaveSchedule registers a recurring-scan declaration. Nothing in the core
// executes schedules; this is a registration table only.
func (db *DB) SaveSchedule(ctx context.Context, cidr, schedule string) (err error) {
	defer func() { db.metrics.StoreQuery("save_schedule", err) }()

	_, err = db.ExecContext(ctx,
		`INSERT INTO scan_schedules (cidr, schedule, enabled, created_at) VALUES (?, ?, 1, ?)`,
		cidr, schedule, NowUnix())
	if err != nil {
		return errors.ErrDatabaseQuery("save schedule", err)
	}
	return nil
}

// ListSchedules returns all registered schedules.
func (db *DB) ListSchedules(ctx context.Context) (_ []ScanSchedule, err error) {
	defer func() { db.metrics.StoreQuery("list_schedules", err) }()

	schedules := []ScanSchedule{}
	err = db.SelectContext(ctx, &schedules,
		`SELECT id, cidr, schedule, enabled, last_run, created_at FROM scan_schedules ORDER BY id`)
	if err != nil {
		return nil, errors.ErrDatabaseQuery("list schedules", err)
	}
	return schedules, nil
}

// AppendAudit writes one audit record. The audit trail is append-only.
func (db *DB) AppendAudit(ctx context.Context, action, details, clientID string) (err error) {
	defer func() { db.metrics.StoreQuery("append_audit", err) }()

	_, err = db.ExecContext(ctx,
		`INSERT INTO audit_log (ts, action, details, client_id) VALUES (?, ?, ?, ?)`,
		NowUnix(), action, details, clientID)
	if err != nil {
		return errors.ErrDatabaseQuery("append audit", err)
	}
	return nil
}

// CompareScans diffs two persisted scans by host IP. The result is a pure
// function of the two stored host sets.
func (db *DB) CompareScans(ctx context.Context, olderID, newerID string) (*ScanComparison, error) {
	older, err := db.GetScanResults(ctx, olderID)
	if err != nil {
		return nil, err
	}
	newer, err := db.GetScanResults(ctx, newerID)
	if err != nil {
		return nil, err
	}
	return CompareHostSets(older, newer), nil
}

// GetHostTimeline returns every sighting of an IP within the trailing
// window, oldest first.
func (db *DB) GetHostTimeline(ctx context.Context, ip string, windowDays int) (_ []TimelineEntry, err error) {
	defer func() { db.metrics.StoreQuery("get_host_timeline", err) }()

	cutoff := time.Now().AddDate(0, 0, -windowDays).Unix()

	entries := []TimelineEntry{}
	err = db.SelectContext(ctx, &entries,
		`SELECT h.scan_id, s.ts, h.mac, h.hostname, h.vendor
		 FROM hosts h JOIN scans s ON s.id = h.scan_id
		 WHERE h.ip = ? AND s.ts >= ?
		 ORDER BY s.ts ASC`,
		ip, cutoff)
	if err != nil {
		return nil, errors.ErrDatabaseQuery("get host timeline", err)
	}
	return entries, nil
}

// GetStats aggregates store-wide statistics.
func (db *DB) GetStats(ctx context.Context) (_ *Stats, err error) {
	defer func() { db.metrics.StoreQuery("get_stats", err) }()

	stats := &Stats{}

	if err := db.GetContext(ctx, &stats.TotalScans, `SELECT COUNT(*) FROM scans`); err != nil {
		return nil, errors.ErrDatabaseQuery("count scans", err)
	}
	if err := db.GetContext(ctx, &stats.UniqueHosts, `SELECT COUNT(DISTINCT ip) FROM hosts`); err != nil {
		return nil, errors.ErrDatabaseQuery("count unique hosts", err)
	}
	if err := db.GetContext(ctx, &stats.TotalPortScans, `SELECT COUNT(*) FROM port_scans`); err != nil {
		return nil, errors.ErrDatabaseQuery("count port scans", err)
	}

	var bounds struct {
		Oldest *int64 `db:"oldest"`
		Newest *int64 `db:"newest"`
	}
	err = db.GetContext(ctx, &bounds, `SELECT MIN(ts) AS oldest, MAX(ts) AS newest FROM scans`)
	if err != nil {
		return nil, errors.ErrDatabaseQuery("scan time bounds", err)
	}
	stats.OldestScanTS = bounds.Oldest
	stats.NewestScanTS = bounds.Newest

	stats.TopVendors = []VendorCount{}
	err = db.SelectContext(ctx, &stats.TopVendors,
		`SELECT vendor, COUNT(DISTINCT ip) AS count
		 FROM hosts
		 WHERE vendor IS NOT NULL AND vendor != ''
		 GROUP BY vendor
		 ORDER BY count DESC, vendor ASC
		 LIMIT 10`)
	if err != nil {
		return nil, errors.ErrDatabaseQuery("top vendors", err)
	}

	return stats, nil
}

// RetentionSweep deletes scans older than the cutoff. Host rows cascade via
// the foreign key; the delete runs in one transaction so it is safe against
// concurrent scan writes. Returns the number of scans deleted.
func (db *DB) RetentionSweep(ctx context.Context, maxAgeDays int) (_ int64, err error) {
	defer func() { db.metrics.StoreQuery("retention_sweep", err) }()

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays).Unix()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.ErrDatabaseQuery("retention sweep", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, errors.ErrDatabaseQuery("retention delete", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.ErrDatabaseQuery("retention rows affected", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.ErrDatabaseQuery("retention commit", err)
	}
	return deleted, nil
}

// Backup writes a consistent snapshot of the database to the given path
// using sqlite's VACUUM INTO. The destination must not already exist.
func (db *DB) Backup(ctx context.Context, path string) (err error) {
	defer func() { db.metrics.StoreQuery("backup", err) }()

	if _, err := os.Stat(path); err == nil {
		return errors.NewDatabaseError(errors.CodeValidation, "backup destination already exists")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, dbDirPerm); err != nil {
			return errors.ErrDatabaseQuery("backup mkdir", err)
		}
	}

	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return errors.ErrDatabaseQuery("backup vacuum", err)
	}
	return nil
}
