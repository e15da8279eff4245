package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmapper/netmapper/internal/metrics"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "netmapper.db")

	database, err := OpenAndMigrate(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	return database
}

func seedScan(t *testing.T, database *DB, cidr string, ts int64, hosts []Host) string {
	t.Helper()

	scan := &Scan{ID: uuid.NewString(), CIDR: cidr, Timestamp: ts}
	require.NoError(t, database.SaveScanResults(context.Background(), scan, hosts))
	return scan.ID
}

func TestOpenAndMigrateCreatesSchema(t *testing.T) {
	database := openTestDB(t)

	// All application tables exist after migration.
	for _, table := range []string{"scans", "hosts", "port_scans", "device_tags", "scan_schedules", "audit_log"} {
		var name string
		err := database.GetContext(context.Background(), &name,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		assert.NoError(t, err, "table %s missing", table)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	database := openTestDB(t)

	// Running the migrator again over an up-to-date schema is a no-op.
	migrator := NewMigrator(database.DB)
	require.NoError(t, migrator.Up(context.Background()))

	var count int
	err := database.GetContext(context.Background(), &count, `SELECT COUNT(*) FROM schema_migrations`)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSaveAndGetScanResults(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	hosts := []Host{
		{IP: "192.168.1.20", MAC: "aa:bb:cc:00:00:20", Hostname: strPtr("desktop")},
		{IP: "192.168.1.1", MAC: "aa:bb:cc:00:00:01", Hostname: strPtr("gateway"), Vendor: strPtr("Acme")},
		{IP: "192.168.1.30", MAC: "aa:bb:cc:00:00:30"},
	}
	scanID := seedScan(t, database, "192.168.1.0/24", NowUnix(), hosts)

	scan, err := database.GetScan(ctx, scanID)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0/24", scan.CIDR)
	assert.Equal(t, 3, scan.HostCount)

	got, err := database.GetScanResults(ctx, scanID)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Ordered by IP.
	assert.Equal(t, "192.168.1.1", got[0].IP)
	assert.Equal(t, "192.168.1.20", got[1].IP)
	assert.Equal(t, "192.168.1.30", got[2].IP)

	require.NotNil(t, got[0].Hostname)
	assert.Equal(t, "gateway", *got[0].Hostname)
	require.NotNil(t, got[0].Vendor)
	assert.Equal(t, "Acme", *got[0].Vendor)
	assert.Nil(t, got[2].Hostname)
}

func TestGetScanResultsUnknownScan(t *testing.T) {
	database := openTestDB(t)

	hosts, err := database.GetScanResults(context.Background(), "no-such-scan")
	require.NoError(t, err)
	assert.NotNil(t, hosts)
	assert.Empty(t, hosts)
}

func TestGetScanNotFound(t *testing.T) {
	database := openTestDB(t)

	_, err := database.GetScan(context.Background(), "no-such-scan")
	require.Error(t, err)
}

func TestListScanHistory(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	base := time.Now().Unix()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, seedScan(t, database, "10.0.0.0/24", base+int64(i), nil))
	}

	scans, err := database.ListScanHistory(ctx, 3)
	require.NoError(t, err)
	require.Len(t, scans, 3)

	// Newest first.
	assert.Equal(t, ids[4], scans[0].ID)
	assert.Equal(t, ids[3], scans[1].ID)
	assert.Equal(t, ids[2], scans[2].ID)
}

func TestPortScanRoundTrip(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := &PortScanRecord{
			IP:        "192.168.1.10",
			Timestamp: time.Now().Unix() + int64(i),
			Ports:     "22/tcp,80/tcp",
			Services:  "ssh,http",
			RawOutput: "<nmaprun></nmaprun>",
		}
		require.NoError(t, database.SavePortScan(ctx, rec))
	}

	records, err := database.GetPortScanHistory(ctx, "192.168.1.10", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "22/tcp,80/tcp", records[0].Ports)
	assert.GreaterOrEqual(t, records[0].Timestamp, records[1].Timestamp)

	none, err := database.GetPortScanHistory(ctx, "192.168.1.99", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeviceTags(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.AddDeviceTag(ctx, "192.168.1.50", "nas"))
	require.NoError(t, database.AddDeviceTag(ctx, "192.168.1.50", "storage"))
	require.NoError(t, database.AddDeviceTag(ctx, "192.168.1.50", "nas")) // duplicates allowed
	require.NoError(t, database.AddDeviceTag(ctx, "192.168.1.60", "camera"))

	tags, err := database.GetDeviceTags(ctx, "192.168.1.50")
	require.NoError(t, err)
	assert.Equal(t, []string{"nas", "storage", "nas"}, tags)

	tags, err = database.GetDeviceTags(ctx, "192.168.1.1")
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestSchedules(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.SaveSchedule(ctx, "192.168.1.0/24", "0 2 * * *"))
	require.NoError(t, database.SaveSchedule(ctx, "10.0.0.0/16", "@hourly"))

	schedules, err := database.ListSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	assert.Equal(t, "192.168.1.0/24", schedules[0].CIDR)
	assert.Equal(t, "0 2 * * *", schedules[0].Schedule)
	assert.True(t, schedules[0].Enabled)
	assert.Nil(t, schedules[0].LastRun)
}

func TestAppendAudit(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.AppendAudit(ctx, AuditActionRequest, "scan 10.0.0.0/24", "local"))
	require.NoError(t, database.AppendAudit(ctx, AuditActionUnknownCommand, "bogus", "local"))

	var records []AuditRecord
	err := database.SelectContext(ctx, &records,
		`SELECT id, ts, action, details, client_id FROM audit_log ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, AuditActionRequest, records[0].Action)
	assert.Equal(t, "local", records[0].ClientID)
	assert.NotZero(t, records[0].Timestamp)
}

func TestCompareScansFromStore(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	olderID := seedScan(t, database, "192.168.1.0/24", time.Now().Unix()-60, []Host{
		{IP: "192.168.1.1", MAC: "aa:aa:aa:00:00:01"},
		{IP: "192.168.1.10", MAC: "aa:aa:aa:00:00:10", Hostname: strPtr("old-name")},
	})
	newerID := seedScan(t, database, "192.168.1.0/24", time.Now().Unix(), []Host{
		{IP: "192.168.1.1", MAC: "aa:aa:aa:00:00:01"},
		{IP: "192.168.1.10", MAC: "aa:aa:aa:00:00:10", Hostname: strPtr("new-name")},
		{IP: "192.168.1.20", MAC: "aa:aa:aa:00:00:20"},
	})

	cmp, err := database.CompareScans(ctx, olderID, newerID)
	require.NoError(t, err)

	require.Len(t, cmp.New, 1)
	assert.Equal(t, "192.168.1.20", cmp.New[0].IP)
	assert.Empty(t, cmp.Disappeared)
	require.Len(t, cmp.Changed, 1)
	assert.Equal(t, FieldChange{Old: "old-name", New: "new-name"},
		cmp.Changed[0].Fields["hostname"])
	require.Len(t, cmp.Unchanged, 1)
}

func TestGetHostTimeline(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	now := time.Now().Unix()
	old := time.Now().AddDate(0, 0, -45).Unix()

	seedScan(t, database, "192.168.1.0/24", old, []Host{
		{IP: "192.168.1.10", MAC: "aa:aa:aa:00:00:10"},
	})
	seedScan(t, database, "192.168.1.0/24", now-120, []Host{
		{IP: "192.168.1.10", MAC: "aa:aa:aa:00:00:10", Hostname: strPtr("printer")},
	})
	seedScan(t, database, "192.168.1.0/24", now, []Host{
		{IP: "192.168.1.10", MAC: "bb:bb:bb:00:00:10", Hostname: strPtr("printer")},
		{IP: "192.168.1.20", MAC: "cc:cc:cc:00:00:20"},
	})

	entries, err := database.GetHostTimeline(ctx, "192.168.1.10", 30)
	require.NoError(t, err)
	require.Len(t, entries, 2, "sighting outside the window is excluded")

	// Oldest first.
	assert.Equal(t, "aa:aa:aa:00:00:10", entries[0].MAC)
	assert.Equal(t, "bb:bb:bb:00:00:10", entries[1].MAC)
	assert.LessOrEqual(t, entries[0].Timestamp, entries[1].Timestamp)
}

func TestGetStats(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	stats, err := database.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalScans)
	assert.Nil(t, stats.OldestScanTS)
	assert.Empty(t, stats.TopVendors)

	first := time.Now().Unix() - 300
	last := time.Now().Unix()
	seedScan(t, database, "192.168.1.0/24", first, []Host{
		{IP: "192.168.1.1", MAC: "aa", Vendor: strPtr("Acme")},
		{IP: "192.168.1.10", MAC: "bb", Vendor: strPtr("Acme")},
		{IP: "192.168.1.20", MAC: "cc", Vendor: strPtr("Globex")},
	})
	seedScan(t, database, "192.168.1.0/24", last, []Host{
		{IP: "192.168.1.1", MAC: "aa", Vendor: strPtr("Acme")}, // same IP, not double counted
		{IP: "192.168.1.30", MAC: "dd"},
	})
	require.NoError(t, database.SavePortScan(ctx, &PortScanRecord{IP: "192.168.1.1", Timestamp: last}))

	stats, err = database.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalScans)
	assert.Equal(t, 4, stats.UniqueHosts)
	assert.Equal(t, 1, stats.TotalPortScans)
	require.NotNil(t, stats.OldestScanTS)
	assert.Equal(t, first, *stats.OldestScanTS)
	require.NotNil(t, stats.NewestScanTS)
	assert.Equal(t, last, *stats.NewestScanTS)

	require.Len(t, stats.TopVendors, 2)
	assert.Equal(t, VendorCount{Vendor: "Acme", Count: 2}, stats.TopVendors[0])
	assert.Equal(t, VendorCount{Vendor: "Globex", Count: 1}, stats.TopVendors[1])
}

func TestRetentionSweep(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	oldID := seedScan(t, database, "192.168.1.0/24", time.Now().AddDate(0, 0, -120).Unix(), []Host{
		{IP: "192.168.1.1", MAC: "aa"},
	})
	freshID := seedScan(t, database, "192.168.1.0/24", time.Now().Unix(), []Host{
		{IP: "192.168.1.1", MAC: "aa"},
	})

	deleted, err := database.RetentionSweep(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = database.GetScan(ctx, oldID)
	assert.Error(t, err, "expired scan removed")

	_, err = database.GetScan(ctx, freshID)
	assert.NoError(t, err, "recent scan kept")

	// Host rows cascade with the scan.
	hosts, err := database.GetScanResults(ctx, oldID)
	require.NoError(t, err)
	assert.Empty(t, hosts)

	deleted, err = database.RetentionSweep(ctx, 90)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestBackup(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	scanID := seedScan(t, database, "192.168.1.0/24", time.Now().Unix(), []Host{
		{IP: "192.168.1.1", MAC: "aa"},
	})

	dest := filepath.Join(t.TempDir(), "backup", "netmapper.db")
	require.NoError(t, database.Backup(ctx, dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// The snapshot is a valid, queryable database.
	restoredCfg := DefaultConfig()
	restoredCfg.Path = dest
	restored, err := Open(ctx, &restoredCfg)
	require.NoError(t, err)
	defer func() { _ = restored.Close() }()

	scan, err := restored.GetScan(ctx, scanID)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0/24", scan.CIDR)

	// A second backup to the same path is refused.
	require.Error(t, database.Backup(ctx, dest))
}

func gatherCounter(t *testing.T, m *metrics.Metrics, name, operation string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "operation" && label.GetValue() == operation {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestStoreQueryInstrumentation(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	m := metrics.New()
	database.SetMetrics(m)

	seedScan(t, database, "192.168.1.0/24", NowUnix(), []Host{{IP: "192.168.1.1", MAC: "aa"}})
	assert.Equal(t, 1.0, gatherCounter(t, m, "netmapper_store_queries_total", "save_scan_results"))

	// A failed lookup counts as a query and an error.
	_, err := database.GetScan(ctx, "no-such-scan")
	require.Error(t, err)
	assert.Equal(t, 1.0, gatherCounter(t, m, "netmapper_store_queries_total", "get_scan"))
	assert.Equal(t, 1.0, gatherCounter(t, m, "netmapper_store_errors_total", "get_scan"))
	assert.Equal(t, 0.0, gatherCounter(t, m, "netmapper_store_errors_total", "save_scan_results"))
}
