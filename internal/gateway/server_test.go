package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmapper/netmapper/internal/config"
	"github.com/netmapper/netmapper/internal/db"
	"github.com/netmapper/netmapper/internal/logging"
	"github.com/netmapper/netmapper/internal/probe"
	"github.com/netmapper/netmapper/internal/scan"
)

const mockHostCount = 23

type testGateway struct {
	server *Server
	store  *db.DB
	socket string
}

// startTestGateway brings up a full gateway on a temporary socket, backed by
// a temporary database and the mock prober.
func startTestGateway(t *testing.T, mutate func(*config.Config)) *testGateway {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Daemon.SocketPath = filepath.Join(dir, "nm.sock")
	cfg.Daemon.DevMode = true
	cfg.Database.Path = filepath.Join(dir, "netmapper.db")
	cfg.Gateway.RateLimitRequests = 1000
	if mutate != nil {
		mutate(cfg)
	}

	store, err := db.OpenAndMigrate(context.Background(), &cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := logging.NewDefault()
	orchestrator := scan.New(context.Background(), cfg.Scanning, store, probe.NewMockProber(), nil, nil, logger)
	portScanner := probe.NewPortScanner(logger, cfg.Scanning.PortScanTimeout, cfg.Scanning.DefaultPortRange)

	server := New(cfg, store, orchestrator, portScanner, nil, logger)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(server.Stop)

	return &testGateway{server: server, store: store, socket: cfg.Daemon.SocketPath}
}

// request performs one protocol exchange: connect, send one JSON object,
// read one JSON response, close.
func (g *testGateway) request(t *testing.T, payload any) map[string]any {
	t.Helper()

	conn, err := net.DialTimeout("unix", g.socket, time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = conn.Write(data)
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

// startScan kicks off a scan and waits until its results are queryable.
func (g *testGateway) startScan(t *testing.T, cidr string) string {
	t.Helper()

	resp := g.request(t, map[string]any{"cmd": "scan", "cidr": cidr})
	require.Equal(t, "started", resp["status"])
	scanID, _ := resp["scan_id"].(string)
	require.NotEmpty(t, scanID)

	require.Eventually(t, func() bool {
		r := g.request(t, map[string]any{"cmd": "get_results", "scan_id": scanID})
		results, _ := r["results"].([]any)
		return len(results) > 0
	}, 5*time.Second, 20*time.Millisecond, "scan %s never produced results", scanID)

	return scanID
}

func TestGatewayScanEndToEnd(t *testing.T) {
	g := startTestGateway(t, nil)

	scanID := g.startScan(t, "192.168.100.0/24")

	resp := g.request(t, map[string]any{"cmd": "get_results", "scan_id": scanID})
	require.Equal(t, "ok", resp["status"])

	results, ok := resp["results"].([]any)
	require.True(t, ok)
	assert.Len(t, results, mockHostCount)

	ips := map[string]bool{}
	for _, r := range results {
		host := r.(map[string]any)
		ips[host["ip"].(string)] = true
	}
	assert.True(t, ips["192.168.100.1"], "gateway host discovered")
	assert.True(t, ips["192.168.101.5"])
}

func TestGatewayGetResultsUnknownScan(t *testing.T) {
	g := startTestGateway(t, nil)

	resp := g.request(t, map[string]any{"cmd": "get_results", "scan_id": "nope"})
	require.Equal(t, "ok", resp["status"])

	results, ok := resp["results"].([]any)
	require.True(t, ok)
	assert.Empty(t, results)
}

func TestGatewayCompareIdenticalScans(t *testing.T) {
	g := startTestGateway(t, nil)

	first := g.startScan(t, "192.168.100.0/24")
	second := g.startScan(t, "192.168.100.0/24")

	resp := g.request(t, map[string]any{
		"cmd": "compare_scans", "scan_id1": first, "scan_id2": second,
	})
	require.Equal(t, "ok", resp["status"])

	comparison, ok := resp["comparison"].(map[string]any)
	require.True(t, ok)
	assert.Empty(t, comparison["new"])
	assert.Empty(t, comparison["disappeared"])
	assert.Empty(t, comparison["changed"])
	assert.Len(t, comparison["unchanged"], mockHostCount)
}

func TestGatewayListHistory(t *testing.T) {
	g := startTestGateway(t, nil)

	first := g.startScan(t, "192.168.100.0/24")
	second := g.startScan(t, "192.168.101.0/24")

	resp := g.request(t, map[string]any{"cmd": "list_history"})
	require.Equal(t, "ok", resp["status"])

	history, ok := resp["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 2)

	gotIDs := map[string]bool{}
	for _, h := range history {
		gotIDs[h.(map[string]any)["scan_id"].(string)] = true
	}
	assert.True(t, gotIDs[first])
	assert.True(t, gotIDs[second])
}

func TestGatewayDeviceTags(t *testing.T) {
	g := startTestGateway(t, nil)

	resp := g.request(t, map[string]any{"cmd": "add_device_tag", "ip": "192.168.100.50", "tag": "server"})
	require.Equal(t, "ok", resp["status"])

	resp = g.request(t, map[string]any{"cmd": "get_device_tags", "ip": "192.168.100.50"})
	require.Equal(t, "ok", resp["status"])
	assert.Equal(t, []any{"server"}, resp["tags"])

	resp = g.request(t, map[string]any{"cmd": "get_device_tags", "ip": "192.168.100.51"})
	require.Equal(t, "ok", resp["status"])
	assert.Empty(t, resp["tags"])
}

func TestGatewayGetStats(t *testing.T) {
	g := startTestGateway(t, nil)
	g.startScan(t, "192.168.100.0/24")

	resp := g.request(t, map[string]any{"cmd": "get_stats"})
	require.Equal(t, "ok", resp["status"])

	stats, ok := resp["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), stats["total_scans"])
	assert.Equal(t, float64(mockHostCount), stats["unique_host_count"])
}

func TestGatewayScheduleScan(t *testing.T) {
	g := startTestGateway(t, nil)

	resp := g.request(t, map[string]any{"cmd": "schedule_scan", "cidr": "192.168.100.0/24", "schedule": "0 2 * * *"})
	require.Equal(t, "ok", resp["status"])

	resp = g.request(t, map[string]any{"cmd": "schedule_scan", "cidr": "192.168.100.0/24", "schedule": "not a cron expr"})
	require.Equal(t, "error", resp["status"])
	assert.Contains(t, resp["message"], "Invalid schedule expression")
}

func TestGatewayCancelScan(t *testing.T) {
	g := startTestGateway(t, nil)

	resp := g.request(t, map[string]any{"cmd": "cancel_scan", "scan_id": "whatever"})
	require.Equal(t, "ok", resp["status"])
	assert.Equal(t, "whatever", resp["scan_id"])
}

func TestGatewayBackup(t *testing.T) {
	g := startTestGateway(t, nil)
	g.startScan(t, "192.168.100.0/24")

	dest := filepath.Join(t.TempDir(), "backup.db")
	resp := g.request(t, map[string]any{"cmd": "backup_database", "path": dest})
	require.Equal(t, "ok", resp["status"])
	assert.Equal(t, dest, resp["path"])

	// Second backup to the same destination is refused.
	resp = g.request(t, map[string]any{"cmd": "backup_database", "path": dest})
	assert.Equal(t, "error", resp["status"])
}

func TestGatewayUnknownCommand(t *testing.T) {
	g := startTestGateway(t, nil)

	resp := g.request(t, map[string]any{"cmd": "self_destruct"})
	require.Equal(t, "error", resp["status"])
	assert.Contains(t, resp["message"], "Unknown command")
}

func TestGatewayMalformedJSON(t *testing.T) {
	g := startTestGateway(t, nil)

	conn, err := net.DialTimeout("unix", g.socket, time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(line, &resp))
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "Invalid JSON", resp["message"])
}

func TestGatewayValidationFailure(t *testing.T) {
	g := startTestGateway(t, nil)

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"scan without cidr", map[string]any{"cmd": "scan"}},
		{"scan with bad cidr", map[string]any{"cmd": "scan", "cidr": "999.0.0.0/24"}},
		{"nmap with bad ip", map[string]any{"cmd": "nmap", "ip": "not-an-ip"}},
		{"nmap with bad ports", map[string]any{"cmd": "nmap", "ip": "192.168.1.1", "ports": "abc"}},
		{"tag without tag", map[string]any{"cmd": "add_device_tag", "ip": "192.168.1.1"}},
		{"timeline ipv6", map[string]any{"cmd": "get_timeline", "ip": "fe80::1"}},
		{"scan_multiple empty", map[string]any{"cmd": "scan_multiple", "cidrs": []string{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := g.request(t, tt.payload)
			assert.Equal(t, "error", resp["status"])
		})
	}
}

func TestGatewayRateLimit(t *testing.T) {
	g := startTestGateway(t, func(c *config.Config) {
		c.Gateway.RateLimitRequests = 3
		c.Gateway.RateLimitWindow = time.Minute
	})

	for i := 0; i < 3; i++ {
		resp := g.request(t, map[string]any{"cmd": "list_history"})
		require.Equal(t, "ok", resp["status"], "request %d within limit", i+1)
	}

	resp := g.request(t, map[string]any{"cmd": "list_history"})
	require.Equal(t, "error", resp["status"])
	assert.Equal(t, "Rate limit exceeded, try again later", resp["message"])

	// A different client identity is not affected.
	resp = g.request(t, map[string]any{"cmd": "list_history", "client_id": "other"})
	assert.Equal(t, "ok", resp["status"])
}

func TestGatewayRateLimitCoversUnknownCommands(t *testing.T) {
	g := startTestGateway(t, func(c *config.Config) {
		c.Gateway.RateLimitRequests = 2
		c.Gateway.RateLimitWindow = time.Minute
	})

	// Bogus command names burn the client's budget like real ones.
	for i := 0; i < 2; i++ {
		resp := g.request(t, map[string]any{"cmd": "self_destruct"})
		require.Equal(t, "error", resp["status"])
		assert.Contains(t, resp["message"], "Unknown command")
	}

	resp := g.request(t, map[string]any{"cmd": "self_destruct"})
	require.Equal(t, "error", resp["status"])
	assert.Equal(t, "Rate limit exceeded, try again later", resp["message"])

	// The budget is shared: a valid command from the same client is also
	// rejected now.
	resp = g.request(t, map[string]any{"cmd": "list_history"})
	require.Equal(t, "error", resp["status"])
	assert.Equal(t, "Rate limit exceeded, try again later", resp["message"])
}

func TestGatewayScanMultiple(t *testing.T) {
	g := startTestGateway(t, nil)

	resp := g.request(t, map[string]any{
		"cmd": "scan_multiple", "cidrs": []string{"192.168.100.0/24", "192.168.101.0/24"},
	})
	require.Equal(t, "started", resp["status"])
	scanID, _ := resp["scan_id"].(string)
	require.NotEmpty(t, scanID)

	require.Eventually(t, func() bool {
		r := g.request(t, map[string]any{"cmd": "get_results", "scan_id": scanID})
		results, _ := r["results"].([]any)
		return len(results) > 0
	}, 5*time.Second, 20*time.Millisecond)

	// One scan row holds the joined network list. The mock prober reports
	// the same topology for every block, so the merged result holds each
	// address once.
	row, err := g.store.GetScan(context.Background(), scanID)
	require.NoError(t, err)
	assert.Equal(t, "192.168.100.0/24,192.168.101.0/24", row.CIDR)
	assert.Equal(t, mockHostCount, row.HostCount)
}

func TestGatewayAuditTrail(t *testing.T) {
	g := startTestGateway(t, nil)

	g.request(t, map[string]any{"cmd": "list_history"})
	g.request(t, map[string]any{"cmd": "bogus_command"})

	var records []db.AuditRecord
	require.Eventually(t, func() bool {
		records = nil
		err := g.store.SelectContext(context.Background(), &records,
			`SELECT id, ts, action, details, client_id FROM audit_log ORDER BY id`)
		return err == nil && len(records) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	actions := map[string]bool{}
	for _, r := range records {
		actions[r.Action] = true
	}
	assert.True(t, actions[db.AuditActionRequest])
	assert.True(t, actions[db.AuditActionUnknownCommand])
}

func TestGatewayTimeline(t *testing.T) {
	g := startTestGateway(t, nil)
	g.startScan(t, "192.168.100.0/24")
	g.startScan(t, "192.168.100.0/24")

	resp := g.request(t, map[string]any{"cmd": "get_timeline", "ip": "192.168.100.50"})
	require.Equal(t, "ok", resp["status"])

	timeline, ok := resp["timeline"].([]any)
	require.True(t, ok)
	assert.Len(t, timeline, 2, "one sighting per scan")
}
