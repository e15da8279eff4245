package probe

import (
	"context"
	"time"
)

// mockHost is one fixture entry.
type mockHost struct {
	ip       string
	mac      string
	hostname string
}

// mockTopology is the fixed 23-host development network: a gateway at
// 192.168.100.1, twenty devices on the same /24, and two devices on
// adjacent /24s so subnet detection and the map layout have something to
// separate.
var mockTopology = []mockHost{
	{"192.168.100.1", "aa:bb:cc:00:00:01", "gateway.local"},
	{"192.168.100.10", "aa:bb:cc:00:00:10", "fileserver.local"},
	{"192.168.100.11", "aa:bb:cc:00:00:11", "webserver.local"},
	{"192.168.100.12", "aa:bb:cc:00:00:12", "mailserver.local"},
	{"192.168.100.20", "aa:bb:cc:00:00:20", "desktop-01.local"},
	{"192.168.100.21", "aa:bb:cc:00:00:21", "desktop-02.local"},
	{"192.168.100.22", "aa:bb:cc:00:00:22", "desktop-03.local"},
	{"192.168.100.23", "aa:bb:cc:00:00:23", "desktop-04.local"},
	{"192.168.100.30", "aa:bb:cc:00:00:30", "laptop-01.local"},
	{"192.168.100.31", "aa:bb:cc:00:00:31", "laptop-02.local"},
	{"192.168.100.32", "aa:bb:cc:00:00:32", ""},
	{"192.168.100.40", "aa:bb:cc:00:00:40", "printer-floor1.local"},
	{"192.168.100.41", "aa:bb:cc:00:00:41", "printer-floor2.local"},
	{"192.168.100.50", "aa:bb:cc:00:00:50", "nas.local"},
	{"192.168.100.60", "aa:bb:cc:00:00:60", "camera-front.local"},
	{"192.168.100.61", "aa:bb:cc:00:00:61", "camera-rear.local"},
	{"192.168.100.70", "aa:bb:cc:00:00:70", "thermostat.local"},
	{"192.168.100.80", "aa:bb:cc:00:00:80", "tv-livingroom.local"},
	{"192.168.100.90", "aa:bb:cc:00:00:90", ""},
	{"192.168.100.100", "aa:bb:cc:00:01:00", "phone-01.local"},
	{"192.168.100.101", "aa:bb:cc:00:01:01", "phone-02.local"},
	{"192.168.101.5", "aa:bb:cc:01:00:05", "lab-switch.local"},
	{"192.168.102.7", "aa:bb:cc:02:00:07", "guest-ap.local"},
}

// MockProber returns the fixed development topology for any CIDR. Useful
// for running the full daemon without network access or privileges.
type MockProber struct{}

// NewMockProber returns the fixture-backed prober.
func NewMockProber() *MockProber {
	return &MockProber{}
}

// Discover returns the mock topology regardless of the requested network.
func (p *MockProber) Discover(ctx context.Context, cidr string, timeout time.Duration) ([]Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hosts := make([]Host, 0, len(mockTopology))
	for _, m := range mockTopology {
		h := Host{IP: m.ip, MAC: m.mac}
		if m.hostname != "" {
			name := m.hostname
			h.Hostname = &name
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}
