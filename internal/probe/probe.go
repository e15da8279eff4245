// Package probe implements host discovery over one CIDR block and port
// scanning of single hosts. Discovery is abstracted behind the Prober
// interface so the orchestrator can run against real ARP/ping sweeps or the
// fixed mock topology.
package probe

import "context"
import "time"

// Host is one discovered endpoint. Hostname is nil when reverse lookup
// found nothing.
type Host struct {
	IP       string  `json:"ip"`
	MAC      string  `json:"mac"`
	Hostname *string `json:"hostname"`
}

// Prober discovers live hosts on one network block. Implementations must be
// safe for concurrent use: the orchestrator fans one Prober out across
// multiple blocks at once.
type Prober interface {
	Discover(ctx context.Context, cidr string, timeout time.Duration) ([]Host, error)
}
