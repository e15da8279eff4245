package probe

import (
	"context"
	"encoding/xml"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/netmapper/netmapper/internal/logging"
)

// DefaultPortRange is scanned when a request names no ports.
const DefaultPortRange = "1-1024"

// PortScanResult carries the outcome of one single-host port scan. Ports
// holds "port/proto" entries and Services the matching service names, open
// ports only. RawXML always holds a document: either the nmap run
// re-encoded, or an <error>...</error> marker describing the failure.
// Port-scan failures are reported in-band this way rather than as errors so
// callers always get a storable record.
type PortScanResult struct {
	IP       string   `json:"ip"`
	Ports    []string `json:"ports"`
	Services []string `json:"services"`
	RawXML   string   `json:"raw_xml"`
	Failed   bool     `json:"failed"`
}

// PortsString renders the open port list as a comma-joined column value.
func (r *PortScanResult) PortsString() string {
	return strings.Join(r.Ports, ",")
}

// ServicesString renders the service list as a comma-joined column value.
func (r *PortScanResult) ServicesString() string {
	return strings.Join(r.Services, ",")
}

// PortScanner runs SYN scans of single hosts through the system nmap
// binary.
type PortScanner struct {
	logger       *logging.Logger
	timeout      time.Duration
	defaultPorts string
}

// NewPortScanner returns a scanner with the given per-run timeout. The port
// range is used when a scan request names no ports; an empty range falls
// back to DefaultPortRange.
func NewPortScanner(logger *logging.Logger, timeout time.Duration, defaultPorts string) *PortScanner {
	if defaultPorts == "" {
		defaultPorts = DefaultPortRange
	}
	return &PortScanner{
		logger:       logger.WithComponent("portscan"),
		timeout:      timeout,
		defaultPorts: defaultPorts,
	}
}

// Scan probes one IP across a port range ("1-1024", "80,443", ...).
func (s *PortScanner) Scan(ctx context.Context, ip, ports string) *PortScanResult {
	if ports == "" {
		ports = s.defaultPorts
	}
	res := &PortScanResult{IP: ip, Ports: []string{}, Services: []string{}}

	if _, err := exec.LookPath("nmap"); err != nil {
		res.Failed = true
		res.RawXML = errorDocument("Nmap not found. Please install nmap.")
		return res
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(scanCtx,
		nmap.WithTargets(ip),
		nmap.WithPorts(ports),
		nmap.WithSYNScan(),
		nmap.WithSkipHostDiscovery(),
	)
	if err != nil {
		res.Failed = true
		res.RawXML = errorDocument(fmt.Sprintf("Nmap error: %v", err))
		return res
	}

	run, warnings, err := scanner.Run()
	if scanCtx.Err() == context.DeadlineExceeded {
		res.Failed = true
		res.RawXML = errorDocument("Nmap scan timed out")
		return res
	}
	if err != nil {
		res.Failed = true
		res.RawXML = errorDocument(fmt.Sprintf("Nmap failed: %v", err))
		return res
	}
	if warnings != nil && len(*warnings) > 0 {
		s.logger.Warn("port scan completed with warnings", "ip", ip, "warnings", *warnings)
	}

	for i := range run.Hosts {
		for _, p := range run.Hosts[i].Ports {
			if p.State.State != "open" {
				continue
			}
			res.Ports = append(res.Ports, fmt.Sprintf("%d/%s", p.ID, p.Protocol))
			svc := p.Service.Name
			if svc == "" {
				svc = "unknown"
			}
			res.Services = append(res.Services, svc)
		}
	}

	if raw, err := xml.Marshal(run); err == nil {
		res.RawXML = xml.Header + string(raw)
	} else {
		res.RawXML = errorDocument(fmt.Sprintf("Nmap error: %v", err))
	}

	s.logger.Info("port scan finished", "ip", ip, "open_ports", len(res.Ports))
	return res
}

func errorDocument(msg string) string {
	var buf struct {
		XMLName xml.Name `xml:"error"`
		Message string   `xml:",chardata"`
	}
	buf.Message = msg
	b, err := xml.Marshal(buf)
	if err != nil {
		return "<error>" + msg + "</error>"
	}
	return string(b)
}
