package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/miekg/dns"

	"github.com/netmapper/netmapper/internal/errors"
	"github.com/netmapper/netmapper/internal/logging"
)

const (
	// Sweeping a /24 takes much longer than the per-host timeout; give the
	// scanner headroom before the context fires.
	sweepTimeoutFactor = 10

	resolvConfPath = "/etc/resolv.conf"
	ptrTimeout     = 2 * time.Second
)

// ARPProber discovers hosts with an nmap ping sweep. On local segments nmap
// falls back to ARP, which also yields MAC addresses. Hostnames come from
// PTR lookups against the system resolver; lookup failures leave the
// hostname nil.
type ARPProber struct {
	logger   *logging.Logger
	resolver *ptrResolver
}

// NewARPProber returns a prober backed by the system nmap binary.
func NewARPProber(logger *logging.Logger) *ARPProber {
	return &ARPProber{
		logger:   logger.WithComponent("probe"),
		resolver: newPTRResolver(),
	}
}

// Discover sweeps one CIDR block and returns the responding hosts.
func (p *ARPProber) Discover(ctx context.Context, cidr string, timeout time.Duration) ([]Host, error) {
	sweepCtx, cancel := context.WithTimeout(ctx, timeout*sweepTimeoutFactor)
	defer cancel()

	options := []nmap.Option{
		nmap.WithTargets(cidr),
		nmap.WithPingScan(),
	}
	if timeout <= 5*time.Second {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingAggressive))
	} else {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
	}

	scanner, err := nmap.NewScanner(sweepCtx, options...)
	if err != nil {
		return nil, errors.WrapProbeError(errors.CodeProbeFailed, "failed to create scanner", cidr, err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, errors.WrapProbeError(errors.CodeProbeFailed, "discovery sweep failed", cidr, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		p.logger.Warn("discovery completed with warnings", "cidr", cidr, "warnings", *warnings)
	}

	hosts := make([]Host, 0, len(result.Hosts))
	for i := range result.Hosts {
		if h := p.convertHost(sweepCtx, &result.Hosts[i]); h != nil {
			hosts = append(hosts, *h)
		}
	}

	p.logger.InfoScan("discovery sweep finished", cidr, "hosts", len(hosts))
	return hosts, nil
}

func (p *ARPProber) convertHost(ctx context.Context, h *nmap.Host) *Host {
	if len(h.Addresses) == 0 || h.Status.State != "up" {
		return nil
	}

	host := &Host{IP: h.Addresses[0].Addr}
	for _, addr := range h.Addresses {
		if addr.AddrType == "mac" {
			host.MAC = strings.ToLower(addr.Addr)
			break
		}
	}

	if len(h.Hostnames) > 0 && h.Hostnames[0].Name != "" {
		name := h.Hostnames[0].Name
		host.Hostname = &name
	} else if name := p.resolver.lookup(ctx, host.IP); name != "" {
		host.Hostname = &name
	}

	return host
}

// ptrResolver performs reverse lookups against the first nameserver from
// resolv.conf. Every failure mode resolves to "".
type ptrResolver struct {
	server string
	client *dns.Client
}

func newPTRResolver() *ptrResolver {
	r := &ptrResolver{client: &dns.Client{Timeout: ptrTimeout}}
	if cfg, err := dns.ClientConfigFromFile(resolvConfPath); err == nil && len(cfg.Servers) > 0 {
		r.server = net.JoinHostPort(cfg.Servers[0], cfg.Port)
	}
	return r
}

func (r *ptrResolver) lookup(ctx context.Context, ip string) string {
	if r.server == "" {
		return ""
	}
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return ""
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil || resp == nil {
		return ""
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}
