// Package subnet implements CIDR partitioning for parallel scans and
// subnet detection over discovered host addresses.
package subnet

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/netmapper/netmapper/internal/errors"
)

const (
	// Networks wider than a /24 are partitioned into /24 blocks so each
	// block is an independently scannable unit.
	partitionPrefix = 24

	// Detection groups hosts by /24 first, then refines to /26 when the
	// coarse pass finds only a single group.
	coarsePrefix = 24
	finePrefix   = 26
)

// Group is one detected subnet with its member count.
type Group struct {
	CIDR      string `json:"cidr"`
	Network   string `json:"network"`
	Broadcast string `json:"broadcast"`
	Size      int    `json:"size"`
	HostCount int    `json:"host_count"`
}

// PartitionCIDR splits a network into /24 scan blocks. A /24 or smaller
// network is returned unchanged as a single block.
func PartitionCIDR(cidr string) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, errors.ErrInvalidCIDR(cidr)
	}
	prefix = prefix.Masked()
	if !prefix.Addr().Is4() {
		return nil, errors.ErrInvalidCIDR(cidr)
	}

	if prefix.Bits() >= partitionPrefix {
		return []string{prefix.String()}, nil
	}

	count := 1 << (partitionPrefix - prefix.Bits())
	blocks := make([]string, 0, count)
	addr := prefix.Addr()
	for i := 0; i < count; i++ {
		block := netip.PrefixFrom(addr, partitionPrefix)
		blocks = append(blocks, block.String())
		addr = nextBlock(addr, partitionPrefix)
	}
	return blocks, nil
}

// DetectSubnets clusters host IPs into inferred subnets. Unparsable
// addresses are skipped. Hosts are grouped by /24; when that yields a
// single group, a /26 pass runs and its result is adopted only if it
// actually separates the hosts into more than one group. Groups are
// returned largest first.
func DetectSubnets(ips []string) []Group {
	addrs := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		addr, err := netip.ParseAddr(ip)
		if err != nil || !addr.Is4() {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return []Group{}
	}

	groups := groupByPrefix(addrs, coarsePrefix)
	if len(groups) == 1 {
		if fine := groupByPrefix(addrs, finePrefix); len(fine) > 1 {
			groups = fine
		}
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].HostCount != groups[j].HostCount {
			return groups[i].HostCount > groups[j].HostCount
		}
		return groups[i].CIDR < groups[j].CIDR
	})
	return groups
}

func groupByPrefix(addrs []netip.Addr, bits int) []Group {
	counts := map[netip.Prefix]int{}
	for _, addr := range addrs {
		p := netip.PrefixFrom(addr, bits).Masked()
		counts[p]++
	}

	groups := make([]Group, 0, len(counts))
	for prefix, count := range counts {
		groups = append(groups, Group{
			CIDR:      prefix.String(),
			Network:   prefix.Addr().String(),
			Broadcast: broadcastAddr(prefix).String(),
			Size:      1 << (32 - prefix.Bits()),
			HostCount: count,
		})
	}
	return groups
}

// nextBlock advances an address to the start of the following block of the
// given prefix length.
func nextBlock(addr netip.Addr, bits int) netip.Addr {
	raw := addr.As4()
	v := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	v += 1 << (32 - bits)
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func broadcastAddr(prefix netip.Prefix) netip.Addr {
	raw := prefix.Addr().As4()
	v := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	v |= (1 << (32 - prefix.Bits())) - 1
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// BlockCount returns how many /24 blocks a network spans, for sizing scan
// worker pools.
func BlockCount(cidr string) (int, error) {
	blocks, err := PartitionCIDR(cidr)
	if err != nil {
		return 0, err
	}
	return len(blocks), nil
}

// Validate checks that a string is a well-formed IPv4 CIDR.
func Validate(cidr string) error {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil || !prefix.Addr().Is4() {
		return errors.ErrInvalidCIDR(cidr)
	}
	return nil
}

// Describe renders a one-line human summary of a group, for CLI output.
func (g Group) Describe() string {
	return fmt.Sprintf("%s (%d hosts of %d addresses)", g.CIDR, g.HostCount, g.Size)
}
