package db

import (
	"time"
)

// Scan represents one completed (or in-flight) discovery operation.
// Host rows accumulate against it asynchronously; a scan row only becomes
// visible once its background work finishes, so callers polling for results
// may see nothing until the write-through lands.
type Scan struct {
	ID        string `db:"id" json:"scan_id"`
	CIDR      string `db:"cidr" json:"cidr"`
	Timestamp int64  `db:"ts" json:"timestamp"`
	HostCount int    `db:"host_count" json:"host_count"`
}

// Host represents one discovered device at a point in time. Rows are
// immutable once written; a re-scan produces new rows tied to a new scan.
type Host struct {
	ID       int64   `db:"id" json:"-"`
	ScanID   string  `db:"scan_id" json:"-"`
	IP       string  `db:"ip" json:"ip"`
	MAC      string  `db:"mac" json:"mac"`
	Hostname *string `db:"hostname" json:"hostname"`
	Vendor   *string `db:"vendor" json:"vendor"`
}

// PortScanRecord represents one nmap-style port probe of a single IP.
// Ports and services are comma-joined "port/proto" and service strings for
// open ports only; RawOutput carries the diagnostic XML document.
type PortScanRecord struct {
	ID        int64  `db:"id" json:"-"`
	IP        string `db:"ip" json:"ip"`
	Timestamp int64  `db:"ts" json:"timestamp"`
	Ports     string `db:"ports" json:"ports"`
	Services  string `db:"services" json:"services"`
	RawOutput string `db:"raw_output" json:"raw_output,omitempty"`
}

// DeviceTag is a user-assigned label on an IP. Append-only; many tags per
// IP are allowed.
type DeviceTag struct {
	ID        int64  `db:"id" json:"-"`
	IP        string `db:"ip" json:"ip"`
	Tag       string `db:"tag" json:"tag"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// ScanSchedule is a recurring-scan declaration. The core registers
// schedules but does not execute them.
type ScanSchedule struct {
	ID        int64  `db:"id" json:"-"`
	CIDR      string `db:"cidr" json:"cidr"`
	Schedule  string `db:"schedule" json:"schedule"`
	Enabled   bool   `db:"enabled" json:"enabled"`
	LastRun   *int64 `db:"last_run" json:"last_run"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// AuditRecord is one append-only entry in the request audit trail.
type AuditRecord struct {
	ID        int64  `db:"id" json:"-"`
	Timestamp int64  `db:"ts" json:"timestamp"`
	Action    string `db:"action" json:"action"`
	Details   string `db:"details" json:"details"`
	ClientID  string `db:"client_id" json:"client_id"`
}

// Audit action tags.
const (
	AuditActionRequest           = "request"
	AuditActionValidationFailed  = "validation_failed"
	AuditActionRateLimitExceeded = "rate_limit_exceeded"
	AuditActionUnknownCommand    = "unknown_command"
	AuditActionRetentionSweep    = "retention_sweep"
)

// FieldChange records an old/new pair for one changed host field.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// HostChange describes a host present in both compared scans whose
// attributes differ.
type HostChange struct {
	IP     string                 `json:"ip"`
	Fields map[string]FieldChange `json:"fields"`
}

// ScanComparison is the result of diffing two scans by host IP. Every IP
// appearing in either scan lands in exactly one of the four buckets.
type ScanComparison struct {
	New         []Host       `json:"new"`
	Disappeared []Host       `json:"disappeared"`
	Changed     []HostChange `json:"changed"`
	Unchanged   []Host       `json:"unchanged"`
}

// TimelineEntry is one sighting of an IP within the timeline window.
type TimelineEntry struct {
	ScanID    string  `db:"scan_id" json:"scan_id"`
	Timestamp int64   `db:"ts" json:"timestamp"`
	MAC       string  `db:"mac" json:"mac"`
	Hostname  *string `db:"hostname" json:"hostname"`
	Vendor    *string `db:"vendor" json:"vendor"`
}

// VendorCount is one entry of the top-vendors statistic.
type VendorCount struct {
	Vendor string `db:"vendor" json:"vendor"`
	Count  int    `db:"count" json:"count"`
}

// Stats aggregates store-wide statistics.
type Stats struct {
	TotalScans     int           `json:"total_scans"`
	UniqueHosts    int           `json:"unique_host_count"`
	TotalPortScans int           `json:"total_port_scans"`
	OldestScanTS   *int64        `json:"oldest_scan_ts"`
	NewestScanTS   *int64        `json:"newest_scan_ts"`
	TopVendors     []VendorCount `json:"top_10_vendors_by_distinct_ip"`
}

// NowUnix returns the current time as epoch seconds. Wrapped so tests can
// pin timestamps.
func NowUnix() int64 {
	return time.Now().Unix()
}
