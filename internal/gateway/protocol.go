// Package gateway implements the unix-socket request protocol: one JSON
// request per connection, a JSON response, then close. Requests are
// validated, rate limited per client, audited, and dispatched against the
// store and the scan orchestrator.
package gateway

import "encoding/json"

// Command names form a closed set; anything else is rejected as unknown.
type Command string

const (
	CmdScan           Command = "scan"
	CmdScanMultiple   Command = "scan_multiple"
	CmdCancelScan     Command = "cancel_scan"
	CmdNmap           Command = "nmap"
	CmdGetResults     Command = "get_results"
	CmdGetNmapHistory Command = "get_nmap_history"
	CmdListHistory    Command = "list_history"
	CmdCompareScans   Command = "compare_scans"
	CmdGetStats       Command = "get_stats"
	CmdGetTimeline    Command = "get_timeline"
	CmdAddDeviceTag   Command = "add_device_tag"
	CmdGetDeviceTags  Command = "get_device_tags"
	CmdScheduleScan   Command = "schedule_scan"
	CmdBackupDatabase Command = "backup_database"
)

// knownCommands guards dispatch; order matches the protocol table.
var knownCommands = map[Command]bool{
	CmdScan:           true,
	CmdScanMultiple:   true,
	CmdCancelScan:     true,
	CmdNmap:           true,
	CmdGetResults:     true,
	CmdGetNmapHistory: true,
	CmdListHistory:    true,
	CmdCompareScans:   true,
	CmdGetStats:       true,
	CmdGetTimeline:    true,
	CmdAddDeviceTag:   true,
	CmdGetDeviceTags:  true,
	CmdScheduleScan:   true,
	CmdBackupDatabase: true,
}

// envelope is the first-pass decode of any request: the command name, the
// client identity for rate limiting, and the untouched raw payload for the
// second, command-specific decode.
type envelope struct {
	Cmd      Command `json:"cmd"`
	ClientID string  `json:"client_id"`

	raw json.RawMessage
}

// DefaultClientID is assumed when a request carries no client identity.
// Connections over the local socket are all one caller unless they say
// otherwise.
const DefaultClientID = "local"

// Per-command request payloads.

type scanRequest struct {
	CIDR string `json:"cidr" validate:"required,cidr4"`
}

type scanMultipleRequest struct {
	CIDRs []string `json:"cidrs" validate:"required,min=1,dive,cidr4"`
}

type cancelScanRequest struct {
	ScanID string `json:"scan_id" validate:"required"`
}

type nmapRequest struct {
	IP    string `json:"ip" validate:"required,ip4"`
	Ports string `json:"ports" validate:"omitempty,portrange"`
}

type getResultsRequest struct {
	ScanID string `json:"scan_id" validate:"required"`
}

type getNmapHistoryRequest struct {
	IP    string `json:"ip" validate:"required,ip4"`
	Limit int    `json:"limit" validate:"omitempty,gt=0"`
}

type listHistoryRequest struct {
	Limit int `json:"limit" validate:"omitempty,gt=0"`
}

type compareScansRequest struct {
	ScanID1 string `json:"scan_id1" validate:"required"`
	ScanID2 string `json:"scan_id2" validate:"required"`
}

type getTimelineRequest struct {
	IP   string `json:"ip" validate:"required,ip4"`
	Days int    `json:"days" validate:"omitempty,gt=0"`
}

type addDeviceTagRequest struct {
	IP  string `json:"ip" validate:"required,ip4"`
	Tag string `json:"tag" validate:"required"`
}

type getDeviceTagsRequest struct {
	IP string `json:"ip" validate:"required,ip4"`
}

type scheduleScanRequest struct {
	CIDR     string `json:"cidr" validate:"required,cidr4"`
	Schedule string `json:"schedule" validate:"required"`
}

type backupDatabaseRequest struct {
	Path string `json:"path" validate:"required"`
}

// Response helpers. Success payloads are open maps so each command shapes
// its own fields; errors are always {status, message}.

type response map[string]any

func okResponse(fields response) response {
	out := response{"status": "ok"}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func startedResponse(scanID string) response {
	return response{"status": "started", "scan_id": scanID}
}

func errorResponse(message string) response {
	return response{"status": "error", "message": message}
}
