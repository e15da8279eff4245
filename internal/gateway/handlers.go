package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/netmapper/netmapper/internal/db"
)

// Default request parameters.
const (
	defaultHistoryLimit  = 10
	defaultTimelineDays  = 30
	defaultNmapHistLimit = 10
)

// dispatch routes one validated envelope to its handler. Rate limiting and
// the audit trail happen here so no handler can be reached without them.
// The limiter runs first: unknown commands count against a client's budget
// too, so spamming bogus command names cannot bypass it.
func (s *Server) dispatch(ctx context.Context, env *envelope) response {
	if !s.limiter.Allow(env.ClientID) {
		s.metrics.GatewayRejected("rate_limited")
		s.audit(ctx, db.AuditActionRateLimitExceeded, string(env.Cmd), env.ClientID)
		s.logger.Warn("rate limit exceeded", "client_id", env.ClientID, "cmd", env.Cmd)
		return errorResponse("Rate limit exceeded, try again later")
	}

	if !knownCommands[env.Cmd] {
		s.metrics.GatewayRejected("unknown_command")
		s.audit(ctx, db.AuditActionUnknownCommand, string(env.Cmd), env.ClientID)
		return errorResponse(fmt.Sprintf("Unknown command: %s", env.Cmd))
	}

	s.audit(ctx, db.AuditActionRequest, string(env.Cmd), env.ClientID)

	resp := s.handle(ctx, env)
	status := "ok"
	if resp["status"] == "error" {
		status = "error"
	}
	s.metrics.GatewayRequest(string(env.Cmd), status)
	return resp
}

func (s *Server) handle(ctx context.Context, env *envelope) response {
	switch env.Cmd {
	case CmdScan:
		return s.handleScan(ctx, env)
	case CmdScanMultiple:
		return s.handleScanMultiple(ctx, env)
	case CmdCancelScan:
		return s.handleCancelScan(ctx, env)
	case CmdNmap:
		return s.handleNmap(ctx, env)
	case CmdGetResults:
		return s.handleGetResults(ctx, env)
	case CmdGetNmapHistory:
		return s.handleGetNmapHistory(ctx, env)
	case CmdListHistory:
		return s.handleListHistory(ctx, env)
	case CmdCompareScans:
		return s.handleCompareScans(ctx, env)
	case CmdGetStats:
		return s.handleGetStats(ctx)
	case CmdGetTimeline:
		return s.handleGetTimeline(ctx, env)
	case CmdAddDeviceTag:
		return s.handleAddDeviceTag(ctx, env)
	case CmdGetDeviceTags:
		return s.handleGetDeviceTags(ctx, env)
	case CmdScheduleScan:
		return s.handleScheduleScan(ctx, env)
	case CmdBackupDatabase:
		return s.handleBackupDatabase(ctx, env)
	default:
		return errorResponse(fmt.Sprintf("Unknown command: %s", env.Cmd))
	}
}

// decode unmarshals and validates one command payload. A nil response means
// the payload is good.
func (s *Server) decode(ctx context.Context, env *envelope, req any) response {
	if err := json.Unmarshal(env.raw, req); err != nil {
		s.audit(ctx, db.AuditActionValidationFailed, string(env.Cmd), env.ClientID)
		return errorResponse("Invalid JSON")
	}
	if err := s.validate.Struct(req); err != nil {
		s.audit(ctx, db.AuditActionValidationFailed, string(env.Cmd), env.ClientID)
		return errorResponse(fmt.Sprintf("Invalid request: %v", err))
	}
	return nil
}

func (s *Server) handleScan(ctx context.Context, env *envelope) response {
	var req scanRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}

	scanID, err := s.orchestrator.StartScan(req.CIDR)
	if err != nil {
		return errorResponse(err.Error())
	}
	return startedResponse(scanID)
}

func (s *Server) handleScanMultiple(ctx context.Context, env *envelope) response {
	var req scanMultipleRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}

	scanID, err := s.orchestrator.StartMultiScan(req.CIDRs)
	if err != nil {
		return errorResponse(err.Error())
	}
	return startedResponse(scanID)
}

// handleCancelScan accepts the request without acting on it. In-flight
// sweeps run to completion or timeout; the command exists so clients can
// stop polling cleanly.
func (s *Server) handleCancelScan(ctx context.Context, env *envelope) response {
	var req cancelScanRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}
	return okResponse(response{"scan_id": req.ScanID, "note": "scan not interrupted; in-flight probes run to completion"})
}

func (s *Server) handleNmap(ctx context.Context, env *envelope) response {
	var req nmapRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}

	result := s.portScanner.Scan(ctx, req.IP, req.Ports)
	if !result.Failed {
		rec := &db.PortScanRecord{
			IP:        req.IP,
			Timestamp: db.NowUnix(),
			Ports:     result.PortsString(),
			Services:  result.ServicesString(),
			RawOutput: result.RawXML,
		}
		if err := s.store.SavePortScan(ctx, rec); err != nil {
			s.logger.Error("failed to persist port scan", "ip", req.IP, "error", err)
		}
	}
	return okResponse(response{"nmap_xml": result.RawXML})
}

func (s *Server) handleGetResults(ctx context.Context, env *envelope) response {
	var req getResultsRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}

	hosts, err := s.store.GetScanResults(ctx, req.ScanID)
	if err != nil {
		s.logger.Error("get_results query failed", "scan_id", req.ScanID, "error", err)
		hosts = []db.Host{}
	}
	return okResponse(response{"results": hosts})
}

func (s *Server) handleGetNmapHistory(ctx context.Context, env *envelope) response {
	var req getNmapHistoryRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}
	if req.Limit == 0 {
		req.Limit = defaultNmapHistLimit
	}

	history, err := s.store.GetPortScanHistory(ctx, req.IP, req.Limit)
	if err != nil {
		s.logger.Error("get_nmap_history query failed", "ip", req.IP, "error", err)
		history = []db.PortScanRecord{}
	}
	return okResponse(response{"history": history})
}

func (s *Server) handleListHistory(ctx context.Context, env *envelope) response {
	var req listHistoryRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}
	if req.Limit == 0 {
		req.Limit = defaultHistoryLimit
	}

	history, err := s.store.ListScanHistory(ctx, req.Limit)
	if err != nil {
		s.logger.Error("list_history query failed", "error", err)
		history = []db.Scan{}
	}
	return okResponse(response{"history": history})
}

func (s *Server) handleCompareScans(ctx context.Context, env *envelope) response {
	var req compareScansRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}

	comparison, err := s.store.CompareScans(ctx, req.ScanID1, req.ScanID2)
	if err != nil {
		return errorResponse(err.Error())
	}
	return okResponse(response{"comparison": comparison})
}

func (s *Server) handleGetStats(ctx context.Context) response {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return errorResponse(err.Error())
	}
	return okResponse(response{"stats": stats})
}

func (s *Server) handleGetTimeline(ctx context.Context, env *envelope) response {
	var req getTimelineRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}
	if req.Days == 0 {
		req.Days = defaultTimelineDays
	}

	timeline, err := s.store.GetHostTimeline(ctx, req.IP, req.Days)
	if err != nil {
		s.logger.Error("get_timeline query failed", "ip", req.IP, "error", err)
		timeline = []db.TimelineEntry{}
	}
	return okResponse(response{"timeline": timeline})
}

func (s *Server) handleAddDeviceTag(ctx context.Context, env *envelope) response {
	var req addDeviceTagRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}

	if err := s.store.AddDeviceTag(ctx, req.IP, req.Tag); err != nil {
		return errorResponse(err.Error())
	}
	return okResponse(nil)
}

func (s *Server) handleGetDeviceTags(ctx context.Context, env *envelope) response {
	var req getDeviceTagsRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}

	tags, err := s.store.GetDeviceTags(ctx, req.IP)
	if err != nil {
		s.logger.Error("get_device_tags query failed", "ip", req.IP, "error", err)
		tags = []string{}
	}
	return okResponse(response{"tags": tags})
}

// handleScheduleScan validates the cron expression and registers the
// schedule. Nothing executes schedules; registration is the whole
// operation.
func (s *Server) handleScheduleScan(ctx context.Context, env *envelope) response {
	var req scheduleScanRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}

	if _, err := cron.ParseStandard(req.Schedule); err != nil {
		s.audit(ctx, db.AuditActionValidationFailed, string(env.Cmd), env.ClientID)
		return errorResponse(fmt.Sprintf("Invalid schedule expression: %v", err))
	}

	if err := s.store.SaveSchedule(ctx, req.CIDR, req.Schedule); err != nil {
		return errorResponse(err.Error())
	}
	return okResponse(nil)
}

func (s *Server) handleBackupDatabase(ctx context.Context, env *envelope) response {
	var req backupDatabaseRequest
	if resp := s.decode(ctx, env, &req); resp != nil {
		return resp
	}

	if err := s.store.Backup(ctx, req.Path); err != nil {
		return errorResponse(err.Error())
	}
	return okResponse(response{"path": req.Path})
}
