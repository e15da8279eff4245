package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"

	"github.com/netmapper/netmapper/internal/config"
	"github.com/netmapper/netmapper/internal/db"
	"github.com/netmapper/netmapper/internal/logging"
	"github.com/netmapper/netmapper/internal/metrics"
	"github.com/netmapper/netmapper/internal/probe"
	"github.com/netmapper/netmapper/internal/scan"
	"github.com/netmapper/netmapper/internal/subnet"
)

const (
	socketPerm     = 0o660
	socketDevPerm  = 0o666
	connDeadline   = 30 * time.Second
	acquireTimeout = 5 * time.Second
)

// Server accepts protocol connections on a unix socket. Concurrency is
// bounded by a weighted semaphore rather than a thread per connection;
// when all slots are busy a new connection waits briefly, then is dropped.
type Server struct {
	cfg        config.GatewayConfig
	socketPath string
	devMode    bool

	store        *db.DB
	orchestrator *scan.Orchestrator
	portScanner  *probe.PortScanner
	limiter      *RateLimiter
	validate     *validator.Validate
	sem          *semaphore.Weighted
	metrics      *metrics.Metrics
	logger       *logging.Logger

	listener net.Listener
	connWg   sync.WaitGroup
}

// New wires a gateway server. Call Start to bind and serve.
func New(cfg *config.Config, store *db.DB, orchestrator *scan.Orchestrator,
	portScanner *probe.PortScanner, m *metrics.Metrics, logger *logging.Logger) *Server {
	return &Server{
		cfg:          cfg.Gateway,
		socketPath:   cfg.Daemon.SocketPath,
		devMode:      cfg.Daemon.DevMode,
		store:        store,
		orchestrator: orchestrator,
		portScanner:  portScanner,
		limiter:      NewRateLimiter(cfg.Gateway.RateLimitRequests, cfg.Gateway.RateLimitWindow),
		validate:     newValidator(),
		sem:          semaphore.NewWeighted(cfg.Gateway.MaxConnections),
		metrics:      m,
		logger:       logger.WithComponent("gateway"),
	}
}

// newValidator builds the request validator with the protocol's address
// rules registered.
func newValidator() *validator.Validate {
	v := validator.New()

	_ = v.RegisterValidation("cidr4", func(fl validator.FieldLevel) bool {
		return subnet.Validate(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("ip4", func(fl validator.FieldLevel) bool {
		ip := net.ParseIP(fl.Field().String())
		return ip != nil && ip.To4() != nil
	})

	portRangePattern := regexp.MustCompile(`^\d{1,5}(-\d{1,5})?(,\d{1,5}(-\d{1,5})?)*$`)
	_ = v.RegisterValidation("portrange", func(fl validator.FieldLevel) bool {
		return portRangePattern.MatchString(fl.Field().String())
	})

	return v
}

// Start binds the socket and serves until the context is canceled. Bind
// failure is fatal to the daemon; everything after that is contained
// per-connection.
func (s *Server) Start(ctx context.Context) error {
	if err := s.removeStaleSocket(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to bind socket %s: %w", s.socketPath, err)
	}
	s.listener = listener

	perm := os.FileMode(socketPerm)
	if s.devMode {
		perm = socketDevPerm
	}
	if err := os.Chmod(s.socketPath, perm); err != nil {
		s.logger.Warn("could not set socket permissions", "path", s.socketPath, "error", err)
	}

	s.logger.Info("gateway listening", "socket", s.socketPath, "dev_mode", s.devMode)

	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener, waits for in-flight connections, and removes
// the socket file.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.connWg.Wait()
	_ = os.Remove(s.socketPath)
	s.logger.Info("gateway stopped")
}

func (s *Server) removeStaleSocket() error {
	if _, err := os.Stat(s.socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	// A leftover socket from a previous run; refuse to remove it if
	// something is still answering.
	if conn, err := net.DialTimeout("unix", s.socketPath, time.Second); err == nil {
		_ = conn.Close()
		return fmt.Errorf("socket %s is already in use", s.socketPath)
	}
	return os.Remove(s.socketPath)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
		err = s.sem.Acquire(acquireCtx, 1)
		cancel()
		if err != nil {
			s.metrics.GatewayRejected("overloaded")
			s.logger.Warn("connection dropped, gateway at capacity")
			_ = conn.Close()
			continue
		}

		s.connWg.Add(1)
		s.metrics.ConnectionOpened()
		go func(c net.Conn) {
			defer s.connWg.Done()
			defer s.sem.Release(1)
			defer s.metrics.ConnectionClosed()
			defer func() { _ = c.Close() }()
			s.handleConn(ctx, c)
		}(conn)
	}
}

// handleConn services one request/response exchange.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	env, err := s.readRequest(conn)
	if err != nil {
		s.metrics.GatewayRejected("malformed")
		s.audit(ctx, db.AuditActionValidationFailed, "invalid JSON", DefaultClientID)
		s.writeResponse(conn, errorResponse("Invalid JSON"))
		return
	}

	resp := s.dispatch(ctx, env)
	s.writeResponse(conn, resp)
}

// readRequest reads one newline-terminated JSON object. Clients that send
// a bare object and shut down their write side work too.
func (s *Server) readRequest(conn net.Conn) (*envelope, error) {
	reader := bufio.NewReader(io.LimitReader(conn, s.cfg.MaxRequestBytes))
	raw, err := reader.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(raw) > 0) {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.ClientID == "" {
		env.ClientID = DefaultClientID
	}
	env.raw = raw
	return &env, nil
}

func (s *Server) writeResponse(conn net.Conn, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// audit records one request-trail entry. Audit failures never affect the
// request outcome.
func (s *Server) audit(ctx context.Context, action, details, clientID string) {
	if err := s.store.AppendAudit(ctx, action, details, clientID); err != nil {
		s.logger.Error("audit write failed", "action", action, "error", err)
	}
}
