package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/radio-control/controlplane/internal/adapter"
	"github.com/radio-control/controlplane/internal/audit"
	"github.com/radio-control/controlplane/internal/auth"
	"github.com/radio-control/controlplane/internal/config"
	"github.com/radio-control/controlplane/internal/logging"
)

// Version is reported by health and capabilities.
const Version = "1.0.0"

// Server is the HTTP gateway.
type Server struct {
	cfg          config.ServerConfig
	httpServer   *http.Server
	telemetry    TelemetryPort
	orchestrator OrchestratorPort
	radios       RadioReadPort
	auditLog     audit.Querier
	auth         *auth.Middleware
	log          *logging.Logger
	startTime    time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithAuth protects every route except health with m.
func WithAuth(m *auth.Middleware) Option {
	return func(s *Server) { s.auth = m }
}

// WithAuditQuerier enables GET /audit.
func WithAuditQuerier(q audit.Querier) Option {
	return func(s *Server) { s.auditLog = q }
}

// WithLogger sets the access and error logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l.Component("api")
		}
	}
}

// NewServer creates the gateway.
func NewServer(cfg config.ServerConfig, telemetry TelemetryPort, orchestrator OrchestratorPort, radios RadioReadPort, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		telemetry:    telemetry,
		orchestrator: orchestrator,
		radios:       radios,
		log:          logging.Discard(),
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.instrument(mux)
}

// Start serves on the configured address until Stop.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.log.Info("listening", logging.Fields{"addr": s.cfg.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests, bounded by the configured shutdown
// timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// instrument assigns correlation ids, recovers panics and logs each
// request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		r = r.WithContext(withCorrelationID(r.Context(), id))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("handler panic", logging.Fields{"path": r.URL.Path, "panic": p, "correlationId": id})
				if !rec.wrote {
					WriteError(rec, r, adapter.New(adapter.CodeInternal, ""))
				}
			}
			s.log.Debug("request", logging.Fields{
				"method":        r.Method,
				"path":          r.URL.Path,
				"status":        rec.status,
				"durationMs":    time.Since(start).Milliseconds(),
				"correlationId": id,
			})
		}()

		next.ServeHTTP(rec, r)
	})
}

// statusRecorder keeps the status code while passing through flushing,
// hijacking and deadline control for the streaming transports.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	r.wrote = true
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
