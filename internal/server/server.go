package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gatewayproxy/internal/auth"
	"gatewayproxy/internal/composite"
	"gatewayproxy/internal/forwarder"
	"gatewayproxy/internal/observability/logging"
	"gatewayproxy/internal/observability/metrics"
	"gatewayproxy/internal/registry"
	"gatewayproxy/internal/trafficlog"
)

// CompositeLookup is the subset of *registry.Registry the server needs to
// resolve composite endpoint names.
type CompositeLookup interface {
	GetComposite(name string) (registry.CompositeDefinition, bool)
}

// EnvironmentLookup mirrors forwarder.EnvironmentAllower so the server
// package doesn't need to import forwarder just for this check.
type EnvironmentLookup interface {
	IsAllowed(env string) bool
}

// Config bundles everything New needs to assemble the gateway's HTTP
// surface: transport settings plus the already-constructed collaborators
// each request is routed through.
type Config struct {
	Addr        string
	TLSCertFile string
	TLSKeyFile  string

	ServerName string
	Logger     *slog.Logger
	Metrics    *metrics.Recorder

	Registry     CompositeLookup
	Environments EnvironmentLookup
	Forwarder    *forwarder.Forwarder
	Orchestrator *composite.Orchestrator
	Verifier     auth.Verifier
	TrafficLog   *trafficlog.Sink

	RateLimit               RateLimitConfig
	TrustForwardedHeaders   bool
	TrustedProxies          []string
	CaptureRequestBodies    bool
	CaptureResponseBodies   bool
	MaxBodyCaptureSizeBytes int
}

// Server is the gateway's HTTP listener: one mux wired through a fixed
// middleware chain to the forwarder, orchestrator, and traffic log sink.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	registry       CompositeLookup
	environments   EnvironmentLookup
	forwarder      *forwarder.Forwarder
	orchestrator   *composite.Orchestrator
	trafficLogSink *trafficlog.Sink

	ipResolver *clientIPResolver

	captureRequestBodies  bool
	captureResponseBodies bool
	maxBodyCaptureSize    int

	tlsCertFile string
	tlsKeyFile  string
}

// New wires the mux and middleware chain for cfg's collaborators.
func New(cfg Config) (*Server, error) {
	if cfg.Forwarder == nil {
		return nil, fmt.Errorf("server: forwarder is required")
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("server: orchestrator is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("server: registry is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("server: verifier is required")
	}
	if cfg.TrafficLog == nil {
		return nil, fmt.Errorf("server: traffic log sink is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Init(logging.Config{})
	}

	ipResolver, err := newClientIPResolver(cfg.TrustForwardedHeaders, cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	maxCapture := cfg.MaxBodyCaptureSizeBytes
	if maxCapture <= 0 {
		maxCapture = 64 * 1024
	}

	s := &Server{
		logger:                logger,
		registry:              cfg.Registry,
		environments:          cfg.Environments,
		forwarder:             cfg.Forwarder,
		orchestrator:          cfg.Orchestrator,
		trafficLogSink:        cfg.TrafficLog,
		ipResolver:            ipResolver,
		captureRequestBodies:  cfg.CaptureRequestBodies,
		captureResponseBodies: cfg.CaptureResponseBodies,
		maxBodyCaptureSize:    maxCapture,
		tlsCertFile:           cfg.TLSCertFile,
		tlsKeyFile:            cfg.TLSKeyFile,
	}

	limiter := newRateLimiter(cfg.RateLimit)

	// Only the /api/ surface requires a bearer token; health, readiness, and
	// metrics stay reachable for infrastructure probes and scrapers.
	authedAPI := authMiddleware(cfg.Verifier, http.HandlerFunc(s.apiRouter))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics.Handler())
	}
	mux.Handle("/api/", authedAPI)

	var chain http.Handler = mux
	chain = metrics.HTTPMiddleware(cfg.Metrics, chain)
	chain = logging.RequestLogger(logging.RequestLoggerConfig{
		Logger: logger,
		AdditionalFields: func(r *http.Request, status int, duration time.Duration) []any {
			ip, ipSource := resolveClientIP(r, ipResolver)
			return []any{"client_ip", ip, "client_ip_source", ipSource}
		},
	})(chain)
	chain = rateLimitMiddleware(limiter, chain)
	chain = recoverMiddleware(logger, chain)
	chain = requestIDMiddleware(logger, chain)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

func (s *Server) trafficLog() *trafficlog.Sink {
	return s.trafficLogSink
}

// HTTPServer returns the underlying *http.Server so the caller can drive it
// through serverutil.Run, which owns the listener, optional TLS wrapping,
// and signal-triggered graceful shutdown.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// TLSFiles returns the configured certificate and key paths, empty when TLS
// is disabled.
func (s *Server) TLSFiles() (certFile, keyFile string) {
	return s.tlsCertFile, s.tlsKeyFile
}

// DrainOnShutdown flushes and closes the traffic log sink. It is meant to be
// passed as serverutil.Config.OnShutdown, running after the HTTP listener
// has already stopped accepting connections.
func (s *Server) DrainOnShutdown(ctx context.Context) error {
	return s.trafficLogSink.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func traceIDFromRequest(r *http.Request) string {
	if id, ok := logging.TraceIDFromContext(r.Context()); ok {
		return id
	}
	return ""
}
