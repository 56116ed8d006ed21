package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"learnhub-media/internal/api"
	"learnhub-media/internal/auth"
	"learnhub-media/internal/observability/logging"
	"learnhub-media/internal/observability/metrics"
	"learnhub-media/internal/serverutil"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr        string
	TLS         TLSConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Security    SecurityConfig
	Logger      *slog.Logger
	AuditLogger *slog.Logger
	Metrics     *metrics.Recorder
	// Verifier validates bearer tokens. Without one every request is
	// anonymous.
	Verifier *auth.Verifier
	// WriteTimeout bounds a whole response. Uploads and streams of large
	// files need far more than the API default.
	WriteTimeout time.Duration
}

type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	logger      *slog.Logger
	metrics     *metrics.Recorder
	tlsCertFile string
	tlsKeyFile  string
}

const defaultWriteTimeout = 30 * time.Minute

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	cors, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Handle("/metrics", recorder.Handler()).Methods(http.MethodGet)
	handler.Register(router)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, http.StatusNotFound, fmt.Errorf("route %s not found", r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	})

	rl := newRateLimiter(cfg.RateLimit)
	chain := http.Handler(router)
	chain = authMiddleware(cfg.Verifier, logger, chain)
	chain = rateLimitMiddleware(rl, logger, chain)
	chain = corsMiddleware(cors, logger, chain)
	chain = securityHeadersMiddleware(cfg.Security, chain)
	chain = auditMiddleware(cfg.AuditLogger, chain)
	chain = metrics.HTTPMiddleware(recorder, chain)
	chain = logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:            logger,
		DisableRemoteAddr: true,
		AdditionalFields: func(r *http.Request, _ int, _ time.Duration) []any {
			return []any{"remote_ip", extractClientIP(r)}
		},
	})(chain)
	chain = requestIDMiddleware(logger, chain)

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		handler:     chain,
		logger:      logger,
		metrics:     recorder,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}
	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return srv, nil
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains connections and runs the
// shutdown hooks.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration, onShutdown ...func(context.Context) error) error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             serverutil.TLSConfig{CertFile: s.tlsCertFile, KeyFile: s.tlsKeyFile},
		ShutdownTimeout: shutdownTimeout,
		OnShutdown:      onShutdown,
		Logger:          s.logger,
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func auditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rr := metrics.NewResponseRecorder(w)
		start := time.Now()
		// Auth runs further down the chain, so the principal is published
		// back through this holder.
		holder := &principalHolder{}
		next.ServeHTTP(rr, r.WithContext(context.WithValue(r.Context(), principalHolderKey{}, holder)))
		if !shouldAudit(r) {
			return
		}
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rr.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_ip", extractClientIP(r),
		}
		if requestID, ok := logging.RequestIDFromContext(r.Context()); ok {
			fields = append(fields, "request_id", requestID)
		}
		if holder.set {
			fields = append(fields, "user_id", holder.principal.UserID)
		}
		logger.Info("audit", fields...)
	})
}

type principalHolderKey struct{}

type principalHolder struct {
	principal auth.Principal
	set       bool
}

func publishPrincipal(ctx context.Context, principal auth.Principal) {
	if holder, ok := ctx.Value(principalHolderKey{}).(*principalHolder); ok {
		holder.principal = principal
		holder.set = true
	}
}

func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
