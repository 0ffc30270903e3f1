// Package server implements the ops HTTP server: health probes, build
// info, the v1 status and run history API, the websocket record stream,
// and an optional token-guarded admin endpoint.
package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/gotempus/internal/errors"
	"github.com/3leaps/gotempus/internal/server/handlers"
	"github.com/3leaps/gotempus/internal/server/middleware"
)

// Admin token environment variables. The admin endpoint is registered
// only when one of them is set at construction time.
const (
	adminTokenEnv       = "GOTEMPUS_ADMIN_TOKEN"
	legacyAdminTokenEnv = "WORKHORSE_ADMIN_TOKEN"
)

// Server is the ops HTTP server.
type Server struct {
	host      string
	port      int
	logger    *zap.Logger
	version   string
	commit    string
	buildDate string

	statusProvider handlers.StatusProvider
	historyDB      *sql.DB
	hub            *handlers.Hub
	pprofEnabled   bool

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	router  chi.Router
	signals chan string

	mu      sync.Mutex
	httpSrv *http.Server
}

// Option configures optional server wiring.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVersionInfo sets the build identity reported by /version.
func WithVersionInfo(version, commit, date string) Option {
	return func(s *Server) {
		s.version = version
		s.commit = commit
		s.buildDate = date
	}
}

// WithStatusProvider exposes the monitor engine snapshot at /v1/status.
func WithStatusProvider(provider handlers.StatusProvider) Option {
	return func(s *Server) {
		s.statusProvider = provider
	}
}

// WithHistoryDB exposes the run history store at /v1/runs.
func WithHistoryDB(db *sql.DB) Option {
	return func(s *Server) {
		s.historyDB = db
	}
}

// WithStreamHub exposes the websocket record stream at /v1/stream.
func WithStreamHub(hub *handlers.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithPprof mounts the net/http/pprof handlers under /debug/pprof.
func WithPprof() Option {
	return func(s *Server) {
		s.pprofEnabled = true
	}
}

// WithTimeouts overrides the HTTP server timeouts. Non-positive values
// keep the defaults.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// New creates a server bound to host and port. Routes are registered
// here, so option-driven wiring and the admin token must be in place
// before the call.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		version:      "dev",
		commit:       "none",
		buildDate:    "unknown",
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
		signals:      make(chan string, 4),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", s.versionHandler)

	if s.statusProvider != nil {
		r.Get("/v1/status", handlers.StatusHandler(s.statusProvider))
	}
	if s.historyDB != nil {
		runs := handlers.NewRunsHandler(s.historyDB)
		r.Get("/v1/runs", runs.List)
		r.Get("/v1/runs/{id}", runs.Get)
	}
	if s.hub != nil {
		r.Get("/v1/stream", s.hub.ServeHTTP)
	}
	if s.pprofEnabled {
		registerPprof(r)
	}

	s.registerAdminEndpoint(r)

	return r
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"version":    s.version,
		"commit":     s.commit,
		"build_date": s.buildDate,
	})
}

// registerAdminEndpoint mounts /admin/signal when an admin token is
// configured in the environment. Requests must present the token as a
// bearer credential.
func (s *Server) registerAdminEndpoint(r chi.Router) {
	token := os.Getenv(adminTokenEnv)
	if token == "" {
		token = os.Getenv(legacyAdminTokenEnv)
	}
	if token == "" {
		return
	}

	r.Post("/admin/signal", s.adminSignalHandler(token))
}

func (s *Server) adminSignalHandler(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorizedBearer(r, token) {
			apperrors.RespondWithError(w, r, http.StatusUnauthorized,
				"UNAUTHORIZED", "invalid or missing admin token")
			return
		}

		var payload struct {
			Signal string `json:"signal"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			apperrors.RespondWithError(w, r, http.StatusBadRequest,
				"INVALID_ARGUMENT", "request body must be JSON with a signal field")
			return
		}
		switch payload.Signal {
		case "shutdown", "reload":
		default:
			apperrors.RespondWithError(w, r, http.StatusBadRequest,
				"INVALID_ARGUMENT", "signal must be shutdown or reload")
			return
		}

		select {
		case s.signals <- payload.Signal:
		default:
			apperrors.RespondWithError(w, r, http.StatusConflict,
				"SIGNAL_PENDING", "a signal is already pending")
			return
		}

		s.logger.Info("admin signal accepted", zap.String("signal", payload.Signal))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "accepted",
			"signal": payload.Signal,
		})
	}
}

func authorizedBearer(r *http.Request, token string) bool {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	presented := strings.TrimPrefix(auth, prefix)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}

func registerPprof(r chi.Router) {
	r.Route("/debug/pprof", func(r chi.Router) {
		r.Get("/", pprof.Index)
		r.Get("/cmdline", pprof.Cmdline)
		r.Get("/profile", pprof.Profile)
		r.Get("/symbol", pprof.Symbol)
		r.Get("/trace", pprof.Trace)
		r.Get("/{name}", func(w http.ResponseWriter, req *http.Request) {
			pprof.Handler(chi.URLParam(req, "name")).ServeHTTP(w, req)
		})
	})
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Signals delivers admin-requested signals (shutdown, reload).
func (s *Server) Signals() <-chan string {
	return s.signals
}

// Start runs the server until Shutdown or a listener failure. A clean
// shutdown returns http.ErrServerClosed.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	s.logger.Info("ops server listening", zap.String("addr", s.Addr()))
	return srv.ListenAndServe()
}

// Shutdown disconnects stream clients and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
