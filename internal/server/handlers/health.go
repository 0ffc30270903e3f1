// Package handlers implements the HTTP handlers for the ops server:
// health probes, engine status, run history, and the record stream.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/3leaps/gotempus/internal/errors"
)

// checkTimeout bounds each individual health probe.
const checkTimeout = 5 * time.Second

// HealthChecker probes one subsystem.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to the HealthChecker interface.
type HealthCheckerFunc func(ctx context.Context) error

// CheckHealth calls f.
func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthResponse is the aggregate health payload.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// HealthManager aggregates named health checkers and renders the probe
// endpoints.
type HealthManager struct {
	mu       sync.RWMutex
	version  string
	checkers map[string]HealthChecker
}

// NewHealthManager creates a manager with no checkers registered.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds or replaces a named checker.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// HealthHandler runs every registered checker and writes the aggregate
// response. An unhealthy aggregate renders as a 503 error envelope
// carrying the per-check results.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := hm.runChecks(r.Context())
	status := hm.determineOverallStatus(checks)

	if status == "unhealthy" {
		apperrors.RespondWithErrorDetails(w, r, http.StatusServiceUnavailable,
			"SERVICE_UNAVAILABLE", "one or more health checks failed",
			map[string]interface{}{
				"status": status,
				"checks": checks,
			})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: hm.version,
		Checks:  checks,
	})
}

// LivenessHandler reports process liveness. It runs no checks; answering
// at all means the process is serving.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadinessHandler reports whether the service can take traffic. It runs
// the same checks as HealthHandler.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.HealthHandler(w, r)
}

// StartupHandler reports that initialization completed. The manager is
// created at the end of startup, so reaching it means started.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (hm *HealthManager) runChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	results := make(map[string]string, len(checkers))
	for name, checker := range checkers {
		results[name] = hm.runCheck(ctx, checker)
	}
	return results
}

func (hm *HealthManager) runCheck(ctx context.Context, checker HealthChecker) string {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	err := checker.CheckHealth(checkCtx)
	switch {
	case err == nil:
		return "healthy"
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(strings.ToLower(err.Error()), "timeout"):
		return "timeout"
	default:
		return "unhealthy"
	}
}

// determineOverallStatus folds per-check results. Any unhealthy check
// makes the aggregate unhealthy; timeouts degrade; otherwise healthy.
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, result := range checks {
		switch result {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

// globalHealthManager backs the package-level handler functions wired
// into the server routes. It stays nil until InitHealthManager runs;
// until then every probe answers 503.
var globalHealthManager *HealthManager

// InitHealthManager installs the global manager used by the package-level
// handlers.
func InitHealthManager(version string) *HealthManager {
	globalHealthManager = NewHealthManager(version)
	return globalHealthManager
}

// GetHealthManager returns the global manager, or nil before init.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

// HealthHandler serves the aggregate health endpoint via the global
// manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondUninitialized(w, r)
		return
	}
	globalHealthManager.HealthHandler(w, r)
}

// LivenessHandler serves the liveness probe via the global manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondUninitialized(w, r)
		return
	}
	globalHealthManager.LivenessHandler(w, r)
}

// ReadinessHandler serves the readiness probe via the global manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondUninitialized(w, r)
		return
	}
	globalHealthManager.ReadinessHandler(w, r)
}

// StartupHandler serves the startup probe via the global manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondUninitialized(w, r)
		return
	}
	globalHealthManager.StartupHandler(w, r)
}

func respondUninitialized(w http.ResponseWriter, r *http.Request) {
	apperrors.RespondWithError(w, r, http.StatusServiceUnavailable,
		"SERVICE_UNAVAILABLE", "health manager not initialized")
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
