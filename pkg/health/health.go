// Package health provides liveness and readiness HTTP handlers with
// pluggable dependency checks.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/utafrali/saga-orchestrator/pkg/httputil"
)

// CheckFunc probes a single dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	fn       CheckFunc
	critical bool
}

// Handler serves health endpoints backed by registered checks.
type Handler struct {
	mu      sync.RWMutex
	checks  []check
	timeout time.Duration
	version string
}

// NewHandler creates a health handler. version is reported in responses.
func NewHandler(version string) *Handler {
	return &Handler{
		timeout: 5 * time.Second,
		version: version,
	}
}

// Register adds a critical dependency check. Readiness fails when any
// critical check fails.
func (h *Handler) Register(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, fn: fn, critical: true})
}

// RegisterNonCritical adds a check that is reported but does not affect
// readiness.
func (h *Handler) RegisterNonCritical(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, fn: fn, critical: false})
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version,omitempty"`
	Checks  map[string]checkResult `json:"checks,omitempty"`
}

// LivenessHandler always reports healthy while the process is running.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Version: h.version,
	})
}

// ReadinessHandler runs all registered checks and reports 503 when a
// critical dependency is unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := make([]check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make(map[string]checkResult, len(checks))
	ready := true
	for _, c := range checks {
		if err := c.fn(ctx); err != nil {
			results[c.name] = checkResult{Status: "unhealthy", Error: err.Error()}
			if c.critical {
				ready = false
			}
			continue
		}
		results[c.name] = checkResult{Status: "healthy"}
	}

	status := http.StatusOK
	overall := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}

	httputil.WriteJSON(w, status, healthResponse{
		Status:  overall,
		Version: h.version,
		Checks:  results,
	})
}
