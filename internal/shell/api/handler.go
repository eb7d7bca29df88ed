// Package api provides the read-only status HTTP surface: active
// deployments, run results, rollback reports, and Prometheus metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlasdeploy/cascade/internal/core/domain"
	"github.com/atlasdeploy/cascade/internal/pipeline"
	"github.com/atlasdeploy/cascade/internal/rollback"
)

// =============================================================================
// Handler
// =============================================================================

// Handler serves the status API. It reads from the pipeline's active
// registry and the rollback history, and retains completed run results
// in memory.
type Handler struct {
	registry *pipeline.Registry
	history  *rollback.History
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	mu   sync.RWMutex
	runs map[string]*domain.CoordinationResult
	ids  []string
}

// NewHandler creates a status API handler.
func NewHandler(registry *pipeline.Registry, history *rollback.History, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		history:  history,
		gatherer: gatherer,
		logger:   logger.With("component", "api"),
		runs:     make(map[string]*domain.CoordinationResult),
	}
}

// RecordRun retains a completed coordination result for the /api/runs
// endpoints.
func (h *Handler) RecordRun(result *domain.CoordinationResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.runs[result.CoordinationID]; !exists {
		h.ids = append(h.ids, result.CoordinationID)
	}
	h.runs[result.CoordinationID] = result
}

// Observer returns a lifecycle observer that records completed runs.
func (h *Handler) Observer() domain.Observer {
	return &observerAdapter{handler: h}
}

type observerAdapter struct {
	domain.NopObserver
	handler *Handler
}

func (o *observerAdapter) CoordinationCompleted(result *domain.CoordinationResult) {
	o.handler.RecordRun(result)
}

// =============================================================================
// Routes
// =============================================================================

// Routes returns the configured router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/deployments/active", h.handleActiveDeployments)
		r.Get("/runs", h.handleListRuns)
		r.Get("/runs/{id}", h.handleGetRun)
		r.Get("/rollbacks", h.handleListRollbacks)
		r.Get("/rollbacks/{id}", h.handleGetRollback)
	})

	return r
}

// =============================================================================
// Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleActiveDeployments(w http.ResponseWriter, r *http.Request) {
	active := h.registry.Active()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(active),
		"deployments": active,
	})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	summaries := make([]map[string]any, 0, len(h.ids))
	for _, id := range h.ids {
		run := h.runs[id]
		summaries = append(summaries, map[string]any{
			"coordination_id": run.CoordinationID,
			"strategy":        run.Strategy,
			"succeeded":       len(run.Successful),
			"failed":          len(run.Failed),
			"halted":          run.Halted,
			"duration":        run.Duration.String(),
		})
	}
	h.mu.RUnlock()
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mu.RLock()
	run, ok := h.runs[id]
	h.mu.RUnlock()
	if !ok {
		h.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleListRollbacks(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"rollbacks": h.history.All()})
}

func (h *Handler) handleGetRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, ok := h.history.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "rollback not found")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// Response Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
