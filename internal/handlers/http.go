// Package handlers exposes the sync engine over HTTP for the controller
// layer of the matterhub backend.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/engine"
	"github.com/matterhub/sync-engine/internal/monitor"
	"github.com/matterhub/sync-engine/internal/source"
)

// Handler contains all HTTP handlers for the sync engine service.
type Handler struct {
	engine  *engine.Engine
	monitor *monitor.Monitor
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(eng *engine.Engine, mon *monitor.Monitor, logger *zap.Logger) *Handler {
	return &Handler{engine: eng, monitor: mon, logger: logger}
}

// SetupRoutes configures the HTTP routes.
func (h *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sync", h.RunSync).Methods("POST")
	api.HandleFunc("/sync", h.ListSyncResults).Methods("GET")
	api.HandleFunc("/sync/{jobId}", h.GetSyncResult).Methods("GET")
	api.HandleFunc("/sync/{jobId}/conflicts", h.GetSyncConflicts).Methods("GET")
	api.HandleFunc("/metrics", h.GetSyncMetrics).Methods("GET")
	api.HandleFunc("/status", h.GetSystemStatus).Methods("GET")
	api.HandleFunc("/alerts", h.ListActiveAlerts).Methods("GET")
	api.HandleFunc("/alerts/configs", h.CreateAlertConfig).Methods("POST")
	api.HandleFunc("/alerts/configs/{configId}", h.DeleteAlertConfig).Methods("DELETE")
	api.HandleFunc("/reports/performance", h.GetPerformanceReport).Methods("GET")
}

// SyncRequest is the body of POST /api/v1/sync.
type SyncRequest struct {
	Source *source.Endpoint `json:"source"`
	Target *source.Endpoint `json:"target"`
}

// RunSync runs one synchronization pass and returns its result. A job-level
// failure returns 500 together with the finalized failed result.
func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Source == nil || req.Target == nil {
		h.writeError(w, http.StatusBadRequest, "both source and target endpoints are required")
		return
	}

	result, err := h.engine.Sync(r.Context(), req.Source, req.Target)
	if err != nil {
		h.logger.Error("Sync request failed",
			zap.String("source_id", req.Source.ID),
			zap.String("target_id", req.Target.ID),
			zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetSyncResult returns a sync result by job id.
func (h *Handler) GetSyncResult(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	result, ok := h.engine.GetResult(r.Context(), jobID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "sync result not found: "+jobID)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetSyncConflicts returns the conflicts detected by one job.
func (h *Handler) GetSyncConflicts(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	result, ok := h.engine.GetResult(r.Context(), jobID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "sync result not found: "+jobID)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":    jobID,
		"conflicts": result.Conflicts,
	})
}

// ListSyncResults returns the in-memory result history, newest last.
func (h *Handler) ListSyncResults(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": h.engine.History(),
	})
}

// GetSyncMetrics returns the rolling sync metrics.
func (h *Handler) GetSyncMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.monitor.Metrics())
}

// GetSystemStatus returns the composed health/metrics/alerts snapshot.
func (h *Handler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.monitor.SystemStatus(r.Context()))
}

// ListActiveAlerts returns the currently firing alerts.
func (h *Handler) ListActiveAlerts(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": h.monitor.ActiveAlerts(),
	})
}

// CreateAlertConfig registers a new alert condition.
func (h *Handler) CreateAlertConfig(w http.ResponseWriter, r *http.Request) {
	var cfg monitor.AlertConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid alert config: "+err.Error())
		return
	}
	if cfg.Name == "" || cfg.Type == "" {
		h.writeError(w, http.StatusBadRequest, "alert config requires name and type")
		return
	}

	h.monitor.RegisterAlertConfig(&cfg)
	h.writeJSON(w, http.StatusCreated, cfg)
}

// DeleteAlertConfig removes an alert condition by id.
func (h *Handler) DeleteAlertConfig(w http.ResponseWriter, r *http.Request) {
	configID := mux.Vars(r)["configId"]
	h.monitor.RemoveAlertConfig(configID)
	w.WriteHeader(http.StatusNoContent)
}

// GetPerformanceReport returns the windowed performance report. The window
// query parameter accepts 1h, 24h, 7d or 30d and defaults to 24h.
func (h *Handler) GetPerformanceReport(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	if window == "" {
		window = monitor.Window24h
	}

	report, err := h.monitor.GeneratePerformanceReport(window)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// HealthCheck runs the engine probes and maps the overall state to an HTTP
// status: 200 for healthy/degraded, 503 for unhealthy.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := h.engine.HealthCheck(r.Context())
	h.monitor.RecordHealthCheck(status)

	code := http.StatusOK
	if status.State == monitor.HealthStateUnhealthy {
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":    status.State,
		"probes":    status.Probes,
		"timestamp": time.Now().UTC(),
		"service":   "sync-engine",
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{"error": message})
}
