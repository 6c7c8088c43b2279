package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/services"
)

// HealthHandler serves liveness and site-availability endpoints.
type HealthHandler struct {
	status  services.StatusService
	version string
	env     string
	logger  *zap.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(status services.StatusService, version, env string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{status: status, version: version, env: env, logger: logger}
}

// RegisterRoutes registers health endpoints on the mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/sites/status", h.SiteStatus)
}

// Ping reports that the process is up, regardless of site availability.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     h.version,
		"environment": h.env,
	})
}

// Health reports degraded service: 200 while at least one data site can
// serve reads, 503 once the cluster cannot answer anything.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.status.Report()
	code := http.StatusOK
	if report.AvailableSites == 0 {
		code = http.StatusServiceUnavailable
	}
	_ = WriteJSON(w, code, report)
}

// SiteStatus returns the full per-site availability snapshot.
func (h *HealthHandler) SiteStatus(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, h.status.Report())
}
