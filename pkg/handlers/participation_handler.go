package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/services"
)

// ParticipationHandler serves member-project links. The relation has a
// composite key, so item routes carry both identifiers.
type ParticipationHandler struct {
	parts  services.ParticipationService
	logger *zap.Logger
}

// NewParticipationHandler creates a participation handler.
func NewParticipationHandler(parts services.ParticipationService, logger *zap.Logger) *ParticipationHandler {
	return &ParticipationHandler{parts: parts, logger: logger}
}

// RegisterRoutes registers participation endpoints on the mux.
func (h *ParticipationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/participations", h.Create)
	mux.HandleFunc("GET /api/participations/{member_id}/{project_id}", h.Get)
	mux.HandleFunc("DELETE /api/participations/{member_id}/{project_id}", h.Delete)
}

type createParticipationRequest struct {
	MemberID  string `json:"member_id"`
	ProjectID string `json:"project_id"`
}

func (h *ParticipationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createParticipationRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	p, err := h.parts.Add(r.Context(), req.MemberID, req.ProjectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, p)
}

func (h *ParticipationHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.parts.Get(r.Context(), r.PathValue("member_id"), r.PathValue("project_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, p)
}

func (h *ParticipationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.parts.Delete(r.Context(), r.PathValue("member_id"), r.PathValue("project_id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
