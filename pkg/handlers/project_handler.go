package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/services"
)

// ProjectHandler serves project CRUD.
type ProjectHandler struct {
	projects services.ProjectService
	parts    services.ParticipationService
	logger   *zap.Logger
}

// NewProjectHandler creates a project handler.
func NewProjectHandler(projects services.ProjectService, parts services.ParticipationService, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{projects: projects, parts: parts, logger: logger}
}

// RegisterRoutes registers project endpoints on the mux.
func (h *ProjectHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/projects", h.List)
	mux.HandleFunc("POST /api/projects", h.Create)
	mux.HandleFunc("GET /api/projects/{project_id}", h.Get)
	mux.HandleFunc("PUT /api/projects/{project_id}", h.Update)
	mux.HandleFunc("DELETE /api/projects/{project_id}", h.Delete)
	mux.HandleFunc("GET /api/projects/{project_id}/participations", h.ListParticipations)
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.Get(r.Context(), r.PathValue("project_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, project)
}

type createProjectRequest struct {
	GroupID string `json:"group_id"`
	Title   string `json:"title"`
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	project, err := h.projects.Create(r.Context(), req.GroupID, req.Title)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, project)
}

type updateProjectRequest struct {
	Title string `json:"title"`
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	project, err := h.projects.Update(r.Context(), r.PathValue("project_id"), req.Title)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.Delete(r.Context(), r.PathValue("project_id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *ProjectHandler) ListParticipations(w http.ResponseWriter, r *http.Request) {
	parts, err := h.parts.ListByProject(r.Context(), r.PathValue("project_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, parts)
}
