package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/services"
)

// MemberHandler serves member CRUD.
type MemberHandler struct {
	members services.MemberService
	parts   services.ParticipationService
	logger  *zap.Logger
}

// NewMemberHandler creates a member handler.
func NewMemberHandler(members services.MemberService, parts services.ParticipationService, logger *zap.Logger) *MemberHandler {
	return &MemberHandler{members: members, parts: parts, logger: logger}
}

// RegisterRoutes registers member endpoints on the mux.
func (h *MemberHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/members", h.List)
	mux.HandleFunc("POST /api/members", h.Create)
	mux.HandleFunc("GET /api/members/{member_id}", h.Get)
	mux.HandleFunc("PUT /api/members/{member_id}", h.Update)
	mux.HandleFunc("DELETE /api/members/{member_id}", h.Delete)
	mux.HandleFunc("GET /api/members/{member_id}/participations", h.ListParticipations)
}

func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, members)
}

func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	member, err := h.members.Get(r.Context(), r.PathValue("member_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, member)
}

type createMemberRequest struct {
	GroupID  string `json:"group_id"`
	FullName string `json:"full_name"`
}

func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	member, err := h.members.Create(r.Context(), req.GroupID, req.FullName)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, member)
}

type updateMemberRequest struct {
	FullName string `json:"full_name"`
}

func (h *MemberHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	member, err := h.members.Update(r.Context(), r.PathValue("member_id"), req.FullName)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, member)
}

func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.members.Delete(r.Context(), r.PathValue("member_id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *MemberHandler) ListParticipations(w http.ResponseWriter, r *http.Request) {
	parts, err := h.parts.ListByMember(r.Context(), r.PathValue("member_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, parts)
}
