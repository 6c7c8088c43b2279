package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/services"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// GroupHandler serves research group CRUD and the partition registry.
type GroupHandler struct {
	groups services.GroupService
	logger *zap.Logger
}

// NewGroupHandler creates a group handler.
func NewGroupHandler(groups services.GroupService, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, logger: logger}
}

// RegisterRoutes registers group and room endpoints on the mux.
func (h *GroupHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/groups", h.List)
	mux.HandleFunc("POST /api/groups", h.Create)
	mux.HandleFunc("GET /api/groups/{group_id}", h.Get)
	mux.HandleFunc("PUT /api/groups/{group_id}", h.Update)
	mux.HandleFunc("DELETE /api/groups/{group_id}", h.Delete)

	mux.HandleFunc("GET /api/rooms", h.ListRooms)
	mux.HandleFunc("PUT /api/rooms/{room_code}", h.AssignRoom)
	mux.HandleFunc("DELETE /api/rooms/{room_code}", h.ReleaseRoom)
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, err := h.groups.Get(r.Context(), r.PathValue("group_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, group)
}

type createGroupRequest struct {
	RoomCode string `json:"room_code"`
	Name     string `json:"name"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	group, err := h.groups.Create(r.Context(), req.RoomCode, req.Name)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, group)
}

type updateGroupRequest struct {
	RoomCode string `json:"room_code"`
	Name     string `json:"name"`
}

// Update renames a group. A room_code different from the group's current one
// triggers a partition move; the response only returns once the move has run
// to completion or failed.
func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	group, err := h.groups.Update(r.Context(), r.PathValue("group_id"), req.RoomCode, req.Name)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, group)
}

func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.Delete(r.Context(), r.PathValue("group_id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *GroupHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.groups.Rooms(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, rooms)
}

type assignRoomRequest struct {
	Site string `json:"site"`
}

func (h *GroupHandler) AssignRoom(w http.ResponseWriter, r *http.Request) {
	var req assignRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	site, err := sites.ParseSiteID(req.Site)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := h.groups.AssignRoom(r.Context(), r.PathValue("room_code"), site); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

func (h *GroupHandler) ReleaseRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.ReleaseRoom(r.Context(), r.PathValue("room_code")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "released"})
}
