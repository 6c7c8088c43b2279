package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/services"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

type fakeGroupService struct {
	groups  map[string]*models.Group
	rooms   []models.RouteEntry
	created *models.Group
	moved   string
	err     error
}

func (f *fakeGroupService) List(ctx context.Context) ([]models.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Group, 0, len(f.groups))
	for _, g := range f.groups {
		out = append(out, *g)
	}
	return out, nil
}

func (f *fakeGroupService) Get(ctx context.Context, groupID string) (*models.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	g, ok := f.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %q", apperrors.ErrNotFound, groupID)
	}
	return g, nil
}

func (f *fakeGroupService) Create(ctx context.Context, roomCode, name string) (*models.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = &models.Group{ID: roomCode + "N1", RoomCode: roomCode, Name: name}
	return f.created, nil
}

func (f *fakeGroupService) Update(ctx context.Context, groupID, newRoom, newName string) (*models.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.moved = groupID + "->" + newRoom
	return &models.Group{ID: groupID, RoomCode: newRoom, Name: newName}, nil
}

func (f *fakeGroupService) Delete(ctx context.Context, groupID string) error { return f.err }

func (f *fakeGroupService) Rooms(ctx context.Context) ([]models.RouteEntry, error) {
	return f.rooms, f.err
}

func (f *fakeGroupService) AssignRoom(ctx context.Context, roomCode string, site sites.SiteID) error {
	return f.err
}

func (f *fakeGroupService) ReleaseRoom(ctx context.Context, roomCode string) error { return f.err }

var _ services.GroupService = (*fakeGroupService)(nil)

type fakeStatusService struct {
	report services.HealthReport
}

func (f *fakeStatusService) Report() services.HealthReport { return f.report }

type fakePartService struct {
	parts map[string]*models.Participation
	err   error
}

func partKey(memberID, projectID string) string { return memberID + "|" + projectID }

func (f *fakePartService) Add(ctx context.Context, memberID, projectID string) (*models.Participation, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &models.Participation{MemberID: memberID, ProjectID: projectID}
	f.parts[partKey(memberID, projectID)] = p
	return p, nil
}

func (f *fakePartService) Get(ctx context.Context, memberID, projectID string) (*models.Participation, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.parts[partKey(memberID, projectID)]
	if !ok {
		return nil, fmt.Errorf("%w: participation", apperrors.ErrNotFound)
	}
	return p, nil
}

func (f *fakePartService) Delete(ctx context.Context, memberID, projectID string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.parts[partKey(memberID, projectID)]; !ok {
		return fmt.Errorf("%w: participation", apperrors.ErrNotFound)
	}
	delete(f.parts, partKey(memberID, projectID))
	return nil
}

func (f *fakePartService) ListByMember(ctx context.Context, memberID string) ([]models.Participation, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Participation
	for _, p := range f.parts {
		if p.MemberID == memberID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePartService) ListByProject(ctx context.Context, projectID string) ([]models.Participation, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Participation
	for _, p := range f.parts {
		if p.ProjectID == projectID {
			out = append(out, *p)
		}
	}
	return out, nil
}

var _ services.ParticipationService = (*fakePartService)(nil)

func newGroupMux(svc *fakeGroupService) *http.ServeMux {
	mux := http.NewServeMux()
	NewGroupHandler(svc, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetGroup(t *testing.T) {
	svc := &fakeGroupService{groups: map[string]*models.Group{
		"P1N1": {ID: "P1N1", RoomCode: "P1", Name: "Genomics"},
	}}
	rec := doJSON(t, newGroupMux(svc), http.MethodGet, "/api/groups/P1N1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Group
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "Genomics", got.Name)
}

func TestGetGroupNotFound(t *testing.T) {
	svc := &fakeGroupService{groups: map[string]*models.Group{}}
	rec := doJSON(t, newGroupMux(svc), http.MethodGet, "/api/groups/P9N1", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "not_found", body["error"])
}

func TestCreateGroup(t *testing.T) {
	svc := &fakeGroupService{groups: map[string]*models.Group{}}
	rec := doJSON(t, newGroupMux(svc), http.MethodPost, "/api/groups",
		map[string]string{"room_code": "P3", "name": "Robotics"})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.created)
	assert.Equal(t, "P3N1", svc.created.ID)
}

func TestCreateGroupRejectsMalformedBody(t *testing.T) {
	svc := &fakeGroupService{groups: map[string]*models.Group{}}
	req := httptest.NewRequest(http.MethodPost, "/api/groups", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	newGroupMux(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.created)
}

func TestUpdateGroupMovesPartition(t *testing.T) {
	svc := &fakeGroupService{groups: map[string]*models.Group{}}
	rec := doJSON(t, newGroupMux(svc), http.MethodPut, "/api/groups/P1N1",
		map[string]string{"room_code": "P3", "name": "Genomics"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "P1N1->P3", svc.moved)
}

func TestAssignRoomRejectsUnknownSite(t *testing.T) {
	svc := &fakeGroupService{}
	rec := doJSON(t, newGroupMux(svc), http.MethodPut, "/api/rooms/P5",
		map[string]string{"site": "siteZ"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"invalid identifier", apperrors.ErrInvalidIdentifier, http.StatusBadRequest, "validation_failed"},
		{"unknown partition", apperrors.ErrUnknownPartition, http.StatusBadRequest, "validation_failed"},
		{"duplicate", apperrors.ErrDuplicateKey, http.StatusBadRequest, "already_exists"},
		{"foreign reference", apperrors.ErrForeignReference, http.StatusBadRequest, "missing_reference"},
		{"migration in progress", apperrors.ErrMigrationInProgress, http.StatusBadRequest, "migration_in_progress"},
		{"no available site", apperrors.ErrNoAvailableSite, http.StatusServiceUnavailable, "site_unavailable"},
		{"connectivity", apperrors.ErrConnectivity, http.StatusServiceUnavailable, "site_unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeGroupService{err: tc.err}
			rec := doJSON(t, newGroupMux(svc), http.MethodGet, "/api/groups/P1N1", nil)

			require.Equal(t, tc.wantCode, rec.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.wantBody, body["error"])
		})
	}
}

func TestMigrationPartialFailureMapping(t *testing.T) {
	svc := &fakeGroupService{err: &apperrors.MigrationPartialError{
		GroupID: "P1N1",
		Step:    "copying_projects",
		Err:     errors.New("insert failed"),
	}}
	rec := doJSON(t, newGroupMux(svc), http.MethodPut, "/api/groups/P1N1",
		map[string]string{"room_code": "P3"})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "migration_partial_failure", body["error"])
	assert.Contains(t, body["message"], "copying_projects")
}

func TestHealthDegraded(t *testing.T) {
	now := time.Now()
	status := &fakeStatusService{report: services.HealthReport{
		TotalSites:     4,
		AvailableSites: 2,
		Sites: []models.SiteStatus{
			{Site: "global", Available: true, LastChecked: now},
			{Site: "siteA", Available: true, LastChecked: now},
			{Site: "siteB", Available: false, LastChecked: now, Error: "connection refused"},
			{Site: "siteC", Available: false, LastChecked: now, Error: "connection refused"},
		},
	}}
	mux := http.NewServeMux()
	NewHealthHandler(status, "1.2.3", "test", zap.NewNop()).RegisterRoutes(mux)

	rec := doJSON(t, mux, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report services.HealthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 2, report.AvailableSites)
	assert.Len(t, report.Sites, 4)
}

func TestHealthAllSitesDown(t *testing.T) {
	status := &fakeStatusService{report: services.HealthReport{TotalSites: 4}}
	mux := http.NewServeMux()
	NewHealthHandler(status, "1.2.3", "test", zap.NewNop()).RegisterRoutes(mux)

	rec := doJSON(t, mux, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPing(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthHandler(&fakeStatusService{}, "1.2.3", "test", zap.NewNop()).RegisterRoutes(mux)

	rec := doJSON(t, mux, http.MethodGet, "/ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "test", body["environment"])
}

func TestParticipationLifecycle(t *testing.T) {
	svc := &fakePartService{parts: map[string]*models.Participation{}}
	mux := http.NewServeMux()
	NewParticipationHandler(svc, zap.NewNop()).RegisterRoutes(mux)

	rec := doJSON(t, mux, http.MethodPost, "/api/participations",
		map[string]string{"member_id": "P1NV1", "project_id": "P2DA1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/participations/P1NV1/P2DA1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Participation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "P2DA1", got.ProjectID)

	rec = doJSON(t, mux, http.MethodDelete, "/api/participations/P1NV1/P2DA1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/participations/P1NV1/P2DA1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
