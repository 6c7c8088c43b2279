package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/routing"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
	"github.com/labmesh-io/labmesh-engine/pkg/testhelpers"
)

// fakeMover records move requests instead of running a real migration.
type fakeMover struct {
	calls []string
	out   *models.Group
	err   error
}

func (m *fakeMover) Move(ctx context.Context, groupID, newRoom, newName string) (*models.Group, error) {
	m.calls = append(m.calls, groupID+"->"+newRoom)
	if m.err != nil {
		return nil, m.err
	}
	return m.out, nil
}

func seedCluster() *testhelpers.Cluster {
	c := testhelpers.NewCluster()
	c.Routes["P1"] = sites.SiteA
	c.Routes["P2"] = sites.SiteB
	c.Routes["P3"] = sites.SiteC

	a := c.Site(sites.SiteA)
	a.Groups["P1N1"] = models.Group{ID: "P1N1", RoomCode: "P1", Name: "Materials Lab"}
	a.Members["P1NV1"] = models.Member{ID: "P1NV1", FullName: "An"}
	a.Projects["P1DA1"] = models.Project{ID: "P1DA1", Title: "Alloy study"}
	a.Parts[testhelpers.PartKey("P1NV1", "P1DA1")] = models.Participation{MemberID: "P1NV1", ProjectID: "P1DA1"}

	b := c.Site(sites.SiteB)
	b.Groups["P2N1"] = models.Group{ID: "P2N1", RoomCode: "P2", Name: "Polymer Lab"}
	b.Members["P2NV1"] = models.Member{ID: "P2NV1", FullName: "Chi"}
	b.Projects["P2DA1"] = models.Project{ID: "P2DA1", Title: "Polymer survey"}

	return c
}

func newGroupService(t *testing.T, c *testhelpers.Cluster, mover Mover) GroupService {
	t.Helper()
	store := testhelpers.Store{C: c}
	return NewGroupService(
		testhelpers.Groups{C: c},
		testhelpers.Members{C: c},
		testhelpers.Projects{C: c},
		store,
		routing.NewResolver(store),
		testhelpers.Alloc{C: c},
		mover,
		zaptest.NewLogger(t),
	)
}

func TestGroupServiceGet(t *testing.T) {
	svc := newGroupService(t, seedCluster(), &fakeMover{})

	g, err := svc.Get(context.Background(), "P1N1")
	require.NoError(t, err)
	assert.Equal(t, "Materials Lab", g.Name)
}

func TestGroupServiceList(t *testing.T) {
	svc := newGroupService(t, seedCluster(), &fakeMover{})

	groups, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestGroupServiceCreate(t *testing.T) {
	c := seedCluster()
	svc := newGroupService(t, c, &fakeMover{})

	g, err := svc.Create(context.Background(), "P3", "Optics Lab")
	require.NoError(t, err)
	assert.Equal(t, "P3N1", g.ID)
	assert.Contains(t, c.Site(sites.SiteC).Groups, "P3N1")
}

func TestGroupServiceCreateUnknownRoom(t *testing.T) {
	svc := newGroupService(t, seedCluster(), &fakeMover{})

	_, err := svc.Create(context.Background(), "ZZ9", "Nowhere Lab")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownPartition))
}

func TestGroupServiceCreateInvalidRoomCode(t *testing.T) {
	svc := newGroupService(t, seedCluster(), &fakeMover{})

	for _, code := range []string{"", "P", "1P", "P1X", "P-1"} {
		_, err := svc.Create(context.Background(), code, "Bad Lab")
		assert.True(t, errors.Is(err, apperrors.ErrInvalidIdentifier), "code %q", code)
	}
}

func TestGroupServiceCreateOccupiedRoom(t *testing.T) {
	svc := newGroupService(t, seedCluster(), &fakeMover{})

	_, err := svc.Create(context.Background(), "P1", "Second Lab")
	assert.True(t, errors.Is(err, apperrors.ErrDuplicateKey))
}

func TestGroupServiceUpdateRenameInPlace(t *testing.T) {
	c := seedCluster()
	mover := &fakeMover{}
	svc := newGroupService(t, c, mover)

	g, err := svc.Update(context.Background(), "P1N1", "P1", "Advanced Materials Lab")
	require.NoError(t, err)
	assert.Equal(t, "Advanced Materials Lab", g.Name)
	assert.Equal(t, "Advanced Materials Lab", c.Site(sites.SiteA).Groups["P1N1"].Name)
	assert.Empty(t, mover.calls, "a same-room update must not trigger a migration")
}

func TestGroupServiceUpdateRoomChangeDelegatesToMover(t *testing.T) {
	mover := &fakeMover{out: &models.Group{ID: "P3N1", RoomCode: "P3", Name: "Materials Lab"}}
	svc := newGroupService(t, seedCluster(), mover)

	g, err := svc.Update(context.Background(), "P1N1", "P3", "Materials Lab")
	require.NoError(t, err)
	assert.Equal(t, "P3N1", g.ID)
	assert.Equal(t, []string{"P1N1->P3"}, mover.calls)
}

func TestGroupServiceDeleteRejectsNonEmpty(t *testing.T) {
	svc := newGroupService(t, seedCluster(), &fakeMover{})

	err := svc.Delete(context.Background(), "P1N1")
	assert.True(t, errors.Is(err, apperrors.ErrForeignReference))
}

func TestGroupServiceDeleteEmptyGroup(t *testing.T) {
	c := seedCluster()
	c.Site(sites.SiteC).Groups["P3N1"] = models.Group{ID: "P3N1", RoomCode: "P3", Name: "Empty Lab"}
	svc := newGroupService(t, c, &fakeMover{})

	require.NoError(t, svc.Delete(context.Background(), "P3N1"))
	assert.Empty(t, c.Site(sites.SiteC).Groups)
}

func TestGroupServiceRooms(t *testing.T) {
	svc := newGroupService(t, seedCluster(), &fakeMover{})

	rooms, err := svc.Rooms(context.Background())
	require.NoError(t, err)
	assert.Len(t, rooms, 3)
}

func TestGroupServiceAssignRoom(t *testing.T) {
	c := seedCluster()
	svc := newGroupService(t, c, &fakeMover{})

	require.NoError(t, svc.AssignRoom(context.Background(), "P4", sites.SiteB))
	assert.Equal(t, sites.SiteB, c.Routes["P4"])

	err := svc.AssignRoom(context.Background(), "P5", sites.SiteGlobal)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSite))
}

func TestGroupServiceReleaseRoom(t *testing.T) {
	c := seedCluster()
	svc := newGroupService(t, c, &fakeMover{})

	// P3 has no group, releasable; P1 is occupied.
	require.NoError(t, svc.ReleaseRoom(context.Background(), "P3"))
	assert.NotContains(t, c.Routes, "P3")

	err := svc.ReleaseRoom(context.Background(), "P1")
	assert.True(t, errors.Is(err, apperrors.ErrForeignReference))
}
