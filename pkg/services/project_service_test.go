package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/routing"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
	"github.com/labmesh-io/labmesh-engine/pkg/testhelpers"
)

func newProjectService(t *testing.T, c *testhelpers.Cluster) ProjectService {
	t.Helper()
	store := testhelpers.Store{C: c}
	return NewProjectService(
		testhelpers.Projects{C: c},
		testhelpers.Groups{C: c},
		testhelpers.Parts{C: c},
		store,
		routing.NewResolver(store),
		testhelpers.Alloc{C: c},
		zaptest.NewLogger(t),
	)
}

func TestProjectServiceGet(t *testing.T) {
	svc := newProjectService(t, seedCluster())

	p, err := svc.Get(context.Background(), "P2DA1")
	require.NoError(t, err)
	assert.Equal(t, "Polymer survey", p.Title)
}

func TestProjectServiceGetFallsBackWhenRegistryDown(t *testing.T) {
	c := seedCluster()
	c.FailOn = "store.lookup"
	svc := newProjectService(t, c)

	p, err := svc.Get(context.Background(), "P1DA1")
	require.NoError(t, err)
	assert.Equal(t, "Alloy study", p.Title)
}

func TestProjectServiceList(t *testing.T) {
	svc := newProjectService(t, seedCluster())

	projects, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 2)
}

func TestProjectServiceCreate(t *testing.T) {
	c := seedCluster()
	svc := newProjectService(t, c)

	p, err := svc.Create(context.Background(), "P1N1", "Ceramics study")
	require.NoError(t, err)
	// P1DA1 exists, so the gap-filling allocator hands out P1DA2.
	assert.Equal(t, "P1DA2", p.ID)
	assert.Contains(t, c.Site(sites.SiteA).Projects, "P1DA2")
}

func TestProjectServiceCreateMissingGroup(t *testing.T) {
	svc := newProjectService(t, seedCluster())

	_, err := svc.Create(context.Background(), "P3N1", "Orphan study")
	assert.True(t, errors.Is(err, apperrors.ErrForeignReference))
}

func TestProjectServiceUpdate(t *testing.T) {
	c := seedCluster()
	svc := newProjectService(t, c)

	p, err := svc.Update(context.Background(), "P1DA1", "Alloy study II")
	require.NoError(t, err)
	assert.Equal(t, "Alloy study II", p.Title)
	assert.Equal(t, "Alloy study II", c.Site(sites.SiteA).Projects["P1DA1"].Title)
}

func TestProjectServiceDeleteRemovesColocatedParticipations(t *testing.T) {
	c := seedCluster()
	svc := newProjectService(t, c)

	require.NoError(t, svc.Delete(context.Background(), "P1DA1"))
	assert.NotContains(t, c.Site(sites.SiteA).Projects, "P1DA1")
	assert.NotContains(t, c.Site(sites.SiteA).Parts, testhelpers.PartKey("P1NV1", "P1DA1"))
}
