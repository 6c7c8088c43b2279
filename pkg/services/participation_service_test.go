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

func newParticipationService(t *testing.T, c *testhelpers.Cluster) ParticipationService {
	t.Helper()
	store := testhelpers.Store{C: c}
	return NewParticipationService(
		testhelpers.Parts{C: c},
		testhelpers.Members{C: c},
		testhelpers.Projects{C: c},
		routing.NewResolver(store),
		zaptest.NewLogger(t),
	)
}

func TestParticipationAddColocatesWithProject(t *testing.T) {
	c := seedCluster()
	svc := newParticipationService(t, c)

	// Cross-group link: P1's member joins P2's project. The row must land
	// on the project's site.
	p, err := svc.Add(context.Background(), "P1NV1", "P2DA1")
	require.NoError(t, err)
	assert.Equal(t, "P1NV1", p.MemberID)
	assert.Contains(t, c.Site(sites.SiteB).Parts, testhelpers.PartKey("P1NV1", "P2DA1"))
	assert.NotContains(t, c.Site(sites.SiteA).Parts, testhelpers.PartKey("P1NV1", "P2DA1"))
}

func TestParticipationAddMissingProject(t *testing.T) {
	svc := newParticipationService(t, seedCluster())

	_, err := svc.Add(context.Background(), "P1NV1", "P2DA9")
	assert.True(t, errors.Is(err, apperrors.ErrForeignReference))
}

func TestParticipationAddMissingMember(t *testing.T) {
	svc := newParticipationService(t, seedCluster())

	_, err := svc.Add(context.Background(), "P1NV9", "P2DA1")
	assert.True(t, errors.Is(err, apperrors.ErrForeignReference))
}

func TestParticipationAddDuplicate(t *testing.T) {
	svc := newParticipationService(t, seedCluster())

	_, err := svc.Add(context.Background(), "P1NV1", "P1DA1")
	assert.True(t, errors.Is(err, apperrors.ErrDuplicateKey))
}

func TestParticipationGetAndDelete(t *testing.T) {
	c := seedCluster()
	svc := newParticipationService(t, c)

	p, err := svc.Get(context.Background(), "P1NV1", "P1DA1")
	require.NoError(t, err)
	assert.Equal(t, "P1DA1", p.ProjectID)

	require.NoError(t, svc.Delete(context.Background(), "P1NV1", "P1DA1"))
	_, err = svc.Get(context.Background(), "P1NV1", "P1DA1")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestParticipationListByMemberSpansSites(t *testing.T) {
	c := seedCluster()
	c.Site(sites.SiteB).Parts[testhelpers.PartKey("P1NV1", "P2DA1")] = models.Participation{MemberID: "P1NV1", ProjectID: "P2DA1"}
	svc := newParticipationService(t, c)

	rows, err := svc.ListByMember(context.Background(), "P1NV1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "P1DA1", rows[0].ProjectID)
	assert.Equal(t, "P2DA1", rows[1].ProjectID)
}

func TestParticipationListByProject(t *testing.T) {
	svc := newParticipationService(t, seedCluster())

	rows, err := svc.ListByProject(context.Background(), "P1DA1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "P1NV1", rows[0].MemberID)
}

func TestParticipationListByMemberInvalidID(t *testing.T) {
	svc := newParticipationService(t, seedCluster())

	_, err := svc.ListByMember(context.Background(), "12345")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidIdentifier))
}
