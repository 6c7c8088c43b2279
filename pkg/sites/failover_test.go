package sites

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
)

// staticSnapshot is a SnapshotSource pinned to a fixed availability map.
type staticSnapshot struct {
	up map[SiteID]bool
}

func (s *staticSnapshot) Snapshot() *Snapshot {
	snap := &Snapshot{Statuses: make(map[SiteID]models.SiteStatus), TakenAt: time.Now()}
	for _, site := range AllSites() {
		snap.Statuses[site] = models.SiteStatus{
			Site:        string(site),
			Available:   s.up[site],
			LastChecked: snap.TakenAt,
		}
	}
	return snap
}

func allUp() *staticSnapshot {
	return &staticSnapshot{up: map[SiteID]bool{
		SiteA: true, SiteB: true, SiteC: true, SiteGlobal: true,
	}}
}

func TestResolvePreferredWhenAvailable(t *testing.T) {
	r := NewFailoverResolver(allUp())

	for _, site := range AllSites() {
		got, err := r.Resolve(site)
		require.NoError(t, err)
		assert.Equal(t, site, got)
	}
}

func TestResolveFailsOverInPriorityOrder(t *testing.T) {
	snap := allUp()
	snap.up[SiteB] = false
	r := NewFailoverResolver(snap)

	got, err := r.Resolve(SiteB)
	require.NoError(t, err)
	assert.Equal(t, SiteA, got)

	// With siteA also down the next candidate is siteC.
	snap.up[SiteA] = false
	got, err = r.Resolve(SiteB)
	require.NoError(t, err)
	assert.Equal(t, SiteC, got)
}

func TestResolveAllDataSitesDown(t *testing.T) {
	snap := allUp()
	snap.up[SiteA] = false
	snap.up[SiteB] = false
	snap.up[SiteC] = false
	r := NewFailoverResolver(snap)

	_, err := r.Resolve(SiteB)
	assert.ErrorIs(t, err, apperrors.ErrNoAvailableSite)
}

func TestResolveGlobalNeverFailsOver(t *testing.T) {
	snap := allUp()
	snap.up[SiteGlobal] = false
	r := NewFailoverResolver(snap)

	_, err := r.Resolve(SiteGlobal)
	assert.ErrorIs(t, err, apperrors.ErrNoAvailableSite)
}

func TestSnapshotAvailableDataSites(t *testing.T) {
	snap := allUp()
	snap.up[SiteB] = false
	assert.Equal(t, []SiteID{SiteA, SiteC}, snap.Snapshot().AvailableDataSites())

	var nilSnap *Snapshot
	assert.False(t, nilSnap.Available(SiteA))
}
