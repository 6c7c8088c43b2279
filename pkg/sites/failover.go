package sites

import (
	"fmt"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
)

// FailoverResolver substitutes an available site for an unavailable preferred
// one using the static priority order siteA, siteB, siteC. It is
// deterministic for a given availability snapshot; there is no load balancing
// and no rotation.
type FailoverResolver struct {
	health SnapshotSource
}

// NewFailoverResolver creates a resolver reading availability from health.
func NewFailoverResolver(health SnapshotSource) *FailoverResolver {
	return &FailoverResolver{health: health}
}

// Resolve returns preferred if it is available, otherwise the first available
// data site in priority order. The global site is never a candidate: the
// routing table exists nowhere else, so when global is down there is nothing
// to fail over to and the call reports ErrNoAvailableSite directly.
func (r *FailoverResolver) Resolve(preferred SiteID) (SiteID, error) {
	snap := r.health.Snapshot()

	if snap.Available(preferred) {
		return preferred, nil
	}

	if preferred == SiteGlobal {
		return "", fmt.Errorf("%w: global routing site is down", apperrors.ErrNoAvailableSite)
	}

	for _, candidate := range DataSites() {
		if snap.Available(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: all data sites are down", apperrors.ErrNoAvailableSite)
}
