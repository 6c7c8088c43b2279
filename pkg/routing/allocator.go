package routing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/labmesh-io/labmesh-engine/pkg/locking"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// Entity tags embedded in identifiers between the partition key and the
// ordinal. The tag determines which table owns the identifier.
const (
	TagGroup   = "N"
	TagMember  = "NV"
	TagProject = "DA"
)

type tagTarget struct {
	table  string
	column string
}

var tagTargets = map[string]tagTarget{
	TagGroup:   {table: "research_groups", column: "group_id"},
	TagMember:  {table: "members", column: "member_id"},
	TagProject: {table: "projects", column: "project_id"},
}

// Allocator hands out entity identifiers inside a partition. Allocation is a
// gap-filling scan: read every existing ordinal under the prefix and return
// the smallest positive integer not taken. The scan and the caller's
// subsequent insert race unless serialized, so each (site, prefix) pair is
// guarded by a keyed mutex held across Allocate; callers insert before
// releasing interest in the id or accept a duplicate-key error on collision.
type Allocator struct {
	runner sites.QueryRunner
	locks  *locking.KeyedMutex
}

// NewAllocator creates an Allocator.
func NewAllocator(runner sites.QueryRunner) *Allocator {
	return &Allocator{runner: runner, locks: locking.NewKeyedMutex()}
}

// Lock serializes allocation for a (site, partition key, tag) triple. The
// migration engine holds this across its allocate-then-insert sequence.
func (a *Allocator) Lock(site sites.SiteID, roomCode, tag string) func() {
	key := lockKey(site, roomCode, tag)
	a.locks.Lock(key)
	return func() { a.locks.Unlock(key) }
}

// Allocate returns the next free identifier for the prefix
// <roomCode><tag> at the given site. The read targets the site directly,
// never a failover candidate: an ordinal scanned on the wrong site would
// collide on the right one.
func (a *Allocator) Allocate(ctx context.Context, site sites.SiteID, roomCode, tag string) (string, error) {
	unlock := a.Lock(site, roomCode, tag)
	defer unlock()
	return a.AllocateLocked(ctx, site, roomCode, tag)
}

// AllocateLocked is Allocate without acquiring the per-prefix lock. The
// caller must hold the lock from Lock for the same triple.
func (a *Allocator) AllocateLocked(ctx context.Context, site sites.SiteID, roomCode, tag string) (string, error) {
	target, ok := tagTargets[tag]
	if !ok {
		return "", fmt.Errorf("unknown entity tag %q", tag)
	}

	prefix := roomCode + tag
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIKE ?", target.column, target.table, target.column)
	res, err := a.runner.QueryAt(ctx, site, query, prefix+"%")
	if err != nil {
		return "", fmt.Errorf("scan identifiers for prefix %q: %w", prefix, err)
	}

	taken := make([]int, 0, len(res.Rows))
	for _, row := range res.Rows {
		id := sites.StringField(row, target.column)
		// LIKE 'P1N%' also matches member ids such as P1NV3 when scanning
		// the group tag; a non-numeric suffix means a different tag and is
		// not part of this ordinal space.
		n, ok := parseOrdinal(id, prefix)
		if !ok {
			continue
		}
		taken = append(taken, n)
	}

	return prefix + strconv.Itoa(firstGap(taken)), nil
}

// parseOrdinal extracts the numeric suffix of id under prefix.
func parseOrdinal(id, prefix string) (int, bool) {
	suffix, found := strings.CutPrefix(id, prefix)
	if !found || suffix == "" {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// firstGap returns the smallest positive integer absent from taken.
func firstGap(taken []int) int {
	sort.Ints(taken)
	next := 1
	for _, n := range taken {
		if n < next {
			continue
		}
		if n > next {
			break
		}
		next++
	}
	return next
}

func lockKey(site sites.SiteID, roomCode, tag string) string {
	return string(site) + ":" + roomCode + tag
}
