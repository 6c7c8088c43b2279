package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// fakeRunner serves canned result rows for QueryAt and records writes.
type fakeRunner struct {
	rows     map[sites.SiteID][]map[string]any
	queries  []string
	execs    []string
	affected int64
	err      error
}

func (f *fakeRunner) Query(ctx context.Context, preferred sites.SiteID, query string, params ...any) (*sites.Result, error) {
	return f.QueryAt(ctx, preferred, query, params...)
}

func (f *fakeRunner) QueryAt(ctx context.Context, site sites.SiteID, query string, params ...any) (*sites.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.queries = append(f.queries, query)
	rows := f.rows[site]
	return &sites.Result{Rows: rows, RowCount: len(rows)}, nil
}

func (f *fakeRunner) Exec(ctx context.Context, site sites.SiteID, query string, params ...any) (*sites.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.execs = append(f.execs, query)
	return &sites.Result{RowsAffected: f.affected}, nil
}

func (f *fakeRunner) FanOut(ctx context.Context, query string, params []any, exclude ...sites.SiteID) []sites.SiteResult {
	var out []sites.SiteResult
	for site, rows := range f.rows {
		out = append(out, sites.SiteResult{Site: site, Result: &sites.Result{Rows: rows, RowCount: len(rows)}})
	}
	return out
}

func memberRows(ids ...string) []map[string]any {
	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, map[string]any{"member_id": id})
	}
	return rows
}

func TestAllocateFillsFirstGap(t *testing.T) {
	runner := &fakeRunner{rows: map[sites.SiteID][]map[string]any{
		sites.SiteA: memberRows("P1NV1", "P1NV2", "P1NV4"),
	}}
	alloc := NewAllocator(runner)

	id, err := alloc.Allocate(context.Background(), sites.SiteA, "P1", TagMember)
	require.NoError(t, err)
	assert.Equal(t, "P1NV3", id)
}

func TestAllocateAppendsWhenNoGap(t *testing.T) {
	runner := &fakeRunner{rows: map[sites.SiteID][]map[string]any{
		sites.SiteA: memberRows("P1NV1", "P1NV2", "P1NV3"),
	}}
	alloc := NewAllocator(runner)

	id, err := alloc.Allocate(context.Background(), sites.SiteA, "P1", TagMember)
	require.NoError(t, err)
	assert.Equal(t, "P1NV4", id)
}

func TestAllocateEmptyPrefixStartsAtOne(t *testing.T) {
	runner := &fakeRunner{rows: map[sites.SiteID][]map[string]any{}}
	alloc := NewAllocator(runner)

	id, err := alloc.Allocate(context.Background(), sites.SiteB, "P2", TagProject)
	require.NoError(t, err)
	assert.Equal(t, "P2DA1", id)
}

func TestAllocateSkipsUnorderedAndSparse(t *testing.T) {
	runner := &fakeRunner{rows: map[sites.SiteID][]map[string]any{
		sites.SiteA: memberRows("P1NV3", "P1NV1"),
	}}
	alloc := NewAllocator(runner)

	id, err := alloc.Allocate(context.Background(), sites.SiteA, "P1", TagMember)
	require.NoError(t, err)
	assert.Equal(t, "P1NV2", id)
}

func TestAllocateGroupTagIgnoresMemberIDs(t *testing.T) {
	// A LIKE scan for the group prefix P1N also matches member ids such as
	// P1NV1; their non-numeric suffixes must not poison the ordinal set.
	runner := &fakeRunner{rows: map[sites.SiteID][]map[string]any{
		sites.SiteA: {
			{"group_id": "P1N1"},
			{"group_id": "P1NV1"},
			{"group_id": "P1NV2"},
		},
	}}
	alloc := NewAllocator(runner)

	id, err := alloc.Allocate(context.Background(), sites.SiteA, "P1", TagGroup)
	require.NoError(t, err)
	assert.Equal(t, "P1N2", id)
}

func TestAllocateUnknownTag(t *testing.T) {
	alloc := NewAllocator(&fakeRunner{})

	_, err := alloc.Allocate(context.Background(), sites.SiteA, "P1", "XX")
	assert.Error(t, err)
}

func TestParseOrdinal(t *testing.T) {
	n, ok := parseOrdinal("P1NV12", "P1NV")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = parseOrdinal("P1NV", "P1NV")
	assert.False(t, ok)

	_, ok = parseOrdinal("P1NVx7", "P1NV")
	assert.False(t, ok)

	_, ok = parseOrdinal("P1NV0", "P1NV")
	assert.False(t, ok)

	_, ok = parseOrdinal("P2NV1", "P1NV")
	assert.False(t, ok)
}

func TestFirstGap(t *testing.T) {
	assert.Equal(t, 3, firstGap([]int{1, 2, 4}))
	assert.Equal(t, 4, firstGap([]int{1, 2, 3}))
	assert.Equal(t, 1, firstGap(nil))
	assert.Equal(t, 1, firstGap([]int{2, 3}))
	assert.Equal(t, 2, firstGap([]int{1, 1, 3}))
}
