package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/config"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// registryRunner serves the site_routing table from memory, keyed by the
// shape of the query rather than full SQL parsing.
type registryRunner struct {
	fakeRunner
	entries []map[string]any
}

func (r *registryRunner) QueryAt(ctx context.Context, site sites.SiteID, query string, params ...any) (*sites.Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(params) == 1 {
		// Lookup by room code.
		for _, e := range r.entries {
			if e["room_code"] == params[0] {
				rows := []map[string]any{e}
				return &sites.Result{Rows: rows, RowCount: 1}, nil
			}
		}
		return &sites.Result{Rows: nil, RowCount: 0}, nil
	}
	return &sites.Result{Rows: r.entries, RowCount: len(r.entries)}, nil
}

func TestStoreLookup(t *testing.T) {
	runner := &registryRunner{entries: []map[string]any{
		{"room_code": "P1", "site_name": "siteA", "db_type": "sqlserver"},
		{"room_code": "P2", "site_name": "siteC", "db_type": "postgres"},
	}}
	store := NewSQLStore(runner, nil)

	site, err := store.Lookup(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, sites.SiteA, site)

	site, err = store.Lookup(context.Background(), "P2")
	require.NoError(t, err)
	assert.Equal(t, sites.SiteC, site)
}

func TestStoreLookupUnknownPartition(t *testing.T) {
	store := NewSQLStore(&registryRunner{}, nil)

	_, err := store.Lookup(context.Background(), "Z9")
	assert.True(t, errors.Is(err, apperrors.ErrUnknownPartition))
}

func TestStoreLookupInvalidSite(t *testing.T) {
	runner := &registryRunner{entries: []map[string]any{
		{"room_code": "P1", "site_name": "siteX", "db_type": "sqlserver"},
	}}
	store := NewSQLStore(runner, nil)

	_, err := store.Lookup(context.Background(), "P1")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidSite))
}

func TestStoreLookupGlobalDown(t *testing.T) {
	runner := &registryRunner{}
	runner.err = apperrors.ErrConnectivity
	store := NewSQLStore(runner, nil)

	_, err := store.Lookup(context.Background(), "P1")
	assert.True(t, errors.Is(err, apperrors.ErrConnectivity))
}

func TestStoreList(t *testing.T) {
	runner := &registryRunner{entries: []map[string]any{
		{"room_code": "P1", "site_name": "siteA", "db_type": "sqlserver"},
		{"room_code": "P2", "site_name": "siteB", "db_type": "sqlserver"},
	}}
	store := NewSQLStore(runner, nil)

	entries, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "P1", entries[0].RoomCode)
	assert.Equal(t, "siteA", entries[0].SiteName)
	assert.Equal(t, "sqlserver", entries[0].DBType)
}

func TestStoreDistinctSites(t *testing.T) {
	runner := &registryRunner{entries: []map[string]any{
		{"room_code": "P1", "site_name": "siteA", "db_type": "sqlserver"},
		{"room_code": "P2", "site_name": "siteA", "db_type": "sqlserver"},
		{"room_code": "P3", "site_name": "siteC", "db_type": "postgres"},
	}}
	store := NewSQLStore(runner, nil)

	out, err := store.DistinctSites(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []sites.SiteID{sites.SiteA, sites.SiteC}, out)
}

func TestStoreUpsertInsertsThenUpdates(t *testing.T) {
	cfg := &config.Config{Sites: config.SitesConfig{
		SiteB: config.SiteConfig{Dialect: "sqlserver"},
	}}
	pools := sites.NewPoolManager(cfg, zaptest.NewLogger(t))

	runner := &registryRunner{}
	store := NewSQLStore(runner, pools)

	// No existing row: the UPDATE affects nothing and an INSERT follows.
	runner.affected = 0
	require.NoError(t, store.Upsert(context.Background(), "P9", sites.SiteB))
	require.Len(t, runner.execs, 2)
	assert.Contains(t, runner.execs[0], "UPDATE site_routing")
	assert.Contains(t, runner.execs[1], "INSERT INTO site_routing")

	// Existing row: the UPDATE suffices.
	runner.execs = nil
	runner.affected = 1
	require.NoError(t, store.Upsert(context.Background(), "P9", sites.SiteB))
	require.Len(t, runner.execs, 1)
	assert.Contains(t, runner.execs[0], "UPDATE site_routing")
}
