package routing

import (
	"context"
	"fmt"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// Store is the site registry: partition key to site and dialect. The backing
// table lives only at the global site, and every call reads it fresh; the
// registry is small and callers tolerate the extra round trip in exchange
// for never serving a stale route.
type Store interface {
	// List returns every registry row.
	List(ctx context.Context) ([]models.RouteEntry, error)

	// Lookup resolves one partition key to its site.
	Lookup(ctx context.Context, roomCode string) (sites.SiteID, error)

	// DistinctSites returns the set of data sites that currently own at
	// least one partition, in registry order.
	DistinctSites(ctx context.Context) ([]sites.SiteID, error)

	// Upsert registers or re-points a partition key.
	Upsert(ctx context.Context, roomCode string, site sites.SiteID) error

	// Remove drops a partition key from the registry.
	Remove(ctx context.Context, roomCode string) error
}

// SQLStore reads and writes the site_routing table at the global site. No
// failover: the registry exists nowhere else, so a down global site is an
// outage for routing, not a reroutable condition.
type SQLStore struct {
	runner sites.QueryRunner
	pools  *sites.PoolManager
}

// NewSQLStore creates the registry store.
func NewSQLStore(runner sites.QueryRunner, pools *sites.PoolManager) *SQLStore {
	return &SQLStore{runner: runner, pools: pools}
}

func (s *SQLStore) List(ctx context.Context) ([]models.RouteEntry, error) {
	res, err := s.runner.QueryAt(ctx, sites.SiteGlobal,
		"SELECT room_code, site_name, db_type FROM site_routing ORDER BY room_code")
	if err != nil {
		return nil, fmt.Errorf("list site routing: %w", err)
	}

	entries := make([]models.RouteEntry, 0, len(res.Rows))
	for _, row := range res.Rows {
		entries = append(entries, models.RouteEntry{
			RoomCode: sites.StringField(row, "room_code"),
			SiteName: sites.StringField(row, "site_name"),
			DBType:   sites.StringField(row, "db_type"),
		})
	}
	return entries, nil
}

func (s *SQLStore) Lookup(ctx context.Context, roomCode string) (sites.SiteID, error) {
	res, err := s.runner.QueryAt(ctx, sites.SiteGlobal,
		"SELECT site_name FROM site_routing WHERE room_code = ?", roomCode)
	if err != nil {
		return "", fmt.Errorf("lookup partition %q: %w", roomCode, err)
	}
	if res.RowCount == 0 {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownPartition, roomCode)
	}

	site, err := sites.ParseSiteID(sites.StringField(res.Rows[0], "site_name"))
	if err != nil {
		return "", err
	}
	return site, nil
}

func (s *SQLStore) DistinctSites(ctx context.Context) ([]sites.SiteID, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[sites.SiteID]bool)
	var out []sites.SiteID
	for _, e := range entries {
		site, err := sites.ParseSiteID(e.SiteName)
		if err != nil {
			return nil, err
		}
		if site == sites.SiteGlobal || seen[site] {
			continue
		}
		seen[site] = true
		out = append(out, site)
	}
	return out, nil
}

func (s *SQLStore) Upsert(ctx context.Context, roomCode string, site sites.SiteID) error {
	cfg, err := s.pools.SiteConfig(site)
	if err != nil {
		return err
	}

	res, err := s.runner.Exec(ctx, sites.SiteGlobal,
		"UPDATE site_routing SET site_name = ?, db_type = ? WHERE room_code = ?",
		string(site), cfg.Dialect, roomCode)
	if err != nil {
		return fmt.Errorf("upsert routing for %q: %w", roomCode, err)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	_, err = s.runner.Exec(ctx, sites.SiteGlobal,
		"INSERT INTO site_routing (room_code, site_name, db_type) VALUES (?, ?, ?)",
		roomCode, string(site), cfg.Dialect)
	if err != nil {
		return fmt.Errorf("insert routing for %q: %w", roomCode, err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, roomCode string) error {
	_, err := s.runner.Exec(ctx, sites.SiteGlobal,
		"DELETE FROM site_routing WHERE room_code = ?", roomCode)
	if err != nil {
		return fmt.Errorf("remove routing for %q: %w", roomCode, err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
