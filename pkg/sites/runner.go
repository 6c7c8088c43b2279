package sites

import (
	"context"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/logging"
)

// ExecutorSource provides dialect executors per site. Satisfied by
// *PoolManager; faked in tests.
type ExecutorSource interface {
	Executor(ctx context.Context, site SiteID) (Executor, error)
}

// SiteResult is one site's outcome of a fan-out query.
type SiteResult struct {
	Site   SiteID
	Result *Result
	Err    error
}

// QueryRunner is the call-site surface of the routing plane: failover-aware
// reads, direct reads and writes, and fan-out over available sites.
// Repositories and the routing store consume this interface.
type QueryRunner interface {
	// Query runs a read at preferred, failing over to another available
	// data site when preferred is down.
	Query(ctx context.Context, preferred SiteID, query string, params ...any) (*Result, error)

	// QueryAt runs a read at exactly the given site, no failover.
	QueryAt(ctx context.Context, site SiteID, query string, params ...any) (*Result, error)

	// Exec runs a write at exactly the given site. Writes never fail over:
	// landing a row on an alternate site would contradict the placement the
	// routing table records.
	Exec(ctx context.Context, site SiteID, query string, params ...any) (*Result, error)

	// FanOut runs a read on every available data site except those listed,
	// returning per-site results. Unavailable sites are skipped, failing
	// sites are reported in their SiteResult; partial output is normal.
	FanOut(ctx context.Context, query string, params []any, exclude ...SiteID) []SiteResult
}

// Runner wires the failover resolver, health snapshot and pool manager into
// the QueryRunner surface.
type Runner struct {
	execs    ExecutorSource
	failover *FailoverResolver
	health   SnapshotSource
	logger   *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(execs ExecutorSource, failover *FailoverResolver, health SnapshotSource, logger *zap.Logger) *Runner {
	return &Runner{execs: execs, failover: failover, health: health, logger: logger}
}

func (r *Runner) Query(ctx context.Context, preferred SiteID, query string, params ...any) (*Result, error) {
	site, err := r.failover.Resolve(preferred)
	if err != nil {
		return nil, err
	}
	if site != preferred {
		r.logger.Warn("failover engaged",
			zap.String("preferred", string(preferred)),
			zap.String("using", string(site)),
			zap.String("query", logging.SanitizeQuery(query)),
		)
	}
	return r.QueryAt(ctx, site, query, params...)
}

func (r *Runner) QueryAt(ctx context.Context, site SiteID, query string, params ...any) (*Result, error) {
	exec, err := r.execs.Executor(ctx, site)
	if err != nil {
		return nil, err
	}
	return exec.Query(ctx, query, params...)
}

func (r *Runner) Exec(ctx context.Context, site SiteID, query string, params ...any) (*Result, error) {
	exec, err := r.execs.Executor(ctx, site)
	if err != nil {
		return nil, err
	}
	return exec.Exec(ctx, query, params...)
}

func (r *Runner) FanOut(ctx context.Context, query string, params []any, exclude ...SiteID) []SiteResult {
	excluded := make(map[SiteID]bool, len(exclude))
	for _, site := range exclude {
		excluded[site] = true
	}

	snap := r.health.Snapshot()
	var results []SiteResult
	for _, site := range snap.AvailableDataSites() {
		if excluded[site] {
			continue
		}
		res, err := r.QueryAt(ctx, site, query, params...)
		if err != nil {
			r.logger.Warn("fan-out query failed on site",
				zap.String("site", string(site)),
				zap.String("error", logging.SanitizeError(err)),
			)
			results = append(results, SiteResult{Site: site, Err: err})
			continue
		}
		results = append(results, SiteResult{Site: site, Result: res})
	}
	return results
}

// Compile-time interface checks.
var (
	_ QueryRunner      = (*Runner)(nil)
	_ ExecutorSource   = (*PoolManager)(nil)
	_ ConnectionSource = (*PoolManager)(nil)
)
