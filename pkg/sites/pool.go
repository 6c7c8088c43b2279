package sites

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/labmesh-io/labmesh-engine/pkg/config"
	"github.com/labmesh-io/labmesh-engine/pkg/logging"
	"github.com/labmesh-io/labmesh-engine/pkg/retry"
)

// PoolManager lazily creates and caches one long-lived connection pool per
// site. Pools are never expired or recreated here: staleness is surfaced by
// the health monitor and routed around by the failover resolver at the call
// site. Concurrent first connections to the same site are collapsed with
// singleflight so a burst of requests cannot create duplicate pools.
type PoolManager struct {
	mu     sync.RWMutex
	pools  map[SiteID]PoolConnector
	flight singleflight.Group
	cfg    *config.Config
	logger *zap.Logger
	closed bool

	// connectFn is swapped out in tests.
	connectFn func(ctx context.Context, site SiteID) (PoolConnector, error)
}

// NewPoolManager creates a pool manager for the configured site topology.
func NewPoolManager(cfg *config.Config, logger *zap.Logger) *PoolManager {
	m := &PoolManager{
		pools:  make(map[SiteID]PoolConnector),
		cfg:    cfg,
		logger: logger,
	}
	m.connectFn = m.connect
	return m
}

// SiteIDs returns every configured site, global included.
func (m *PoolManager) SiteIDs() []SiteID {
	return AllSites()
}

// SiteConfig returns the connection settings for a site.
func (m *PoolManager) SiteConfig(site SiteID) (config.SiteConfig, error) {
	switch site {
	case SiteA:
		return m.cfg.Sites.SiteA, nil
	case SiteB:
		return m.cfg.Sites.SiteB, nil
	case SiteC:
		return m.cfg.Sites.SiteC, nil
	case SiteGlobal:
		return m.cfg.Sites.Global, nil
	}
	return config.SiteConfig{}, fmt.Errorf("no configuration for site %q", site)
}

// Get returns the cached pool for site, creating it on first use.
func (m *PoolManager) Get(ctx context.Context, site SiteID) (PoolConnector, error) {
	m.mu.RLock()
	conn, ok := m.pools[site]
	closed := m.closed
	m.mu.RUnlock()
	if ok {
		return conn, nil
	}
	if closed {
		return nil, fmt.Errorf("pool manager is closed")
	}

	v, err, _ := m.flight.Do(string(site), func() (any, error) {
		// Re-check under the flight: a previous caller may have stored it.
		m.mu.RLock()
		existing, ok := m.pools[site]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		created, err := m.connectFn(ctx, site)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.closed {
			// Close ran while we were connecting; the swept map would
			// never release this pool.
			m.mu.Unlock()
			_ = created.Close()
			return nil, fmt.Errorf("pool manager is closed")
		}
		m.pools[site] = created
		m.mu.Unlock()

		m.logger.Info("opened connection pool",
			zap.String("site", string(site)),
			zap.String("dialect", string(created.Dialect())),
		)
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PoolConnector), nil
}

// Executor returns a dialect executor over the site's pool.
func (m *PoolManager) Executor(ctx context.Context, site SiteID) (Executor, error) {
	conn, err := m.Get(ctx, site)
	if err != nil {
		return nil, err
	}
	return NewExecutor(conn)
}

func (m *PoolManager) connect(ctx context.Context, site SiteID) (PoolConnector, error) {
	siteCfg, err := m.SiteConfig(site)
	if err != nil {
		return nil, err
	}
	connStr := siteCfg.ConnString(m.cfg)

	dialect, err := ParseDialect(siteCfg.Dialect)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site, err)
	}

	switch dialect {
	case DialectPostgres:
		poolCfg, err := pgxpool.ParseConfig(connStr)
		if err != nil {
			return nil, fmt.Errorf("site %s: parse connection string: %w", site, err)
		}
		poolCfg.MaxConns = m.cfg.Pool.MaxConns
		poolCfg.MinConns = m.cfg.Pool.MinConns

		pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
			return pgxpool.NewWithConfig(ctx, poolCfg)
		})
		if err != nil {
			m.logger.Error("failed to open postgres pool",
				zap.String("site", string(site)),
				zap.String("error", logging.SanitizeError(err)),
			)
			return nil, fmt.Errorf("site %s: open pool: %w", site, err)
		}
		return NewPostgresPool(pool), nil

	default:
		db, err := sql.Open("sqlserver", connStr)
		if err != nil {
			m.logger.Error("failed to open sqlserver pool",
				zap.String("site", string(site)),
				zap.String("error", logging.SanitizeError(err)),
			)
			return nil, fmt.Errorf("site %s: open pool: %w", site, err)
		}
		db.SetMaxOpenConns(int(m.cfg.Pool.MaxConns))
		db.SetMaxIdleConns(int(m.cfg.Pool.MinConns))
		return NewMSSQLPool(db), nil
	}
}

// Close closes every cached pool. Idempotent.
func (m *PoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for site, conn := range m.pools {
		if err := conn.Close(); err != nil {
			m.logger.Warn("failed to close pool",
				zap.String("site", string(site)),
				zap.String("error", logging.SanitizeError(err)),
			)
		}
	}
	m.pools = make(map[SiteID]PoolConnector)
	m.logger.Info("pool manager closed")
}
