package postgres

import (
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

func init() {
	sites.RegisterExecutor(sites.DialectPostgres, func(conn sites.PoolConnector) (sites.Executor, error) {
		pool, err := sites.PgxPool(conn)
		if err != nil {
			return nil, err
		}
		return NewExecutor(pool), nil
	})
}
