package mssql

import (
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

func init() {
	sites.RegisterExecutor(sites.DialectSQLServer, func(conn sites.PoolConnector) (sites.Executor, error) {
		db, err := sites.SQLDB(conn)
		if err != nil {
			return nil, err
		}
		return NewExecutor(db), nil
	})
}
