package sites

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConnector abstracts a per-site connection pool across database engines.
type PoolConnector interface {
	// Ping verifies the site is reachable. Used by the health monitor as
	// the cheapest possible liveness probe.
	Ping(ctx context.Context) error

	// Close closes all connections in the pool.
	Close() error

	// Dialect returns the engine dialect behind the pool.
	Dialect() Dialect
}

// PostgresPool wraps *pgxpool.Pool to implement PoolConnector.
type PostgresPool struct {
	pool *pgxpool.Pool
}

// NewPostgresPool creates a PostgreSQL pool wrapper.
func NewPostgresPool(pool *pgxpool.Pool) *PostgresPool {
	return &PostgresPool{pool: pool}
}

func (p *PostgresPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresPool) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresPool) Dialect() Dialect {
	return DialectPostgres
}

// Pool returns the underlying *pgxpool.Pool.
func (p *PostgresPool) Pool() *pgxpool.Pool {
	return p.pool
}

// MSSQLPool wraps *sql.DB to implement PoolConnector.
type MSSQLPool struct {
	db *sql.DB
}

// NewMSSQLPool creates a SQL Server pool wrapper.
func NewMSSQLPool(db *sql.DB) *MSSQLPool {
	return &MSSQLPool{db: db}
}

func (p *MSSQLPool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *MSSQLPool) Close() error {
	return p.db.Close()
}

func (p *MSSQLPool) Dialect() Dialect {
	return DialectSQLServer
}

// DB returns the underlying *sql.DB.
func (p *MSSQLPool) DB() *sql.DB {
	return p.db
}

// PgxPool extracts the pgxpool.Pool from a connector.
// Returns an error if the connector is not a PostgreSQL pool.
func PgxPool(conn PoolConnector) (*pgxpool.Pool, error) {
	wrapper, ok := conn.(*PostgresPool)
	if !ok {
		return nil, fmt.Errorf("connector is not a PostgreSQL pool")
	}
	return wrapper.Pool(), nil
}

// SQLDB extracts the *sql.DB from a connector.
// Returns an error if the connector is not a SQL Server pool.
func SQLDB(conn PoolConnector) (*sql.DB, error) {
	wrapper, ok := conn.(*MSSQLPool)
	if !ok {
		return nil, fmt.Errorf("connector is not a SQL Server pool")
	}
	return wrapper.DB(), nil
}
