package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// Executor runs queries against a PostgreSQL site. Placeholders written as
// `?` are rewritten to $1, $2, ... before execution.
type Executor struct {
	pool *pgxpool.Pool
}

// NewExecutor creates a PostgreSQL executor over an existing pool.
func NewExecutor(pool *pgxpool.Pool) *Executor {
	return &Executor{pool: pool}
}

func (e *Executor) Dialect() sites.Dialect {
	return sites.DialectPostgres
}

// Query runs a row-returning statement.
func (e *Executor) Query(ctx context.Context, query string, params ...any) (*sites.Result, error) {
	rewritten := rewrite(query)

	rows, err := e.pool.Query(ctx, rewritten, params...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return &sites.Result{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// Exec runs a statement executed for effect.
func (e *Executor) Exec(ctx context.Context, query string, params ...any) (*sites.Result, error) {
	rewritten := rewrite(query)

	tag, err := e.pool.Exec(ctx, rewritten, params...)
	if err != nil {
		return nil, classify(err)
	}
	return &sites.Result{
		Rows:         []map[string]any{},
		RowsAffected: tag.RowsAffected(),
	}, nil
}

func rewrite(query string) string {
	return sites.RewritePlaceholders(query, func(n int) string {
		return fmt.Sprintf("$%d", n)
	})
}

// classify maps driver errors into the shared error taxonomy. Constraint
// violations carry their SQLSTATE class; everything unreachable-looking
// becomes a connectivity error so callers can treat the site as down.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicateKey, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", apperrors.ErrForeignReference, pgErr.ConstraintName)
		}
		return err
	}
	if isConnectivity(err) {
		return fmt.Errorf("%w: %v", apperrors.ErrConnectivity, err)
	}
	return err
}

func isConnectivity(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"closed pool",
		"conn closed",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var _ sites.Executor = (*Executor)(nil)
