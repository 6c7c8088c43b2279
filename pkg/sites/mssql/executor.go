package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// Executor runs queries against a SQL Server site. Placeholders written as
// `?` are rewritten to @p1, @p2, ... and bound with sql.Named, which is the
// form the go-mssqldb driver expects.
type Executor struct {
	db *sql.DB
}

// NewExecutor creates a SQL Server executor over an existing pool.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

func (e *Executor) Dialect() sites.Dialect {
	return sites.DialectSQLServer
}

// Query runs a row-returning statement.
func (e *Executor) Query(ctx context.Context, query string, params ...any) (*sites.Result, error) {
	rewritten, named := rewrite(query, params)

	rows, err := e.db.QueryContext(ctx, rewritten, named...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("get column types: %w", err)
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			val := values[i]
			// The driver returns text columns as []byte; normalize to string
			// so results match the PostgreSQL executor's shape.
			if b, ok := val.([]byte); ok && isStringType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col] = val
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
	rewritten, named := rewrite(query, params)

	res, err := e.db.ExecContext(ctx, rewritten, named...)
	if err != nil {
		return nil, classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	return &sites.Result{
		Rows:         []map[string]any{},
		RowsAffected: affected,
	}, nil
}

func rewrite(query string, params []any) (string, []any) {
	rewritten := sites.RewritePlaceholders(query, func(n int) string {
		return fmt.Sprintf("@p%d", n)
	})
	named := make([]any, len(params))
	for i, p := range params {
		named[i] = sql.Named(fmt.Sprintf("p%d", i+1), p)
	}
	return rewritten, named
}

func isStringType(dbType string) bool {
	switch strings.ToUpper(dbType) {
	case "CHAR", "NCHAR", "VARCHAR", "NVARCHAR", "TEXT", "NTEXT":
		return true
	}
	return false
}

// classify maps driver errors into the shared error taxonomy.
func classify(err error) error {
	var srvErr mssqldb.Error
	if errors.As(err, &srvErr) {
		switch srvErr.Number {
		case 2627, 2601:
			return fmt.Errorf("%w: %s", apperrors.ErrDuplicateKey, srvErr.Message)
		case 547:
			return fmt.Errorf("%w: %s", apperrors.ErrForeignReference, srvErr.Message)
		}
		return err
	}
	if isConnectivity(err) {
		return fmt.Errorf("%w: %v", apperrors.ErrConnectivity, err)
	}
	return err
}

func isConnectivity(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"unable to open tcp connection",
		"database is closed",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var _ sites.Executor = (*Executor)(nil)
