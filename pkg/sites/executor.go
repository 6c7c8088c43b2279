package sites

import (
	"context"
	"fmt"
	"sync"
)

// Result is the dialect-neutral shape of a query outcome. Both dialect
// executors normalize their driver's response envelope into this form.
type Result struct {
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	RowCount     int              `json:"row_count"`
	RowsAffected int64            `json:"rows_affected"`
}

// Executor runs logical queries against one site. Queries use `?` positional
// placeholders regardless of dialect; each implementation rewrites them to
// its engine's native parameter syntax. Driver errors are classified into the
// apperrors taxonomy exactly once, here at the execution boundary.
type Executor interface {
	// Query runs a row-returning statement.
	Query(ctx context.Context, query string, params ...any) (*Result, error)

	// Exec runs a statement executed for effect (INSERT/UPDATE/DELETE).
	Exec(ctx context.Context, query string, params ...any) (*Result, error)

	// Dialect returns the executor's engine dialect.
	Dialect() Dialect
}

// ExecutorFactory builds an Executor over an existing pool connector.
type ExecutorFactory func(conn PoolConnector) (Executor, error)

var (
	executorsMu sync.RWMutex
	executors   = make(map[Dialect]ExecutorFactory)
)

// RegisterExecutor is called by each dialect package's init().
// Thread-safe for concurrent init() calls.
func RegisterExecutor(dialect Dialect, factory ExecutorFactory) {
	executorsMu.Lock()
	defer executorsMu.Unlock()
	executors[dialect] = factory
}

// NewExecutor builds the registered executor for the connector's dialect.
// Returns an error if the dialect package was not compiled in.
func NewExecutor(conn PoolConnector) (Executor, error) {
	executorsMu.RLock()
	factory, ok := executors[conn.Dialect()]
	executorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no executor registered for dialect %q", conn.Dialect())
	}
	return factory(conn)
}

// RewritePlaceholders replaces each `?` outside single-quoted literals with
// the string produced by next (called with the 1-based parameter index).
// Shared by the dialect executors.
func RewritePlaceholders(query string, next func(n int) string) string {
	var out []byte
	n := 0
	inLiteral := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inLiteral = !inLiteral
			out = append(out, c)
		case c == '?' && !inLiteral:
			n++
			out = append(out, next(n)...)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// StringField reads one column of a normalized result row as a string,
// tolerating nil, driver byte slices and Stringer values (uuids).
func StringField(row map[string]any, column string) string {
	switch v := row[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
