// Package source provides the data sources a plan reads from: a SQL sink
// over ent's database driver and a JSON file loader with JSONPath support.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/quellabs/objectquel/internal/quel/eval"
	"github.com/quellabs/objectquel/internal/quel/fault"
)

// drivers maps a configured driver name to the database/sql driver and the
// ent dialect. Drivers register themselves through blank imports in main.
var drivers = map[string]struct{ driver, dialect string }{
	"sqlite":   {"sqlite", dialect.SQLite},
	"postgres": {"postgres", dialect.Postgres},
	"mysql":    {"mysql", dialect.MySQL},
}

// Drivers returns the supported driver names.
func Drivers() []string {
	return []string{"mysql", "postgres", "sqlite"}
}

// SQLSink executes generated statements and returns rows keyed by column
// label.
type SQLSink struct {
	drv *entsql.Driver
}

// NewSQLSink wraps an existing ent driver.
func NewSQLSink(drv *entsql.Driver) *SQLSink {
	return &SQLSink{drv: drv}
}

// OpenSQL opens a database by driver name (sqlite, postgres, mysql) and
// pings it. SQLite connections are limited to one so in-memory databases
// survive between queries.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLSink, error) {
	d, ok := drivers[driver]
	if !ok {
		return nil, fault.Newf(fault.SQLCode, "unsupported database driver '%s'", driver)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fault.Wrap(fault.SQLCode, "opening database", err)
	}
	if d.dialect == dialect.SQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fault.Wrap(fault.SQLCode, "connecting to database", err)
	}
	return NewSQLSink(entsql.OpenDB(d.dialect, db)), nil
}

// Dialect returns the ent dialect name of the underlying driver.
func (s *SQLSink) Dialect() string { return s.drv.Dialect() }

// DB returns the underlying database handle.
func (s *SQLSink) DB() *sql.DB { return s.drv.DB() }

// Close closes the database.
func (s *SQLSink) Close() error { return s.drv.Close() }

// Query runs a statement. []byte values are returned as strings.
func (s *SQLSink) Query(ctx context.Context, query string, args []any) ([]eval.Row, error) {
	if args == nil {
		args = []any{}
	}
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fault.New(fault.SQLCode, "query failed").WithOriginal(err).WithMetadata(query)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fault.Wrap(fault.SQLCode, "reading columns", err)
	}

	var out []eval.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fault.Wrap(fault.SQLCode, "scanning row", err)
		}
		row := make(eval.Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.SQLCode, "reading rows", err)
	}
	return out, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x
	default:
		return v
	}
}

// Exec runs a statement that returns no rows, e.g. DDL from the console.
func (s *SQLSink) Exec(ctx context.Context, query string, args ...any) error {
	if err := s.drv.Exec(ctx, query, args, nil); err != nil {
		return fault.Wrap(fault.SQLCode, fmt.Sprintf("exec failed: %s", query), err)
	}
	return nil
}
