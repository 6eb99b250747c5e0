// Package duckdbrunner implements reactiveq's Runner contract against an
// embedded DuckDB connection via github.com/marcboeker/go-duckdb, so
// reactiveq can be exercised end-to-end against the real analytical
// engine the core's design conceptually targets, not only a stub.
package duckdbrunner

import (
	"database/sql"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/ducklens/reactiveq"
)

// New returns a reactiveq.Runner that executes sqlText against db. DuckDB's
// driver has no async execution mode, so every call settles immediately —
// this Runner always exercises the synchronous branch of MaybeDeferred.
func New(db *sql.DB) reactiveq.Runner {
	return func(sqlText, label string) reactiveq.RunnerResult {
		rows, err := query(db, sqlText)
		if err != nil {
			return reactiveq.Immediate(nil, err)
		}
		return reactiveq.Immediate(rows, nil)
	}
}

// Open opens an embedded DuckDB database at path (":memory:" for an
// in-memory instance) and returns a ready-to-use Runner alongside the
// *sql.DB so callers can Close it.
func Open(path string) (*sql.DB, reactiveq.Runner, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, nil, err
	}
	return db, New(db), nil
}

func query(db *sql.DB, sqlText string) (reactiveq.Rows, error) {
	result, err := db.Query(sqlText)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	cols, err := result.Columns()
	if err != nil {
		return nil, err
	}

	var rows reactiveq.Rows
	for result.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := result.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(reactiveq.Row, len(cols))
		for i, name := range cols {
			row[name] = values[i]
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	return rows, nil
}
