package quel

import (
	"fmt"
	"reflect"
)

// Result is the materialized output of a query. Rows are keyed by
// projection name. A Result is not safe for concurrent use: it carries a
// row cursor.
type Result struct {
	columns []string
	rows    []map[string]any
	pos     int
}

func newResult(columns []string, rows []map[string]any) *Result {
	return &Result{columns: columns, rows: rows}
}

// FetchRow returns the next row and advances the cursor. ok is false once
// the rows are exhausted.
func (r *Result) FetchRow() (row map[string]any, ok bool) {
	if r.pos >= len(r.rows) {
		return nil, false
	}
	row = r.rows[r.pos]
	r.pos++
	return row, true
}

// RecordCount returns the number of rows.
func (r *Result) RecordCount() int { return len(r.rows) }

// Reset rewinds the cursor.
func (r *Result) Reset() { r.pos = 0 }

// Rows returns every row, ignoring the cursor.
func (r *Result) Rows() []map[string]any { return r.rows }

// Columns returns the projection names in declaration order.
func (r *Result) Columns() []string { return r.columns }

// GetCol returns the values of one column across all rows. Entity values
// appear once each, in first-seen order, so a relation fan-out yields each
// entity a single time; other values are returned as they are.
func (r *Result) GetCol(name string) []any {
	out := make([]any, 0, len(r.rows))
	seen := make(map[string]bool)
	for _, row := range r.rows {
		v, ok := row[name]
		if !ok {
			continue
		}
		if v != nil && reflect.ValueOf(v).Kind() == reflect.Pointer {
			k := fmt.Sprintf("%p", v)
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, v)
	}
	return out
}
