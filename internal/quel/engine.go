// Package quel is the query engine entry point. An Engine parses a Quel
// query, decomposes it into stages against the schema registry, executes
// the plan and materializes the projected rows into a Result.
package quel

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/quellabs/objectquel/internal/quel/eval"
	"github.com/quellabs/objectquel/internal/quel/executor"
	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/planner"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/schema"
)

// Engine executes Quel queries. It is safe for concurrent use; each query
// runs its stages sequentially.
type Engine struct {
	registry     *schema.Registry
	decomposer   *planner.Decomposer
	executor     *executor.Executor
	materializer schema.Materializer
	logger       *slog.Logger
}

type options struct {
	logger       *slog.Logger
	loader       executor.JSONLoader
	materializer schema.Materializer
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the engine logger. Stage and query timings are logged
// at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithJSONLoader sets the loader for json_source ranges.
func WithJSONLoader(l executor.JSONLoader) Option {
	return func(o *options) { o.loader = l }
}

// WithMaterializer replaces the default entity materializer.
func WithMaterializer(m schema.Materializer) Option {
	return func(o *options) { o.materializer = m }
}

// New creates an engine. sink may be nil for engines that only query JSON
// sources.
func New(registry *schema.Registry, sink executor.Sink, opts ...Option) (*Engine, error) {
	o := options{
		logger:       slog.New(slog.DiscardHandler),
		materializer: schema.DefaultMaterializer{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	execOpts := []executor.Option{executor.WithLogger(o.logger)}
	if o.loader != nil {
		execOpts = append(execOpts, executor.WithJSONLoader(o.loader))
	}
	// a nil *SQLSink must not become a non-nil interface
	if v := reflect.ValueOf(sink); sink != nil && v.Kind() == reflect.Pointer && v.IsNil() {
		sink = nil
	}
	exec, err := executor.New(registry, sink, execOpts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		registry:     registry,
		decomposer:   planner.NewDecomposer(registry),
		executor:     exec,
		materializer: o.materializer,
		logger:       o.logger,
	}, nil
}

// Registry returns the schema registry the engine plans against.
func (e *Engine) Registry() *schema.Registry { return e.registry }

// Explain parses and decomposes a query without executing it.
func (e *Engine) Explain(query string, params map[string]any) (*planner.ExecutionPlan, error) {
	ret, err := ql.Parse(query)
	if err != nil {
		return nil, err
	}
	return e.decomposer.Decompose(ret, params)
}

// ExecuteQuery runs a query with the given parameter bindings. Errors are
// *ql.LexerError, *ql.ParseError or *fault.QuelError.
func (e *Engine) ExecuteQuery(ctx context.Context, query string, params map[string]any) (*Result, error) {
	start := time.Now()
	plan, err := e.Explain(query, params)
	if err != nil {
		return nil, err
	}
	rows, err := e.executor.Execute(ctx, plan)
	if err != nil {
		return nil, err
	}

	ret := plan.Retrieve
	var out []map[string]any
	if ret.IsAggregate() {
		row, err := e.aggregate(ret, rows, params)
		if err != nil {
			return nil, err
		}
		out = executor.Page([]map[string]any{row}, ret.Window)
	} else {
		if out, err = e.project(plan, rows, params); err != nil {
			return nil, err
		}
		if ret.Unique {
			out = executor.Page(unique(out, ret.Projections), ret.Window)
		}
	}

	e.logger.Debug("query executed",
		"stages", len(plan.Stages),
		"rows", len(out),
		"elapsed", time.Since(start),
	)
	return newResult(columnNames(ret), out), nil
}

func columnNames(ret *ql.Retrieve) []string {
	names := make([]string, len(ret.Projections))
	for i, p := range ret.Projections {
		names[i] = p.Name
	}
	return names
}

func (e *Engine) aggregate(ret *ql.Retrieve, rows []eval.Row, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(ret.Projections))
	for _, p := range ret.Projections {
		n, err := e.executor.Evaluator().Aggregate(p.Expr.(ql.Aggregate), rows, params)
		if err != nil {
			return nil, err
		}
		out[p.Name] = n
	}
	return out, nil
}

// ── projection ──────────────────────────────────────────────────────────────

// identityMap hands out one instance per entity row within a result.
type identityMap map[string]any

func (e *Engine) project(plan *planner.ExecutionPlan, rows []eval.Row, params map[string]any) ([]map[string]any, error) {
	ids := identityMap{}
	ev := e.executor.Evaluator()
	out := make([]map[string]any, 0, len(rows))

	for _, row := range rows {
		projected := make(map[string]any, len(plan.Retrieve.Projections))
		for _, p := range plan.Retrieve.Projections {
			var (
				v   any
				err error
			)
			if id, ok := p.Expr.(*ql.Identifier); ok && id.IsAlias() {
				v, err = e.rangeValue(plan, id.Alias, row, ids)
			} else {
				v, err = ev.Value(p.Expr, row, params)
			}
			if err != nil {
				return nil, err
			}
			projected[p.Name] = v
		}
		out = append(out, projected)
	}
	return out, nil
}

// rangeValue is the value of a bare alias projection: an entity for
// entity ranges, the field map for JSON ranges, nil for a left join miss.
func (e *Engine) rangeValue(plan *planner.ExecutionPlan, alias string, row eval.Row, ids identityMap) (any, error) {
	fields := row.Fields(alias)
	if fields == nil {
		return nil, nil
	}
	r := plan.Range(alias)
	if r == nil || r.Entity == nil {
		return fields, nil
	}

	key, keyed := identityKey(r.Entity, fields)
	if keyed {
		if v, ok := ids[key]; ok {
			return v, nil
		}
	}
	v, err := e.materializer.Materialize(r.Entity, fields)
	if err != nil {
		return nil, fault.Wrap(fault.MaterializeCode, fmt.Sprintf("materializing %s", alias), err)
	}
	if keyed {
		ids[key] = v
	}
	return v, nil
}

func identityKey(es *schema.EntitySchema, fields map[string]any) (string, bool) {
	idNames := es.Identifiers()
	if len(idNames) == 0 {
		return "", false
	}
	parts := []string{es.Name}
	for _, name := range idNames {
		v := fields[name]
		if v == nil {
			return "", false
		}
		parts = append(parts, eval.DistinctKey(v))
	}
	return strings.Join(parts, "\x1f"), true
}

// unique drops repeated rows. Entities compare by identity.
func unique(rows []map[string]any, projections []ql.Projection) []map[string]any {
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		parts := make([]string, len(projections))
		for i, p := range projections {
			parts[i] = valueKey(row[p.Name])
		}
		k := strings.Join(parts, "\x1f")
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, row)
	}
	return out
}

func valueKey(v any) string {
	if v == nil {
		return "nil"
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		return fmt.Sprintf("p:%p", v)
	}
	return eval.DistinctKey(v)
}
