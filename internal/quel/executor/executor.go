// Package executor runs an execution plan: it fetches each stage from its
// source, merges stage rows by hash join, applies deferred conditions and
// orders the result.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/quellabs/objectquel/internal/quel/eval"
	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/planner"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/source"
	"github.com/quellabs/objectquel/internal/quel/sqlgen"
)

// Sink executes SQL for database stages.
type Sink interface {
	Dialect() string
	Query(ctx context.Context, query string, args []any) ([]eval.Row, error)
}

// JSONLoader reads the records of a json_source range.
type JSONLoader interface {
	Load(ctx context.Context, path, jsonPath string) ([]map[string]any, error)
}

// Executor runs plans. It holds no per-query state and may be shared.
type Executor struct {
	sink       Sink
	translator *sqlgen.Translator
	json       JSONLoader
	eval       *eval.Evaluator
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for per-stage debug output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithJSONLoader replaces the file loader used for json_source ranges.
func WithJSONLoader(l JSONLoader) Option {
	return func(e *Executor) { e.json = l }
}

// WithEvaluator shares an evaluator, and its pattern cache, with the caller.
func WithEvaluator(ev *eval.Evaluator) Option {
	return func(e *Executor) { e.eval = ev }
}

// New creates an executor. sink may be nil when only JSON sources are
// queried.
func New(registry planner.Registry, sink Sink, opts ...Option) (*Executor, error) {
	e := &Executor{
		sink:   sink,
		json:   source.NewJSONLoader(""),
		eval:   eval.New(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if sink != nil {
		tr, err := sqlgen.New(sink.Dialect(), registry)
		if err != nil {
			return nil, err
		}
		e.translator = tr
	}
	return e, nil
}

// Evaluator returns the evaluator used for in-memory conditions.
func (e *Executor) Evaluator() *eval.Evaluator { return e.eval }

// execution is the state of one plan run.
type execution struct {
	plan   *planner.ExecutionPlan
	params map[string]any
	json   map[string][]map[string]any
}

// Execute runs every stage in order and returns the merged rows, sorted.
// The window is applied too, unless the statement is unique or aggregate:
// those rows are windowed after projection.
func (e *Executor) Execute(ctx context.Context, plan *planner.ExecutionPlan) ([]eval.Row, error) {
	run := &execution{
		plan:   plan,
		params: make(map[string]any, len(plan.Params)),
		json:   make(map[string][]map[string]any),
	}
	for k, v := range plan.Params {
		run.params[k] = v
	}

	var acc []eval.Row
	for i, st := range plan.Stages {
		start := time.Now()
		if i > 0 {
			e.bindSemiJoins(run, st, acc)
		}

		rows, err := e.fetch(ctx, run, st)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			acc = rows
		} else if acc, err = e.merge(run, acc, rows, st); err != nil {
			return nil, err
		}
		if acc, err = e.filter(run, acc, st.Deferred); err != nil {
			return nil, err
		}

		e.logger.Debug("stage executed",
			"stage", st.Name,
			"kind", st.Kind.String(),
			"rows", len(rows),
			"merged", len(acc),
			"elapsed", time.Since(start),
		)
	}

	ret := plan.Retrieve
	acc, err := e.Sort(acc, ret.Sort, run.params)
	if err != nil {
		return nil, err
	}
	if !ret.Unique && !ret.IsAggregate() {
		acc = Page(acc, ret.Window)
	}
	return acc, nil
}

// ── stage fetch ─────────────────────────────────────────────────────────────

func (e *Executor) fetch(ctx context.Context, run *execution, st *planner.ExecutionStage) ([]eval.Row, error) {
	switch st.Kind {
	case planner.StageJSON:
		return e.fetchJSON(ctx, run, st)
	default:
		return e.fetchDatabase(ctx, run, st)
	}
}

func (e *Executor) fetchDatabase(ctx context.Context, run *execution, st *planner.ExecutionStage) ([]eval.Row, error) {
	if e.sink == nil {
		return nil, fault.Newf(fault.SQLCode, "stage %s needs a database, but none is configured", st.Name)
	}
	stmt, err := e.translator.Translate(st, run.params)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("stage sql", "stage", st.Name, "sql", stmt.SQL, "args", len(stmt.Args), "residual", len(stmt.Residual))

	raw, err := e.sink.Query(ctx, stmt.SQL, stmt.Args)
	if err != nil {
		return nil, err
	}
	rows := make([]eval.Row, len(raw))
	for i, r := range raw {
		rows[i] = stmt.Rekey(r)
	}
	return e.filter(run, rows, stmt.Residual)
}

func (e *Executor) fetchJSON(ctx context.Context, run *execution, st *planner.ExecutionStage) ([]eval.Row, error) {
	r := st.Ranges[0]
	js := r.JSON()

	key := js.Path + "\x00" + js.JSONPath
	records, ok := run.json[key]
	if !ok {
		var err error
		if records, err = e.json.Load(ctx, js.Path, js.JSONPath); err != nil {
			return nil, err
		}
		run.json[key] = records
	}

	rows := make([]eval.Row, 0, len(records))
	for _, rec := range records {
		row := make(eval.Row, len(rec))
		for k, v := range rec {
			row[r.Alias+"."+k] = v
		}
		if !semiJoinsMatch(run, st, row) {
			continue
		}
		rows = append(rows, row)
	}
	return e.filter(run, rows, st.Conditions)
}

// bindSemiJoins binds the distinct values each semi-join source took in
// the rows accumulated so far.
func (e *Executor) bindSemiJoins(run *execution, st *planner.ExecutionStage, acc []eval.Row) {
	for _, sj := range st.SemiJoins {
		seen := make(map[string]bool)
		values := []any{}
		for _, row := range acc {
			v := eval.Lookup(sj.Source, row)
			if v == nil {
				continue
			}
			k := eval.DistinctKey(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			values = append(values, v)
		}
		run.params[sj.Param] = values
	}
}

func semiJoinsMatch(run *execution, st *planner.ExecutionStage, row eval.Row) bool {
	for _, sj := range st.SemiJoins {
		v := eval.Lookup(sj.Column, row)
		if v == nil {
			return false
		}
		values, _ := run.params[sj.Param].([]any)
		found := false
		for _, want := range values {
			if eval.Compare(v, want) == 0 {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (e *Executor) filter(run *execution, rows []eval.Row, conds []ql.Expr) ([]eval.Row, error) {
	if len(conds) == 0 {
		return rows, nil
	}
	cond := ql.And(conds...)
	out := rows[:0:0]
	for _, row := range rows {
		ok, err := e.eval.Evaluate(cond, row, run.params)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}
