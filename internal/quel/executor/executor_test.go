package executor

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/quellabs/objectquel/internal/quel/eval"
	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/planner"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/source"
	"github.com/quellabs/objectquel/internal/quel/schema/schematest"
)

type memLoader struct {
	files map[string][]map[string]any
	calls int
}

func (m *memLoader) Load(_ context.Context, path, _ string) ([]map[string]any, error) {
	m.calls++
	recs, ok := m.files[path]
	if !ok {
		return nil, fault.Newf(fault.SourceCode, "reading JSON source %s", path)
	}
	return recs, nil
}

func stockFile() *memLoader {
	return &memLoader{files: map[string][]map[string]any{
		"stock.json": {
			{"productId": int64(1525), "warehouse": "A", "qty": int64(4)},
			{"productId": int64(1527), "warehouse": "B", "qty": int64(0)},
			{"productId": int64(9999), "warehouse": "C", "qty": int64(1)},
		},
	}}
}

// recordingSink remembers the statements it ran.
type recordingSink struct {
	Sink
	args [][]any
}

func (r *recordingSink) Query(ctx context.Context, query string, args []any) ([]eval.Row, error) {
	r.args = append(r.args, args)
	return r.Sink.Query(ctx, query, args)
}

func shopSink(t *testing.T) *recordingSink {
	t.Helper()
	ctx := context.Background()
	sink, err := source.OpenSQL(ctx, "sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	require.NoError(t, schematest.Populate(ctx, sink.DB()))
	return &recordingSink{Sink: sink}
}

type fixture struct {
	sink   *recordingSink
	loader *memLoader
	exec   *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{sink: shopSink(t), loader: stockFile()}
	exec, err := New(schematest.Shop(), f.sink, WithJSONLoader(f.loader))
	require.NoError(t, err)
	f.exec = exec
	return f
}

func (f *fixture) run(t *testing.T, query string, params map[string]any) []eval.Row {
	t.Helper()
	rows, err := f.runErr(t, query, params)
	require.NoError(t, err)
	return rows
}

func (f *fixture) runErr(t *testing.T, query string, params map[string]any) ([]eval.Row, error) {
	t.Helper()
	ret, err := ql.Parse(query)
	require.NoError(t, err)
	plan, err := planner.NewDecomposer(schematest.Shop()).Decompose(ret, params)
	require.NoError(t, err)
	return f.exec.Execute(context.Background(), plan)
}

func column(rows []eval.Row, key string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[key]
	}
	return out
}

func TestExecute_DatabaseStage(t *testing.T) {
	f := newFixture(t)
	rows := f.run(t, `range of p is Product retrieve (p.name) where p.price > 10 sort by p.price desc`, nil)
	assert.Equal(t, []any{"Gadget", "Hose"}, column(rows, "p.name"))
}

func TestExecute_LeftJoinKeepsUnmatchedRows(t *testing.T) {
	f := newFixture(t)
	rows := f.run(t, `
		range of p is Product
		range of c is Category via p.category
		retrieve (p.name, c.name) sort by p.productId`, nil)
	assert.Equal(t, []any{"Tools", "Tools", "Garden", nil}, column(rows, "c.name"))

	rows = f.run(t, `
		range of p is Product
		range of c is Category via p.category @required
		retrieve (p.name, c.name) sort by p.productId`, nil)
	assert.Equal(t, []any{"Widget", "Gadget", "Hose"}, column(rows, "p.name"))
}

func TestExecute_ManyToMany(t *testing.T) {
	f := newFixture(t)
	rows := f.run(t, `
		range of p is Product
		range of t is Tag via p.tags
		retrieve (p.name, t.label) sort by p.productId, t.label`, nil)

	assert.Equal(t, []any{"Widget", "Widget", "Gadget", "Hose", "Orphan"}, column(rows, "p.name"))
	assert.Equal(t, []any{"new", "sale", nil, "sale", nil}, column(rows, "t.label"))
}

func TestExecute_CrossSourceJoin(t *testing.T) {
	f := newFixture(t)
	rows := f.run(t, `
		range of s is json_source("stock.json")
		range of p is Product via p.productId = s.productId
		retrieve (s.warehouse, p.name) sort by s.warehouse`, nil)

	assert.Equal(t, []any{"A", "B", "C"}, column(rows, "s.warehouse"))
	assert.Equal(t, []any{"Widget", "Hose", nil}, column(rows, "p.name"))
	require.Len(t, f.sink.args, 1)
	assert.Equal(t, []any{int64(1525), int64(1527), int64(9999)}, f.sink.args[0], "semi-join values")

	rows = f.run(t, `
		range of s is json_source("stock.json")
		range of p is Product via p.productId = s.productId @required
		retrieve (s.warehouse, p.name) sort by s.warehouse`, nil)
	assert.Equal(t, []any{"Widget", "Hose"}, column(rows, "p.name"))
}

func TestExecute_StringKeysJoinNumbers(t *testing.T) {
	f := newFixture(t)
	f.loader.files["notes.json"] = []map[string]any{
		{"productId": "1525", "note": "x"},
		{"productId": "1525.0", "note": "y"},
		{"productId": "nope", "note": "z"},
	}

	rows := f.run(t, `
		range of j is json_source("notes.json")
		range of p is Product via p.productId = j.productId @required
		retrieve (j.note, p.name) sort by j.note`, nil)
	assert.Equal(t, []any{"x", "y"}, column(rows, "j.note"))
	assert.Equal(t, []any{"Widget", "Widget"}, column(rows, "p.name"))

	rows = f.run(t, `
		range of p is Product
		range of j is json_source("notes.json")
		retrieve (j.note, p.name) where j.productId = p.productId sort by j.note`, nil)
	assert.Equal(t, []any{"x", "y"}, column(rows, "j.note"))
}

func TestExecute_JoinKeysBeyondFloatPrecision(t *testing.T) {
	f := newFixture(t)
	f.loader.files["left.json"] = []map[string]any{
		{"id": int64(9007199254740992), "side": "a"},
		{"id": int64(9007199254740993), "side": "b"},
	}
	f.loader.files["right.json"] = []map[string]any{
		{"id": int64(9007199254740993), "tag": "only-b"},
	}

	rows := f.run(t, `
		range of l is json_source("left.json")
		range of r is json_source("right.json") via r.id = l.id
		retrieve (l.side, r.tag) sort by l.side`, nil)
	assert.Equal(t, []any{"a", "b"}, column(rows, "l.side"))
	assert.Equal(t, []any{nil, "only-b"}, column(rows, "r.tag"))
}

func TestExecute_RelationExistsAfterMerge(t *testing.T) {
	f := newFixture(t)
	f.loader.files["one.json"] = []map[string]any{{"note": "x"}}

	rows := f.run(t, `
		range of p is Product
		range of j is json_source("one.json")
		retrieve (p.name) where exists(p.tags) or j.note = "zzz" sort by p.productId`, nil)
	assert.Equal(t, []any{"Widget", "Hose"}, column(rows, "p.name"))

	rows = f.run(t, `
		range of p is Product
		range of j is json_source("one.json")
		retrieve (p.name) where not exists(p.tags) and j.note = "x" sort by p.productId`, nil)
	assert.Equal(t, []any{"Gadget", "Orphan"}, column(rows, "p.name"))
}

func TestExecute_DeferredConditions(t *testing.T) {
	f := newFixture(t)
	rows := f.run(t, `
		range of p is Product
		range of s is json_source("stock.json")
		retrieve (p.name, s.qty) where s.productId = p.productId and s.qty > 0`, nil)

	require.Len(t, rows, 1)
	assert.Equal(t, "Widget", rows[0]["p.name"])
	assert.Equal(t, int64(4), rows[0]["s.qty"])
}

func TestExecute_JSONSourceIsLoadedOncePerExecution(t *testing.T) {
	f := newFixture(t)
	f.run(t, `
		range of a is json_source("stock.json")
		range of b is json_source("stock.json") via b.productId = a.productId
		retrieve (a.warehouse, b.qty)`, nil)
	assert.Equal(t, 1, f.loader.calls)
}

func TestExecute_ConditionsAcrossDialectLimits(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		where string
		want  []any
	}{
		{`p.name = "/^w/i"`, []any{"Widget"}},
		{`p.name = "*dge*"`, []any{"Widget", "Gadget"}},
		{`search(p.name, p.sku, "+wid")`, []any{"Widget"}},
		{`exists(p.tags)`, []any{"Widget", "Hose"}},
		{`not p.stock = 0`, []any{"Widget", "Hose", "Orphan"}},
		{`p.stock IS NULL`, []any{"Orphan"}},
		{`p.productId NOT IN (1525, 1526)`, []any{"Hose", "Orphan"}},
		{`is_integer(p.stock) and p.stock > 0`, []any{"Widget", "Hose"}},
		{`p.price * 2 > 30`, []any{"Gadget"}},
		{`concat(p.name, "-", p.productId) = 'Hose-1527'`, []any{"Hose"}},
	}
	for _, tt := range tests {
		t.Run(tt.where, func(t *testing.T) {
			rows := f.run(t, `range of p is Product retrieve (p.name) where `+tt.where+` sort by p.productId`, nil)
			assert.Equal(t, tt.want, column(rows, "p.name"))
		})
	}
}

func TestExecute_Window(t *testing.T) {
	f := newFixture(t)
	page := func(n string) []any {
		rows := f.run(t, `range of p is Product retrieve (p.name) sort by p.productId window `+n+` using window_size 2`, nil)
		return column(rows, "p.name")
	}
	assert.Equal(t, []any{"Widget", "Gadget"}, page("1"))
	assert.Equal(t, []any{"Hose", "Orphan"}, page("2"))
	assert.Equal(t, []any{"Widget", "Gadget"}, page("0"))
	assert.Empty(t, page("3"))
	assert.Empty(t, page("9223372036854775807"))
}

func TestExecute_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.runErr(t, `range of s is json_source("missing.json") retrieve (s)`, nil)
	qe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.SourceCode, qe.Code())

	_, err = f.runErr(t, `range of p is Product retrieve (p) where p.price > :min`, nil)
	qe, ok = fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.BindingCode, qe.Code())

	noDB, err := New(schematest.Shop(), nil, WithJSONLoader(stockFile()))
	require.NoError(t, err)
	f.exec = noDB
	_, err = f.runErr(t, `range of p is Product retrieve (p)`, nil)
	qe, ok = fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.SQLCode, qe.Code())
}

func TestSort_NullsLast(t *testing.T) {
	e, err := New(schematest.Shop(), nil)
	require.NoError(t, err)
	rows := []eval.Row{
		{"m.v": int64(2), "m.n": "b"},
		{"m.v": nil, "m.n": "null"},
		{"m.v": int64(10), "m.n": "c"},
		{"m.v": int64(1), "m.n": "a"},
	}
	key := func(desc bool) []ql.SortItem {
		return []ql.SortItem{{Expr: ql.NewIdentifier("m", ql.SourceJSON, "v"), Desc: desc}}
	}

	asc, err := e.Sort(rows, key(false), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c", "null"}, column(asc, "m.n"))

	desc, err := e.Sort(rows, key(true), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"c", "b", "a", "null"}, column(desc, "m.n"))
}

func TestPage(t *testing.T) {
	rows := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, Page(rows, nil))
	assert.Equal(t, []int{3, 4}, Page(rows, &ql.Window{Page: 2, Size: 2}))
	assert.Equal(t, []int{5}, Page(rows, &ql.Window{Page: 3, Size: 2}))
	assert.Equal(t, []int{1, 2}, Page(rows, &ql.Window{Page: 0, Size: 2}))
	assert.Empty(t, Page(rows, &ql.Window{Page: 4, Size: 2}))
	assert.Empty(t, Page(rows, &ql.Window{Page: math.MaxInt, Size: 2}))
	assert.Equal(t, rows, Page(rows, &ql.Window{Page: 1, Size: math.MaxInt}))
	assert.Empty(t, Page(rows, &ql.Window{Page: 2, Size: math.MaxInt}))
	assert.Empty(t, Page([]int{}, &ql.Window{Page: 1, Size: 2}))

	// 25 merged rows: window 1 is rows 0-9, window 2 rows 10-19
	merged := make([]int, 25)
	for i := range merged {
		merged[i] = i
	}
	assert.Equal(t, merged[0:10], Page(merged, &ql.Window{Page: 1, Size: 10}))
	assert.Equal(t, merged[10:20], Page(merged, &ql.Window{Page: 2, Size: 10}))
	assert.Equal(t, merged[20:25], Page(merged, &ql.Window{Page: 3, Size: 10}))
}
