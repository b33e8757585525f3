package quel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"entgo.io/ent/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/quellabs/objectquel/internal/quel/eval"
	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/schema"
	"github.com/quellabs/objectquel/internal/quel/schema/schematest"
	"github.com/quellabs/objectquel/internal/quel/source"
)

// stubSink answers every statement with canned rows.
type stubSink struct {
	rows    []eval.Row
	queries []string
	args    [][]any
}

func (s *stubSink) Dialect() string { return dialect.SQLite }

func (s *stubSink) Query(_ context.Context, query string, args []any) ([]eval.Row, error) {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	return s.rows, nil
}

func productsRegistry() *schema.Registry {
	reg := schema.NewRegistry()
	es := &schema.EntitySchema{Name: "ProductsEntity", Table: "products"}
	es.
		AddField(&schema.FieldMeta{Name: "productsId", Column: "products_id", Type: schema.FieldInt, Identifier: true}).
		AddField(&schema.FieldMeta{Name: "name", Type: schema.FieldString})
	reg.Register(es)
	return reg
}

func TestExecuteQuery_EntityByIdentifier(t *testing.T) {
	sink := &stubSink{rows: []eval.Row{{"c0": int64(1525), "c1": "Widget"}}}
	engine, err := New(productsRegistry(), sink)
	require.NoError(t, err)

	res, err := engine.ExecuteQuery(context.Background(),
		"range of main is ProductsEntity retrieve (main) where main.productsId=:id",
		map[string]any{"id": 1525})
	require.NoError(t, err)

	assert.Equal(t, 1, res.RecordCount())
	require.Len(t, sink.args, 1)
	assert.Equal(t, []any{1525}, sink.args[0])
	assert.Contains(t, sink.queries[0], "products")

	row, ok := res.FetchRow()
	require.True(t, ok)
	rec, ok := row["main"].(*schema.Record)
	require.True(t, ok, "got %T", row["main"])
	assert.Equal(t, int64(1525), rec.Get("productsId"))
	assert.Equal(t, "Widget", rec.Get("name"))

	_, ok = res.FetchRow()
	assert.False(t, ok)
	res.Reset()
	_, ok = res.FetchRow()
	assert.True(t, ok)
}

func TestExecuteQuery_IdentityBeyondFloatPrecision(t *testing.T) {
	sink := &stubSink{rows: []eval.Row{
		{"c0": int64(9007199254740992), "c1": "A"},
		{"c0": int64(9007199254740993), "c1": "B"},
		{"c0": int64(9007199254740993), "c1": "B"},
	}}
	engine, err := New(productsRegistry(), sink)
	require.NoError(t, err)

	res, err := engine.ExecuteQuery(context.Background(), "range of main is ProductsEntity retrieve (main)", nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.RecordCount())

	col := res.GetCol("main")
	require.Len(t, col, 2)
	assert.Equal(t, "A", col[0].(*schema.Record).Get("name"))
	assert.Equal(t, "B", col[1].(*schema.Record).Get("name"))

	res, err = engine.ExecuteQuery(context.Background(), "range of main is ProductsEntity retrieve unique (main.productsId)", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordCount())
}

func shopEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	ctx := context.Background()
	sink, err := source.OpenSQL(ctx, "sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	require.NoError(t, schematest.Populate(ctx, sink.DB()))

	engine, err := New(schematest.Shop(), sink, opts...)
	require.NoError(t, err)
	return engine
}

func run(t *testing.T, e *Engine, query string) *Result {
	t.Helper()
	res, err := e.ExecuteQuery(context.Background(), query, nil)
	require.NoError(t, err)
	return res
}

func names(t *testing.T, values []any) []any {
	t.Helper()
	out := make([]any, len(values))
	for i, v := range values {
		rec, ok := v.(*schema.Record)
		require.True(t, ok, "got %T", v)
		out[i] = rec.Get("name")
	}
	return out
}

func TestExecuteQuery_IdentityMapAndGetCol(t *testing.T) {
	e := shopEngine(t)
	res := run(t, e, `
		range of p is Product
		range of t is Tag via p.tags
		retrieve (p, t.label) sort by p.productId, t.label`)

	require.Equal(t, 5, res.RecordCount())
	rows := res.Rows()
	assert.Same(t, rows[0]["p"], rows[1]["p"], "one instance per entity row")
	assert.Equal(t, []string{"p", "t.label"}, res.Columns())

	assert.Equal(t, []any{"Widget", "Gadget", "Hose", "Orphan"}, names(t, res.GetCol("p")))
	assert.Equal(t, []any{"new", "sale", nil, "sale", nil}, res.GetCol("t.label"))
	assert.Empty(t, res.GetCol("missing"))
}

func TestExecuteQuery_LeftJoinMissIsNil(t *testing.T) {
	e := shopEngine(t)
	res := run(t, e, `
		range of p is Product
		range of c is Category via p.category
		retrieve (p.name, c) sort by p.productId`)

	require.Equal(t, 4, res.RecordCount())
	assert.Equal(t, []any{"Tools", "Garden"}, names(t, res.GetCol("c")[:2]))
	assert.Nil(t, res.Rows()[3]["c"])
}

func TestExecuteQuery_UniqueThenWindow(t *testing.T) {
	e := shopEngine(t)
	res := run(t, e, `
		range of p is Product
		range of t is Tag via p.tags
		retrieve unique (p) sort by p.productId`)
	assert.Equal(t, []any{"Widget", "Gadget", "Hose", "Orphan"}, names(t, res.GetCol("p")))
	assert.Equal(t, 4, res.RecordCount())

	res = run(t, e, `
		range of p is Product
		range of t is Tag via p.tags
		retrieve unique (p) sort by p.productId window 2 using window_size 1`)
	require.Equal(t, 1, res.RecordCount())
	assert.Equal(t, []any{"Gadget"}, names(t, res.GetCol("p")))

	res = run(t, e, `
		range of p is Product
		range of t is Tag via p.tags
		retrieve unique (p.categoryId) sort by p.productId`)
	assert.Equal(t, []any{int64(1), int64(2), nil}, res.GetCol("p.categoryId"))
}

func TestExecuteQuery_Aggregates(t *testing.T) {
	e := shopEngine(t)
	res := run(t, e, `range of p is Product retrieve (count(p), distinct = ucount(p.categoryId))`)

	require.Equal(t, 1, res.RecordCount())
	assert.Equal(t, []string{"count(p)", "distinct"}, res.Columns())
	row, _ := res.FetchRow()
	assert.Equal(t, int64(4), row["count(p)"])
	assert.Equal(t, int64(2), row["distinct"])

	res = run(t, e, `range of p is Product retrieve (count(p)) where p.price > 100`)
	row, _ = res.FetchRow()
	assert.Equal(t, int64(0), row["count(p)"])
}

func TestExecuteQuery_NamedProjections(t *testing.T) {
	e := shopEngine(t)
	res := run(t, e, `
		range of p is Product
		retrieve (label = concat(p.name, "/", p.sku), total = p.price * p.stock)
		where p.productId = 1527`)

	row, ok := res.FetchRow()
	require.True(t, ok)
	assert.Equal(t, "Hose/H-1527", row["label"])
	assert.InDelta(t, 45.0, row["total"], 1e-9)
}

func TestExecuteQuery_JSONSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prices.json"),
		[]byte(`[{"sku": "a", "price": 5}, {"sku": "b", "price": 15}, {"sku": "c", "price": 20}]`), 0o644))

	e, err := New(schema.NewRegistry(), nil, WithJSONLoader(source.NewJSONLoader(dir)))
	require.NoError(t, err)

	res, err := e.ExecuteQuery(context.Background(),
		`range of x is json_source("prices.json") retrieve (x) where x.price > :min sort by x.price`,
		map[string]any{"min": 10})
	require.NoError(t, err)

	require.Equal(t, 2, res.RecordCount())
	first, _ := res.FetchRow()
	assert.Equal(t, map[string]any{"sku": "b", "price": int64(15)}, first["x"])

	var nilSink *source.SQLSink
	e, err = New(schema.NewRegistry(), nilSink, WithJSONLoader(source.NewJSONLoader(dir)))
	require.NoError(t, err)
	res, err = e.ExecuteQuery(context.Background(), `range of x is json_source("prices.json") retrieve (x.sku)`, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, res.GetCol("x.sku"))
}

func TestExecuteQuery_JSONPathFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "items.json"),
		[]byte(`{"items": [{"price": 5}, {"price": 15}, {"price": 20}]}`), 0o644))

	e, err := New(schema.NewRegistry(), nil, WithJSONLoader(source.NewJSONLoader(dir)))
	require.NoError(t, err)

	res, err := e.ExecuteQuery(context.Background(),
		`range of x is json_source("items.json", "$.items[?(@.price>10)]") retrieve (x)`, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.RecordCount())
	var prices []any
	for _, item := range res.GetCol("x") {
		prices = append(prices, item.(map[string]any)["price"])
	}
	assert.Equal(t, []any{int64(15), int64(20)}, prices)
}

func TestExecuteQuery_WindowPages(t *testing.T) {
	dir := t.TempDir()
	items := make([]string, 25)
	for i := range items {
		items[i] = fmt.Sprintf(`{"n": %d}`, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rows.json"),
		[]byte("["+strings.Join(items, ",")+"]"), 0o644))

	e, err := New(schema.NewRegistry(), nil, WithJSONLoader(source.NewJSONLoader(dir)))
	require.NoError(t, err)

	page := func(n int) []any {
		t.Helper()
		res, err := e.ExecuteQuery(context.Background(),
			fmt.Sprintf(`range of x is json_source("rows.json") retrieve (x.n) sort by x.n window %d using window_size 10`, n), nil)
		require.NoError(t, err)
		return res.GetCol("x.n")
	}
	want := func(from, to int) []any {
		out := make([]any, 0, to-from)
		for i := from; i < to; i++ {
			out = append(out, int64(i))
		}
		return out
	}

	assert.Equal(t, want(0, 10), page(1))
	assert.Equal(t, want(10, 20), page(2))
	assert.Equal(t, want(20, 25), page(3))
	assert.Empty(t, page(4))
}

func TestExplain(t *testing.T) {
	e := shopEngine(t)
	plan, err := e.Explain(`
		range of p is Product
		range of c is Category via p.category
		retrieve (p, c.name) where c.name = "Tools"`, nil)
	require.NoError(t, err)
	require.Len(t, plan.Stages, 1)
	assert.Contains(t, plan.Explain(), "range c: Category via")
}

type failingMaterializer struct{}

func (failingMaterializer) Materialize(*schema.EntitySchema, map[string]any) (any, error) {
	return nil, errors.New("no setter")
}

func TestExecuteQuery_Errors(t *testing.T) {
	e := shopEngine(t)
	ctx := context.Background()

	_, err := e.ExecuteQuery(ctx, `range of p is Product retrieve (p`, nil)
	var perr *ql.ParseError
	assert.ErrorAs(t, err, &perr)

	_, err = e.ExecuteQuery(ctx, `range of p is Prodcut retrieve (p)`, nil)
	qe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.PlanCode, qe.Code())
	assert.Contains(t, qe.Message(), "Product")

	_, err = e.ExecuteQuery(ctx, `range of p is Product retrieve (p) where p.productId = :id`, nil)
	qe, ok = fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.BindingCode, qe.Code())

	broken := shopEngine(t, WithMaterializer(failingMaterializer{}))
	_, err = broken.ExecuteQuery(ctx, `range of p is Product retrieve (p)`, nil)
	qe, ok = fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.MaterializeCode, qe.Code())
	assert.EqualError(t, qe.Original(), "no setter")
}
