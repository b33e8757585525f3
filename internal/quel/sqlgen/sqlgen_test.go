package sqlgen

import (
	"testing"

	"entgo.io/ent/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellabs/objectquel/internal/quel/eval"
	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/planner"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/schema/schematest"
)

func plan(t *testing.T, query string) *planner.ExecutionPlan {
	t.Helper()
	ret, err := ql.Parse(query)
	require.NoError(t, err)
	p, err := planner.NewDecomposer(schematest.Shop()).Decompose(ret, nil)
	require.NoError(t, err)
	return p
}

func translate(t *testing.T, dialectName, query string, params map[string]any) *Statement {
	t.Helper()
	tr, err := New(dialectName, schematest.Shop())
	require.NoError(t, err)
	stmt, err := tr.Translate(plan(t, query).Stages[0], params)
	require.NoError(t, err)
	return stmt
}

func TestTranslate_SelectsEveryField(t *testing.T) {
	stmt := translate(t, dialect.SQLite, `range of p is Product retrieve (p.name)`, nil)

	assert.Equal(t, []string{
		"p.productId", "p.name", "p.sku", "p.price", "p.stock", "p.categoryId", "p.createdAt",
	}, stmt.Columns)
	assert.Contains(t, stmt.SQL, "products")
	assert.Contains(t, stmt.SQL, "product_id")
	assert.NotContains(t, stmt.SQL, "WHERE")
	assert.Empty(t, stmt.Args)
}

func TestTranslate_Conditions(t *testing.T) {
	stmt := translate(t, dialect.SQLite,
		`range of p is Product retrieve (p) where p.price > 10 and p.name = "Wid*" and p.stock IS NOT NULL`, nil)

	assert.Contains(t, stmt.SQL, "WHERE")
	assert.Contains(t, stmt.SQL, "> ?")
	assert.Contains(t, stmt.SQL, "GLOB ?")
	assert.Contains(t, stmt.SQL, "IS NOT NULL")
	assert.Equal(t, []any{int64(10), "Wid*"}, stmt.Args)
	assert.Empty(t, stmt.Residual)
}

func TestTranslate_PostgresPlaceholders(t *testing.T) {
	stmt := translate(t, dialect.Postgres,
		`range of p is Product retrieve (p) where p.price > :min and p.name = "Wid_*"`,
		map[string]any{"min": 5})

	assert.Contains(t, stmt.SQL, "$1")
	assert.Contains(t, stmt.SQL, "$2")
	assert.Contains(t, stmt.SQL, "LIKE")
	assert.Equal(t, []any{5, `Wid\_%`}, stmt.Args)
}

func TestTranslate_NotCoalescesNull(t *testing.T) {
	stmt := translate(t, dialect.SQLite, `range of p is Product retrieve (p) where not p.stock = 0`, nil)
	assert.Contains(t, stmt.SQL, "NOT COALESCE(")
}

func TestTranslate_InList(t *testing.T) {
	stmt := translate(t, dialect.SQLite, `range of p is Product retrieve (p) where p.productId IN (1525, 1527)`, nil)
	assert.Contains(t, stmt.SQL, "IN (?, ?)")
	assert.Equal(t, []any{int64(1525), int64(1527)}, stmt.Args)
}

func TestTranslate_ResidualConditions(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		where   string
	}{
		{"regex on sqlite", dialect.SQLite, `p.name = "/^wid/i"`},
		{"multiline regex on postgres", dialect.Postgres, `p.name = "/^wid/m"`},
		{"type check", dialect.SQLite, `is_numeric(p.sku)`},
		{"non-ascii search", dialect.SQLite, `search(p.name, "+Straße")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := translate(t, tt.dialect, `range of p is Product retrieve (p) where p.price > 1 and `+tt.where, nil)
			require.Len(t, stmt.Residual, 1)
			assert.Equal(t, tt.where, ql.Format(stmt.Residual[0]))
			assert.Equal(t, []any{int64(1)}, stmt.Args)
		})
	}
}

func TestTranslate_RegexDialects(t *testing.T) {
	stmt := translate(t, dialect.Postgres, `range of p is Product retrieve (p) where p.name = "/^wid/i"`, nil)
	assert.Contains(t, stmt.SQL, "~*")
	assert.Empty(t, stmt.Residual)

	stmt = translate(t, dialect.MySQL, `range of p is Product retrieve (p) where p.name = "/^wid/is"`, nil)
	assert.Contains(t, stmt.SQL, "REGEXP_LIKE(")
	assert.Equal(t, []any{"^wid", "in"}, stmt.Args)
}

func TestTranslate_Search(t *testing.T) {
	stmt := translate(t, dialect.SQLite,
		`range of p is Product retrieve (p) where search(p.name, p.sku, "+Wid -blue green")`, nil)

	assert.Contains(t, stmt.SQL, "LOWER(")
	assert.Equal(t, []any{" ", "%wid%", " ", "%blue%", " ", "%green%"}, stmt.Args)
}

func TestTranslate_Joins(t *testing.T) {
	stmt := translate(t, dialect.SQLite, `
		range of p is Product
		range of c is Category via p.category
		retrieve (p, c)`, nil)
	assert.Contains(t, stmt.SQL, "LEFT JOIN")
	assert.Contains(t, stmt.Columns, "c.name")

	stmt = translate(t, dialect.SQLite, `
		range of p is Product
		range of c is Category via p.category @required
		retrieve (p, c)`, nil)
	assert.Contains(t, stmt.SQL, "JOIN")
	assert.NotContains(t, stmt.SQL, "LEFT JOIN")
}

func TestTranslate_ManyToManyJoin(t *testing.T) {
	stmt := translate(t, dialect.SQLite, `
		range of p is Product
		range of t is Tag via p.tags
		retrieve (p, t)`, nil)
	assert.Contains(t, stmt.SQL, "product_tags")
	assert.Contains(t, stmt.Columns, "t__bridge.tagId")
	assert.Contains(t, stmt.Columns, "t.label")
}

func TestTranslate_Exists(t *testing.T) {
	stmt := translate(t, dialect.SQLite, `range of p is Product retrieve (p) where exists(p.tags)`, nil)
	assert.Contains(t, stmt.SQL, "EXISTS (SELECT")
	assert.Contains(t, stmt.SQL, "product_tags")

	stmt = translate(t, dialect.SQLite, `range of p is Product retrieve (p) where exists(p.sku)`, nil)
	assert.Contains(t, stmt.SQL, "<> ''")
}

func TestTranslate_PresenceColumn(t *testing.T) {
	stmt := translate(t, dialect.SQLite, `range of p is Product retrieve (p.name) where exists(p.tags) or p.stock > 5`, nil)

	require.Equal(t, "p.tags", stmt.Columns[len(stmt.Columns)-1])
	flag := len(stmt.Columns) - 1
	assert.Contains(t, stmt.SQL, "EXISTS (SELECT")
	assert.Contains(t, stmt.SQL, Label(flag))

	raw := eval.Row{Label(0): int64(1525), Label(flag): int64(1)}
	row := stmt.Rekey(raw)
	assert.Equal(t, eval.Presence(true), row["p.tags"])
	assert.Equal(t, int64(1525), row["p.productId"])

	raw[Label(flag)] = int64(0)
	assert.Equal(t, eval.Presence(false), stmt.Rekey(raw)["p.tags"])
	raw[Label(flag)] = nil
	assert.Equal(t, eval.Presence(false), stmt.Rekey(raw)["p.tags"])

	stmt = translate(t, dialect.SQLite, `range of p is Product retrieve (p) where exists(p.sku)`, nil)
	assert.Len(t, stmt.Columns, 7, "property exists needs no flag")
}

func TestTranslate_SemiJoin(t *testing.T) {
	p := plan(t, `
		range of j is json_source("prices.json")
		range of p is Product via p.productId = j.productId
		retrieve (p.name)`)
	tr, err := New(dialect.SQLite, schematest.Shop())
	require.NoError(t, err)

	stmt, err := tr.Translate(p.Stages[1], map[string]any{"__sj_1": []any{int64(1525), int64(1527)}})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "IN (?, ?)")
	assert.Equal(t, []any{int64(1525), int64(1527)}, stmt.Args)

	stmt, err = tr.Translate(p.Stages[1], map[string]any{"__sj_1": []any{}})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "1 = 0")
}

func TestTranslate_UnboundParameter(t *testing.T) {
	tr, err := New(dialect.SQLite, schematest.Shop())
	require.NoError(t, err)
	_, err = tr.Translate(plan(t, `range of p is Product retrieve (p) where p.price > :min`).Stages[0], nil)

	qe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.BindingCode, qe.Code())
}

func TestNew_UnsupportedDialect(t *testing.T) {
	_, err := New("clickhouse", schematest.Shop())
	qe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "unsupported SQL dialect 'clickhouse'", qe.Message())
}

func TestStatement_Rekey(t *testing.T) {
	stmt := &Statement{Columns: []string{"p.productId", "p.name"}}
	row := stmt.Rekey(eval.Row{"c0": int64(1), "c1": "Widget"})
	assert.Equal(t, eval.Row{"p.productId": int64(1), "p.name": "Widget"}, row)
}

func TestPatterns(t *testing.T) {
	assert.Equal(t, "Wid%", LikePattern("Wid*"))
	assert.Equal(t, `h_nk\%\_\\`, LikePattern(`h?nk%_\`))
	assert.Equal(t, "a[[]b]*", GlobPattern("a[b]*"))
}
