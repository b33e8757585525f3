package planner

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/schema/schematest"
)

func decompose(t *testing.T, query string, params map[string]any) *ExecutionPlan {
	t.Helper()
	ret, err := ql.Parse(query)
	require.NoError(t, err)
	plan, err := NewDecomposer(schematest.Shop()).Decompose(ret, params)
	require.NoError(t, err)
	return plan
}

func decomposeErr(t *testing.T, query string) *fault.QuelError {
	t.Helper()
	ret, err := ql.Parse(query)
	require.NoError(t, err)
	_, err = NewDecomposer(schematest.Shop()).Decompose(ret, nil)
	require.Error(t, err)
	qe, ok := fault.As(err)
	require.True(t, ok, "expected a QuelError, got %T", err)
	assert.Equal(t, fault.PlanCode, qe.Code())
	return qe
}

func assertGolden(t *testing.T, name string, plan *ExecutionPlan) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(plan.Explain()))
}

func TestDecompose_JoinOrdering(t *testing.T) {
	plan := decompose(t, `
		range of y is Category via y.categoryId = x.categoryId
		range of x is Product
		retrieve (x, y.name) where x.price > 10`, nil)

	require.Len(t, plan.Stages, 1)
	assert.Equal(t, "database:x,y", plan.Stages[0].Name)
	assert.Equal(t, []string{"x", "y"}, plan.Stages[0].Aliases())
	assertGolden(t, "join_ordering", plan)
}

func TestDecompose_CrossSource(t *testing.T) {
	plan := decompose(t, `
		range of j is json_source("prices.json", "$.items[*]")
		range of p is Product via p.productId = j.productId
		retrieve (p.name, j.price) where j.price > 5 and p.stock > 0`, nil)

	require.Len(t, plan.Stages, 2)
	assert.Equal(t, StageJSON, plan.Stages[0].Kind)
	assert.Equal(t, "json:j", plan.Stages[0].Name)
	assert.Equal(t, StageDatabase, plan.Stages[1].Kind)
	assert.Equal(t, "database:p", plan.Stages[1].Name)
	assert.False(t, plan.Stages[1].Required)
	assertGolden(t, "cross_source", plan)
}

func TestDecompose_RequiredStageFiltersLocally(t *testing.T) {
	plan := decompose(t, `
		range of j is json_source("prices.json")
		range of p is Product via p.productId = j.productId @required
		retrieve (p.name) where p.stock > 0`, nil)

	require.Len(t, plan.Stages, 2)
	st := plan.Stages[1]
	assert.True(t, st.Required)
	require.Len(t, st.Conditions, 1)
	assert.Equal(t, "(p.stock > 0)", ql.Format(st.Conditions[0]))
	assert.Empty(t, st.Deferred)
}

func TestDecompose_DeferredCrossJoin(t *testing.T) {
	plan := decompose(t, `
		range of p is Product
		range of j is json_source("stock.json")
		retrieve (p.name, j.qty) where j.sku = p.sku`, nil)

	assertGolden(t, "deferred_cross_join", plan)
}

func TestDecompose_ManyToManyBridge(t *testing.T) {
	plan := decompose(t, `
		range of p is Product
		range of t is Tag via p.tags
		retrieve (p.name, t.label) where t.label = 'sale'`, nil)

	bridge := plan.Range("t__bridge")
	require.NotNil(t, bridge)
	assert.True(t, bridge.Synthetic)
	assert.Equal(t, "ProductTag", bridge.Entity.Name)
	assertGolden(t, "many_to_many", plan)
}

func TestDecompose_ManyToOneRelation(t *testing.T) {
	plan := decompose(t, `
		range of p is Product
		range of c is Category via p.category
		retrieve (p.name, c.name)`, nil)

	c := plan.Range("c")
	require.NotNil(t, c)
	assert.Equal(t, "(c.categoryId = p.categoryId)", ql.Format(c.Join))
}

func TestDecompose_LazyPruning(t *testing.T) {
	plan := decompose(t, `
		range of p is Product
		range of c is Category via p.category @lazy
		retrieve (p.name)`, nil)
	assert.Nil(t, plan.Range("c"), "unreferenced lazy range is dropped")

	plan = decompose(t, `
		range of p is Product
		range of c is Category via p.category @lazy
		retrieve (p.name, c.name)`, nil)
	assert.NotNil(t, plan.Range("c"))

	plan = decompose(t, `
		range of p is Product
		range of c is Category via p.category
		retrieve (p.name)`, nil)
	assert.NotNil(t, plan.Range("c"), "eager ranges are always joined")
}

func TestDecompose_LazyBridgeIsPrunedWithItsRange(t *testing.T) {
	plan := decompose(t, `
		range of p is Product
		range of t is Tag via p.tags @lazy
		retrieve (p.name)`, nil)

	assert.Nil(t, plan.Range("t"))
	assert.Nil(t, plan.Range("t__bridge"))
	assert.Equal(t, []string{"p"}, plan.Stages[0].Aliases())
}

func TestDecompose_ParamsArePassedThrough(t *testing.T) {
	params := map[string]any{"min": 10}
	plan := decompose(t, `range of p is Product retrieve (p) where p.price > :min`, params)
	assert.Equal(t, params, plan.Params)
}

func TestDecompose_ConstantConditionGoesToFirstStage(t *testing.T) {
	plan := decompose(t, `
		range of j is json_source("a.json")
		range of p is Product
		retrieve (p) where 1 = 1`, nil)

	require.Len(t, plan.Stages[0].Conditions, 1)
	assert.Equal(t, "(1 = 1)", ql.Format(plan.Stages[0].Conditions[0]))
}

func TestDecompose_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "unknown entity",
			query: `range of p is Prodct retrieve (p)`,
			want:  "unknown entity 'Prodct' (did you mean 'Product'?)",
		},
		{
			name:  "unknown property",
			query: `range of p is Product retrieve (p.nme)`,
			want:  "unknown property 'nme' on entity 'Product' (did you mean 'name'?)",
		},
		{
			name:  "relation outside exists",
			query: `range of p is Product retrieve (p.category)`,
			want:  "'p.category' is a relation; use it in exists() or a via clause",
		},
		{
			name:  "property chain on entity",
			query: `range of p is Product retrieve (p.name.first)`,
			want:  "'p.name.first': property chains are not supported on entity Product",
		},
		{
			name: "no driving range",
			query: `range of a is Product via a.categoryId = b.categoryId
				range of b is Category via b.categoryId = a.categoryId
				retrieve (a)`,
			want: "cannot determine a driving range: every range declares a via clause",
		},
		{
			name: "cycle",
			query: `range of r is Product
				range of a is Product via a.productId = b.productId
				range of b is Product via b.productId = a.productId
				retrieve (r)`,
			want: "cyclic via dependencies between ranges a, b",
		},
		{
			name: "relation target mismatch",
			query: `range of p is Product
				range of t is Category via p.tags
				retrieve (p)`,
			want: "via p.tags: relation targets Tag, but range 't' is not a Tag range",
		},
		{
			name: "unknown relation",
			query: `range of p is Product
				range of c is Category via p.name
				retrieve (p)`,
			want: "via p.name: entity Product has no relation 'name'",
		},
		{
			name: "bridge alias collision",
			query: `range of p is Product
				range of t__bridge is ProductTag
				range of t is Tag via p.tags
				retrieve (p)`,
			want: "range alias 't__bridge' is reserved for the bridge of 't'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qe := decomposeErr(t, tt.query)
			assert.Equal(t, tt.want, qe.Message())
		})
	}
}

func TestDecompose_RelationInExists(t *testing.T) {
	plan := decompose(t, `range of p is Product retrieve (p) where exists(p.tags)`, nil)
	require.Len(t, plan.Stages[0].Conditions, 1)
	assert.Equal(t, "exists(p.tags)", ql.Format(plan.Stages[0].Conditions[0]))
}
