package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellabs/objectquel/internal/quel/planner"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/schema/schematest"
	"github.com/quellabs/objectquel/internal/repl/session"
)

type decomposer struct{ d *planner.Decomposer }

func (e decomposer) Explain(query string, params map[string]any) (*planner.ExecutionPlan, error) {
	ret, err := ql.Parse(query)
	if err != nil {
		return nil, err
	}
	return e.d.Decompose(ret, params)
}

func newHandler() *Handler {
	reg := schematest.Shop()
	return New(reg, decomposer{planner.NewDecomposer(reg)})
}

func TestSplit(t *testing.T) {
	cmd, rest := Split("  :Explain range of p is Product retrieve (p) ")
	assert.Equal(t, "explain", cmd)
	assert.Equal(t, "range of p is Product retrieve (p)", rest)
	assert.True(t, IsCommand(" :help"))
	assert.False(t, IsCommand("range of p is Product retrieve (p)"))
}

func TestExecute_SetAndEnv(t *testing.T) {
	h := newHandler()
	sess := session.NewSession()

	res, err := h.Execute(sess, ":set id 1525")
	require.NoError(t, err)
	assert.Equal(t, ":id = 1525", res.Output)

	_, err = h.Execute(sess, `:set name "1525"`)
	require.NoError(t, err)
	_, err = h.Execute(sess, ":set :ratio 0.5")
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"id": int64(1525), "name": "1525", "ratio": 0.5}, sess.Bindings(nil))

	res, err = h.Execute(sess, ":env")
	require.NoError(t, err)
	assert.Contains(t, res.Output, ":id")
	assert.Contains(t, res.Output, "int64")

	_, err = h.Execute(sess, ":unset id")
	require.NoError(t, err)
	_, err = h.Execute(sess, ":unset id")
	assert.EqualError(t, err, "parameter :id is not bound")

	_, err = h.Execute(sess, ":set id")
	assert.EqualError(t, err, "usage: :set <name> <value>")
}

func TestExecute_Schema(t *testing.T) {
	h := newHandler()
	sess := session.NewSession()

	res, err := h.Execute(sess, ":schema")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "Entities (4)")

	res, err = h.Execute(sess, ":schema Product")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "Entity: Product (table products)")
	assert.Contains(t, res.Output, "column product_id (identifier)")
	assert.Contains(t, res.Output, "-> Tag (M2M) via ProductTag")

	_, err = h.Execute(sess, ":schema Nope")
	assert.EqualError(t, err, "unknown entity 'Nope'")
}

func TestExecute_ExplainUsesBindings(t *testing.T) {
	h := newHandler()
	sess := session.NewSession()
	sess.Bind("min", 10)

	res, err := h.Execute(sess, ":explain range of p is Product retrieve (p) where p.price > :min")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "stage 1: database [p]")

	_, err = h.Execute(sess, ":explain range of p is Nope retrieve (p)")
	assert.Error(t, err)
}

func TestExecute_HistoryAndMisc(t *testing.T) {
	h := newHandler()
	sess := session.NewSession()

	res, err := h.Execute(sess, ":history")
	require.NoError(t, err)
	assert.Equal(t, "(no history)", res.Output)

	sess.AddHistory("range of p is Product retrieve (p)")
	res, err = h.Execute(sess, ":history")
	require.NoError(t, err)
	assert.Equal(t, "  1  range of p is Product retrieve (p)\n", res.Output)

	res, err = h.Execute(sess, ":clear")
	require.NoError(t, err)
	assert.True(t, res.Clear)

	res, err = h.Execute(sess, ":help search")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "+term is required")

	_, err = h.Execute(sess, ":bogus")
	assert.EqualError(t, err, "unknown meta-command ':bogus'. Type :help for available commands")
}
