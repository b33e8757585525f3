package executor

import (
	"sort"
	"strings"

	"github.com/quellabs/objectquel/internal/quel/eval"
	"github.com/quellabs/objectquel/internal/quel/planner"
	"github.com/quellabs/objectquel/internal/quel/ql"
)

// equiPair is one "local = outer" equality of a stage join, local being a
// property of the stage's range.
type equiPair struct {
	local *ql.Identifier
	outer *ql.Identifier
}

// splitJoin separates hashable equalities from the residual join
// conjuncts.
func splitJoin(st *planner.ExecutionStage) ([]equiPair, []ql.Expr) {
	var (
		pairs    []equiPair
		residual []ql.Expr
	)
	for _, c := range st.JoinConditions {
		if p, ok := asPair(st, c); ok {
			pairs = append(pairs, p)
			continue
		}
		residual = append(residual, c)
	}
	return pairs, residual
}

func asPair(st *planner.ExecutionStage, c ql.Expr) (equiPair, bool) {
	b, ok := c.(*ql.BinaryOp)
	if !ok || b.Op != ql.OpEQ {
		return equiPair{}, false
	}
	left, lok := b.Left.(*ql.Identifier)
	right, rok := b.Right.(*ql.Identifier)
	if !lok || !rok || left.IsAlias() || right.IsAlias() {
		return equiPair{}, false
	}
	inStage := func(id *ql.Identifier) bool { return st.Range(id.Alias) != nil }
	switch {
	case inStage(left) && !inStage(right):
		return equiPair{local: left, outer: right}, true
	case inStage(right) && !inStage(left):
		return equiPair{local: right, outer: left}, true
	}
	return equiPair{}, false
}

// joinKey builds the hash key of a row; ok is false when a value is null,
// since null never joins. Numeric strings hash with the number they spell;
// pairsEqual settles the bucket.
func joinKey(row eval.Row, ids []*ql.Identifier) (string, bool) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		v := eval.Lookup(id, row)
		if v == nil {
			return "", false
		}
		parts[i] = eval.JoinKey(v)
	}
	return strings.Join(parts, "\x1f"), true
}

// pairsEqual reports whether every equality holds under Compare.
func pairsEqual(left, right eval.Row, pairs []equiPair) bool {
	for _, p := range pairs {
		lv, rv := eval.Lookup(p.outer, left), eval.Lookup(p.local, right)
		if lv == nil || rv == nil || eval.Compare(lv, rv) != 0 {
			return false
		}
	}
	return true
}

func combine(left, right eval.Row) eval.Row {
	out := make(eval.Row, len(left)+len(right))
	for k, v := range left {
		out[k] = v
	}
	for k, v := range right {
		out[k] = v
	}
	return out
}

// merge joins the stage rows onto the accumulated rows. Unmatched
// accumulated rows survive unless the stage is required; stages without a
// join condition are cross joined.
func (e *Executor) merge(run *execution, acc, rows []eval.Row, st *planner.ExecutionStage) ([]eval.Row, error) {
	pairs, residual := splitJoin(st)
	cond := ql.And(residual...)

	candidates := func(eval.Row) []eval.Row { return rows }
	if len(pairs) > 0 {
		locals := make([]*ql.Identifier, len(pairs))
		outers := make([]*ql.Identifier, len(pairs))
		for i, p := range pairs {
			locals[i], outers[i] = p.local, p.outer
		}
		index := make(map[string][]eval.Row)
		for _, r := range rows {
			if k, ok := joinKey(r, locals); ok {
				index[k] = append(index[k], r)
			}
		}
		candidates = func(left eval.Row) []eval.Row {
			k, ok := joinKey(left, outers)
			if !ok {
				return nil
			}
			return index[k]
		}
	}

	var out []eval.Row
	for _, left := range acc {
		matched := false
		for _, right := range candidates(left) {
			if !pairsEqual(left, right, pairs) {
				continue
			}
			row := combine(left, right)
			if cond != nil {
				ok, err := e.eval.Evaluate(cond, row, run.params)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			matched = true
			out = append(out, row)
		}
		if !matched && !st.Required && len(st.JoinConditions) > 0 {
			out = append(out, left)
		}
	}
	return out, nil
}

// ── ordering ────────────────────────────────────────────────────────────────

// Sort orders rows by the sort keys. The sort is stable; nulls sort last
// in both directions.
func (e *Executor) Sort(rows []eval.Row, keys []ql.SortItem, params map[string]any) ([]eval.Row, error) {
	if len(keys) == 0 || len(rows) < 2 {
		return rows, nil
	}
	values := make([][]any, len(rows))
	for i, row := range rows {
		values[i] = make([]any, len(keys))
		for j, k := range keys {
			v, err := e.eval.Value(k.Expr, row, params)
			if err != nil {
				return nil, err
			}
			values[i][j] = v
		}
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := values[idx[a]], values[idx[b]]
		for j, k := range keys {
			if c := compareNullsLast(va[j], vb[j], k.Desc); c != 0 {
				return c < 0
			}
		}
		return false
	})

	out := make([]eval.Row, len(rows))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out, nil
}

func compareNullsLast(a, b any, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c := eval.Compare(a, b)
	if desc {
		return -c
	}
	return c
}

// Page returns page w.Page (1-based) of w.Size rows. Page 0 is treated
// as page 1; a nil window returns every row. Pages past the end are empty,
// however large the page number.
func Page[T any](rows []T, w *ql.Window) []T {
	if w == nil || w.Size <= 0 {
		return rows
	}
	pages := len(rows) / w.Size
	if len(rows)%w.Size != 0 {
		pages++
	}
	page := max(w.Page, 1)
	if page > pages {
		return rows[:0]
	}
	start := (page - 1) * w.Size
	if w.Size >= len(rows)-start {
		return rows[start:]
	}
	return rows[start : start+w.Size]
}
