// Package eval evaluates Quel conditions and expressions against in-memory
// rows. It backs JSON stages, conditions a SQL dialect cannot express,
// cross-stage filters and final projections.
package eval

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
)

// Row is one flat result row keyed by "alias.property". Nested JSON values
// stay as maps and slices under their top-level key.
type Row map[string]any

// Presence is the stored result of exists(alias.relation) for a database
// range. It is not a property and Fields skips it.
type Presence bool

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Fields returns the properties contributed by alias with the prefix
// stripped, or nil when alias has no non-null value in the row.
func (r Row) Fields(alias string) map[string]any {
	prefix := alias + "."
	var out map[string]any
	present := false
	for k, v := range r {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := v.(Presence); ok {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k[len(prefix):]] = v
		if v != nil {
			present = true
		}
	}
	if !present {
		return nil
	}
	return out
}

// Keys returns the row keys in sorted order.
func (r Row) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Evaluator evaluates expressions. Compiled patterns are cached, so one
// Evaluator should be shared by all queries of an engine; it is safe for
// concurrent use.
type Evaluator struct {
	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// New creates an evaluator with an empty pattern cache.
func New() *Evaluator {
	return &Evaluator{patterns: make(map[string]*regexp.Regexp)}
}

// Evaluate reports whether cond holds for row. A non-boolean expression is
// true when its value is not empty.
func (e *Evaluator) Evaluate(cond ql.Expr, row Row, params map[string]any) (bool, error) {
	switch n := cond.(type) {
	case *ql.BinaryOp:
		switch {
		case n.Op == ql.OpAnd:
			left, err := e.Evaluate(n.Left, row, params)
			if err != nil || !left {
				return false, err
			}
			return e.Evaluate(n.Right, row, params)
		case n.Op == ql.OpOr:
			left, err := e.Evaluate(n.Left, row, params)
			if err != nil || left {
				return left, err
			}
			return e.Evaluate(n.Right, row, params)
		case n.Op.IsComparison():
			return e.comparison(n, row, params)
		}
	case *ql.Not:
		v, err := e.Evaluate(n.Expr, row, params)
		return !v, err
	case *ql.Match:
		return e.match(n, row, params)
	case *ql.In:
		return e.in(n, row, params)
	case *ql.CheckNull:
		v, err := e.Value(n.Expr, row, params)
		return v == nil, err
	case *ql.CheckNotNull:
		v, err := e.Value(n.Expr, row, params)
		return v != nil, err
	case *ql.Search:
		return e.search(n, row, params)
	case *ql.Exists:
		return exists(n.Target, row), nil
	case *ql.TypeCheck:
		v, err := e.Value(n.Arg, row, params)
		if err != nil {
			return false, err
		}
		return typeCheck(n.Check, v), nil
	}

	v, err := e.Value(cond, row, params)
	if err != nil {
		return false, err
	}
	return !isEmpty(v), nil
}

// Value computes the value of an expression for row. Boolean expressions
// yield bool; a bare alias yields the map of its fields.
func (e *Evaluator) Value(expr ql.Expr, row Row, params map[string]any) (any, error) {
	switch n := expr.(type) {
	case *ql.String:
		return n.Value, nil
	case *ql.Number:
		return n.Value(), nil
	case *ql.Boolean:
		return n.Value, nil
	case *ql.Parameter:
		return Param(params, n.Name)
	case *ql.Identifier:
		return Lookup(n, row), nil
	case *ql.Negate:
		v, err := e.Value(n.Expr, row, params)
		if err != nil || v == nil {
			return nil, err
		}
		return arithmetic(ql.OpSub, int64(0), v)
	case *ql.BinaryOp:
		if !n.Op.IsArithmetic() {
			return e.Evaluate(n, row, params)
		}
		left, err := e.Value(n.Left, row, params)
		if err != nil {
			return nil, err
		}
		right, err := e.Value(n.Right, row, params)
		if err != nil {
			return nil, err
		}
		if left == nil || right == nil {
			return nil, nil
		}
		return arithmetic(n.Op, left, right)
	case *ql.Concat:
		var b strings.Builder
		for _, arg := range n.Args {
			v, err := e.Value(arg, row, params)
			if err != nil {
				return nil, err
			}
			b.WriteString(Format(v))
		}
		return b.String(), nil
	case *ql.Count, *ql.UCount:
		return nil, fault.Newf(fault.EvaluateCode, "%s is an aggregate and needs a row set", ql.Format(expr))
	case nil:
		return nil, fault.New(fault.EvaluateCode, "missing expression")
	}
	return e.Evaluate(expr, row, params)
}

// Param returns a bound parameter or a binding error.
func Param(params map[string]any, name string) (any, error) {
	v, ok := params[name]
	if !ok {
		return nil, fault.Newf(fault.BindingCode, "no value bound for parameter :%s", name)
	}
	return v, nil
}

// Lookup resolves an identifier against row. Property chains beyond the
// first segment walk nested maps.
func Lookup(id *ql.Identifier, row Row) any {
	if id.IsAlias() {
		if f := row.Fields(id.Alias); f != nil {
			return f
		}
		return nil
	}
	v, ok := row[id.Key()]
	if !ok {
		return nil
	}
	for _, seg := range id.Path[1:] {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[seg]
	}
	return v
}

func (e *Evaluator) comparison(n *ql.BinaryOp, row Row, params map[string]any) (bool, error) {
	left, err := e.Value(n.Left, row, params)
	if err != nil {
		return false, err
	}
	right, err := e.Value(n.Right, row, params)
	if err != nil {
		return false, err
	}
	if left == nil || right == nil {
		return false, nil
	}

	c := Compare(left, right)
	switch n.Op {
	case ql.OpEQ:
		return c == 0, nil
	case ql.OpNEQ:
		return c != 0, nil
	case ql.OpLT:
		return c < 0, nil
	case ql.OpLTE:
		return c <= 0, nil
	case ql.OpGT:
		return c > 0, nil
	case ql.OpGTE:
		return c >= 0, nil
	}
	return false, fault.Newf(fault.EvaluateCode, "unsupported comparison %s", n.Op)
}

func (e *Evaluator) match(n *ql.Match, row Row, params map[string]any) (bool, error) {
	v, err := e.Value(n.Subject, row, params)
	if err != nil || v == nil {
		return false, err
	}

	re, err := e.pattern(n.Kind, n.Pattern, n.Flags)
	if err != nil {
		return false, err
	}
	return re.MatchString(Format(v)) != n.Negated, nil
}

func (e *Evaluator) in(n *ql.In, row Row, params map[string]any) (bool, error) {
	v, err := e.Value(n.Subject, row, params)
	if err != nil || v == nil {
		return false, err
	}
	for _, lit := range n.Values {
		want, err := e.Value(lit, row, params)
		if err != nil {
			return false, err
		}
		if Compare(v, want) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// exists is true when the target contributed data: any non-null field for
// a bare alias, or a non-empty value for alias.property.
func exists(target *ql.Identifier, row Row) bool {
	v := Lookup(target, row)
	if target.IsAlias() {
		return v != nil
	}
	if p, ok := v.(Presence); ok {
		return bool(p)
	}
	return !isEmptyCollection(v)
}

// Format renders a value as the string used by concat, pattern matching
// and search.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	default:
		return fmt.Sprint(v)
	}
}
