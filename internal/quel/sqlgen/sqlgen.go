// Package sqlgen lowers a database execution stage to one parameterized
// SELECT statement using ent's dialect-aware SQL builder.
package sqlgen

import (
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"

	"github.com/quellabs/objectquel/internal/quel/eval"
	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/planner"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/schema"
)

// ErrNotLowerable marks an expression the dialect cannot evaluate. Stage
// conditions that fail with it are evaluated in memory after the fetch.
var ErrNotLowerable = errors.New("expression has no SQL form in this dialect")

// Statement is a translated stage.
type Statement struct {
	SQL  string
	Args []any
	// Columns lists the row key ("alias.property") of each selected column.
	// Columns are labelled c0, c1, ... in the SQL.
	Columns []string
	// Residual holds stage conditions left for in-memory evaluation.
	Residual []ql.Expr

	flags map[int]bool // columns holding exists(alias.relation) results
}

// Label returns the SQL label of the i-th selected column.
func Label(i int) string {
	return fmt.Sprintf("c%d", i)
}

// Rekey maps a row keyed by column labels to one keyed by row keys.
func (s *Statement) Rekey(raw eval.Row) eval.Row {
	out := make(eval.Row, len(s.Columns))
	for i, key := range s.Columns {
		v := raw[Label(i)]
		if s.flags[i] {
			v = eval.Presence(truthy(v))
		}
		out[key] = v
	}
	return out
}

// truthy reads a boolean column the way drivers return it: bool on
// PostgreSQL, 0/1 integers on SQLite and MySQL.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case []byte:
		return string(x) == "1" || string(x) == "t" || string(x) == "true"
	case string:
		return x == "1" || x == "t" || x == "true"
	}
	return false
}

// Translator builds statements for one SQL dialect.
type Translator struct {
	dialect  string
	registry planner.Registry
}

// New returns a translator for an ent dialect name (sqlite3, postgres,
// mysql).
func New(dialectName string, registry planner.Registry) (*Translator, error) {
	switch dialectName {
	case dialect.SQLite, dialect.Postgres, dialect.MySQL:
		return &Translator{dialect: dialectName, registry: registry}, nil
	}
	return nil, fault.Newf(fault.SQLCode, "unsupported SQL dialect '%s'", dialectName)
}

// Dialect returns the ent dialect name.
func (t *Translator) Dialect() string { return t.dialect }

// Translate builds the SELECT for a database stage. params carries the
// query parameters and the semi-join value lists bound by the executor.
func (t *Translator) Translate(stage *planner.ExecutionStage, params map[string]any) (*Statement, error) {
	if stage.Kind != planner.StageDatabase || len(stage.Ranges) == 0 {
		return nil, fault.Newf(fault.SQLCode, "stage %s has no entity ranges", stage.Name)
	}

	c := &compiler{t: t, params: params, tables: make(map[string]*sql.SelectTable), ranges: make(map[string]*planner.StageRange)}
	b := sql.Dialect(t.dialect)
	for _, r := range stage.Ranges {
		c.tables[r.Alias] = b.Table(r.Entity.Table).As(r.Alias)
		c.ranges[r.Alias] = r
	}

	stmt := &Statement{}
	sel := b.Select()
	for _, r := range stage.Ranges {
		tbl := c.tables[r.Alias]
		for _, name := range r.Entity.FieldOrder {
			sel.AppendSelectAs(tbl.C(r.Entity.Fields[name].Column), Label(len(stmt.Columns)))
			stmt.Columns = append(stmt.Columns, r.Alias+"."+name)
		}
	}

	for _, id := range stage.Presence {
		w, err := c.exists(id)
		if err != nil {
			return nil, fault.Newf(fault.SQLCode, "exists(%s) cannot be selected: %v", id, err)
		}
		if stmt.flags == nil {
			stmt.flags = make(map[int]bool)
		}
		stmt.flags[len(stmt.Columns)] = true
		sel.AppendSelectExprAs(sql.ExprFunc(w), Label(len(stmt.Columns)))
		stmt.Columns = append(stmt.Columns, id.Key())
	}

	// within a stage only the first range drives; other roots cross join
	for i, r := range stage.Ranges {
		tbl := c.tables[r.Alias]
		switch {
		case i == 0:
			sel.From(tbl)
		case r.Join == nil || !stageLocal(r.Join, c.ranges):
			sel.Join(tbl).OnP(sql.P(func(b *sql.Builder) { b.WriteString("1 = 1") }))
		default:
			w, err := c.compile(r.Join)
			if err != nil {
				return nil, joinError(r, err)
			}
			if r.Required {
				sel.Join(tbl).OnP(sql.P(w))
			} else {
				sel.LeftJoin(tbl).OnP(sql.P(w))
			}
		}
	}

	var preds []*sql.Predicate
	for _, sj := range stage.SemiJoins {
		p, err := c.semiJoin(sj)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	for _, cond := range stage.Conditions {
		w, err := c.compile(cond)
		switch {
		case errors.Is(err, ErrNotLowerable):
			stmt.Residual = append(stmt.Residual, cond)
		case err != nil:
			return nil, err
		default:
			preds = append(preds, sql.P(w))
		}
	}
	if len(preds) > 0 {
		sel.Where(sql.And(preds...))
	}

	stmt.SQL, stmt.Args = sel.Query()
	return stmt, nil
}

func joinError(r *planner.StageRange, err error) error {
	if errors.Is(err, ErrNotLowerable) {
		return fault.Newf(fault.SQLCode, "join of range '%s' cannot be expressed in SQL: %s", r.Alias, ql.Format(r.Join))
	}
	return err
}

// stageLocal reports whether every alias in e belongs to the stage.
func stageLocal(e ql.Expr, ranges map[string]*planner.StageRange) bool {
	for a := range ql.Aliases(e) {
		if ranges[a] == nil {
			return false
		}
	}
	return true
}

func (c *compiler) semiJoin(sj planner.SemiJoin) (*sql.Predicate, error) {
	col, err := c.column(sj.Column)
	if err != nil {
		return nil, fault.Newf(fault.SQLCode, "semi-join column %s: %v", sj.Column, err)
	}
	bound, err := eval.Param(c.params, sj.Param)
	if err != nil {
		return nil, err
	}
	values, _ := bound.([]any)
	return sql.P(func(b *sql.Builder) {
		if len(values) == 0 {
			b.WriteString("1 = 0")
			return
		}
		b.WriteString(col).WriteString(" IN (")
		for i, v := range values {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Arg(v)
		}
		b.WriteByte(')')
	}), nil
}

// ── expression compiler ─────────────────────────────────────────────────────

type writer func(b *sql.Builder)

type compiler struct {
	t      *Translator
	params map[string]any
	tables map[string]*sql.SelectTable
	ranges map[string]*planner.StageRange
	subs   int
}

func (c *compiler) field(id *ql.Identifier) (*planner.StageRange, *schema.FieldMeta, error) {
	r := c.ranges[id.Alias]
	if r == nil || id.IsAlias() || len(id.Path) > 1 {
		return nil, nil, ErrNotLowerable
	}
	f := r.Entity.Field(id.Property())
	if f == nil {
		return nil, nil, ErrNotLowerable
	}
	return r, f, nil
}

func (c *compiler) column(id *ql.Identifier) (string, error) {
	r, f, err := c.field(id)
	if err != nil {
		return "", err
	}
	return c.tables[r.Alias].C(f.Column), nil
}

func (c *compiler) compile(e ql.Expr) (writer, error) {
	switch n := e.(type) {
	case *ql.String:
		return arg(n.Value), nil
	case *ql.Number:
		return arg(n.Value()), nil
	case *ql.Boolean:
		return arg(n.Value), nil
	case *ql.Parameter:
		v, err := eval.Param(c.params, n.Name)
		if err != nil {
			return nil, err
		}
		return arg(v), nil
	case *ql.Identifier:
		col, err := c.column(n)
		if err != nil {
			return nil, err
		}
		return raw(col), nil
	case *ql.BinaryOp:
		return c.binary(n)
	case *ql.Not:
		inner, err := c.compile(n.Expr)
		if err != nil {
			return nil, err
		}
		// NULL counts as false before negation, as in memory
		return func(b *sql.Builder) {
			b.WriteString("NOT COALESCE(")
			inner(b)
			b.WriteString(", FALSE)")
		}, nil
	case *ql.Negate:
		inner, err := c.compile(n.Expr)
		if err != nil {
			return nil, err
		}
		return func(b *sql.Builder) {
			b.WriteString("(-")
			inner(b)
			b.WriteByte(')')
		}, nil
	case *ql.Match:
		return c.match(n)
	case *ql.In:
		return c.in(n)
	case *ql.CheckNull:
		return c.postfix(n.Expr, " IS NULL")
	case *ql.CheckNotNull:
		return c.postfix(n.Expr, " IS NOT NULL")
	case *ql.Concat:
		return c.concat(n.Args)
	case *ql.Search:
		return c.search(n)
	case *ql.Exists:
		return c.exists(n.Target)
	}
	// type checks and aggregates are evaluated in memory
	return nil, ErrNotLowerable
}

func arg(v any) writer {
	return func(b *sql.Builder) { b.Arg(v) }
}

func raw(s string) writer {
	return func(b *sql.Builder) { b.WriteString(s) }
}

var sqlOps = map[ql.BinaryOperator]string{
	ql.OpAdd: "+",
	ql.OpSub: "-",
	ql.OpMul: "*",
	ql.OpEQ:  "=",
	ql.OpNEQ: "<>",
	ql.OpLT:  "<",
	ql.OpLTE: "<=",
	ql.OpGT:  ">",
	ql.OpGTE: ">=",
	ql.OpAnd: "AND",
	ql.OpOr:  "OR",
}

func (c *compiler) binary(n *ql.BinaryOp) (writer, error) {
	left, err := c.compile(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.compile(n.Right)
	if err != nil {
		return nil, err
	}
	if n.Op == ql.OpDiv {
		// keep the fractional part on integer columns
		return func(b *sql.Builder) {
			b.WriteString("(1.0 * ")
			left(b)
			b.WriteString(" / ")
			right(b)
			b.WriteByte(')')
		}, nil
	}
	op, ok := sqlOps[n.Op]
	if !ok {
		return nil, ErrNotLowerable
	}
	return func(b *sql.Builder) {
		b.WriteByte('(')
		left(b)
		b.WriteString(" " + op + " ")
		right(b)
		b.WriteByte(')')
	}, nil
}

func (c *compiler) postfix(e ql.Expr, suffix string) (writer, error) {
	inner, err := c.compile(e)
	if err != nil {
		return nil, err
	}
	return func(b *sql.Builder) {
		b.WriteByte('(')
		inner(b)
		b.WriteString(suffix + ")")
	}, nil
}

func (c *compiler) in(n *ql.In) (writer, error) {
	subject, err := c.compile(n.Subject)
	if err != nil {
		return nil, err
	}
	values := make([]writer, len(n.Values))
	for i, v := range n.Values {
		if values[i], err = c.compile(v); err != nil {
			return nil, err
		}
	}
	return func(b *sql.Builder) {
		b.WriteByte('(')
		subject(b)
		b.WriteString(" IN (")
		for i, v := range values {
			if i > 0 {
				b.WriteString(", ")
			}
			v(b)
		}
		b.WriteString("))")
	}, nil
}

// text renders e as a string operand.
func (c *compiler) text(e ql.Expr) (writer, error) {
	inner, err := c.compile(e)
	if err != nil {
		return nil, err
	}
	if c.t.dialect != dialect.Postgres {
		return inner, nil
	}
	return func(b *sql.Builder) {
		b.WriteString("CAST(")
		inner(b)
		b.WriteString(" AS TEXT)")
	}, nil
}

func (c *compiler) concat(args []ql.Expr) (writer, error) {
	parts := make([]writer, len(args))
	for i, a := range args {
		w, err := c.compile(a)
		if err != nil {
			return nil, err
		}
		parts[i] = w
	}
	return func(b *sql.Builder) {
		switch c.t.dialect {
		case dialect.Postgres:
			b.WriteString("CONCAT(")
		case dialect.MySQL:
			b.WriteString("CONCAT_WS('', ")
		default:
			b.WriteByte('(')
		}
		for i, p := range parts {
			if i > 0 {
				if c.t.dialect == dialect.SQLite {
					b.WriteString(" || ")
				} else {
					b.WriteString(", ")
				}
			}
			if c.t.dialect == dialect.SQLite {
				b.WriteString("COALESCE(CAST(")
				p(b)
				b.WriteString(" AS TEXT), '')")
			} else {
				p(b)
			}
		}
		b.WriteByte(')')
	}, nil
}
