package sqlgen

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"

	"github.com/quellabs/objectquel/internal/quel/eval"
	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/schema"
)

// ── pattern matching ────────────────────────────────────────────────────────

// match lowers wildcard and regex matches case-sensitively: GLOB on SQLite,
// LIKE BINARY on MySQL and LIKE on PostgreSQL. Regexes need REGEXP_LIKE or
// the ~ operator; SQLite has neither.
func (c *compiler) match(n *ql.Match) (writer, error) {
	subject, err := c.text(n.Subject)
	if err != nil {
		return nil, err
	}

	var w writer
	if n.Kind == ql.PatternWildcard {
		w, err = c.wildcard(subject, n.Pattern)
	} else {
		w, err = c.regex(subject, n.Pattern, n.Flags)
	}
	if err != nil {
		return nil, err
	}
	if !n.Negated {
		return w, nil
	}
	return func(b *sql.Builder) {
		b.WriteString("NOT ")
		w(b)
	}, nil
}

func (c *compiler) wildcard(subject writer, pattern string) (writer, error) {
	switch c.t.dialect {
	case dialect.SQLite:
		glob := GlobPattern(pattern)
		return func(b *sql.Builder) {
			b.WriteByte('(')
			subject(b)
			b.WriteString(" GLOB ")
			b.Arg(glob)
			b.WriteByte(')')
		}, nil
	case dialect.MySQL:
		like := LikePattern(pattern)
		return func(b *sql.Builder) {
			b.WriteByte('(')
			subject(b)
			b.WriteString(" LIKE BINARY ")
			b.Arg(like)
			b.WriteString(` ESCAPE '\\')`)
		}, nil
	default:
		like := LikePattern(pattern)
		return func(b *sql.Builder) {
			b.WriteByte('(')
			subject(b)
			b.WriteString(" LIKE ")
			b.Arg(like)
			b.WriteString(` ESCAPE '\')`)
		}, nil
	}
}

func (c *compiler) regex(subject writer, body, flags string) (writer, error) {
	switch c.t.dialect {
	case dialect.MySQL:
		matchType := "c"
		if strings.ContainsRune(flags, 'i') {
			matchType = "i"
		}
		if strings.ContainsRune(flags, 'm') {
			matchType += "m"
		}
		if strings.ContainsRune(flags, 's') {
			matchType += "n"
		}
		return func(b *sql.Builder) {
			b.WriteString("REGEXP_LIKE(")
			subject(b)
			b.WriteString(", ")
			b.Arg(body)
			b.WriteString(", ")
			b.Arg(matchType)
			b.WriteByte(')')
		}, nil
	case dialect.Postgres:
		if strings.ContainsAny(flags, "ms") {
			return nil, ErrNotLowerable
		}
		op := " ~ "
		if strings.ContainsRune(flags, 'i') {
			op = " ~* "
		}
		return func(b *sql.Builder) {
			b.WriteByte('(')
			subject(b)
			b.WriteString(op)
			b.Arg(body)
			b.WriteByte(')')
		}, nil
	}
	return nil, ErrNotLowerable
}

// GlobPattern converts a wildcard pattern to SQLite GLOB syntax. * and ?
// carry over; a literal [ is bracketed.
func GlobPattern(pattern string) string {
	return strings.ReplaceAll(pattern, "[", "[[]")
}

// LikePattern converts a wildcard pattern to LIKE syntax with backslash
// as the escape character.
func LikePattern(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsPattern(term string) string {
	return "%" + LikePattern(term) + "%"
}

// ── search ──────────────────────────────────────────────────────────────────

// search lowers search() to LIKE tests over the lowercased, space-joined
// fields. SQL LOWER does not fold non-ASCII text the way the evaluator
// does, so such terms stay in memory.
func (c *compiler) search(n *ql.Search) (writer, error) {
	var query string
	switch q := n.Query.(type) {
	case *ql.String:
		query = q.Value
	case *ql.Parameter:
		v, err := eval.Param(c.params, q.Name)
		if err != nil {
			return nil, err
		}
		s, ok := v.(string)
		if !ok {
			return nil, fault.Newf(fault.EvaluateCode, "search() expects a string, got %T", v)
		}
		query = s
	default:
		return nil, ErrNotLowerable
	}
	if !isASCII(query) || strings.ContainsAny(query, "*?") {
		return nil, ErrNotLowerable
	}
	terms := eval.ParseSearch(query)
	if terms.Empty() {
		return raw("(1 = 1)"), nil
	}

	fields := make([]ql.Expr, 0, len(n.Fields)*2)
	for i, f := range n.Fields {
		if i > 0 {
			fields = append(fields, &ql.String{TokenPos: -1, Value: " ", Quote: '\''})
		}
		fields = append(fields, f)
	}
	haystack, err := c.concat(fields)
	if err != nil {
		return nil, err
	}
	contains := func(b *sql.Builder, term string) {
		b.WriteString("LOWER(")
		haystack(b)
		b.WriteString(") LIKE ")
		b.Arg(containsPattern(term))
		if c.t.dialect == dialect.MySQL {
			b.WriteString(` ESCAPE '\\'`)
		} else {
			b.WriteString(` ESCAPE '\'`)
		}
	}

	return func(b *sql.Builder) {
		b.WriteByte('(')
		first := true
		and := func() {
			if !first {
				b.WriteString(" AND ")
			}
			first = false
		}
		for _, term := range terms.Required {
			and()
			contains(b, term)
		}
		for _, term := range terms.Excluded {
			and()
			b.WriteString("NOT ")
			contains(b, term)
		}
		if len(terms.Optional) > 0 {
			and()
			b.WriteByte('(')
			for i, term := range terms.Optional {
				if i > 0 {
					b.WriteString(" OR ")
				}
				contains(b, term)
			}
			b.WriteByte(')')
		}
		b.WriteByte(')')
	}, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// ── exists ──────────────────────────────────────────────────────────────────

// exists lowers exists(alias) to a primary key null check on the joined
// row, exists(alias.relation) to a correlated EXISTS subquery and
// exists(alias.field) to a non-empty test.
func (c *compiler) exists(target *ql.Identifier) (writer, error) {
	r := c.ranges[target.Alias]
	if r == nil {
		return nil, ErrNotLowerable
	}
	tbl := c.tables[r.Alias]

	if target.IsAlias() {
		ids := r.Entity.Identifiers()
		if len(ids) == 0 {
			return nil, ErrNotLowerable
		}
		return raw("(" + tbl.C(r.Entity.Field(ids[0]).Column) + " IS NOT NULL)"), nil
	}

	if f := r.Entity.Field(target.Property()); f != nil {
		col := tbl.C(f.Column)
		if f.Type == schema.FieldString {
			return raw("(" + col + " IS NOT NULL AND " + col + " <> '')"), nil
		}
		return raw("(" + col + " IS NOT NULL)"), nil
	}

	rel := r.Entity.Relation(target.Property())
	if rel == nil {
		return nil, ErrNotLowerable
	}
	owner := r.Entity.Field(rel.JoinProperty)
	if owner == nil {
		return nil, ErrNotLowerable
	}

	// M2M relations only need the bridge row
	entity, column := rel.Target, rel.ReferencedProperty
	if rel.Cardinality == schema.ManyToMany {
		entity, column = rel.Bridge, rel.BridgeSource
	}
	es := c.t.registry.Entity(entity)
	if es == nil || es.Field(column) == nil {
		return nil, fault.Newf(fault.SQLCode, "exists(%s): relation metadata references unknown %s.%s", target, entity, column)
	}

	c.subs++
	d := sql.Dialect(c.t.dialect)
	sub := d.Table(es.Table).As(fmt.Sprintf("%s_%s_%d", r.Alias, rel.Name, c.subs))
	subCol := sub.C(es.Field(column).Column)
	query := d.Select(subCol).From(sub).Where(sql.ColumnsEQ(subCol, tbl.C(owner.Column)))
	return func(b *sql.Builder) {
		b.WriteString("EXISTS (")
		b.Join(query)
		b.WriteByte(')')
	}, nil
}
