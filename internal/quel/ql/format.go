package ql

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders an expression back to Quel text. The output is used for
// projection names and plan explanations, so it is deterministic.
func Format(e Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case nil:
		b.WriteString("<nil>")
	case *String:
		writeString(b, n.Value, n.Quote)
	case *Number:
		b.WriteString(n.Raw)
	case *Boolean:
		b.WriteString(strconv.FormatBool(n.Value))
	case *Parameter:
		b.WriteString(":" + n.Name)
	case *Identifier:
		b.WriteString(n.String())
	case *BinaryOp:
		b.WriteByte('(')
		writeExpr(b, n.Left)
		fmt.Fprintf(b, " %s ", n.Op)
		writeExpr(b, n.Right)
		b.WriteByte(')')
	case *Not:
		b.WriteString("NOT ")
		writeExpr(b, n.Expr)
	case *Negate:
		b.WriteByte('-')
		writeExpr(b, n.Expr)
	case *Match:
		writeExpr(b, n.Subject)
		if n.Negated {
			b.WriteString(" != ")
		} else {
			b.WriteString(" = ")
		}
		if n.Kind == PatternRegex {
			writeString(b, "/"+n.Pattern+"/"+n.Flags, '"')
		} else {
			writeString(b, n.Pattern, '"')
		}
	case *In:
		writeExpr(b, n.Subject)
		b.WriteString(" IN (")
		writeList(b, n.Values)
		b.WriteByte(')')
	case *CheckNull:
		writeExpr(b, n.Expr)
		b.WriteString(" IS NULL")
	case *CheckNotNull:
		writeExpr(b, n.Expr)
		b.WriteString(" IS NOT NULL")
	case *Concat:
		b.WriteString("concat(")
		writeList(b, n.Args)
		b.WriteByte(')')
	case *Search:
		b.WriteString("search(")
		for _, f := range n.Fields {
			b.WriteString(f.String())
			b.WriteString(", ")
		}
		writeExpr(b, n.Query)
		b.WriteByte(')')
	case *Exists:
		b.WriteString("exists(" + n.Target.String() + ")")
	case *Count:
		b.WriteString("count(")
		writeExpr(b, n.Arg)
		b.WriteByte(')')
	case *UCount:
		b.WriteString("ucount(")
		writeExpr(b, n.Arg)
		b.WriteByte(')')
	case *TypeCheck:
		b.WriteString(n.Check.FuncName() + "(")
		writeExpr(b, n.Arg)
		b.WriteByte(')')
	default:
		fmt.Fprintf(b, "<%T>", e)
	}
}

func writeList(b *strings.Builder, list []Expr) {
	for i, e := range list {
		if i > 0 {
			b.WriteString(", ")
		}
		writeExpr(b, e)
	}
}

func writeString(b *strings.Builder, s string, quote rune) {
	if quote == 0 {
		quote = '"'
	}
	b.WriteRune(quote)
	for _, r := range s {
		if r == quote || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteRune(quote)
}
