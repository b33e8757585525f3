package ql

import "strings"

// Type is the declared return type of an AST node.
type Type int

const (
	TypeNone Type = iota // untyped or nullable
	TypeString
	TypeBoolean
	TypeNumeric
	TypeEntity
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBoolean:
		return "boolean"
	case TypeNumeric:
		return "numeric"
	case TypeEntity:
		return "entity"
	default:
		return "none"
	}
}

// Node is the interface implemented by all AST nodes. The unexported
// marker keeps the variant set closed to this package.
type Node interface {
	Pos() int // byte offset in source
	ReturnType() Type
	Accept(v Visitor)
	node()
}

// Expr is implemented by all expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Visitor is called once per node, parents before children.
type Visitor interface {
	Visit(n Node)
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(n Node)

func (f VisitorFunc) Visit(n Node) { f(n) }

// ── Literals ────────────────────────────────────────────────────────────────

// String is a quoted string literal.
type String struct {
	TokenPos int
	Value    string
	Quote    rune // '"' or '\''
}

func (n *String) Pos() int         { return n.TokenPos }
func (n *String) ReturnType() Type { return TypeString }
func (n *String) Accept(v Visitor) { v.Visit(n) }
func (n *String) node()            {}
func (n *String) exprNode()        {}

// Number is an integer or float literal.
type Number struct {
	TokenPos int
	Raw      string
	IsFloat  bool
	Int      int64
	Float    float64
}

// Value returns the literal as int64 or float64.
func (n *Number) Value() any {
	if n.IsFloat {
		return n.Float
	}
	return n.Int
}

func (n *Number) Pos() int         { return n.TokenPos }
func (n *Number) ReturnType() Type { return TypeNumeric }
func (n *Number) Accept(v Visitor) { v.Visit(n) }
func (n *Number) node()            {}
func (n *Number) exprNode()        {}

// Boolean is true or false.
type Boolean struct {
	TokenPos int
	Value    bool
}

func (n *Boolean) Pos() int         { return n.TokenPos }
func (n *Boolean) ReturnType() Type { return TypeBoolean }
func (n *Boolean) Accept(v Visitor) { v.Visit(n) }
func (n *Boolean) node()            {}
func (n *Boolean) exprNode()        {}

// Parameter is a :name placeholder bound at execution time.
type Parameter struct {
	TokenPos int
	Name     string
}

func (n *Parameter) Pos() int         { return n.TokenPos }
func (n *Parameter) ReturnType() Type { return TypeNone }
func (n *Parameter) Accept(v Visitor) { v.Visit(n) }
func (n *Parameter) node()            {}
func (n *Parameter) exprNode()        {}

// ── Identifiers ─────────────────────────────────────────────────────────────

// SourceKind tells which kind of range an identifier resolves to.
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceDatabase
	SourceJSON
)

// Identifier references a range alias, optionally followed by a property
// chain (main, main.name, j.address.city).
type Identifier struct {
	TokenPos int
	Alias    string
	Path     []string
	Source   SourceKind
}

// NewIdentifier builds an identifier outside the parser, e.g. for join
// conditions derived from relation metadata.
func NewIdentifier(alias string, source SourceKind, path ...string) *Identifier {
	return &Identifier{TokenPos: -1, Alias: alias, Path: path, Source: source}
}

// IsAlias reports whether the identifier is a bare range alias.
func (n *Identifier) IsAlias() bool { return len(n.Path) == 0 }

// Property returns the first property segment, or "" for a bare alias.
func (n *Identifier) Property() string {
	if len(n.Path) == 0 {
		return ""
	}
	return n.Path[0]
}

// Key returns the row key of the first property segment (alias.property).
func (n *Identifier) Key() string {
	if len(n.Path) == 0 {
		return n.Alias
	}
	return n.Alias + "." + n.Path[0]
}

// String returns the dotted identifier.
func (n *Identifier) String() string {
	if len(n.Path) == 0 {
		return n.Alias
	}
	return n.Alias + "." + strings.Join(n.Path, ".")
}

func (n *Identifier) Pos() int { return n.TokenPos }
func (n *Identifier) ReturnType() Type {
	if n.IsAlias() && n.Source == SourceDatabase {
		return TypeEntity
	}
	return TypeNone
}
func (n *Identifier) Accept(v Visitor) { v.Visit(n) }
func (n *Identifier) node()            {}
func (n *Identifier) exprNode()        {}

// ── Operators ───────────────────────────────────────────────────────────────

// BinaryOperator enumerates arithmetic, comparison and logical operators.
type BinaryOperator int

const (
	OpAdd BinaryOperator = iota
	OpSub
	OpMul
	OpDiv
	OpEQ
	OpNEQ
	OpLT
	OpLTE
	OpGT
	OpGTE
	OpAnd
	OpOr
)

// String returns the Quel operator symbol.
func (op BinaryOperator) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpEQ:
		return "="
	case OpNEQ:
		return "!="
	case OpLT:
		return "<"
	case OpLTE:
		return "<="
	case OpGT:
		return ">"
	case OpGTE:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	default:
		return "?"
	}
}

// IsArithmetic reports + - * /.
func (op BinaryOperator) IsArithmetic() bool { return op <= OpDiv }

// IsComparison reports = != < <= > >=.
func (op BinaryOperator) IsComparison() bool { return op >= OpEQ && op <= OpGTE }

// IsLogical reports AND and OR.
func (op BinaryOperator) IsLogical() bool { return op == OpAnd || op == OpOr }

// BinaryOp is an arithmetic, comparison or logical operation.
type BinaryOp struct {
	TokenPos int
	Op       BinaryOperator
	Left     Expr
	Right    Expr
}

func (n *BinaryOp) Pos() int { return n.TokenPos }
func (n *BinaryOp) ReturnType() Type {
	if n.Op.IsArithmetic() {
		return TypeNumeric
	}
	return TypeBoolean
}
func (n *BinaryOp) Accept(v Visitor) {
	v.Visit(n)
	n.Left.Accept(v)
	n.Right.Accept(v)
}
func (n *BinaryOp) node()     {}
func (n *BinaryOp) exprNode() {}

// Not is boolean negation.
type Not struct {
	TokenPos int
	Expr     Expr
}

func (n *Not) Pos() int         { return n.TokenPos }
func (n *Not) ReturnType() Type { return TypeBoolean }
func (n *Not) Accept(v Visitor) {
	v.Visit(n)
	n.Expr.Accept(v)
}
func (n *Not) node()     {}
func (n *Not) exprNode() {}

// Negate is unary minus.
type Negate struct {
	TokenPos int
	Expr     Expr
}

func (n *Negate) Pos() int         { return n.TokenPos }
func (n *Negate) ReturnType() Type { return TypeNumeric }
func (n *Negate) Accept(v Visitor) {
	v.Visit(n)
	n.Expr.Accept(v)
}
func (n *Negate) node()     {}
func (n *Negate) exprNode() {}

// PatternKind distinguishes glob-style and regular-expression matches.
type PatternKind int

const (
	PatternWildcard PatternKind = iota
	PatternRegex
)

// Match tests Subject against a wildcard (*, ?) or /regex/flags pattern.
type Match struct {
	TokenPos int
	Subject  Expr
	Kind     PatternKind
	Pattern  string // wildcard text, or regex body without delimiters
	Flags    string // regex flags (i, m, s)
	Negated  bool
}

func (n *Match) Pos() int         { return n.TokenPos }
func (n *Match) ReturnType() Type { return TypeBoolean }
func (n *Match) Accept(v Visitor) {
	v.Visit(n)
	n.Subject.Accept(v)
}
func (n *Match) node()     {}
func (n *Match) exprNode() {}

// ── Special forms ───────────────────────────────────────────────────────────

// In tests membership in a literal list. Values are *String or *Number.
type In struct {
	TokenPos int
	Subject  Expr
	Values   []Expr
}

func (n *In) Pos() int         { return n.TokenPos }
func (n *In) ReturnType() Type { return TypeBoolean }
func (n *In) Accept(v Visitor) {
	v.Visit(n)
	n.Subject.Accept(v)
	for _, val := range n.Values {
		val.Accept(v)
	}
}
func (n *In) node()     {}
func (n *In) exprNode() {}

// CheckNull is "expr IS NULL".
type CheckNull struct {
	TokenPos int
	Expr     Expr
}

func (n *CheckNull) Pos() int         { return n.TokenPos }
func (n *CheckNull) ReturnType() Type { return TypeBoolean }
func (n *CheckNull) Accept(v Visitor) {
	v.Visit(n)
	n.Expr.Accept(v)
}
func (n *CheckNull) node()     {}
func (n *CheckNull) exprNode() {}

// CheckNotNull is "expr IS NOT NULL".
type CheckNotNull struct {
	TokenPos int
	Expr     Expr
}

func (n *CheckNotNull) Pos() int         { return n.TokenPos }
func (n *CheckNotNull) ReturnType() Type { return TypeBoolean }
func (n *CheckNotNull) Accept(v Visitor) {
	v.Visit(n)
	n.Expr.Accept(v)
}
func (n *CheckNotNull) node()     {}
func (n *CheckNotNull) exprNode() {}

// Concat joins its arguments as strings.
type Concat struct {
	TokenPos int
	Args     []Expr
}

func (n *Concat) Pos() int         { return n.TokenPos }
func (n *Concat) ReturnType() Type { return TypeString }
func (n *Concat) Accept(v Visitor) {
	v.Visit(n)
	for _, a := range n.Args {
		a.Accept(v)
	}
}
func (n *Concat) node()     {}
func (n *Concat) exprNode() {}

// Search is full-text matching of "+required -excluded optional" terms
// across one or more fields. Query is a *String or *Parameter.
type Search struct {
	TokenPos int
	Fields   []*Identifier
	Query    Expr
}

func (n *Search) Pos() int         { return n.TokenPos }
func (n *Search) ReturnType() Type { return TypeBoolean }
func (n *Search) Accept(v Visitor) {
	v.Visit(n)
	for _, f := range n.Fields {
		f.Accept(v)
	}
	n.Query.Accept(v)
}
func (n *Search) node()     {}
func (n *Search) exprNode() {}

// Exists is true when a joined range or relation produced data.
type Exists struct {
	TokenPos int
	Target   *Identifier
}

func (n *Exists) Pos() int         { return n.TokenPos }
func (n *Exists) ReturnType() Type { return TypeBoolean }
func (n *Exists) Accept(v Visitor) {
	v.Visit(n)
	n.Target.Accept(v)
}
func (n *Exists) node()     {}
func (n *Exists) exprNode() {}

// Count counts non-null values of Arg over the result set.
type Count struct {
	TokenPos int
	Arg      Expr
}

func (n *Count) Pos() int         { return n.TokenPos }
func (n *Count) ReturnType() Type { return TypeNumeric }
func (n *Count) Accept(v Visitor) {
	v.Visit(n)
	n.Arg.Accept(v)
}
func (n *Count) node()      {}
func (n *Count) exprNode()  {}
func (n *Count) aggregate() {}

// UCount counts distinct non-null values of Arg over the result set.
type UCount struct {
	TokenPos int
	Arg      Expr
}

func (n *UCount) Pos() int         { return n.TokenPos }
func (n *UCount) ReturnType() Type { return TypeNumeric }
func (n *UCount) Accept(v Visitor) {
	v.Visit(n)
	n.Arg.Accept(v)
}
func (n *UCount) node()      {}
func (n *UCount) exprNode()  {}
func (n *UCount) aggregate() {}

// Aggregate is implemented by Count and UCount.
type Aggregate interface {
	Expr
	aggregate()
}

// CheckKind selects the value test performed by a TypeCheck.
type CheckKind int

const (
	CheckEmpty CheckKind = iota
	CheckNumeric
	CheckInteger
	CheckFloat
)

// FuncName returns the Quel function spelling.
func (k CheckKind) FuncName() string {
	switch k {
	case CheckEmpty:
		return "is_empty"
	case CheckNumeric:
		return "is_numeric"
	case CheckInteger:
		return "is_integer"
	case CheckFloat:
		return "is_float"
	default:
		return "?"
	}
}

// TypeCheck is one of is_empty, is_numeric, is_integer, is_float.
type TypeCheck struct {
	TokenPos int
	Check    CheckKind
	Arg      Expr
}

func (n *TypeCheck) Pos() int         { return n.TokenPos }
func (n *TypeCheck) ReturnType() Type { return TypeBoolean }
func (n *TypeCheck) Accept(v Visitor) {
	v.Visit(n)
	n.Arg.Accept(v)
}
func (n *TypeCheck) node()     {}
func (n *TypeCheck) exprNode() {}

// ── Ranges ──────────────────────────────────────────────────────────────────

// FetchMode controls whether an unreferenced related range is loaded.
type FetchMode int

const (
	FetchEager FetchMode = iota
	FetchLazy
)

// String returns EAGER or LAZY.
func (m FetchMode) String() string {
	if m == FetchLazy {
		return "LAZY"
	}
	return "EAGER"
}

// Range is a named alias bound to a data source.
type Range interface {
	Node
	RangeAlias() string
	JoinCondition() Expr
	IsRequired() bool
	rangeNode()
}

// RangeDatabaseSource binds an alias to an entity table.
type RangeDatabaseSource struct {
	TokenPos  int
	Alias     string
	Entity    string
	Via       Expr
	FetchMode FetchMode
	Required  bool
}

func (n *RangeDatabaseSource) Pos() int            { return n.TokenPos }
func (n *RangeDatabaseSource) ReturnType() Type    { return TypeEntity }
func (n *RangeDatabaseSource) RangeAlias() string  { return n.Alias }
func (n *RangeDatabaseSource) JoinCondition() Expr { return n.Via }
func (n *RangeDatabaseSource) IsRequired() bool    { return n.Required }
func (n *RangeDatabaseSource) Accept(v Visitor) {
	v.Visit(n)
	if n.Via != nil {
		n.Via.Accept(v)
	}
}
func (n *RangeDatabaseSource) node()      {}
func (n *RangeDatabaseSource) rangeNode() {}

// RangeJsonSource binds an alias to the records of a JSON file, optionally
// narrowed by a JSONPath expression.
type RangeJsonSource struct {
	TokenPos int
	Alias    string
	Path     string
	JSONPath string
	Via      Expr
	Required bool
}

func (n *RangeJsonSource) Pos() int            { return n.TokenPos }
func (n *RangeJsonSource) ReturnType() Type    { return TypeNone }
func (n *RangeJsonSource) RangeAlias() string  { return n.Alias }
func (n *RangeJsonSource) JoinCondition() Expr { return n.Via }
func (n *RangeJsonSource) IsRequired() bool    { return n.Required }
func (n *RangeJsonSource) Accept(v Visitor) {
	v.Visit(n)
	if n.Via != nil {
		n.Via.Accept(v)
	}
}
func (n *RangeJsonSource) node()      {}
func (n *RangeJsonSource) rangeNode() {}

// ── Retrieve ────────────────────────────────────────────────────────────────

// Projection is one retrieve list entry.
type Projection struct {
	Name     string // explicit name, or the expression text
	Explicit bool
	Expr     Expr
}

// SortItem is one "sort by" key.
type SortItem struct {
	Expr Expr
	Desc bool
}

// Window selects page Page (1-based) of Size rows.
type Window struct {
	Page int
	Size int
}

// Retrieve is the top-level query.
type Retrieve struct {
	TokenPos    int
	Ranges      []Range
	Unique      bool
	Projections []Projection
	Where       Expr
	Sort        []SortItem
	Window      *Window
}

// Range returns the range declared with alias, or nil.
func (n *Retrieve) Range(alias string) Range {
	for _, r := range n.Ranges {
		if r.RangeAlias() == alias {
			return r
		}
	}
	return nil
}

// IsAggregate reports whether the projection consists of aggregates only.
func (n *Retrieve) IsAggregate() bool {
	if len(n.Projections) == 0 {
		return false
	}
	for _, p := range n.Projections {
		if _, ok := p.Expr.(Aggregate); !ok {
			return false
		}
	}
	return true
}

func (n *Retrieve) Pos() int         { return n.TokenPos }
func (n *Retrieve) ReturnType() Type { return TypeNone }
func (n *Retrieve) Accept(v Visitor) {
	v.Visit(n)
	for _, r := range n.Ranges {
		r.Accept(v)
	}
	for _, p := range n.Projections {
		p.Expr.Accept(v)
	}
	if n.Where != nil {
		n.Where.Accept(v)
	}
	for _, s := range n.Sort {
		s.Expr.Accept(v)
	}
}
func (n *Retrieve) node() {}

// ── Traversal helpers ───────────────────────────────────────────────────────

// Identifiers returns every identifier below n in visiting order.
func Identifiers(n Node) []*Identifier {
	var out []*Identifier
	if n == nil {
		return nil
	}
	n.Accept(VisitorFunc(func(n Node) {
		if id, ok := n.(*Identifier); ok {
			out = append(out, id)
		}
	}))
	return out
}

// Aliases returns the set of range aliases referenced below n.
func Aliases(n Node) map[string]bool {
	out := make(map[string]bool)
	for _, id := range Identifiers(n) {
		out[id.Alias] = true
	}
	return out
}

// Conjuncts splits a condition on top-level AND operators.
func Conjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if b, ok := e.(*BinaryOp); ok && b.Op == OpAnd {
		return append(Conjuncts(b.Left), Conjuncts(b.Right)...)
	}
	return []Expr{e}
}

// And folds conditions back into a left-deep AND tree; nil for none.
func And(conds ...Expr) Expr {
	var out Expr
	for _, c := range conds {
		if c == nil {
			continue
		}
		if out == nil {
			out = c
			continue
		}
		out = &BinaryOp{TokenPos: c.Pos(), Op: OpAnd, Left: out, Right: c}
	}
	return out
}
