package ql

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser implements a recursive descent parser for Quel. It pulls tokens
// from a Lexer and stops at the first error.
type Parser struct {
	lexer  *Lexer
	ranges []Range
}

// NewParser creates a parser reading from the given lexer.
func NewParser(lexer *Lexer) *Parser {
	return &Parser{lexer: lexer}
}

// Parse lexes and parses a complete query.
func Parse(input string) (*Retrieve, error) {
	return NewParser(NewLexer(input)).Parse()
}

// Parse parses the token stream into a Retrieve statement.
func (p *Parser) Parse() (*Retrieve, error) {
	ret, err := p.parseRetrieve()
	if err != nil {
		// A malformed token hides behind an EOF lookahead; report it first.
		if lexErr := p.lexer.Err(); lexErr != nil {
			return nil, lexErr
		}
		return nil, err
	}
	return ret, nil
}

// ── Token navigation ────────────────────────────────────────────────────────

func (p *Parser) peek() TokenType {
	return p.lexer.Peek()
}

func (p *Parser) peekToken() Token {
	return p.lexer.PeekToken()
}

func (p *Parser) advance() (Token, error) {
	return p.lexer.Get()
}

func (p *Parser) check(t TokenType) bool {
	return p.peek() == t
}

func (p *Parser) accept(t TokenType) (Token, bool, error) {
	return p.lexer.OptionalMatch(t)
}

func (p *Parser) expect(t TokenType) (Token, error) {
	if !p.check(t) {
		tok := p.peekToken()
		return tok, newParseErrorf(tok, "expected %s, got %s", t, describe(tok))
	}
	return p.advance()
}

// expectName accepts an identifier or a keyword used as a property name.
func (p *Parser) expectName() (Token, error) {
	tok := p.peekToken()
	if tok.Type == TokenIdent || tok.Type >= TokenRange {
		return p.advance()
	}
	return tok, newParseErrorf(tok, "expected property name, got %s", describe(tok))
}

// ── retrieve ────────────────────────────────────────────────────────────────

func (p *Parser) parseRetrieve() (*Retrieve, error) {
	if !p.check(TokenRange) {
		tok := p.peekToken()
		return nil, newParseErrorf(tok, "a query must start with 'range of <alias> is <source>', got %s", describe(tok))
	}

	ret := &Retrieve{}
	for p.check(TokenRange) {
		r, err := p.parseRange()
		if err != nil {
			return nil, err
		}
		ret.Ranges = append(ret.Ranges, r)
	}

	tok, err := p.expect(TokenRetrieve)
	if err != nil {
		return nil, err
	}
	ret.TokenPos = tok.Pos

	_, unique, err := p.accept(TokenUnique)
	if err != nil {
		return nil, err
	}
	ret.Unique = unique

	if ret.Projections, err = p.parseProjections(); err != nil {
		return nil, err
	}

	if _, ok, err := p.accept(TokenWhere); err != nil {
		return nil, err
	} else if ok {
		if ret.Where, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}

	if _, ok, err := p.accept(TokenSort); err != nil {
		return nil, err
	} else if ok {
		if ret.Sort, err = p.parseSort(); err != nil {
			return nil, err
		}
	}

	if _, ok, err := p.accept(TokenWindow); err != nil {
		return nil, err
	} else if ok {
		if ret.Window, err = p.parseWindow(); err != nil {
			return nil, err
		}
	}

	if !p.check(TokenEOF) {
		tok := p.peekToken()
		return nil, newParseErrorf(tok, "unexpected %s after end of query", describe(tok))
	}

	if err := p.resolve(ret); err != nil {
		return nil, err
	}
	if perr := validate(ret); perr != nil {
		p.locate(perr)
		return nil, perr
	}
	return ret, nil
}

// ── range ───────────────────────────────────────────────────────────────────

func (p *Parser) parseRange() (Range, error) {
	start, err := p.advance() // consume 'range'
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenOf); err != nil {
		return nil, err
	}
	aliasTok, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	alias := aliasTok.Literal
	for _, r := range p.ranges {
		if r.RangeAlias() == alias {
			return nil, newParseErrorf(aliasTok, "range alias '%s' is declared twice", alias)
		}
	}
	if _, err := p.expect(TokenIs); err != nil {
		return nil, err
	}

	var rng Range
	switch p.peek() {
	case TokenJSONSource:
		js, err := p.parseJSONSource(start, alias)
		if err != nil {
			return nil, err
		}
		rng = js
	case TokenIdent:
		entTok, _ := p.advance()
		rng = &RangeDatabaseSource{TokenPos: start.Pos, Alias: alias, Entity: entTok.Literal}
	default:
		tok := p.peekToken()
		return nil, newParseErrorf(tok, "expected an entity name or json_source(...), got %s", describe(tok))
	}

	if _, ok, err := p.accept(TokenVia); err != nil {
		return nil, err
	} else if ok {
		via, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		switch r := rng.(type) {
		case *RangeDatabaseSource:
			r.Via = via
		case *RangeJsonSource:
			r.Via = via
		}
	}

	if err := p.parseAnnotations(rng); err != nil {
		return nil, err
	}

	p.ranges = append(p.ranges, rng)
	return rng, nil
}

func (p *Parser) parseJSONSource(start Token, alias string) (*RangeJsonSource, error) {
	p.advance() // consume 'json_source'
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	pathTok, err := p.expect(TokenString)
	if err != nil {
		return nil, err
	}
	if pathTok.Literal == "" {
		return nil, newParseError(pathTok, "json_source() requires a file name")
	}
	rng := &RangeJsonSource{TokenPos: start.Pos, Alias: alias, Path: pathTok.Literal}

	if _, ok, err := p.accept(TokenComma); err != nil {
		return nil, err
	} else if ok {
		jpTok, err := p.expect(TokenString)
		if err != nil {
			return nil, err
		}
		rng.JSONPath = jpTok.Literal
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return rng, nil
}

var annotationNames = []string{"lazy", "eager", "required"}

func (p *Parser) parseAnnotations(rng Range) error {
	for p.check(TokenAnnotation) {
		tok, err := p.advance()
		if err != nil {
			return err
		}
		name := strings.ToLower(tok.Literal)
		switch r := rng.(type) {
		case *RangeDatabaseSource:
			switch name {
			case "lazy":
				r.FetchMode = FetchLazy
				continue
			case "eager":
				r.FetchMode = FetchEager
				continue
			case "required":
				r.Required = true
				continue
			}
		case *RangeJsonSource:
			switch name {
			case "required":
				r.Required = true
				continue
			case "lazy", "eager":
				return newParseErrorf(tok, "@%s applies to entity ranges only", name)
			}
		}
		perr := newParseErrorf(tok, "unknown annotation @%s", tok.Literal)
		perr.Suggestion = SuggestFrom(name, annotationNames, 2)
		return perr
	}
	return nil
}

// ── projections, sort, window ───────────────────────────────────────────────

func (p *Parser) parseProjections() ([]Projection, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	var out []Projection
	seen := make(map[string]bool)
	for {
		start := p.peekToken()
		proj, err := p.parseProjection()
		if err != nil {
			return nil, err
		}
		if seen[proj.Name] {
			return nil, newParseErrorf(start, "duplicate projection '%s'", proj.Name)
		}
		seen[proj.Name] = true
		out = append(out, proj)

		if _, ok, err := p.accept(TokenComma); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}

	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return out, nil
}

// parseProjection reads "expr" or "name = expr". A named projection shows
// up as an equality whose left side is a bare name that is not a range.
func (p *Parser) parseProjection() (Projection, error) {
	expr, err := p.parseExpr()
	if err != nil {
		return Projection{}, err
	}

	switch e := expr.(type) {
	case *BinaryOp:
		if name, ok := p.projectionName(e.Left); ok && e.Op == OpEQ {
			return Projection{Name: name, Explicit: true, Expr: e.Right}, nil
		}
	case *Match:
		if name, ok := p.projectionName(e.Subject); ok && !e.Negated {
			value := e.Pattern
			if e.Kind == PatternRegex {
				value = "/" + e.Pattern + "/" + e.Flags
			}
			return Projection{Name: name, Explicit: true, Expr: &String{TokenPos: e.TokenPos, Value: value, Quote: '"'}}, nil
		}
	}
	return Projection{Name: Format(expr), Expr: expr}, nil
}

func (p *Parser) projectionName(e Expr) (string, bool) {
	id, ok := e.(*Identifier)
	if !ok || !id.IsAlias() || p.rangeByAlias(id.Alias) != nil {
		return "", false
	}
	return id.Alias, true
}

func (p *Parser) parseSort() ([]SortItem, error) {
	if _, err := p.expect(TokenBy); err != nil {
		return nil, err
	}

	var items []SortItem
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := SortItem{Expr: expr}
		if _, ok, err := p.accept(TokenDesc); err != nil {
			return nil, err
		} else if ok {
			item.Desc = true
		} else if _, _, err := p.accept(TokenAsc); err != nil {
			return nil, err
		}
		items = append(items, item)

		if _, ok, err := p.accept(TokenComma); err != nil {
			return nil, err
		} else if !ok {
			return items, nil
		}
	}
}

func (p *Parser) parseWindow() (*Window, error) {
	pageTok, err := p.expect(TokenInt)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenUsing); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenWindowSize); err != nil {
		return nil, err
	}
	sizeTok, err := p.expect(TokenInt)
	if err != nil {
		return nil, err
	}

	page, err := strconv.Atoi(pageTok.Literal)
	if err != nil {
		return nil, newParseErrorf(pageTok, "invalid window value: %s", pageTok.Literal)
	}
	size, err := strconv.Atoi(sizeTok.Literal)
	if err != nil || size <= 0 {
		return nil, newParseErrorf(sizeTok, "window_size must be a positive integer, got %s", sizeTok.Literal)
	}
	return &Window{Page: page, Size: size}, nil
}

// ── semantic checks ─────────────────────────────────────────────────────────

func (p *Parser) rangeByAlias(alias string) Range {
	for _, r := range p.ranges {
		if r.RangeAlias() == alias {
			return r
		}
	}
	return nil
}

// resolve binds every identifier to its range kind and rejects unknown
// aliases. It runs after the whole query is read so via clauses may refer
// to ranges declared later.
func (p *Parser) resolve(ret *Retrieve) error {
	aliases := make([]string, 0, len(ret.Ranges))
	for _, r := range ret.Ranges {
		aliases = append(aliases, r.RangeAlias())
	}

	for _, id := range Identifiers(ret) {
		switch ret.Range(id.Alias).(type) {
		case *RangeDatabaseSource:
			id.Source = SourceDatabase
		case *RangeJsonSource:
			id.Source = SourceJSON
		default:
			perr := &ParseError{Message: fmt.Sprintf("unknown range alias '%s'", id.Alias), Pos: id.TokenPos}
			p.locate(perr)
			perr.Suggestion = SuggestFrom(id.Alias, aliases, 2)
			return perr
		}
	}
	return nil
}

// locate fills line and column for an error that only carries a byte offset.
func (p *Parser) locate(perr *ParseError) {
	line, col := 1, 1
	for i, r := range p.lexer.input {
		if i >= perr.Pos {
			break
		}
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	perr.Line, perr.Col = line, col
}

func validate(ret *Retrieve) *ParseError {
	for _, r := range ret.Ranges {
		if err := noAggregates(r.JoinCondition(), "a via clause"); err != nil {
			return err
		}
	}
	if err := noAggregates(ret.Where, "the where clause"); err != nil {
		return err
	}
	for _, s := range ret.Sort {
		if err := noAggregates(s.Expr, "sort by"); err != nil {
			return err
		}
		if s.Expr.ReturnType() == TypeEntity {
			return &ParseError{Message: fmt.Sprintf("cannot sort by entity '%s'; sort by one of its properties", Format(s.Expr)), Pos: s.Expr.Pos()}
		}
	}

	aggregates := 0
	for _, proj := range ret.Projections {
		agg, isAgg := proj.Expr.(Aggregate)
		if isAgg {
			aggregates++
			var inner Expr
			switch a := agg.(type) {
			case *Count:
				inner = a.Arg
			case *UCount:
				inner = a.Arg
			}
			if err := noAggregates(inner, "an aggregate argument"); err != nil {
				return err
			}
			continue
		}
		if err := noAggregates(proj.Expr, "an expression; aggregates must be top-level projections"); err != nil {
			return err
		}
	}
	if aggregates > 0 && aggregates != len(ret.Projections) {
		return &ParseError{Message: "cannot mix aggregate and non-aggregate projections", Pos: ret.TokenPos}
	}

	if ret.Where != nil {
		if t := ret.Where.ReturnType(); t == TypeString || t == TypeNumeric || t == TypeEntity {
			return &ParseError{Message: fmt.Sprintf("where clause must be a condition, got a %s expression", t), Pos: ret.Where.Pos()}
		}
	}
	return nil
}

func noAggregates(e Expr, where string) *ParseError {
	if e == nil {
		return nil
	}
	var found Node
	e.Accept(VisitorFunc(func(n Node) {
		if _, ok := n.(Aggregate); ok && found == nil {
			found = n
		}
	}))
	if found == nil {
		return nil
	}
	name := "count"
	if _, ok := found.(*UCount); ok {
		name = "ucount"
	}
	return &ParseError{Message: fmt.Sprintf("%s() cannot be used in %s", name, where), Pos: found.Pos()}
}
