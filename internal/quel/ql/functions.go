package ql

import "strings"

// FunctionNames lists the built-in functions in the order they are offered
// to autocompletion.
var FunctionNames = []string{
	"concat", "count", "exists", "is_empty", "is_float",
	"is_integer", "is_numeric", "search", "ucount",
}

// parseCall dispatches a function call on the lowercased name. The opening
// parenthesis has not been consumed yet.
func (p *Parser) parseCall(name Token) (Expr, error) {
	fn := strings.ToLower(name.Literal)
	switch fn {
	case "count", "ucount":
		arg, err := p.parseSingleArg()
		if err != nil {
			return nil, err
		}
		if fn == "count" {
			return &Count{TokenPos: name.Pos, Arg: arg}, nil
		}
		return &UCount{TokenPos: name.Pos, Arg: arg}, nil
	case "is_empty", "is_numeric", "is_integer", "is_float":
		arg, err := p.parseSingleArg()
		if err != nil {
			return nil, err
		}
		return &TypeCheck{TokenPos: name.Pos, Check: checkKinds[fn], Arg: arg}, nil
	case "concat":
		return p.parseConcat(name)
	case "search":
		return p.parseSearch(name)
	case "exists":
		return p.parseExists(name)
	}

	perr := newParseErrorf(name, "Command %s is not valid.", name.Literal)
	perr.Suggestion = SuggestFrom(fn, FunctionNames, 2)
	return nil, perr
}

var checkKinds = map[string]CheckKind{
	"is_empty":   CheckEmpty,
	"is_numeric": CheckNumeric,
	"is_integer": CheckInteger,
	"is_float":   CheckFloat,
}

func (p *Parser) parseSingleArg() (Expr, error) {
	p.advance() // consume '('
	arg, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return arg, nil
}

func (p *Parser) parseConcat(name Token) (Expr, error) {
	p.advance() // consume '('
	if p.check(TokenRParen) {
		return nil, newParseError(p.peekToken(), "concat() requires at least one argument")
	}
	c := &Concat{TokenPos: name.Pos}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Args = append(c.Args, arg)
		if _, ok, err := p.accept(TokenComma); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return c, nil
}

// parseSearch reads search(field, ..., "terms") where the last argument is
// a string literal or a parameter.
func (p *Parser) parseSearch(name Token) (Expr, error) {
	p.advance() // consume '('
	s := &Search{TokenPos: name.Pos}

	if !p.check(TokenIdent) {
		return nil, newParseError(p.peekToken(), "search() requires at least one identifier")
	}
	for p.check(TokenIdent) {
		id, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, id)
		if !p.check(TokenComma) {
			return nil, newParseError(p.peekToken(), "search() requires a search string or parameter after the identifiers")
		}
		p.advance()
	}

	tok := p.peekToken()
	switch tok.Type {
	case TokenString:
		p.advance()
		s.Query = &String{TokenPos: tok.Pos, Value: tok.Literal, Quote: tok.Quote}
	case TokenParameter:
		p.advance()
		s.Query = &Parameter{TokenPos: tok.Pos, Name: tok.Literal}
	default:
		return nil, newParseError(tok, "search() requires a search string or parameter after the identifiers")
	}

	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return s, nil
}

// parseExists reads exists(alias) or exists(alias.relation).
func (p *Parser) parseExists(name Token) (Expr, error) {
	p.advance() // consume '('
	start := p.peekToken()
	if start.Type != TokenIdent {
		return nil, newParseErrorf(start, "exists() expects an entity or relation identifier, got %s", describe(start))
	}
	id, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	if len(id.Path) > 1 {
		return nil, newParseError(start, "exists() expects an entity or relation identifier, not a property chain")
	}
	if p.check(TokenComma) {
		return nil, newParseError(p.peekToken(), "exists() takes exactly one argument")
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &Exists{TokenPos: name.Pos, Target: id}, nil
}
