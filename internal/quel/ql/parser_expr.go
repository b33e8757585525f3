package ql

import (
	"strconv"
	"strings"
)

// Expression grammar, lowest precedence first:
//
//	or         = and { OR and }
//	and        = not { AND not }
//	not        = NOT not | filter
//	filter     = comparison [ [NOT] IN list | IS [NOT] NULL ]
//	comparison = additive [ cmpop additive ]
//	additive   = term { (+|-) term }
//	term       = unary { (*|/) unary }
//	unary      = - unary | primary
//	primary    = literal | :param | identifier | call | ( or )

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.check(TokenOr) {
		tok, _ := p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{TokenPos: tok.Pos, Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.check(TokenAnd) {
		tok, _ := p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{TokenPos: tok.Pos, Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if !p.check(TokenNot) {
		return p.parseFilter()
	}
	tok, _ := p.advance()
	operand, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return &Not{TokenPos: tok.Pos, Expr: operand}, nil
}

func (p *Parser) parseFilter() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	switch p.peek() {
	case TokenIn:
		return p.parseIn(left)
	case TokenNot:
		tok, _ := p.advance()
		if !p.check(TokenIn) {
			next := p.peekToken()
			return nil, newParseErrorf(next, "expected IN after NOT, got %s", describe(next))
		}
		in, err := p.parseIn(left)
		if err != nil {
			return nil, err
		}
		return &Not{TokenPos: tok.Pos, Expr: in}, nil
	case TokenIs:
		tok, _ := p.advance()
		_, negated, err := p.accept(TokenNot)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenNull); err != nil {
			return nil, err
		}
		if negated {
			return &CheckNotNull{TokenPos: tok.Pos, Expr: left}, nil
		}
		return &CheckNull{TokenPos: tok.Pos, Expr: left}, nil
	}
	return left, nil
}

// parseIn reads "IN (literal, ...)". Only string and number literals are
// accepted as list elements.
func (p *Parser) parseIn(subject Expr) (Expr, error) {
	tok, err := p.expect(TokenIn)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	if p.check(TokenRParen) {
		return nil, newParseError(p.peekToken(), "IN list cannot be empty")
	}

	in := &In{TokenPos: tok.Pos, Subject: subject}
	for {
		val, err := p.parseInValue()
		if err != nil {
			return nil, err
		}
		in.Values = append(in.Values, val)

		if _, ok, err := p.accept(TokenComma); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return in, nil
}

func (p *Parser) parseInValue() (Expr, error) {
	tok := p.peekToken()
	switch tok.Type {
	case TokenString:
		p.advance()
		return &String{TokenPos: tok.Pos, Value: tok.Literal, Quote: tok.Quote}, nil
	case TokenInt, TokenFloat:
		p.advance()
		return parseNumber(tok, false)
	case TokenMinus:
		p.advance()
		num := p.peekToken()
		if num.Type == TokenInt || num.Type == TokenFloat {
			p.advance()
			n, err := parseNumber(num, true)
			if err != nil {
				return nil, err
			}
			n.TokenPos = tok.Pos
			return n, nil
		}
		tok = num
	}
	return nil, newParseErrorf(tok, "IN list elements must be string or number literals, got %s", describe(tok))
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	op, ok := comparisonOps[p.peek()]
	if !ok {
		return left, nil
	}
	opTok, _ := p.advance()

	var result Expr
	if next := p.peekToken(); (op == OpEQ || op == OpNEQ) && next.Type == TokenString && next.Quote == '"' {
		if m := patternMatch(left, next.Literal, op == OpNEQ); m != nil {
			p.advance()
			m.TokenPos = opTok.Pos
			result = m
		}
	}
	if result == nil {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		result = &BinaryOp{TokenPos: opTok.Pos, Op: op, Left: left, Right: right}
	}

	if _, chained := comparisonOps[p.peek()]; chained {
		return nil, newParseError(p.peekToken(), "comparison operators cannot be chained")
	}
	return result, nil
}

var comparisonOps = map[TokenType]BinaryOperator{
	TokenEQ:  OpEQ,
	TokenNEQ: OpNEQ,
	TokenLT:  OpLT,
	TokenLTE: OpLTE,
	TokenGT:  OpGT,
	TokenGTE: OpGTE,
}

// patternMatch turns a double-quoted comparison operand into a Match when
// it is written as /regex/flags or contains * or ?. It returns nil for a
// plain string.
func patternMatch(subject Expr, text string, negated bool) *Match {
	if body, flags, ok := splitRegex(text); ok {
		return &Match{Subject: subject, Kind: PatternRegex, Pattern: body, Flags: flags, Negated: negated}
	}
	if strings.ContainsAny(text, "*?") {
		return &Match{Subject: subject, Kind: PatternWildcard, Pattern: text, Negated: negated}
	}
	return nil
}

// splitRegex recognizes "/body/flags" with flags drawn from i, m and s.
func splitRegex(text string) (body, flags string, ok bool) {
	if len(text) < 2 || text[0] != '/' {
		return "", "", false
	}
	end := strings.LastIndexByte(text, '/')
	if end == 0 {
		return "", "", false
	}
	flags = text[end+1:]
	for _, f := range flags {
		if f != 'i' && f != 'm' && f != 's' {
			return "", "", false
		}
	}
	return text[1:end], flags, true
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.check(TokenPlus) || p.check(TokenMinus) {
		tok, _ := p.advance()
		op := OpAdd
		if tok.Type == TokenMinus {
			op = OpSub
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{TokenPos: tok.Pos, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.check(TokenStar) || p.check(TokenSlash) {
		tok, _ := p.advance()
		op := OpMul
		if tok.Type == TokenSlash {
			op = OpDiv
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{TokenPos: tok.Pos, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if !p.check(TokenMinus) {
		return p.parsePrimary()
	}
	tok, _ := p.advance()
	if next := p.peekToken(); next.Type == TokenInt || next.Type == TokenFloat {
		p.advance()
		n, err := parseNumber(next, true)
		if err != nil {
			return nil, err
		}
		n.TokenPos = tok.Pos
		return n, nil
	}
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &Negate{TokenPos: tok.Pos, Expr: operand}, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.peekToken()
	switch tok.Type {
	case TokenString:
		p.advance()
		return &String{TokenPos: tok.Pos, Value: tok.Literal, Quote: tok.Quote}, nil
	case TokenInt, TokenFloat:
		p.advance()
		return parseNumber(tok, false)
	case TokenTrue, TokenFalse:
		p.advance()
		return &Boolean{TokenPos: tok.Pos, Value: tok.Type == TokenTrue}, nil
	case TokenParameter:
		p.advance()
		return &Parameter{TokenPos: tok.Pos, Name: tok.Literal}, nil
	case TokenLParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case TokenIdent:
		p.advance()
		if p.check(TokenLParen) {
			return p.parseCall(tok)
		}
		return p.parseIdentifierRest(tok)
	case TokenNull:
		return nil, newParseError(tok, "NULL is only allowed in IS NULL and IS NOT NULL")
	}
	return nil, newParseErrorf(tok, "expected an expression, got %s", describe(tok))
}

// parseIdentifierRest reads the ".prop.prop" chain following an alias.
func (p *Parser) parseIdentifierRest(first Token) (*Identifier, error) {
	id := &Identifier{TokenPos: first.Pos, Alias: first.Literal}
	for p.check(TokenDot) {
		p.advance()
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		id.Path = append(id.Path, name.Literal)
	}
	return id, nil
}

func (p *Parser) parseIdentifier() (*Identifier, error) {
	tok, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	return p.parseIdentifierRest(tok)
}

func parseNumber(tok Token, negative bool) (*Number, error) {
	raw := tok.Literal
	if negative {
		raw = "-" + raw
	}
	n := &Number{TokenPos: tok.Pos, Raw: raw}
	if tok.Type == TokenFloat {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, newParseErrorf(tok, "invalid numeric literal %q", raw)
		}
		n.IsFloat, n.Float = true, f
		return n, nil
	}
	i, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, newParseErrorf(tok, "integer literal %s is out of range", raw)
	}
	n.Int = i
	return n, nil
}
