package ql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes Quel source text on demand. It keeps a single token of
// lookahead; the first malformed token ends the stream with a LexerError.
type Lexer struct {
	input string
	pos   int // current byte position
	line  int // 1-based
	col   int // 1-based

	lookahead *Token
	err       *LexerError
}

// NewLexer creates a lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input: input,
		line:  1,
		col:   1,
	}
}

// Peek returns the type of the next token without consuming it. A pending
// lexer error is reported as TokenEOF; Get and Match surface the error.
func (l *Lexer) Peek() TokenType {
	return l.PeekToken().Type
}

// PeekToken returns the next token without consuming it.
func (l *Lexer) PeekToken() Token {
	l.fill()
	if l.err != nil {
		return Token{Type: TokenEOF, Pos: l.err.Pos, Line: l.err.Line, Col: l.err.Col}
	}
	return *l.lookahead
}

// Get consumes and returns the next token.
func (l *Lexer) Get() (Token, error) {
	l.fill()
	if l.err != nil {
		return Token{}, l.err
	}
	tok := *l.lookahead
	if tok.Type != TokenEOF {
		l.lookahead = nil
	}
	return tok, nil
}

// Match consumes the next token if it has the expected type and fails
// otherwise.
func (l *Lexer) Match(expected TokenType) (Token, error) {
	l.fill()
	if l.err != nil {
		return Token{}, l.err
	}
	tok := *l.lookahead
	if tok.Type != expected {
		return tok, &LexerError{
			Message: fmt.Sprintf("expected %s, got %s", expected, describe(tok)),
			Pos:     tok.Pos,
			Line:    tok.Line,
			Col:     tok.Col,
		}
	}
	return l.Get()
}

// OptionalMatch consumes the next token only if it has the expected type.
func (l *Lexer) OptionalMatch(expected TokenType) (Token, bool, error) {
	l.fill()
	if l.err != nil {
		return Token{}, false, l.err
	}
	if l.lookahead.Type != expected {
		return Token{}, false, nil
	}
	tok, err := l.Get()
	return tok, err == nil, err
}

// Err returns the pending lexer error, if any.
func (l *Lexer) Err() error {
	if l.err == nil {
		return nil
	}
	return l.err
}

// Tokenize scans the remaining input and returns every token up to and
// including EOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.Get()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) fill() {
	if l.lookahead != nil || l.err != nil {
		return
	}
	tok, err := l.next()
	if err != nil {
		l.err = err
		return
	}
	l.lookahead = &tok
}

// describe renders a token for error messages.
func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return tok.Type.String()
	case TokenString:
		return fmt.Sprintf("string %q", tok.Literal)
	case TokenParameter:
		return "parameter :" + tok.Literal
	case TokenAnnotation:
		return "annotation @" + tok.Literal
	default:
		return fmt.Sprintf("%s '%s'", tok.Type, tok.Literal)
	}
}

// peek returns the current rune without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

// peekAt returns the rune at offset from current position.
func (l *Lexer) peekAt(offset int) rune {
	p := l.pos + offset
	if p >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[p:])
	return r
}

// advance moves forward by one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) errorAt(pos, line, col int, format string, args ...any) *LexerError {
	return &LexerError{
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
		Line:    line,
		Col:     col,
	}
}

// skipTrivia advances past whitespace and comments.
func (l *Lexer) skipTrivia() *LexerError {
	for l.pos < len(l.input) {
		r := l.peek()
		switch {
		case r == ' ' || r == '\t' || r == '\r' || r == '\n':
			l.advance()
		case r == '-' && l.peekAt(1) == '-' && l.atTokenBoundary():
			for l.pos < len(l.input) && l.peek() != '\n' {
				l.advance()
			}
		case r == '/' && l.peekAt(1) == '*':
			pos, line, col := l.pos, l.line, l.col
			l.advance()
			l.advance()
			closed := false
			for l.pos < len(l.input) {
				if l.peek() == '*' && l.peekAt(1) == '/' {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				return l.errorAt(pos, line, col, "unterminated comment")
			}
		default:
			return nil
		}
	}
	return nil
}

// atTokenBoundary reports whether the lexer sits at the start of input or
// right after whitespace. A "--" glued to an operand is two minus signs.
func (l *Lexer) atTokenBoundary() bool {
	if l.pos == 0 {
		return true
	}
	switch l.input[l.pos-1] {
	case ' ', '\t', '\r', '\n':
		return true
	}
	return false
}

// next scans and returns the next token.
func (l *Lexer) next() (Token, *LexerError) {
	if err := l.skipTrivia(); err != nil {
		return Token{}, err
	}

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos, Line: l.line, Col: l.col}, nil
	}

	startPos := l.pos
	startLine := l.line
	startCol := l.col
	r := l.peek()
	tok := func(t TokenType, lit string) Token {
		return Token{Type: t, Literal: lit, Pos: startPos, Line: startLine, Col: startCol}
	}

	switch {
	case r == '"' || r == '\'':
		return l.scanString(startPos, startLine, startCol)
	case r >= '0' && r <= '9':
		return l.scanNumber(startPos, startLine, startCol)
	case isIdentStart(r):
		return l.scanIdent(startPos, startLine, startCol), nil
	case r == ':':
		return l.scanPrefixed(TokenParameter, startPos, startLine, startCol)
	case r == '@':
		return l.scanPrefixed(TokenAnnotation, startPos, startLine, startCol)
	}

	// Two-character operators
	two := string(r) + string(l.peekAt(1))
	switch two {
	case "!=", "<>":
		l.advance()
		l.advance()
		return tok(TokenNEQ, two), nil
	case ">=":
		l.advance()
		l.advance()
		return tok(TokenGTE, two), nil
	case "<=":
		l.advance()
		l.advance()
		return tok(TokenLTE, two), nil
	}

	// Single-character operators
	l.advance()
	switch r {
	case '=':
		return tok(TokenEQ, "="), nil
	case '>':
		return tok(TokenGT, ">"), nil
	case '<':
		return tok(TokenLT, "<"), nil
	case '+':
		return tok(TokenPlus, "+"), nil
	case '-':
		return tok(TokenMinus, "-"), nil
	case '*':
		return tok(TokenStar, "*"), nil
	case '/':
		return tok(TokenSlash, "/"), nil
	case '.':
		return tok(TokenDot, "."), nil
	case ',':
		return tok(TokenComma, ","), nil
	case '(':
		return tok(TokenLParen, "("), nil
	case ')':
		return tok(TokenRParen, ")"), nil
	}

	return Token{}, l.errorAt(startPos, startLine, startCol, "unexpected character %q", r)
}

// scanString reads a quoted string literal and records its quote.
func (l *Lexer) scanString(startPos, startLine, startCol int) (Token, *LexerError) {
	quote := l.advance() // consume opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		r := l.advance()
		if r == quote {
			return Token{Type: TokenString, Literal: b.String(), Quote: quote, Pos: startPos, Line: startLine, Col: startCol}, nil
		}
		if r == '\\' {
			if l.pos >= len(l.input) {
				break
			}
			next := l.advance()
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			case '\'':
				b.WriteByte('\'')
			default:
				b.WriteByte('\\')
				b.WriteRune(next)
			}
			continue
		}
		b.WriteRune(r)
	}
	return Token{}, l.errorAt(startPos, startLine, startCol, "unterminated string")
}

// scanNumber reads an integer or float literal.
func (l *Lexer) scanNumber(startPos, startLine, startCol int) (Token, *LexerError) {
	isFloat := false
	l.digits()

	if l.peek() == '.' && isDigit(l.peekAt(1)) {
		isFloat = true
		l.advance()
		l.digits()
	}

	if r := l.peek(); r == 'e' || r == 'E' {
		l.advance()
		if s := l.peek(); s == '+' || s == '-' {
			l.advance()
		}
		if !isDigit(l.peek()) {
			return Token{}, l.errorAt(startPos, startLine, startCol, "invalid numeric literal %q: missing exponent digits", l.input[startPos:l.pos])
		}
		isFloat = true
		l.digits()
	}

	// 1.2.3 or 12abc
	if r := l.peek(); isIdentStart(r) || (r == '.' && isDigit(l.peekAt(1))) {
		for l.pos < len(l.input) && (isIdentPart(l.peek()) || l.peek() == '.') {
			l.advance()
		}
		return Token{}, l.errorAt(startPos, startLine, startCol, "invalid numeric literal %q", l.input[startPos:l.pos])
	}

	lit := l.input[startPos:l.pos]
	if isFloat {
		return Token{Type: TokenFloat, Literal: lit, Pos: startPos, Line: startLine, Col: startCol}, nil
	}
	return Token{Type: TokenInt, Literal: lit, Pos: startPos, Line: startLine, Col: startCol}, nil
}

func (l *Lexer) digits() {
	for isDigit(l.peek()) {
		l.advance()
	}
}

// scanIdent reads an identifier or keyword.
func (l *Lexer) scanIdent(startPos, startLine, startCol int) Token {
	for l.pos < len(l.input) && isIdentPart(l.peek()) {
		l.advance()
	}
	lit := l.input[startPos:l.pos]
	return Token{Type: LookupKeyword(lit), Literal: lit, Pos: startPos, Line: startLine, Col: startCol}
}

// scanPrefixed reads a :parameter or @annotation.
func (l *Lexer) scanPrefixed(t TokenType, startPos, startLine, startCol int) (Token, *LexerError) {
	prefix := l.advance()
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.peek()) {
		l.advance()
	}
	if l.pos == start {
		return Token{}, l.errorAt(startPos, startLine, startCol, "expected a name after %q", prefix)
	}
	return Token{Type: t, Literal: l.input[start:l.pos], Pos: startPos, Line: startLine, Col: startCol}, nil
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
