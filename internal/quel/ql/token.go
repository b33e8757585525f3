// Package ql implements the lexer, parser, and AST for the Quel query
// dialect understood by the ObjectQuel engine.
package ql

import "strings"

// TokenType identifies the kind of lexical token.
type TokenType int

const (
	// Literals and identifiers
	TokenEOF        TokenType = iota
	TokenIdent                // unquoted identifier (alias, entity, property, function)
	TokenString               // "quoted" or 'quoted' string
	TokenInt                  // 123
	TokenFloat                // 1.23, 1e3
	TokenParameter            // :name
	TokenAnnotation           // @lazy

	// Operators
	TokenEQ    // =
	TokenNEQ   // != or <>
	TokenGT    // >
	TokenLT    // <
	TokenGTE   // >=
	TokenLTE   // <=
	TokenPlus  // +
	TokenMinus // -
	TokenStar  // *
	TokenSlash // /
	TokenDot   // .
	TokenComma // ,

	// Grouping
	TokenLParen // (
	TokenRParen // )

	// Keywords: statement structure
	TokenRange
	TokenOf
	TokenIs
	TokenVia
	TokenRetrieve
	TokenUnique
	TokenWhere
	TokenSort
	TokenBy
	TokenAsc
	TokenDesc
	TokenWindow
	TokenUsing
	TokenWindowSize
	TokenJSONSource

	// Keywords: logical operators and literals
	TokenAnd
	TokenOr
	TokenNot
	TokenIn
	TokenNull
	TokenTrue
	TokenFalse
)

// String returns a human-readable name for the token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of query"
	case TokenIdent:
		return "identifier"
	case TokenString:
		return "string"
	case TokenInt:
		return "integer"
	case TokenFloat:
		return "float"
	case TokenParameter:
		return "parameter"
	case TokenAnnotation:
		return "annotation"
	case TokenEQ:
		return "="
	case TokenNEQ:
		return "!="
	case TokenGT:
		return ">"
	case TokenLT:
		return "<"
	case TokenGTE:
		return ">="
	case TokenLTE:
		return "<="
	case TokenPlus:
		return "+"
	case TokenMinus:
		return "-"
	case TokenStar:
		return "*"
	case TokenSlash:
		return "/"
	case TokenDot:
		return "."
	case TokenComma:
		return ","
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	case TokenRange:
		return "range"
	case TokenOf:
		return "of"
	case TokenIs:
		return "is"
	case TokenVia:
		return "via"
	case TokenRetrieve:
		return "retrieve"
	case TokenUnique:
		return "unique"
	case TokenWhere:
		return "where"
	case TokenSort:
		return "sort"
	case TokenBy:
		return "by"
	case TokenAsc:
		return "asc"
	case TokenDesc:
		return "desc"
	case TokenWindow:
		return "window"
	case TokenUsing:
		return "using"
	case TokenWindowSize:
		return "window_size"
	case TokenJSONSource:
		return "json_source"
	case TokenAnd:
		return "and"
	case TokenOr:
		return "or"
	case TokenNot:
		return "not"
	case TokenIn:
		return "in"
	case TokenNull:
		return "null"
	case TokenTrue:
		return "true"
	case TokenFalse:
		return "false"
	default:
		return "unknown"
	}
}

// Token represents a single lexical token in a Quel query.
type Token struct {
	Type    TokenType
	Literal string // token text; unescaped contents for strings, name without prefix for parameters and annotations
	Quote   rune   // enclosing quote character for strings, 0 otherwise
	Pos     int    // byte offset in source
	Line    int    // 1-based line number
	Col     int    // 1-based column number
}

// keywords maps lowercase keyword strings to their token types.
var keywords = map[string]TokenType{
	"range":       TokenRange,
	"of":          TokenOf,
	"is":          TokenIs,
	"via":         TokenVia,
	"retrieve":    TokenRetrieve,
	"unique":      TokenUnique,
	"where":       TokenWhere,
	"sort":        TokenSort,
	"by":          TokenBy,
	"asc":         TokenAsc,
	"desc":        TokenDesc,
	"window":      TokenWindow,
	"using":       TokenUsing,
	"window_size": TokenWindowSize,
	"json_source": TokenJSONSource,
	"and":         TokenAnd,
	"or":          TokenOr,
	"not":         TokenNot,
	"in":          TokenIn,
	"null":        TokenNull,
	"true":        TokenTrue,
	"false":       TokenFalse,
}

// LookupKeyword returns the keyword token type for an identifier, or
// TokenIdent if the identifier is not a keyword. Lookup is case-insensitive.
func LookupKeyword(ident string) TokenType {
	if tok, ok := keywords[strings.ToLower(ident)]; ok {
		return tok
	}
	return TokenIdent
}

// Keywords returns every keyword spelling, for completion engines.
func Keywords() []string {
	out := make([]string, 0, len(keywords))
	for k := range keywords {
		out = append(out, k)
	}
	return out
}

// IsComparison reports whether the token is a comparison operator.
func (t TokenType) IsComparison() bool {
	switch t {
	case TokenEQ, TokenNEQ, TokenGT, TokenLT, TokenGTE, TokenLTE:
		return true
	}
	return false
}
