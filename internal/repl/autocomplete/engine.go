// Package autocomplete provides context-aware completions for Quel.
package autocomplete

import (
	"sort"
	"strings"

	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/schema"
	"github.com/quellabs/objectquel/internal/repl/meta"
)

// CompletionItem is a single autocomplete suggestion.
type CompletionItem struct {
	Label      string `json:"label"`
	Kind       string `json:"kind"` // "keyword", "entity", "alias", "field", "relation", "function", "command"
	Detail     string `json:"detail,omitempty"`
	InsertText string `json:"insert_text,omitempty"`
}

// Engine completes from the in-memory schema registry.
type Engine struct {
	registry *schema.Registry
}

// New creates an autocomplete engine backed by the given registry.
func New(registry *schema.Registry) *Engine {
	return &Engine{registry: registry}
}

var (
	afterRangeDecl  = []string{"via", "range", "retrieve"}
	afterProjection = []string{"where", "sort", "window"}
	afterValue      = []string{"and", "or", "sort", "window"}
	annotations     = []string{"@required", "@lazy", "@eager"}
)

// Complete returns suggestions for the text before the cursor.
func (e *Engine) Complete(text string, cursor int) []CompletionItem {
	if cursor > len(text) || cursor < 0 {
		cursor = len(text)
	}
	prefix := text[:cursor]

	if trimmed := strings.TrimLeft(prefix, " \t\n"); strings.HasPrefix(trimmed, ":") {
		if strings.ContainsAny(trimmed, " \t") {
			return nil
		}
		return filterItems(meta.Commands, strings.ToLower(trimmed), "command")
	}

	tokens, err := ql.NewLexer(prefix).Tokenize()
	if err != nil {
		// unterminated string or stray character: nothing sensible to offer
		return nil
	}
	if n := len(tokens); n > 0 && tokens[n-1].Type == ql.TokenEOF {
		tokens = tokens[:n-1]
	}

	partial := ""
	if n := len(tokens); n > 0 {
		last := tokens[n-1]
		end := last.Pos + len(last.Literal)
		if cursor <= end && isWord(last.Type) {
			partial = strings.ToLower(last.Literal)
			tokens = tokens[:n-1]
		}
	}
	return e.contextualComplete(tokens, partial)
}

// isWord reports whether a token can still be growing under the cursor.
func isWord(t ql.TokenType) bool {
	return t == ql.TokenIdent || t >= ql.TokenRange
}

func (e *Engine) contextualComplete(tokens []ql.Token, partial string) []CompletionItem {
	aliases := declaredRanges(tokens)
	if len(tokens) == 0 {
		return filterItems([]string{"range"}, partial, "keyword")
	}

	last := tokens[len(tokens)-1]
	prev := ql.TokenEOF
	if len(tokens) > 1 {
		prev = tokens[len(tokens)-2].Type
	}

	switch last.Type {
	case ql.TokenRange:
		return filterItems([]string{"of"}, partial, "keyword")
	case ql.TokenOf:
		return nil
	case ql.TokenIs:
		items := e.completeEntities(partial)
		return append(items, filterItems([]string{"json_source"}, partial, "keyword")...)
	case ql.TokenVia, ql.TokenLParen, ql.TokenComma, ql.TokenWhere, ql.TokenAnd, ql.TokenOr, ql.TokenNot, ql.TokenBy,
		ql.TokenEQ, ql.TokenNEQ, ql.TokenGT, ql.TokenLT, ql.TokenGTE, ql.TokenLTE,
		ql.TokenPlus, ql.TokenMinus, ql.TokenStar, ql.TokenSlash:
		return e.completeExpr(aliases, partial)
	case ql.TokenRetrieve:
		return filterItems([]string{"unique"}, partial, "keyword")
	case ql.TokenUnique:
		return nil
	case ql.TokenDot:
		if len(tokens) > 1 && tokens[len(tokens)-2].Type == ql.TokenIdent {
			return e.completeProperties(aliases, tokens[len(tokens)-2].Literal, partial)
		}
		return nil
	case ql.TokenSort:
		return filterItems([]string{"by"}, partial, "keyword")
	case ql.TokenWindow:
		return nil
	case ql.TokenUsing:
		return filterItems([]string{"window_size"}, partial, "keyword")
	case ql.TokenAnnotation:
		return filterItems(afterRangeDecl, partial, "keyword")
	case ql.TokenRParen:
		if inRangeDecl(tokens) {
			return filterItems(afterRangeDecl, partial, "keyword")
		}
		if closesProjections(tokens) {
			return filterItems(afterProjection, partial, "keyword")
		}
		return filterItems(afterValue, partial, "keyword")
	case ql.TokenIdent:
		switch prev {
		case ql.TokenOf:
			return filterItems([]string{"is"}, partial, "keyword")
		case ql.TokenIs:
			items := filterItems(afterRangeDecl, partial, "keyword")
			return append(items, filterItems(annotations, partial, "keyword")...)
		}
		if inRangeDecl(tokens) {
			return filterItems(append(afterRangeDecl, annotations...), partial, "keyword")
		}
		return filterItems(afterValue, partial, "keyword")
	case ql.TokenString, ql.TokenInt, ql.TokenFloat, ql.TokenParameter, ql.TokenNull, ql.TokenTrue, ql.TokenFalse,
		ql.TokenAsc, ql.TokenDesc:
		if prev == ql.TokenWindow {
			return filterItems([]string{"using"}, partial, "keyword")
		}
		if inRangeDecl(tokens) {
			return filterItems(afterRangeDecl, partial, "keyword")
		}
		return filterItems(afterValue, partial, "keyword")
	}
	return nil
}

// ── Completion providers ────────────────────────────────────────────────────

func (e *Engine) completeEntities(partial string) []CompletionItem {
	var items []CompletionItem
	for _, name := range e.registry.EntityNames() {
		if matches(name, partial) {
			items = append(items, CompletionItem{
				Label:  name,
				Kind:   "entity",
				Detail: e.registry.Entity(name).Table,
			})
		}
	}
	return items
}

func (e *Engine) completeExpr(aliases map[string]string, partial string) []CompletionItem {
	var items []CompletionItem
	for _, alias := range sortedKeys(aliases) {
		if matches(alias, partial) {
			detail := aliases[alias]
			if detail == "" {
				detail = "json_source"
			}
			items = append(items, CompletionItem{Label: alias, Kind: "alias", Detail: detail})
		}
	}
	for _, fn := range ql.FunctionNames {
		if matches(fn, partial) {
			items = append(items, CompletionItem{Label: fn, Kind: "function", InsertText: fn + "("})
		}
	}
	return items
}

func (e *Engine) completeProperties(aliases map[string]string, alias, partial string) []CompletionItem {
	entity, ok := aliases[alias]
	if !ok || entity == "" {
		return nil
	}
	es := e.registry.Entity(entity)
	if es == nil {
		return nil
	}
	var items []CompletionItem
	for _, name := range es.FieldOrder {
		if matches(name, partial) {
			items = append(items, CompletionItem{Label: name, Kind: "field", Detail: es.Fields[name].Type.String()})
		}
	}
	for _, name := range es.RelationOrder {
		if matches(name, partial) {
			rm := es.Relations[name]
			items = append(items, CompletionItem{
				Label:  name,
				Kind:   "relation",
				Detail: rm.Target + " (" + string(rm.Cardinality) + ")",
			})
		}
	}
	return items
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// declaredRanges maps every alias declared so far to its entity, or to ""
// for json_source ranges.
func declaredRanges(tokens []ql.Token) map[string]string {
	out := make(map[string]string)
	for i := 0; i+4 < len(tokens); i++ {
		if tokens[i].Type != ql.TokenRange || tokens[i+1].Type != ql.TokenOf ||
			tokens[i+2].Type != ql.TokenIdent || tokens[i+3].Type != ql.TokenIs {
			continue
		}
		switch tokens[i+4].Type {
		case ql.TokenIdent:
			out[tokens[i+2].Literal] = tokens[i+4].Literal
		case ql.TokenJSONSource:
			out[tokens[i+2].Literal] = ""
		}
	}
	return out
}

// inRangeDecl reports whether the tokens end inside a range declaration,
// that is after the last "range" and before any "retrieve".
func inRangeDecl(tokens []ql.Token) bool {
	for i := len(tokens) - 1; i >= 0; i-- {
		switch tokens[i].Type {
		case ql.TokenRetrieve:
			return false
		case ql.TokenRange:
			return true
		}
	}
	return false
}

// closesProjections reports whether the final ")" closes the retrieve list.
func closesProjections(tokens []ql.Token) bool {
	depth := 0
	for i := len(tokens) - 1; i >= 0; i-- {
		switch tokens[i].Type {
		case ql.TokenRParen:
			depth++
		case ql.TokenLParen:
			depth--
			if depth == 0 {
				if i == 0 {
					return false
				}
				p := tokens[i-1].Type
				return p == ql.TokenRetrieve || p == ql.TokenUnique
			}
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func matches(candidate, partial string) bool {
	return partial == "" || strings.HasPrefix(strings.ToLower(candidate), partial)
}

func filterItems(candidates []string, partial, kind string) []CompletionItem {
	var items []CompletionItem
	for _, c := range candidates {
		if matches(c, partial) {
			items = append(items, CompletionItem{
				Label: c,
				Kind:  kind,
			})
		}
	}
	return items
}
