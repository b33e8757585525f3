package eval

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
)

// SearchTerms is a parsed search string.
type SearchTerms struct {
	Required []string
	Excluded []string
	Optional []string
}

// ParseSearch splits a search string on whitespace. "+word" is required,
// "-word" is excluded and a bare word is optional. Terms are case-folded.
func ParseSearch(query string) SearchTerms {
	fold := cases.Fold()
	var terms SearchTerms
	for _, tok := range strings.Fields(query) {
		switch {
		case strings.HasPrefix(tok, "+"):
			if w := tok[1:]; w != "" {
				terms.Required = append(terms.Required, fold.String(w))
			}
		case strings.HasPrefix(tok, "-"):
			if w := tok[1:]; w != "" {
				terms.Excluded = append(terms.Excluded, fold.String(w))
			}
		default:
			terms.Optional = append(terms.Optional, fold.String(tok))
		}
	}
	return terms
}

// Matches applies the terms to a text: every required term and, when there
// are optional terms, at least one of them must occur; no excluded term may.
func (t SearchTerms) Matches(text string) bool {
	haystack := cases.Fold().String(text)
	for _, w := range t.Required {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	for _, w := range t.Excluded {
		if strings.Contains(haystack, w) {
			return false
		}
	}
	if len(t.Optional) == 0 {
		return true
	}
	for _, w := range t.Optional {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}

// Empty reports whether the search string had no terms.
func (t SearchTerms) Empty() bool {
	return len(t.Required)+len(t.Excluded)+len(t.Optional) == 0
}

func (e *Evaluator) search(n *ql.Search, row Row, params map[string]any) (bool, error) {
	q, err := e.Value(n.Query, row, params)
	if err != nil {
		return false, err
	}
	query, ok := q.(string)
	if !ok {
		return false, fault.Newf(fault.EvaluateCode, "search() expects a string, got %T", q)
	}
	terms := ParseSearch(query)
	if terms.Empty() {
		return true, nil
	}

	parts := make([]string, 0, len(n.Fields))
	for _, f := range n.Fields {
		if v := Lookup(f, row); v != nil {
			parts = append(parts, Format(v))
		}
	}
	return terms.Matches(strings.Join(parts, " ")), nil
}
