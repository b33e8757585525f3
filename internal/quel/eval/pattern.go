package eval

import (
	"regexp"
	"strings"

	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
)

// WildcardToRegex compiles a glob pattern to an anchored expression:
// * matches any run of characters and ? exactly one.
func WildcardToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// RegexSource returns the Go expression for a /body/flags pattern.
func RegexSource(body, flags string) string {
	if flags == "" {
		return body
	}
	return "(?" + flags + ")" + body
}

func (e *Evaluator) pattern(kind ql.PatternKind, pattern, flags string) (*regexp.Regexp, error) {
	src := WildcardToRegex(pattern)
	if kind == ql.PatternRegex {
		src = RegexSource(pattern, flags)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.patterns[src]; ok {
		return re, nil
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fault.Newf(fault.EvaluateCode, "invalid pattern /%s/%s", pattern, flags).WithOriginal(err)
	}
	e.patterns[src] = re
	return re, nil
}
