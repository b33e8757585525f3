// Package meta handles console meta-commands (:help, :schema, :explain,
// :set, :history, ...).
package meta

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quellabs/objectquel/internal/quel/planner"
	"github.com/quellabs/objectquel/internal/quel/schema"
	"github.com/quellabs/objectquel/internal/repl/session"
)

// Explainer plans a query without running it.
type Explainer interface {
	Explain(query string, params map[string]any) (*planner.ExecutionPlan, error)
}

// Handler dispatches meta-commands.
type Handler struct {
	registry  *schema.Registry
	explainer Explainer
}

// New creates a meta-command handler.
func New(registry *schema.Registry, explainer Explainer) *Handler {
	return &Handler{registry: registry, explainer: explainer}
}

// Result is the output of a meta-command execution.
type Result struct {
	Output string `json:"output"`
	Clear  bool   `json:"clear,omitempty"` // Signal frontend to clear screen
}

// Commands lists the meta-commands for completion.
var Commands = []string{":clear", ":env", ":explain", ":help", ":history", ":schema", ":set", ":unset"}

// IsCommand reports whether a console line is a meta-command.
func IsCommand(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), ":")
}

// Split separates ":name rest of line" into the command and its argument
// text.
func Split(line string) (command, rest string) {
	line = strings.TrimPrefix(strings.TrimSpace(line), ":")
	command, rest, _ = strings.Cut(line, " ")
	return strings.ToLower(command), strings.TrimSpace(rest)
}

// Execute runs a meta-command line and returns the result.
func (h *Handler) Execute(sess *session.Session, line string) (*Result, error) {
	command, rest := Split(line)
	switch command {
	case "help":
		return h.help(rest)
	case "clear":
		return &Result{Clear: true}, nil
	case "env":
		return h.env(sess)
	case "history":
		return h.history(sess)
	case "schema":
		return h.schemaCmd(rest)
	case "explain":
		return h.explain(sess, rest)
	case "set":
		return h.set(sess, rest)
	case "unset":
		if rest == "" {
			return nil, fmt.Errorf("usage: :unset <name>")
		}
		if !sess.Unbind(strings.TrimPrefix(rest, ":")) {
			return nil, fmt.Errorf("parameter :%s is not bound", strings.TrimPrefix(rest, ":"))
		}
		return &Result{Output: "ok"}, nil
	default:
		return nil, fmt.Errorf("unknown meta-command ':%s'. Type :help for available commands", command)
	}
}

const helpText = `Quel query console

Queries:
  range of <alias> is <Entity> [via <condition|alias.relation>] [@required|@lazy|@eager]
  range of <alias> is json_source("<file>"[, "<jsonpath>"])
  retrieve [unique] (<projection>, ...)
    [where <condition>]
    [sort by <expr> [asc|desc], ...]
    [window <page> using window_size <n>]

Projections:
  alias              the whole entity (or JSON record)
  alias.property     a single value
  name = <expr>      a named value
  count(x), ucount(x)

Conditions:
  =, !=, <>, <, <=, >, >=, and, or, not, in (...), is null
  alias.name = "Wid*"          wildcard (* and ?)
  alias.name = "/^wid/i"       regular expression
  search(alias.name, "+must -not opt")
  exists(alias.relation), is_numeric(x), is_integer(x), is_float(x), is_empty(x)

Meta-commands:
  :help [topic]         Show help
  :clear                Clear the screen
  :env                  Show session info
  :history              Show command history
  :schema [Entity]      Show entities or one entity
  :explain <query>      Show the execution plan
  :set <name> <value>   Bind :name for later queries
  :unset <name>         Remove a binding

Examples:
  range of p is Product retrieve (p) where p.price > 10 sort by p.price desc
  range of p is Product range of c is Category via p.category retrieve (p.name, c.name)
  range of s is json_source("stock.json") range of p is Product via p.productId = s.productId retrieve (s, p)`

func (h *Handler) help(topic string) (*Result, error) {
	switch strings.ToLower(topic) {
	case "":
		return &Result{Output: helpText}, nil
	case "range":
		return &Result{Output: "range of <alias> is <Entity> [via <join>] [@annotations]\n\nDeclares a range over an entity. A via clause joins it to another range, either\nwith a condition or through a relation (via p.category). @required turns the\nleft join into an inner join; @lazy ranges are dropped when nothing uses them."}, nil
	case "json_source":
		return &Result{Output: "range of <alias> is json_source(\"file.json\"[, \"$.jsonpath\"])\n\nReads records from a JSON file, relative to the configured JSON base directory.\nThe optional JSONPath selects the records inside the document."}, nil
	case "search":
		return &Result{Output: "search(field, ..., \"terms\")\n\nCase-insensitive term search over the fields. +term is required, -term is\nexcluded, other terms are optional and at least one must match. * and ? are\nwildcards inside a term."}, nil
	case "window":
		return &Result{Output: "window <page> using window_size <n>\n\nReturns page <page> (1-based) of <n> rows, after sorting."}, nil
	default:
		return &Result{Output: fmt.Sprintf("No help available for '%s'", topic)}, nil
	}
}

func (h *Handler) env(sess *session.Session) (*Result, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nCreated: %s\nLast active: %s\nHistory entries: %d\n",
		sess.ID,
		sess.CreatedAt.Format("2006-01-02 15:04:05"),
		sess.LastActiveAt.Format("2006-01-02 15:04:05"),
		len(sess.Entries()))

	names := sess.ParamNames()
	if len(names) == 0 {
		b.WriteString("Parameters: (none)")
		return &Result{Output: b.String()}, nil
	}
	b.WriteString("Parameters:")
	params := sess.Bindings(nil)
	for _, name := range names {
		fmt.Fprintf(&b, "\n  :%-20s %v (%T)", name, params[name], params[name])
	}
	return &Result{Output: b.String()}, nil
}

func (h *Handler) history(sess *session.Session) (*Result, error) {
	entries := sess.Entries()
	if len(entries) == 0 {
		return &Result{Output: "(no history)"}, nil
	}

	var b strings.Builder
	for i, entry := range entries {
		fmt.Fprintf(&b, "%3d  %s\n", i+1, entry)
	}
	return &Result{Output: b.String()}, nil
}

func (h *Handler) schemaCmd(name string) (*Result, error) {
	if name == "" {
		names := h.registry.EntityNames()
		return &Result{Output: fmt.Sprintf("Entities (%d):\n  %s", len(names), strings.Join(names, "\n  "))}, nil
	}

	es := h.registry.Entity(name)
	if es == nil {
		return nil, fmt.Errorf("unknown entity '%s'", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s (table %s)\n", es.Name, es.Table)

	fmt.Fprintf(&b, "\nFields:\n")
	for _, fname := range es.FieldOrder {
		fm := es.Fields[fname]
		var flags []string
		if fm.Identifier {
			flags = append(flags, "identifier")
		}
		if fm.Optional {
			flags = append(flags, "optional")
		}
		extra := ""
		if len(flags) > 0 {
			extra = " (" + strings.Join(flags, ", ") + ")"
		}
		fmt.Fprintf(&b, "  %-24s %-8s column %s%s\n", fname, fm.Type, fm.Column, extra)
	}

	if len(es.RelationOrder) > 0 {
		fmt.Fprintf(&b, "\nRelations:\n")
		for _, rname := range es.RelationOrder {
			rm := es.Relations[rname]
			via := ""
			if rm.Bridge != "" {
				via = " via " + rm.Bridge
			}
			fmt.Fprintf(&b, "  %-24s -> %s (%s)%s\n", rname, rm.Target, rm.Cardinality, via)
		}
	}

	return &Result{Output: b.String()}, nil
}

func (h *Handler) explain(sess *session.Session, query string) (*Result, error) {
	if query == "" {
		return nil, fmt.Errorf("usage: :explain <query>")
	}
	plan, err := h.explainer.Explain(query, sess.Bindings(nil))
	if err != nil {
		return nil, err
	}
	return &Result{Output: plan.Explain()}, nil
}

// set binds a parameter. The value is read as a YAML scalar, so 10 is an
// integer, 1.5 a float, true a boolean and "10" a string.
func (h *Handler) set(sess *session.Session, rest string) (*Result, error) {
	name, raw, ok := strings.Cut(rest, " ")
	name = strings.TrimPrefix(name, ":")
	raw = strings.TrimSpace(raw)
	if !ok || name == "" || raw == "" {
		return nil, fmt.Errorf("usage: :set <name> <value>")
	}

	value, err := ParseValue(raw)
	if err != nil {
		return nil, fmt.Errorf("parameter :%s: %w", name, err)
	}
	sess.Bind(name, value)
	return &Result{Output: fmt.Sprintf(":%s = %v", name, value)}, nil
}

// ParseValue reads a parameter value. Integers become int64.
func ParseValue(raw string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", raw, err)
	}
	return normalize(v), nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	}
	return v
}
