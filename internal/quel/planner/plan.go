// Package planner decomposes a parsed retrieve statement into an ordered
// execution plan of database and JSON stages using the schema registry.
package planner

import (
	"fmt"
	"strings"

	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/schema"
)

// StageKind identifies the source a stage reads from.
type StageKind int

const (
	StageDatabase StageKind = iota
	StageJSON
)

// String returns "database" or "json".
func (k StageKind) String() string {
	if k == StageJSON {
		return "json"
	}
	return "database"
}

// StageRange is one range placed in a stage, with its via clause resolved
// to a join condition.
type StageRange struct {
	Range     ql.Range
	Alias     string
	Entity    *schema.EntitySchema // nil for JSON ranges
	Join      ql.Expr              // nil for driving ranges
	Required  bool
	Synthetic bool // bridge range inserted for a ManyToMany relation
}

// JSON returns the JSON source of the range, or nil for entity ranges.
func (r *StageRange) JSON() *ql.RangeJsonSource {
	js, _ := r.Range.(*ql.RangeJsonSource)
	return js
}

func (r *StageRange) lazy() bool {
	db, ok := r.Range.(*ql.RangeDatabaseSource)
	return ok && db.FetchMode == ql.FetchLazy
}

// SemiJoin restricts Column to the distinct values Source took in earlier
// stages. The executor binds those values to Param.
type SemiJoin struct {
	Column *ql.Identifier
	Source *ql.Identifier
	Param  string
}

// ExecutionStage is one unit of sequential work against a single source.
type ExecutionStage struct {
	Name           string
	Kind           StageKind
	Ranges         []*StageRange
	Conditions     []ql.Expr // reference only this stage's ranges
	Deferred       []ql.Expr // evaluated on rows merged with earlier stages
	SemiJoins      []SemiJoin
	JoinConditions []ql.Expr // conjuncts joining this stage to earlier ones
	Required       bool      // drop accumulated rows without a match
	// Presence lists exists(alias.relation) targets the stage selects as
	// flags, for conditions and projections evaluated outside its SQL.
	Presence []*ql.Identifier
}

// Range returns the stage range with the given alias, or nil.
func (s *ExecutionStage) Range(alias string) *StageRange {
	for _, r := range s.Ranges {
		if r.Alias == alias {
			return r
		}
	}
	return nil
}

// Aliases returns the aliases of the stage's ranges in order.
func (s *ExecutionStage) Aliases() []string {
	out := make([]string, len(s.Ranges))
	for i, r := range s.Ranges {
		out[i] = r.Alias
	}
	return out
}

func (s *ExecutionStage) leftJoined() bool {
	return len(s.JoinConditions) > 0 && !s.Required
}

// ExecutionPlan is the ordered list of stages for one query execution.
type ExecutionPlan struct {
	Retrieve *ql.Retrieve
	Stages   []*ExecutionStage
	Params   map[string]any
}

// Range returns the stage range with the given alias from any stage.
func (p *ExecutionPlan) Range(alias string) *StageRange {
	for _, s := range p.Stages {
		if r := s.Range(alias); r != nil {
			return r
		}
	}
	return nil
}

// Explain renders the plan as indented text, one stage per block.
func (p *ExecutionPlan) Explain() string {
	var b strings.Builder
	for i, s := range p.Stages {
		fmt.Fprintf(&b, "stage %d: %s [%s]\n", i+1, s.Kind, strings.Join(s.Aliases(), ", "))
		for _, r := range s.Ranges {
			b.WriteString("  range " + r.Alias + ": " + describeSource(r))
			if r.Join != nil {
				b.WriteString(" via " + ql.Format(r.Join))
			}
			if r.Required {
				b.WriteString(" required")
			}
			if r.Synthetic {
				b.WriteString(" bridge")
			}
			b.WriteByte('\n')
		}
		for _, sj := range s.SemiJoins {
			fmt.Fprintf(&b, "  semi-join: %s IN :%s <- %s\n", sj.Column, sj.Param, sj.Source)
		}
		for _, c := range s.JoinConditions {
			b.WriteString("  join: " + ql.Format(c) + "\n")
		}
		for _, c := range s.Conditions {
			b.WriteString("  condition: " + ql.Format(c) + "\n")
		}
		for _, c := range s.Deferred {
			b.WriteString("  deferred: " + ql.Format(c) + "\n")
		}
		for _, id := range s.Presence {
			b.WriteString("  presence: " + id.String() + "\n")
		}
	}
	return b.String()
}

func describeSource(r *StageRange) string {
	if js := r.JSON(); js != nil {
		if js.JSONPath == "" {
			return fmt.Sprintf("json_source(%q)", js.Path)
		}
		return fmt.Sprintf("json_source(%q, %q)", js.Path, js.JSONPath)
	}
	return r.Entity.Name
}
