package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/quel/schema"
)

// Registry is the metadata the decomposer needs.
type Registry interface {
	Entity(name string) *schema.EntitySchema
	EntityNames() []string
}

// BridgeSuffix is appended to a range alias to name the synthetic range
// that walks a ManyToMany bridge entity.
const BridgeSuffix = "__bridge"

// SemiJoinPrefix prefixes the parameters bound by semi-joins.
const SemiJoinPrefix = "__sj_"

// Decomposer splits a retrieve statement into execution stages.
type Decomposer struct {
	registry Registry
}

// NewDecomposer creates a decomposer backed by the given registry.
func NewDecomposer(registry Registry) *Decomposer {
	return &Decomposer{registry: registry}
}

// Decompose builds the execution plan for ret. params is kept on the plan
// for the executor; it is not modified.
func (d *Decomposer) Decompose(ret *ql.Retrieve, params map[string]any) (*ExecutionPlan, error) {
	ranges, err := d.resolveRanges(ret)
	if err != nil {
		return nil, err
	}
	if err := validateIdentifiers(ret, ranges); err != nil {
		return nil, err
	}
	if ranges, err = d.resolveJoins(ranges); err != nil {
		return nil, err
	}
	ranges = pruneLazy(ret, ranges)

	ordered, err := order(ranges)
	if err != nil {
		return nil, err
	}

	stages, stageOf := group(ordered)
	distribute(ret.Where, stages, stageOf)
	declareSemiJoins(stages, stageOf)
	declarePresence(ret, stages, stageOf)

	return &ExecutionPlan{Retrieve: ret, Stages: stages, Params: params}, nil
}

// declarePresence gives every exists(alias.relation) in the statement to
// the stage that reads alias, so deferred conjuncts, projections and sort
// keys can read the flag after the merge.
func declarePresence(ret *ql.Retrieve, stages []*ExecutionStage, stageOf map[string]int) {
	seen := make(map[string]bool)
	visit := ql.VisitorFunc(func(n ql.Node) {
		ex, ok := n.(*ql.Exists)
		if !ok || len(ex.Target.Path) != 1 || seen[ex.Target.Key()] {
			return
		}
		idx, ok := stageOf[ex.Target.Alias]
		if !ok {
			return
		}
		st := stages[idx]
		r := st.Range(ex.Target.Alias)
		if r == nil || r.Entity == nil || r.Entity.Relation(ex.Target.Property()) == nil {
			return
		}
		seen[ex.Target.Key()] = true
		st.Presence = append(st.Presence, ex.Target)
	})

	if ret.Where != nil {
		ret.Where.Accept(visit)
	}
	for _, p := range ret.Projections {
		p.Expr.Accept(visit)
	}
	for _, s := range ret.Sort {
		s.Expr.Accept(visit)
	}
}

// ── range resolution ────────────────────────────────────────────────────────

func (d *Decomposer) resolveRanges(ret *ql.Retrieve) ([]*StageRange, error) {
	out := make([]*StageRange, 0, len(ret.Ranges))
	for _, r := range ret.Ranges {
		sr := &StageRange{Range: r, Alias: r.RangeAlias(), Required: r.IsRequired()}
		if db, ok := r.(*ql.RangeDatabaseSource); ok {
			es, err := d.resolveEntity(db.Entity)
			if err != nil {
				return nil, err
			}
			sr.Entity = es
		}
		out = append(out, sr)
	}
	return out, nil
}

func (d *Decomposer) resolveEntity(name string) (*schema.EntitySchema, error) {
	if es := d.registry.Entity(name); es != nil {
		return es, nil
	}
	if suggestion := ql.SuggestFrom(name, d.registry.EntityNames(), 3); suggestion != "" {
		return nil, fault.Newf(fault.PlanCode, "unknown entity '%s' (%s)", name, suggestion)
	}
	return nil, fault.Newf(fault.PlanCode, "unknown entity '%s'", name)
}

// validateIdentifiers checks every property reference on entity ranges.
// Relations may only appear as exists() targets or via clauses.
func validateIdentifiers(ret *ql.Retrieve, ranges []*StageRange) error {
	byAlias := indexRanges(ranges)

	relationOK := make(map[*ql.Identifier]bool)
	ret.Accept(ql.VisitorFunc(func(n ql.Node) {
		if e, ok := n.(*ql.Exists); ok {
			relationOK[e.Target] = true
		}
	}))
	for _, r := range ret.Ranges {
		if id, ok := r.JoinCondition().(*ql.Identifier); ok {
			relationOK[id] = true
		}
	}

	for _, id := range ql.Identifiers(ret) {
		sr := byAlias[id.Alias]
		if sr == nil || sr.Entity == nil || id.IsAlias() {
			continue
		}
		es := sr.Entity
		prop := id.Property()
		switch {
		case es.Field(prop) != nil:
			if len(id.Path) > 1 {
				return fault.Newf(fault.PlanCode, "'%s': property chains are not supported on entity %s", id, es.Name)
			}
		case es.Relation(prop) != nil:
			if !relationOK[id] {
				return fault.Newf(fault.PlanCode, "'%s' is a relation; use it in exists() or a via clause", id)
			}
		default:
			if suggestion := ql.SuggestFrom(prop, es.PropertyNames(), 3); suggestion != "" {
				return fault.Newf(fault.PlanCode, "unknown property '%s' on entity '%s' (%s)", prop, es.Name, suggestion)
			}
			return fault.Newf(fault.PlanCode, "unknown property '%s' on entity '%s'", prop, es.Name)
		}
	}
	return nil
}

// resolveJoins turns via clauses into join conditions. A via naming a
// relation (via p.category) is expanded from relation metadata; a
// ManyToMany relation also inserts a bridge range before the target.
func (d *Decomposer) resolveJoins(ranges []*StageRange) ([]*StageRange, error) {
	byAlias := indexRanges(ranges)
	out := make([]*StageRange, 0, len(ranges))

	for _, sr := range ranges {
		via := sr.Range.JoinCondition()
		id, isRelation := via.(*ql.Identifier)
		if !isRelation {
			sr.Join = via
			out = append(out, sr)
			continue
		}

		bridge, err := d.relationJoin(sr, id, byAlias)
		if err != nil {
			return nil, err
		}
		if bridge != nil {
			if byAlias[bridge.Alias] != nil {
				return nil, fault.Newf(fault.PlanCode, "range alias '%s' is reserved for the bridge of '%s'", bridge.Alias, sr.Alias)
			}
			out = append(out, bridge)
		}
		out = append(out, sr)
	}
	return out, nil
}

func (d *Decomposer) relationJoin(sr *StageRange, via *ql.Identifier, byAlias map[string]*StageRange) (*StageRange, error) {
	owner := byAlias[via.Alias]
	if owner == sr {
		return nil, fault.Newf(fault.PlanCode, "via %s: a range cannot join through its own relation", via)
	}
	if owner == nil || owner.Entity == nil || len(via.Path) != 1 {
		return nil, fault.Newf(fault.PlanCode, "via %s: expected a join condition or a relation of an entity range", via)
	}
	rel := owner.Entity.Relation(via.Property())
	if rel == nil {
		return nil, fault.Newf(fault.PlanCode, "via %s: entity %s has no relation '%s'", via, owner.Entity.Name, via.Property())
	}
	if sr.Entity == nil || sr.Entity.Name != rel.Target {
		return nil, fault.Newf(fault.PlanCode, "via %s: relation targets %s, but range '%s' is not a %s range", via, rel.Target, sr.Alias, rel.Target)
	}

	if rel.Cardinality != schema.ManyToMany {
		sr.Join = eq(
			ql.NewIdentifier(sr.Alias, ql.SourceDatabase, rel.ReferencedProperty),
			ql.NewIdentifier(owner.Alias, ql.SourceDatabase, rel.JoinProperty),
		)
		return nil, nil
	}

	bridgeEs := d.registry.Entity(rel.Bridge)
	if bridgeEs == nil {
		return nil, fault.Newf(fault.PlanCode, "via %s: unknown bridge entity '%s'", via, rel.Bridge)
	}
	alias := sr.Alias + BridgeSuffix
	bridge := &StageRange{
		Range:     &ql.RangeDatabaseSource{TokenPos: -1, Alias: alias, Entity: bridgeEs.Name, Required: sr.Required},
		Alias:     alias,
		Entity:    bridgeEs,
		Required:  sr.Required,
		Synthetic: true,
		Join: eq(
			ql.NewIdentifier(alias, ql.SourceDatabase, rel.BridgeSource),
			ql.NewIdentifier(owner.Alias, ql.SourceDatabase, rel.JoinProperty),
		),
	}
	sr.Join = eq(
		ql.NewIdentifier(sr.Alias, ql.SourceDatabase, rel.ReferencedProperty),
		ql.NewIdentifier(alias, ql.SourceDatabase, rel.BridgeTarget),
	)
	return bridge, nil
}

func eq(left, right ql.Expr) ql.Expr {
	return &ql.BinaryOp{TokenPos: -1, Op: ql.OpEQ, Left: left, Right: right}
}

// pruneLazy drops @lazy ranges, and bridges, that nothing references.
// Dropping one range can release the ranges its join referenced, so this
// repeats until stable.
func pruneLazy(ret *ql.Retrieve, ranges []*StageRange) []*StageRange {
	used := make(map[string]bool)
	for _, p := range ret.Projections {
		mergeAliases(used, p.Expr)
	}
	mergeAliases(used, ret.Where)
	for _, s := range ret.Sort {
		mergeAliases(used, s.Expr)
	}

	for {
		referenced := make(map[string]bool, len(used))
		for a := range used {
			referenced[a] = true
		}
		for _, r := range ranges {
			for a := range ql.Aliases(r.Join) {
				if a != r.Alias {
					referenced[a] = true
				}
			}
		}

		kept := ranges[:0:0]
		for _, r := range ranges {
			if (r.lazy() || r.Synthetic) && !referenced[r.Alias] {
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == len(ranges) {
			return kept
		}
		ranges = kept
	}
}

func mergeAliases(dst map[string]bool, e ql.Expr) {
	if e == nil {
		return
	}
	for a := range ql.Aliases(e) {
		dst[a] = true
	}
}

func indexRanges(ranges []*StageRange) map[string]*StageRange {
	out := make(map[string]*StageRange, len(ranges))
	for _, r := range ranges {
		out[r.Alias] = r
	}
	return out
}

// ── ordering and grouping ───────────────────────────────────────────────────

// deps returns the other ranges a range's join refers to.
func deps(r *StageRange) []string {
	var out []string
	for a := range ql.Aliases(r.Join) {
		if a != r.Alias {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

// order sorts ranges topologically by join dependencies. Ties keep
// declaration order.
func order(ranges []*StageRange) ([]*StageRange, error) {
	roots := 0
	for _, r := range ranges {
		if r.Join == nil {
			roots++
		}
	}
	if roots == 0 {
		return nil, fault.New(fault.PlanCode, "cannot determine a driving range: every range declares a via clause")
	}

	done := make(map[string]bool, len(ranges))
	out := make([]*StageRange, 0, len(ranges))
	for len(out) < len(ranges) {
		var next *StageRange
		for _, r := range ranges {
			if done[r.Alias] {
				continue
			}
			ready := true
			for _, dep := range deps(r) {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				next = r
				break
			}
		}
		if next == nil {
			var pending []string
			for _, r := range ranges {
				if !done[r.Alias] {
					pending = append(pending, r.Alias)
				}
			}
			return nil, fault.Newf(fault.PlanCode, "cyclic via dependencies between ranges %s", strings.Join(pending, ", "))
		}
		done[next.Alias] = true
		out = append(out, next)
	}
	return out, nil
}

// group places entity ranges that depend only on entity ranges into one
// combined database stage. Every JSON range, and every entity range that
// depends on one, gets its own stage. Stages follow the topological order
// of their first range.
func group(ordered []*StageRange) ([]*ExecutionStage, map[string]int) {
	tainted := make(map[string]bool)
	var (
		stages     []*ExecutionStage
		primary    *ExecutionStage
		primaryIdx int
	)
	stageOf := make(map[string]int)

	for _, r := range ordered {
		t := r.Entity == nil
		for _, dep := range deps(r) {
			t = t || tainted[dep]
		}
		tainted[r.Alias] = t

		if !t {
			if primary == nil {
				primary = &ExecutionStage{Kind: StageDatabase}
				primaryIdx = len(stages)
				stages = append(stages, primary)
			}
			primary.Ranges = append(primary.Ranges, r)
			stageOf[r.Alias] = primaryIdx
			continue
		}

		st := &ExecutionStage{Kind: StageDatabase, Ranges: []*StageRange{r}, Required: r.Required}
		if r.Entity == nil {
			st.Kind = StageJSON
		}
		st.JoinConditions = ql.Conjuncts(r.Join)
		stages = append(stages, st)
		stageOf[r.Alias] = len(stages) - 1
	}

	if primary != nil {
		// driving ranges first; the rest keep topological order
		var roots, joined []*StageRange
		for _, r := range primary.Ranges {
			if r.Join == nil {
				roots = append(roots, r)
			} else {
				joined = append(joined, r)
			}
		}
		primary.Ranges = append(roots, joined...)
	}

	for _, s := range stages {
		s.Name = s.Kind.String() + ":" + strings.Join(s.Aliases(), ",")
	}
	return stages, stageOf
}

// distribute assigns each top-level conjunct of the where clause to the
// earliest stage where all its ranges are available. Conjuncts on a single
// stage filter that stage, unless the stage is left joined; the rest are
// deferred to the merged rows.
func distribute(where ql.Expr, stages []*ExecutionStage, stageOf map[string]int) {
	for _, c := range ql.Conjuncts(where) {
		aliases := ql.Aliases(c)
		idx := 0
		for a := range aliases {
			idx = max(idx, stageOf[a])
		}
		local := true
		for a := range aliases {
			if stageOf[a] != idx {
				local = false
			}
		}

		st := stages[idx]
		if local && !st.leftJoined() {
			st.Conditions = append(st.Conditions, c)
		} else {
			st.Deferred = append(st.Deferred, c)
		}
	}
}

// declareSemiJoins adds a semi-join for every equality between a property
// of a later stage and a property of an earlier one.
func declareSemiJoins(stages []*ExecutionStage, stageOf map[string]int) {
	n := 0
	for idx, st := range stages {
		if idx == 0 {
			continue
		}
		candidates := append(append([]ql.Expr{}, st.JoinConditions...), st.Deferred...)
		for _, c := range candidates {
			b, ok := c.(*ql.BinaryOp)
			if !ok || b.Op != ql.OpEQ {
				continue
			}
			left, lok := b.Left.(*ql.Identifier)
			right, rok := b.Right.(*ql.Identifier)
			if !lok || !rok || left.IsAlias() || right.IsAlias() {
				continue
			}

			var col, src *ql.Identifier
			switch {
			case stageOf[left.Alias] == idx && stageOf[right.Alias] < idx:
				col, src = left, right
			case stageOf[right.Alias] == idx && stageOf[left.Alias] < idx:
				col, src = right, left
			default:
				continue
			}
			n++
			st.SemiJoins = append(st.SemiJoins, SemiJoin{
				Column: col,
				Source: src,
				Param:  fmt.Sprintf("%s%d", SemiJoinPrefix, n),
			})
		}
	}
}
