// Package schema provides the entity metadata registry for the query engine.
//
// The registry maps entity names to tables, columns, identifiers and
// relations. It is populated at startup, either in code or from a CUE
// document (see Load), and is read-only afterwards: the decomposer,
// the SQL translator and the materializer all consume it concurrently.
package schema

import (
	"fmt"
	"sort"
)

// FieldType classifies how a property is coerced when an entity is
// materialized.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldFloat
	FieldBool
	FieldTime
	FieldJSON
)

// String returns the type name used in metadata documents.
func (ft FieldType) String() string {
	switch ft {
	case FieldString:
		return "string"
	case FieldInt:
		return "int"
	case FieldFloat:
		return "float"
	case FieldBool:
		return "bool"
	case FieldTime:
		return "time"
	case FieldJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFieldType is the inverse of FieldType.String.
func ParseFieldType(s string) (FieldType, error) {
	switch s {
	case "string", "":
		return FieldString, nil
	case "int":
		return FieldInt, nil
	case "float":
		return FieldFloat, nil
	case "bool":
		return FieldBool, nil
	case "time":
		return FieldTime, nil
	case "json":
		return FieldJSON, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

// Numeric reports whether values of this type compare numerically.
func (ft FieldType) Numeric() bool {
	return ft == FieldInt || ft == FieldFloat
}

// FieldMeta describes a single property on an entity.
type FieldMeta struct {
	Name       string    // property name used in queries (e.g. "productId")
	Column     string    // table column (e.g. "product_id")
	Type       FieldType // coercion target
	Identifier bool      // part of the primary key
	Optional   bool      // nullable
}

// Cardinality of a relation, in the owning entity's direction.
type Cardinality string

const (
	OneToOne   Cardinality = "O2O"
	OneToMany  Cardinality = "O2M"
	ManyToOne  Cardinality = "M2O"
	ManyToMany Cardinality = "M2M"
)

// RelationMeta describes a relation property. The join condition is
// target.ReferencedProperty = owner.JoinProperty. ManyToMany relations go
// through a bridge entity: bridge.BridgeSource = owner.JoinProperty and
// target.ReferencedProperty = bridge.BridgeTarget.
type RelationMeta struct {
	Name               string
	Target             string
	Cardinality        Cardinality
	JoinProperty       string
	ReferencedProperty string
	Bridge             string
	BridgeSource       string
	BridgeTarget       string
}

// Unique reports whether the relation yields at most one target.
func (rm *RelationMeta) Unique() bool {
	return rm.Cardinality == OneToOne || rm.Cardinality == ManyToOne
}

// EntitySchema holds the complete metadata for one entity.
type EntitySchema struct {
	Name          string                   // entity name used in range clauses (e.g. "Product")
	Table         string                   // table name (e.g. "products")
	Fields        map[string]*FieldMeta    // property name -> metadata
	Relations     map[string]*RelationMeta // relation name -> metadata
	FieldOrder    []string                 // properties in declaration order
	RelationOrder []string                 // relations in declaration order
	Accessors     *Accessors               // optional typed construction
}

// Field returns the named property, or nil.
func (es *EntitySchema) Field(name string) *FieldMeta {
	return es.Fields[name]
}

// Relation returns the named relation, or nil.
func (es *EntitySchema) Relation(name string) *RelationMeta {
	return es.Relations[name]
}

// Identifiers returns the primary key properties in declaration order.
func (es *EntitySchema) Identifiers() []string {
	var ids []string
	for _, name := range es.FieldOrder {
		if es.Fields[name].Identifier {
			ids = append(ids, name)
		}
	}
	return ids
}

// PropertyNames returns fields then relations, used for suggestions.
func (es *EntitySchema) PropertyNames() []string {
	out := make([]string, 0, len(es.FieldOrder)+len(es.RelationOrder))
	out = append(out, es.FieldOrder...)
	return append(out, es.RelationOrder...)
}

// AddField appends a property. The column defaults to the property name.
func (es *EntitySchema) AddField(fm *FieldMeta) *EntitySchema {
	if es.Fields == nil {
		es.Fields = make(map[string]*FieldMeta)
	}
	if fm.Column == "" {
		fm.Column = fm.Name
	}
	if _, ok := es.Fields[fm.Name]; !ok {
		es.FieldOrder = append(es.FieldOrder, fm.Name)
	}
	es.Fields[fm.Name] = fm
	return es
}

// AddRelation appends a relation property.
func (es *EntitySchema) AddRelation(rm *RelationMeta) *EntitySchema {
	if es.Relations == nil {
		es.Relations = make(map[string]*RelationMeta)
	}
	if _, ok := es.Relations[rm.Name]; !ok {
		es.RelationOrder = append(es.RelationOrder, rm.Name)
	}
	es.Relations[rm.Name] = rm
	return es
}

// Registry holds schema metadata for all entities. It is safe for
// concurrent read access once populated.
type Registry struct {
	entities    map[string]*EntitySchema
	entityOrder []string // sorted entity names
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*EntitySchema),
	}
}

// Register adds an entity schema to the registry, replacing any previous
// schema with the same name.
func (r *Registry) Register(es *EntitySchema) {
	if es.Table == "" {
		es.Table = es.Name
	}
	if _, ok := r.entities[es.Name]; !ok {
		r.entityOrder = append(r.entityOrder, es.Name)
		sort.Strings(r.entityOrder)
	}
	r.entities[es.Name] = es
}

// Entity returns the schema for a named entity, or nil if not found.
func (r *Registry) Entity(name string) *EntitySchema {
	return r.entities[name]
}

// EntityNames returns all registered entity names in sorted order.
func (r *Registry) EntityNames() []string {
	return r.entityOrder
}

// AllEntities returns all entity schemas.
func (r *Registry) AllEntities() map[string]*EntitySchema {
	return r.entities
}

// Validate checks that every relation points at registered entities and
// declared properties.
func (r *Registry) Validate() error {
	for _, name := range r.entityOrder {
		es := r.entities[name]
		if len(es.Identifiers()) == 0 {
			return fmt.Errorf("entity %s: no identifier property", name)
		}
		for _, relName := range es.RelationOrder {
			rel := es.Relations[relName]
			target := r.entities[rel.Target]
			if target == nil {
				return fmt.Errorf("entity %s: relation %s targets unknown entity %s", name, relName, rel.Target)
			}
			if es.Field(rel.JoinProperty) == nil {
				return fmt.Errorf("entity %s: relation %s joins on unknown property %s", name, relName, rel.JoinProperty)
			}
			if target.Field(rel.ReferencedProperty) == nil {
				return fmt.Errorf("entity %s: relation %s references unknown property %s.%s", name, relName, rel.Target, rel.ReferencedProperty)
			}
			if rel.Cardinality != ManyToMany {
				continue
			}
			bridge := r.entities[rel.Bridge]
			if bridge == nil {
				return fmt.Errorf("entity %s: relation %s uses unknown bridge entity %q", name, relName, rel.Bridge)
			}
			if bridge.Field(rel.BridgeSource) == nil || bridge.Field(rel.BridgeTarget) == nil {
				return fmt.Errorf("entity %s: relation %s: bridge %s lacks %s or %s", name, relName, rel.Bridge, rel.BridgeSource, rel.BridgeTarget)
			}
		}
	}
	return nil
}
