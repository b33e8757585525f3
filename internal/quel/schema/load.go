package schema

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed entity.cue
var entitySchema string

type fieldDoc struct {
	Column     string `json:"column"`
	Type       string `json:"type"`
	Identifier bool   `json:"identifier"`
	Optional   bool   `json:"optional"`
}

type relationDoc struct {
	Kind         string `json:"kind"`
	Target       string `json:"target"`
	Join         string `json:"join"`
	References   string `json:"references"`
	Bridge       string `json:"bridge"`
	BridgeSource string `json:"bridgeSource"`
	BridgeTarget string `json:"bridgeTarget"`
}

// Load reads a CUE metadata document from path and builds a registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	return Parse(path, data)
}

// Parse validates a CUE metadata document against the entity schema and
// builds a registry. Entities, fields and relations keep their document
// order.
//
//	entities: Product: {
//		table: "products"
//		fields: productId: {column: "product_id", type: "int", identifier: true}
//		relations: category: {kind: "M2O", target: "Category", join: "categoryId", references: "categoryId"}
//	}
func Parse(filename string, data []byte) (*Registry, error) {
	ctx := cuecontext.New()

	def := ctx.CompileString(entitySchema, cue.Filename("entity.cue"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("compiling entity schema: %w", err)
	}
	doc := ctx.CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("compiling %s: %w", filename, err)
	}

	value := def.LookupPath(cue.ParsePath("#Document")).Unify(doc)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validating %s: %w", filename, err)
	}

	reg := NewRegistry()
	iter, err := value.LookupPath(cue.ParsePath("entities")).Fields()
	if err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	for iter.Next() {
		es, err := parseEntity(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		reg.Register(es)
	}

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func parseEntity(name string, val cue.Value) (*EntitySchema, error) {
	es := &EntitySchema{Name: name, Table: name}

	iter, err := val.Fields()
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", name, err)
	}
	for iter.Next() {
		switch iter.Selector().Unquoted() {
		case "table":
			table, err := iter.Value().String()
			if err != nil {
				return nil, fmt.Errorf("entity %s: table: %w", name, err)
			}
			es.Table = table
		case "fields":
			if err := parseFields(es, iter.Value()); err != nil {
				return nil, err
			}
		case "relations":
			if err := parseRelations(es, iter.Value()); err != nil {
				return nil, err
			}
		}
	}
	return es, nil
}

func parseFields(es *EntitySchema, val cue.Value) error {
	iter, err := val.Fields()
	if err != nil {
		return fmt.Errorf("entity %s: fields: %w", es.Name, err)
	}
	for iter.Next() {
		prop := iter.Selector().Unquoted()
		var doc fieldDoc
		if err := iter.Value().Decode(&doc); err != nil {
			return fmt.Errorf("entity %s: field %s: %w", es.Name, prop, err)
		}
		ft, err := ParseFieldType(doc.Type)
		if err != nil {
			return fmt.Errorf("entity %s: field %s: %w", es.Name, prop, err)
		}
		es.AddField(&FieldMeta{
			Name:       prop,
			Column:     doc.Column,
			Type:       ft,
			Identifier: doc.Identifier,
			Optional:   doc.Optional,
		})
	}
	return nil
}

func parseRelations(es *EntitySchema, val cue.Value) error {
	iter, err := val.Fields()
	if err != nil {
		return fmt.Errorf("entity %s: relations: %w", es.Name, err)
	}
	for iter.Next() {
		rel := iter.Selector().Unquoted()
		var doc relationDoc
		if err := iter.Value().Decode(&doc); err != nil {
			return fmt.Errorf("entity %s: relation %s: %w", es.Name, rel, err)
		}
		es.AddRelation(&RelationMeta{
			Name:               rel,
			Target:             doc.Target,
			Cardinality:        Cardinality(doc.Kind),
			JoinProperty:       doc.Join,
			ReferencedProperty: doc.References,
			Bridge:             doc.Bridge,
			BridgeSource:       doc.BridgeSource,
			BridgeTarget:       doc.BridgeTarget,
		})
	}
	return nil
}
