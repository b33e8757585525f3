package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/quellabs/objectquel/internal/config"
	"github.com/quellabs/objectquel/internal/quel/schema"
)

// NewSchemaCommand creates the schema command. It validates the metadata
// document without opening the database.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [entity]",
		Short: "Validate the schema and list its entities",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			cfg, err := config.Load(rootOpts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "loading config", err)
			}
			if cfg.Schema.Path == "" {
				return NewExitError(ExitCommandError, "no schema configured (set schema.path or QUEL_SCHEMA)")
			}
			registry, err := schema.Load(cfg.Schema.Path)
			if err != nil {
				f.Error(err)
				return WrapExitError(ExitFailure, "invalid schema", err)
			}

			names := registry.EntityNames()
			if len(args) == 1 {
				es := registry.Entity(args[0])
				if es == nil {
					err := fmt.Errorf("unknown entity '%s'", args[0])
					f.Error(err)
					return WrapExitError(ExitFailure, "schema", err)
				}
				names = []string{es.Name}
			}

			entities := make([]*schema.EntitySchema, 0, len(names))
			for _, name := range names {
				entities = append(entities, registry.Entity(name))
			}
			if rootOpts.Format == "json" {
				return f.JSON(entitySummaries(entities))
			}
			return writeSchema(f.Writer, entities, len(args) == 1)
		},
	}
}

type entitySummary struct {
	Name      string   `json:"name"`
	Table     string   `json:"table"`
	Fields    []string `json:"fields"`
	Relations []string `json:"relations,omitempty"`
}

func entitySummaries(entities []*schema.EntitySchema) []entitySummary {
	out := make([]entitySummary, 0, len(entities))
	for _, es := range entities {
		out = append(out, entitySummary{
			Name:      es.Name,
			Table:     es.Table,
			Fields:    es.FieldOrder,
			Relations: es.RelationOrder,
		})
	}
	return out
}

func writeSchema(w io.Writer, entities []*schema.EntitySchema, detail bool) error {
	for _, es := range entities {
		fmt.Fprintf(w, "%s (table %s)\n", es.Name, es.Table)
		if !detail {
			continue
		}
		for _, name := range es.FieldOrder {
			fm := es.Fields[name]
			fmt.Fprintf(w, "  %-20s %-8s %s\n", name, fm.Type, fm.Column)
		}
		for _, name := range es.RelationOrder {
			rm := es.Relations[name]
			fmt.Fprintf(w, "  %-20s -> %s (%s)\n", name, rm.Target, rm.Cardinality)
		}
	}
	return nil
}
