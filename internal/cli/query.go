package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quellabs/objectquel/internal/quel"
	"github.com/quellabs/objectquel/internal/repl/meta"
)

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "query <quel>",
		Short: "Execute a query and print its rows",
		Example: `  quel query 'range of p is Product retrieve (p.name) where p.price > :min' --param min=10
  quel query --format json 'range of c is Category retrieve (c)'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bound, err := parseParams(params)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --param", err)
			}
			return runQuery(cmd, rootOpts, args[0], bound)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "bind a named parameter (name=value)")
	return cmd
}

// parseParams reads name=value pairs. Values are YAML scalars, so 10 is an
// integer and '10' a string.
func parseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), ":")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		v, err := meta.ParseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter :%s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func runQuery(cmd *cobra.Command, opts *RootOptions, query string, params map[string]any) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	a, err := loadApp(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.engine.ExecuteQuery(cmd.Context(), query, params)
	if err != nil {
		return queryFailed(f, err)
	}

	if opts.Format == "json" {
		return f.JSON(queryOutput{Columns: result.Columns(), Rows: result.Rows(), Total: result.RecordCount()})
	}
	return writeTable(f.Writer, result)
}

type queryOutput struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Total   int              `json:"total"`
}

// writeTable prints one tab-aligned line per row. Entities print as JSON
// objects.
func writeTable(w io.Writer, result *quel.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(result.Columns(), "\t"))
	for row, ok := result.FetchRow(); ok; row, ok = result.FetchRow() {
		cells := make([]string, 0, len(result.Columns()))
		for _, col := range result.Columns() {
			cells = append(cells, formatCell(row[col]))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "(%d rows)\n", result.RecordCount())
	return nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case json.Marshaler, map[string]any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}
