package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quellabs/objectquel/internal/quel/planner"
)

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "explain <quel>",
		Short: "Show the execution stages of a query without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bound, err := parseParams(params)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --param", err)
			}
			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			a, err := loadApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			plan, err := a.engine.Explain(args[0], bound)
			if err != nil {
				return queryFailed(f, err)
			}
			if rootOpts.Format == "json" {
				return f.JSON(describePlan(plan))
			}
			_, err = fmt.Fprint(f.Writer, plan.Explain())
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "bind a named parameter (name=value)")
	return cmd
}

type stageView struct {
	Kind    string   `json:"kind"`
	Aliases []string `json:"aliases"`
}

type planView struct {
	Stages []stageView `json:"stages"`
	Text   string      `json:"text"`
}

func describePlan(plan *planner.ExecutionPlan) planView {
	out := planView{Text: plan.Explain()}
	for _, s := range plan.Stages {
		out.Stages = append(out.Stages, stageView{Kind: s.Kind.String(), Aliases: s.Aliases()})
	}
	return out
}
