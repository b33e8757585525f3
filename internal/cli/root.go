// Package cli implements the quel command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/quellabs/objectquel/internal/config"
	"github.com/quellabs/objectquel/internal/quel"
	"github.com/quellabs/objectquel/internal/quel/schema"
	"github.com/quellabs/objectquel/internal/quel/source"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "quel",
		Short: "Quel - entity queries over SQL and JSON sources",
		Long:  "Run ObjectQuel queries against a schema registry, explain their plans, or serve the query console.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		// query failures were already written in the selected format
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != ExitFailure {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return GetExitCode(err)
	}
	return ExitSuccess
}

// app is the runtime assembled from the config file.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *quel.Engine
	sink   *source.SQLSink
}

func (a *app) Close() error {
	if a.sink != nil {
		return a.sink.Close()
	}
	return nil
}

// loadApp reads the config, loads the schema and opens the database. The
// sink is left nil when no DSN is configured.
func loadApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}
	if opts.Verbose {
		cfg.Logger.Level = "debug"
	}
	logger, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "creating logger", err)
	}
	if cfg.Schema.Path == "" {
		return nil, NewExitError(ExitCommandError, "no schema configured (set schema.path or QUEL_SCHEMA)")
	}
	registry, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading schema", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if cfg.Database.DSN != "" {
		a.sink, err = source.OpenSQL(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "opening database", err)
		}
		logger.Debug("database opened", "driver", cfg.Database.Driver)
	}

	a.engine, err = quel.New(registry, a.sink,
		quel.WithLogger(logger),
		quel.WithJSONLoader(source.NewJSONLoader(cfg.JSON.BaseDir)),
	)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "creating engine", err)
	}
	return a, nil
}
