package cli

import (
	"github.com/spf13/cobra"

	"github.com/quellabs/objectquel/internal/server"
)

// NewServeCommand creates the serve command, which runs the query console
// until the command context is cancelled.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the WebSocket query console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Console.Addr
			}
			err = server.Run(cmd.Context(), server.Config{
				Addr:            addr,
				Engine:          a.engine,
				Logger:          a.logger,
				SessionMaxAge:   a.cfg.Console.MaxAge,
				SessionIdle:     a.cfg.Console.IdleTimeout,
				CleanupInterval: a.cfg.Console.CleanupInterval,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "console server", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to console.addr)")
	return cmd
}
