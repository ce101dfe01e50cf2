package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"zora/internal/orchestrator"
)

// NewServeCmd builds the serve command: the daemon entry point.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent daemon",
		Long: `Run the agent daemon: the scheduler, provider monitors and the
dashboard gateway. Stops cleanly on SIGINT/SIGTERM, draining in-flight
tasks first.`,
		Example: `  # Run with the default base directory (~/.zora)
  zora serve

  # Run against an alternate installation
  zora serve --home /srv/zora`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := orchestrator.New(globalFlags.Home)
			if err != nil {
				return fmt.Errorf("boot: %w", err)
			}
			return o.Run(cmd.Context())
		},
	}
}
