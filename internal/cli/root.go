// Package cli implements the zora command line: serving the daemon,
// submitting tasks and inspecting the installation.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	Home    string
	Verbose bool
}

var globalFlags GlobalFlags

// NewRootCmd builds the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zora",
		Short: "Zora - autonomous personal agent daemon",
		Long: `Zora is an always-on personal AI agent. It runs tasks through
configured model providers under a local policy file, remembers what it
learns, and serves a dashboard for live observation and steering.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&globalFlags.Home, "home", "",
		"base directory (default ~/.zora, or $ZORA_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewTaskCmd())
	rootCmd.AddCommand(NewVersionCmd())
	return rootCmd
}

// Execute runs the CLI under a signal-aware context.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
