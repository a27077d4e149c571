package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	// LogLevel overrides SERVICE_LOG_LEVEL when set.
	LogLevel string
}

// NewRootCommand creates the root command for the monitor CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Activity monitor",
		Long: `Drains activity events from the queue into the activity store, numbering
each record from a shared counter, and removes identities that have been
inactive for longer than the retention window.`,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewReapCommand(opts))
	cmd.AddCommand(NewPublishCommand(opts))

	return cmd
}
