package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// ReapOptions holds flags for the reap command.
type ReapOptions struct {
	*RootOptions
	DryRun bool
}

// NewReapCommand creates the reap command.
func NewReapCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReapOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete identities inactive past the retention window",
		Long: `Compute the latest activity of every identity once and delete the users
rows of those older than MONITOR_RETENTION_MONTHS. Identities without any
activity record are left alone.

Example:
  monitor reap --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReap(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "list candidates without deleting")

	return cmd
}

func runReap(cmd *cobra.Command, opts *ReapOptions) error {
	env, err := loadAppEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStores(ctx, env.cfg, env.log)
	if err != nil {
		return err
	}
	defer st.close(context.Background())

	result, err := newReaper(env.cfg, st, opts.DryRun, env.log).Run(ctx)
	if result != nil {
		if werr := writeJSON(cmd.OutOrStdout(), result); werr != nil {
			return werr
		}
	}
	return err
}
