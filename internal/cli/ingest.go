package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run a single ingestion cycle",
		Long: `Drain the queue once into the activity store and print the cycle result.
Unlike run, the broker must be reachable immediately.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, rootOpts)
		},
	}
}

func runIngest(cmd *cobra.Command, rootOpts *RootOptions) error {
	env, err := loadAppEnv(rootOpts)
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

	broker, err := newBroker(ctx, env.cfg, env.log)
	if err != nil {
		return err
	}

	result, err := newPipeline(env.cfg, broker, st, env.log).RunCycle(ctx)
	if result != nil {
		if werr := writeJSON(cmd.OutOrStdout(), result); werr != nil {
			return werr
		}
	}
	return err
}
