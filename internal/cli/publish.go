package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pasthortown/message-sender/internal/dto"
	"github.com/pasthortown/message-sender/internal/service"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	Request dto.PublishActivityRequest
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one activity event to the queue",
		Long: `Send one activity event the same way the desktop client does.

Example:
  monitor publish --email jdoe --zone 2 --state Activo`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Request.Email, "email", "", "identity of the user (required)")
	cmd.Flags().IntVar(&opts.Request.Zone, "zone", 0, "zone the message was shown in")
	cmd.Flags().StringVar(&opts.Request.State, "state", "Activo", "activity state")
	cmd.Flags().Int64Var(&opts.Request.MessageID, "message-id", 1, "message id")
	cmd.Flags().StringVar(&opts.Request.Timestamp, "timestamp", "", "event time (default now)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runPublish(cmd *cobra.Command, opts *PublishOptions) error {
	env, err := loadAppEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	broker, err := newBroker(ctx, env.cfg, env.log)
	if err != nil {
		return err
	}

	ts, err := service.NewActivityService(broker, env.log).PublishActivity(ctx, &opts.Request)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "published activity for %s at %s\n", opts.Request.Email, ts)
	return err
}
