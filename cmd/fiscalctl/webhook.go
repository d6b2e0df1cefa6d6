package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fiscalhub/internal/app"
	"fiscalhub/internal/core/id"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage webhook subscriptions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reactivate <subscription-id>",
		Short: "Reactivate a subscription disabled after repeated failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subID, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid subscription id: %w", err)
			}
			return withTenant(cmd, func(ctx context.Context, a *app.App, _ string) error {
				sub, err := a.Subscription.Reactivate(ctx, subID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s reactivated (%s)\n", sub.ID, sub.URL)
				return nil
			})
		},
	})
	return cmd
}
