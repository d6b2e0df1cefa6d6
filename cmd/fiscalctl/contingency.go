package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fiscalhub/internal/app"
)

func contingencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contingency",
		Short: "Inspect and retransmit documents saved offline",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Count documents waiting for retransmission",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTenant(cmd, func(ctx context.Context, a *app.App, tenantID string) error {
				n, err := a.Contingency.PendingCount(ctx, tenantID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d pending\n", n)
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "retransmit",
		Short: "Retransmit pending documents now, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTenant(cmd, func(ctx context.Context, a *app.App, tenantID string) error {
				res, err := a.Contingency.RetransmitPending(ctx, tenantID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !res.AuthorityAvailable {
					fmt.Fprintln(out, "authority unavailable, nothing sent")
					return nil
				}
				for _, r := range res.Results {
					status := "ok"
					if !r.Success {
						status = "FAILED " + r.Error
					}
					fmt.Fprintf(out, "  %-36s %s\n", r.DocumentID, status)
				}
				fmt.Fprintf(out, "processed %d, succeeded %d, failed %d\n", res.Processed, res.Succeeded, res.Failed)
				return nil
			})
		},
	})
	return cmd
}
