package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fiscalhub/internal/app"
	"fiscalhub/internal/core/numerator"
)

func numberingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "numbering",
		Short: "Inspect and override document numbering counters",
	}
	cmd.AddCommand(gapCmd(), setNextCmd())
	return cmd
}

func familyFlag(cmd *cobra.Command) (numerator.Family, error) {
	raw, _ := cmd.Flags().GetString("family")
	f := numerator.Family(raw)
	if !f.Valid() {
		return "", fmt.Errorf("unknown family %q: use nfe or nfse", raw)
	}
	return f, nil
}

func gapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gap",
		Short: "Compare the counter with the next number the authority expects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			family, err := familyFlag(cmd)
			if err != nil {
				return err
			}
			expected, _ := cmd.Flags().GetInt64("expected")
			return withTenant(cmd, func(ctx context.Context, a *app.App, tenantID string) error {
				r, err := a.Numbers.CheckGap(ctx, tenantID, family, expected)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "family:   %s\n", r.Family)
				fmt.Fprintf(out, "series:   %s\n", r.Series)
				fmt.Fprintf(out, "current:  %d\n", r.Current)
				fmt.Fprintf(out, "expected: %d\n", r.Expected)
				if r.HasGap {
					fmt.Fprintf(out, "GAP: numbers %d to %d were never issued here\n", r.Current, r.Expected-1)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("family", "", "nfe or nfse")
	cmd.Flags().Int64("expected", 0, "next number expected by the authority")
	_ = cmd.MarkFlagRequired("family")
	_ = cmd.MarkFlagRequired("expected")
	return cmd
}

func setNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-next",
		Short: "Set the next number a family will hand out",
		RunE: func(cmd *cobra.Command, _ []string) error {
			family, err := familyFlag(cmd)
			if err != nil {
				return err
			}
			next, _ := cmd.Flags().GetInt64("next")
			if next < 1 {
				return numerator.ErrInvalidNextNumber
			}
			return withTenant(cmd, func(ctx context.Context, a *app.App, tenantID string) error {
				if err := a.Numbers.SetNextNumber(ctx, tenantID, family, next); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s counter set, next number is %d\n", family, next)
				return nil
			})
		},
	}
	cmd.Flags().String("family", "", "nfe or nfse")
	cmd.Flags().Int64("next", 0, "next number (>= 1)")
	_ = cmd.MarkFlagRequired("family")
	_ = cmd.MarkFlagRequired("next")
	return cmd
}
