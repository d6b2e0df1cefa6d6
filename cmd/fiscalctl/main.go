// Package main is fiscalctl, the operator CLI of fiscalhub.
//
//	fiscalctl numbering gap --tenant <id> --family nfe --expected 1042
//	fiscalctl numbering set-next --tenant <id> --family nfse --next 500
//	fiscalctl contingency count --tenant <id>
//	fiscalctl contingency retransmit --tenant <id>
//	fiscalctl webhook reactivate --tenant <id> <subscription-id>
//	fiscalctl token --tenant <id> --subject ops --role fiscal:admin
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fiscalhub/internal/app"
	"fiscalhub/internal/config"
	"fiscalhub/pkg/logger"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fiscalctl",
		Short:         "Operate fiscalhub tenants: numbering, contingency, webhooks and tokens",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("tenant", "", "tenant id (UUID)")
	_ = root.MarkPersistentFlagRequired("tenant")

	root.AddCommand(numberingCmd())
	root.AddCommand(contingencyCmd())
	root.AddCommand(webhookCmd())
	root.AddCommand(tokenCmd())
	return root
}

// tenantFunc runs with the tenant database bound to ctx.
type tenantFunc func(ctx context.Context, a *app.App, tenantID string) error

// withTenant wires the application and binds the --tenant database.
func withTenant(cmd *cobra.Command, fn tenantFunc) error {
	tenantID, _ := cmd.Flags().GetString("tenant")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: "warn", Development: cfg.Development()})
	if err != nil {
		return err
	}
	ctx := logger.WithLogger(cmd.Context(), log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, release, err := a.TenantContext(ctx, tenantID)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, a, tenantID)
}
