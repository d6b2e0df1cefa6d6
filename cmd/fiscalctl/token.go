package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fiscalhub/internal/config"
	"fiscalhub/internal/domain/auth"
)

// tokenCmd mints an API token. Users live in the caller's identity provider,
// so this is how integrations get credentials.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed API token for a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			subject, _ := cmd.Flags().GetString("subject")
			email, _ := cmd.Flags().GetString("email")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
			if ttl > 0 {
				jwtCfg.AccessTokenTTL = ttl
			}
			token, expires, err := auth.NewJWTService(jwtCfg).GenerateAccessToken(subject, tenantID, email, roles)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().String("subject", "", "token subject, e.g. the integration name")
	cmd.Flags().String("email", "", "contact email")
	cmd.Flags().StringSlice("role", []string{auth.RoleOperator}, "role to grant (repeatable)")
	cmd.Flags().Duration("ttl", 0, "token lifetime (default 12h)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
