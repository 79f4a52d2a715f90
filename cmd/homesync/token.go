package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/homesync/internal/api"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		role    string
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Long: `Mint an HS256 bearer token for the dashboard API, signed with
security.jwt.secret. Viewer tokens read state and control lights; admin
tokens also manage the allow-list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load("token")
			if err != nil {
				return err
			}
			if err := cfg.ValidateJWT(); err != nil {
				return err
			}
			r, err := api.ParseRole(role)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}

			token, err := api.MintToken(subject, r, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(api.RoleViewer), "token role: viewer or admin")
	cmd.Flags().StringVar(&subject, "subject", "dashboard", "token subject, recorded in API logs")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl minutes)")
	return cmd
}
