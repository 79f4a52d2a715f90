package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/homesync/internal/allowlist"
	"github.com/nerrad567/homesync/internal/infrastructure/config"
	"github.com/nerrad567/homesync/internal/infrastructure/database"
	"github.com/nerrad567/homesync/internal/infrastructure/logging"
)

func newAllowListCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Administer the allow-list",
		Long: `Administer the allow-list directly in the configured backend.
A running bridge picks up changes within allow_list.refresh_interval,
or immediately with the redis backend.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List allowed credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAllowList(cmd.Context(), opts, func(ctx context.Context, store allowlist.Store) error {
				members, err := store.Members(ctx)
				if err != nil {
					return err
				}
				return printMembers(cmd.OutOrStdout(), members)
			})
		},
	})

	var label string
	add := &cobra.Command{
		Use:   "add <credential>",
		Short: "Allow a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAllowList(cmd.Context(), opts, func(ctx context.Context, store allowlist.Store) error {
				if err := store.Add(ctx, args[0], label); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "allowed %s\n", args[0])
				return nil
			})
		},
	}
	add.Flags().StringVar(&label, "label", "", "free-text label, e.g. the holder's name")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <credential>",
		Short: "Revoke a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAllowList(cmd.Context(), opts, func(ctx context.Context, store allowlist.Store) error {
				if err := store.Remove(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

// withAllowList opens the configured backend for one administrative call.
func withAllowList(ctx context.Context, opts *rootOptions, fn func(context.Context, allowlist.Store) error) error {
	cfg, log, err := opts.load("allowlist")
	if err != nil {
		return err
	}

	var db *database.DB
	if cfg.AllowList.Backend == config.AllowListBackendSQLite {
		db, err = openDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeDatabase(db, log)
	}

	store, closeStore, err := openAllowList(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	return fn(ctx, store)
}

func closeDatabase(db *database.DB, log *logging.Logger) {
	if err := db.Close(); err != nil {
		log.Error("error closing database", "error", err)
	}
}

func printMembers(w io.Writer, members []allowlist.Member) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREDENTIAL\tLABEL\tADDED")
	for _, m := range members {
		added := "-"
		if !m.CreatedAt.IsZero() {
			added = m.CreatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Credential, m.Label, added)
	}
	return tw.Flush()
}
