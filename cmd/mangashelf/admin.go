package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/catalog"
)

func newFlushCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Remove every upload session with its staged blobs and workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, _, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			report, err := app.Uploads.Flush(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions, %d blobs, %d workspaces\n",
				report.Sessions, report.Blobs, report.Workspaces)
			return nil
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.Migrate(cmd.Context()); err != nil {
				return err
			}
			dbType, _, _ := cfg.Database()
			logger.Info("Migrations applied", "database", dbType)
			return nil
		},
	}
}

func newCreateAdminCmd(opts *rootOptions) *cobra.Command {
	var in catalog.NewUserInput
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				return errors.New("--password is required")
			}
			ctx := cmd.Context()
			app, _, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			in.Role = mangashelf.RoleAdmin
			u, err := app.Catalog.BootstrapUser(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Username, "username", "admin", "account name")
	cmd.Flags().StringVar(&in.Password, "password", "", "account password")
	cmd.Flags().StringVar(&in.Email, "email", "", "contact email")
	return cmd
}
