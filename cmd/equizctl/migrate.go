package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/victornm/quizxp/internal/migrations"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				if cfg.Postgres.Store.Addr == "" {
					return fmt.Errorf("postgres.store.addr not configured")
				}
				dsn = cfg.Postgres.Store.DSN()
			}

			if err := migrations.Up(cmd.Context(), dsn); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN, defaults to postgres.store from the config")
	return cmd
}
