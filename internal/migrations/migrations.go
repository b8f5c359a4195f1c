// Package migrations holds the Postgres schema used by pgstore and the
// identity store.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// Migrations is the registry of schema changes. Each file registers one,
// named after its timestamp prefix.
var Migrations = migrate.NewMigrations()

// Up applies every pending migration to the database at dsn.
func Up(ctx context.Context, dsn string) error {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("migrations: init: %w", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrations: migrate: %w", err)
	}

	if group.IsZero() {
		slog.InfoContext(ctx, "migrations: nothing to apply")
		return nil
	}

	slog.InfoContext(ctx, "migrations: applied", "group", group.String())
	return nil
}
