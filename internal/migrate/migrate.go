// Package migrate applies the embedded Postgres schema.
package migrate

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"sort"

	"voice-campaigns/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// lockID is the advisory lock key shared by every migrating process.
const lockID = 4419023

// Migrate applies every pending migration in lexicographic order and records it
// in schema_migrations. Everything runs in one transaction holding a
// transaction-scoped advisory lock, so concurrent boots serialize and a failed
// file leaves no partial schema behind.
func Migrate(ctx context.Context, db utils.DB, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "migrate")

	names, err := Files()
	if err != nil {
		return err
	}

	return utils.WithTx(ctx, db, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
			return eris.Wrap(err, "migrate: acquire advisory lock")
		}
		if err := ensureMigrationTable(ctx, tx); err != nil {
			return err
		}
		applied, err := appliedMigrations(ctx, tx)
		if err != nil {
			return err
		}

		for _, name := range names {
			if applied[name] {
				continue
			}
			data, err := migrationFS.ReadFile("migrations/" + name)
			if err != nil {
				return eris.Wrapf(err, "migrate: read %s", name)
			}

			log.Info("applying migration", "file", name)
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return eris.Wrapf(err, "migrate: apply %s", name)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())",
				name,
			); err != nil {
				return eris.Wrapf(err, "migrate: record %s", name)
			}
		}
		return nil
	})
}

// Files lists the embedded migration filenames in apply order.
func Files() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "migrate: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func ensureMigrationTable(ctx context.Context, db pgx.Tx) error {
	const q = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    id         SERIAL PRIMARY KEY,
    filename   TEXT NOT NULL UNIQUE,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.Exec(ctx, q); err != nil {
		return eris.Wrap(err, "migrate: ensure schema_migrations")
	}
	return nil
}

func appliedMigrations(ctx context.Context, db pgx.Tx) (map[string]bool, error) {
	rows, err := db.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "migrate: query applied")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "migrate: scan applied")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
