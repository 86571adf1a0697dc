// Package migrate applies the embedded SQL schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run applies all SQL migrations embedded in this package. It is safe to call multiple times.
func Run(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		if applyErr := applyMigration(ctx, db, f); applyErr != nil {
			return applyErr
		}
	}
	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`
	if err := db.QueryRowContext(ctx, query, version).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}

func applyMigration(ctx context.Context, db *sql.DB, file string) error {
	version := strings.TrimSuffix(file, ".sql")

	applied, err := migrationApplied(ctx, db, version)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	sqlBytes, err := migrationsFS.ReadFile("migrations/" + file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	logger := slog.Default().With("component", "migrations")
	logger.InfoContext(ctx, "applying migration", "version", version)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			logger.ErrorContext(ctx, "failed to rollback transaction", "err", rollbackErr, "migration_file", file)
		}
	}()

	if _, execErr := tx.ExecContext(ctx, string(sqlBytes)); execErr != nil {
		return fmt.Errorf("exec migration %s: %w", file, execErr)
	}
	if _, insertErr := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); insertErr != nil {
		return fmt.Errorf("record migration %s: %w", file, insertErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit migration %s: %w", file, commitErr)
	}

	return nil
}
