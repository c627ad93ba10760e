package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Migrate applies the embedded store layout. It creates a `schema_migrations`
// table to track applied versions and runs every `migrations/*.sql` file that
// has not been recorded yet, each inside its own transaction. Migration files
// only use CREATE ... IF NOT EXISTS, so bumping the layout never touches the
// data already held by existing collections.
func Migrate(ctx context.Context, d *DB, migrationFS fs.FS) error {
	// ensure migrations table exists
	if _, err := d.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	migDir := "migrations"

	entries, err := fs.ReadDir(migrationFS, migDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// collect .sql files and sort
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(strings.ToLower(name), ".sql") {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	for _, fname := range files {
		// use filename (without extension) as migration version key
		version := strings.TrimSuffix(fname, path.Ext(fname))

		var count int
		row := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("scan migration applied count: %w", err)
		}
		if count > 0 {
			continue
		}

		b, err := fs.ReadFile(migrationFS, path.Join(migDir, fname))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", fname, err)
		}

		err = d.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(b)); err != nil {
				return fmt.Errorf("exec migration %s: %w", fname, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied) VALUES (?, strftime('%s','now'))`, version); err != nil {
				return fmt.Errorf("record migration %s: %w", fname, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		d.logger.Debug("migration applied", "version", version)
	}

	return nil
}

// Version returns the most recently applied migration version, or "" when
// none has been applied.
func Version(ctx context.Context, d *DB) (string, error) {
	var v sql.NullString
	if err := d.QueryRow(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return "", fmt.Errorf("read schema version: %w", err)
	}
	return v.String, nil
}
