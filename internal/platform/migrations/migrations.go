// Package migrations embeds the NodeNexus schema and applies it against the
// embedded analytical store.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Apply executes every embedded migration file, in filename order, against
// db. It is a single-shot, un-versioned runner used at server startup when
// DatabaseConfig.MigrateOnStart is set; it assumes a fresh or
// already-consistent schema rather than tracking applied versions, which is
// sufficient for the embedded single-writer store this service owns.
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := files.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// NewMigrator builds a versioned golang-migrate instance over the same
// embedded filesystem, for callers that want explicit Up/Down/Steps control
// instead of the best-effort Apply used at normal startup. cmd/server does
// not call it; its "-migrate" flag only gates Apply.
func NewMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("build migration source: %w", err)
	}
	target, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("build migration target: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", target)
	if err != nil {
		return nil, fmt.Errorf("build migrator: %w", err)
	}
	return m, nil
}
