package index

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema of an open index database up to date.
//
// The migrate instance is not closed, because closing it would close db.
func Migrate(db *sql.DB) (err error) {
	srcDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("index: migrate failed to create iofs: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("index: migrate failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("index: migrate failed to create instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("index: migrate up failed: %w", err)
	}
	return nil
}

// LatestSchemaVersion is the version of the last embedded migration.
func LatestSchemaVersion() (version uint, err error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("index: migrate failed to create iofs: %w", err)
	}
	defer src.Close()
	if version, err = src.First(); err != nil {
		return 0, fmt.Errorf("index: no migrations: %w", err)
	}
	for {
		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, fmt.Errorf("index: failed to read migrations: %w", err)
		}
		version = next
	}
}

// SchemaVersion reads the migration version recorded in db without
// modifying it. A database that was never migrated returns an error.
func SchemaVersion(ctx context.Context, db *sql.DB) (version uint, dirty bool, err error) {
	var v int64
	err = db.QueryRowContext(ctx, `select version, dirty from schema_migrations limit 1`).Scan(&v, &dirty)
	if err != nil {
		return 0, false, fmt.Errorf("index: failed to read schema version: %w", err)
	}
	if v < 0 {
		return 0, dirty, fmt.Errorf("index: invalid schema version %d", v)
	}
	return uint(v), dirty, nil
}
