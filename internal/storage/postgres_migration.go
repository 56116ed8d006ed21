package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationDir = "migrations"

// MigrationCommand names a goose operation supported by Migrate.
type MigrationCommand string

const (
	MigrateUp      MigrationCommand = "up"
	MigrateDown    MigrationCommand = "down"
	MigrateStatus  MigrationCommand = "status"
	MigrateVersion MigrationCommand = "version"
)

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// ParseMigrationCommand validates a command-line migration verb.
func ParseMigrationCommand(value string) (MigrationCommand, error) {
	switch cmd := MigrationCommand(strings.ToLower(strings.TrimSpace(value))); cmd {
	case MigrateUp, MigrateDown, MigrateStatus, MigrateVersion:
		return cmd, nil
	default:
		return "", fmt.Errorf("unsupported migration command %q", value)
	}
}

// Migrate applies command against db using the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB, command MigrationCommand) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	var err error
	switch command {
	case MigrateUp:
		err = goose.UpContext(ctx, db, migrationDir)
		if errors.Is(err, goose.ErrNoNextVersion) {
			err = nil
		}
	case MigrateDown:
		err = goose.DownContext(ctx, db, migrationDir)
	case MigrateStatus:
		err = goose.StatusContext(ctx, db, migrationDir)
	case MigrateVersion:
		err = goose.VersionContext(ctx, db, migrationDir)
	default:
		return fmt.Errorf("unsupported migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}
	return nil
}

// MigrateDSN opens a short-lived pool for dsn and runs command against it.
func MigrateDSN(ctx context.Context, dsn string, command MigrationCommand) error {
	if strings.TrimSpace(dsn) == "" {
		return fmt.Errorf("postgres dsn required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()
	return migratePool(ctx, pool, command)
}

func migratePool(ctx context.Context, pool *pgxpool.Pool, command MigrationCommand) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return Migrate(ctx, db, command)
}
