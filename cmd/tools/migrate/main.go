// Command migrate applies the embedded Postgres migrations of the media
// service.
//
//	migrate [-postgres-dsn DSN] up|down|status|version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"learnhub-media/internal/storage"
)

type migrateFunc func(ctx context.Context, dsn string, command storage.MigrationCommand) error

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := run(os.Args[1:], os.Getenv, os.Stderr, logger, storage.MigrateDSN); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, stderr io.Writer, logger *slog.Logger, migrate migrateFunc) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	postgresDSN := fs.String("postgres-dsn", "", "Postgres connection string")
	timeout := fs.Duration("timeout", 5*time.Minute, "deadline for the whole migration run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one command (up, down, status, version), got %d", fs.NArg())
	}
	command, err := storage.ParseMigrationCommand(fs.Arg(0))
	if err != nil {
		return err
	}

	dsn := resolveDSN(*postgresDSN, getenv)
	if dsn == "" {
		return errors.New("postgres DSN required: set -postgres-dsn, LEARNHUB_MEDIA_POSTGRES_DSN, or DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	started := time.Now()
	if err := migrate(ctx, dsn, command); err != nil {
		return err
	}
	logger.Info("migration completed", "command", string(command), "elapsed", time.Since(started).String())
	return nil
}

func resolveDSN(flagValue string, getenv func(string) string) string {
	for _, candidate := range []string{flagValue, getenv("LEARNHUB_MEDIA_POSTGRES_DSN"), getenv("DATABASE_URL")} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
