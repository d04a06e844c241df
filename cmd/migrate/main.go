// Command migrate runs database migrations via goose.
//
// Usage:
//
//	go run ./cmd/migrate up          # apply all pending migrations
//	go run ./cmd/migrate down        # roll back the last migration
//	go run ./cmd/migrate status      # show migration status
//	go run ./cmd/migrate version     # show current schema version
//	go run ./cmd/migrate redo        # roll back and re-apply the last one
//
// DATABASE_URL names the target database; MIGRATIONS_DIR overrides the
// default migrations/ directory.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <command> [args]")
		fmt.Fprintln(os.Stderr, "commands: up, down, status, version, redo, up-to <v>, down-to <v>")
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	if err := goose.RunContext(context.Background(), command, db, dir, args...); err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}
