// Package testutil provides shared infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	_ "github.com/lib/pq"
)

// PGTest connects to the database named by POSTGRES_URL, applies every
// migration's Up section, and returns the connection with a cleanup
// function that truncates all application tables:
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// Without POSTGRES_URL the test is skipped, which is how unit-only CI
// runs stay green.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	ctx := context.Background()
	if err := applyMigrations(ctx, db, locateMigrations(t)); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}

	return db, func() {
		truncateTables(ctx, db)
		_ = db.Close()
	}
}

// locateMigrations walks up from the test's working directory until it
// finds the repo-level migrations/ directory. Package tests run from
// their own directory, so the depth varies by package.
func locateMigrations(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("pgtest: getwd: %v", err)
	}
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("pgtest: no migrations/ directory above cwd")
		}
		dir = parent
	}
}

// applyMigrations executes each migration file's Up section in filename
// order. Paths come from locateMigrations, never from user input.
func applyMigrations(ctx context.Context, db *sql.DB, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, path := range files {
		data, err := os.ReadFile(path) // #nosec G304 -- path from trusted migrations dir
		if err != nil {
			return fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		if _, err := db.ExecContext(ctx, upSection(string(data))); err != nil {
			return fmt.Errorf("execute %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// upSection cuts the file at the goose Down marker so rollback statements
// never run during setup.
func upSection(sql string) string {
	if i := strings.Index(sql, "-- +goose Down"); i >= 0 {
		return sql[:i]
	}
	return sql
}

// truncateTables empties every public-schema table in one TRUNCATE so the
// next test starts clean. Best effort; a failure here only risks
// cross-test pollution, which the tests' unique IDs already guard
// against.
func truncateTables(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		  AND tablename NOT LIKE 'pg_%'
		  AND tablename NOT LIKE 'sql_%'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}
	if len(tables) == 0 {
		return
	}

	// Table names come from pg_tables, not user input.
	stmt := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE" // #nosec G202
	_, _ = db.ExecContext(ctx, stmt)                              // #nosec G104
}
