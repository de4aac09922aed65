//go:build integration

package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Run with: go test -tags=integration -timeout 120s ./cmd/migrator/...
func TestMigrationsAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("guardpost"),
		postgres.WithUsername("guardpost"),
		postgres.WithPassword("guardpost"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	// Apply the real schema files shipped with the repo.
	dir := filepath.Join("..", "..", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations dir: %v", err)
	}

	if err := runMigrations(ctx, pool, dir, nil, nil, t.Logf); err != nil {
		t.Fatalf("runMigrations: %v", err)
	}

	for _, table := range []string{
		"leads", "sales_reps",
		"applications", "application_stage_moves",
		"contracts", "shifts",
		"experiments", "experiment_assignments",
		"audit_records", "subject_restrictions", "notifications", "calendar_accounts",
	} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)`, table).Scan(&exists)
		if err != nil || !exists {
			t.Fatalf("table %s missing after migration: exists=%v err=%v", table, exists, err)
		}
	}

	// Second run is a no-op because every file is recorded.
	if err := runMigrations(ctx, pool, dir, nil, nil, t.Logf); err != nil {
		t.Fatalf("second runMigrations: %v", err)
	}
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 recorded migrations, got %d", count)
	}
}
