package migrations

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping migration integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return pool
}

func TestUp_CreatesAllTables(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	if err := Up(context.Background(), pool); err != nil {
		t.Fatalf("Up() error: %v", err)
	}

	ctx := context.Background()
	expectedTables := []string{
		"users", "product_universes", "user_universe_access", "documents",
		"document_chunks", "document_images", "conversations", "messages",
		"message_ratings", "thumbs_down_validations", "document_quality_scores",
		"chunk_quality_scores", "chunk_blacklist", "ingestion_jobs",
		"quality_audit_log", "schema_migrations",
	}

	for _, table := range expectedTables {
		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist after Up", table)
		}
	}
}

func TestUp_IsIdempotent(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	if err := Up(context.Background(), pool); err != nil {
		t.Fatalf("first Up() error: %v", err)
	}
	if err := Up(context.Background(), pool); err != nil {
		t.Fatalf("second Up() error: %v", err)
	}
}

func TestUp_RecordsLedgerEntry(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	if err := Up(context.Background(), pool); err != nil {
		t.Fatalf("Up() error: %v", err)
	}

	ctx := context.Background()
	var success bool
	var checksum string
	err := pool.QueryRow(ctx,
		`SELECT success, checksum FROM schema_migrations WHERE filename = $1`,
		"001_initial_schema.up.sql",
	).Scan(&success, &checksum)
	if err != nil {
		t.Fatalf("failed to read ledger entry: %v", err)
	}
	if !success {
		t.Error("expected success = true")
	}
	if checksum == "" {
		t.Error("expected non-empty checksum")
	}
}

func TestDownAndUpCycle(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	if err := Up(context.Background(), pool); err != nil {
		t.Fatalf("Up() error: %v", err)
	}
	if err := Down(context.Background(), pool, "001_initial_schema"); err != nil {
		t.Fatalf("Down() error: %v", err)
	}
	if err := Up(context.Background(), pool); err != nil {
		t.Fatalf("second Up() error: %v", err)
	}

	ctx := context.Background()
	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", "documents",
	).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table: %v", err)
	}
	if !exists {
		t.Error("table documents does not exist after down+up cycle")
	}
}

func TestVectorColumnExists(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	if err := Up(context.Background(), pool); err != nil {
		t.Fatalf("Up() error: %v", err)
	}

	ctx := context.Background()
	var dataType string
	err := pool.QueryRow(ctx, `
		SELECT udt_name FROM information_schema.columns
		WHERE table_name = 'document_chunks' AND column_name = 'embedding'
	`).Scan(&dataType)
	if err != nil {
		t.Fatalf("failed to check embedding column: %v", err)
	}
	if dataType != "vector" {
		t.Errorf("embedding column type = %q, want %q", dataType, "vector")
	}
}
