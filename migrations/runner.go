// Package migrations embeds and applies forward-only SQL migrations,
// recording each application in a checksummed, timed ledger (spec.md §4.1).
//
// Migrations live in sql/ as NNN_description.up.sql, with an optional
// paired NNN_description.down.sql for opt-in rollback. They are applied in
// lexical filename order, each inside its own transaction.
package migrations

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

// file is one discovered migration file.
type file struct {
	name string // e.g. "001_initial_schema.up.sql"
	sql  string
}

const bootstrapLedgerSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	filename     TEXT PRIMARY KEY,
	applied_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	success      BOOLEAN NOT NULL,
	execution_ms BIGINT NOT NULL,
	checksum     TEXT NOT NULL,
	error        TEXT
)`

// Up applies every *.up.sql migration not already recorded successful in
// schema_migrations, in lexical order. A migration whose checksum changed
// since it was last recorded successful still counts as applied — the
// ledger is a record of what ran, not a guard against drift — but the
// mismatch is logged since it usually indicates an edited, already-shipped
// migration file.
func Up(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, bootstrapLedgerSQL); err != nil {
		return fmt.Errorf("migrations.Up: bootstrap ledger: %w", err)
	}

	ups, err := loadFiles(".up.sql")
	if err != nil {
		return fmt.Errorf("migrations.Up: %w", err)
	}

	for _, f := range ups {
		applied, priorChecksum, err := isApplied(ctx, pool, f.name)
		if err != nil {
			return fmt.Errorf("migrations.Up: check %s: %w", f.name, err)
		}
		checksum := sha256sum(f.sql)
		if applied {
			if priorChecksum != checksum {
				slog.Warn("migrations: applied file's checksum has changed since it ran",
					"file", f.name)
			}
			continue
		}

		if err := applyOne(ctx, pool, f, checksum); err != nil {
			return fmt.Errorf("migrations.Up: %s: %w", f.name, err)
		}
		slog.Info("migrations: applied", "file", f.name)
	}

	return nil
}

// Down runs the paired down-migration for name (e.g. "001_initial_schema")
// and removes its ledger entry. It is never invoked automatically by Up.
func Down(ctx context.Context, pool *pgxpool.Pool, name string) error {
	downs, err := loadFiles(".down.sql")
	if err != nil {
		return fmt.Errorf("migrations.Down: %w", err)
	}

	var target *file
	for i := range downs {
		if strings.HasPrefix(downs[i].name, name) {
			target = &downs[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migrations.Down: no down migration found for %q", name)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("migrations.Down: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, target.sql); err != nil {
		return fmt.Errorf("migrations.Down: exec %s: %w", target.name, err)
	}

	upName := strings.Replace(target.name, ".down.sql", ".up.sql", 1)
	if _, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE filename = $1`, upName); err != nil {
		return fmt.Errorf("migrations.Down: clear ledger: %w", err)
	}

	return tx.Commit(ctx)
}

func applyOne(ctx context.Context, pool *pgxpool.Pool, f file, checksum string) error {
	start := time.Now()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	execErr := func() error {
		_, err := tx.Exec(ctx, f.sql)
		return err
	}()

	elapsed := time.Since(start).Milliseconds()

	if execErr != nil {
		// Record the failure on its own connection — the migration's
		// transaction is about to be rolled back.
		_, recErr := pool.Exec(ctx, `
			INSERT INTO schema_migrations (filename, success, execution_ms, checksum, error)
			VALUES ($1, false, $2, $3, $4)
			ON CONFLICT (filename) DO UPDATE SET
				applied_at = now(), success = false, execution_ms = $2, checksum = $3, error = $4`,
			f.name, elapsed, checksum, execErr.Error(),
		)
		if recErr != nil {
			slog.Error("migrations: failed to record failed migration", "file", f.name, "error", recErr)
		}
		return execErr
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO schema_migrations (filename, success, execution_ms, checksum, error)
		VALUES ($1, true, $2, $3, NULL)
		ON CONFLICT (filename) DO UPDATE SET
			applied_at = now(), success = true, execution_ms = $2, checksum = $3, error = NULL`,
		f.name, elapsed, checksum,
	); err != nil {
		return fmt.Errorf("record ledger: %w", err)
	}

	return tx.Commit(ctx)
}

func isApplied(ctx context.Context, pool *pgxpool.Pool, name string) (applied bool, checksum string, err error) {
	var success bool
	err = pool.QueryRow(ctx,
		`SELECT success, checksum FROM schema_migrations WHERE filename = $1`, name,
	).Scan(&success, &checksum)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return false, "", nil
		}
		return false, "", err
	}
	return success, checksum, nil
}

func loadFiles(suffix string) ([]file, error) {
	entries, err := fs.ReadDir(sqlFiles, "sql")
	if err != nil {
		return nil, fmt.Errorf("read sql dir: %w", err)
	}

	var files []file
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		raw, err := sqlFiles.ReadFile("sql/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		files = append(files, file{name: e.Name(), sql: string(raw)})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

func sha256sum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
