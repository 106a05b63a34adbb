package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/conduit-ecg/annotator/internal/persistence"
	"github.com/conduit-ecg/annotator/internal/persistence/sqlite/migration"
)

func TestErrorMapperMapsSentinels(t *testing.T) {
	mapper := NewErrorMapper()
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, persistence.ErrNotFound},
		{"deadline", context.DeadlineExceeded, persistence.ErrTransient},
		{"locked message", errors.New("database is locked (5) (SQLITE_BUSY)"), persistence.ErrTransient},
		{"unique message", errors.New("UNIQUE constraint failed: annotators.username"), persistence.ErrDuplicate},
		{"check message", errors.New("CHECK constraint failed: positive"), persistence.ErrConstraintViolation},
		{"already mapped", fmt.Errorf("wrapped: %w", persistence.ErrConcurrentUpdate), persistence.ErrConcurrentUpdate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapper.MapError(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if mapper.MapError(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
	if got := mapper.MapError(context.Canceled); got != context.Canceled {
		t.Fatalf("expected cancellation to pass through, got %v", got)
	}
	other := errors.New("syntax error")
	if got := mapper.MapError(other); got != other {
		t.Fatalf("expected unknown error unchanged, got %v", got)
	}
}

func TestErrorMapperUsesDriverCodes(t *testing.T) {
	ctx := context.Background()
	pool, err := NewConnectionPool(ctx, migration.InMemoryTestSQLiteConfig())
	if err != nil {
		t.Fatalf("NewConnectionPool failed: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if _, err := pool.DB().ExecContext(ctx, `CREATE TABLE things (id TEXT PRIMARY KEY, name TEXT UNIQUE, qty INTEGER CHECK (qty > 0))`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := pool.DB().ExecContext(ctx, `INSERT INTO things VALUES ('a', 'x', 1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = pool.DB().ExecContext(ctx, `INSERT INTO things VALUES ('a', 'y', 1)`)
	if !errors.Is(pool.mapper.MapError(err), persistence.ErrDuplicate) {
		t.Fatalf("expected primary key violation to map to ErrDuplicate, got %v", err)
	}
	_, err = pool.DB().ExecContext(ctx, `INSERT INTO things VALUES ('b', 'x', 1)`)
	if !errors.Is(pool.mapper.MapError(err), persistence.ErrDuplicate) {
		t.Fatalf("expected unique violation to map to ErrDuplicate, got %v", err)
	}
	_, err = pool.DB().ExecContext(ctx, `INSERT INTO things VALUES ('c', 'z', 0)`)
	if mapped := pool.mapper.MapError(err); !errors.Is(mapped, persistence.ErrConstraintViolation) {
		t.Fatalf("expected check violation to map to ErrConstraintViolation, got %v", mapped)
	}
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	pool, err := NewConnectionPool(ctx, migration.InMemoryTestSQLiteConfig())
	if err != nil {
		t.Fatalf("NewConnectionPool failed: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	if _, err := pool.DB().ExecContext(ctx, `CREATE TABLE counters (n INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	boom := errors.New("boom")
	err = pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO counters VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int
	if err := pool.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM counters`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, found %d rows", count)
	}
}

func TestStorageMigrationStatus(t *testing.T) {
	ctx := context.Background()
	storage, err := Open(ctx, migration.InMemoryTestSQLiteConfig(), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	if err := storage.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	status, err := storage.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != "001" || status.PendingCount != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
}
