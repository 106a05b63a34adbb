// Package sqlite implements the persistence repositories on SQLite through
// the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/conduit-ecg/annotator/internal/persistence"
	"github.com/conduit-ecg/annotator/internal/persistence/sqlite/migration"
	"github.com/conduit-ecg/annotator/internal/persistence/sqlite/migrations"
)

// Storage bundles the SQLite repositories over one connection pool.
type Storage struct {
	*SegmentRepository
	*AnnotatorRepository
	*AuditRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

var (
	_ persistence.SegmentRepository   = (*Storage)(nil)
	_ persistence.AnnotatorRepository = (*Storage)(nil)
	_ persistence.AuditRepository     = (*Storage)(nil)
	_ persistence.Transactor          = (*Storage)(nil)
)

// Open connects to the database described by cfg. Call Migrate before use.
func Open(ctx context.Context, cfg migration.SQLiteConfig, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := NewConnectionPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Storage{
		SegmentRepository:   NewSegmentRepository(pool),
		AnnotatorRepository: NewAnnotatorRepository(pool),
		AuditRepository:     NewAuditRepository(pool),
		pool:                pool,
		logger:              logger,
	}, nil
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies every pending embedded schema migration.
func (s *Storage) Migrate(ctx context.Context) error {
	manager := s.migrationManager()
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// MigrationStatus reports applied and pending schema migrations.
func (s *Storage) MigrationStatus(ctx context.Context) (*migration.MigrationStatus, error) {
	return s.migrationManager().GetMigrationStatus(ctx)
}

func (s *Storage) migrationManager() migration.MigrationManager {
	return migration.NewMigrationManager(
		migration.NewFileScanner(migrations.FS),
		migration.NewSQLiteExecutor(s.pool.DB()),
		".",
		s.logger,
	)
}

// WithinTransaction implements persistence.Transactor. The repositories handed
// to fn share one database transaction.
func (s *Storage) WithinTransaction(ctx context.Context, fn persistence.TxFunc) error {
	if fn == nil {
		return fmt.Errorf("sqlite: nil transaction function")
	}
	return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(ctx, persistence.Stores{
			Segments:   s.SegmentRepository.withQuerier(tx),
			Annotators: s.AnnotatorRepository.withTx(tx),
		})
	})
}
