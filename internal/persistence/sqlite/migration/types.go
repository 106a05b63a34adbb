package migration

import (
	"context"
	"time"
)

// Migration is one versioned SQL file. Version is the numeric file prefix.
type Migration struct {
	Version     string
	Description string
	SQL         string
	FilePath    string
	Checksum    string // hex SHA-256 of SQL
}

// MigrationManager applies migrations in version order.
type MigrationManager interface {
	RunMigrations(ctx context.Context) error
	GetPendingMigrations(ctx context.Context) ([]Migration, error)
	GetMigrationStatus(ctx context.Context) (*MigrationStatus, error)
}

// FileScanner discovers migrations below a directory.
type FileScanner interface {
	ScanMigrations(dir string) ([]Migration, error)
	ValidateFileName(filename string) error
}

// Executor applies single migrations and reports what has been applied.
// ExecuteMigration runs the statements and records the version in one
// transaction.
type Executor interface {
	ExecuteMigration(ctx context.Context, migration Migration) error
	InitializeVersionTable(ctx context.Context) error
	GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}

// MigrationStatus summarises the schema of one database.
type MigrationStatus struct {
	CurrentVersion    string
	PendingCount      int
	AppliedMigrations []AppliedMigration
	PendingMigrations []Migration
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}
