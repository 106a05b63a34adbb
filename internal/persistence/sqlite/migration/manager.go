package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

type migrationManager struct {
	scanner      FileScanner
	executor     Executor
	migrationDir string
	logger       *slog.Logger
}

// NewMigrationManager creates a new MigrationManager implementation
func NewMigrationManager(scanner FileScanner, executor Executor, migrationDir string, logger *slog.Logger) MigrationManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &migrationManager{
		scanner:      scanner,
		executor:     executor,
		migrationDir: migrationDir,
		logger:       logger.With(slog.String("component", "migration")),
	}
}

// RunMigrations executes all pending migrations in sequential order
func (m *migrationManager) RunMigrations(ctx context.Context) error {
	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.logger.InfoContext(ctx, "schema up to date")
		return nil
	}

	for i, migration := range pending {
		logger := m.logger.With(
			slog.String("version", migration.Version),
			slog.String("description", migration.Description),
		)
		logger.InfoContext(ctx, "applying migration", slog.Int("step", i+1), slog.Int("total", len(pending)))
		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			logger.ErrorContext(ctx, "migration failed", slog.Any("error", err))
			return fileError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %w", ErrMigrationFailed, err))
		}
	}

	m.logger.InfoContext(ctx, "migrations applied", slog.Int("count", len(pending)),
		slog.String("version", pending[len(pending)-1].Version))
	return nil
}

// GetPendingMigrations returns list of migrations that need to be applied
func (m *migrationManager) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	available, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return pendingOf(available, applied), nil
}

// GetMigrationStatus returns status information about migrations
func (m *migrationManager) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	available, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	pending := pendingOf(available, applied)
	status := &MigrationStatus{
		PendingCount:      len(pending),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}
	if len(applied) > 0 {
		status.CurrentVersion = applied[len(applied)-1].Version
	}
	return status, nil
}

func (m *migrationManager) load(ctx context.Context) ([]Migration, []AppliedMigration, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialize version table: %w", err)
	}
	available, err := m.scanner.ScanMigrations(m.migrationDir)
	if err != nil {
		return nil, nil, fmt.Errorf("scan migrations: %w", err)
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get applied versions: %w", err)
	}
	if err := validateSequence(available, applied); err != nil {
		return nil, nil, err
	}
	return available, applied, nil
}

// validateSequence requires a gapless version range and that every applied
// version still exists with an unchanged checksum.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	byVersion := make(map[int]Migration, len(available))
	for i, migration := range available {
		n := versionNumber(migration.Version)
		if n < 0 {
			return fileError(migration.Version, migration.FilePath, "validate sequence", ErrInvalidVersion)
		}
		if i > 0 && n != versionNumber(available[i-1].Version)+1 {
			return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, versionNumber(available[i-1].Version)+1)
		}
		byVersion[n] = migration
	}
	for _, done := range applied {
		migration, ok := byVersion[versionNumber(done.Version)]
		if !ok {
			return fmt.Errorf("%w: applied migration %s not found in available migrations", ErrVersionConflict, done.Version)
		}
		if done.Checksum != "" && migration.Checksum != done.Checksum {
			return fileError(done.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}

func pendingOf(available []Migration, applied []AppliedMigration) []Migration {
	done := make(map[int]bool, len(applied))
	for _, a := range applied {
		done[versionNumber(a.Version)] = true
	}
	var pending []Migration
	for _, migration := range available {
		if !done[versionNumber(migration.Version)] {
			pending = append(pending, migration)
		}
	}
	return pending
}

func sortApplied(applied []AppliedMigration) {
	sort.Slice(applied, func(i, j int) bool {
		return versionNumber(applied[i].Version) < versionNumber(applied[j].Version)
	})
}
