// Package migration applies versioned schema changes to a SQLite database.
//
// Migrations are read from an fs.FS (usually an embed.FS compiled into the
// binary) and must be named {version}_{description}.sql, for example
// "001_initial_schema.sql". Versions must form a gapless sequence. Each file
// runs in its own transaction and is recorded in the schema_migrations table
// so that it is applied exactly once.
//
// Example usage:
//
//	scanner := NewFileScanner(migrations.FS)
//	manager := NewMigrationManager(scanner, NewSQLiteExecutor(db), ".", logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
