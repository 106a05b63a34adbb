package migration

import (
	"errors"
	"fmt"
)

var (
	ErrMigrationFailed      = errors.New("migration execution failed")
	ErrInvalidMigrationFile = errors.New("invalid migration file format")
	// ErrVersionConflict reports applied versions missing from the embedded set.
	ErrVersionConflict  = errors.New("migration version conflict")
	ErrInvalidVersion   = errors.New("invalid migration version")
	ErrDuplicateVersion = errors.New("duplicate migration version")
	// ErrChecksumMismatch reports an applied migration whose file was edited afterwards.
	ErrChecksumMismatch = errors.New("migration checksum mismatch")
)

// StepError records which step of which migration failed. Statement is set
// only for failures reported by the database.
type StepError struct {
	Version   string
	File      string
	Statement string
	Step      string
	Err       error
}

func (e *StepError) Error() string {
	switch {
	case e.Version != "" && e.File != "":
		return fmt.Sprintf("migration %s (%s): %s: %v", e.Version, e.File, e.Step, e.Err)
	case e.Version != "":
		return fmt.Sprintf("migration %s: %s: %v", e.Version, e.Step, e.Err)
	case e.File != "":
		return fmt.Sprintf("migration (%s): %s: %v", e.File, e.Step, e.Err)
	}
	return fmt.Sprintf("migration: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func fileError(version, file, step string, err error) *StepError {
	return &StepError{Version: version, File: file, Step: step, Err: err}
}

func databaseError(version, statement, step string, err error) *StepError {
	return &StepError{Version: version, Statement: statement, Step: step, Err: err}
}
