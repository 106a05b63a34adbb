package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-ecg/annotator/internal/persistence"
)

var (
	// ErrInvalidArgument is returned for caller-fixable input problems.
	ErrInvalidArgument = errors.New("application: invalid argument")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrConflict is returned when a uniqueness rule would be broken.
	ErrConflict = errors.New("application: conflict")
	// ErrTransientStore is returned when storage is unavailable after retries.
	ErrTransientStore = errors.New("application: storage temporarily unavailable")
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrInvalidCredentials is returned when authentication fails.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + ": " + v.FieldErrors[field]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidArgument) match validation failures.
func (v *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func invalidArgument(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}

// translate maps storage sentinels onto the application taxonomy while
// keeping the original error in the chain.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrTransientStore), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return err
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, persistence.ErrNoCurrentCampaign):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, persistence.ErrConstraintViolation):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case persistence.IsRetryable(err):
		return fmt.Errorf("%w: %w", ErrTransientStore, err)
	}
	return err
}

// ErrorKind maps sentinel and validation errors to a stable machine-readable label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransientStore):
		return "transient_store"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	}
	return "unexpected"
}

// Message returns the client-facing description of err. Storage detail is
// only included for transient failures, which are operator facing.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Error()
	}
	switch ErrorKind(err) {
	case "invalid_argument":
		return "invalid argument"
	case "not_found":
		return "resource not found"
	case "conflict":
		return "resource already exists"
	case "transient_store":
		return err.Error()
	case "unauthorized":
		return "not permitted"
	case "invalid_credentials":
		return "incorrect username or password"
	}
	return "internal server error"
}
