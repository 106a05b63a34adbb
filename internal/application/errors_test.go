package application

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/conduit-ecg/annotator/internal/persistence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"limit": "must be positive", "after": "malformed"}}
	if got := withFields.Error(); got != "validation failed: after: malformed; limit: must be positive" {
		t.Fatalf("expected sorted field listing, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	if err := (&ValidationError{}).HasErrors(); err {
		t.Fatalf("expected HasErrors to report false for empty error")
	}

	if err := (&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors(); !err {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	if got := base.FieldErrors["first"]; got != "value" {
		t.Fatalf("expected add to populate map, got %q", got)
	}

	other := &ValidationError{FieldErrors: map[string]string{"second": "another"}}
	base.merge(other)
	if got := base.FieldErrors["second"]; got != "another" {
		t.Fatalf("expected merge to copy field, got %q", got)
	}

	base.merge(nil)
	if len(base.FieldErrors) != 2 {
		t.Fatalf("expected merge with nil to leave fields unchanged")
	}
}

func TestValidationErrorMatchesInvalidArgument(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("paginate: %w", invalidArgument("limit", "must be a positive integer"))
	if !errors.Is(wrapped, ErrInvalidArgument) {
		t.Fatalf("expected validation error to match ErrInvalidArgument")
	}
	if got := ErrorKind(wrapped); got != "invalid_argument" {
		t.Fatalf("expected invalid_argument kind, got %q", got)
	}
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		target error
		kind   string
	}{
		{"not found", persistence.ErrNotFound, ErrNotFound, "not_found"},
		{"no current campaign", persistence.ErrNoCurrentCampaign, ErrNotFound, "not_found"},
		{"duplicate", persistence.ErrDuplicate, ErrConflict, "conflict"},
		{"constraint", persistence.ErrConstraintViolation, ErrInvalidArgument, "invalid_argument"},
		{"transient", fmt.Errorf("%w: database is locked", persistence.ErrTransient), ErrTransientStore, "transient_store"},
		{"lost swap", persistence.ErrConcurrentUpdate, ErrTransientStore, "transient_store"},
		{"already translated", ErrUnauthorized, ErrUnauthorized, "unauthorized"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := translate(tc.err)
			if !errors.Is(got, tc.target) {
				t.Fatalf("expected %v to translate to %v, got %v", tc.err, tc.target, got)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("expected original error to stay in the chain")
			}
			if kind := ErrorKind(got); kind != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, kind)
			}
		})
	}

	if translate(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
	if got := ErrorKind(errors.New("boom")); got != "unexpected" {
		t.Fatalf("expected unexpected kind, got %q", got)
	}
}

func TestMessageHidesStorageDetail(t *testing.T) {
	t.Parallel()

	notFound := translate(fmt.Errorf("segments table: %w", persistence.ErrNotFound))
	if got := Message(notFound); got != "resource not found" {
		t.Fatalf("unexpected not found message %q", got)
	}
	conflict := translate(fmt.Errorf("UNIQUE constraint failed: annotators.username: %w", persistence.ErrDuplicate))
	if got := Message(conflict); strings.Contains(got, "UNIQUE") {
		t.Fatalf("conflict message leaked storage text: %q", got)
	}
	transient := translate(fmt.Errorf("%w: database is locked", persistence.ErrTransient))
	if got := Message(transient); !strings.Contains(got, "database is locked") {
		t.Fatalf("expected transient message to carry diagnostics, got %q", got)
	}
	if got := Message(invalidArgument("find", "search criteria always returns no results")); !strings.Contains(got, "search criteria") {
		t.Fatalf("expected field detail in validation message, got %q", got)
	}
}
