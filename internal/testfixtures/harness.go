package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/conduit-ecg/annotator/internal/persistence"
	"github.com/conduit-ecg/annotator/internal/persistence/memory"
	"github.com/conduit-ecg/annotator/internal/persistence/sqlite"
	"github.com/conduit-ecg/annotator/internal/persistence/sqlite/migration"
)

// Harness exposes one storage backend through the repository interfaces.
type Harness struct {
	Name       string
	Segments   persistence.SegmentRepository
	Annotators persistence.AnnotatorRepository
	Audit      persistence.AuditRepository
	Tx         persistence.Transactor

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *Harness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens a migrated SQLite database in a temporary directory.
// Cleanup is registered with tb; calling Close early is allowed.
func NewSQLiteHarness(tb testing.TB) *Harness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "conduit.db")
	storage, err := sqlite.Open(context.Background(), migration.TempFileTestSQLiteConfig(path), nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &Harness{
		Name:       "sqlite",
		Segments:   storage,
		Annotators: storage,
		Audit:      storage,
		Tx:         storage,
		cleanup:    func() { _ = storage.Close() },
	}
	tb.Cleanup(harness.Close)
	return harness
}

// NewMemoryHarness returns a harness over the in-memory store. A nil clock
// uses wall time.
func NewMemoryHarness(tb testing.TB, clock *Clock) *Harness {
	tb.Helper()
	storage := memory.New(memory.WithClock(clock.NowFunc()))
	return &Harness{
		Name:       "memory",
		Segments:   storage,
		Annotators: storage,
		Audit:      storage,
		Tx:         storage,
	}
}

// Backends runs fn once per storage backend as a subtest.
func Backends(t *testing.T, fn func(t *testing.T, h *Harness)) {
	t.Helper()
	factories := []struct {
		name string
		open func(t *testing.T) *Harness
	}{
		{"memory", func(t *testing.T) *Harness { return NewMemoryHarness(t, nil) }},
		{"sqlite", func(t *testing.T) *Harness { return NewSQLiteHarness(t) }},
	}
	for _, factory := range factories {
		t.Run(factory.name, func(t *testing.T) {
			fn(t, factory.open(t))
		})
	}
}

// Seed stores the given segments and annotators, failing the test on error.
func (h *Harness) Seed(tb testing.TB, segments []persistence.Segment, annotators ...persistence.Annotator) {
	tb.Helper()
	ctx := context.Background()
	for _, segment := range segments {
		if err := h.Segments.CreateSegment(ctx, segment); err != nil {
			tb.Fatalf("seed segment %s: %v", segment.ID, err)
		}
	}
	for _, annotator := range annotators {
		if err := h.Annotators.CreateAnnotator(ctx, annotator); err != nil {
			tb.Fatalf("seed annotator %s: %v", annotator.Username, err)
		}
	}
}
