package application_test

import (
	"testing"

	"github.com/conduit-ecg/annotator/internal/persistence/memory"
	"github.com/conduit-ecg/annotator/internal/testfixtures"
)

// faultyHarness exposes the memory storage behind a harness so tests can
// inject failures into single repository calls.
type faultyHarness struct {
	storage *memory.Storage
	harness *testfixtures.Harness
}

func newFaultyHarness(t *testing.T, factory *testfixtures.ServiceFactory) faultyHarness {
	t.Helper()
	storage := memory.New(memory.WithClock(factory.Clock.NowFunc()))
	return faultyHarness{
		storage: storage,
		harness: &testfixtures.Harness{
			Name:       "memory",
			Segments:   storage,
			Annotators: storage,
			Audit:      storage,
			Tx:         storage,
		},
	}
}
