package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conduit-ecg/annotator/internal/application"
	"github.com/conduit-ecg/annotator/internal/persistence"
	"github.com/conduit-ecg/annotator/internal/persistence/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(op string) application.AuditEntry {
	return application.AuditEntry{
		Actor:      "admin",
		Operation:  op,
		Params:     map[string]any{"username": "bfoo"},
		Outcome:    "success",
		OccurredAt: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
	}
}

func TestRecorderPersistsEntries(t *testing.T) {
	t.Parallel()

	store := memory.New()
	recorder := NewRecorder(store, 8, WithLogger(quietLogger()))
	recorder.Record(context.Background(), entry("annotator.create"))
	recorder.Record(context.Background(), entry("campaign.assign"))
	require.NoError(t, recorder.Close(context.Background()))

	events, err := store.ListAuditEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "campaign.assign", events[0].Operation)
	require.Equal(t, "bfoo", events[1].Params["username"])
	require.False(t, events[0].ID.IsZero())

	written, dropped := recorder.Stats()
	require.EqualValues(t, 2, written)
	require.Zero(t, dropped)
}

// blockingStore holds every insert until release is closed.
type blockingStore struct {
	persistence.AuditRepository
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func (b *blockingStore) InsertAuditEvent(ctx context.Context, event persistence.AuditEvent) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.AuditRepository.InsertAuditEvent(ctx, event)
}

func TestRecorderDropsWhenQueueIsFull(t *testing.T) {
	t.Parallel()

	store := &blockingStore{AuditRepository: memory.New(), release: make(chan struct{}), started: make(chan struct{})}
	recorder := NewRecorder(store, 1, WithLogger(quietLogger()))

	recorder.Record(context.Background(), entry("first"))
	<-store.started
	recorder.Record(context.Background(), entry("queued"))

	done := make(chan struct{})
	go func() {
		recorder.Record(context.Background(), entry("dropped"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	close(store.release)
	require.NoError(t, recorder.Close(context.Background()))
	written, dropped := recorder.Stats()
	require.EqualValues(t, 2, written)
	require.EqualValues(t, 1, dropped)
}

type failingStore struct {
	persistence.AuditRepository
}

func (failingStore) InsertAuditEvent(context.Context, persistence.AuditEvent) error {
	return errors.New("disk full")
}

func TestRecorderSwallowsStoreFailures(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder(failingStore{}, 4, WithLogger(quietLogger()))
	recorder.Record(context.Background(), entry("annotation.submit"))
	require.NoError(t, recorder.Close(context.Background()))

	written, dropped := recorder.Stats()
	require.Zero(t, written)
	require.Zero(t, dropped)
}

func TestRecorderAfterClose(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder(memory.New(), 4, WithLogger(quietLogger()))
	require.NoError(t, recorder.Close(context.Background()))
	require.ErrorIs(t, recorder.Close(context.Background()), ErrClosed)

	recorder.Record(context.Background(), entry("late"))
	_, dropped := recorder.Stats()
	require.EqualValues(t, 1, dropped)
}

func TestRecorderSatisfiesAuditSink(t *testing.T) {
	t.Parallel()

	var sink application.AuditSink = NewRecorder(memory.New(), 1, WithLogger(quietLogger()))
	require.NotNil(t, sink)
	require.NoError(t, sink.(*Recorder).Close(context.Background()))
}
