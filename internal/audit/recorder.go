// Package audit persists the audit trail of mutating calls off the request
// path. Entries travel through a bounded queue to a single writer; when the
// queue is full the entry is dropped and a warning is logged.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conduit-ecg/annotator/internal/application"
	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

const defaultBuffer = 256

// ErrClosed is returned by Close when the recorder was already closed.
var ErrClosed = errors.New("audit: recorder closed")

// Recorder implements application.AuditSink on top of an AuditRepository.
type Recorder struct {
	store       persistence.AuditRepository
	idGenerator ids.Generator
	logger      *slog.Logger
	timeout     time.Duration

	queue   chan application.AuditEntry
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used for dropped and failed entries.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIDGenerator overrides the identifier source of stored events.
func WithIDGenerator(generator ids.Generator) Option {
	return func(r *Recorder) {
		if generator != nil {
			r.idGenerator = generator
		}
	}
}

// WithWriteTimeout bounds each insert.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(r *Recorder) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewRecorder starts a recorder with room for buffer pending entries.
func NewRecorder(store persistence.AuditRepository, buffer int, opts ...Option) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	r := &Recorder{
		store:       store,
		idGenerator: ids.New,
		logger:      slog.Default(),
		timeout:     5 * time.Second,
		queue:       make(chan application.AuditEntry, buffer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Record enqueues entry without blocking. It never fails the caller.
func (r *Recorder) Record(ctx context.Context, entry application.AuditEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(ctx, entry, "recorder closed")
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.drop(ctx, entry, "queue full")
	}
}

func (r *Recorder) drop(ctx context.Context, entry application.AuditEntry, reason string) {
	r.dropped.Add(1)
	r.logger.WarnContext(ctx, "audit entry dropped",
		"reason", reason,
		"operation", entry.Operation,
		"actor", entry.Actor,
	)
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *Recorder) write(entry application.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	id, err := r.idGenerator()
	if err == nil {
		err = r.store.InsertAuditEvent(ctx, persistence.AuditEvent{
			ID:         id,
			Actor:      entry.Actor,
			Operation:  entry.Operation,
			Params:     entry.Params,
			Outcome:    entry.Outcome,
			OccurredAt: entry.OccurredAt.UTC(),
		})
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "audit entry not stored",
			"error", err,
			"operation", entry.Operation,
			"actor", entry.Actor,
		)
		return
	}
	r.written.Add(1)
}

// Close stops accepting entries and waits until queued entries are written
// or ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports how many entries were written and dropped so far.
func (r *Recorder) Stats() (written, dropped int64) {
	return r.written.Load(), r.dropped.Load()
}
