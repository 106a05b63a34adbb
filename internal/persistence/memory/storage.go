// Package memory provides a map backed implementation of the persistence
// repositories. Transactions run against a private copy of the state that
// replaces the shared state only on success.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

type state struct {
	segments   map[ids.ID]persistence.Segment
	annotators map[string]persistence.Annotator
	audit      []persistence.AuditEvent
}

func newState() *state {
	return &state{
		segments:   make(map[ids.ID]persistence.Segment),
		annotators: make(map[string]persistence.Annotator),
	}
}

func (st *state) clone() *state {
	out := &state{
		segments:   make(map[ids.ID]persistence.Segment, len(st.segments)),
		annotators: make(map[string]persistence.Annotator, len(st.annotators)),
		audit:      append([]persistence.AuditEvent(nil), st.audit...),
	}
	for id, segment := range st.segments {
		out.segments[id] = persistence.CloneSegment(segment)
	}
	for username, annotator := range st.annotators {
		out.annotators[username] = persistence.CloneAnnotator(annotator)
	}
	return out
}

// Storage is an in-memory persistence layer implementation.
type Storage struct {
	mu     sync.RWMutex
	state  *state
	now    func() time.Time
	faults *faults
}

// Option configures a Storage.
type Option func(*Storage)

// WithClock overrides the time source used for stored timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty Storage.
func New(opts ...Option) *Storage {
	s := &Storage{
		state:  newState(),
		now:    func() time.Time { return time.Now().UTC() },
		faults: &faults{byOp: make(map[string]error)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// FailNext makes the next call of the named repository method return err.
// Method names match the repository interfaces, e.g. "RecordLastAnnotated".
func (s *Storage) FailNext(method string, err error) {
	s.faults.set(method, err)
}

// WithinTransaction implements persistence.Transactor. Writers are serialised.
func (s *Storage) WithinTransaction(ctx context.Context, fn persistence.TxFunc) error {
	if fn == nil {
		return fmt.Errorf("memory: nil transaction function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.state.clone()
	r := &repo{st: working, now: s.now, faults: s.faults}
	if err := fn(ctx, persistence.Stores{Segments: r, Annotators: r}); err != nil {
		return err
	}
	// A caller that gave up mid-flight must not observe a commit.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Storage) read(fn func(r *repo) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&repo{st: s.state, now: s.now, faults: s.faults})
}

func (s *Storage) write(fn func(r *repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repo{st: s.state, now: s.now, faults: s.faults})
}

// --- SegmentRepository implementation ---

// CreateSegment stores a new segment.
func (s *Storage) CreateSegment(ctx context.Context, segment persistence.Segment) error {
	return s.write(func(r *repo) error { return r.CreateSegment(ctx, segment) })
}

// GetSegment retrieves a segment by ID.
func (s *Storage) GetSegment(ctx context.Context, id ids.ID) (out persistence.Segment, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.GetSegment(ctx, id)
		return err
	})
	return out, err
}

// ListSegmentsByIDs returns the known segments among segmentIDs.
func (s *Storage) ListSegmentsByIDs(ctx context.Context, segmentIDs []ids.ID) (out []persistence.Segment, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.ListSegmentsByIDs(ctx, segmentIDs)
		return err
	})
	return out, err
}

// PageSegments returns one cursor page of segments.
func (s *Storage) PageSegments(ctx context.Context, query persistence.SegmentPageQuery) (out []persistence.Segment, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.PageSegments(ctx, query)
		return err
	})
	return out, err
}

// CountSegments counts stored segments.
func (s *Storage) CountSegments(ctx context.Context, since *ids.ID) (out int, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.CountSegments(ctx, since)
		return err
	})
	return out, err
}

// SetAnnotation overwrites one annotator's annotation on a segment.
func (s *Storage) SetAnnotation(ctx context.Context, segmentID ids.ID, annotator string, annotation persistence.Annotation) error {
	return s.write(func(r *repo) error { return r.SetAnnotation(ctx, segmentID, annotator, annotation) })
}

// --- AnnotatorRepository implementation ---

// CreateAnnotator stores a new annotator.
func (s *Storage) CreateAnnotator(ctx context.Context, annotator persistence.Annotator) error {
	return s.write(func(r *repo) error { return r.CreateAnnotator(ctx, annotator) })
}

// GetAnnotatorByUsername retrieves an annotator by username.
func (s *Storage) GetAnnotatorByUsername(ctx context.Context, username string) (out persistence.Annotator, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.GetAnnotatorByUsername(ctx, username)
		return err
	})
	return out, err
}

// ListAnnotators returns all annotators ordered by creation time.
func (s *Storage) ListAnnotators(ctx context.Context) (out []persistence.Annotator, err error) {
	err = s.read(func(r *repo) error {
		out, err = r.ListAnnotators(ctx)
		return err
	})
	return out, err
}

// UpdatePasswordHash replaces an annotator's credential hash.
func (s *Storage) UpdatePasswordHash(ctx context.Context, username, passwordHash string) error {
	return s.write(func(r *repo) error { return r.UpdatePasswordHash(ctx, username, passwordHash) })
}

// RecordLastAnnotated moves the current campaign pointer.
func (s *Storage) RecordLastAnnotated(ctx context.Context, username string, segmentID ids.ID) (moved bool, err error) {
	err = s.write(func(r *repo) error {
		moved, err = r.RecordLastAnnotated(ctx, username, segmentID)
		return err
	})
	return moved, err
}

// SwapCurrentCampaign archives the current campaign and installs next.
func (s *Storage) SwapCurrentCampaign(ctx context.Context, username string, expectedVersion int64, next persistence.Campaign) error {
	return s.write(func(r *repo) error { return r.SwapCurrentCampaign(ctx, username, expectedVersion, next) })
}

// AppendToCurrentCampaign adds a segment to the current campaign.
func (s *Storage) AppendToCurrentCampaign(ctx context.Context, username string, segmentID ids.ID) (added bool, err error) {
	err = s.write(func(r *repo) error {
		added, err = r.AppendToCurrentCampaign(ctx, username, segmentID)
		return err
	})
	return added, err
}

// --- AuditRepository implementation ---

// InsertAuditEvent appends an audit event.
func (s *Storage) InsertAuditEvent(ctx context.Context, event persistence.AuditEvent) error {
	return s.write(func(r *repo) error {
		if err := r.faults.take("InsertAuditEvent"); err != nil {
			return err
		}
		r.st.audit = append(r.st.audit, event)
		return nil
	})
}

// ListAuditEvents returns the most recent events first.
func (s *Storage) ListAuditEvents(ctx context.Context, limit int) ([]persistence.AuditEvent, error) {
	var out []persistence.AuditEvent
	err := s.read(func(r *repo) error {
		for i := len(r.st.audit) - 1; i >= 0; i-- {
			if limit > 0 && len(out) == limit {
				break
			}
			out = append(out, r.st.audit[i])
		}
		return nil
	})
	return out, err
}

// --- Helpers ---

func sortedSegmentIDs(segments map[ids.ID]persistence.Segment) []ids.ID {
	out := make([]ids.ID, 0, len(segments))
	for id := range segments {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type faults struct {
	mu   sync.Mutex
	byOp map[string]error
}

func (f *faults) set(op string, err error) {
	f.mu.Lock()
	f.byOp[op] = err
	f.mu.Unlock()
}

func (f *faults) take(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err, ok := f.byOp[op]
	if !ok {
		return nil
	}
	delete(f.byOp, op)
	return err
}
