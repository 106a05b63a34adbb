package persistence

import (
	"context"

	"github.com/conduit-ecg/annotator/internal/ids"
)

// SegmentPageQuery selects a window of segments by identifier. At most one of
// Before and After is set; Limit is positive.
type SegmentPageQuery struct {
	Before *ids.ID
	After  *ids.ID
	Limit  int
}

// SegmentRepository stores segments and their embedded annotations.
type SegmentRepository interface {
	CreateSegment(ctx context.Context, segment Segment) error
	GetSegment(ctx context.Context, id ids.ID) (Segment, error)
	// ListSegmentsByIDs returns the matching segments in identifier order and
	// silently skips unknown identifiers.
	ListSegmentsByIDs(ctx context.Context, segmentIDs []ids.ID) ([]Segment, error)
	// PageSegments returns the window in ascending identifier order. A Before
	// query yields the records nearest to the cursor.
	PageSegments(ctx context.Context, query SegmentPageQuery) ([]Segment, error)
	// CountSegments counts all segments, or only those after since when set.
	CountSegments(ctx context.Context, since *ids.ID) (int, error)
	// SetAnnotation overwrites the annotation stored for annotator.
	SetAnnotation(ctx context.Context, segmentID ids.ID, annotator string, annotation Annotation) error
}

// AnnotatorRepository stores annotator accounts and their campaign state.
type AnnotatorRepository interface {
	CreateAnnotator(ctx context.Context, annotator Annotator) error
	GetAnnotatorByUsername(ctx context.Context, username string) (Annotator, error)
	ListAnnotators(ctx context.Context) ([]Annotator, error)
	UpdatePasswordHash(ctx context.Context, username, passwordHash string) error
	// RecordLastAnnotated points the current campaign at segmentID when the
	// segment belongs to it. It reports whether the pointer moved; a missing
	// annotator or campaign is not an error.
	RecordLastAnnotated(ctx context.Context, username string, segmentID ids.ID) (bool, error)
	// SwapCurrentCampaign archives the current campaign to the front of the
	// history and installs next, provided the stored version still equals
	// expectedVersion. It fails with ErrConcurrentUpdate otherwise.
	SwapCurrentCampaign(ctx context.Context, username string, expectedVersion int64, next Campaign) error
	// AppendToCurrentCampaign adds segmentID to the current campaign unless it
	// is already present. It fails with ErrNoCurrentCampaign when there is none.
	AppendToCurrentCampaign(ctx context.Context, username string, segmentID ids.ID) (bool, error)
}

// AuditRepository persists audit events.
type AuditRepository interface {
	InsertAuditEvent(ctx context.Context, event AuditEvent) error
	ListAuditEvents(ctx context.Context, limit int) ([]AuditEvent, error)
}

// Stores groups the repositories reachable inside one transaction.
type Stores struct {
	Segments   SegmentRepository
	Annotators AnnotatorRepository
}

// TxFunc runs inside a transaction. Returning an error discards every write it made.
type TxFunc func(ctx context.Context, stores Stores) error

// Transactor runs a function against repositories bound to a single atomic
// commit. Either every write of fn becomes visible or none does.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn TxFunc) error
}
