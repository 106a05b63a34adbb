package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

// PageLimits bounds the page size of segment listings.
type PageLimits struct {
	Default int
	Max     int
}

// DefaultPageLimits returns the page sizes used when none are configured.
func DefaultPageLimits() PageLimits {
	return PageLimits{Default: 10, Max: 500}
}

// SegmentService exposes segment reads, cursor pagination and creation.
type SegmentService struct {
	segments    persistence.SegmentRepository
	tx          persistence.Transactor
	idGenerator ids.Generator
	now         func() time.Time
	limits      PageLimits
	audit       AuditSink
	logger      *slog.Logger
}

// NewSegmentService wires dependencies for the segment service.
func NewSegmentService(segments persistence.SegmentRepository, tx persistence.Transactor, idGenerator ids.Generator, now func() time.Time, limits PageLimits, audit AuditSink) *SegmentService {
	return NewSegmentServiceWithLogger(segments, tx, idGenerator, now, limits, audit, nil)
}

// NewSegmentServiceWithLogger wires dependencies for the segment service with a specific logger.
func NewSegmentServiceWithLogger(segments persistence.SegmentRepository, tx persistence.Transactor, idGenerator ids.Generator, now func() time.Time, limits PageLimits, audit AuditSink, logger *slog.Logger) *SegmentService {
	if idGenerator == nil {
		idGenerator = ids.New
	}
	if now == nil {
		now = time.Now
	}
	defaults := DefaultPageLimits()
	if limits.Default <= 0 {
		limits.Default = defaults.Default
	}
	if limits.Max <= 0 {
		limits.Max = defaults.Max
	}
	if limits.Default > limits.Max {
		limits.Default = limits.Max
	}
	return &SegmentService{
		segments:    segments,
		tx:          tx,
		idGenerator: idGenerator,
		now:         now,
		limits:      limits,
		audit:       defaultAudit(audit),
		logger:      defaultLogger(logger),
	}
}

func (s *SegmentService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SegmentService", operation, attrs...)
}

// Paginate returns one page of segments in ascending identifier order.
func (s *SegmentService) Paginate(ctx context.Context, req PageRequest) (segments []Segment, err error) {
	if s == nil {
		return nil, fmt.Errorf("SegmentService is nil")
	}

	logger := s.loggerWith(ctx, "Paginate", "before", req.Before, "after", req.After)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "segment page failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "segment page served", "count", len(segments))
	}()

	var query persistence.SegmentPageQuery
	query, err = s.pageQuery(req)
	if err != nil {
		return nil, err
	}

	var records []persistence.Segment
	records, err = s.segments.PageSegments(ctx, query)
	if err != nil {
		err = translate(err)
		return nil, err
	}
	return segmentsFromRecords(records), nil
}

func (s *SegmentService) pageQuery(req PageRequest) (persistence.SegmentPageQuery, error) {
	vErr := &ValidationError{}
	before := strings.TrimSpace(req.Before)
	after := strings.TrimSpace(req.After)
	if before != "" && after != "" {
		vErr.add("cursor", "before and after cannot be combined")
	}

	query := persistence.SegmentPageQuery{Limit: s.limits.Default}
	if before != "" {
		id, err := ids.Parse(before)
		if err != nil {
			vErr.add("before", "must be a segment identifier")
		} else {
			query.Before = &id
		}
	}
	if after != "" {
		id, err := ids.Parse(after)
		if err != nil {
			vErr.add("after", "must be a segment identifier")
		} else {
			query.After = &id
		}
	}
	if req.Limit != nil {
		switch limit := *req.Limit; {
		case limit <= 0:
			vErr.add("limit", "must be a positive integer")
		case limit > s.limits.Max:
			query.Limit = s.limits.Max
		default:
			query.Limit = limit
		}
	}

	if vErr.HasErrors() {
		return persistence.SegmentPageQuery{}, vErr
	}
	return query, nil
}

// Get returns the segment with the given identifier.
func (s *SegmentService) Get(ctx context.Context, id string) (Segment, error) {
	if s == nil {
		return Segment{}, fmt.Errorf("SegmentService is nil")
	}
	segmentID, err := ids.Parse(id)
	if err != nil {
		return Segment{}, invalidArgument("segment_id", "must be a segment identifier")
	}
	record, err := s.segments.GetSegment(ctx, segmentID)
	if err != nil {
		return Segment{}, translate(err)
	}
	return segmentFromRecord(record), nil
}

// Detail returns the signals of a segment together with annotator's
// annotation, which is nil when the annotator has not labelled it yet.
func (s *SegmentService) Detail(ctx context.Context, id, annotator string) (SegmentDetail, error) {
	segment, err := s.Get(ctx, id)
	if err != nil {
		return SegmentDetail{}, err
	}
	detail := SegmentDetail{Signals: segment.Signals}
	if annotation, ok := segment.Annotations[strings.TrimSpace(annotator)]; ok {
		detail.Annotation = &annotation
	}
	return detail, nil
}

// ListByIDs returns the known segments among segmentIDs in identifier order.
// Unknown identifiers are skipped.
func (s *SegmentService) ListByIDs(ctx context.Context, segmentIDs []string) ([]Segment, error) {
	if s == nil {
		return nil, fmt.Errorf("SegmentService is nil")
	}
	values := make([]string, 0, len(segmentIDs))
	for _, value := range segmentIDs {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return nil, invalidArgument("find", "search criteria always returns no results")
	}
	parsed, err := ids.ParseAll(values)
	if err != nil {
		return nil, invalidArgument("find", "must contain segment identifiers")
	}
	records, err := s.segments.ListSegmentsByIDs(ctx, ids.Unique(parsed))
	if err != nil {
		return nil, translate(err)
	}
	return segmentsFromRecords(records), nil
}

// Count returns the number of segments after since together with the total.
// An empty since counts everything.
func (s *SegmentService) Count(ctx context.Context, since string) (SegmentCount, error) {
	if s == nil {
		return SegmentCount{}, fmt.Errorf("SegmentService is nil")
	}
	var cursor *ids.ID
	if trimmed := strings.TrimSpace(since); trimmed != "" {
		id, err := ids.Parse(trimmed)
		if err != nil {
			return SegmentCount{}, invalidArgument("start", "must be a segment identifier")
		}
		cursor = &id
	}

	total, err := s.segments.CountSegments(ctx, nil)
	if err != nil {
		return SegmentCount{}, translate(err)
	}
	count := SegmentCount{Since: total, Total: total}
	if cursor != nil {
		if count.Since, err = s.segments.CountSegments(ctx, cursor); err != nil {
			return SegmentCount{}, translate(err)
		}
	}
	return count, nil
}

// Create validates and stores a segment. A fresh identifier is assigned
// unless the input carries one; an explicit identifier that is already taken
// fails with ErrConflict.
func (s *SegmentService) Create(ctx context.Context, principal Principal, input SegmentInput) (segment Segment, err error) {
	if s == nil {
		return Segment{}, fmt.Errorf("SegmentService is nil")
	}

	logger := s.loggerWith(ctx, "Create", "principal", principal.Username)
	defer func() {
		emitAudit(ctx, s.audit, s.now, principal.Username, "segment.create", map[string]any{"case_id": input.CaseID}, err)
		if err != nil {
			logger.ErrorContext(ctx, "segment creation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("segment_id", segment.ID.String()).InfoContext(ctx, "segment created")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	var record persistence.Segment
	record, err = s.buildSegment(input)
	if err != nil {
		return
	}
	if err = s.segments.CreateSegment(ctx, record); err != nil {
		err = translate(err)
		return
	}
	return segmentFromRecord(record), nil
}

// CreateBatch stores every input in one transaction; either all segments
// become visible or none do.
func (s *SegmentService) CreateBatch(ctx context.Context, principal Principal, inputs []SegmentInput) (created []Segment, err error) {
	if s == nil {
		return nil, fmt.Errorf("SegmentService is nil")
	}

	logger := s.loggerWith(ctx, "CreateBatch", "principal", principal.Username, "requested", len(inputs))
	defer func() {
		emitAudit(ctx, s.audit, s.now, principal.Username, "segment.create_batch", map[string]any{"count": len(inputs)}, err)
		if err != nil {
			logger.ErrorContext(ctx, "segment batch failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("created", len(created)).InfoContext(ctx, "segment batch created")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	if s.tx == nil {
		err = fmt.Errorf("transactor not configured")
		return
	}

	records := make([]persistence.Segment, len(inputs))
	vErr := &ValidationError{}
	for i, input := range inputs {
		record, buildErr := s.buildSegment(input)
		if buildErr != nil {
			vErr.add(fmt.Sprintf("segments[%d]", i), buildErr.Error())
			continue
		}
		records[i] = record
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, stores persistence.Stores) error {
		for _, record := range records {
			if err := stores.Segments.CreateSegment(ctx, record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = translate(err)
		return
	}
	return segmentsFromRecords(records), nil
}

func (s *SegmentService) buildSegment(input SegmentInput) (persistence.Segment, error) {
	vErr := &ValidationError{}
	if input.StartIdx < 0 {
		vErr.add("start_idx", "must not be negative")
	}
	if input.StopIdx < input.StartIdx {
		vErr.add("stop_idx", "must not precede start_idx")
	}
	if len(input.Signals) == 0 {
		vErr.add("signals", "at least one channel is required")
	}
	if input.ID != nil && input.ID.IsZero() {
		vErr.add("id", "must not be the nil identifier")
	}
	if vErr.HasErrors() {
		return persistence.Segment{}, vErr
	}

	var id ids.ID
	if input.ID != nil {
		id = *input.ID
	} else {
		var err error
		if id, err = s.idGenerator(); err != nil {
			return persistence.Segment{}, err
		}
	}
	return persistence.Segment{
		ID:          id,
		CaseID:      strings.TrimSpace(input.CaseID),
		Pool:        input.Pool,
		StartIdx:    input.StartIdx,
		StopIdx:     input.StopIdx,
		ZeroPadded:  input.ZeroPadded,
		Signals:     input.Signals,
		Annotations: map[string]persistence.Annotation{},
		CreatedAt:   s.now().UTC(),
	}, nil
}
