package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/conduit-ecg/annotator/internal/ids"
	"github.com/conduit-ecg/annotator/internal/persistence"
)

const segmentColumns = `id, case_id, pool_kind, pool_ref, start_idx, stop_idx, zero_padded, signals, created_at`

// SegmentRepository implements persistence.SegmentRepository using SQLite
type SegmentRepository struct {
	q      querier
	mapper *ErrorMapper
	now    func() time.Time
}

// NewSegmentRepository creates a new SQLite segment repository
func NewSegmentRepository(pool *ConnectionPool) *SegmentRepository {
	return &SegmentRepository{q: pool.DB(), mapper: pool.mapper, now: utcNow}
}

func (r *SegmentRepository) withQuerier(q querier) *SegmentRepository {
	clone := *r
	clone.q = q
	return &clone
}

// CreateSegment inserts a segment and any annotations it already carries.
func (r *SegmentRepository) CreateSegment(ctx context.Context, segment persistence.Segment) error {
	if segment.ID.IsZero() {
		return persistence.ErrConstraintViolation
	}
	if segment.CreatedAt.IsZero() {
		segment.CreatedAt = r.now()
	}
	signals, err := encodeSignals(segment.Signals)
	if err != nil {
		return err
	}
	poolKind, poolRef := segment.Pool.Encode()

	const query = `INSERT INTO segments (` + segmentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.q.ExecContext(ctx, query,
		segment.ID,
		segment.CaseID,
		poolKind,
		poolRef,
		segment.StartIdx,
		segment.StopIdx,
		segment.ZeroPadded,
		signals,
		formatTime(segment.CreatedAt),
	); err != nil {
		return r.mapper.MapError(err)
	}

	for annotator, annotation := range segment.Annotations {
		if err := r.upsertAnnotation(ctx, segment.ID, annotator, annotation); err != nil {
			return err
		}
	}
	return nil
}

// GetSegment retrieves a segment by ID.
func (r *SegmentRepository) GetSegment(ctx context.Context, id ids.ID) (persistence.Segment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = ?`, id)
	segment, err := scanSegment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Segment{}, persistence.ErrNotFound
		}
		return persistence.Segment{}, r.mapper.MapError(err)
	}
	segments := []persistence.Segment{segment}
	if err := r.attachAnnotations(ctx, segments); err != nil {
		return persistence.Segment{}, err
	}
	return segments[0], nil
}

// ListSegmentsByIDs returns the known segments among segmentIDs in identifier order.
func (r *SegmentRepository) ListSegmentsByIDs(ctx context.Context, segmentIDs []ids.ID) ([]persistence.Segment, error) {
	out := make([]persistence.Segment, 0, len(segmentIDs))
	for _, batch := range chunk(ids.Unique(segmentIDs), maxInArgs) {
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := `SELECT ` + segmentColumns + ` FROM segments WHERE id IN (` + placeholders(len(batch)) + `)`
		found, err := r.querySegments(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	if err := r.attachAnnotations(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PageSegments returns one cursor window in ascending identifier order.
// Identifiers are stored in canonical lowercase form, so text order in
// SQLite matches identifier order.
func (r *SegmentRepository) PageSegments(ctx context.Context, query persistence.SegmentPageQuery) ([]persistence.Segment, error) {
	var (
		segments []persistence.Segment
		err      error
	)
	switch {
	case query.Before != nil:
		segments, err = r.querySegments(ctx,
			`SELECT `+segmentColumns+` FROM segments WHERE id < ? ORDER BY id DESC LIMIT ?`, *query.Before, query.Limit)
		for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
			segments[i], segments[j] = segments[j], segments[i]
		}
	case query.After != nil:
		segments, err = r.querySegments(ctx,
			`SELECT `+segmentColumns+` FROM segments WHERE id > ? ORDER BY id ASC LIMIT ?`, *query.After, query.Limit)
	default:
		segments, err = r.querySegments(ctx,
			`SELECT `+segmentColumns+` FROM segments ORDER BY id ASC LIMIT ?`, query.Limit)
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachAnnotations(ctx, segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// CountSegments counts all segments, or those with an identifier after since.
func (r *SegmentRepository) CountSegments(ctx context.Context, since *ids.ID) (int, error) {
	var (
		count int
		err   error
	)
	if since == nil {
		err = r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM segments`).Scan(&count)
	} else {
		err = r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM segments WHERE id > ?`, *since).Scan(&count)
	}
	if err != nil {
		return 0, r.mapper.MapError(err)
	}
	return count, nil
}

// SetAnnotation overwrites the annotation stored for annotator on a segment.
func (r *SegmentRepository) SetAnnotation(ctx context.Context, segmentID ids.ID, annotator string, annotation persistence.Annotation) error {
	var one int
	err := r.q.QueryRowContext(ctx, `SELECT 1 FROM segments WHERE id = ?`, segmentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if err != nil {
		return r.mapper.MapError(err)
	}
	return r.upsertAnnotation(ctx, segmentID, annotator, annotation)
}

func (r *SegmentRepository) upsertAnnotation(ctx context.Context, segmentID ids.ID, annotator string, annotation persistence.Annotation) error {
	if annotation.UpdatedAt.IsZero() {
		annotation.UpdatedAt = r.now()
	}
	var comments sql.NullString
	if annotation.Comments != nil {
		comments = sql.NullString{String: *annotation.Comments, Valid: true}
	}
	const query = `
		INSERT INTO annotations (segment_id, annotator, label, confidence, comments, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (segment_id, annotator) DO UPDATE SET
			label = excluded.label,
			confidence = excluded.confidence,
			comments = excluded.comments,
			updated_at = excluded.updated_at
	`
	_, err := r.q.ExecContext(ctx, query,
		segmentID, annotator, annotation.Label, annotation.Confidence, comments, formatTime(annotation.UpdatedAt))
	return r.mapper.MapError(err)
}

func (r *SegmentRepository) querySegments(ctx context.Context, query string, args ...any) ([]persistence.Segment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var segments []persistence.Segment
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		segments = append(segments, segment)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return segments, nil
}

// attachAnnotations fills Annotations on every segment in place.
func (r *SegmentRepository) attachAnnotations(ctx context.Context, segments []persistence.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	index := make(map[ids.ID]int, len(segments))
	segmentIDs := make([]ids.ID, len(segments))
	for i := range segments {
		segments[i].Annotations = make(map[string]persistence.Annotation)
		index[segments[i].ID] = i
		segmentIDs[i] = segments[i].ID
	}

	for _, batch := range chunk(segmentIDs, maxInArgs) {
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		rows, err := r.q.QueryContext(ctx,
			`SELECT segment_id, annotator, label, confidence, comments, updated_at
			 FROM annotations WHERE segment_id IN (`+placeholders(len(batch))+`)`, args...)
		if err != nil {
			return r.mapper.MapError(err)
		}
		if err := scanAnnotations(rows, segments, index); err != nil {
			return r.mapper.MapError(err)
		}
	}
	return nil
}

func scanAnnotations(rows *sql.Rows, segments []persistence.Segment, index map[ids.ID]int) error {
	defer rows.Close()
	for rows.Next() {
		var (
			segmentID  ids.ID
			annotator  string
			annotation persistence.Annotation
			comments   sql.NullString
			updatedAt  string
		)
		if err := rows.Scan(&segmentID, &annotator, &annotation.Label, &annotation.Confidence, &comments, &updatedAt); err != nil {
			return err
		}
		if comments.Valid {
			text := comments.String
			annotation.Comments = &text
		}
		var err error
		if annotation.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return err
		}
		if i, ok := index[segmentID]; ok {
			segments[i].Annotations[annotator] = annotation
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (persistence.Segment, error) {
	var (
		segment   persistence.Segment
		poolKind  string
		poolRef   string
		signals   string
		createdAt string
	)
	if err := row.Scan(
		&segment.ID,
		&segment.CaseID,
		&poolKind,
		&poolRef,
		&segment.StartIdx,
		&segment.StopIdx,
		&segment.ZeroPadded,
		&signals,
		&createdAt,
	); err != nil {
		return persistence.Segment{}, err
	}

	var err error
	if segment.Pool, err = ids.DecodePoolRef(poolKind, poolRef); err != nil {
		return persistence.Segment{}, fmt.Errorf("segment %s: %w", segment.ID, err)
	}
	if err := json.Unmarshal([]byte(signals), &segment.Signals); err != nil {
		return persistence.Segment{}, fmt.Errorf("segment %s: decode signals: %w", segment.ID, err)
	}
	if segment.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Segment{}, err
	}
	return segment, nil
}

func encodeSignals(signals map[string]json.RawMessage) (string, error) {
	if len(signals) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(signals)
	if err != nil {
		return "", fmt.Errorf("%w: encode signals: %v", persistence.ErrConstraintViolation, err)
	}
	return string(encoded), nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
