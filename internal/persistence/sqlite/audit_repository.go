package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conduit-ecg/annotator/internal/persistence"
)

// AuditRepository implements persistence.AuditRepository using SQLite
type AuditRepository struct {
	q      querier
	mapper *ErrorMapper
}

// NewAuditRepository creates a new SQLite audit repository
func NewAuditRepository(pool *ConnectionPool) *AuditRepository {
	return &AuditRepository{q: pool.DB(), mapper: pool.mapper}
}

// InsertAuditEvent appends one event.
func (r *AuditRepository) InsertAuditEvent(ctx context.Context, event persistence.AuditEvent) error {
	if event.ID.IsZero() || event.Operation == "" {
		return persistence.ErrConstraintViolation
	}
	params := []byte("{}")
	if len(event.Params) > 0 {
		var err error
		if params, err = json.Marshal(event.Params); err != nil {
			return fmt.Errorf("%w: encode audit params: %v", persistence.ErrConstraintViolation, err)
		}
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO audit_events (id, actor, operation, params, outcome, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Actor, event.Operation, string(params), event.Outcome, formatTime(event.OccurredAt))
	return r.mapper.MapError(err)
}

// ListAuditEvents returns up to limit events, most recent first. A
// non-positive limit returns everything.
func (r *AuditRepository) ListAuditEvents(ctx context.Context, limit int) ([]persistence.AuditEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, actor, operation, params, outcome, occurred_at FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var events []persistence.AuditEvent
	for rows.Next() {
		var (
			event      persistence.AuditEvent
			params     string
			occurredAt string
		)
		if err := rows.Scan(&event.ID, &event.Actor, &event.Operation, &params, &event.Outcome, &occurredAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if err := json.Unmarshal([]byte(params), &event.Params); err != nil {
			return nil, fmt.Errorf("audit event %s: decode params: %w", event.ID, err)
		}
		if event.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return events, nil
}
