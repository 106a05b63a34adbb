package application

import (
	"context"
	"time"
)

// AuditEntry describes one mutating call.
type AuditEntry struct {
	Actor      string
	Operation  string
	Params     map[string]any
	Outcome    string
	OccurredAt time.Time
}

// AuditSink receives audit entries. Record must not block the caller for
// long and has no way to fail the operation that produced the entry.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, entry AuditEntry)

// Record calls f.
func (f AuditSinkFunc) Record(ctx context.Context, entry AuditEntry) { f(ctx, entry) }

type discardAudit struct{}

func (discardAudit) Record(context.Context, AuditEntry) {}

func defaultAudit(sink AuditSink) AuditSink {
	if sink == nil {
		return discardAudit{}
	}
	return sink
}

func auditOutcome(err error) string {
	if err == nil {
		return "success"
	}
	return ErrorKind(err)
}

func emitAudit(ctx context.Context, sink AuditSink, now func() time.Time, actor, operation string, params map[string]any, err error) {
	sink.Record(context.WithoutCancel(ctx), AuditEntry{
		Actor:      actor,
		Operation:  operation,
		Params:     params,
		Outcome:    auditOutcome(err),
		OccurredAt: now(),
	})
}
