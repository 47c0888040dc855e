package core

import (
	"context"
	"time"
)

// Tracer receives a span per service operation. Implementations must be safe
// for concurrent use.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a single traced operation.
type TraceSpan interface {
	End(err error)
}

// MetricsRecorder aggregates operation timing and result counters.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// AuditStatus marks an audit entry as a success or an error outcome.
type AuditStatus string

// Audit entry outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry captures who did what to which record through the service
// surface. It complements the persisted event log: entries are emitted even
// when the transaction rolls back.
type AuditEntry struct {
	Operation  string      `json:"operation"`
	Actor      string      `json:"actor"`
	EntityID   string      `json:"entity_id,omitempty"`
	Status     AuditStatus `json:"status"`
	Detail     string      `json:"detail,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// AuditRecorder receives an entry per service operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}
