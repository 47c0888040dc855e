// Package export runs asynchronous extracts of the event log. Requests are
// queued, rendered to JSON or CSV artifacts, and written to object storage;
// every stage is mirrored into the audit trail.
package export

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"labcore/internal/blob"
	"labcore/internal/core"
	"labcore/pkg/codec"
	"labcore/pkg/domain"
)

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Format selects an artifact rendering.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Request describes one event-log extract. EntityID and EventType narrow the
// selection; From/To bound it to the half-open interval [From, To).
type Request struct {
	EntityID    string     `json:"entity_id,omitempty"`
	EventType   string     `json:"event_type,omitempty"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	Formats     []Format   `json:"formats"`
	RequestedBy string     `json:"requested_by"`
	Reason      string     `json:"reason,omitempty"`
}

// Artifact captures one stored rendering of an extract.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Rows        int       `json:"rows"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export request and its resulting artifacts.
type Record struct {
	ID          string     `json:"id"`
	Request     Request    `json:"request"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r *Record) copy() Record {
	out := *r
	out.Request.Formats = append([]Format(nil), r.Request.Formats...)
	out.Artifacts = append([]Artifact(nil), r.Artifacts...)
	return out
}

// EventSource is the read-only slice of the persistent store the worker
// needs. *memory.Store and both snapshot stores satisfy it.
type EventSource interface {
	View(ctx context.Context, fn func(domain.TransactionView) error) error
}

// Scheduler queues extract requests and exposes their status.
type Scheduler interface {
	Enqueue(ctx context.Context, req Request) (Record, error)
	Get(id string) (Record, bool)
}

type task struct {
	id  string
	req Request
}

// Worker executes extracts asynchronously off a buffered queue.
type Worker struct {
	source  EventSource
	objects blob.Store
	audit   core.AuditRecorder

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs an export worker. The audit recorder may be nil.
func NewWorker(source EventSource, objects blob.Store, audit core.AuditRecorder) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source:  source,
		objects: objects,
		audit:   audit,
		queue:   make(chan task, 32),
		jobs:    make(map[string]*Record),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing queued requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the worker and waits for the in-flight job to finish.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue validates and schedules an extract, returning the queued record.
func (w *Worker) Enqueue(ctx context.Context, req Request) (Record, error) {
	if w.source == nil {
		return Record{}, fmt.Errorf("export source not configured")
	}
	if strings.TrimSpace(req.RequestedBy) == "" {
		return Record{}, fmt.Errorf("requested_by required")
	}
	if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
		return Record{}, fmt.Errorf("empty time range")
	}

	formats := req.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{}, len(formats))
	for _, f := range formats {
		if _, dup := seen[f]; dup {
			continue
		}
		if f != FormatJSON && f != FormatCSV {
			return Record{}, fmt.Errorf("unsupported export format %s", f)
		}
		uniq = append(uniq, f)
		seen[f] = struct{}{}
	}
	req.Formats = uniq

	now := time.Now().UTC()
	record := Record{
		ID:        codec.NewID().String(),
		Request:   req,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	w.mu.Lock()
	w.jobs[record.ID] = &record
	queued := record.copy()
	w.mu.Unlock()

	w.recordAudit(ctx, record.ID, req.RequestedBy, core.AuditStatusSuccess, "queued")

	select {
	case w.queue <- task{id: record.ID, req: req}:
	default:
		w.fail(record.ID, "export queue full")
		return Record{}, fmt.Errorf("export queue full")
	}
	return queued, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(t task) {
	w.setStatus(t.id, StatusRunning)

	var events []domain.Event
	err := w.source.View(w.ctx, func(view domain.TransactionView) error {
		events = view.ListEvents(domain.EventFilter{
			EntityID:  t.req.EntityID,
			EventType: t.req.EventType,
			From:      t.req.From,
			To:        t.req.To,
		})
		return nil
	})
	if err != nil {
		w.fail(t.id, fmt.Sprintf("read event log: %v", err))
		return
	}

	artifacts := make([]Artifact, 0, len(t.req.Formats))
	for _, format := range t.req.Formats {
		payload, contentType, err := render(format, t.req, events)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		artifact := Artifact{
			Key:         fmt.Sprintf("exports/audit/%s/events.%s", t.id, format),
			Format:      format,
			ContentType: contentType,
			SizeBytes:   int64(len(payload)),
			Rows:        len(events),
			CreatedAt:   time.Now().UTC(),
		}
		if w.objects != nil {
			info, err := w.objects.Put(w.ctx, artifact.Key, strings.NewReader(string(payload)), blob.PutOptions{
				ContentType: contentType,
				Metadata:    map[string]string{"export_id": t.id, "requested_by": t.req.RequestedBy},
			})
			if err != nil {
				w.fail(t.id, fmt.Sprintf("store artifact %s: %v", artifact.Key, err))
				return
			}
			if info.Size > 0 {
				artifact.SizeBytes = info.Size
			}
			if url, err := w.objects.PresignURL(w.ctx, artifact.Key, blob.SignedURLOptions{}); err == nil {
				artifact.URL = url
			}
		}
		artifacts = append(artifacts, artifact)
	}
	w.complete(t.id, artifacts)
}

func (w *Worker) setStatus(id string, status Status) {
	now := time.Now().UTC()
	w.mu.Lock()
	actor := ""
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.UpdatedAt = now
		actor = record.Request.RequestedBy
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, actor, core.AuditStatusSuccess, string(status))
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	actor := ""
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
		actor = record.Request.RequestedBy
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, actor, core.AuditStatusSuccess, string(StatusSucceeded))
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	actor := ""
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
		actor = record.Request.RequestedBy
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, actor, core.AuditStatusError, reason)
}

func (w *Worker) recordAudit(ctx context.Context, id, actor string, status core.AuditStatus, detail string) {
	if w.audit == nil {
		return
	}
	w.audit.Record(ctx, core.AuditEntry{
		Operation:  "export_audit_log",
		Actor:      actor,
		EntityID:   id,
		Status:     status,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	})
}
