// Package core exposes the transactional service surface over the labcore
// store: entity CRUD, the event log, relationship edges, and the membership
// and lifecycle workflows. Every mutating operation runs in one store
// transaction together with the audit event it emits.
package core

import (
	"context"
	"fmt"
	"time"

	"labcore/pkg/domain"
)

// Actor identifies the caller of a service operation. Superusers bypass
// organization role checks.
type Actor struct {
	UserID      string
	IsSuperuser bool
}

// Service wraps a persistent store with permission checks, workflow guards,
// and observability hooks.
type Service struct {
	store   domain.PersistentStore
	tracer  Tracer
	metrics MetricsRecorder
	audit   AuditRecorder
	source  string
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithTracer attaches a tracer receiving one span per operation.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAuditRecorder attaches an audit recorder.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithSourceNode stamps emitted events with a producing node identifier.
func WithSourceNode(node string) Option {
	return func(s *Service) { s.source = node }
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tracer:  noopTracer{},
		metrics: noopMetrics{},
		audit:   noopAudit{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(newMemoryStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// instrument runs fn under one trace span, records metrics, and emits an
// audit entry. fn returns the id of the record it touched, when known.
func (s *Service) instrument(ctx context.Context, operation string, actor Actor, fn func(context.Context) (string, error)) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	entityID, err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, time.Since(start))

	status := AuditStatusSuccess
	detail := ""
	if err != nil {
		status = AuditStatusError
		detail = err.Error()
	}
	s.audit.Record(ctx, AuditEntry{
		Operation:  operation,
		Actor:      actor.UserID,
		EntityID:   entityID,
		Status:     status,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	})
	return err
}

// requireRole checks that the actor holds one of the roles as an active
// member of the organization.
func requireRole(view domain.TransactionView, operation, organizationID string, actor Actor, roles ...domain.MemberRole) error {
	if actor.IsSuperuser {
		return nil
	}
	if actor.UserID == "" {
		return domain.PermissionDeniedError{Operation: operation, Reason: "anonymous actor"}
	}
	for _, member := range view.ListMembers(organizationID) {
		if !member.IsActive || member.UserID != actor.UserID {
			continue
		}
		for _, role := range roles {
			if member.Role == role {
				return nil
			}
		}
		return domain.PermissionDeniedError{Operation: operation, Reason: fmt.Sprintf("role %s is insufficient", member.Role)}
	}
	return domain.PermissionDeniedError{Operation: operation, Reason: fmt.Sprintf("user %s is not an active member of organization %s", actor.UserID, organizationID)}
}

func requireWriter(view domain.TransactionView, operation, organizationID string, actor Actor) error {
	return requireRole(view, operation, organizationID, actor, domain.RoleAdmin, domain.RoleMember)
}

func requireAdmin(view domain.TransactionView, operation, organizationID string, actor Actor) error {
	return requireRole(view, operation, organizationID, actor, domain.RoleAdmin)
}

func requireReader(view domain.TransactionView, operation, organizationID string, actor Actor) error {
	return requireRole(view, operation, organizationID, actor, domain.RoleAdmin, domain.RoleMember, domain.RoleViewer)
}

// validateSubtype runs the typed constructor for entity types that carry a
// property contract, so malformed records are rejected at write time.
func validateSubtype(e domain.Entity) error {
	var err error
	switch e.EntityType {
	case domain.EntityUser:
		_, err = domain.AsUser(e)
	case domain.EntityOrganization:
		_, err = domain.AsOrganization(e)
	case domain.EntityDevice:
		_, err = domain.AsDevice(e)
	case domain.EntityAlertRule:
		_, err = domain.AsAlertRule(e)
	case domain.EntityProject:
		_, err = domain.AsProject(e)
	case domain.EntityBillingAccount:
		_, err = domain.AsBillingAccount(e)
	case domain.EntitySubscription:
		_, err = domain.AsSubscription(e)
	}
	return err
}

// CreateEntity validates and persists a new entity, emitting the creation
// audit event in the same transaction.
func (s *Service) CreateEntity(ctx context.Context, actor Actor, entity domain.Entity) (domain.Entity, domain.Result, error) {
	var created domain.Entity
	var res domain.Result
	err := s.instrument(ctx, "create_entity", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if entity.OrganizationID != nil {
				if err := requireWriter(tx, "create_entity", *entity.OrganizationID, actor); err != nil {
					return err
				}
			} else if !actor.IsSuperuser {
				return domain.PermissionDeniedError{Operation: "create_entity", Reason: "only superusers create unscoped entities"}
			}
			if machine, ok := domain.MachineFor(entity.EntityType); ok {
				if entity.Status == "" {
					entity.Status = machine.Initial()
				} else if entity.Status != machine.Initial() {
					return domain.ConflictError{Kind: string(entity.EntityType), Reason: fmt.Sprintf("new rows start at %q, not %q", machine.Initial(), entity.Status)}
				}
			}
			if err := validateSubtype(entity); err != nil {
				return err
			}
			if err := checkUnique(tx, entity); err != nil {
				return err
			}
			var err error
			created, err = tx.CreateEntity(entity)
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(domain.Event{
				EventType:  domain.EventEntityCreated,
				EntityID:   created.ID,
				EntityType: created.EntityType,
				Data:       map[string]any{"name": created.Name, "status": created.Status},
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			return err
		})
		return created.ID, txErr
	})
	return created, res, err
}

// checkUnique enforces name uniqueness within (entity_type, organization)
// scope and global email uniqueness for users, counting only live rows.
func checkUnique(view domain.TransactionView, entity domain.Entity) error {
	if entity.Name != "" {
		for _, existing := range view.ListEntities(domain.EntityFilter{
			EntityType:     entity.EntityType,
			OrganizationID: entity.OrganizationID,
			Name:           entity.Name,
		}) {
			if existing.ID != entity.ID {
				return domain.ConflictError{Kind: string(entity.EntityType), Reason: fmt.Sprintf("name %q already in use", entity.Name)}
			}
		}
	}
	if entity.EntityType == domain.EntityUser {
		email := entity.StringProperty("email", "")
		for _, existing := range view.ListEntities(domain.EntityFilter{
			EntityType:     domain.EntityUser,
			PropertyEquals: map[string]any{"email": email},
		}) {
			if existing.ID != entity.ID {
				return domain.ConflictError{Kind: "user", Reason: fmt.Sprintf("email %q already registered", email)}
			}
		}
	}
	return nil
}

// UpdateEntity applies the mutator to a stored entity under the optional
// version check. Status is immutable through this path; lifecycle transitions
// go through TransitionStatus.
func (s *Service) UpdateEntity(ctx context.Context, actor Actor, id string, expectVersion int64, mutator func(*domain.Entity) error) (domain.Entity, domain.Result, error) {
	var updated domain.Entity
	var res domain.Result
	err := s.instrument(ctx, "update_entity", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindEntity(id)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: id}
			}
			if err := requireEntityWriter(tx, "update_entity", current, actor); err != nil {
				return err
			}
			var err error
			updated, err = tx.UpdateEntity(id, expectVersion, func(e *domain.Entity) error {
				status := e.Status
				if err := mutator(e); err != nil {
					return err
				}
				if e.Status != status {
					return domain.ConflictError{Kind: string(e.EntityType), Reason: "status changes require a lifecycle transition"}
				}
				return validateSubtype(*e)
			})
			if err != nil {
				return err
			}
			if err := checkUnique(tx, updated); err != nil {
				return err
			}
			_, err = tx.AppendEvent(domain.Event{
				EventType:  domain.EventEntityUpdated,
				EntityID:   updated.ID,
				EntityType: updated.EntityType,
				Data:       map[string]any{"version": updated.Version},
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			return err
		})
		return id, txErr
	})
	return updated, res, err
}

// ArchiveEntity soft-deletes an entity. Entities with a lifecycle machine go
// through the guarded archived transition; everything else flips to inactive.
// The rules engine blocks archival while dependents remain.
func (s *Service) ArchiveEntity(ctx context.Context, actor Actor, id string, expectVersion int64) (domain.Entity, domain.Result, error) {
	var archived domain.Entity
	var res domain.Result
	err := s.instrument(ctx, "archive_entity", actor, func(ctx context.Context) (string, error) {
		var txErr error
		res, txErr = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindEntity(id)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: id}
			}
			if err := requireEntityAdmin(tx, "archive_entity", current, actor); err != nil {
				return err
			}
			if current.Archived() {
				return domain.ConflictError{Kind: string(current.EntityType), Reason: "already archived"}
			}
			if machine, ok := domain.MachineFor(current.EntityType); ok {
				return transitionStatus(tx, s.source, actor, current, machine, expectVersion, domain.StatusArchived, &archived)
			}
			var err error
			archived, err = tx.UpdateEntity(id, expectVersion, func(e *domain.Entity) error {
				e.Status = domain.StatusInactive
				return nil
			})
			if err != nil {
				return err
			}
			_, err = tx.AppendEvent(domain.Event{
				EventType:  domain.EventEntityArchived,
				EntityID:   id,
				EntityType: current.EntityType,
				Metadata:   map[string]any{"actor": actor.UserID},
				SourceNode: s.source,
			})
			return err
		})
		return id, txErr
	})
	return archived, res, err
}

// GetEntity fetches one entity, applying organization read scoping.
func (s *Service) GetEntity(ctx context.Context, actor Actor, id string) (domain.Entity, error) {
	var entity domain.Entity
	err := s.instrument(ctx, "get_entity", actor, func(ctx context.Context) (string, error) {
		return id, s.store.View(ctx, func(view domain.TransactionView) error {
			found, ok := view.FindEntity(id)
			if !ok {
				return domain.NotFoundError{Kind: "entity", ID: id}
			}
			if scope, ok := readScope(found); ok {
				if err := requireReader(view, "get_entity", scope, actor); err != nil {
					return err
				}
			}
			entity = found
			return nil
		})
	})
	return entity, err
}

// ListEntities lists entities matching the filter. Non-superusers must scope
// the query to an organization they belong to.
func (s *Service) ListEntities(ctx context.Context, actor Actor, filter domain.EntityFilter) ([]domain.Entity, error) {
	var entities []domain.Entity
	err := s.instrument(ctx, "list_entities", actor, func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view domain.TransactionView) error {
			if filter.OrganizationID != nil {
				if err := requireReader(view, "list_entities", *filter.OrganizationID, actor); err != nil {
					return err
				}
			} else if !actor.IsSuperuser {
				return domain.PermissionDeniedError{Operation: "list_entities", Reason: "unscoped listing requires a superuser"}
			}
			entities = view.ListEntities(filter)
			return nil
		})
	})
	return entities, err
}

// readScope resolves the organization governing read access to the entity.
// Organizations scope themselves; unscoped entities are world-readable.
func readScope(entity domain.Entity) (string, bool) {
	if entity.OrganizationID != nil {
		return *entity.OrganizationID, true
	}
	if entity.EntityType == domain.EntityOrganization {
		return entity.ID, true
	}
	return "", false
}

func requireEntityWriter(view domain.TransactionView, operation string, entity domain.Entity, actor Actor) error {
	scope, ok := readScope(entity)
	if !ok {
		if actor.IsSuperuser {
			return nil
		}
		return domain.PermissionDeniedError{Operation: operation, Reason: "unscoped entities are superuser-only"}
	}
	return requireWriter(view, operation, scope, actor)
}

func requireEntityAdmin(view domain.TransactionView, operation string, entity domain.Entity, actor Actor) error {
	scope, ok := readScope(entity)
	if !ok {
		if actor.IsSuperuser {
			return nil
		}
		return domain.PermissionDeniedError{Operation: operation, Reason: "unscoped entities are superuser-only"}
	}
	return requireAdmin(view, operation, scope, actor)
}
