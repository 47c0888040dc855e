package domain

import (
	"context"
	"time"
)

// EntityFilter selects entities. Every query implicitly intersects
// entity_type and, when set, organization_id; archived rows are excluded
// unless requested.
type EntityFilter struct {
	EntityType      EntityType
	OrganizationID  *string
	Name            string
	Status          string
	IncludeArchived bool
	// PropertyEquals filters on equality over the open property map.
	PropertyEquals map[string]any
	// PropertyIn filters on membership over the open property map.
	PropertyIn map[string][]any
}

// EventFilter selects events by entity, type, and half-open time range
// [From, To).
type EventFilter struct {
	EntityID  string
	EventType string
	From      *time.Time
	To        *time.Time
}

// RelationshipFilter selects edges; ValidAt restricts to edges whose
// half-open validity interval covers the instant.
type RelationshipFilter struct {
	FromEntity       string
	ToEntity         string
	RelationshipType string
	ValidAt          *time.Time
}

// TransactionView provides read-only access to snapshot data for rules and
// report queries. Events come back ordered by monotonic id.
type TransactionView interface {
	FindEntity(id string) (Entity, bool)
	ListEntities(filter EntityFilter) []Entity
	FindEvent(id int64) (Event, bool)
	ListEvents(filter EventFilter) []Event
	ListRelationships(filter RelationshipFilter) []Relationship
	FindInvitation(id string) (OrganizationInvitation, bool)
	ListInvitations(organizationID string) []OrganizationInvitation
	FindMember(id string) (OrganizationMember, bool)
	ListMembers(organizationID string) []OrganizationMember
	FindRemovalRequest(id string) (MembershipRemovalRequest, bool)
}

// Transaction exposes the domain mutations a persistence implementation must
// support within one atomic scope. Update methods take an expected version;
// zero skips the check, a mismatch is a Conflict (guarded transitions always
// pass the version they read).
type Transaction interface {
	TransactionView

	CreateEntity(Entity) (Entity, error)
	UpdateEntity(id string, expectVersion int64, mutator func(*Entity) error) (Entity, error)

	AppendEvent(Event) (Event, error)
	UpdateEventData(id int64, mutator func(map[string]any) error) (Event, error)

	CreateRelationship(Relationship) (Relationship, error)
	CloseRelationship(id string, at time.Time) (Relationship, error)

	CreateInvitation(OrganizationInvitation) (OrganizationInvitation, error)
	UpdateInvitation(id string, expectVersion int64, mutator func(*OrganizationInvitation) error) (OrganizationInvitation, error)

	CreateMember(OrganizationMember) (OrganizationMember, error)
	UpdateMember(id string, expectVersion int64, mutator func(*OrganizationMember) error) (OrganizationMember, error)

	CreateRemovalRequest(MembershipRemovalRequest) (MembershipRemovalRequest, error)
	UpdateRemovalRequest(id string, expectVersion int64, mutator func(*MembershipRemovalRequest) error) (MembershipRemovalRequest, error)

	// Now is the single wall-clock reading shared by every write in the
	// transaction.
	Now() time.Time
}

// PersistentStore is the begin/commit/rollback boundary consumed by the
// domain service. RunInTransaction commits all writes or none.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetEntity(id string) (Entity, bool)
	ListEntities(filter EntityFilter) []Entity
	ListEvents(filter EventFilter) []Event
}
