// Package domain defines the persistent records, workflow relations, error
// taxonomy, and rule evaluation primitives of the labcore schema-less store.
package domain

import (
	"time"
)

// EntityType discriminates the polymorphic entity record. It is fixed at
// creation and decides which typed accessors are valid.
type EntityType string

// Entity type identifiers used in Change records and persistence buckets.
const (
	EntityUser            EntityType = "user"
	EntityDevice          EntityType = "device"
	EntityOrganization    EntityType = "organization"
	EntityAlertRule       EntityType = "alert_rule"
	EntityBillingAccount  EntityType = "billing_account"
	EntitySubscription    EntityType = "subscription"
	EntityProcess         EntityType = "process.definition"
	EntityProcessInstance EntityType = "process.instance"
	EntityProject         EntityType = "project"
	EntityExperiment      EntityType = "experiment"
	EntityTrial           EntityType = "trial"
)

// Workflow relation kinds used in Change records alongside entity types.
const (
	KindInvitation     EntityType = "organization_invitation"
	KindMember         EntityType = "organization_member"
	KindRemovalRequest EntityType = "membership_removal_request"
	KindEvent          EntityType = "event"
	KindRelationship   EntityType = "relationship"
)

// Definition-level lifecycle statuses (process, experiment).
const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusArchived  = "archived"
)

// Run-level lifecycle statuses (process instance, trial).
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCancelled = "cancelled"
)

// StatusInactive is the soft-delete status for non-workflow entities.
const StatusInactive = "inactive"

// Entity is the canonical polymorphic record for every domain object. It is
// never physically deleted; removal is a status flip.
type Entity struct {
	ID             string         `json:"id"`
	EntityType     EntityType     `json:"entity_type"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Properties     map[string]any `json:"properties"`
	Status         string         `json:"status"`
	OrganizationID *string        `json:"organization_id"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// GetProperty reads one key from the open property map.
func (e *Entity) GetProperty(key string) (any, bool) {
	if e.Properties == nil {
		return nil, false
	}
	v, ok := e.Properties[key]
	return v, ok
}

// StringProperty reads one key and coerces it to string, returning fallback
// when absent or mistyped.
func (e *Entity) StringProperty(key, fallback string) string {
	v, ok := e.GetProperty(key)
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}

// SetProperty replaces one key in the property map. Persisting the change and
// re-stamping updated_at is the transaction's job.
func (e *Entity) SetProperty(key string, value any) {
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	e.Properties[key] = value
}

// Archived reports whether the entity has been soft-deleted.
func (e *Entity) Archived() bool {
	return e.Status == StatusArchived || e.Status == StatusInactive
}

// Clone returns a deep copy safe to hand across the transaction boundary.
func (e Entity) Clone() Entity {
	cp := e
	if e.Properties != nil {
		cp.Properties = cloneMap(e.Properties)
	}
	if e.OrganizationID != nil {
		org := *e.OrganizationID
		cp.OrganizationID = &org
	}
	return cp
}

// Relationship is a typed, time-bounded directed edge between two entities.
// No (from,to,type) uniqueness is enforced at this layer.
type Relationship struct {
	ID               string         `json:"id"`
	FromEntity       string         `json:"from_entity"`
	ToEntity         string         `json:"to_entity"`
	RelationshipType string         `json:"relationship_type"`
	Properties       map[string]any `json:"properties"`
	Strength         float64        `json:"strength"`
	ValidFrom        time.Time      `json:"valid_from"`
	ValidTo          *time.Time     `json:"valid_to"`
	CreatedAt        time.Time      `json:"created_at"`
}

// IsValidAt reports validity at time t over the half-open interval
// [valid_from, valid_to).
func (r Relationship) IsValidAt(t time.Time) bool {
	if t.Before(r.ValidFrom) {
		return false
	}
	if r.ValidTo == nil {
		return true
	}
	return t.Before(*r.ValidTo)
}

// Clone returns a deep copy of the relationship.
func (r Relationship) Clone() Relationship {
	cp := r
	if r.Properties != nil {
		cp.Properties = cloneMap(r.Properties)
	}
	if r.ValidTo != nil {
		until := *r.ValidTo
		cp.ValidTo = &until
	}
	return cp
}

// Relationship types carrying workflow semantics.
const (
	RelationExperimentDevice = "experiment.uses_device"
	RelationMemberOf         = "member_of"
)

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
