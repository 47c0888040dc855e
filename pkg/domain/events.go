package domain

import (
	"fmt"
	"time"
)

// Event is an immutable, time-ordered fact. Readings, commands, and alert
// occurrences have no Entity row; they exist only as typed events. The ID is
// allocated from the store's monotonic sequence.
type Event struct {
	ID         int64          `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	EventType  string         `json:"event_type"`
	EntityID   string         `json:"entity_id"`
	EntityType EntityType     `json:"entity_type"`
	Data       map[string]any `json:"data"`
	Metadata   map[string]any `json:"event_metadata"`
	SourceNode string         `json:"source_node"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Event types that are the sole storage for their domain concepts.
const (
	EventReading        = "device.reading"
	EventCommand        = "device.command"
	EventAlertTriggered = "alert.triggered"
)

// Audit event types appended alongside entity mutations.
const (
	EventEntityCreated      = "entity.created"
	EventEntityUpdated      = "entity.updated"
	EventEntityArchived     = "entity.archived"
	EventInvitationSent     = "invitation.sent"
	EventInvitationAccepted = "invitation.accepted"
	EventInvitationDeclined = "invitation.declined"
	EventInvitationExpired  = "invitation.expired"
	EventInvitationCanceled = "invitation.cancelled"
	EventMemberAdded        = "member.added"
	EventMemberDeactivated  = "member.deactivated"
	EventRemovalRequested   = "removal.requested"
	EventRemovalApproved    = "removal.approved"
	EventRemovalDenied      = "removal.denied"
	EventRemovalCancelled   = "removal.cancelled"
	EventStatusChanged      = "entity.status_changed"
)

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	cp := e
	if e.Data != nil {
		cp.Data = cloneMap(e.Data)
	}
	if e.Metadata != nil {
		cp.Metadata = cloneMap(e.Metadata)
	}
	return cp
}

// Reading is the typed view over a device reading event payload.
type Reading struct {
	Event
}

// AsReading narrows an event to its reading accessors.
func AsReading(e Event) (Reading, error) {
	if e.EventType != EventReading {
		return Reading{}, ConflictError{Kind: "event", Reason: fmt.Sprintf("event %d is %s, not a reading", e.ID, e.EventType)}
	}
	return Reading{Event: e}, nil
}

// SensorType returns the reading's sensor discriminator.
func (r Reading) SensorType() string {
	if v, ok := r.Data["sensor_type"].(string); ok {
		return v
	}
	return ""
}

// Value returns the recorded measurement, false when the payload is corrupt.
func (r Reading) Value() (float64, bool) {
	v, ok := r.Data["value"].(float64)
	return v, ok
}

// Unit returns the measurement unit, empty when unset.
func (r Reading) Unit() string {
	if v, ok := r.Data["unit"].(string); ok {
		return v
	}
	return ""
}

// Command statuses. The core never sets timeout on its own clock; a poller
// applies that label.
const (
	CommandPending   = "pending"
	CommandSent      = "sent"
	CommandExecuting = "executing"
	CommandCompleted = "completed"
	CommandFailed    = "failed"
	CommandCancelled = "cancelled"
	CommandTimeout   = "timeout"
)

// Command is the typed view over a device command event payload. Lifecycle is
// pure payload mutation; see the command machine for the allowed transitions.
type Command struct {
	Event
}

// AsCommand narrows an event to its command accessors.
func AsCommand(e Event) (Command, error) {
	if e.EventType != EventCommand {
		return Command{}, ConflictError{Kind: "event", Reason: fmt.Sprintf("event %d is %s, not a command", e.ID, e.EventType)}
	}
	return Command{Event: e}, nil
}

// Name returns the command verb.
func (c Command) Name() string {
	if v, ok := c.Data["command"].(string); ok {
		return v
	}
	return ""
}

// Status returns the current lifecycle status; absent defaults to pending.
func (c Command) Status() string {
	if v, ok := c.Data["status"].(string); ok {
		return v
	}
	return CommandPending
}

// Result returns the free-form execution result payload.
func (c Command) Result() (any, bool) {
	v, ok := c.Data["result"]
	return v, ok
}

// AlertOccurrence is the typed view over an alert.triggered event payload.
type AlertOccurrence struct {
	Event
}

// AsAlertOccurrence narrows an event to its alert accessors.
func AsAlertOccurrence(e Event) (AlertOccurrence, error) {
	if e.EventType != EventAlertTriggered {
		return AlertOccurrence{}, ConflictError{Kind: "event", Reason: fmt.Sprintf("event %d is %s, not an alert occurrence", e.ID, e.EventType)}
	}
	return AlertOccurrence{Event: e}, nil
}

// RuleID returns the alert rule entity that fired.
func (a AlertOccurrence) RuleID() string {
	if v, ok := a.Data["rule_id"].(string); ok {
		return v
	}
	return ""
}

// ObservedValue returns the value that tripped the rule.
func (a AlertOccurrence) ObservedValue() (float64, bool) {
	v, ok := a.Data["value"].(float64)
	return v, ok
}

// Acknowledged reports whether an operator has acknowledged the occurrence.
func (a AlertOccurrence) Acknowledged() bool {
	v, ok := a.Data["acknowledged"].(bool)
	return ok && v
}
