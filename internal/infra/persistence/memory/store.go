// Package memory provides the transactional in-memory store backing every
// persistence driver. Transactions run against a cloned state under a single
// writer lock; the rules engine evaluates the recorded changes at commit and
// blocking violations roll the whole transaction back.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"labcore/pkg/codec"
	"labcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

type state struct {
	entities      map[string]domain.Entity
	events        []domain.Event
	eventSeq      int64
	relationships map[string]domain.Relationship
	invitations   map[string]domain.OrganizationInvitation
	members       map[string]domain.OrganizationMember
	removals      map[string]domain.MembershipRemovalRequest
}

func newState() state {
	return state{
		entities:      make(map[string]domain.Entity),
		relationships: make(map[string]domain.Relationship),
		invitations:   make(map[string]domain.OrganizationInvitation),
		members:       make(map[string]domain.OrganizationMember),
		removals:      make(map[string]domain.MembershipRemovalRequest),
	}
}

func (s state) clone() state {
	cloned := newState()
	cloned.eventSeq = s.eventSeq
	for k, v := range s.entities {
		cloned.entities[k] = v.Clone()
	}
	cloned.events = make([]domain.Event, len(s.events))
	for i, ev := range s.events {
		cloned.events[i] = ev.Clone()
	}
	for k, v := range s.relationships {
		cloned.relationships[k] = v.Clone()
	}
	for k, v := range s.invitations {
		cloned.invitations[k] = v
	}
	for k, v := range s.members {
		cloned.members[k] = v
	}
	for k, v := range s.removals {
		cloned.removals[k] = v
	}
	return cloned
}

// Store is the in-memory transactional store for the labcore schema.
type Store struct {
	mu     sync.RWMutex
	state  state
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
// A nil engine means no commit-time rules.
func NewStore(engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the wall-clock source; tests use it to pin guard
// evaluation times.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

func newRowID() string {
	return codec.NewID().String()
}

// Tx is one mutation set applied to a cloned copy of the store state.
type Tx struct {
	state   *state
	changes []domain.Change
	now     time.Time
}

var _ domain.Transaction = (*Tx)(nil)

// RunInTransaction executes fn against a transactional copy of the state,
// evaluates rules over the recorded changes, and commits only when fn and
// every blocking rule pass. One transaction at a time; callers get
// serialized, all-or-nothing semantics.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	tx := &Tx{state: &working, now: s.nowFn()}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, &view{state: &working}, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = working
	return result, nil
}

// View executes fn against a read-only snapshot of committed state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.state.clone()
	return fn(&view{state: &snapshot})
}

// GetEntity retrieves an entity from committed state.
func (s *Store) GetEntity(id string) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return e.Clone(), true
}

// ListEntities queries committed state.
func (s *Store) ListEntities(filter domain.EntityFilter) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntities(&s.state, filter)
}

// ListEvents queries the committed event log in id order.
func (s *Store) ListEvents(filter domain.EventFilter) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEvents(&s.state, filter)
}

// Now reports the transaction's single wall-clock reading.
func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) record(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

// CreateEntity stores a new polymorphic record, stamping timestamps and
// defaulting the property map. The entity_type discriminator is required.
func (tx *Tx) CreateEntity(e domain.Entity) (domain.Entity, error) {
	if e.EntityType == "" {
		return domain.Entity{}, domain.ConflictError{Kind: "entity", Reason: "entity_type is required"}
	}
	if e.ID == "" {
		e.ID = newRowID()
	} else if _, err := codec.ParseID(e.ID); err != nil {
		return domain.Entity{}, err
	}
	if _, exists := tx.state.entities[e.ID]; exists {
		return domain.Entity{}, domain.ConflictError{Kind: "entity", Reason: fmt.Sprintf("id %s already exists", e.ID)}
	}
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	if e.Status == "" {
		e.Status = domain.StatusActive
	}
	e.Version = 1
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.entities[e.ID] = e.Clone()
	tx.record(domain.Change{Kind: e.EntityType, Action: domain.ActionCreate, After: e.Clone()})
	return e.Clone(), nil
}

// UpdateEntity mutates an entity. The discriminator, identity, and
// bookkeeping fields are restored after the mutator runs; updated_at and
// version are re-stamped on every write.
func (tx *Tx) UpdateEntity(id string, expectVersion int64, mutator func(*domain.Entity) error) (domain.Entity, error) {
	current, ok := tx.state.entities[id]
	if !ok {
		return domain.Entity{}, domain.NotFoundError{Kind: "entity", ID: id}
	}
	if expectVersion > 0 && current.Version != expectVersion {
		return domain.Entity{}, domain.ConflictError{Kind: "entity", Reason: fmt.Sprintf("version %d is stale, row is at %d", expectVersion, current.Version)}
	}
	before := current.Clone()
	working := current.Clone()
	if err := mutator(&working); err != nil {
		return domain.Entity{}, err
	}
	working.ID = before.ID
	working.EntityType = before.EntityType
	working.CreatedAt = before.CreatedAt
	working.Version = before.Version + 1
	working.UpdatedAt = tx.now
	tx.state.entities[id] = working.Clone()
	tx.record(domain.Change{Kind: working.EntityType, Action: domain.ActionUpdate, Before: before, After: working.Clone()})
	return working.Clone(), nil
}

// AppendEvent writes one immutable fact, allocating the next monotonic id.
func (tx *Tx) AppendEvent(e domain.Event) (domain.Event, error) {
	if e.EventType == "" {
		return domain.Event{}, domain.ConflictError{Kind: "event", Reason: "event_type is required"}
	}
	tx.state.eventSeq++
	e.ID = tx.state.eventSeq
	if e.Timestamp.IsZero() {
		e.Timestamp = tx.now
	}
	e.CreatedAt = tx.now
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	tx.state.events = append(tx.state.events, e.Clone())
	tx.record(domain.Change{Kind: domain.KindEvent, Action: domain.ActionCreate, After: e.Clone()})
	return e.Clone(), nil
}

// UpdateEventData is the read-modify-write path over an event payload, used by
// the command lifecycle. Identity, type, and timestamps stay untouched.
func (tx *Tx) UpdateEventData(id int64, mutator func(map[string]any) error) (domain.Event, error) {
	idx := -1
	for i := range tx.state.events {
		if tx.state.events[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Event{}, domain.NotFoundError{Kind: "event", ID: fmt.Sprintf("%d", id)}
	}
	before := tx.state.events[idx].Clone()
	working := tx.state.events[idx].Clone()
	if working.Data == nil {
		working.Data = map[string]any{}
	}
	if err := mutator(working.Data); err != nil {
		return domain.Event{}, err
	}
	tx.state.events[idx] = working.Clone()
	tx.record(domain.Change{Kind: domain.KindEvent, Action: domain.ActionUpdate, Before: before, After: working.Clone()})
	return working.Clone(), nil
}

// CreateRelationship stores a typed, time-bounded edge. Strength outside
// [0,1] is rejected; duplicate (from,to,type) edges are the caller's problem.
func (tx *Tx) CreateRelationship(r domain.Relationship) (domain.Relationship, error) {
	if r.FromEntity == "" || r.ToEntity == "" || r.RelationshipType == "" {
		return domain.Relationship{}, domain.ConflictError{Kind: "relationship", Reason: "from, to, and type are required"}
	}
	if r.Strength < 0 || r.Strength > 1 {
		return domain.Relationship{}, domain.ConflictError{Kind: "relationship", Reason: fmt.Sprintf("strength %v outside [0,1]", r.Strength)}
	}
	if r.ID == "" {
		r.ID = newRowID()
	}
	if _, exists := tx.state.relationships[r.ID]; exists {
		return domain.Relationship{}, domain.ConflictError{Kind: "relationship", Reason: fmt.Sprintf("id %s already exists", r.ID)}
	}
	if r.Properties == nil {
		r.Properties = map[string]any{}
	}
	if r.ValidFrom.IsZero() {
		r.ValidFrom = tx.now
	}
	r.CreatedAt = tx.now
	tx.state.relationships[r.ID] = r.Clone()
	tx.record(domain.Change{Kind: domain.KindRelationship, Action: domain.ActionCreate, After: r.Clone()})
	return r.Clone(), nil
}

// CloseRelationship stamps valid_to, ending the edge's validity interval.
func (tx *Tx) CloseRelationship(id string, at time.Time) (domain.Relationship, error) {
	current, ok := tx.state.relationships[id]
	if !ok {
		return domain.Relationship{}, domain.NotFoundError{Kind: "relationship", ID: id}
	}
	if current.ValidTo != nil {
		return domain.Relationship{}, domain.ConflictError{Kind: "relationship", Reason: fmt.Sprintf("relationship %s already closed", id)}
	}
	before := current.Clone()
	closed := at
	current.ValidTo = &closed
	tx.state.relationships[id] = current.Clone()
	tx.record(domain.Change{Kind: domain.KindRelationship, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// CreateInvitation stores a pending invitation, applying the default expiry
// window when unset.
func (tx *Tx) CreateInvitation(inv domain.OrganizationInvitation) (domain.OrganizationInvitation, error) {
	if inv.OrganizationID == "" || inv.Email == "" {
		return domain.OrganizationInvitation{}, domain.ConflictError{Kind: "invitation", Reason: "organization and email are required"}
	}
	if !domain.ValidRole(inv.Role) {
		return domain.OrganizationInvitation{}, domain.ConflictError{Kind: "invitation", Reason: fmt.Sprintf("unknown role %q", inv.Role)}
	}
	if inv.ID == "" {
		inv.ID = newRowID()
	}
	if _, exists := tx.state.invitations[inv.ID]; exists {
		return domain.OrganizationInvitation{}, domain.ConflictError{Kind: "invitation", Reason: fmt.Sprintf("id %s already exists", inv.ID)}
	}
	inv.Status = domain.InvitationPending
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = tx.now.Add(domain.DefaultInvitationTTL)
	}
	inv.Version = 1
	inv.CreatedAt = tx.now
	inv.UpdatedAt = tx.now
	tx.state.invitations[inv.ID] = inv
	tx.record(domain.Change{Kind: domain.KindInvitation, Action: domain.ActionCreate, After: inv})
	return inv, nil
}

// UpdateInvitation mutates an invitation row under an optional version check.
func (tx *Tx) UpdateInvitation(id string, expectVersion int64, mutator func(*domain.OrganizationInvitation) error) (domain.OrganizationInvitation, error) {
	current, ok := tx.state.invitations[id]
	if !ok {
		return domain.OrganizationInvitation{}, domain.NotFoundError{Kind: "invitation", ID: id}
	}
	if expectVersion > 0 && current.Version != expectVersion {
		return domain.OrganizationInvitation{}, domain.ConflictError{Kind: "invitation", Reason: fmt.Sprintf("version %d is stale, row is at %d", expectVersion, current.Version)}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.OrganizationInvitation{}, err
	}
	current.ID = before.ID
	current.CreatedAt = before.CreatedAt
	current.Version = before.Version + 1
	current.UpdatedAt = tx.now
	tx.state.invitations[id] = current
	tx.record(domain.Change{Kind: domain.KindInvitation, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateMember stores a membership row.
func (tx *Tx) CreateMember(m domain.OrganizationMember) (domain.OrganizationMember, error) {
	if m.OrganizationID == "" || m.UserID == "" {
		return domain.OrganizationMember{}, domain.ConflictError{Kind: "member", Reason: "organization and user are required"}
	}
	if !domain.ValidRole(m.Role) {
		return domain.OrganizationMember{}, domain.ConflictError{Kind: "member", Reason: fmt.Sprintf("unknown role %q", m.Role)}
	}
	if m.ID == "" {
		m.ID = newRowID()
	}
	if _, exists := tx.state.members[m.ID]; exists {
		return domain.OrganizationMember{}, domain.ConflictError{Kind: "member", Reason: fmt.Sprintf("id %s already exists", m.ID)}
	}
	m.Version = 1
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.members[m.ID] = m
	tx.record(domain.Change{Kind: domain.KindMember, Action: domain.ActionCreate, After: m})
	return m, nil
}

// UpdateMember mutates a membership row under an optional version check.
func (tx *Tx) UpdateMember(id string, expectVersion int64, mutator func(*domain.OrganizationMember) error) (domain.OrganizationMember, error) {
	current, ok := tx.state.members[id]
	if !ok {
		return domain.OrganizationMember{}, domain.NotFoundError{Kind: "member", ID: id}
	}
	if expectVersion > 0 && current.Version != expectVersion {
		return domain.OrganizationMember{}, domain.ConflictError{Kind: "member", Reason: fmt.Sprintf("version %d is stale, row is at %d", expectVersion, current.Version)}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.OrganizationMember{}, err
	}
	current.ID = before.ID
	current.CreatedAt = before.CreatedAt
	current.Version = before.Version + 1
	current.UpdatedAt = tx.now
	tx.state.members[id] = current
	tx.record(domain.Change{Kind: domain.KindMember, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateRemovalRequest stores a pending removal request.
func (tx *Tx) CreateRemovalRequest(r domain.MembershipRemovalRequest) (domain.MembershipRemovalRequest, error) {
	if r.OrganizationID == "" || r.MemberID == "" {
		return domain.MembershipRemovalRequest{}, domain.ConflictError{Kind: "removal_request", Reason: "organization and member are required"}
	}
	if r.ID == "" {
		r.ID = newRowID()
	}
	if _, exists := tx.state.removals[r.ID]; exists {
		return domain.MembershipRemovalRequest{}, domain.ConflictError{Kind: "removal_request", Reason: fmt.Sprintf("id %s already exists", r.ID)}
	}
	r.Status = domain.RemovalPending
	r.Version = 1
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.removals[r.ID] = r
	tx.record(domain.Change{Kind: domain.KindRemovalRequest, Action: domain.ActionCreate, After: r})
	return r, nil
}

// UpdateRemovalRequest mutates a removal request under an optional version check.
func (tx *Tx) UpdateRemovalRequest(id string, expectVersion int64, mutator func(*domain.MembershipRemovalRequest) error) (domain.MembershipRemovalRequest, error) {
	current, ok := tx.state.removals[id]
	if !ok {
		return domain.MembershipRemovalRequest{}, domain.NotFoundError{Kind: "removal_request", ID: id}
	}
	if expectVersion > 0 && current.Version != expectVersion {
		return domain.MembershipRemovalRequest{}, domain.ConflictError{Kind: "removal_request", Reason: fmt.Sprintf("version %d is stale, row is at %d", expectVersion, current.Version)}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.MembershipRemovalRequest{}, err
	}
	current.ID = before.ID
	current.CreatedAt = before.CreatedAt
	current.Version = before.Version + 1
	current.UpdatedAt = tx.now
	tx.state.removals[id] = current
	tx.record(domain.Change{Kind: domain.KindRemovalRequest, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// Read side of the transaction ----------------------------------------------

// FindEntity retrieves an entity from the transactional state.
func (tx *Tx) FindEntity(id string) (domain.Entity, bool) { return findEntity(tx.state, id) }

// ListEntities queries the transactional state.
func (tx *Tx) ListEntities(filter domain.EntityFilter) []domain.Entity {
	return listEntities(tx.state, filter)
}

// FindEvent retrieves an event by its monotonic id.
func (tx *Tx) FindEvent(id int64) (domain.Event, bool) { return findEvent(tx.state, id) }

// ListEvents queries the transactional event log.
func (tx *Tx) ListEvents(filter domain.EventFilter) []domain.Event {
	return listEvents(tx.state, filter)
}

// ListRelationships queries the transactional edge set.
func (tx *Tx) ListRelationships(filter domain.RelationshipFilter) []domain.Relationship {
	return listRelationships(tx.state, filter)
}

// FindInvitation retrieves an invitation row.
func (tx *Tx) FindInvitation(id string) (domain.OrganizationInvitation, bool) {
	inv, ok := tx.state.invitations[id]
	return inv, ok
}

// ListInvitations returns the organization's invitations.
func (tx *Tx) ListInvitations(organizationID string) []domain.OrganizationInvitation {
	return listInvitations(tx.state, organizationID)
}

// FindMember retrieves a membership row.
func (tx *Tx) FindMember(id string) (domain.OrganizationMember, bool) {
	m, ok := tx.state.members[id]
	return m, ok
}

// ListMembers returns the organization's membership rows.
func (tx *Tx) ListMembers(organizationID string) []domain.OrganizationMember {
	return listMembers(tx.state, organizationID)
}

// FindRemovalRequest retrieves a removal request row.
func (tx *Tx) FindRemovalRequest(id string) (domain.MembershipRemovalRequest, bool) {
	r, ok := tx.state.removals[id]
	return r, ok
}

// view adapts a state pointer to the read-only TransactionView contract.
type view struct {
	state *state
}

var _ domain.TransactionView = (*view)(nil)

func (v *view) FindEntity(id string) (domain.Entity, bool) { return findEntity(v.state, id) }
func (v *view) ListEntities(filter domain.EntityFilter) []domain.Entity {
	return listEntities(v.state, filter)
}
func (v *view) FindEvent(id int64) (domain.Event, bool) { return findEvent(v.state, id) }
func (v *view) ListEvents(filter domain.EventFilter) []domain.Event {
	return listEvents(v.state, filter)
}
func (v *view) ListRelationships(filter domain.RelationshipFilter) []domain.Relationship {
	return listRelationships(v.state, filter)
}
func (v *view) FindInvitation(id string) (domain.OrganizationInvitation, bool) {
	inv, ok := v.state.invitations[id]
	return inv, ok
}
func (v *view) ListInvitations(organizationID string) []domain.OrganizationInvitation {
	return listInvitations(v.state, organizationID)
}
func (v *view) FindMember(id string) (domain.OrganizationMember, bool) {
	m, ok := v.state.members[id]
	return m, ok
}
func (v *view) ListMembers(organizationID string) []domain.OrganizationMember {
	return listMembers(v.state, organizationID)
}
func (v *view) FindRemovalRequest(id string) (domain.MembershipRemovalRequest, bool) {
	r, ok := v.state.removals[id]
	return r, ok
}

// Query helpers --------------------------------------------------------------

func findEntity(s *state, id string) (domain.Entity, bool) {
	e, ok := s.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return e.Clone(), true
}

func listEntities(s *state, filter domain.EntityFilter) []domain.Entity {
	out := make([]domain.Entity, 0)
	for _, e := range s.entities {
		if !matchEntity(e, filter) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func matchEntity(e domain.Entity, filter domain.EntityFilter) bool {
	if filter.EntityType != "" && e.EntityType != filter.EntityType {
		return false
	}
	if filter.OrganizationID != nil {
		if e.OrganizationID == nil || *e.OrganizationID != *filter.OrganizationID {
			return false
		}
	}
	if filter.Name != "" && e.Name != filter.Name {
		return false
	}
	if filter.Status != "" && e.Status != filter.Status {
		return false
	}
	if !filter.IncludeArchived && filter.Status == "" && e.Archived() {
		return false
	}
	for key, want := range filter.PropertyEquals {
		got, ok := e.GetProperty(key)
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	for key, candidates := range filter.PropertyIn {
		got, ok := e.GetProperty(key)
		if !ok {
			return false
		}
		matched := false
		for _, want := range candidates {
			if reflect.DeepEqual(got, want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func findEvent(s *state, id int64) (domain.Event, bool) {
	for i := range s.events {
		if s.events[i].ID == id {
			return s.events[i].Clone(), true
		}
	}
	return domain.Event{}, false
}

func listEvents(s *state, filter domain.EventFilter) []domain.Event {
	out := make([]domain.Event, 0)
	for _, ev := range s.events {
		if filter.EntityID != "" && ev.EntityID != filter.EntityID {
			continue
		}
		if filter.EventType != "" && ev.EventType != filter.EventType {
			continue
		}
		if filter.From != nil && ev.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !ev.Timestamp.Before(*filter.To) {
			continue
		}
		out = append(out, ev.Clone())
	}
	return out
}

func listRelationships(s *state, filter domain.RelationshipFilter) []domain.Relationship {
	out := make([]domain.Relationship, 0)
	for _, r := range s.relationships {
		if filter.FromEntity != "" && r.FromEntity != filter.FromEntity {
			continue
		}
		if filter.ToEntity != "" && r.ToEntity != filter.ToEntity {
			continue
		}
		if filter.RelationshipType != "" && r.RelationshipType != filter.RelationshipType {
			continue
		}
		if filter.ValidAt != nil && !r.IsValidAt(*filter.ValidAt) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listInvitations(s *state, organizationID string) []domain.OrganizationInvitation {
	out := make([]domain.OrganizationInvitation, 0)
	for _, inv := range s.invitations {
		if organizationID != "" && inv.OrganizationID != organizationID {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listMembers(s *state, organizationID string) []domain.OrganizationMember {
	out := make([]domain.OrganizationMember, 0)
	for _, m := range s.members {
		if organizationID != "" && m.OrganizationID != organizationID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
