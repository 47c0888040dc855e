package memory

import (
	"sort"

	"labcore/pkg/codec"
	"labcore/pkg/domain"
)

// Snapshot is the full serializable state used by the durable drivers to
// hydrate and persist the store.
type Snapshot struct {
	Entities      []domain.Entity                   `json:"entities"`
	Events        []domain.Event                    `json:"events"`
	EventSeq      int64                             `json:"event_seq"`
	Relationships []domain.Relationship             `json:"relationships"`
	Invitations   []domain.OrganizationInvitation   `json:"invitations"`
	Members       []domain.OrganizationMember       `json:"members"`
	Removals      []domain.MembershipRemovalRequest `json:"removals"`
}

// ExportState captures committed state for persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := Snapshot{EventSeq: s.state.eventSeq}
	for _, e := range s.state.entities {
		snapshot.Entities = append(snapshot.Entities, e.Clone())
	}
	sort.Slice(snapshot.Entities, func(i, j int) bool { return snapshot.Entities[i].ID < snapshot.Entities[j].ID })
	for _, ev := range s.state.events {
		snapshot.Events = append(snapshot.Events, ev.Clone())
	}
	for _, r := range s.state.relationships {
		snapshot.Relationships = append(snapshot.Relationships, r.Clone())
	}
	sort.Slice(snapshot.Relationships, func(i, j int) bool { return snapshot.Relationships[i].ID < snapshot.Relationships[j].ID })
	for _, inv := range s.state.invitations {
		snapshot.Invitations = append(snapshot.Invitations, inv)
	}
	sort.Slice(snapshot.Invitations, func(i, j int) bool { return snapshot.Invitations[i].ID < snapshot.Invitations[j].ID })
	for _, m := range s.state.members {
		snapshot.Members = append(snapshot.Members, m)
	}
	sort.Slice(snapshot.Members, func(i, j int) bool { return snapshot.Members[i].ID < snapshot.Members[j].ID })
	for _, r := range s.state.removals {
		snapshot.Removals = append(snapshot.Removals, r)
	}
	sort.Slice(snapshot.Removals, func(i, j int) bool { return snapshot.Removals[i].ID < snapshot.Removals[j].ID })
	return snapshot
}

// ImportState replaces committed state with the snapshot's contents. Rows
// whose identifiers fail to decode are dropped, property payloads are
// normalized, and the event sequence is healed to at least the highest stored
// event id so future appends stay monotonic even over a partial snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := newState()
	fresh.eventSeq = snapshot.EventSeq
	for _, e := range snapshot.Entities {
		if codec.DecodeID(e.ID) == nil {
			continue
		}
		props, err := codec.DecodeProperties(e.Properties)
		if err != nil {
			continue
		}
		e.Properties = props
		fresh.entities[e.ID] = e.Clone()
	}
	events := make([]domain.Event, 0, len(snapshot.Events))
	for _, ev := range snapshot.Events {
		events = append(events, ev.Clone())
		if ev.ID > fresh.eventSeq {
			fresh.eventSeq = ev.ID
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	fresh.events = events
	for _, r := range snapshot.Relationships {
		if codec.DecodeID(r.ID) == nil {
			continue
		}
		fresh.relationships[r.ID] = r.Clone()
	}
	for _, inv := range snapshot.Invitations {
		if codec.DecodeID(inv.ID) == nil {
			continue
		}
		fresh.invitations[inv.ID] = inv
	}
	for _, m := range snapshot.Members {
		if codec.DecodeID(m.ID) == nil {
			continue
		}
		fresh.members[m.ID] = m
	}
	for _, r := range snapshot.Removals {
		if codec.DecodeID(r.ID) == nil {
			continue
		}
		fresh.removals[r.ID] = r
	}
	s.state = fresh
}
