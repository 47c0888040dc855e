package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/codec"
	"labcore/pkg/domain"
)

func TestCreateEntityStampsDefaults(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()

	var created domain.Entity
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateEntity(domain.Entity{EntityType: domain.EntityDevice, Name: "incubator-1"})
		return err
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	if created.ID == "" {
		t.Fatal("id not assigned")
	}
	if created.Properties == nil || len(created.Properties) != 0 {
		t.Fatalf("properties not defaulted to empty map: %#v", created.Properties)
	}
	if created.Status != domain.StatusActive {
		t.Fatalf("unexpected status %s", created.Status)
	}
	if created.Version != 1 {
		t.Fatalf("unexpected version %d", created.Version)
	}
	if created.CreatedAt.IsZero() || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Fatal("timestamps not stamped together")
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateEntity(domain.Entity{Name: "missing type"})
		return err
	}); !domain.IsConflict(err) {
		t.Fatalf("missing entity_type should be rejected, got %v", err)
	}
}

func TestRolledBackTransactionLeavesNothing(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()

	boom := fmt.Errorf("boom")
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		entity, err := tx.CreateEntity(domain.Entity{EntityType: domain.EntityDevice, Name: "ghost"})
		if err != nil {
			return err
		}
		if _, err := tx.AppendEvent(domain.Event{
			EventType:  domain.EventEntityCreated,
			EntityID:   entity.ID,
			EntityType: entity.EntityType,
		}); err != nil {
			return err
		}
		return boom
	})
	if err == nil {
		t.Fatal("expected transaction error")
	}

	if got := store.ListEntities(domain.EntityFilter{EntityType: domain.EntityDevice}); len(got) != 0 {
		t.Fatalf("entity leaked past rollback: %#v", got)
	}
	if got := store.ListEvents(domain.EventFilter{}); len(got) != 0 {
		t.Fatalf("event leaked past rollback: %#v", got)
	}
}

func TestUpdateEntityVersionCheck(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()

	entity := seedEntity(t, store, domain.EntityDevice, "incubator-1")

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateEntity(entity.ID, entity.Version, func(e *domain.Entity) error {
			e.SetProperty("serial", "SN-1")
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("versioned update failed: %v", err)
	}

	// The same expected version again is now stale.
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateEntity(entity.ID, entity.Version, func(e *domain.Entity) error {
			e.SetProperty("serial", "SN-2")
			return nil
		})
		return err
	})
	if !domain.IsConflict(err) {
		t.Fatalf("stale version should conflict, got %v", err)
	}

	updated, ok := store.GetEntity(entity.ID)
	if !ok {
		t.Fatal("entity vanished")
	}
	if updated.Properties["serial"] != "SN-1" {
		t.Fatalf("stale write applied: %#v", updated.Properties)
	}
	if updated.Version != 2 {
		t.Fatalf("unexpected version %d", updated.Version)
	}
}

func TestUpdateEntityPreservesDiscriminator(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()
	entity := seedEntity(t, store, domain.EntityDevice, "incubator-1")

	var updated domain.Entity
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateEntity(entity.ID, 0, func(e *domain.Entity) error {
			e.EntityType = domain.EntityUser // must not stick
			e.Description = "updated"
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.EntityType != domain.EntityDevice {
		t.Fatalf("discriminator mutated to %s", updated.EntityType)
	}
	if updated.Description != "updated" {
		t.Fatal("legitimate mutation lost")
	}
}

func TestEventLogMonotonicIDs(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()
	entity := seedEntity(t, store, domain.EntityDevice, "sensor-1")

	for i := 0; i < 3; i++ {
		if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.AppendEvent(domain.Event{
				EventType:  domain.EventReading,
				EntityID:   entity.ID,
				EntityType: entity.EntityType,
				Data:       map[string]any{"sensor_type": "temperature", "value": float64(i)},
			})
			return err
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	events := store.ListEvents(domain.EventFilter{EntityID: entity.ID})
	if len(events) != 4 { // creation audit event + three readings
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID <= events[i-1].ID {
			t.Fatalf("ids not monotonic: %d then %d", events[i-1].ID, events[i].ID)
		}
	}
}

func TestEventTimeRangeFilterHalfOpen(t *testing.T) {
	store := memory.NewStore(nil)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	current := base
	store.SetNowFunc(func() time.Time { return current })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		current = base.Add(time.Duration(i) * time.Hour)
		if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.AppendEvent(domain.Event{EventType: domain.EventReading, EntityID: "dev-1"})
			return err
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	from := base.Add(1 * time.Hour)
	to := base.Add(2 * time.Hour)
	events := store.ListEvents(domain.EventFilter{From: &from, To: &to})
	if len(events) != 1 {
		t.Fatalf("half-open range should match exactly one event, got %d", len(events))
	}
	if !events[0].Timestamp.Equal(from) {
		t.Fatalf("unexpected event at %v", events[0].Timestamp)
	}
}

func TestUpdateEventData(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()

	var command domain.Event
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		command, err = tx.AppendEvent(domain.Event{
			EventType: domain.EventCommand,
			EntityID:  "dev-1",
			Data:      map[string]any{"command": "calibrate", "status": domain.CommandPending},
		})
		return err
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateEventData(command.ID, func(data map[string]any) error {
			data["status"] = domain.CommandCompleted
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update payload: %v", err)
	}

	events := store.ListEvents(domain.EventFilter{EventType: domain.EventCommand})
	if len(events) != 1 || events[0].Data["status"] != domain.CommandCompleted {
		t.Fatalf("payload mutation lost: %#v", events)
	}

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateEventData(9999, func(map[string]any) error { return nil })
		return err
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("missing event should be NotFound, got %v", err)
	}
}

func TestRelationshipStrengthValidation(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateRelationship(domain.Relationship{
			FromEntity:       "a",
			ToEntity:         "b",
			RelationshipType: "linked",
			Strength:         1.5,
		})
		return err
	})
	if !domain.IsConflict(err) {
		t.Fatalf("strength outside [0,1] should be rejected, got %v", err)
	}
}

func TestCloseRelationship(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()

	var rel domain.Relationship
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		rel, err = tx.CreateRelationship(domain.Relationship{
			FromEntity:       "exp-1",
			ToEntity:         "dev-1",
			RelationshipType: domain.RelationExperimentDevice,
			Strength:         1,
		})
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	closeAt := rel.ValidFrom.Add(time.Minute)
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CloseRelationship(rel.ID, closeAt)
		return err
	}); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Closing twice conflicts.
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CloseRelationship(rel.ID, closeAt.Add(time.Minute))
		return err
	})
	if !domain.IsConflict(err) {
		t.Fatalf("double close should conflict, got %v", err)
	}

	valid := closeAt.Add(-time.Second)
	if err := store.View(ctx, func(view domain.TransactionView) error {
		open := view.ListRelationships(domain.RelationshipFilter{ValidAt: &valid})
		if len(open) != 1 {
			return fmt.Errorf("expected edge valid before close, got %d", len(open))
		}
		after := closeAt
		closed := view.ListRelationships(domain.RelationshipFilter{ValidAt: &after})
		if len(closed) != 0 {
			return fmt.Errorf("edge still valid at close instant")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestPropertyFilters(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()
	org := "org-1"

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for i, model := range []string{"mk1", "mk2", "mk3"} {
			if _, err := tx.CreateEntity(domain.Entity{
				EntityType:     domain.EntityDevice,
				Name:           fmt.Sprintf("dev-%d", i),
				OrganizationID: &org,
				Properties:     map[string]any{"model": model},
			}); err != nil {
				return err
			}
		}
		other := "org-2"
		_, err := tx.CreateEntity(domain.Entity{
			EntityType:     domain.EntityDevice,
			Name:           "foreign",
			OrganizationID: &other,
			Properties:     map[string]any{"model": "mk1"},
		})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	equal := store.ListEntities(domain.EntityFilter{
		EntityType:     domain.EntityDevice,
		OrganizationID: &org,
		PropertyEquals: map[string]any{"model": "mk1"},
	})
	if len(equal) != 1 {
		t.Fatalf("equality filter: expected 1, got %d", len(equal))
	}

	in := store.ListEntities(domain.EntityFilter{
		EntityType:     domain.EntityDevice,
		OrganizationID: &org,
		PropertyIn:     map[string][]any{"model": {"mk1", "mk3"}},
	})
	if len(in) != 2 {
		t.Fatalf("membership filter: expected 2, got %d", len(in))
	}
}

func TestArchivedExcludedByDefault(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()
	entity := seedEntity(t, store, domain.EntityProject, "apollo")

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateEntity(entity.ID, 0, func(e *domain.Entity) error {
			e.Status = domain.StatusArchived
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	if got := store.ListEntities(domain.EntityFilter{EntityType: domain.EntityProject}); len(got) != 0 {
		t.Fatalf("archived entity should be hidden, got %d", len(got))
	}
	if got := store.ListEntities(domain.EntityFilter{EntityType: domain.EntityProject, IncludeArchived: true}); len(got) != 1 {
		t.Fatalf("archived entity should be reachable explicitly, got %d", len(got))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()
	entity := seedEntity(t, store, domain.EntityDevice, "sensor-1")

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.AppendEvent(domain.Event{EventType: domain.EventReading, EntityID: entity.ID}); err != nil {
			return err
		}
		_, err := tx.CreateInvitation(domain.OrganizationInvitation{
			OrganizationID: "org-1",
			Email:          "new@acme.test",
			Role:           domain.RoleMember,
		})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snapshot := store.ExportState()
	restored := memory.NewStore(nil)
	restored.ImportState(snapshot)

	if _, ok := restored.GetEntity(entity.ID); !ok {
		t.Fatal("entity lost in snapshot round trip")
	}
	if events := restored.ListEvents(domain.EventFilter{}); len(events) != len(store.ListEvents(domain.EventFilter{})) {
		t.Fatal("events lost in snapshot round trip")
	}

	// Appends after import must continue the monotonic sequence.
	var next domain.Event
	if _, err := restored.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		next, err = tx.AppendEvent(domain.Event{EventType: domain.EventReading, EntityID: entity.ID})
		return err
	}); err != nil {
		t.Fatalf("append after import: %v", err)
	}
	if next.ID <= snapshot.EventSeq {
		t.Fatalf("sequence regressed: %d <= %d", next.ID, snapshot.EventSeq)
	}
}

func TestImportStateDropsMangledRows(t *testing.T) {
	keep := codec.NewID().String()
	store := memory.NewStore(nil)
	store.ImportState(memory.Snapshot{
		Entities: []domain.Entity{
			{ID: keep, EntityType: domain.EntityDevice, Name: "kept", Status: domain.StatusActive, Version: 1},
			{ID: "not-a-uuid", EntityType: domain.EntityDevice, Name: "mangled", Status: domain.StatusActive, Version: 1},
		},
		Invitations: []domain.OrganizationInvitation{{
			ID:             "also-not-a-uuid",
			OrganizationID: keep,
			Email:          "x@acme.test",
			Role:           domain.RoleMember,
			Status:         domain.InvitationPending,
		}},
	})

	if _, ok := store.GetEntity(keep); !ok {
		t.Fatal("well-formed row lost on import")
	}
	if _, ok := store.GetEntity("not-a-uuid"); ok {
		t.Fatal("mangled entity id survived import")
	}
	if got := store.ListEntities(domain.EntityFilter{IncludeArchived: true}); len(got) != 1 {
		t.Fatalf("expected 1 hydrated entity, got %d", len(got))
	}
	if err := store.View(context.Background(), func(view domain.TransactionView) error {
		if invs := view.ListInvitations(keep); len(invs) != 0 {
			t.Fatalf("mangled invitation id survived import: %v", invs)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

type blockEverything struct{}

func (blockEverything) Name() string { return "block_everything" }

func (blockEverything) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{
		Rule:     "block_everything",
		Severity: domain.SeverityBlock,
		Message:  "no writes allowed",
	}}}, nil
}

func TestBlockingRuleRollsBack(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockEverything{})
	store := memory.NewStore(engine)
	ctx := context.Background()

	res, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateEntity(domain.Entity{EntityType: domain.EntityDevice, Name: "blocked"})
		return err
	})
	if err == nil {
		t.Fatal("expected rule violation error")
	}
	if !domain.IsBusinessRuleViolation(err) {
		t.Fatalf("blocking result should map to business rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatal("result should carry the blocking violation")
	}
	if got := store.ListEntities(domain.EntityFilter{EntityType: domain.EntityDevice}); len(got) != 0 {
		t.Fatalf("blocked write leaked: %#v", got)
	}
}

func seedEntity(t *testing.T, store *memory.Store, entityType domain.EntityType, name string) domain.Entity {
	t.Helper()
	var created domain.Entity
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateEntity(domain.Entity{EntityType: entityType, Name: name})
		if err != nil {
			return err
		}
		_, err = tx.AppendEvent(domain.Event{
			EventType:  domain.EventEntityCreated,
			EntityID:   created.ID,
			EntityType: created.EntityType,
		})
		return err
	}); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return created
}
