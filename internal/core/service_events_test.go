package core

import (
	"context"
	"testing"

	"labcore/pkg/domain"
)

func deviceFixture(t *testing.T) (*fixture, domain.Entity) {
	t.Helper()
	f := newFixture(t)
	device := f.createScoped(t, domain.EntityDevice, "incubator-1", map[string]any{"serial": "SN-1"})
	return f, device
}

func TestRecordReadingAndLatestPerType(t *testing.T) {
	f, device := deviceFixture(t)
	ctx := context.Background()

	samples := []struct {
		sensor string
		value  float64
	}{
		{"temperature", 21.5},
		{"humidity", 40},
		{"temperature", 22.5},
	}
	for _, sample := range samples {
		if _, _, err := f.svc.RecordReading(ctx, f.admin, device.ID, sample.sensor, sample.value, "si"); err != nil {
			t.Fatalf("record %s: %v", sample.sensor, err)
		}
	}

	latest, err := f.svc.LatestReadingsPerType(ctx, f.admin, device.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 sensor types, got %d", len(latest))
	}
	if v, ok := latest["temperature"].Value(); !ok || v != 22.5 {
		t.Fatalf("latest temperature %v %v", v, ok)
	}
	if v, ok := latest["humidity"].Value(); !ok || v != 40 {
		t.Fatalf("latest humidity %v %v", v, ok)
	}
}

func TestRecordReadingEvaluatesAlertRules(t *testing.T) {
	f, device := deviceFixture(t)
	ctx := context.Background()

	f.createScoped(t, domain.EntityAlertRule, "overheat", map[string]any{
		"metric":    "temperature",
		"condition": "greater_than",
		"threshold": 30.0,
		"enabled":   true,
	})
	f.createScoped(t, domain.EntityAlertRule, "overheat-disabled", map[string]any{
		"metric":    "temperature",
		"condition": "greater_than",
		"threshold": 10.0,
		"enabled":   false,
	})

	if _, _, err := f.svc.RecordReading(ctx, f.admin, device.ID, "temperature", 25, "C"); err != nil {
		t.Fatalf("below threshold: %v", err)
	}
	if alerts := f.store.ListEvents(domain.EventFilter{EntityID: device.ID, EventType: domain.EventAlertTriggered}); len(alerts) != 0 {
		t.Fatalf("no alert expected below threshold, got %d", len(alerts))
	}

	if _, _, err := f.svc.RecordReading(ctx, f.admin, device.ID, "temperature", 35, "C"); err != nil {
		t.Fatalf("above threshold: %v", err)
	}
	alerts := f.store.ListEvents(domain.EventFilter{EntityID: device.ID, EventType: domain.EventAlertTriggered})
	if len(alerts) != 1 {
		t.Fatalf("expected one alert from the enabled rule, got %d", len(alerts))
	}
	occurrence, err := domain.AsAlertOccurrence(alerts[0])
	if err != nil {
		t.Fatalf("narrow: %v", err)
	}
	if v, ok := occurrence.ObservedValue(); !ok || v != 35 {
		t.Fatalf("observed value %v %v", v, ok)
	}
}

func TestCommandLifecycle(t *testing.T) {
	f, device := deviceFixture(t)
	ctx := context.Background()

	command, _, err := f.svc.IssueCommand(ctx, f.admin, device.ID, "calibrate", map[string]any{"mode": "fast"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if command.Status() != domain.CommandPending {
		t.Fatalf("commands start pending, got %s", command.Status())
	}

	sent, _, err := f.svc.TransitionCommand(ctx, f.admin, command.ID, domain.CommandSent, nil)
	if err != nil {
		t.Fatalf("sent: %v", err)
	}
	completed, _, err := f.svc.TransitionCommand(ctx, f.admin, sent.ID, domain.CommandCompleted, map[string]any{"exit": 0.0})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status() != domain.CommandCompleted {
		t.Fatalf("unexpected status %s", completed.Status())
	}
	if _, ok := completed.Result(); !ok {
		t.Fatal("result payload missing")
	}

	// Terminal commands accept no further transitions.
	if _, _, err := f.svc.TransitionCommand(ctx, f.admin, completed.ID, domain.CommandExecuting, nil); !domain.IsConflict(err) {
		t.Fatalf("terminal transition should conflict, got %v", err)
	}

	// The command identity (verb, event type) never changed across the
	// payload mutations.
	events := f.store.ListEvents(domain.EventFilter{EntityID: device.ID, EventType: domain.EventCommand})
	if len(events) != 1 {
		t.Fatalf("command should remain a single event, got %d", len(events))
	}
	if name := completed.Name(); name != "calibrate" {
		t.Fatalf("command verb mutated: %s", name)
	}
}

func TestTriggerAndAcknowledgeAlert(t *testing.T) {
	f, device := deviceFixture(t)
	ctx := context.Background()

	rule := f.createScoped(t, domain.EntityAlertRule, "manual", map[string]any{
		"metric":    "pressure",
		"condition": "less_than",
		"threshold": 1.0,
		"enabled":   true,
	})

	occurrence, _, err := f.svc.TriggerAlert(ctx, f.admin, rule.ID, device.ID, 0.4)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if occurrence.Acknowledged() {
		t.Fatal("new occurrence should be unacknowledged")
	}

	acked, _, err := f.svc.AcknowledgeAlert(ctx, f.admin, occurrence.ID)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if !acked.Acknowledged() {
		t.Fatal("acknowledge did not stick")
	}
	if _, _, err := f.svc.AcknowledgeAlert(ctx, f.admin, occurrence.ID); !domain.IsConflict(err) {
		t.Fatalf("double acknowledge should conflict, got %v", err)
	}
}

func TestUnscopedDeviceEventsAreSuperuserOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	device, _, err := f.svc.CreateEntity(ctx, root, domain.Entity{
		EntityType: domain.EntityDevice,
		Name:       "bench-rig",
		Properties: map[string]any{"serial": "SN-U"},
	})
	if err != nil {
		t.Fatalf("create device: %v", err)
	}

	command, _, err := f.svc.IssueCommand(ctx, root, device.ID, "reboot", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// Organization admins hold no rights over a device outside any scope.
	if _, _, err := f.svc.TransitionCommand(ctx, f.admin, command.ID, domain.CommandSent, nil); !domain.IsPermissionDenied(err) {
		t.Fatalf("unscoped transition should be denied, got %v", err)
	}
	if _, _, err := f.svc.TransitionCommand(ctx, root, command.ID, domain.CommandSent, nil); err != nil {
		t.Fatalf("superuser transition: %v", err)
	}

	rule, _, err := f.svc.CreateEntity(ctx, root, domain.Entity{
		EntityType: domain.EntityAlertRule,
		Name:       "bench-low-pressure",
		Properties: map[string]any{
			"metric":    "pressure",
			"condition": "less_than",
			"threshold": 1.0,
			"enabled":   true,
		},
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	occurrence, _, err := f.svc.TriggerAlert(ctx, root, rule.ID, device.ID, 0.2)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, _, err := f.svc.AcknowledgeAlert(ctx, f.admin, occurrence.ID); !domain.IsPermissionDenied(err) {
		t.Fatalf("unscoped acknowledge should be denied, got %v", err)
	}
	if _, _, err := f.svc.AcknowledgeAlert(ctx, root, occurrence.ID); err != nil {
		t.Fatalf("superuser acknowledge: %v", err)
	}
}

func TestRecordReadingRejectsArchivedDevice(t *testing.T) {
	f, device := deviceFixture(t)
	ctx := context.Background()

	if _, _, err := f.svc.ArchiveEntity(ctx, f.admin, device.ID, 0); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, _, err := f.svc.RecordReading(ctx, f.admin, device.ID, "temperature", 20, "C"); !domain.IsConflict(err) {
		t.Fatalf("archived device should reject readings, got %v", err)
	}
}
