package domain_test

import (
	"testing"
	"time"

	"labcore/pkg/domain"
)

func TestRelationshipHalfOpenInterval(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until := t0.Add(10 * time.Second)
	rel := domain.Relationship{
		FromEntity:       "exp-1",
		ToEntity:         "dev-1",
		RelationshipType: domain.RelationExperimentDevice,
		Strength:         1.0,
		ValidFrom:        t0,
		ValidTo:          &until,
	}
	if !rel.IsValidAt(t0.Add(5 * time.Second)) {
		t.Fatal("T0+5 should be valid")
	}
	if rel.IsValidAt(t0.Add(10 * time.Second)) {
		t.Fatal("T0+10 should be invalid (half-open)")
	}
	if rel.IsValidAt(t0.Add(-1 * time.Second)) {
		t.Fatal("T0-1 should be invalid")
	}
	if !rel.IsValidAt(t0) {
		t.Fatal("T0 itself should be valid")
	}
}

func TestRelationshipOpenEnded(t *testing.T) {
	t0 := time.Now().UTC()
	rel := domain.Relationship{ValidFrom: t0}
	if !rel.IsValidAt(t0.Add(24 * time.Hour)) {
		t.Fatal("open-ended relationship should stay valid")
	}
}

func TestEntityPropertyAccessors(t *testing.T) {
	e := domain.Entity{EntityType: domain.EntityDevice}
	if _, ok := e.GetProperty("serial"); ok {
		t.Fatal("unexpected property on empty map")
	}
	e.SetProperty("serial", "DEV-9")
	got, ok := e.GetProperty("serial")
	if !ok || got != "DEV-9" {
		t.Fatalf("expected DEV-9, got %v", got)
	}
	if e.StringProperty("missing", "fallback") != "fallback" {
		t.Fatal("fallback not applied")
	}
	e.SetProperty("count", 3)
	if e.StringProperty("count", "fallback") != "fallback" {
		t.Fatal("mistyped property should fall back")
	}
}

func TestEntityCloneIsolation(t *testing.T) {
	org := "org-1"
	e := domain.Entity{
		ID:             "dev-1",
		EntityType:     domain.EntityDevice,
		Properties:     map[string]any{"nested": map[string]any{"k": "v"}},
		OrganizationID: &org,
	}
	cp := e.Clone()
	cp.Properties["nested"].(map[string]any)["k"] = "mutated"
	*cp.OrganizationID = "org-2"
	if e.Properties["nested"].(map[string]any)["k"] != "v" {
		t.Fatal("clone shares nested property map")
	}
	if *e.OrganizationID != "org-1" {
		t.Fatal("clone shares organization pointer")
	}
}

func TestArchivedStatuses(t *testing.T) {
	for _, status := range []string{domain.StatusArchived, domain.StatusInactive} {
		e := domain.Entity{Status: status}
		if !e.Archived() {
			t.Fatalf("status %s should count as archived", status)
		}
	}
	active := domain.Entity{Status: domain.StatusActive}
	if active.Archived() {
		t.Fatal("active should not count as archived")
	}
}
