package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"labcore/pkg/domain"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	var device domain.Entity
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var e error
		device, e = tx.CreateEntity(domain.Entity{EntityType: domain.EntityDevice, Name: "incubator-1"})
		if e != nil {
			return e
		}
		_, e = tx.AppendEvent(domain.Event{
			EventType:  domain.EventEntityCreated,
			EntityID:   device.ID,
			EntityType: device.EntityType,
		})
		return e
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.DB().Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.DB().Close() })
	if _, ok := reloaded.GetEntity(device.ID); !ok {
		t.Fatal("entity missing after reload")
	}
	if got := len(reloaded.ListEvents(domain.EventFilter{EntityID: device.ID})); got != 1 {
		t.Fatalf("expected 1 event, got %d", got)
	}

	// The restored sequence must not reuse ids from the previous run.
	var next domain.Event
	if _, err := reloaded.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var e error
		next, e = tx.AppendEvent(domain.Event{EventType: domain.EventReading, EntityID: device.ID})
		return e
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if next.ID != 2 {
		t.Fatalf("expected sequence to continue at 2, got %d", next.ID)
	}
}

func TestSQLiteStoreCreatesStateTable(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.DB().Close() })
	var tableName string
	if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='state'").Scan(&tableName); err != nil {
		t.Fatalf("lookup state table: %v", err)
	}
	if tableName != "state" {
		t.Fatalf("expected state table, got %s", tableName)
	}
}

func TestSQLiteStoreEmptyDatabaseStartsClean(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.DB().Close() })
	if got := store.ListEntities(domain.EntityFilter{}); len(got) != 0 {
		t.Fatalf("fresh store should be empty, got %d entities", len(got))
	}
}
