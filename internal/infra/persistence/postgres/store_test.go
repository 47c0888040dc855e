package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/postgres/testutil"
	"labcore/pkg/domain"
)

const seededDeviceID = "5f3a9c1e-8d42-4b67-9a15-2c7e0f84d3a6"

func TestNewStoreEnsuresStateTableAndLoadsSnapshot(t *testing.T) {
	db, conn := testutil.NewStubDB()
	seedSnapshot(t, conn, memory.Snapshot{
		Entities: []domain.Entity{{
			ID:         seededDeviceID,
			EntityType: domain.EntityDevice,
			Name:       "incubator-1",
			Status:     domain.StatusActive,
			Version:    1,
			CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
		EventSeq: 7,
	})

	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := store.GetEntity(seededDeviceID); !ok {
		t.Fatal("expected entity hydrated from snapshot")
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE") {
			sawDDL = true
			break
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.Execs)
	}

	// The hydrated sequence must continue past the persisted value.
	var next domain.Event
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var e error
		next, e = tx.AppendEvent(domain.Event{EventType: domain.EventReading, EntityID: seededDeviceID})
		return e
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if next.ID != 8 {
		t.Fatalf("expected event id 8, got %d", next.ID)
	}
}

func TestRunInTransactionPersistsBuckets(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateEntity(domain.Entity{EntityType: domain.EntityOrganization, Name: "Acme Labs"})
		return e
	}); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}

	rows := conn.Tables["state"]
	buckets := map[string]bool{}
	for _, row := range rows {
		bucket, _ := row["bucket"].(string)
		buckets[bucket] = true
	}
	for _, want := range postgresBuckets {
		if !buckets[want] {
			t.Fatalf("bucket %s not persisted, got %v", want, buckets)
		}
	}

	var entities []domain.Entity
	for _, row := range rows {
		if row["bucket"] != "entities" {
			continue
		}
		payload, _ := row["payload"].([]byte)
		if err := json.Unmarshal(payload, &entities); err != nil {
			t.Fatalf("decode entities payload: %v", err)
		}
	}
	if len(entities) != 1 || entities[0].Name != "Acme Labs" {
		t.Fatalf("unexpected persisted entities: %#v", entities)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	if _, err := NewStore("", domain.NewRulesEngine()); err == nil {
		t.Fatal("expected ping failure to surface")
	}
}

func TestPersistRollsBackOnCommitFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailCommit = true
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateEntity(domain.Entity{EntityType: domain.EntityDevice, Name: "x"})
		return e
	}); err == nil {
		t.Fatal("expected commit failure to surface")
	}
}

func seedSnapshot(t *testing.T, conn *testutil.StubConn, snapshot memory.Snapshot) {
	t.Helper()
	for _, bucket := range postgresBuckets {
		target, ok := snapshotTarget(&snapshot, bucket)
		if !ok {
			continue
		}
		payload, err := json.Marshal(target)
		if err != nil {
			t.Fatalf("encode %s: %v", bucket, err)
		}
		conn.Tables["state"] = append(conn.Tables["state"], map[string]any{
			"bucket":  bucket,
			"payload": payload,
		})
	}
}
