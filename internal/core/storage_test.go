package core

import (
	"path/filepath"
	"strings"
	"testing"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	t.Setenv("LABCORE_STORAGE_DRIVER", "memory")
	store, err := OpenPersistentStore(NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenPersistentStoreSQLiteDefault(t *testing.T) {
	t.Setenv("LABCORE_STORAGE_DRIVER", "")
	path := filepath.Join(t.TempDir(), "labcore.db")
	t.Setenv("LABCORE_SQLITE_PATH", path)
	store, err := OpenPersistentStore(NewDefaultRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	st, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}
	defer st.Close()
	if st.Path() != path {
		t.Fatalf("unexpected sqlite path %q", st.Path())
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	t.Setenv("LABCORE_STORAGE_DRIVER", "etcd")
	if _, err := OpenPersistentStore(NewDefaultRulesEngine()); err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}
