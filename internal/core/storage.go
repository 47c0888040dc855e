package core

import (
	"fmt"
	"os"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/postgres"
	"labcore/internal/infra/persistence/sqlite"
	"labcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

func newMemoryStore(engine *domain.RulesEngine) *memory.Store {
	return memory.NewStore(engine)
}

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	LABCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	LABCORE_SQLITE_PATH: path to sqlite file (default ./labcore.db)
//	LABCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("LABCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := os.Getenv("LABCORE_SQLITE_PATH")
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		dsn := os.Getenv("LABCORE_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
