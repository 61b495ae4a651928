package database

import (
	"fmt"

	"hubsync/internal/config"
)

// NewStoreFromConfig opens and migrates a local store for actorID based on the
// store config type. Remote stores are built by the remote package.
func NewStoreFromConfig(cfg config.StoreConfig, actorID string) (*SQLiteStore, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite store")
		}
		path = cfg.Path
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}

	store, err := NewSQLiteStore(path, actorID, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}
	return store, nil
}
