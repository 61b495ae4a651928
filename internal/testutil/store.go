package testutil

import (
	"context"
	"testing"

	"hubsync/internal/database"
	"hubsync/internal/model"
)

// AdminID is the profile bootstrapped into every test store.
const AdminID = "admin-1"

// NewTestStore creates a migrated in-memory store acting as AdminID, with
// the admin profile already present. It is closed when the test completes.
func NewTestStore(t *testing.T, clock *StubClock) *database.SQLiteStore {
	t.Helper()

	if clock == nil {
		clock = FixedClock()
	}
	store, err := database.NewSQLiteStore(":memory:", AdminID, clock, NewStubIDGenerator("row"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	admin := &model.Profile{ID: AdminID, Username: "admin", Role: model.RoleAdmin}
	if err := store.Bootstrap(context.Background(), admin); err != nil {
		t.Fatalf("failed to bootstrap admin: %v", err)
	}
	return store
}

// AddProfile writes p through the admin view of store.
func AddProfile(t *testing.T, store *database.SQLiteStore, p *model.Profile) {
	t.Helper()
	if err := store.WithActor(AdminID).UpsertProfile(context.Background(), p); err != nil {
		t.Fatalf("failed to add profile %s: %v", p.ID, err)
	}
}

// AddSection writes a section with the given types as the admin.
func AddSection(t *testing.T, store *database.SQLiteStore, id string, types ...string) *model.Section {
	t.Helper()
	section := &model.Section{ID: id, Name: id}
	for _, typ := range types {
		section.Config.Types = append(section.Config.Types, model.TypeDef{ID: typ, Name: typ, Key: id + ":" + typ})
	}
	if err := store.WithActor(AdminID).UpsertSection(context.Background(), section); err != nil {
		t.Fatalf("failed to add section %s: %v", id, err)
	}
	return section
}
