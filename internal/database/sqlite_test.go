package database_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"hubsync/internal/hub"
	"hubsync/internal/model"
	"hubsync/internal/testutil"
)

func TestSQLiteStore_Bootstrap(t *testing.T) {
	store := testutil.NewTestStore(t, nil)
	ctx := context.Background()

	err := store.Bootstrap(ctx, &model.Profile{ID: "intruder", Role: model.RoleAdmin})
	if !errors.Is(err, hub.ErrPermission) {
		t.Errorf("Bootstrap() on populated store error = %v, want ErrPermission", err)
	}

	p, err := store.GetProfile(ctx, testutil.AdminID)
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if p == nil || !p.IsAdmin() {
		t.Errorf("GetProfile() = %+v, want bootstrapped admin", p)
	}
}

func TestSQLiteStore_Sections(t *testing.T) {
	t.Run("get missing returns nil", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		got, err := store.GetSection(context.Background(), "nope")
		if err != nil {
			t.Fatalf("GetSection() error = %v", err)
		}
		if got != nil {
			t.Errorf("GetSection() = %v, want nil", got)
		}
	})

	t.Run("upsert bumps version and round trips config", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		ctx := context.Background()
		intro := "Start here"
		section := &model.Section{
			ID:   "docs",
			Name: "Docs",
			Config: model.SectionConfig{
				Tabs:  []string{"guides"},
				Types: []model.TypeDef{{ID: "guides", Name: "Guides", Key: "docs:guides"}},
				Intro: &intro,
			},
		}
		if err := store.UpsertSection(ctx, section); err != nil {
			t.Fatalf("UpsertSection() error = %v", err)
		}
		if err := store.UpsertSection(ctx, section); err != nil {
			t.Fatalf("UpsertSection() second error = %v", err)
		}

		got, err := store.GetSection(ctx, "docs")
		if err != nil {
			t.Fatalf("GetSection() error = %v", err)
		}
		if got.Version != 2 {
			t.Errorf("Version = %d, want 2", got.Version)
		}
		if diff := cmp.Diff(section.Config, got.Config); diff != "" {
			t.Errorf("Config mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("list is ordered by name", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		ctx := context.Background()
		for _, s := range []*model.Section{{ID: "b", Name: "Zeta"}, {ID: "a", Name: "Alpha"}, {ID: "c", Name: "Mid"}} {
			if err := store.UpsertSection(ctx, s); err != nil {
				t.Fatalf("UpsertSection() error = %v", err)
			}
		}

		got, err := store.ListSections(ctx)
		if err != nil {
			t.Fatalf("ListSections() error = %v", err)
		}
		var names []string
		for _, s := range got {
			names = append(names, s.Name)
		}
		if diff := cmp.Diff([]string{"Alpha", "Mid", "Zeta"}, names); diff != "" {
			t.Errorf("ListSections() order (-want +got):\n%s", diff)
		}
	})

	t.Run("delete cascades to resources", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		ctx := context.Background()
		testutil.AddSection(t, store, "docs", "guides")
		if err := store.UpsertResource(ctx, &model.Resource{ID: "r1", SectionID: "docs", Type: "guides", Title: "One"}); err != nil {
			t.Fatalf("UpsertResource() error = %v", err)
		}

		if err := store.DeleteSection(ctx, "docs"); err != nil {
			t.Fatalf("DeleteSection() error = %v", err)
		}
		r, err := store.GetResource(ctx, "r1")
		if err != nil {
			t.Fatalf("GetResource() error = %v", err)
		}
		if r != nil {
			t.Errorf("GetResource() = %v, want nil after cascade", r)
		}

		if err := store.DeleteSection(ctx, "docs"); !errors.Is(err, hub.ErrNotFound) {
			t.Errorf("DeleteSection() again error = %v, want ErrNotFound", err)
		}
	})

	t.Run("editor without grant is refused", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		testutil.AddProfile(t, store, &model.Profile{ID: "ed", Username: "ed", Role: model.RoleEditor,
			Permissions: model.Permissions{EditableSections: []string{"mine"}}})
		editor := store.WithActor("ed")

		err := editor.UpsertSection(context.Background(), &model.Section{ID: "theirs", Name: "Theirs"})
		if !errors.Is(err, hub.ErrPermission) {
			t.Errorf("UpsertSection() error = %v, want ErrPermission", err)
		}
		if err := editor.UpsertSection(context.Background(), &model.Section{ID: "mine", Name: "Mine"}); err != nil {
			t.Errorf("UpsertSection() on granted section error = %v", err)
		}
	})
}

func TestSQLiteStore_UpdateSectionConfig(t *testing.T) {
	store := testutil.NewTestStore(t, nil)
	ctx := context.Background()
	testutil.AddSection(t, store, "docs", "guides")

	cfg := model.SectionConfig{Tabs: []string{"guides", "faq"}}
	v, err := store.UpdateSectionConfig(ctx, "docs", cfg, 1)
	if err != nil {
		t.Fatalf("UpdateSectionConfig() error = %v", err)
	}
	if v != 2 {
		t.Errorf("UpdateSectionConfig() version = %d, want 2", v)
	}

	if _, err := store.UpdateSectionConfig(ctx, "docs", cfg, 1); !errors.Is(err, hub.ErrConflict) {
		t.Errorf("UpdateSectionConfig() stale version error = %v, want ErrConflict", err)
	}
	if _, err := store.UpdateSectionConfig(ctx, "missing", cfg, 1); !errors.Is(err, hub.ErrNotFound) {
		t.Errorf("UpdateSectionConfig() missing section error = %v, want ErrNotFound", err)
	}

	got, err := store.GetSection(ctx, "docs")
	if err != nil {
		t.Fatalf("GetSection() error = %v", err)
	}
	if diff := cmp.Diff(cfg, got.Config); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStore_Resources(t *testing.T) {
	tests := []struct {
		name     string
		resource *model.Resource
		wantErr  error
	}{
		{
			name:     "unknown section",
			resource: &model.Resource{ID: "r1", SectionID: "ghost", Type: "guides", Title: "x"},
			wantErr:  hub.ErrValidation,
		},
		{
			name:     "type not configured",
			resource: &model.Resource{ID: "r1", SectionID: "docs", Type: "videos", Title: "x"},
			wantErr:  hub.ErrValidation,
		},
		{
			name:     "missing id",
			resource: &model.Resource{SectionID: "docs", Type: "guides", Title: "x"},
			wantErr:  hub.ErrValidation,
		},
		{
			name:     "valid",
			resource: &model.Resource{ID: "r1", SectionID: "docs", Type: "guides", Title: "x", Tags: []string{"a"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewTestStore(t, nil)
			testutil.AddSection(t, store, "docs", "guides")

			err := store.UpsertResource(context.Background(), tt.resource)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("UpsertResource() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UpsertResource() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("list is newest first and filters by type", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := testutil.NewTestStore(t, clock)
		ctx := context.Background()
		testutil.AddSection(t, store, "docs", "guides", "faq")

		for _, r := range []*model.Resource{
			{ID: "old", SectionID: "docs", Type: "guides", Title: "Old"},
			{ID: "mid", SectionID: "docs", Type: "faq", Title: "Mid"},
			{ID: "new", SectionID: "docs", Type: "guides", Title: "New"},
		} {
			if err := store.UpsertResource(ctx, r); err != nil {
				t.Fatalf("UpsertResource() error = %v", err)
			}
			clock.Advance(time.Minute)
		}

		all, err := store.ListResources(ctx, hub.ResourceFilter{SectionID: "docs"})
		if err != nil {
			t.Fatalf("ListResources() error = %v", err)
		}
		if diff := cmp.Diff([]string{"new", "mid", "old"}, resourceIDs(all)); diff != "" {
			t.Errorf("ListResources() order (-want +got):\n%s", diff)
		}

		guides, err := store.ListResources(ctx, hub.ResourceFilter{SectionID: "docs", Type: "guides"})
		if err != nil {
			t.Fatalf("ListResources() error = %v", err)
		}
		if diff := cmp.Diff([]string{"new", "old"}, resourceIDs(guides)); diff != "" {
			t.Errorf("ListResources(type) (-want +got):\n%s", diff)
		}

		page, err := store.ListResources(ctx, hub.ResourceFilter{Page: hub.Page{Limit: 1, Offset: 1}})
		if err != nil {
			t.Fatalf("ListResources() error = %v", err)
		}
		if diff := cmp.Diff([]string{"mid"}, resourceIDs(page)); diff != "" {
			t.Errorf("ListResources(page) (-want +got):\n%s", diff)
		}
	})

	t.Run("delete requires ownership or grant", func(t *testing.T) {
		store := testutil.NewTestStore(t, nil)
		ctx := context.Background()
		testutil.AddSection(t, store, "docs", "guides")
		testutil.AddProfile(t, store, &model.Profile{ID: "ed", Username: "ed", Role: model.RoleEditor,
			Permissions: model.Permissions{EditableSections: []string{"docs"}}})
		if err := store.UpsertResource(ctx, &model.Resource{ID: "r1", SectionID: "docs", Type: "guides", Title: "x", CreatedBy: testutil.AdminID}); err != nil {
			t.Fatalf("UpsertResource() error = %v", err)
		}

		editor := store.WithActor("ed")
		if err := editor.DeleteResource(ctx, "r1"); !errors.Is(err, hub.ErrPermission) {
			t.Errorf("DeleteResource() by non-owner error = %v, want ErrPermission", err)
		}
		if err := editor.UpsertResource(ctx, &model.Resource{ID: "r2", SectionID: "docs", Type: "guides", Title: "y", CreatedBy: "ed"}); err != nil {
			t.Fatalf("UpsertResource() by editor error = %v", err)
		}
		if err := editor.DeleteResource(ctx, "r2"); err != nil {
			t.Errorf("DeleteResource() by owner error = %v", err)
		}
		if err := store.DeleteResource(ctx, "r2"); !errors.Is(err, hub.ErrNotFound) {
			t.Errorf("DeleteResource() missing error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteStore_Profiles(t *testing.T) {
	store := testutil.NewTestStore(t, nil)
	ctx := context.Background()
	testutil.AddProfile(t, store, &model.Profile{ID: "v1", Username: "zed", Role: model.RoleViewer})
	testutil.AddProfile(t, store, &model.Profile{ID: "v2", Username: "bea", Role: model.RoleViewer})

	viewer := store.WithActor("v1")
	if err := viewer.UpsertProfile(ctx, &model.Profile{ID: "v1", Role: model.RoleAdmin}); !errors.Is(err, hub.ErrPermission) {
		t.Errorf("UpsertProfile() by viewer error = %v, want ErrPermission", err)
	}

	if err := store.UpsertProfile(ctx, &model.Profile{ID: "bad", Role: "owner"}); !errors.Is(err, hub.ErrValidation) {
		t.Errorf("UpsertProfile() with bad role error = %v, want ErrValidation", err)
	}

	list, err := store.ListProfiles(ctx, hub.Page{})
	if err != nil {
		t.Fatalf("ListProfiles() error = %v", err)
	}
	var names []string
	for _, p := range list {
		names = append(names, p.Username)
	}
	if diff := cmp.Diff([]string{"admin", "bea", "zed"}, names); diff != "" {
		t.Errorf("ListProfiles() order (-want +got):\n%s", diff)
	}

	perms := model.Permissions{Sections: []string{"docs"}, CanManageUsers: true}
	if err := store.UpdatePermissions(ctx, "v2", perms); err != nil {
		t.Fatalf("UpdatePermissions() error = %v", err)
	}
	got, err := store.GetProfile(ctx, "v2")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if diff := cmp.Diff(perms, got.Permissions); diff != "" {
		t.Errorf("Permissions mismatch (-want +got):\n%s", diff)
	}
	if err := store.UpdatePermissions(ctx, "ghost", perms); !errors.Is(err, hub.ErrNotFound) {
		t.Errorf("UpdatePermissions() missing error = %v, want ErrNotFound", err)
	}

	if err := store.UpdatePermissions(ctx, "v1", model.Permissions{Disabled: true}); err != nil {
		t.Fatalf("UpdatePermissions() error = %v", err)
	}
	err = viewer.InsertActivity(ctx, &model.Activity{UserID: "v1", Action: "view"})
	if !errors.Is(err, hub.ErrPermission) {
		t.Errorf("InsertActivity() by disabled actor error = %v, want ErrPermission", err)
	}
}

func TestSQLiteStore_Activities(t *testing.T) {
	clock := testutil.FixedClock()
	store := testutil.NewTestStore(t, clock)
	ctx := context.Background()

	if err := store.InsertActivity(ctx, &model.Activity{UserID: "someone-else", Action: "x"}); !errors.Is(err, hub.ErrPermission) {
		t.Errorf("InsertActivity() as another user error = %v, want ErrPermission", err)
	}

	for _, action := range []string{"first", "second", "third"} {
		if err := store.InsertActivity(ctx, &model.Activity{UserID: testutil.AdminID, Action: action, Metadata: json.RawMessage(`{"n":1}`)}); err != nil {
			t.Fatalf("InsertActivity() error = %v", err)
		}
		clock.Advance(time.Second)
	}

	got, err := store.ListActivities(ctx, hub.Page{Limit: 2})
	if err != nil {
		t.Fatalf("ListActivities() error = %v", err)
	}
	var actions []string
	for _, a := range got {
		actions = append(actions, a.Action)
	}
	if diff := cmp.Diff([]string{"third", "second"}, actions); diff != "" {
		t.Errorf("ListActivities() (-want +got):\n%s", diff)
	}
	if string(got[0].Metadata) != `{"n":1}` {
		t.Errorf("Metadata = %s, want {\"n\":1}", got[0].Metadata)
	}
}

func TestSQLiteStore_Views(t *testing.T) {
	store := testutil.NewTestStore(t, nil)
	ctx := context.Background()
	testutil.AddProfile(t, store, &model.Profile{ID: "v1", Username: "v", Role: model.RoleViewer})
	viewer := store.WithActor("v1")

	for range 2 {
		if err := viewer.IncrementView(ctx, "v1", "r1"); err != nil {
			t.Fatalf("IncrementView() error = %v", err)
		}
	}
	if err := viewer.IncrementView(ctx, testutil.AdminID, "r1"); !errors.Is(err, hub.ErrPermission) {
		t.Errorf("IncrementView() for another user error = %v, want ErrPermission", err)
	}
	if err := viewer.UpsertView(ctx, &model.View{UserID: "v1", ResourceID: "r1", Count: 99}); !errors.Is(err, hub.ErrPermission) {
		t.Errorf("UpsertView() by viewer error = %v, want ErrPermission", err)
	}

	views, err := store.ListViews(ctx, hub.Page{})
	if err != nil {
		t.Fatalf("ListViews() error = %v", err)
	}
	if len(views) != 1 || views[0].Count != 2 {
		t.Fatalf("ListViews() = %+v, want one row with count 2", views)
	}

	if err := store.UpsertView(ctx, &model.View{UserID: "v1", ResourceID: "r1", Count: 7}); err != nil {
		t.Fatalf("UpsertView() error = %v", err)
	}
	views, _ = store.ListViews(ctx, hub.Page{})
	if len(views) != 1 || views[0].Count != 7 {
		t.Errorf("ListViews() after upsert = %+v, want one row with count 7", views)
	}
}

func TestSQLiteStore_Settings(t *testing.T) {
	store := testutil.NewTestStore(t, nil)
	ctx := context.Background()
	testutil.AddProfile(t, store, &model.Profile{ID: "v1", Username: "v", Role: model.RoleViewer})

	if err := store.UpsertSetting(ctx, "theme", json.RawMessage(`{"dark":`)); !errors.Is(err, hub.ErrValidation) {
		t.Errorf("UpsertSetting() invalid JSON error = %v, want ErrValidation", err)
	}
	if err := store.WithActor("v1").UpsertSetting(ctx, "theme", json.RawMessage(`"dark"`)); !errors.Is(err, hub.ErrPermission) {
		t.Errorf("UpsertSetting() by viewer error = %v, want ErrPermission", err)
	}
	if err := store.UpsertSetting(ctx, "theme", json.RawMessage(`"dark"`)); err != nil {
		t.Fatalf("UpsertSetting() error = %v", err)
	}

	got, err := store.GetSetting(ctx, "theme")
	if err != nil {
		t.Fatalf("GetSetting() error = %v", err)
	}
	if got == nil || string(got.Value) != `"dark"` {
		t.Errorf("GetSetting() = %+v, want \"dark\"", got)
	}
	missing, err := store.GetSetting(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetSetting() missing = %v, %v; want nil, nil", missing, err)
	}
}

func TestSQLiteStore_ExportAll(t *testing.T) {
	store := testutil.NewTestStore(t, nil)
	ctx := context.Background()
	testutil.AddSection(t, store, "docs", "guides")
	testutil.AddProfile(t, store, &model.Profile{ID: "m1", Username: "m", Role: model.RoleEditor,
		Permissions: model.Permissions{CanManageUsers: true}})

	if _, err := store.WithActor("m1").ExportAll(ctx); !errors.Is(err, hub.ErrPermission) {
		t.Errorf("ExportAll() by non-admin error = %v, want ErrPermission", err)
	}

	bundle, err := store.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll() error = %v", err)
	}
	if len(bundle.Users) != 2 || len(bundle.Sections) != 1 {
		t.Errorf("ExportAll() users=%d sections=%d, want 2 and 1", len(bundle.Users), len(bundle.Sections))
	}
}

func TestSQLiteStore_Subscribe(t *testing.T) {
	store := testutil.NewTestStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := store.Subscribe(ctx, hub.ChangeFilter{Tables: []string{hub.TableResources}, SectionID: "docs"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	testutil.AddSection(t, store, "docs", "guides")
	testutil.AddSection(t, store, "other", "guides")
	if err := store.UpsertResource(ctx, &model.Resource{ID: "elsewhere", SectionID: "other", Type: "guides", Title: "x"}); err != nil {
		t.Fatalf("UpsertResource() error = %v", err)
	}
	if err := store.UpsertResource(ctx, &model.Resource{ID: "r1", SectionID: "docs", Type: "guides", Title: "x"}); err != nil {
		t.Fatalf("UpsertResource() error = %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Table != hub.TableResources || ev.ID != "r1" || ev.Op != "INSERT" {
			t.Errorf("event = %+v, want INSERT of r1", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("received unexpected event after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after cancel")
	}
}

func resourceIDs(rs []*model.Resource) []string {
	var ids []string
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}
