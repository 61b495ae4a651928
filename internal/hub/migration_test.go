package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"hubsync/internal/hub"
	"hubsync/internal/model"
	"hubsync/internal/testutil"
)

func opsSection() *model.Section {
	return &model.Section{
		ID:   "ops",
		Name: "Operations",
		Config: model.SectionConfig{
			Tabs:  []string{"docs"},
			Types: []model.TypeDef{{ID: "docs", Name: "Docs", Key: "ops:docs"}},
		},
	}
}

func tenResources() hub.ResourceSet {
	var rs hub.ResourceSet
	for i := 1; i <= 10; i++ {
		rs = append(rs, &model.Resource{
			ID:        fmt.Sprintf("r%d", i),
			SectionID: "ops",
			Type:      "docs",
			Title:     fmt.Sprintf("Doc %d", i),
		})
	}
	return rs
}

func TestImportRawState_RowFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	fs := testutil.NewFaultStore(testutil.NewTestStore(t, nil))
	svc := newService(fs, testutil.AdminID, hub.ServiceOptions{})

	resources := tenResources()
	resources[4].SectionID = "no-such-section"
	snap := &hub.Snapshot{
		Sections:  hub.SectionSet{opsSection()},
		Resources: resources,
	}
	summary, err := svc.ImportRawState(ctx, snap, hub.ImportOptions{})
	if err != nil {
		t.Fatalf("ImportRawState() error = %v", err)
	}

	if summary.Sections.OK != 1 {
		t.Errorf("sections ok = %d, want 1", summary.Sections.OK)
	}
	if summary.Resources.OK != 9 {
		t.Errorf("resources ok = %d, want 9", summary.Resources.OK)
	}
	if len(summary.Resources.Errors) != 1 {
		t.Fatalf("resource errors = %d, want 1", len(summary.Resources.Errors))
	}
	rowErr := summary.Resources.Errors[0]
	if rowErr.Row != 5 || rowErr.ID != "r5" || !errors.Is(rowErr, hub.ErrValidation) {
		t.Errorf("row error = %+v", rowErr)
	}
	if summary.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", summary.Failed())
	}
	if got := fs.Calls("UpsertResource"); got != 10 {
		t.Errorf("UpsertResource calls = %d, want 10 with no retry of the bad row", got)
	}
}

func TestImportRawState_ProgressOrder(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t, nil)
	svc := newService(store, testutil.AdminID, hub.ServiceOptions{})

	snap := &hub.Snapshot{
		Users:        hub.ProfileSet{{ID: "editor-1", Username: "ed", Role: model.RoleEditor}},
		Sections:     hub.SectionSet{opsSection()},
		Resources:    tenResources()[:2],
		SiteSettings: hub.SettingSet{{Key: "banner", Value: json.RawMessage(`"hi"`)}},
	}

	var steps []string
	summary, err := svc.ImportRawState(ctx, snap, hub.ImportOptions{
		OnProgress: func(ev hub.ProgressEvent) { steps = append(steps, ev.Step) },
	})
	if err != nil {
		t.Fatalf("ImportRawState() error = %v", err)
	}

	want := []string{
		hub.StepStart, hub.StepElevated,
		hub.StepSection, hub.StepResource, hub.StepResource,
		hub.StepSiteSetting, hub.StepUser,
		hub.StepReverted, hub.StepDone,
	}
	if !slices.Equal(steps, want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}
	if !summary.Elevated || !summary.Reverted {
		t.Errorf("Elevated = %v, Reverted = %v, want both true", summary.Elevated, summary.Reverted)
	}

	admin, err := store.GetProfile(ctx, testutil.AdminID)
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if admin.Permissions.CanEditAllSections {
		t.Error("elevated permission was not reverted")
	}
}

func TestImportRawState_PanickingCallback(t *testing.T) {
	ctx := context.Background()
	svc := newService(testutil.NewTestStore(t, nil), testutil.AdminID, hub.ServiceOptions{})

	snap := &hub.Snapshot{Sections: hub.SectionSet{opsSection()}, Resources: tenResources()[:3]}
	summary, err := svc.ImportRawState(ctx, snap, hub.ImportOptions{
		OnProgress: func(hub.ProgressEvent) { panic("ui gone") },
	})
	if err != nil {
		t.Fatalf("ImportRawState() error = %v", err)
	}
	if summary.Resources.OK != 3 {
		t.Errorf("resources ok = %d, want 3", summary.Resources.OK)
	}
}

func TestImportRawState_RequiresAdmin(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t, nil)
	testutil.AddProfile(t, store, &model.Profile{ID: "editor-1", Username: "ed", Role: model.RoleEditor})
	fs := testutil.NewFaultStore(store.WithActor("editor-1"))
	svc := newService(fs, "editor-1", hub.ServiceOptions{})

	var events []hub.ProgressEvent
	_, err := svc.ImportRawState(ctx, &hub.Snapshot{Sections: hub.SectionSet{opsSection()}}, hub.ImportOptions{
		OnProgress: func(ev hub.ProgressEvent) { events = append(events, ev) },
	})
	if !errors.Is(err, hub.ErrPermission) {
		t.Fatalf("ImportRawState() error = %v, want ErrPermission", err)
	}
	if got := fs.Calls("UpsertSection"); got != 0 {
		t.Errorf("UpsertSection calls = %d, want 0", got)
	}
	if len(events) != 1 || events[0].Step != hub.StepError {
		t.Errorf("events = %+v, want a single error event", events)
	}
}

func TestImportRawState_NilSnapshot(t *testing.T) {
	svc := newService(testutil.NewTestStore(t, nil), testutil.AdminID, hub.ServiceOptions{})
	if _, err := svc.ImportRawState(context.Background(), nil, hub.ImportOptions{}); !errors.Is(err, hub.ErrValidation) {
		t.Errorf("ImportRawState(nil) error = %v, want ErrValidation", err)
	}
}

func seedStore(t *testing.T, svc *hub.HubService) {
	t.Helper()
	ctx := context.Background()
	if err := svc.SaveSection(ctx, opsSection()); err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}
	for _, r := range tenResources()[:3] {
		if err := svc.SaveResource(ctx, r); err != nil {
			t.Fatalf("SaveResource() error = %v", err)
		}
	}
	if err := svc.RecordView(ctx, "r1"); err != nil {
		t.Fatalf("RecordView() error = %v", err)
	}
	if err := svc.SetSiteSetting(ctx, "banner", "hello"); err != nil {
		t.Fatalf("SetSiteSetting() error = %v", err)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		fault error
	}{
		{"privileged export", nil},
		{"per-family fallback", hub.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			fs := testutil.NewFaultStore(testutil.NewTestStore(t, nil))
			if tt.fault != nil {
				fs.Fail("ExportAll", tt.fault)
			}
			src := newService(fs, testutil.AdminID, hub.ServiceOptions{})
			seedStore(t, src)

			snap, err := src.ExportRawState(ctx)
			if err != nil {
				t.Fatalf("ExportRawState() error = %v", err)
			}
			data, err := json.Marshal(snap)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}

			var decoded hub.Snapshot
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if decoded.TotalRecords["resources"] != 3 || decoded.TotalRecords["users"] != 1 {
				t.Errorf("totalRecords = %v", decoded.TotalRecords)
			}

			dst := newService(testutil.NewTestStore(t, nil), testutil.AdminID, hub.ServiceOptions{})
			summary, err := dst.ImportRawState(ctx, &decoded, hub.ImportOptions{})
			if err != nil {
				t.Fatalf("ImportRawState() error = %v", err)
			}
			if summary.Failed() != 0 {
				t.Fatalf("import failures: %+v", summary)
			}

			srcSections, srcResources := storeContents(t, src)
			dstSections, dstResources := storeContents(t, dst)
			if diff := cmp.Diff(srcSections, dstSections); diff != "" {
				t.Errorf("section ids mismatch (-exported +restored):\n%s", diff)
			}
			if diff := cmp.Diff(srcResources, dstResources); diff != "" {
				t.Errorf("resource merge keys mismatch (-exported +restored):\n%s", diff)
			}
			if len(dstResources) != 3 {
				t.Errorf("restored resources = %d, want 3", len(dstResources))
			}
			setting, err := dst.GetSiteSetting(ctx, "banner")
			if err != nil || setting == nil || string(setting.Value) != `"hello"` {
				t.Errorf("restored setting = %+v, %v", setting, err)
			}
			if summary.Views.OK != 1 {
				t.Errorf("restored views = %d, want 1", summary.Views.OK)
			}
			if len(decoded.Activities) == 0 {
				t.Error("export carried no activities")
			}
		})
	}
}

// storeContents returns the sorted section ids and resource merge keys.
func storeContents(t *testing.T, svc *hub.HubService) (sectionIDs, mergeKeys []string) {
	t.Helper()
	ctx := context.Background()
	sections, err := svc.GetAllSections(ctx)
	if err != nil {
		t.Fatalf("GetAllSections() error = %v", err)
	}
	for _, sec := range sections {
		sectionIDs = append(sectionIDs, sec.ID)
		resources, err := svc.GetResourcesBySection(ctx, sec.ID)
		if err != nil {
			t.Fatalf("GetResourcesBySection(%s) error = %v", sec.ID, err)
		}
		for _, r := range resources {
			mergeKeys = append(mergeKeys, hub.MergeKey(r))
		}
	}
	slices.Sort(sectionIDs)
	slices.Sort(mergeKeys)
	return sectionIDs, mergeKeys
}

func TestExportRawState_FamilyIsolation(t *testing.T) {
	ctx := context.Background()

	t.Run("readable settings still produce a snapshot", func(t *testing.T) {
		fs := testutil.NewFaultStore(testutil.NewTestStore(t, nil))
		svc := newService(fs, testutil.AdminID, hub.ServiceOptions{})
		seedStore(t, svc)

		fs.Fail("ExportAll", hub.ErrUnsupported)
		for _, method := range []string{"ListProfiles", "ListSections", "ListResources", "ListActivities", "ListViews"} {
			fs.Fail(method, hub.ErrPermission)
		}

		snap, err := svc.ExportRawState(ctx)
		if err != nil {
			t.Fatalf("ExportRawState() error = %v", err)
		}
		if len(snap.Users) != 0 || len(snap.Sections) != 0 || len(snap.Resources) != 0 || len(snap.Views) != 0 {
			t.Errorf("unreadable families = %d users, %d sections, %d resources, %d views, want all empty",
				len(snap.Users), len(snap.Sections), len(snap.Resources), len(snap.Views))
		}
		if snap.Sections == nil || snap.Resources == nil {
			t.Error("unreadable families exported as nil, want empty collections")
		}
		if len(snap.SiteSettings) != 1 || snap.SiteSettings[0].Key != "banner" {
			t.Errorf("site settings = %+v, want banner", snap.SiteSettings)
		}
	})

	t.Run("one unreadable family", func(t *testing.T) {
		fs := testutil.NewFaultStore(testutil.NewTestStore(t, nil))
		svc := newService(fs, testutil.AdminID, hub.ServiceOptions{})
		seedStore(t, svc)

		fs.Fail("ExportAll", hub.ErrUnsupported)
		fs.Fail("ListResources", hub.ErrPermission)

		snap, err := svc.ExportRawState(ctx)
		if err != nil {
			t.Fatalf("ExportRawState() error = %v", err)
		}
		if len(snap.Resources) != 0 || len(snap.Sections) != 1 || len(snap.SiteSettings) != 1 {
			t.Errorf("snapshot = %d resources, %d sections, %d settings, want 0, 1, 1",
				len(snap.Resources), len(snap.Sections), len(snap.SiteSettings))
		}
	})

	t.Run("nothing readable", func(t *testing.T) {
		fs := testutil.NewFaultStore(testutil.NewTestStore(t, nil))
		svc := newService(fs, testutil.AdminID, hub.ServiceOptions{})

		fs.Fail("ExportAll", hub.ErrUnsupported)
		for _, method := range []string{"ListProfiles", "ListSections", "ListResources", "ListActivities", "ListViews", "ListSettings"} {
			fs.Fail(method, hub.ErrPermission)
		}

		snap, err := svc.ExportRawState(ctx)
		if !errors.Is(err, hub.ErrPermission) || snap != nil {
			t.Errorf("ExportRawState() = %v, %v, want nil, ErrPermission", snap, err)
		}
	})
}

func TestImportRawState_RevertFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t, nil)
	fs := testutil.NewFaultStore(store)
	// Elevation goes through; the revert is refused.
	fs.Fail("UpdatePermissions", nil, hub.ErrPermission)
	svc := newService(fs, testutil.AdminID, hub.ServiceOptions{})

	var reverted []hub.ProgressEvent
	snap := &hub.Snapshot{Sections: hub.SectionSet{opsSection()}, Resources: tenResources()[:2]}
	summary, err := svc.ImportRawState(ctx, snap, hub.ImportOptions{
		OnProgress: func(ev hub.ProgressEvent) {
			if ev.Step == hub.StepReverted {
				reverted = append(reverted, ev)
			}
		},
	})
	if err != nil {
		t.Fatalf("ImportRawState() error = %v", err)
	}
	if !summary.Elevated || summary.Reverted {
		t.Errorf("Elevated = %v, Reverted = %v, want true, false", summary.Elevated, summary.Reverted)
	}
	if summary.Resources.OK != 2 || summary.Failed() != 0 {
		t.Errorf("counts = %v", summary.Counts())
	}
	if len(reverted) != 1 || reverted[0].Status != hub.StatusError {
		t.Errorf("reverted events = %+v, want one error event", reverted)
	}
	if got := fs.Calls("UpdatePermissions"); got != 2 {
		t.Errorf("UpdatePermissions calls = %d, want 2", got)
	}
}

func TestImportRawState_LeavesSnapshotUntouched(t *testing.T) {
	ctx := context.Background()
	ids := testutil.NewStubIDGenerator("res")
	svc := hub.NewHubService(testutil.NewTestStore(t, nil), &hub.StaticIdentity{UserID: testutil.AdminID},
		testutil.NewTestVault(), testutil.NewTestEncryptor(), hub.NewNopLogger(), testutil.FixedClock(), ids,
		hub.ServiceOptions{Retry: fastRetry()})

	snap := &hub.Snapshot{
		Sections:  hub.SectionSet{opsSection()},
		Resources: hub.ResourceSet{{SectionID: "ops", Type: "docs", Title: "No id yet"}},
	}
	summary, err := svc.ImportRawState(ctx, snap, hub.ImportOptions{})
	if err != nil {
		t.Fatalf("ImportRawState() error = %v", err)
	}
	if summary.Resources.OK != 1 {
		t.Fatalf("resources ok = %d, want 1", summary.Resources.OK)
	}
	if snap.Resources[0].ID != "" {
		t.Errorf("snapshot row ID = %q, want it left empty", snap.Resources[0].ID)
	}

	got, err := svc.GetResourcesBySection(ctx, "ops")
	if err != nil {
		t.Fatalf("GetResourcesBySection() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "res-1" {
		t.Errorf("stored resources = %+v, want one row with res-1", got)
	}
	if diff := cmp.Diff([]string{"res-1"}, ids.Issued()); diff != "" {
		t.Errorf("issued ids mismatch (-want +got):\n%s", diff)
	}
}
