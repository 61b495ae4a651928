package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

// FaultStore wraps a hub.Store, counting calls per method and failing them
// on demand. Methods it does not override pass straight through.
type FaultStore struct {
	hub.Store

	mu     sync.Mutex
	calls  map[string]int
	faults map[string][]error

	// Before, when set, runs ahead of every counted call. A non-nil
	// result fails the call.
	Before func(ctx context.Context, method string) error
}

var _ hub.Store = (*FaultStore)(nil)

func NewFaultStore(store hub.Store) *FaultStore {
	return &FaultStore{
		Store:  store,
		calls:  make(map[string]int),
		faults: make(map[string][]error),
	}
}

// Fail queues errs to be returned by the next calls of method, in order.
// A nil entry lets that call through.
func (f *FaultStore) Fail(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[method] = append(f.faults[method], errs...)
}

// Calls returns how many times method was called.
func (f *FaultStore) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FaultStore) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	var err error
	if q := f.faults[method]; len(q) > 0 {
		err, f.faults[method] = q[0], q[1:]
	}
	before := f.Before
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if before != nil {
		return before(ctx, method)
	}
	return nil
}

func (f *FaultStore) UpsertSection(ctx context.Context, s *model.Section) error {
	if err := f.enter(ctx, "UpsertSection"); err != nil {
		return err
	}
	return f.Store.UpsertSection(ctx, s)
}

func (f *FaultStore) GetSection(ctx context.Context, id string) (*model.Section, error) {
	if err := f.enter(ctx, "GetSection"); err != nil {
		return nil, err
	}
	return f.Store.GetSection(ctx, id)
}

func (f *FaultStore) ListSections(ctx context.Context) ([]*model.Section, error) {
	if err := f.enter(ctx, "ListSections"); err != nil {
		return nil, err
	}
	return f.Store.ListSections(ctx)
}

func (f *FaultStore) UpdateSectionConfig(ctx context.Context, id string, cfg model.SectionConfig, expected int64) (int64, error) {
	if err := f.enter(ctx, "UpdateSectionConfig"); err != nil {
		return 0, err
	}
	return f.Store.UpdateSectionConfig(ctx, id, cfg, expected)
}

func (f *FaultStore) UpsertResource(ctx context.Context, r *model.Resource) error {
	if err := f.enter(ctx, "UpsertResource"); err != nil {
		return err
	}
	return f.Store.UpsertResource(ctx, r)
}

func (f *FaultStore) ListResources(ctx context.Context, filter hub.ResourceFilter) ([]*model.Resource, error) {
	if err := f.enter(ctx, "ListResources"); err != nil {
		return nil, err
	}
	return f.Store.ListResources(ctx, filter)
}

func (f *FaultStore) UpsertProfile(ctx context.Context, p *model.Profile) error {
	if err := f.enter(ctx, "UpsertProfile"); err != nil {
		return err
	}
	return f.Store.UpsertProfile(ctx, p)
}

func (f *FaultStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	if err := f.enter(ctx, "GetProfile"); err != nil {
		return nil, err
	}
	return f.Store.GetProfile(ctx, id)
}

func (f *FaultStore) ListProfiles(ctx context.Context, page hub.Page) ([]*model.Profile, error) {
	if err := f.enter(ctx, "ListProfiles"); err != nil {
		return nil, err
	}
	return f.Store.ListProfiles(ctx, page)
}

func (f *FaultStore) InsertActivity(ctx context.Context, a *model.Activity) error {
	if err := f.enter(ctx, "InsertActivity"); err != nil {
		return err
	}
	return f.Store.InsertActivity(ctx, a)
}

func (f *FaultStore) ListActivities(ctx context.Context, page hub.Page) ([]*model.Activity, error) {
	if err := f.enter(ctx, "ListActivities"); err != nil {
		return nil, err
	}
	return f.Store.ListActivities(ctx, page)
}

func (f *FaultStore) UpsertView(ctx context.Context, v *model.View) error {
	if err := f.enter(ctx, "UpsertView"); err != nil {
		return err
	}
	return f.Store.UpsertView(ctx, v)
}

func (f *FaultStore) ListViews(ctx context.Context, page hub.Page) ([]*model.View, error) {
	if err := f.enter(ctx, "ListViews"); err != nil {
		return nil, err
	}
	return f.Store.ListViews(ctx, page)
}

func (f *FaultStore) UpsertSetting(ctx context.Context, key string, value json.RawMessage) error {
	if err := f.enter(ctx, "UpsertSetting"); err != nil {
		return err
	}
	return f.Store.UpsertSetting(ctx, key, value)
}

func (f *FaultStore) ExportAll(ctx context.Context) (*model.ExportBundle, error) {
	if err := f.enter(ctx, "ExportAll"); err != nil {
		return nil, err
	}
	return f.Store.ExportAll(ctx)
}

func (f *FaultStore) UpdatePermissions(ctx context.Context, id string, perms model.Permissions) error {
	if err := f.enter(ctx, "UpdatePermissions"); err != nil {
		return err
	}
	return f.Store.UpdatePermissions(ctx, id, perms)
}

func (f *FaultStore) ListSettings(ctx context.Context) ([]*model.SiteSetting, error) {
	if err := f.enter(ctx, "ListSettings"); err != nil {
		return nil, err
	}
	return f.Store.ListSettings(ctx)
}
