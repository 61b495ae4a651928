package hub

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"hubsync/internal/model"
)

// Table names used by the store and the change feed.
const (
	TableSections     = "sections"
	TableResources    = "resources"
	TableProfiles     = "profiles"
	TableActivities   = "activities"
	TableViews        = "views"
	TableSiteSettings = "site_settings"
)

// Page selects a window of an ordered listing.
type Page struct {
	Limit  int
	Offset int
}

// ResourceFilter narrows a resource listing. Empty fields match everything.
type ResourceFilter struct {
	SectionID string
	Type      string
	Page      Page
}

// SectionStore persists sections. GetSection returns nil, nil for a missing row.
type SectionStore interface {
	UpsertSection(ctx context.Context, section *model.Section) error
	GetSection(ctx context.Context, id string) (*model.Section, error)
	// ListSections returns all sections ordered by name.
	ListSections(ctx context.Context) ([]*model.Section, error)
	// DeleteSection removes the section and its resources.
	DeleteSection(ctx context.Context, id string) error
	// UpdateSectionConfig writes cfg only if the stored version equals
	// expectedVersion, returning the new version. A mismatch yields ErrConflict.
	UpdateSectionConfig(ctx context.Context, id string, cfg model.SectionConfig, expectedVersion int64) (int64, error)
}

// ResourceStore persists resources. Upserts conflict on id.
type ResourceStore interface {
	UpsertResource(ctx context.Context, resource *model.Resource) error
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	// ListResources returns matching resources, newest first.
	ListResources(ctx context.Context, filter ResourceFilter) ([]*model.Resource, error)
	DeleteResource(ctx context.Context, id string) error
}

// ProfileStore persists user profiles.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, profile *model.Profile) error
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	// ListProfiles returns profiles ordered by username.
	ListProfiles(ctx context.Context, page Page) ([]*model.Profile, error)
	UpdatePermissions(ctx context.Context, id string, perms model.Permissions) error
}

// ActivityStore appends to and reads the audit log.
type ActivityStore interface {
	InsertActivity(ctx context.Context, activity *model.Activity) error
	// ListActivities returns activities newest first.
	ListActivities(ctx context.Context, page Page) ([]*model.Activity, error)
}

// ViewStore tracks per-user view counters.
type ViewStore interface {
	// IncrementView atomically bumps the counter for (userID, resourceID).
	IncrementView(ctx context.Context, userID, resourceID string) error
	// UpsertView writes a counter row, conflicting on (user_id, resource_id).
	UpsertView(ctx context.Context, view *model.View) error
	ListViews(ctx context.Context, page Page) ([]*model.View, error)
}

// SettingStore persists global site settings.
type SettingStore interface {
	UpsertSetting(ctx context.Context, key string, value json.RawMessage) error
	GetSetting(ctx context.Context, key string) (*model.SiteSetting, error)
	ListSettings(ctx context.Context) ([]*model.SiteSetting, error)
}

// Exporter is the optional privileged single-call snapshot.
// Stores without it return ErrUnsupported.
type Exporter interface {
	ExportAll(ctx context.Context) (*model.ExportBundle, error)
}

// ChangeEvent describes one row change observed on the store.
type ChangeEvent struct {
	Table     string    `json:"table"`
	Op        string    `json:"op"` // INSERT, UPDATE or DELETE
	ID        string    `json:"id"`
	SectionID string    `json:"section_id,omitempty"`
	At        time.Time `json:"at"`
}

// ChangeFilter selects the events a subscription receives.
type ChangeFilter struct {
	Tables    []string
	SectionID string
}

// Matches reports whether ev passes the filter.
func (f ChangeFilter) Matches(ev ChangeEvent) bool {
	if len(f.Tables) > 0 && !slices.Contains(f.Tables, ev.Table) {
		return false
	}
	return f.SectionID == "" || f.SectionID == ev.SectionID
}

// Subscription delivers change events until closed. Events is closed when
// the subscription ends, including when the underlying connection drops.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// ChangeFeed is the store's realtime change-subscription primitive.
type ChangeFeed interface {
	Subscribe(ctx context.Context, filter ChangeFilter) (Subscription, error)
}

// Store is the remote relational store. It is the sole source of truth;
// row-level policy keyed to the authenticated actor is enforced behind it.
type Store interface {
	SectionStore
	ResourceStore
	ProfileStore
	ActivityStore
	ViewStore
	SettingStore
	Exporter
	ChangeFeed

	Close() error
}
