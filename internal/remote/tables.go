package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

func (c *Client) UpsertSection(ctx context.Context, section *model.Section) error {
	row := *section
	row.Version = 0 // maintained by the store
	row.CreatedAt = c.stamp(row.CreatedAt)
	row.UpdatedAt = c.clock.Now().UTC()

	var rows []*model.Section
	if err := c.do(ctx, upsert(hub.TableSections, "section_id", []model.Section{row}), &rows); err != nil {
		return err
	}
	if got := first(rows); got != nil {
		section.Version = got.Version
	}
	return nil
}

func (c *Client) GetSection(ctx context.Context, id string) (*model.Section, error) {
	return getOne[model.Section](ctx, c, hub.TableSections, "section_id", id)
}

func (c *Client) ListSections(ctx context.Context) ([]*model.Section, error) {
	var rows []*model.Section
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   hub.TableSections,
		query:  url.Values{"order": {"name.asc,section_id.asc"}},
	}, &rows)
	return rows, err
}

func (c *Client) DeleteSection(ctx context.Context, id string) error {
	return c.deleteOne(ctx, hub.TableSections, "section_id", id)
}

// UpdateSectionConfig is a PATCH filtered on the expected version. An empty
// result means the filter matched nothing.
func (c *Client) UpdateSectionConfig(ctx context.Context, id string, cfg model.SectionConfig, expectedVersion int64) (int64, error) {
	patch := struct {
		Config    model.SectionConfig `json:"config"`
		Version   int64               `json:"version"`
		UpdatedAt string              `json:"updated_at"`
	}{cfg, expectedVersion + 1, c.clock.Now().UTC().Format(timeLayout)}

	var rows []*model.Section
	err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   hub.TableSections,
		query: url.Values{
			"section_id": {eq(id)},
			"version":    {eq(fmt.Sprint(expectedVersion))},
		},
		body:   patch,
		prefer: []string{"return=representation"},
	}, &rows)
	if err != nil {
		return 0, err
	}
	if got := first(rows); got != nil {
		return got.Version, nil
	}

	existing, err := c.GetSection(ctx, id)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, fmt.Errorf("section %s: %w", id, hub.ErrNotFound)
	}
	return 0, fmt.Errorf("section %s at version %d, expected %d: %w", id, existing.Version, expectedVersion, hub.ErrConflict)
}

func (c *Client) UpsertResource(ctx context.Context, r *model.Resource) error {
	row := *r
	row.CreatedAt = c.stamp(row.CreatedAt)
	row.UpdatedAt = c.stamp(row.UpdatedAt)
	if row.Tags == nil {
		row.Tags = []string{}
	}
	return c.do(ctx, upsert(hub.TableResources, "id", []model.Resource{row}), nil)
}

func (c *Client) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	return getOne[model.Resource](ctx, c, hub.TableResources, "id", id)
}

func (c *Client) ListResources(ctx context.Context, filter hub.ResourceFilter) ([]*model.Resource, error) {
	q := url.Values{}
	if filter.SectionID != "" {
		q.Set("section_id", eq(filter.SectionID))
	}
	if filter.Type != "" {
		q.Set("type", eq(filter.Type))
	}
	var rows []*model.Resource
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   hub.TableResources,
		query:  pageQuery(q, "created_at.desc,id.asc", filter.Page),
	}, &rows)
	return rows, err
}

func (c *Client) DeleteResource(ctx context.Context, id string) error {
	return c.deleteOne(ctx, hub.TableResources, "id", id)
}

func (c *Client) UpsertProfile(ctx context.Context, p *model.Profile) error {
	row := *p
	row.CreatedAt = c.stamp(row.CreatedAt)
	return c.do(ctx, upsert(hub.TableProfiles, "id", []model.Profile{row}), nil)
}

func (c *Client) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return getOne[model.Profile](ctx, c, hub.TableProfiles, "id", id)
}

func (c *Client) ListProfiles(ctx context.Context, page hub.Page) ([]*model.Profile, error) {
	var rows []*model.Profile
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   hub.TableProfiles,
		query:  pageQuery(url.Values{}, "username.asc,id.asc", page),
	}, &rows)
	return rows, err
}

func (c *Client) UpdatePermissions(ctx context.Context, id string, perms model.Permissions) error {
	var rows []json.RawMessage
	err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   hub.TableProfiles,
		query:  url.Values{"id": {eq(id)}},
		body:   map[string]any{"permissions": perms},
		prefer: []string{"return=representation"},
	}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("profile %s: %w", id, hub.ErrNotFound)
	}
	return nil
}

func (c *Client) InsertActivity(ctx context.Context, a *model.Activity) error {
	row := *a
	row.ID = 0
	row.Timestamp = c.stamp(row.Timestamp)

	var rows []*model.Activity
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   hub.TableActivities,
		body:   []model.Activity{row},
		prefer: []string{"return=representation"},
	}, &rows)
	if err != nil {
		return err
	}
	if got := first(rows); got != nil {
		a.ID = got.ID
	}
	return nil
}

func (c *Client) ListActivities(ctx context.Context, page hub.Page) ([]*model.Activity, error) {
	var rows []*model.Activity
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   hub.TableActivities,
		query:  pageQuery(url.Values{}, "timestamp.desc,id.desc", page),
	}, &rows)
	return rows, err
}

// IncrementView calls the increment_view function, which bumps or creates
// the counter in one statement.
func (c *Client) IncrementView(ctx context.Context, userID, resourceID string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "rpc/increment_view",
		body:   map[string]string{"p_user_id": userID, "p_resource_id": resourceID},
	}, nil)
}

func (c *Client) UpsertView(ctx context.Context, v *model.View) error {
	row := *v
	row.LastViewedAt = c.stamp(row.LastViewedAt)
	return c.do(ctx, upsert(hub.TableViews, "user_id,resource_id", []model.View{row}), nil)
}

func (c *Client) ListViews(ctx context.Context, page hub.Page) ([]*model.View, error) {
	var rows []*model.View
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   hub.TableViews,
		query:  pageQuery(url.Values{}, "user_id.asc,resource_id.asc", page),
	}, &rows)
	return rows, err
}

func (c *Client) UpsertSetting(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("%w: setting %s is not valid JSON", hub.ErrValidation, key)
	}
	row := model.SiteSetting{Key: key, Value: value, UpdatedAt: c.clock.Now().UTC()}
	return c.do(ctx, upsert(hub.TableSiteSettings, "key", []model.SiteSetting{row}), nil)
}

func (c *Client) GetSetting(ctx context.Context, key string) (*model.SiteSetting, error) {
	return getOne[model.SiteSetting](ctx, c, hub.TableSiteSettings, "key", key)
}

func (c *Client) ListSettings(ctx context.Context) ([]*model.SiteSetting, error) {
	var rows []*model.SiteSetting
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   hub.TableSiteSettings,
		query:  url.Values{"order": {"key.asc"}},
	}, &rows)
	return rows, err
}
