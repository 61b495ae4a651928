package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hubsync/internal/model"
)

const (
	defaultActivityTimeout = 1500 * time.Millisecond
	defaultPageSize        = 500
	defaultActivityLimit   = 1000
)

// ServiceOptions tunes a HubService. Zero values select defaults.
type ServiceOptions struct {
	Retry           RetryPolicy
	ActivityTimeout time.Duration
	PageSize        int
}

// HubService is the orchestration layer between the CLI and the store.
// Every remote call it makes goes through its RetryPolicy.
type HubService struct {
	store     Store
	identity  Identity
	vault     Vault
	encryptor Encryptor
	logger    Logger
	clock     Clock
	idgen     IDGenerator

	retry           RetryPolicy
	activityTimeout time.Duration
	pageSize        int
}

// NewHubService creates a HubService with the provided dependencies.
// vault and encryptor may be nil when backups are not configured.
func NewHubService(store Store, identity Identity, vault Vault, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator, opts ServiceOptions) *HubService {
	logger = orNop(logger)
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = logger
	}
	if opts.ActivityTimeout <= 0 {
		opts.ActivityTimeout = defaultActivityTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &HubService{
		store:           store,
		identity:        identity,
		vault:           vault,
		encryptor:       encryptor,
		logger:          logger,
		clock:           clock,
		idgen:           idgen,
		retry:           opts.Retry,
		activityTimeout: opts.ActivityTimeout,
		pageSize:        opts.PageSize,
	}
}

// Store exposes the underlying store, e.g. for the refresh scheduler's feed.
func (s *HubService) Store() Store { return s.store }

// SaveSection creates or updates a section. An empty config on an existing
// section keeps the stored config.
func (s *HubService) SaveSection(ctx context.Context, section *model.Section) error {
	section.ID = strings.TrimSpace(section.ID)
	section.Name = strings.TrimSpace(section.Name)
	if section.ID == "" {
		return fmt.Errorf("%w: section id is required", ErrValidation)
	}
	if section.Name == "" {
		return fmt.Errorf("%w: section name is required", ErrValidation)
	}

	existing, err := s.GetSection(ctx, section.ID)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	action := "section_created"
	if existing != nil {
		action = "section_updated"
		if IsEmptyConfig(section.Config) {
			section.Config = existing.Config
		}
		if section.CreatedAt.IsZero() {
			section.CreatedAt = existing.CreatedAt
		}
	}
	if section.CreatedAt.IsZero() {
		section.CreatedAt = now
	}
	section.UpdatedAt = now

	if err := s.retry.Do(ctx, "upsert section", func(ctx context.Context) error {
		return s.store.UpsertSection(ctx, section)
	}); err != nil {
		return fmt.Errorf("saving section %s: %w", section.ID, err)
	}

	s.logger.Info("section saved", "section", section.ID)
	s.logActivity(ctx, action, section.ID, "", map[string]any{"name": section.Name})
	return nil
}

// GetSection returns the section or nil if it does not exist.
func (s *HubService) GetSection(ctx context.Context, id string) (*model.Section, error) {
	section, err := Retry(ctx, s.retry, "get section", func(ctx context.Context) (*model.Section, error) {
		return s.store.GetSection(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("getting section %s: %w", id, err)
	}
	return section, nil
}

// GetAllSections returns every section ordered by name.
func (s *HubService) GetAllSections(ctx context.Context) ([]*model.Section, error) {
	sections, err := Retry(ctx, s.retry, "list sections", s.store.ListSections)
	if err != nil {
		return nil, fmt.Errorf("listing sections: %w", err)
	}
	return sections, nil
}

// DeleteSection removes a section together with its resources.
func (s *HubService) DeleteSection(ctx context.Context, id string) error {
	if err := s.retry.Do(ctx, "delete section", func(ctx context.Context) error {
		return s.store.DeleteSection(ctx, id)
	}); err != nil {
		return fmt.Errorf("deleting section %s: %w", id, err)
	}
	s.logger.Info("section deleted", "section", id)
	s.logActivity(ctx, "section_deleted", id, "", nil)
	return nil
}

// SaveResource creates or updates a resource. A missing id is assigned
// before the write so a retried upsert cannot create a duplicate row.
func (s *HubService) SaveResource(ctx context.Context, r *model.Resource) error {
	r.SectionID = strings.TrimSpace(r.SectionID)
	r.Type = strings.TrimSpace(r.Type)
	r.Title = strings.TrimSpace(r.Title)
	switch {
	case r.SectionID == "":
		return fmt.Errorf("%w: resource section is required", ErrValidation)
	case r.Type == "":
		return fmt.Errorf("%w: resource type is required", ErrValidation)
	case r.Title == "":
		return fmt.Errorf("%w: resource title is required", ErrValidation)
	}

	action := "resource_updated"
	if r.ID == "" {
		r.ID = s.idgen.New()
		action = "resource_created"
	}
	now := s.clock.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.CreatedBy == "" {
		if uid, err := s.identity.CurrentUserID(ctx); err == nil {
			r.CreatedBy = uid
		}
	}

	if err := s.retry.Do(ctx, "upsert resource", func(ctx context.Context) error {
		return s.store.UpsertResource(ctx, r)
	}); err != nil {
		return fmt.Errorf("saving resource %q: %w", r.Title, err)
	}

	s.logger.Info("resource saved", "resource", r.ID, "section", r.SectionID)
	s.logActivity(ctx, action, r.SectionID, r.ID, map[string]any{"title": r.Title, "type": r.Type})
	return nil
}

// GetResourcesBySection returns a section's resources, newest first.
func (s *HubService) GetResourcesBySection(ctx context.Context, sectionID string) ([]*model.Resource, error) {
	return s.listResources(ctx, ResourceFilter{SectionID: sectionID})
}

// GetResourcesByType returns the resources of one tab/type of a section.
func (s *HubService) GetResourcesByType(ctx context.Context, sectionID, typeID string) ([]*model.Resource, error) {
	return s.listResources(ctx, ResourceFilter{SectionID: sectionID, Type: typeID})
}

func (s *HubService) listResources(ctx context.Context, filter ResourceFilter) ([]*model.Resource, error) {
	resources, err := collectPages(ctx, s, "list resources", func(ctx context.Context, p Page) ([]*model.Resource, error) {
		f := filter
		f.Page = p
		return s.store.ListResources(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	return resources, nil
}

// DeleteResource removes a resource.
func (s *HubService) DeleteResource(ctx context.Context, id string) error {
	existing, err := Retry(ctx, s.retry, "get resource", func(ctx context.Context) (*model.Resource, error) {
		return s.store.GetResource(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("getting resource %s: %w", id, err)
	}
	if existing == nil {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}

	if err := s.retry.Do(ctx, "delete resource", func(ctx context.Context) error {
		return s.store.DeleteResource(ctx, id)
	}); err != nil {
		return fmt.Errorf("deleting resource %s: %w", id, err)
	}
	s.logger.Info("resource deleted", "resource", id)
	s.logActivity(ctx, "resource_deleted", existing.SectionID, id, map[string]any{"title": existing.Title})
	return nil
}

// RecordView bumps the acting user's view counter for a resource.
func (s *HubService) RecordView(ctx context.Context, resourceID string) error {
	uid, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		return fmt.Errorf("resolving current user: %w", err)
	}
	if err := s.retry.Do(ctx, "increment view", func(ctx context.Context) error {
		return s.store.IncrementView(ctx, uid, resourceID)
	}); err != nil {
		return fmt.Errorf("recording view of %s: %w", resourceID, err)
	}
	return nil
}

// GetSiteSetting returns the setting or nil if unset.
func (s *HubService) GetSiteSetting(ctx context.Context, key string) (*model.SiteSetting, error) {
	setting, err := Retry(ctx, s.retry, "get setting", func(ctx context.Context) (*model.SiteSetting, error) {
		return s.store.GetSetting(ctx, key)
	})
	if err != nil {
		return nil, fmt.Errorf("getting setting %s: %w", key, err)
	}
	return setting, nil
}

// SetSiteSetting writes a global setting. The local role check only saves a
// round trip; the store enforces the real policy.
func (s *HubService) SetSiteSetting(ctx context.Context, key string, value any) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: setting key is required", ErrValidation)
	}
	actor, err := s.currentProfile(ctx)
	if err != nil {
		return err
	}
	if !actor.CanManageUsers() {
		return fmt.Errorf("%w: site settings require admin rights", ErrPermission)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encoding setting %s: %v", ErrValidation, key, err)
	}
	if err := s.retry.Do(ctx, "upsert setting", func(ctx context.Context) error {
		return s.store.UpsertSetting(ctx, key, raw)
	}); err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	s.logActivity(ctx, "site_setting_updated", "", "", map[string]any{"key": key})
	return nil
}

// GetAllUsers returns every profile ordered by username.
func (s *HubService) GetAllUsers(ctx context.Context) ([]*model.Profile, error) {
	users, err := collectPages(ctx, s, "list profiles", s.store.ListProfiles)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// UpdateUserPermissions replaces a user's permission flags.
func (s *HubService) UpdateUserPermissions(ctx context.Context, userID string, perms model.Permissions) error {
	if err := s.retry.Do(ctx, "update permissions", func(ctx context.Context) error {
		return s.store.UpdatePermissions(ctx, userID, perms)
	}); err != nil {
		return fmt.Errorf("updating permissions of %s: %w", userID, err)
	}
	s.logActivity(ctx, "permissions_updated", "", "", map[string]any{"user_id": userID})
	return nil
}

// currentProfile loads the acting user's profile.
func (s *HubService) currentProfile(ctx context.Context) (*model.Profile, error) {
	uid, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving current user: %w", err)
	}
	profile, err := Retry(ctx, s.retry, "get profile", func(ctx context.Context) (*model.Profile, error) {
		return s.store.GetProfile(ctx, uid)
	})
	if err != nil {
		return nil, fmt.Errorf("loading profile %s: %w", uid, err)
	}
	if profile == nil {
		return nil, fmt.Errorf("profile %s: %w", uid, ErrNotFound)
	}
	return profile, nil
}

// collectPages reads every page of an ordered listing.
func collectPages[T any](ctx context.Context, s *HubService, op string, fetch func(context.Context, Page) ([]T, error)) ([]T, error) {
	var all []T
	for offset := 0; ; offset += s.pageSize {
		page := Page{Limit: s.pageSize, Offset: offset}
		batch, err := Retry(ctx, s.retry, op, func(ctx context.Context) ([]T, error) {
			return fetch(ctx, page)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < s.pageSize {
			return all, nil
		}
	}
}
