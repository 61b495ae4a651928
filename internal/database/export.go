package database

import (
	"context"
	"fmt"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

// ExportAll returns every row of every exportable table in one call.
// Admins only.
func (s *SQLiteStore) ExportAll(ctx context.Context) (*model.ExportBundle, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	all := hub.Page{}

	var (
		bundle model.ExportBundle
		err    error
	)
	if bundle.Users, err = s.ListProfiles(ctx, all); err != nil {
		return nil, fmt.Errorf("exporting users: %w", err)
	}
	if bundle.Sections, err = s.ListSections(ctx); err != nil {
		return nil, fmt.Errorf("exporting sections: %w", err)
	}
	if bundle.Resources, err = s.ListResources(ctx, hub.ResourceFilter{}); err != nil {
		return nil, fmt.Errorf("exporting resources: %w", err)
	}
	if bundle.Activities, err = s.ListActivities(ctx, all); err != nil {
		return nil, fmt.Errorf("exporting activities: %w", err)
	}
	if bundle.Views, err = s.ListViews(ctx, all); err != nil {
		return nil, fmt.Errorf("exporting views: %w", err)
	}
	return &bundle, nil
}
