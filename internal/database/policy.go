package database

import (
	"context"
	"fmt"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

// actor loads the profile the store acts for. Writes by an unknown or
// disabled actor are always refused.
func (s *SQLiteStore) actor(ctx context.Context) (*model.Profile, error) {
	if s.actorID == "" {
		return nil, fmt.Errorf("%w: not authenticated", hub.ErrPermission)
	}
	p, err := s.GetProfile(ctx, s.actorID)
	if err != nil {
		return nil, fmt.Errorf("loading actor: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no profile for actor %s", hub.ErrPermission, s.actorID)
	}
	if p.Permissions.Disabled {
		return nil, fmt.Errorf("%w: actor %s is disabled", hub.ErrPermission, s.actorID)
	}
	return p, nil
}

func (s *SQLiteStore) requireSectionWrite(ctx context.Context, sectionID string) (*model.Profile, error) {
	p, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if !p.CanWriteSection(sectionID) {
		return nil, fmt.Errorf("%w: %s may not edit section %s", hub.ErrPermission, p.ID, sectionID)
	}
	return p, nil
}

func (s *SQLiteStore) requireManager(ctx context.Context) (*model.Profile, error) {
	p, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if !p.CanManageUsers() {
		return nil, fmt.Errorf("%w: %s may not manage users or settings", hub.ErrPermission, p.ID)
	}
	return p, nil
}

func (s *SQLiteStore) requireAdmin(ctx context.Context) (*model.Profile, error) {
	p, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: %s is not an admin", hub.ErrPermission, p.ID)
	}
	return p, nil
}
