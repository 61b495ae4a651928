package database

import (
	"context"
	"fmt"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

// IncrementView bumps the counter for (userID, resourceID), creating it at 1.
// Users may bump their own counters; managers may bump anyone's.
func (s *SQLiteStore) IncrementView(ctx context.Context, userID, resourceID string) error {
	p, err := s.actor(ctx)
	if err != nil {
		return err
	}
	if p.ID != userID && !p.CanManageUsers() {
		return fmt.Errorf("%w: %s may not record views for %s", hub.ErrPermission, p.ID, userID)
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO views (id, user_id, resource_id, count, last_viewed_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (user_id, resource_id) DO UPDATE SET
			count = count + 1,
			last_viewed_at = excluded.last_viewed_at
		RETURNING id`,
		s.idgen.New(), userID, resourceID, s.now(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("incrementing view of %s: %w", resourceID, err)
	}
	s.publish(hub.TableViews, "UPDATE", id, "")
	return nil
}

// UpsertView writes a whole counter row. Used by imports; managers only.
func (s *SQLiteStore) UpsertView(ctx context.Context, v *model.View) error {
	if _, err := s.requireManager(ctx); err != nil {
		return err
	}
	if v.UserID == "" || v.ResourceID == "" {
		return fmt.Errorf("%w: view needs user_id and resource_id", hub.ErrValidation)
	}
	id := v.ID
	if id == "" {
		id = s.idgen.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO views (id, user_id, resource_id, count, last_viewed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, resource_id) DO UPDATE SET
			count = excluded.count,
			last_viewed_at = excluded.last_viewed_at`,
		id, v.UserID, v.ResourceID, v.Count, s.orNow(v.LastViewedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting view %s/%s: %w", v.UserID, v.ResourceID, err)
	}
	s.publish(hub.TableViews, "UPDATE", id, "")
	return nil
}

func (s *SQLiteStore) ListViews(ctx context.Context, page hub.Page) ([]*model.View, error) {
	limit, offset := limitOffset(page)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, resource_id, count, last_viewed_at
		FROM views
		ORDER BY user_id, resource_id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing views: %w", err)
	}
	defer rows.Close()

	var views []*model.View
	for rows.Next() {
		var (
			v    model.View
			last string
		)
		if err := rows.Scan(&v.ID, &v.UserID, &v.ResourceID, &v.Count, &last); err != nil {
			return nil, fmt.Errorf("scanning view: %w", err)
		}
		v.LastViewedAt = parseTime(last)
		views = append(views, &v)
	}
	return views, rows.Err()
}
