package database

import (
	"context"
	"database/sql"
	"fmt"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

// InsertActivity appends to the audit log. Actors may only log as themselves.
func (s *SQLiteStore) InsertActivity(ctx context.Context, a *model.Activity) error {
	p, err := s.actor(ctx)
	if err != nil {
		return err
	}
	if a.UserID != p.ID {
		return fmt.Errorf("%w: %s may not log activity as %s", hub.ErrPermission, p.ID, a.UserID)
	}
	if a.Action == "" {
		return fmt.Errorf("%w: activity action is required", hub.ErrValidation)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO activities (user_id, username, action, section_id, resource_id, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		a.UserID, a.Username, a.Action, a.SectionID, a.ResourceID, nullableJSON(a.Metadata), s.orNow(a.Timestamp),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	a.ID = id
	s.publish(hub.TableActivities, "INSERT", fmt.Sprint(id), a.SectionID)
	return nil
}

func (s *SQLiteStore) ListActivities(ctx context.Context, page hub.Page) ([]*model.Activity, error) {
	limit, offset := limitOffset(page)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, username, action, section_id, resource_id, metadata, timestamp
		FROM activities
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	var activities []*model.Activity
	for rows.Next() {
		var (
			a        model.Activity
			metadata sql.NullString
			ts       string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Username, &a.Action, &a.SectionID, &a.ResourceID, &metadata, &ts); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		a.Metadata = rawJSON(metadata)
		a.Timestamp = parseTime(ts)
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}
