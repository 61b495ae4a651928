package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hubsync/internal/model"
)

// logActivity appends an audit record without holding up the caller.
// The write runs on a context detached from ctx; if it has not finished
// within the activity timeout it is abandoned and left to complete on its own.
func (s *HubService) logActivity(ctx context.Context, action, sectionID, resourceID string, metadata map[string]any) {
	uid, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		s.logger.Debug("skipping activity without user", "action", action, "error", err)
		return
	}

	activity := &model.Activity{
		UserID:     uid,
		Action:     action,
		SectionID:  sectionID,
		ResourceID: resourceID,
		Timestamp:  s.clock.Now().UTC(),
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			activity.Metadata = raw
		}
	}

	detached := context.WithoutCancel(ctx)
	done := make(chan error, 1)
	go func() {
		if p, err := s.store.GetProfile(detached, uid); err == nil && p != nil {
			activity.Username = p.Username
		}
		done <- s.store.InsertActivity(detached, activity)
	}()

	timer := time.NewTimer(s.activityTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("activity log failed", "action", action, "error", err)
		}
	case <-timer.C:
		s.logger.Warn("activity log abandoned after timeout", "action", action, "timeout", s.activityTimeout)
	}
}

// GetActivities returns the audit log newest first. limit defaults to 1000.
// Usernames missing from a record are filled in from profiles.
func (s *HubService) GetActivities(ctx context.Context, limit, offset int) ([]*model.Activity, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if offset < 0 {
		offset = 0
	}
	activities, err := Retry(ctx, s.retry, "list activities", func(ctx context.Context) ([]*model.Activity, error) {
		return s.store.ListActivities(ctx, Page{Limit: limit, Offset: offset})
	})
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}

	names := make(map[string]string)
	for _, a := range activities {
		if a.Username != "" || a.UserID == "" {
			continue
		}
		name, ok := names[a.UserID]
		if !ok {
			if p, err := s.store.GetProfile(ctx, a.UserID); err == nil && p != nil {
				name = p.Username
			} else if err != nil {
				s.logger.Debug("username lookup failed", "user", a.UserID, "error", err)
			}
			names[a.UserID] = name
		}
		a.Username = name
	}
	return activities, nil
}
