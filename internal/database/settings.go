package database

import (
	"context"
	"encoding/json"
	"fmt"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

func (s *SQLiteStore) UpsertSetting(ctx context.Context, key string, value json.RawMessage) error {
	if _, err := s.requireManager(ctx); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: setting key is required", hub.ErrValidation)
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: setting %s is not valid JSON", hub.ErrValidation, key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, string(value), s.now(),
	)
	if err != nil {
		return fmt.Errorf("upserting setting %s: %w", key, err)
	}
	s.publish(hub.TableSiteSettings, "UPDATE", key, "")
	return nil
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*model.SiteSetting, error) {
	var (
		setting   model.SiteSetting
		value     string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, "SELECT key, value, updated_at FROM site_settings WHERE key = ?", key).
		Scan(&setting.Key, &value, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting setting %s: %w", key, err)
	}
	setting.Value = json.RawMessage(value)
	setting.UpdatedAt = parseTime(updatedAt)
	return &setting, nil
}

func (s *SQLiteStore) ListSettings(ctx context.Context) ([]*model.SiteSetting, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value, updated_at FROM site_settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	var settings []*model.SiteSetting
	for rows.Next() {
		var (
			setting   model.SiteSetting
			value     string
			updatedAt string
		)
		if err := rows.Scan(&setting.Key, &value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		setting.Value = json.RawMessage(value)
		setting.UpdatedAt = parseTime(updatedAt)
		settings = append(settings, &setting)
	}
	return settings, rows.Err()
}
