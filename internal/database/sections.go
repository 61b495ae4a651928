package database

import (
	"context"
	"encoding/json"
	"fmt"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

const sectionColumns = "section_id, name, icon, color, config, version, created_at, updated_at"

func (s *SQLiteStore) UpsertSection(ctx context.Context, section *model.Section) error {
	if _, err := s.requireSectionWrite(ctx, section.ID); err != nil {
		return err
	}
	cfg, err := encodeJSON(section.Config)
	if err != nil {
		return fmt.Errorf("%w: encoding config: %v", hub.ErrValidation, err)
	}

	now := s.now()
	var version int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sections (section_id, name, icon, color, config, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (section_id) DO UPDATE SET
			name = excluded.name,
			icon = excluded.icon,
			color = excluded.color,
			config = excluded.config,
			version = sections.version + 1,
			updated_at = excluded.updated_at
		RETURNING version`,
		section.ID, section.Name, section.Icon, section.Color, cfg,
		s.orNow(section.CreatedAt), now,
	).Scan(&version)
	if err != nil {
		return fmt.Errorf("upserting section %s: %w", section.ID, err)
	}
	section.Version = version

	op := "UPDATE"
	if version == 1 {
		op = "INSERT"
	}
	s.publish(hub.TableSections, op, section.ID, section.ID)
	return nil
}

func (s *SQLiteStore) GetSection(ctx context.Context, id string) (*model.Section, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sectionColumns+" FROM sections WHERE section_id = ?", id)
	section, err := scanSection(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting section %s: %w", id, err)
	}
	return section, nil
}

func (s *SQLiteStore) ListSections(ctx context.Context) ([]*model.Section, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sectionColumns+" FROM sections ORDER BY name, section_id")
	if err != nil {
		return nil, fmt.Errorf("listing sections: %w", err)
	}
	defer rows.Close()

	var sections []*model.Section
	for rows.Next() {
		section, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning section: %w", err)
		}
		sections = append(sections, section)
	}
	return sections, rows.Err()
}

func (s *SQLiteStore) DeleteSection(ctx context.Context, id string) error {
	if _, err := s.requireSectionWrite(ctx, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sections WHERE section_id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting section %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("section %s: %w", id, hub.ErrNotFound)
	}
	s.publish(hub.TableSections, "DELETE", id, id)
	return nil
}

// UpdateSectionConfig writes the config only when the stored version still
// equals expectedVersion.
func (s *SQLiteStore) UpdateSectionConfig(ctx context.Context, id string, cfg model.SectionConfig, expectedVersion int64) (int64, error) {
	if _, err := s.requireSectionWrite(ctx, id); err != nil {
		return 0, err
	}
	encoded, err := encodeJSON(cfg)
	if err != nil {
		return 0, fmt.Errorf("%w: encoding config: %v", hub.ErrValidation, err)
	}

	var version int64
	err = s.db.QueryRowContext(ctx, `
		UPDATE sections SET config = ?, version = version + 1, updated_at = ?
		WHERE section_id = ? AND version = ?
		RETURNING version`,
		encoded, s.now(), id, expectedVersion,
	).Scan(&version)
	if isNoRows(err) {
		existing, getErr := s.GetSection(ctx, id)
		if getErr != nil {
			return 0, getErr
		}
		if existing == nil {
			return 0, fmt.Errorf("section %s: %w", id, hub.ErrNotFound)
		}
		return 0, fmt.Errorf("section %s at version %d, expected %d: %w", id, existing.Version, expectedVersion, hub.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("updating config of section %s: %w", id, err)
	}

	s.publish(hub.TableSections, "UPDATE", id, id)
	return version, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSection(sc scanner) (*model.Section, error) {
	var (
		section              model.Section
		cfg                  string
		createdAt, updatedAt string
	)
	if err := sc.Scan(&section.ID, &section.Name, &section.Icon, &section.Color, &cfg, &section.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &section.Config); err != nil {
			return nil, fmt.Errorf("decoding config of section %s: %w", section.ID, err)
		}
	}
	section.CreatedAt = parseTime(createdAt)
	section.UpdatedAt = parseTime(updatedAt)
	return &section, nil
}
