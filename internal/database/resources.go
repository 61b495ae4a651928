package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

const resourceColumns = "id, section_id, type, title, description, url, tags, category, extra, created_by, created_at, updated_at"

// UpsertResource writes a resource. The section must exist and list the
// resource's type among its configured types or tabs.
func (s *SQLiteStore) UpsertResource(ctx context.Context, r *model.Resource) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: resource id is required", hub.ErrValidation)
	}
	section, err := s.GetSection(ctx, r.SectionID)
	if err != nil {
		return err
	}
	if section == nil {
		return fmt.Errorf("%w: invalid section reference %q", hub.ErrValidation, r.SectionID)
	}
	if !section.Config.HasType(r.Type) {
		return fmt.Errorf("%w: type %q is not configured on section %s", hub.ErrValidation, r.Type, r.SectionID)
	}
	if _, err := s.requireSectionWrite(ctx, r.SectionID); err != nil {
		return err
	}

	tags, err := encodeJSON(nonNil(r.Tags))
	if err != nil {
		return fmt.Errorf("%w: encoding tags: %v", hub.ErrValidation, err)
	}

	// A resource may not be moved out of a section the actor cannot edit.
	existing, err := s.GetResource(ctx, r.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.SectionID != r.SectionID {
		if _, err := s.requireSectionWrite(ctx, existing.SectionID); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources (`+resourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			section_id = excluded.section_id,
			type = excluded.type,
			title = excluded.title,
			description = excluded.description,
			url = excluded.url,
			tags = excluded.tags,
			category = excluded.category,
			extra = excluded.extra,
			updated_at = excluded.updated_at`,
		r.ID, r.SectionID, r.Type, r.Title, r.Description, r.URL, tags, r.Category,
		nullableJSON(r.Extra), r.CreatedBy, s.orNow(r.CreatedAt), s.orNow(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting resource %s: %w", r.ID, err)
	}

	op := "UPDATE"
	if existing == nil {
		op = "INSERT"
	}
	s.publish(hub.TableResources, op, r.ID, r.SectionID)
	return nil
}

func (s *SQLiteStore) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+resourceColumns+" FROM resources WHERE id = ?", id)
	r, err := scanResource(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting resource %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) ListResources(ctx context.Context, filter hub.ResourceFilter) ([]*model.Resource, error) {
	query := "SELECT " + resourceColumns + " FROM resources"
	var (
		where []string
		args  []any
	)
	if filter.SectionID != "" {
		where = append(where, "section_id = ?")
		args = append(args, filter.SectionID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit, offset := limitOffset(filter.Page)
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	defer rows.Close()

	var resources []*model.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning resource: %w", err)
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

func (s *SQLiteStore) DeleteResource(ctx context.Context, id string) error {
	existing, err := s.GetResource(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("resource %s: %w", id, hub.ErrNotFound)
	}
	p, err := s.actor(ctx)
	if err != nil {
		return err
	}
	if !p.CanDeleteResource(existing) {
		return fmt.Errorf("%w: %s may not delete resource %s", hub.ErrPermission, p.ID, id)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM resources WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting resource %s: %w", id, err)
	}
	s.publish(hub.TableResources, "DELETE", id, existing.SectionID)
	return nil
}

func scanResource(sc scanner) (*model.Resource, error) {
	var (
		r                    model.Resource
		tags                 string
		extra                sql.NullString
		createdAt, updatedAt string
	)
	if err := sc.Scan(&r.ID, &r.SectionID, &r.Type, &r.Title, &r.Description, &r.URL, &tags, &r.Category, &extra, &r.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSONText(tags, &r.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of resource %s: %w", r.ID, err)
	}
	r.Extra = rawJSON(extra)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
