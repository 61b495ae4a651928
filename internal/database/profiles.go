package database

import (
	"context"
	"fmt"
	"strings"

	"hubsync/internal/hub"
	"hubsync/internal/model"
)

const profileColumns = "id, username, email, name, role, permissions, created_at"

// UpsertProfile writes a profile. Only managers may write profiles.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *model.Profile) error {
	if _, err := s.requireManager(ctx); err != nil {
		return err
	}
	existing, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := s.writeProfile(ctx, p); err != nil {
		return err
	}
	op := "UPDATE"
	if existing == nil {
		op = "INSERT"
	}
	s.publish(hub.TableProfiles, op, p.ID, "")
	return nil
}

// writeProfile upserts without policy checks.
func (s *SQLiteStore) writeProfile(ctx context.Context, p *model.Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: profile id is required", hub.ErrValidation)
	}
	role := p.Role
	if role == "" {
		role = model.RoleViewer
	}
	perms, err := encodeJSON(p.Permissions)
	if err != nil {
		return fmt.Errorf("%w: encoding permissions: %v", hub.ErrValidation, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			name = excluded.name,
			role = excluded.role,
			permissions = excluded.permissions`,
		p.ID, p.Username, p.Email, p.Name, role, perms, s.orNow(p.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "CHECK constraint") {
			return fmt.Errorf("%w: invalid role %q", hub.ErrValidation, role)
		}
		return fmt.Errorf("upserting profile %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM profiles WHERE id = ?", id)
	p, err := scanProfile(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting profile %s: %w", id, err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProfiles(ctx context.Context, page hub.Page) ([]*model.Profile, error) {
	limit, offset := limitOffset(page)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+profileColumns+" FROM profiles ORDER BY username, id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// UpdatePermissions replaces the permissions of profile id.
func (s *SQLiteStore) UpdatePermissions(ctx context.Context, id string, perms model.Permissions) error {
	if _, err := s.requireManager(ctx); err != nil {
		return err
	}
	encoded, err := encodeJSON(perms)
	if err != nil {
		return fmt.Errorf("%w: encoding permissions: %v", hub.ErrValidation, err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE profiles SET permissions = ? WHERE id = ?", encoded, id)
	if err != nil {
		return fmt.Errorf("updating permissions of %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %s: %w", id, hub.ErrNotFound)
	}
	s.publish(hub.TableProfiles, "UPDATE", id, "")
	return nil
}

func scanProfile(sc scanner) (*model.Profile, error) {
	var (
		p         model.Profile
		perms     string
		createdAt string
	)
	if err := sc.Scan(&p.ID, &p.Username, &p.Email, &p.Name, &p.Role, &perms, &createdAt); err != nil {
		return nil, err
	}
	if err := decodeJSONText(perms, &p.Permissions); err != nil {
		return nil, fmt.Errorf("decoding permissions of %s: %w", p.ID, err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}
