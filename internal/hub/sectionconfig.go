package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hubsync/internal/model"
)

// configSaveCycles bounds how often a save re-runs the whole read-merge-write
// after losing a race or failing verification.
const configSaveCycles = 2

// SaveSectionConfig merges partial into the section's stored config.
// It reports whether a write happened: a merge that leaves the config
// unchanged performs no write at all. The write is conditional on the
// version that was read; a lost race or a failed read-back verification
// triggers one more full merge cycle. A missing section is created with its
// id as name.
func (s *HubService) SaveSectionConfig(ctx context.Context, sectionID string, partial model.SectionConfig) (bool, error) {
	sectionID = strings.TrimSpace(sectionID)
	if sectionID == "" {
		return false, fmt.Errorf("%w: section id is required", ErrValidation)
	}

	changed := false
	var lastErr error
	// attempted holds a merge whose write ended in a conflict. Its commit
	// may have landed before the reply was lost.
	var attempted *model.SectionConfig
	for cycle := 1; cycle <= configSaveCycles; cycle++ {
		existing, err := s.GetSection(ctx, sectionID)
		if err != nil {
			return changed, err
		}

		if existing == nil {
			section := &model.Section{
				ID:     sectionID,
				Name:   sectionID,
				Config: MergeConfig(model.SectionConfig{}, partial),
			}
			if err := s.SaveSection(ctx, section); err != nil {
				return changed, err
			}
			return true, nil
		}

		merged := MergeConfig(existing.Config, partial)
		if ConfigsEqual(merged, existing.Config) {
			if attempted != nil && ConfigsEqual(existing.Config, *attempted) {
				s.logger.Info("earlier section config write found committed", "section", sectionID)
				changed = true
			} else {
				s.logger.Debug("section config unchanged, skipping write", "section", sectionID)
			}
			lastErr = nil
			break
		}

		_, err = Retry(ctx, s.retry, "update section config", func(ctx context.Context) (int64, error) {
			return s.store.UpdateSectionConfig(ctx, sectionID, merged, existing.Version)
		})
		if errors.Is(err, ErrConflict) {
			s.logger.Warn("section config changed concurrently, merging again", "section", sectionID, "cycle", cycle)
			attempted = &merged
			lastErr = err
			continue
		}
		if err != nil {
			return changed, fmt.Errorf("writing config of section %s: %w", sectionID, err)
		}
		changed = true
		lastErr = nil

		stored, err := s.GetSection(ctx, sectionID)
		if err != nil {
			s.logger.Warn("section config verification read failed", "section", sectionID, "error", err)
			break
		}
		if stored != nil && ConfigsEqual(stored.Config, merged) {
			break
		}
		s.logger.Warn("section config verification mismatch", "section", sectionID, "cycle", cycle)
	}

	if lastErr != nil {
		return changed, fmt.Errorf("writing config of section %s: %w", sectionID, lastErr)
	}
	if changed {
		s.logger.Info("section config saved", "section", sectionID)
		s.logActivity(ctx, "config_updated", sectionID, "", map[string]any{
			"tabs":  len(partial.Tabs),
			"types": len(partial.Types),
		})
	}
	return changed, nil
}

// SaveSectionTypes replaces a section's tab/type list from ordered
// (id, name, icon) rows. Duplicate ids collapse onto their latest row.
func (s *HubService) SaveSectionTypes(ctx context.Context, sectionID string, rows []model.TypeDef) (bool, error) {
	cfg := TypeConfigFromRows(sectionID, rows)
	if len(cfg.Types) == 0 {
		return false, fmt.Errorf("%w: at least one valid type id is required", ErrValidation)
	}
	return s.SaveSectionConfig(ctx, sectionID, cfg)
}
