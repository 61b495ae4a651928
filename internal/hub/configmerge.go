package hub

import (
	"bytes"
	"encoding/json"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"hubsync/internal/model"
)

// typeSynonyms folds equivalent spellings of common type ids onto one form.
var typeSynonyms = map[string]string{
	"playbook":  "playbooks",
	"boxlink":   "box-links",
	"box-link":  "box-links",
	"boxlinks":  "box-links",
	"box":       "box-links",
	"dashboard": "dashboards",
}

// validTypeID is the shape the store accepts for a type id.
var validTypeID = regexp.MustCompile(`^[a-z][a-z0-9-]{1,49}$`)

// IsValidTypeID reports whether id is acceptable as a tab/type id.
func IsValidTypeID(id string) bool {
	return validTypeID.MatchString(id)
}

// NormalizeTypeID converts a user-supplied tab/type identifier to its
// canonical form, e.g. "Box Links", "box_links" and "BOX-LINKS" all become
// "box-links".
func NormalizeTypeID(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))

	var b strings.Builder
	lastHyphen := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r) || r == '_' || r == '-':
			if !lastHyphen {
				b.WriteByte('-')
			}
			lastHyphen = true
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		}
	}

	id := strings.Trim(b.String(), "-")
	if syn, ok := typeSynonyms[id]; ok {
		return syn
	}
	return id
}

// DedupeTypes normalizes the ids of an ordered type list and removes
// duplicates. The latest row for an id wins and takes that row's position.
// Rows whose id normalizes to nothing are dropped.
func DedupeTypes(rows []model.TypeDef) []model.TypeDef {
	normalized := make([]model.TypeDef, 0, len(rows))
	last := make(map[string]int, len(rows))
	for _, row := range rows {
		id := NormalizeTypeID(row.ID)
		if id == "" {
			continue
		}
		row.ID = id
		row.Name = strings.TrimSpace(row.Name)
		if row.Name == "" {
			row.Name = id
		}
		last[id] = len(normalized)
		normalized = append(normalized, row)
	}

	out := make([]model.TypeDef, 0, len(last))
	for i, row := range normalized {
		if last[row.ID] == i {
			out = append(out, row)
		}
	}
	return out
}

// TypeConfigFromRows builds the types/tabs/tab_names part of a section
// config from an ordered list of (id, name, icon) rows.
func TypeConfigFromRows(sectionID string, rows []model.TypeDef) model.SectionConfig {
	types := DedupeTypes(rows)
	cfg := model.SectionConfig{
		Types:    make([]model.TypeDef, 0, len(types)),
		Tabs:     make([]string, 0, len(types)),
		TabNames: make([]string, 0, len(types)),
	}
	for _, t := range types {
		t.Key = sectionID + ":" + t.ID
		cfg.Types = append(cfg.Types, t)
		cfg.Tabs = append(cfg.Tabs, t.ID)
		cfg.TabNames = append(cfg.TabNames, t.Name)
	}
	return cfg
}

// MergeConfig applies partial on top of existing.
//
// Array fields are replaced only by a non-empty incoming array. Scalar fields
// are replaced by any incoming value, including false and 0; absent scalars
// keep the existing value, or take the default when there is none.
func MergeConfig(existing, partial model.SectionConfig) model.SectionConfig {
	out := model.SectionConfig{
		Tabs:       pickArray(partial.Tabs, existing.Tabs),
		TabNames:   pickArray(partial.TabNames, existing.TabNames),
		Types:      pickArray(partial.Types, existing.Types),
		Categories: pickArray(partial.Categories, existing.Categories),
		Intro:      pickScalar(partial.Intro, existing.Intro, ""),
		Visible:    pickScalar(partial.Visible, existing.Visible, true),
		Order:      pickScalar(partial.Order, existing.Order, 0),
	}
	alignTabNames(&out)
	return out
}

// ConfigsEqual compares two configs by their serialized form.
func ConfigsEqual(a, b model.SectionConfig) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// IsEmptyConfig reports whether cfg carries no fields at all.
func IsEmptyConfig(cfg model.SectionConfig) bool {
	return ConfigsEqual(cfg, model.SectionConfig{})
}

func pickArray[T any](incoming, existing []T) []T {
	if len(incoming) > 0 {
		return slices.Clone(incoming)
	}
	return slices.Clone(existing)
}

func pickScalar[T any](incoming, existing *T, def T) *T {
	switch {
	case incoming != nil:
		v := *incoming
		return &v
	case existing != nil:
		v := *existing
		return &v
	default:
		return &def
	}
}

// alignTabNames keeps tab_names index-aligned with tabs. When a merge
// replaced one array but not the other, names are rebuilt from types.
func alignTabNames(cfg *model.SectionConfig) {
	if len(cfg.Tabs) == 0 || len(cfg.TabNames) == 0 || len(cfg.Tabs) == len(cfg.TabNames) {
		return
	}
	names := make(map[string]string, len(cfg.Types))
	for _, t := range cfg.Types {
		names[t.ID] = t.Name
	}
	aligned := make([]string, len(cfg.Tabs))
	for i, id := range cfg.Tabs {
		if name := names[id]; name != "" {
			aligned[i] = name
		} else {
			aligned[i] = id
		}
	}
	cfg.TabNames = aligned
}
