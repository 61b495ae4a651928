package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"hubsync/internal/model"
)

// Snapshot is the portable document holding a copy of every record family.
// Decoding accepts the array and the keyed-map shapes for resources and
// site settings, and both snake_case and camelCase field names on rows.
type Snapshot struct {
	Users        ProfileSet        `json:"users"`
	Sections     SectionSet        `json:"sections"`
	Resources    ResourceSet       `json:"resources"`
	Activities   []*model.Activity `json:"activities"`
	Views        ViewSet           `json:"views"`
	SiteSettings SettingSet        `json:"siteSettings"`
	ExportDate   time.Time         `json:"exportDate"`
	TotalRecords map[string]int    `json:"totalRecords"`
}

// Counts returns the number of rows per family.
func (s *Snapshot) Counts() map[string]int {
	return map[string]int{
		"users":        len(s.Users),
		"sections":     len(s.Sections),
		"resources":    len(s.Resources),
		"activities":   len(s.Activities),
		"views":        len(s.Views),
		"siteSettings": len(s.SiteSettings),
	}
}

// ProfileSet decodes user rows.
type ProfileSet []*model.Profile

// SectionSet decodes section rows.
type SectionSet []*model.Section

// ResourceSet decodes resource rows given as an array or as a map of
// section id to array.
type ResourceSet []*model.Resource

// ViewSet decodes view-counter rows.
type ViewSet []*model.View

// SettingSet decodes site settings given as an array of {key, value} or as
// a map of key to value.
type SettingSet []*model.SiteSetting

func (p *ProfileSet) UnmarshalJSON(data []byte) error {
	rows, err := decodeRows(data)
	if err != nil {
		return fmt.Errorf("users: %w", err)
	}
	out := make(ProfileSet, 0, len(rows))
	for _, r := range rows {
		profile := &model.Profile{
			ID:        r.str("id", "user_id", "userId"),
			Username:  r.str("username"),
			Email:     r.str("email"),
			Name:      r.str("name", "full_name", "fullName"),
			Role:      r.str("role"),
			CreatedAt: r.time("created_at", "createdAt"),
		}
		if raw := r.raw("permissions"); raw != nil {
			if err := json.Unmarshal(raw, &profile.Permissions); err != nil {
				return fmt.Errorf("users: permissions of %s: %w", profile.ID, err)
			}
		}
		out = append(out, profile)
	}
	*p = out
	return nil
}

func (s *SectionSet) UnmarshalJSON(data []byte) error {
	rows, err := decodeRows(data)
	if err != nil {
		return fmt.Errorf("sections: %w", err)
	}
	out := make(SectionSet, 0, len(rows))
	for _, r := range rows {
		section := &model.Section{
			ID:        r.str("section_id", "sectionId", "id"),
			Name:      r.str("name"),
			Icon:      r.str("icon"),
			Color:     r.str("color"),
			CreatedAt: r.time("created_at", "createdAt"),
			UpdatedAt: r.time("updated_at", "updatedAt"),
		}
		if raw := r.raw("config"); raw != nil {
			if err := decodeConfig(raw, &section.Config); err != nil {
				return fmt.Errorf("sections: config of %s: %w", section.ID, err)
			}
		}
		out = append(out, section)
	}
	*s = out
	return nil
}

func (rs *ResourceSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var bySection map[string]json.RawMessage
		if err := json.Unmarshal(data, &bySection); err != nil {
			return fmt.Errorf("resources: %w", err)
		}
		keys := make([]string, 0, len(bySection))
		for k := range bySection {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var out ResourceSet
		for _, sectionID := range keys {
			rows, err := decodeRows(bySection[sectionID])
			if err != nil {
				return fmt.Errorf("resources of %s: %w", sectionID, err)
			}
			for _, r := range rows {
				out = append(out, r.resource(sectionID))
			}
		}
		*rs = out
		return nil
	}

	rows, err := decodeRows(data)
	if err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	out := make(ResourceSet, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.resource(""))
	}
	*rs = out
	return nil
}

func (v *ViewSet) UnmarshalJSON(data []byte) error {
	rows, err := decodeRows(data)
	if err != nil {
		return fmt.Errorf("views: %w", err)
	}
	out := make(ViewSet, 0, len(rows))
	for _, r := range rows {
		out = append(out, &model.View{
			ID:           r.str("id"),
			UserID:       r.str("user_id", "userId"),
			ResourceID:   r.str("resource_id", "resourceId"),
			Count:        r.int("count", "view_count", "views"),
			LastViewedAt: r.time("last_viewed_at", "lastViewedAt", "last_viewed"),
		})
	}
	*v = out
	return nil
}

func (ss *SettingSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var byKey map[string]json.RawMessage
		if err := json.Unmarshal(data, &byKey); err != nil {
			return fmt.Errorf("siteSettings: %w", err)
		}
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(SettingSet, 0, len(keys))
		for _, k := range keys {
			out = append(out, &model.SiteSetting{Key: k, Value: byKey[k]})
		}
		*ss = out
		return nil
	}

	rows, err := decodeRows(data)
	if err != nil {
		return fmt.Errorf("siteSettings: %w", err)
	}
	out := make(SettingSet, 0, len(rows))
	for _, r := range rows {
		out = append(out, &model.SiteSetting{
			Key:       r.str("key"),
			Value:     r.raw("value"),
			UpdatedAt: r.time("updated_at", "updatedAt"),
		})
	}
	*ss = out
	return nil
}

// decodeConfig accepts a config object or a JSON string holding one.
func decodeConfig(raw json.RawMessage, cfg *model.SectionConfig) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		raw = json.RawMessage(s)
	}
	return json.Unmarshal(raw, cfg)
}

// row is one loosely typed snapshot record.
type row map[string]json.RawMessage

func decodeRows(data []byte) ([]row, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var rows []row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r row) raw(keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := r[k]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v
		}
	}
	return nil
}

// str returns the first non-empty value among keys, rendering numbers as text.
func (r row) str(keys ...string) string {
	for _, k := range keys {
		v := r.raw(k)
		if v == nil {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

func (r row) int(keys ...string) int64 {
	for _, k := range keys {
		v := r.raw(k)
		if v == nil {
			continue
		}
		var n int64
		if err := json.Unmarshal(v, &n); err == nil {
			return n
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func (r row) time(keys ...string) time.Time {
	for _, k := range keys {
		s := r.str(k)
		if s == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// strs accepts an array of strings or a comma-separated string.
func (r row) strs(keys ...string) []string {
	for _, k := range keys {
		v := r.raw(k)
		if v == nil {
			continue
		}
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			return list
		}
		if s := r.str(k); s != "" {
			return SplitTags(s)
		}
	}
	return nil
}

func (r row) resource(sectionHint string) *model.Resource {
	res := &model.Resource{
		ID:          r.str("id"),
		SectionID:   r.str("section_id", "sectionId", "section"),
		Type:        r.str("type"),
		Title:       r.str("title"),
		Description: r.str("description"),
		URL:         r.str("url"),
		Tags:        r.strs("tags"),
		Category:    r.str("category"),
		Extra:       r.raw("extra"),
		CreatedBy:   r.str("created_by", "createdBy"),
		CreatedAt:   r.time("created_at", "createdAt"),
		UpdatedAt:   r.time("updated_at", "updatedAt"),
	}
	if res.SectionID == "" {
		res.SectionID = sectionHint
	}
	return res
}

// SplitTags splits a comma-separated tag list, dropping blanks.
func SplitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
