package model

import (
	"encoding/json"
	"slices"
	"time"
)

// Role names stored on a Profile.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Section is a top-level content container with configurable sub-tabs.
type Section struct {
	ID        string        `json:"section_id"`
	Name      string        `json:"name"`
	Icon      string        `json:"icon,omitempty"`
	Color     string        `json:"color,omitempty"`
	Config    SectionConfig `json:"config"`
	Version   int64         `json:"version,omitempty"` // bumped on every write; used for conditional config writes
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SectionConfig holds the nested tab/type/category settings of a Section.
// Scalars are pointers so that "absent" and "explicit zero value" stay distinct.
type SectionConfig struct {
	Tabs       []string  `json:"tabs,omitempty"`
	TabNames   []string  `json:"tab_names,omitempty"`
	Types      []TypeDef `json:"types,omitempty"`
	Categories []string  `json:"categories,omitempty"`
	Intro      *string   `json:"intro,omitempty"`
	Visible    *bool     `json:"visible,omitempty"`
	Order      *int      `json:"order,omitempty"`
}

// HasType reports whether id is a configured type or tab of the section.
func (c SectionConfig) HasType(id string) bool {
	if slices.Contains(c.Tabs, id) {
		return true
	}
	for _, t := range c.Types {
		if t.ID == id {
			return true
		}
	}
	return false
}

// TypeDef is the authoritative metadata for one tab/type of a Section.
type TypeDef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
	Key  string `json:"key,omitempty"` // "<sectionId>:<typeId>"
}

// Resource is a single linked content record belonging to one Section and one type.
type Resource struct {
	ID          string          `json:"id"`
	SectionID   string          `json:"section_id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	URL         string          `json:"url,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Category    string          `json:"category,omitempty"`
	Extra       json.RawMessage `json:"extra,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Activity is an append-only audit record.
type Activity struct {
	ID         int64           `json:"id,omitempty"`
	UserID     string          `json:"user_id"`
	Username   string          `json:"username,omitempty"`
	Action     string          `json:"action"`
	SectionID  string          `json:"section_id,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// SiteSetting is a global key/value pair.
type SiteSetting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Profile is a user of the workspace together with its permissions.
type Profile struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	Email       string      `json:"email,omitempty"`
	Name        string      `json:"name,omitempty"`
	Role        string      `json:"role"`
	Permissions Permissions `json:"permissions"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Permissions are the per-user capability flags stored on a Profile.
type Permissions struct {
	Sections           []string `json:"sections,omitempty"`
	EditableSections   []string `json:"editableSections,omitempty"`
	CanEditAllSections bool     `json:"canEditAllSections"`
	CanManageUsers     bool     `json:"canManageUsers"`
	CanDeleteResources bool     `json:"canDeleteResources"`
	Disabled           bool     `json:"disabled"`
}

// Clone returns a deep copy of p.
func (p Permissions) Clone() Permissions {
	p.Sections = slices.Clone(p.Sections)
	p.EditableSections = slices.Clone(p.EditableSections)
	return p
}

// IsAdmin reports whether the profile holds the admin role.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin && !p.Permissions.Disabled
}

// CanManageUsers reports whether the profile may write profiles and site settings.
func (p *Profile) CanManageUsers() bool {
	if p == nil || p.Permissions.Disabled {
		return false
	}
	return p.Role == RoleAdmin || p.Permissions.CanManageUsers
}

// CanWriteSection reports whether the profile may write the section and its resources.
func (p *Profile) CanWriteSection(sectionID string) bool {
	if p == nil || p.Permissions.Disabled {
		return false
	}
	if p.Role == RoleAdmin || p.Permissions.CanEditAllSections {
		return true
	}
	return slices.Contains(p.Permissions.EditableSections, sectionID)
}

// CanDeleteResource reports whether the profile may delete r.
func (p *Profile) CanDeleteResource(r *Resource) bool {
	if !p.CanWriteSection(r.SectionID) {
		return false
	}
	return p.Role == RoleAdmin || p.Permissions.CanDeleteResources || r.CreatedBy == p.ID
}

// View is a per-user view counter for a resource.
type View struct {
	ID           string    `json:"id,omitempty"`
	UserID       string    `json:"user_id"`
	ResourceID   string    `json:"resource_id"`
	Count        int64     `json:"count"`
	LastViewedAt time.Time `json:"last_viewed_at"`
}

// ExportBundle is the result of the privileged single-call export.
type ExportBundle struct {
	Users      []*Profile  `json:"users"`
	Sections   []*Section  `json:"sections"`
	Resources  []*Resource `json:"resources"`
	Activities []*Activity `json:"activities"`
	Views      []*View     `json:"views"`
}
