package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"hubsync/internal/model"
)

// SheetSection is one row of the Sections sheet.
type SheetSection struct {
	Row     int
	ID      string
	Name    string
	Icon    string
	Color   string
	Intro   string
	Visible bool
	Order   int
}

// SheetTab is one row of the Tabs sheet.
type SheetTab struct {
	Row       int
	SectionID string
	TabID     string
	TabName   string
	Icon      string
	Index     int
}

// SheetResource is one row of the Resources sheet.
type SheetResource struct {
	Row         int
	SectionID   string
	Type        string
	Title       string
	Description string
	URL         string
	Category    string
	Tags        []string
}

// WorkbookPayload is a parsed import workbook.
type WorkbookPayload struct {
	Sections  []SheetSection
	Tabs      []SheetTab
	Resources []SheetResource
}

// SheetSummary counts the outcome of a workbook import.
type SheetSummary struct {
	SectionsOK   int         `json:"sectionsOk"`
	SectionsErr  []*RowError `json:"sectionsErr"`
	TabsOK       int         `json:"tabsOk"`
	TabsErr      []*RowError `json:"tabsErr"`
	ResourcesOK  int         `json:"resourcesOk"`
	ResourcesErr []*RowError `json:"resourcesErr"`
}

// ImportWorkbook writes a parsed workbook into the store. Rows missing a
// required key get a synthesized one instead of being rejected, and a
// section or type a resource refers to is created before the resource is
// written, since the store only accepts types configured on the section.
func (s *HubService) ImportWorkbook(ctx context.Context, payload *WorkbookPayload) (*SheetSummary, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: workbook is required", ErrValidation)
	}
	summary := &SheetSummary{}

	for _, row := range payload.Sections {
		if err := s.importSheetSection(ctx, row); err != nil {
			summary.SectionsErr = append(summary.SectionsErr, &RowError{Family: "sections", Row: row.Row, ID: row.ID, Err: err})
			continue
		}
		summary.SectionsOK++
	}

	bySection := make(map[string][]SheetTab)
	var order []string
	for _, tab := range payload.Tabs {
		id := strings.TrimSpace(tab.SectionID)
		if _, ok := bySection[id]; !ok {
			order = append(order, id)
		}
		bySection[id] = append(bySection[id], tab)
	}
	for _, sectionID := range order {
		tabs := bySection[sectionID]
		n, err := s.importSheetTabs(ctx, sectionID, tabs)
		if err != nil {
			summary.TabsErr = append(summary.TabsErr, &RowError{Family: "tabs", Row: tabs[0].Row, ID: sectionID, Err: err})
			continue
		}
		summary.TabsOK += n
	}

	for _, row := range payload.Resources {
		createdType, err := s.importSheetResource(ctx, row)
		if createdType {
			summary.TabsOK++
		}
		if err != nil {
			summary.ResourcesErr = append(summary.ResourcesErr, &RowError{Family: "resources", Row: row.Row, ID: row.Title, Err: err})
			continue
		}
		summary.ResourcesOK++
	}

	s.logger.Info("workbook imported",
		"sections", summary.SectionsOK, "tabs", summary.TabsOK, "resources", summary.ResourcesOK,
		"failed", len(summary.SectionsErr)+len(summary.TabsErr)+len(summary.ResourcesErr))
	return summary, nil
}

func (s *HubService) importSheetSection(ctx context.Context, row SheetSection) error {
	id := strings.TrimSpace(row.ID)
	if id == "" {
		return fmt.Errorf("%w: section id is missing", ErrValidation)
	}
	name := strings.TrimSpace(row.Name)
	if name == "" {
		name = id
	}
	if err := s.SaveSection(ctx, &model.Section{ID: id, Name: name, Icon: row.Icon, Color: row.Color}); err != nil {
		return err
	}
	intro, visible, order := row.Intro, row.Visible, row.Order
	_, err := s.SaveSectionConfig(ctx, id, model.SectionConfig{Intro: &intro, Visible: &visible, Order: &order})
	return err
}

func (s *HubService) importSheetTabs(ctx context.Context, sectionID string, tabs []SheetTab) (int, error) {
	if sectionID == "" {
		return 0, fmt.Errorf("%w: tab rows without section id", ErrValidation)
	}
	sorted := append([]SheetTab(nil), tabs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	rows := make([]model.TypeDef, 0, len(sorted))
	for _, t := range sorted {
		rows = append(rows, model.TypeDef{ID: t.TabID, Name: t.TabName, Icon: t.Icon})
	}
	cfg := TypeConfigFromRows(sectionID, rows)
	if len(cfg.Types) == 0 {
		return 0, fmt.Errorf("%w: no valid tab ids for section %s", ErrValidation, sectionID)
	}
	if _, err := s.SaveSectionConfig(ctx, sectionID, cfg); err != nil {
		return 0, err
	}
	return len(cfg.Types), nil
}

// importSheetResource writes one resource row, creating its section and
// type first when needed. It reports whether a type was added.
func (s *HubService) importSheetResource(ctx context.Context, row SheetResource) (bool, error) {
	sectionID := strings.TrimSpace(row.SectionID)
	if sectionID == "" {
		sectionID = shortID(s.idgen, "sec")
	}

	section, err := s.GetSection(ctx, sectionID)
	if err != nil {
		return false, err
	}
	if section == nil {
		section = &model.Section{ID: sectionID, Name: sectionID}
		if err := s.SaveSection(ctx, section); err != nil {
			return false, fmt.Errorf("creating section %s: %w", sectionID, err)
		}
	}

	originalType := strings.TrimSpace(row.Type)
	typeID := NormalizeTypeID(originalType)
	if !IsValidTypeID(typeID) {
		typeID = shortID(s.idgen, "t")
	}

	createdType := false
	if !section.Config.HasType(typeID) {
		name := originalType
		if name == "" {
			name = typeID
		}
		cfg := section.Config
		types := append(append([]model.TypeDef(nil), cfg.Types...), model.TypeDef{ID: typeID, Name: name, Key: sectionID + ":" + typeID})
		tabs := append(append([]string(nil), cfg.Tabs...), typeID)
		names := append(append([]string(nil), cfg.TabNames...), name)
		if len(cfg.TabNames) != len(cfg.Tabs) {
			names = nil
		}
		if _, err := s.SaveSectionConfig(ctx, sectionID, model.SectionConfig{Types: types, Tabs: tabs, TabNames: names}); err != nil {
			return false, fmt.Errorf("adding type %s to section %s: %w", typeID, sectionID, err)
		}
		createdType = true
	}

	title := strings.TrimSpace(row.Title)
	extra := map[string]any{}
	if originalType != "" && originalType != typeID {
		extra["originalType"] = originalType
	}
	if title == "" {
		title = shortID(s.idgen, "Untitled")
		extra["originalTitle"] = row.Title
	}

	resource := &model.Resource{
		ID:          s.idgen.New(),
		SectionID:   sectionID,
		Type:        typeID,
		Title:       title,
		Description: strings.TrimSpace(row.Description),
		URL:         strings.TrimSpace(row.URL),
		Category:    strings.TrimSpace(row.Category),
		Tags:        row.Tags,
	}
	if len(extra) > 0 {
		if raw, err := json.Marshal(extra); err == nil {
			resource.Extra = raw
		}
	}
	return createdType, s.SaveResource(ctx, resource)
}
