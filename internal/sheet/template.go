package sheet

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

var templateSheets = []struct {
	name string
	rows [][]any
}{
	{SectionsSheet, [][]any{
		{"Section ID", "Name", "Icon", "Color", "Intro", "Visible", "Order"},
		{"example", "Example", "fas fa-table-cells-large", "#007bff", "Intro text (optional)", "Yes", 1},
	}},
	{TabsSheet, [][]any{
		{"Section ID", "Tab ID", "Tab Name", "Icon", "Index"},
		{"example", "playbooks", "Playbooks", "fas fa-book", 1},
		{"example", "box-links", "Box Links", "fas fa-link", 2},
		{"example", "dashboards", "Dashboards", "fas fa-chart-bar", 3},
	}},
	{ResourcesSheet, [][]any{
		{"Section ID", "Type (tab id)", "Title", "Description", "URL", "Category", "Tags (comma)"},
		{"example", "playbooks", "Getting Started", "How to begin", "https://example.com", "guide", "onboarding, setup"},
	}},
	{ReadmeSheet, [][]any{
		{"Note"},
		{"Fill out the sheets with your data. Section IDs must be unique."},
		{"Tabs: Tab ID is the canonical type id (e.g., playbooks, box-links)."},
		{"Resources: Type must match a Tab ID for its Section."},
	}},
}

// WriteTemplate writes an example import workbook to path.
func WriteTemplate(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, sh := range templateSheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sh.name); err != nil {
				return fmt.Errorf("naming sheet %s: %w", sh.name, err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return fmt.Errorf("adding sheet %s: %w", sh.name, err)
		}
		for r, row := range sh.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sh.name, cell, &row); err != nil {
				return fmt.Errorf("writing %s row %d: %w", sh.name, r+1, err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving template %s: %w", path, err)
	}
	return nil
}
