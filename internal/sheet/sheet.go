// Package sheet reads hub import workbooks. A workbook has a Sections, a
// Tabs and a Resources sheet, each with a header row. It can come from an
// .xlsx file or from a directory of CSV files named after the sheets.
package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"hubsync/internal/hub"
)

const (
	SectionsSheet  = "Sections"
	TabsSheet      = "Tabs"
	ResourcesSheet = "Resources"
	ReadmeSheet    = "Readme"
)

var truthy = regexp.MustCompile(`(?i)^(yes|true|1)$`)

// Column aliases per field. The first alias is the one templates use.
var (
	sectionIDCols  = []string{"Section ID", "SectionId", "sectionId", "id"}
	tabSectionCols = []string{"Section ID", "SectionId", "sectionId"}
	tabIDCols      = []string{"Tab ID", "TabId", "tabId", "id"}
	tabNameCols    = []string{"Tab Name", "TabName", "tabName", "name"}
	typeCols       = []string{"Type (tab id)", "Type", "type"}
	tagsCols       = []string{"Tags (comma)", "Tags", "tags"}
)

// table is one sheet's rows keyed by header.
type table struct {
	header map[string]int
	rows   [][]string
}

func newTable(raw [][]string) *table {
	t := &table{header: map[string]int{}}
	if len(raw) == 0 {
		return t
	}
	for i, h := range raw[0] {
		h = strings.TrimSpace(h)
		if _, dup := t.header[h]; h != "" && !dup {
			t.header[h] = i
		}
	}
	t.rows = raw[1:]
	return t
}

// cell returns the first non-empty value among the aliased columns.
func (t *table) cell(row []string, names ...string) string {
	for _, name := range names {
		i, ok := t.header[name]
		if !ok || i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			return v
		}
	}
	return ""
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		if f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64); ferr == nil {
			return int(f)
		}
		return 0
	}
	return n
}

// rowNumber is the 1-based spreadsheet row of data row i, counting the header.
func rowNumber(i int) int { return i + 2 }

// Parse turns raw sheet contents into a payload. Missing sheets are empty.
// Sections need an id and tabs need both a section id and a tab id; resource
// rows are kept unless entirely blank so the importer can synthesize keys.
func Parse(sections, tabs, resources [][]string) *hub.WorkbookPayload {
	payload := &hub.WorkbookPayload{}

	st := newTable(sections)
	for i, row := range st.rows {
		id := st.cell(row, sectionIDCols...)
		if id == "" {
			continue
		}
		visible := st.cell(row, "Visible", "visible")
		if visible == "" {
			visible = "yes"
		}
		payload.Sections = append(payload.Sections, hub.SheetSection{
			Row:     rowNumber(i),
			ID:      id,
			Name:    st.cell(row, "Name", "name"),
			Icon:    st.cell(row, "Icon", "icon"),
			Color:   st.cell(row, "Color", "color"),
			Intro:   st.cell(row, "Intro", "intro"),
			Visible: truthy.MatchString(visible),
			Order:   atoi(st.cell(row, "Order", "order")),
		})
	}

	tt := newTable(tabs)
	for i, row := range tt.rows {
		sectionID, tabID := tt.cell(row, tabSectionCols...), tt.cell(row, tabIDCols...)
		if sectionID == "" || tabID == "" {
			continue
		}
		payload.Tabs = append(payload.Tabs, hub.SheetTab{
			Row:       rowNumber(i),
			SectionID: sectionID,
			TabID:     tabID,
			TabName:   tt.cell(row, tabNameCols...),
			Icon:      tt.cell(row, "Icon", "icon"),
			Index:     atoi(tt.cell(row, "Index", "index")),
		})
	}

	rt := newTable(resources)
	for i, row := range rt.rows {
		if blank(row) {
			continue
		}
		payload.Resources = append(payload.Resources, hub.SheetResource{
			Row:         rowNumber(i),
			SectionID:   rt.cell(row, tabSectionCols...),
			Type:        rt.cell(row, typeCols...),
			Title:       rt.cell(row, "Title", "title"),
			Description: rt.cell(row, "Description", "description"),
			URL:         rt.cell(row, "URL", "Url", "url"),
			Category:    rt.cell(row, "Category", "category"),
			Tags:        hub.SplitTags(rt.cell(row, tagsCols...)),
		})
	}
	return payload
}

// ReadWorkbook parses an .xlsx workbook.
func ReadWorkbook(path string) (*hub.WorkbookPayload, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	defer f.Close()

	present := map[string]bool{}
	for _, name := range f.GetSheetList() {
		present[name] = true
	}
	read := func(name string) ([][]string, error) {
		if !present[name] {
			return nil, nil
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %s: %w", name, err)
		}
		return rows, nil
	}

	var sheets [3][][]string
	for i, name := range []string{SectionsSheet, TabsSheet, ResourcesSheet} {
		if sheets[i], err = read(name); err != nil {
			return nil, err
		}
	}
	if !present[SectionsSheet] && !present[TabsSheet] && !present[ResourcesSheet] {
		return nil, fmt.Errorf("%w: workbook %s has no Sections, Tabs or Resources sheet", hub.ErrValidation, path)
	}
	return Parse(sheets[0], sheets[1], sheets[2]), nil
}

// ReadCSVDir parses sections.csv, tabs.csv and resources.csv from dir.
// Missing files are treated as empty sheets.
func ReadCSVDir(dir string) (*hub.WorkbookPayload, error) {
	var sheets [3][][]string
	found := false
	for i, name := range []string{SectionsSheet, TabsSheet, ResourcesSheet} {
		rows, err := readCSV(filepath.Join(dir, strings.ToLower(name)+".csv"))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sheets[i] = rows
		found = true
	}
	if !found {
		return nil, fmt.Errorf("%w: no sheet csv files in %s", hub.ErrValidation, dir)
	}
	return Parse(sheets[0], sheets[1], sheets[2]), nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCSV(f, path)
}

func parseCSV(r io.Reader, name string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

// Read picks ReadWorkbook or ReadCSVDir based on what path is.
func Read(path string) (*hub.WorkbookPayload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.IsDir() {
		return ReadCSVDir(path)
	}
	return ReadWorkbook(path)
}
