// Package export renders ticket selections as styled XLSX workbooks.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/copro-tools/pilotage/internal/models"
)

// Request is the body of the spreadsheet export endpoint. Columns fixes
// the column order; JSON objects have no reliable key order, so callers
// that care send the export header order explicitly.
type Request struct {
	Data     []map[string]interface{} `json:"data" validate:"required"`
	Columns  []string                 `json:"columns"`
	Filename string                   `json:"filename"`
	TabName  string                   `json:"tabName"`
}

// FilenameOrDefault returns the base filename without extension.
func (r Request) FilenameOrDefault() string {
	if r.Filename != "" {
		return r.Filename
	}
	return "mantis_export"
}

func columnWidth(key string) float64 {
	k := strings.ToLower(key)
	switch {
	case key == models.ColIdentifier:
		return 12
	case key == models.ColAssignee || k == "assignee":
		return 25
	case key == models.ColPriority:
		return 10
	case k == "catégorie" || k == "category":
		return 18
	case k == "mis à jour" || k == "updated":
		return 16
	case k == "résumé" || k == "summary":
		return 100
	default:
		return 15
	}
}

func wrapColumn(key string) bool {
	return key == models.ColSummary || key == "summary"
}

// Build renders the workbook. trackerBaseURL is used to hyperlink the
// ticket id column back to the tracker's detail page.
func Build(req Request, trackerBaseURL string) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := req.TabName
	if sheet == "" {
		sheet = "Export"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	if len(req.Data) == 0 {
		return f, nil
	}

	keys := req.Columns
	if len(keys) == 0 {
		keys = sortedKeys(req.Data[0])
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"0070C0"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	linkStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Color: "0563C1", Underline: "single"},
		Alignment: &excelize.Alignment{Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("link style: %w", err)
	}

	cellStyles, err := buildCellStyles(f, keys)
	if err != nil {
		return nil, err
	}

	for i, key := range keys {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, col, col, columnWidth(key)); err != nil {
			return nil, fmt.Errorf("column width %s: %w", key, err)
		}
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, key); err != nil {
			return nil, fmt.Errorf("header cell %s: %w", key, err)
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(keys), 1)
	if err := f.SetCellStyle(sheet, "A1", lastHeader, headerStyle); err != nil {
		return nil, fmt.Errorf("header styling: %w", err)
	}
	if err := f.SetRowHeight(sheet, 1, 25); err != nil {
		return nil, fmt.Errorf("header height: %w", err)
	}

	for rowIdx, rowData := range req.Data {
		excelRow := rowIdx + 2
		zebra := rowIdx%2 == 1

		for colIdx, key := range keys {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, excelRow)
			value := stringValue(rowData[key])

			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("cell %s: %w", cell, err)
			}

			if key == models.ColIdentifier && value != "" {
				link := strings.TrimRight(trackerBaseURL, "/") + "/view.php?id=" + models.NormalizeTicketID(value)
				if err := f.SetCellHyperLink(sheet, cell, link, "External"); err != nil {
					return nil, fmt.Errorf("hyperlink %s: %w", cell, err)
				}
				if err := f.SetCellStyle(sheet, cell, cell, linkStyle); err != nil {
					return nil, fmt.Errorf("hyperlink style %s: %w", cell, err)
				}
				continue
			}

			if err := f.SetCellStyle(sheet, cell, cell, cellStyles.pick(key, zebra)); err != nil {
				return nil, fmt.Errorf("cell style %s: %w", cell, err)
			}
		}
	}

	if err := f.AutoFilter(sheet, "A1:"+lastHeader, nil); err != nil {
		return nil, fmt.Errorf("autofilter: %w", err)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	return f, nil
}

// cellStyles caches the four body style combinations so every cell does
// not allocate a new style entry in the workbook.
type cellStyles struct {
	plain, wrap, zebra, zebraWrap int
}

func (s cellStyles) pick(key string, zebra bool) int {
	switch {
	case zebra && wrapColumn(key):
		return s.zebraWrap
	case zebra:
		return s.zebra
	case wrapColumn(key):
		return s.wrap
	default:
		return s.plain
	}
}

func buildCellStyles(f *excelize.File, keys []string) (cellStyles, error) {
	build := func(zebra, wrap bool) (int, error) {
		style := &excelize.Style{
			Alignment: &excelize.Alignment{Vertical: "center", WrapText: wrap},
		}
		if zebra {
			style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"F9F9F9"}}
		}
		return f.NewStyle(style)
	}

	var s cellStyles
	var err error
	if s.plain, err = build(false, false); err != nil {
		return s, fmt.Errorf("cell style: %w", err)
	}
	if s.wrap, err = build(false, true); err != nil {
		return s, fmt.Errorf("cell style: %w", err)
	}
	if s.zebra, err = build(true, false); err != nil {
		return s, fmt.Errorf("cell style: %w", err)
	}
	if s.zebraWrap, err = build(true, true); err != nil {
		return s, fmt.Errorf("cell style: %w", err)
	}
	return s, nil
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(val)
	}
}

func sortedKeys(row map[string]interface{}) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
