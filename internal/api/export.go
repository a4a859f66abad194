package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"mozzafiato/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	sheetInventory = "Inventario"
	sheetReports   = "Reportes"

	maxSheetName = 31
)

// buildWorkbook renders the cached inventory and reports as an xlsx file.
// Either may be empty; callers decide whether an empty export makes sense.
func buildWorkbook(inventory []models.InventoryItem, reports models.Reports, capturedAt time.Time) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("error creating style: %w", err)
	}

	if len(inventory) > 0 {
		rows := make([]map[string]any, 0, len(inventory))
		for _, item := range inventory {
			rows = append(rows, item)
		}
		if err := writeTable(f, sheetInventory, rows, headerStyle); err != nil {
			return nil, err
		}
	}

	if len(reports) > 0 {
		if err := writeReports(f, reports, headerStyle); err != nil {
			return nil, err
		}
	}

	if f.SheetCount > 1 {
		// Удаляем стандартный лист
		_ = f.DeleteSheet("Sheet1")
	}
	_ = f.SetDocProps(&excelize.DocProperties{
		Title:   "Mozzafiato",
		Created: capturedAt.UTC().Format(time.RFC3339),
	})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("error writing workbook: %w", err)
	}
	return buf, nil
}

// writeTable writes rows under a header made of the union of their keys.
func writeTable(f *excelize.File, sheet string, rows []map[string]any, headerStyle int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("error creating sheet %s: %w", sheet, err)
	}

	keys := models.SortedKeys(rows)
	for col, key := range keys {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheet, cell, key)
		_ = f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for r, row := range rows {
		for col, key := range keys {
			v, ok := row[key]
			if !ok || v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col+1, r+2)
			_ = f.SetCellValue(sheet, cell, cellValue(v))
		}
	}

	if len(keys) > 0 {
		last, _ := excelize.ColumnNumberToName(len(keys))
		_ = f.SetColWidth(sheet, "A", last, 18)
	}
	return nil
}

// writeReports lists scalar entries on one sheet and gives every list of
// objects its own table.
func writeReports(f *excelize.File, reports models.Reports, headerStyle int) error {
	if _, err := f.NewSheet(sheetReports); err != nil {
		return fmt.Errorf("error creating sheet %s: %w", sheetReports, err)
	}
	_ = f.SetCellValue(sheetReports, "A1", "Clave")
	_ = f.SetCellValue(sheetReports, "B1", "Valor")
	_ = f.SetCellStyle(sheetReports, "A1", "B1", headerStyle)
	_ = f.SetColWidth(sheetReports, "A", "A", 25)
	_ = f.SetColWidth(sheetReports, "B", "B", 40)

	keys := make([]string, 0, len(reports))
	for k := range reports {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	row := 2
	for _, key := range keys {
		if table, ok := objectList(reports[key]); ok && len(table) > 0 {
			if err := writeTable(f, sheetName(key), table, headerStyle); err != nil {
				return err
			}
			continue
		}
		_ = f.SetCellValue(sheetReports, fmt.Sprintf("A%d", row), key)
		_ = f.SetCellValue(sheetReports, fmt.Sprintf("B%d", row), cellValue(reports[key]))
		row++
	}
	return nil
}

func objectList(v any) ([]map[string]any, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, obj)
	}
	return out, true
}

func cellValue(v any) any {
	switch t := v.(type) {
	case string, float64, bool, int, int64:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// sheetName strips characters Excel rejects and enforces its length limit.
func sheetName(key string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, key)
	if name == "" || name == sheetReports || name == sheetInventory {
		name += "_"
	}
	runes := []rune(name)
	if len(runes) > maxSheetName {
		name = string(runes[:maxSheetName])
	}
	return name
}
