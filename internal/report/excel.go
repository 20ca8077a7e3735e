package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

func writeExcel(path string, data *Data) error {
	f := excelize.NewFile()
	defer f.Close()

	used := map[string]bool{}

	for i, section := range data.Sections {
		sheet := sheetName(string(section.Provider), section.Name, used)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return fmt.Errorf("failed to add sheet %s: %w", sheet, err)
			}
		}

		headers := []any{section.Name, "Cost", "Currency"}
		hasSub := false
		for _, row := range section.Table.Rows {
			if row.SubDimension != "" {
				hasSub = true
				break
			}
		}
		if hasSub {
			headers = []any{section.Name, "Breakdown", "Cost", "Currency"}
		}
		if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}

		for r, row := range section.Table.Rows {
			cost, _ := row.Amount.Float64()
			values := []any{row.Dimension, cost, row.Currency}
			if hasSub {
				values = []any{row.Dimension, row.SubDimension, cost, row.Currency}
			}
			cell := fmt.Sprintf("A%d", r+2)
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// sheetName keeps Excel's constraints: at most 31 chars, unique per book.
func sheetName(provider, name string, used map[string]bool) string {
	base := provider + " " + name
	base = strings.NewReplacer(":", "", "\\", "", "/", "", "?", "", "*", "", "[", "", "]", "").Replace(base)
	if len(base) > 31 {
		base = base[:31]
	}
	candidate := base
	for n := 2; used[candidate]; n++ {
		suffix := fmt.Sprintf(" %d", n)
		if len(base)+len(suffix) > 31 {
			candidate = base[:31-len(suffix)] + suffix
		} else {
			candidate = base + suffix
		}
	}
	used[candidate] = true
	return candidate
}
