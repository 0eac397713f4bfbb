// Package export writes scan results to XLSX workbooks.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/waverly/waverly/internal/nuclei"
)

const resultsSheet = "Nuclei Results"

var resultHeaders = []string{"Template ID", "Name", "Severity", "Target", "Matched At", "Description"}

// Results serializes the ordered result sequence of a finished task to
// an XLSX file at path.
func Results(results []nuclei.Result, path string) error {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.TemplateID,
			infoString(r, "name"),
			infoString(r, "severity"),
			rawString(r, "host"),
			r.MatchedAt,
			infoString(r, "description"),
		})
	}
	return write(resultsSheet, resultHeaders, rows, path)
}

// Table writes a generic header + rows sheet, used for search exports.
func Table(headers []string, rows [][]string, path string) error {
	return write("Sheet1", headers, rows, path)
}

func write(sheet string, headers []string, rows [][]string, path string) error {
	if len(headers) == 0 {
		return errors.New("export: no headers")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("naming sheet: %w", err)
		}
	}

	if err := setRow(f, sheet, 1, headers); err != nil {
		return err
	}
	for i, row := range rows {
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook %s: %w", path, err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell coordinates: %w", err)
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("writing row %d: %w", row, err)
	}
	return nil
}

func infoString(r nuclei.Result, key string) string {
	if v, ok := r.Info[key].(string); ok {
		return v
	}
	return ""
}

func rawString(r nuclei.Result, key string) string {
	if v, ok := r.Raw[key].(string); ok {
		return v
	}
	return ""
}
