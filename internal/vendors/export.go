package vendors

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	// CSVFilename is the download name of the CSV export.
	CSVFilename = "vendors.csv"
	// XLSXFilename is the download name of the spreadsheet export.
	XLSXFilename = "vendors.xlsx"

	exportSheet = "Vendors"
)

// ExportHeader lists the export columns in order.
var ExportHeader = []string{"Name", "Shop Name", "Phone", "Email", "GST Number", "Plan", "Status", "Registration Date"}

func exportRow(r Record) []string {
	return []string{r.Name, r.ShopName, r.Phone, r.Email, r.GSTNumber, string(r.Plan), string(r.Status), r.RegistrationDate}
}

// WriteCSV serialises records as CSV, one row per record in the given order.
// Fields containing separators or quotes are quoted.
func WriteCSV(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write(ExportHeader); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writer.Write(exportRow(rec)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX renders records into a single-sheet workbook.
func WriteXLSX(w io.Writer, records []Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("vendors: rename sheet: %w", err)
	}
	if err := setRow(f, 1, ExportHeader); err != nil {
		return err
	}
	for i, rec := range records {
		if err := setRow(f, i+2, exportRow(rec)); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(exportSheet, "A", "H", 20); err != nil {
		return fmt.Errorf("vendors: column width: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("vendors: write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(exportSheet, cell, &cells); err != nil {
		return fmt.Errorf("vendors: write row %d: %w", row, err)
	}
	return nil
}
