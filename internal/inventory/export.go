package inventory

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const notAvailable = "N/A"

var movementColumns = []string{
	"id", "type", "quantity", "unit", "expiration date", "reason",
	"user", "unit cost", "total cost", "deducted", "timestamp",
}

// WriteMovementsXLSX renders a material's movement history as a workbook.
func WriteMovementsXLSX(w io.Writer, materialID int64, movements []Movement) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := fmt.Sprintf("Material %d", materialID)
	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheet); err != nil {
		return fmt.Errorf("inventory: export sheet: %w", err)
	}

	title := cases.Title(language.English)
	header := make([]interface{}, len(movementColumns))
	for i, col := range movementColumns {
		header[i] = title.String(col)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("inventory: export header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("inventory: export style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(movementColumns))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("inventory: export style: %w", err)
	}

	for i, m := range movements {
		deducted := interface{}(notAvailable)
		if m.Type == MovementIn {
			deducted = m.Deducted.InexactFloat64()
		}
		row := []interface{}{
			m.ID,
			string(m.Type),
			m.Quantity.InexactFloat64(),
			m.Unit,
			expirationLabel(m),
			orNA(m.Reason),
			orNA(m.User),
			m.UnitCost.InexactFloat64(),
			m.TotalCost.InexactFloat64(),
			deducted,
			m.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("inventory: export row %d: %w", i+1, err)
		}
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 16); err != nil {
		return err
	}
	return f.Write(w)
}

func expirationLabel(m Movement) string {
	if m.ExpirationDate == nil {
		return notAvailable
	}
	return m.ExpirationDate.Format("2006-01-02")
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
