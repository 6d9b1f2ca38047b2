// Package export renders tabular data as Excel workbooks.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"nutribin-backend/internal/model"
)

const salesSheet = "Sales"

// SalesHeader is the header row of the sales export.
var SalesHeader = []string{"Sale ID", "Customer", "Product", "Quantity", "Amount", "Sale Date", "Date Created"}

var salesColumnWidths = []float64{10, 28, 28, 10, 14, 14, 22}

// SalesWorkbook renders sales as an xlsx file, one row per sale in the given
// order, followed by a total row.
func SalesWorkbook(sales []model.Sale) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(salesSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DCFCE7"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	moneyFmt := "#,##0.00"
	moneyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &moneyFmt})
	if err != nil {
		return nil, fmt.Errorf("failed to create amount style: %w", err)
	}

	if err := f.SetSheetRow(salesSheet, "A1", &SalesHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(SalesHeader), 1)
	if err := f.SetCellStyle(salesSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}
	for i, w := range salesColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(salesSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("failed to set width of %s: %w", col, err)
		}
	}

	var total float64
	for i, s := range sales {
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		values := []any{
			s.ID,
			s.CustomerName,
			s.Product,
			s.Quantity,
			s.Amount,
			s.SaleDate.Format("2006-01-02"),
			s.DateCreated.Format("2006-01-02 15:04:05"),
		}
		if err := f.SetSheetRow(salesSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", row, err)
		}
		total += s.Amount
	}

	totalRow := len(sales) + 2
	labelCell, _ := excelize.CoordinatesToCellName(4, totalRow)
	totalCell, _ := excelize.CoordinatesToCellName(5, totalRow)
	if err := f.SetCellValue(salesSheet, labelCell, "Total"); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(salesSheet, totalCell, total); err != nil {
		return nil, err
	}
	firstAmount, _ := excelize.CoordinatesToCellName(5, 2)
	if err := f.SetCellStyle(salesSheet, firstAmount, totalCell, moneyStyle); err != nil {
		return nil, fmt.Errorf("failed to style amounts: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
