package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"nutribin-backend/internal/model"
)

func TestSalesWorkbook(t *testing.T) {
	day := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	data, err := SalesWorkbook([]model.Sale{
		{ID: 2, CustomerName: "Ana Cruz", Product: "Compost 5kg", Quantity: 3, Amount: 450.5, SaleDate: day, DateCreated: day},
		{ID: 1, CustomerName: "Ben Lim", Product: "NutriBin NB-1", Quantity: 1, Amount: 12000, SaleDate: day.AddDate(0, 0, -1), DateCreated: day},
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(salesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, SalesHeader, rows[0])
	assert.Equal(t, "Ana Cruz", rows[1][1])
	assert.Equal(t, "2026-02-14", rows[1][5])
	assert.Equal(t, "Ben Lim", rows[2][1])
	assert.Equal(t, "Total", rows[3][3])

	total, err := f.GetCellValue(salesSheet, "E4", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "12450.5", total)
}

func TestSalesWorkbook_Empty(t *testing.T) {
	data, err := SalesWorkbook(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{salesSheet}, f.GetSheetList())
}
