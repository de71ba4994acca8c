package models_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/mmdatafocus/stock_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCalculateMargin(t *testing.T) {
	cases := []struct {
		name  string
		cost  int64
		price int64
		want  string
	}{
		{"no cost no price", 0, 0, "0"},
		{"free stock", 0, 100, "100"},
		{"regular", 800, 1000, "20"},
		{"no price", 100, 0, "0"},
		{"selling at loss", 1200, 1000, "-20"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireDecimal(t, tc.want, models.CalculateMargin(decimal.NewFromInt(tc.cost), decimal.NewFromInt(tc.price)))
		})
	}
	requireDecimal(t, "33.33", models.CalculateMargin(decimal.NewFromInt(2), decimal.NewFromInt(3)))
}

func valuationLine(t *testing.T, f *ledgerFixture, day time.Time) models.InventoryValuationLine {
	t.Helper()
	var line models.InventoryValuationLine
	require.NoError(t, f.db.Where("store_id = ? AND product_id = ? AND valuation_date = ?", f.store.ID, f.product.ID, day).
		Take(&line).Error)
	return line
}

func TestCreateValuationSnapshots_IsIdempotent(t *testing.T) {
	f := newLedgerFixture(t)
	f.write(t, "line-1", models.StockModeAdd, 10, eventAt(10, 9))

	res, err := models.CreateValuationSnapshots(f.ctx, f.business.ID.String(), eventAt(10, 12))
	require.NoError(t, err)
	require.False(t, res.AlreadyExists)
	require.Equal(t, 1, res.LineCount)
	require.True(t, eventAt(10, 0).Equal(res.ValuationDate))

	again, err := models.CreateValuationSnapshots(f.ctx, f.business.ID.String(), eventAt(10, 18))
	require.NoError(t, err)
	require.True(t, again.AlreadyExists)

	var lines int64
	require.NoError(t, f.db.Model(&models.InventoryValuationLine{}).Count(&lines).Error)
	require.EqualValues(t, 1, lines)

	line := valuationLine(t, f, eventAt(10, 0))
	requireDecimal(t, "10", line.Units)
	requireDecimal(t, "10000", line.InventoryValue)
	requireDecimal(t, "12500", line.RetailValue)
	requireDecimal(t, "2500", line.PotentialProfit)
	requireDecimal(t, "20", line.MarginPct)
}

func TestUpdateStockLevel_PatchesSnapshotOfEventDay(t *testing.T) {
	f := newLedgerFixture(t)
	f.write(t, "line-1", models.StockModeAdd, 10, eventAt(10, 9))
	_, err := models.CreateValuationSnapshots(f.ctx, f.business.ID.String(), eventAt(10, 12))
	require.NoError(t, err)

	f.write(t, "line-2", models.StockModeAdd, 5, eventAt(10, 8))

	line := valuationLine(t, f, eventAt(10, 0))
	requireDecimal(t, "15", line.Units)
	requireDecimal(t, "15000", line.InventoryValue)
	requireDecimal(t, "18750", line.RetailValue)
	requireDecimal(t, "3750", line.PotentialProfit)
}

func TestUpdateStockLevel_BackdatedEntryPatchesEveryLaterDay(t *testing.T) {
	f := newLedgerFixture(t)
	f.write(t, "line-1", models.StockModeAdd, 10, eventAt(1, 10))
	_, err := models.CreateValuationSnapshots(f.ctx, f.business.ID.String(), eventAt(1, 23))
	require.NoError(t, err)
	f.write(t, "line-2", models.StockModeAdd, 5, eventAt(2, 10))
	_, err = models.CreateValuationSnapshots(f.ctx, f.business.ID.String(), eventAt(2, 23))
	require.NoError(t, err)

	requireDecimal(t, "10", valuationLine(t, f, eventAt(1, 0)).Units)
	requireDecimal(t, "15", valuationLine(t, f, eventAt(2, 0)).Units)

	f.write(t, "line-early", models.StockModeSubtract, 2, eventAt(1, 9))

	requireDecimal(t, "8", valuationLine(t, f, eventAt(1, 0)).Units)
	requireDecimal(t, "13", valuationLine(t, f, eventAt(2, 0)).Units)
	requireDecimal(t, "13", f.units(t, f.store.ID, f.product.ID))
}

func TestUpdateStockLevel_NewestBackdatedEntryPatchesLaterDays(t *testing.T) {
	f := newLedgerFixture(t)
	f.write(t, "line-1", models.StockModeAdd, 10, eventAt(1, 10))
	for day := 1; day <= 3; day++ {
		_, err := models.CreateValuationSnapshots(f.ctx, f.business.ID.String(), eventAt(day, 23))
		require.NoError(t, err)
	}

	// lands on day 2 but is still the newest ledger entry
	res := f.write(t, "line-2", models.StockModeAdd, 5, eventAt(2, 10))
	require.False(t, res.Recalculated)

	requireDecimal(t, "10", valuationLine(t, f, eventAt(1, 0)).Units)
	requireDecimal(t, "15", valuationLine(t, f, eventAt(2, 0)).Units)
	day3 := valuationLine(t, f, eventAt(3, 0))
	requireDecimal(t, "15", day3.Units)
	requireDecimal(t, "15000", day3.InventoryValue)
	requireDecimal(t, "15", f.units(t, f.store.ID, f.product.ID))
}

func TestUpdateStockLevel_WithoutSnapshotCreatesNoLine(t *testing.T) {
	f := newLedgerFixture(t)
	f.write(t, "line-1", models.StockModeAdd, 10, eventAt(10, 9))

	var lines int64
	require.NoError(t, f.db.Model(&models.InventoryValuationLine{}).Count(&lines).Error)
	require.Zero(t, lines)
}

func TestGetInventoryValuationReport(t *testing.T) {
	f := newLedgerFixture(t)
	branch, err := models.CreateStore(f.ctx, "Branch", "store-ext-2")
	require.NoError(t, err)
	category, err := models.CreateProductCategory(f.ctx, "Grocery")
	require.NoError(t, err)
	sugar, err := models.CreateProduct(f.ctx, models.NewProduct{
		Name:       "Sugar",
		CategoryId: category.ID,
		Barcode:    "885000111",
		Sku:        "SUG-1",
		Cost:       decimal.NewFromInt(1200),
		Price:      decimal.NewFromInt(1500),
	})
	require.NoError(t, err)

	f.writeFor(t, f.store.ID, f.product.ID, "rice-main", models.StockModeAdd, 10, eventAt(10, 9))
	f.writeFor(t, f.store.ID, sugar.ID, "sugar-main", models.StockModeAdd, 5, eventAt(10, 9))
	f.writeFor(t, branch.ID, f.product.ID, "rice-branch", models.StockModeAdd, 4, eventAt(10, 9))
	_, err = models.CreateValuationSnapshots(f.ctx, f.business.ID.String(), eventAt(10, 20))
	require.NoError(t, err)

	report, err := models.GetInventoryValuationReport(f.ctx, models.ValuationReportQuery{Date: eventAt(10, 0), LongForm: true})
	require.NoError(t, err)
	require.Len(t, report.Lines, 2)

	rice, sugarLine := report.Lines[0], report.Lines[1]
	require.Equal(t, "Rice", rice.ProductName)
	requireDecimal(t, "14", rice.Units)
	requireDecimal(t, "14000", *rice.InventoryValue)
	requireDecimal(t, "17500", *rice.RetailValue)
	requireDecimal(t, "20", *rice.Margin)

	require.Equal(t, "Sugar", sugarLine.ProductName)
	require.Equal(t, "Grocery", sugarLine.CategoryName)
	require.Equal(t, "885000111", sugarLine.Barcode)
	requireDecimal(t, "5", sugarLine.Units)
	requireDecimal(t, "6000", *sugarLine.InventoryValue)

	requireDecimal(t, "20000", report.TotalInventoryValue)
	requireDecimal(t, "25000", report.TotalRetailValue)
	requireDecimal(t, "5000", report.TotalPotentialProfit)
	requireDecimal(t, "20", report.Margin)

	branchOnly, err := models.GetInventoryValuationReport(f.ctx, models.ValuationReportQuery{
		Date:     eventAt(10, 0),
		StoreIds: []int{branch.ID},
	})
	require.NoError(t, err)
	require.Len(t, branchOnly.Lines, 2)
	requireDecimal(t, "4", branchOnly.Lines[0].Units)
	requireDecimal(t, "0", branchOnly.Lines[1].Units)
	require.Nil(t, branchOnly.Lines[0].Cost)
	requireDecimal(t, "4000", branchOnly.TotalInventoryValue)
	requireDecimal(t, "5000", branchOnly.TotalRetailValue)

	var buf bytes.Buffer
	require.NoError(t, models.WriteInventoryValuationXlsx(&buf, report))
	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()
	header, err := book.GetCellValue("Inventory Valuation", "A1")
	require.NoError(t, err)
	require.Equal(t, "Product", header)
	first, err := book.GetCellValue("Inventory Valuation", "A2")
	require.NoError(t, err)
	require.Equal(t, "Rice", first)
	total, err := book.GetCellValue("Inventory Valuation", "A4")
	require.NoError(t, err)
	require.Equal(t, "Total", total)
}

func TestGetInventoryValuationReport_EmptyDay(t *testing.T) {
	f := newLedgerFixture(t)

	report, err := models.GetInventoryValuationReport(f.ctx, models.ValuationReportQuery{Date: eventAt(10, 0)})
	require.NoError(t, err)
	require.Empty(t, report.Lines)
	requireDecimal(t, "0", report.TotalInventoryValue)
	requireDecimal(t, "0", report.Margin)
}
