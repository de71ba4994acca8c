package models

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type ValuationReportQuery struct {
	Date     time.Time `json:"date"`
	StoreIds []int     `json:"store_ids"`
	LongForm bool      `json:"long_form"`
}

// InventoryValuationReportLine aggregates one product across the selected
// stores. The short form carries units only.
type InventoryValuationReportLine struct {
	ProductId       int              `json:"product_id"`
	ProductName     string           `json:"product_name"`
	Units           decimal.Decimal  `json:"units"`
	CategoryName    string           `json:"category_name,omitempty"`
	Barcode         string           `json:"barcode,omitempty"`
	Sku             string           `json:"sku,omitempty"`
	Cost            *decimal.Decimal `json:"cost,omitempty"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	InventoryValue  *decimal.Decimal `json:"inventory_value,omitempty"`
	RetailValue     *decimal.Decimal `json:"retail_value,omitempty"`
	PotentialProfit *decimal.Decimal `json:"potential_profit,omitempty"`
	Margin          *decimal.Decimal `json:"margin,omitempty"`
}

type InventoryValuationReport struct {
	BusinessId           string                         `json:"business_id"`
	ValuationDate        time.Time                      `json:"valuation_date"`
	LongForm             bool                           `json:"long_form"`
	Lines                []InventoryValuationReportLine `json:"lines"`
	TotalInventoryValue  decimal.Decimal                `json:"total_inventory_value"`
	TotalRetailValue     decimal.Decimal                `json:"total_retail_value"`
	TotalPotentialProfit decimal.Decimal                `json:"total_potential_profit"`
	Margin               decimal.Decimal                `json:"margin"`
}

type valuationReportRow struct {
	ProductId       int
	ProductName     string
	CategoryName    string
	Barcode         string
	Sku             string
	Units           decimal.Decimal
	Cost            decimal.Decimal
	Price           decimal.Decimal
	InventoryValue  decimal.Decimal
	RetailValue     decimal.Decimal
	PotentialProfit decimal.Decimal
}

type valuationAggregate struct {
	row            valuationReportRow
	units          decimal.Decimal
	inventoryValue decimal.Decimal
	retailValue    decimal.Decimal
}

// GetInventoryValuationReport reads the snapshot lines of one calendar day.
func GetInventoryValuationReport(ctx context.Context, query ValuationReportQuery) (*InventoryValuationReport, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	day := time.Date(query.Date.Year(), query.Date.Month(), query.Date.Day(), 0, 0, 0, 0, time.UTC)

	dbCtx := config.GetDB().WithContext(ctx).
		Table("inventory_valuation_lines AS l").
		Select(`l.product_id, p.name AS product_name, COALESCE(c.name, '') AS category_name, p.barcode, p.sku,
			l.units, l.cost, l.price, l.inventory_value, l.retail_value, l.potential_profit`).
		Joins("JOIN products p ON p.id = l.product_id").
		Joins("LEFT JOIN product_categories c ON c.id = p.category_id").
		Where("l.business_id = ? AND l.valuation_date = ?", businessId, day)
	storeIds := utils.UniqueSlice(query.StoreIds)
	if len(storeIds) > 0 {
		dbCtx = dbCtx.Where("l.store_id IN ?", storeIds)
	}
	var rows []valuationReportRow
	if err := dbCtx.Order("p.name, l.product_id, l.store_id").Scan(&rows).Error; err != nil {
		return nil, err
	}

	report := &InventoryValuationReport{
		BusinessId:    businessId,
		ValuationDate: day,
		LongForm:      query.LongForm,
		Lines:         []InventoryValuationReportLine{},
	}
	var order []int
	byProduct := map[int]*valuationAggregate{}
	for _, r := range rows {
		agg, ok := byProduct[r.ProductId]
		if !ok {
			agg = &valuationAggregate{row: r}
			byProduct[r.ProductId] = agg
			order = append(order, r.ProductId)
		}
		agg.units = agg.units.Add(r.Units)
		agg.inventoryValue = agg.inventoryValue.Add(r.InventoryValue)
		agg.retailValue = agg.retailValue.Add(r.RetailValue)

		report.TotalInventoryValue = report.TotalInventoryValue.Add(r.InventoryValue)
		report.TotalRetailValue = report.TotalRetailValue.Add(r.RetailValue)
	}
	report.TotalPotentialProfit = report.TotalRetailValue.Sub(report.TotalInventoryValue)
	report.Margin = blendedMargin(report.TotalInventoryValue, report.TotalRetailValue)

	for _, productId := range order {
		agg := byProduct[productId]
		line := InventoryValuationReportLine{
			ProductId:   productId,
			ProductName: agg.row.ProductName,
			Units:       agg.units,
		}
		if query.LongForm {
			cost, price := agg.row.Cost, agg.row.Price
			profit := agg.retailValue.Sub(agg.inventoryValue)
			margin := CalculateMargin(cost, price)
			inventoryValue, retailValue := agg.inventoryValue, agg.retailValue
			line.CategoryName = agg.row.CategoryName
			line.Barcode = agg.row.Barcode
			line.Sku = agg.row.Sku
			line.Cost = &cost
			line.Price = &price
			line.InventoryValue = &inventoryValue
			line.RetailValue = &retailValue
			line.PotentialProfit = &profit
			line.Margin = &margin
		}
		report.Lines = append(report.Lines, line)
	}
	return report, nil
}

var valuationSheetHeadings = []string{
	"Product", "Category", "Barcode", "SKU", "Units", "Cost", "Price",
	"Inventory Value", "Retail Value", "Potential Profit", "Margin %",
}

func decimalCell(d *decimal.Decimal) interface{} {
	if d == nil {
		return ""
	}
	f, _ := d.Float64()
	return f
}

// WriteInventoryValuationXlsx renders the long-form report as a workbook.
func WriteInventoryValuationXlsx(w io.Writer, report *InventoryValuationReport) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Inventory Valuation"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	for i, h := range valuationSheetHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}

	rowNo := 2
	for _, line := range report.Lines {
		units, _ := line.Units.Float64()
		values := []interface{}{
			line.ProductName, line.CategoryName, line.Barcode, line.Sku, units,
			decimalCell(line.Cost), decimalCell(line.Price), decimalCell(line.InventoryValue),
			decimalCell(line.RetailValue), decimalCell(line.PotentialProfit), decimalCell(line.Margin),
		}
		if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", rowNo), &values); err != nil {
			return err
		}
		rowNo++
	}

	totals := []interface{}{
		"Total", "", "", "", "", "", "",
		decimalCell(&report.TotalInventoryValue), decimalCell(&report.TotalRetailValue),
		decimalCell(&report.TotalPotentialProfit), decimalCell(&report.Margin),
	}
	if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", rowNo), &totals); err != nil {
		return err
	}
	return f.Write(w)
}
