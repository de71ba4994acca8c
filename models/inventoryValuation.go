package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// InventoryValuation marks that the daily snapshot ran for a business day.
type InventoryValuation struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"size:36;not null;uniqueIndex:idx_inventory_valuation_day,priority:1" json:"business_id"`
	ValuationDate time.Time `gorm:"type:date;not null;uniqueIndex:idx_inventory_valuation_day,priority:2" json:"valuation_date"`
	LineCount     int       `json:"line_count"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// InventoryValuationLine is the snapshot of one key on one calendar day.
type InventoryValuationLine struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	InventoryValuationId int             `gorm:"index;not null" json:"inventory_valuation_id"`
	BusinessId           string          `gorm:"size:36;not null;uniqueIndex:idx_inventory_valuation_line_key,priority:1" json:"business_id"`
	StoreId              int             `gorm:"not null;uniqueIndex:idx_inventory_valuation_line_key,priority:2" json:"store_id"`
	ProductId            int             `gorm:"not null;uniqueIndex:idx_inventory_valuation_line_key,priority:3" json:"product_id"`
	ValuationDate        time.Time       `gorm:"type:date;not null;uniqueIndex:idx_inventory_valuation_line_key,priority:4" json:"valuation_date"`
	Units                decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"units"`
	Cost                 decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"cost"`
	Price                decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"price"`
	InventoryValue       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"inventory_value"`
	RetailValue          decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"retail_value"`
	PotentialProfit      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"potential_profit"`
	MarginPct            decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"margin_pct"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// CalculateMargin returns the margin percent for a unit cost and price.
// No cost and no price is 0, free stock with a price is 100, and a zero price
// with a cost is reported as 0.
func CalculateMargin(cost decimal.Decimal, price decimal.Decimal) decimal.Decimal {
	switch {
	case cost.IsZero() && price.IsZero():
		return decimal.Zero
	case cost.IsZero():
		return hundred
	case price.IsZero():
		return decimal.Zero
	}
	return price.Sub(cost).Div(price).Mul(hundred).Round(2)
}

// blendedMargin is CalculateMargin over totals instead of unit values.
func blendedMargin(inventoryValue decimal.Decimal, retailValue decimal.Decimal) decimal.Decimal {
	return CalculateMargin(inventoryValue, retailValue)
}

// recompute fills the derived value fields from units, cost and price.
func (l *InventoryValuationLine) recompute(units decimal.Decimal) {
	l.Units = units
	l.InventoryValue = units.Mul(l.Cost).Round(4)
	l.RetailValue = units.Mul(l.Price).Round(4)
	l.PotentialProfit = l.RetailValue.Sub(l.InventoryValue)
	l.MarginPct = CalculateMargin(l.Cost, l.Price)
}

func (l *InventoryValuationLine) derivedFields() map[string]interface{} {
	return map[string]interface{}{
		"units":            l.Units,
		"inventory_value":  l.InventoryValue,
		"retail_value":     l.RetailValue,
		"potential_profit": l.PotentialProfit,
		"margin_pct":       l.MarginPct,
	}
}

// UpdateValuationLineUnits patches the snapshot of a key for one calendar day.
// Rows are only created by the daily snapshot; a missing row is not an error
// and reports false.
func UpdateValuationLineUnits(tx *gorm.DB, key StockKey, day time.Time, units decimal.Decimal) (bool, error) {
	var line InventoryValuationLine
	err := tx.Where("business_id = ? AND store_id = ? AND product_id = ? AND valuation_date = ?",
		key.BusinessId, key.StoreId, key.ProductId, day).Take(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	line.recompute(units)
	if err := tx.Model(&InventoryValuationLine{}).Where("id = ?", line.ID).Updates(line.derivedFields()).Error; err != nil {
		return false, err
	}
	return true, nil
}

type ValuationSnapshotResult struct {
	BusinessId    string    `json:"business_id"`
	ValuationDate time.Time `json:"valuation_date"`
	LineCount     int       `json:"line_count"`
	AlreadyExists bool      `json:"already_exists"`
}

// CreateValuationSnapshots writes one valuation line per stock level of the
// business for the calendar day of asOf. A second run for the same day is a no-op.
func CreateValuationSnapshots(ctx context.Context, businessId string, asOf time.Time) (*ValuationSnapshotResult, error) {
	logger := config.GetLogger()
	db := config.GetDB().WithContext(ctx)

	business, err := getBusiness(db, businessId)
	if err != nil {
		return nil, err
	}
	day, err := utils.CalendarDate(asOf, business.Timezone)
	if err != nil {
		return nil, err
	}
	result := &ValuationSnapshotResult{BusinessId: businessId, ValuationDate: day}

	err = db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&InventoryValuation{}).
			Where("business_id = ? AND valuation_date = ?", businessId, day).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			result.AlreadyExists = true
			return nil
		}

		header := InventoryValuation{BusinessId: businessId, ValuationDate: day}
		if err := tx.Create(&header).Error; err != nil {
			return err
		}

		var levels []StockLevel
		if err := tx.Where("business_id = ?", businessId).Order("store_id, product_id").Find(&levels).Error; err != nil {
			return err
		}
		var products []Product
		if err := tx.Where("business_id = ?", businessId).Find(&products).Error; err != nil {
			return err
		}
		productById := make(map[int]*Product, len(products))
		for i := range products {
			productById[products[i].ID] = &products[i]
		}

		lines := make([]InventoryValuationLine, 0, len(levels))
		for _, level := range levels {
			product := productById[level.ProductId]
			if product == nil {
				continue
			}
			line := InventoryValuationLine{
				InventoryValuationId: header.ID,
				BusinessId:           businessId,
				StoreId:              level.StoreId,
				ProductId:            level.ProductId,
				ValuationDate:        day,
				Cost:                 product.Cost,
				Price:                level.EffectivePrice(product),
			}
			line.recompute(level.Units)
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			if err := tx.CreateInBatches(&lines, config.RecalcBatchSize()).Error; err != nil {
				return err
			}
		}
		result.LineCount = len(lines)
		return tx.Model(&InventoryValuation{}).Where("id = ?", header.ID).Update("line_count", len(lines)).Error
	})
	if err != nil {
		if utils.IsDuplicateKeyErr(err) {
			result.AlreadyExists = true
			return result, nil
		}
		config.LogError(logger, "InventoryValuation", "CreateValuationSnapshots", "create snapshot", businessId, err)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"business_id":    businessId,
		"valuation_date": day.Format("2006-01-02"),
		"lines":          result.LineCount,
		"already_exists": result.AlreadyExists,
	}).Info("valuation.snapshot.done")
	return result, nil
}
