package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryCount struct {
	ID             int                    `gorm:"primary_key" json:"id"`
	BusinessId     string                 `gorm:"size:36;index;not null" json:"business_id"`
	StoreId        int                    `gorm:"index;not null" json:"store_id"`
	ReferenceNo    string                 `gorm:"size:100;not null" json:"reference_no"`
	Notes          string                 `gorm:"type:text" json:"notes"`
	Status         DocumentStatus         `gorm:"size:20;not null;default:'Pending'" json:"status"`
	OrderCompleted bool                   `gorm:"not null;default:false" json:"order_completed"`
	CompletedAt    *time.Time             `json:"completed_at"`
	Details        []InventoryCountDetail `gorm:"foreignKey:InventoryCountId" json:"details"`
	CreatedAt      time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

type InventoryCountDetail struct {
	ID               int             `gorm:"primary_key" json:"id"`
	InventoryCountId int             `gorm:"index;not null" json:"inventory_count_id"`
	ProductId        int             `gorm:"not null" json:"product_id"`
	ExpectedStock    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"expected_stock"`
	CountedStock     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"counted_stock"`
	Difference       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"difference"`
	CostDifference   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"cost_difference"`
}

type NewInventoryCount struct {
	StoreId     int                       `json:"store_id" validate:"required"`
	ReferenceNo string                    `json:"reference_no" validate:"required"`
	Notes       string                    `json:"notes"`
	Details     []NewInventoryCountDetail `json:"details" validate:"required,min=1,dive"`
}

type NewInventoryCountDetail struct {
	ProductId    int             `json:"product_id" validate:"required"`
	CountedStock decimal.Decimal `json:"counted_stock"`
}

// CreateInventoryCount snapshots the expected stock of each line from the
// live level at creation time.
func CreateInventoryCount(ctx context.Context, input NewInventoryCount) (*InventoryCount, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.Validate(input); err != nil {
		return nil, err
	}
	count := InventoryCount{
		BusinessId:  businessId,
		StoreId:     input.StoreId,
		ReferenceNo: input.ReferenceNo,
		Notes:       input.Notes,
		Status:      DocumentStatusPending,
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range input.Details {
			var level StockLevel
			err := tx.Where("business_id = ? AND store_id = ? AND product_id = ?", businessId, input.StoreId, d.ProductId).
				Take(&level).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: product %d", ErrStockLevelNotFound, d.ProductId)
				}
				return err
			}
			count.Details = append(count.Details, InventoryCountDetail{
				ProductId:     d.ProductId,
				ExpectedStock: level.Units,
				CountedStock:  d.CountedStock,
			})
		}
		return tx.Create(&count).Error
	})
	if err != nil {
		return nil, err
	}
	return &count, nil
}

// UpdateInventoryCountLine records a counted quantity on a pending count.
func UpdateInventoryCountLine(ctx context.Context, countId int, detailId int, counted decimal.Decimal) error {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return err
	}
	return config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := loadInventoryCount(tx, businessId, countId, true)
		if err != nil {
			return err
		}
		if count.OrderCompleted {
			return ErrDocumentCompleted
		}
		res := tx.Model(&InventoryCountDetail{}).
			Where("id = ? AND inventory_count_id = ?", detailId, count.ID).
			Update("counted_stock", counted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		return nil
	})
}

func GetInventoryCount(ctx context.Context, id int) (*InventoryCount, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	return loadInventoryCount(config.GetDB().WithContext(ctx), businessId, id, false)
}

func loadInventoryCount(tx *gorm.DB, businessId string, id int, forUpdate bool) (*InventoryCount, error) {
	var count InventoryCount
	query := tx.Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.Where("business_id = ? AND id = ?", businessId, id).Take(&count).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &count, nil
}

// CompleteInventoryCount fills difference and cost difference on each line
// and overwrites the store balance with the counted stock, once.
func CompleteInventoryCount(ctx context.Context, id int, completedAt *time.Time) (*InventoryCount, *StockApplyReport, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	at := time.Now().UTC()
	if completedAt != nil {
		at = completedAt.UTC()
	}

	var count *InventoryCount
	transitioned := false
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		count, err = loadInventoryCount(tx, businessId, id, true)
		if err != nil {
			return err
		}
		if count.OrderCompleted {
			return nil
		}
		if count.Status != DocumentStatusPending {
			return ErrDocumentNotPending
		}
		for i := range count.Details {
			d := &count.Details[i]
			product, err := getProduct(tx, businessId, d.ProductId)
			if err != nil {
				return err
			}
			d.Difference = d.CountedStock.Sub(d.ExpectedStock)
			d.CostDifference = d.Difference.Mul(product.Cost)
			if err := tx.Model(&InventoryCountDetail{}).Where("id = ?", d.ID).Updates(map[string]interface{}{
				"difference":      d.Difference,
				"cost_difference": d.CostDifference,
			}).Error; err != nil {
				return err
			}
		}
		count.Status = DocumentStatusCompleted
		count.OrderCompleted = true
		count.CompletedAt = &at
		transitioned = true
		return tx.Model(&InventoryCount{}).Where("id = ?", count.ID).Updates(map[string]interface{}{
			"status":          count.Status,
			"order_completed": true,
			"completed_at":    at,
		}).Error
	})
	if err != nil {
		config.LogError(config.GetLogger(), "InventoryCount", "CompleteInventoryCount", "complete count", id, err)
		return nil, nil, err
	}
	if !transitioned {
		return count, nil, nil
	}

	report := &StockApplyReport{}
	for _, d := range count.Details {
		report.add(UpdateStockLevel(ctx, StockLevelUpdate{
			StoreId:          count.StoreId,
			ProductId:        d.ProductId,
			Reason:           InventoryReasonInventoryCount,
			ChangeSourceRef:  count.ReferenceNo,
			ChangeSourceName: "Inventory count " + count.ReferenceNo,
			LineSourceRef:    fmt.Sprintf("ic:%d", d.ID),
			Adjustment:       d.CountedStock,
			Mode:             StockModeOverwrite,
			EventTime:        &at,
		}))
	}
	return count, report, nil
}
