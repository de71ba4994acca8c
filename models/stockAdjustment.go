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

type StockAdjustment struct {
	ID             int                     `gorm:"primary_key" json:"id"`
	BusinessId     string                  `gorm:"size:36;index;not null" json:"business_id"`
	StoreId        int                     `gorm:"index;not null" json:"store_id"`
	ReferenceNo    string                  `gorm:"size:100;not null" json:"reference_no"`
	Reason         InventoryReason         `gorm:"size:30;not null" json:"reason"`
	Notes          string                  `gorm:"type:text" json:"notes"`
	Status         DocumentStatus          `gorm:"size:20;not null;default:'Pending'" json:"status"`
	OrderCompleted bool                    `gorm:"not null;default:false" json:"order_completed"`
	CompletedAt    *time.Time              `json:"completed_at"`
	Details        []StockAdjustmentDetail `gorm:"foreignKey:StockAdjustmentId" json:"details"`
	CreatedAt      time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

type StockAdjustmentDetail struct {
	ID                int             `gorm:"primary_key" json:"id"`
	StockAdjustmentId int             `gorm:"index;not null" json:"stock_adjustment_id"`
	ProductId         int             `gorm:"not null" json:"product_id"`
	Units             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"units"`
	Cost              decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"cost"`
}

type NewStockAdjustment struct {
	StoreId     int                        `json:"store_id" validate:"required"`
	ReferenceNo string                     `json:"reference_no" validate:"required"`
	Reason      InventoryReason            `json:"reason" validate:"required,oneof=Receive Damage Loss Expiry"`
	Notes       string                     `json:"notes"`
	Details     []NewStockAdjustmentDetail `json:"details" validate:"required,min=1,dive"`
}

type NewStockAdjustmentDetail struct {
	ProductId int             `json:"product_id" validate:"required"`
	Units     decimal.Decimal `json:"units"`
	Cost      decimal.Decimal `json:"cost"`
}

func CreateStockAdjustment(ctx context.Context, input NewStockAdjustment) (*StockAdjustment, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.Validate(input); err != nil {
		return nil, err
	}
	adjustment := StockAdjustment{
		BusinessId:  businessId,
		StoreId:     input.StoreId,
		ReferenceNo: input.ReferenceNo,
		Reason:      input.Reason,
		Notes:       input.Notes,
		Status:      DocumentStatusPending,
	}
	for _, d := range input.Details {
		if !d.Units.IsPositive() {
			return nil, fmt.Errorf("product %d: units must be positive", d.ProductId)
		}
		adjustment.Details = append(adjustment.Details, StockAdjustmentDetail{
			ProductId: d.ProductId,
			Units:     d.Units,
			Cost:      d.Cost,
		})
	}
	if err := config.GetDB().WithContext(ctx).Create(&adjustment).Error; err != nil {
		return nil, err
	}
	return &adjustment, nil
}

func loadStockAdjustment(tx *gorm.DB, businessId string, id int, forUpdate bool) (*StockAdjustment, error) {
	var adjustment StockAdjustment
	query := tx.Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.Where("business_id = ? AND id = ?", businessId, id).Take(&adjustment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &adjustment, nil
}

// CompleteStockAdjustment applies the adjustment once. Receive adds stock and
// blends its cost into the product; damage, loss and expiry remove stock.
func CompleteStockAdjustment(ctx context.Context, id int, completedAt *time.Time) (*StockAdjustment, *StockApplyReport, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	at := time.Now().UTC()
	if completedAt != nil {
		at = completedAt.UTC()
	}

	var adjustment *StockAdjustment
	transitioned := false
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		adjustment, err = loadStockAdjustment(tx, businessId, id, true)
		if err != nil {
			return err
		}
		if adjustment.OrderCompleted {
			return nil
		}
		if adjustment.Status != DocumentStatusPending {
			return ErrDocumentNotPending
		}
		if adjustment.Reason == InventoryReasonReceive {
			costs := newCostReceiver(tx, businessId)
			for _, d := range adjustment.Details {
				if err := costs.receive(d.ProductId, d.Units, d.Cost); err != nil {
					return err
				}
			}
		}
		adjustment.Status = DocumentStatusCompleted
		adjustment.OrderCompleted = true
		adjustment.CompletedAt = &at
		transitioned = true
		return tx.Model(&StockAdjustment{}).Where("id = ?", adjustment.ID).Updates(map[string]interface{}{
			"status":          adjustment.Status,
			"order_completed": true,
			"completed_at":    at,
		}).Error
	})
	if err != nil {
		config.LogError(config.GetLogger(), "StockAdjustment", "CompleteStockAdjustment", "complete adjustment", id, err)
		return nil, nil, err
	}
	if !transitioned {
		return adjustment, nil, nil
	}

	mode := StockModeSubtract
	if adjustment.Reason == InventoryReasonReceive {
		mode = StockModeAdd
	}
	report := &StockApplyReport{}
	for _, d := range adjustment.Details {
		report.add(UpdateStockLevel(ctx, StockLevelUpdate{
			StoreId:          adjustment.StoreId,
			ProductId:        d.ProductId,
			Reason:           adjustment.Reason,
			ChangeSourceRef:  adjustment.ReferenceNo,
			ChangeSourceName: fmt.Sprintf("Stock adjustment %s (%s)", adjustment.ReferenceNo, adjustment.Reason),
			LineSourceRef:    fmt.Sprintf("sa:%d", d.ID),
			Adjustment:       d.Units,
			Mode:             mode,
			EventTime:        &at,
		}))
	}
	return adjustment, report, nil
}
