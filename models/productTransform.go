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

// ProductTransform repackages stock inside one store, e.g. a carton into
// single units. Quantity is how many target units one source unit yields.
type ProductTransform struct {
	ID             int                      `gorm:"primary_key" json:"id"`
	BusinessId     string                   `gorm:"size:36;index;not null" json:"business_id"`
	StoreId        int                      `gorm:"index;not null" json:"store_id"`
	ReferenceNo    string                   `gorm:"size:100;not null" json:"reference_no"`
	Status         DocumentStatus           `gorm:"size:20;not null;default:'Pending'" json:"status"`
	OrderCompleted bool                     `gorm:"not null;default:false" json:"order_completed"`
	ReceivedAt     *time.Time               `json:"received_at"`
	Details        []ProductTransformDetail `gorm:"foreignKey:ProductTransformId" json:"details"`
	CreatedAt      time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

type ProductTransformDetail struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	ProductTransformId int             `gorm:"index;not null" json:"product_transform_id"`
	SourceProductId    int             `gorm:"not null" json:"source_product_id"`
	SourceUnits        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"source_units"`
	TargetProductId    int             `gorm:"not null" json:"target_product_id"`
	Quantity           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	TargetUnits        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"target_units"`
	TargetCost         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"target_cost"`
}

type NewProductTransform struct {
	StoreId     int                         `json:"store_id" validate:"required"`
	ReferenceNo string                      `json:"reference_no" validate:"required"`
	Details     []NewProductTransformDetail `json:"details" validate:"required,min=1,dive"`
}

type NewProductTransformDetail struct {
	SourceProductId int             `json:"source_product_id" validate:"required"`
	SourceUnits     decimal.Decimal `json:"source_units"`
	TargetProductId int             `json:"target_product_id" validate:"required,nefield=SourceProductId"`
	Quantity        decimal.Decimal `json:"quantity"`
}

func CreateProductTransform(ctx context.Context, input NewProductTransform) (*ProductTransform, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.Validate(input); err != nil {
		return nil, err
	}
	transform := ProductTransform{
		BusinessId:  businessId,
		StoreId:     input.StoreId,
		ReferenceNo: input.ReferenceNo,
		Status:      DocumentStatusPending,
	}
	for _, d := range input.Details {
		if !d.SourceUnits.IsPositive() || !d.Quantity.IsPositive() {
			return nil, fmt.Errorf("product %d: source units and quantity must be positive", d.SourceProductId)
		}
		transform.Details = append(transform.Details, ProductTransformDetail{
			SourceProductId: d.SourceProductId,
			SourceUnits:     d.SourceUnits,
			TargetProductId: d.TargetProductId,
			Quantity:        d.Quantity,
			TargetUnits:     d.SourceUnits.Mul(d.Quantity),
		})
	}
	if err := config.GetDB().WithContext(ctx).Create(&transform).Error; err != nil {
		return nil, err
	}
	return &transform, nil
}

func loadProductTransform(tx *gorm.DB, businessId string, id int, forUpdate bool) (*ProductTransform, error) {
	var transform ProductTransform
	query := tx.Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.Where("business_id = ? AND id = ?", businessId, id).Take(&transform).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &transform, nil
}

// ReceiveProductTransform completes the repackaging once. The target product
// receives the source cost spread over the yielded units.
func ReceiveProductTransform(ctx context.Context, id int, receivedAt *time.Time) (*ProductTransform, *StockApplyReport, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	at := time.Now().UTC()
	if receivedAt != nil {
		at = receivedAt.UTC()
	}

	var transform *ProductTransform
	transitioned := false
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		transform, err = loadProductTransform(tx, businessId, id, true)
		if err != nil {
			return err
		}
		if transform.OrderCompleted {
			return nil
		}
		if transform.Status != DocumentStatusPending {
			return ErrDocumentNotPending
		}
		costs := newCostReceiver(tx, businessId)
		for i := range transform.Details {
			d := &transform.Details[i]
			source, err := getProduct(tx, businessId, d.SourceProductId)
			if err != nil {
				return err
			}
			d.TargetUnits = d.SourceUnits.Mul(d.Quantity)
			d.TargetCost = source.Cost.Div(d.Quantity).Round(4)
			if err := costs.receive(d.TargetProductId, d.TargetUnits, d.TargetCost); err != nil {
				return err
			}
			if err := tx.Model(&ProductTransformDetail{}).Where("id = ?", d.ID).Updates(map[string]interface{}{
				"target_units": d.TargetUnits,
				"target_cost":  d.TargetCost,
			}).Error; err != nil {
				return err
			}
		}
		transform.Status = DocumentStatusReceived
		transform.OrderCompleted = true
		transform.ReceivedAt = &at
		transitioned = true
		return tx.Model(&ProductTransform{}).Where("id = ?", transform.ID).Updates(map[string]interface{}{
			"status":          transform.Status,
			"order_completed": true,
			"received_at":     at,
		}).Error
	})
	if err != nil {
		config.LogError(config.GetLogger(), "ProductTransform", "ReceiveProductTransform", "receive transform", id, err)
		return nil, nil, err
	}
	if !transitioned {
		return transform, nil, nil
	}

	report := &StockApplyReport{}
	name := "Product transform " + transform.ReferenceNo
	for _, d := range transform.Details {
		report.add(UpdateStockLevel(ctx, StockLevelUpdate{
			StoreId:          transform.StoreId,
			ProductId:        d.SourceProductId,
			Reason:           InventoryReasonRepackage,
			ChangeSourceRef:  transform.ReferenceNo,
			ChangeSourceName: name,
			LineSourceRef:    fmt.Sprintf("pt:%d:src", d.ID),
			Adjustment:       d.SourceUnits,
			Mode:             StockModeSubtract,
			EventTime:        &at,
		}))
		report.add(UpdateStockLevel(ctx, StockLevelUpdate{
			StoreId:          transform.StoreId,
			ProductId:        d.TargetProductId,
			Reason:           InventoryReasonRepackage,
			ChangeSourceRef:  transform.ReferenceNo,
			ChangeSourceName: name,
			LineSourceRef:    fmt.Sprintf("pt:%d:dst", d.ID),
			Adjustment:       d.TargetUnits,
			Mode:             StockModeAdd,
			EventTime:        &at,
		}))
	}
	return transform, report, nil
}
