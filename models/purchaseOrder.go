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

type PurchaseOrder struct {
	ID             int                   `gorm:"primary_key" json:"id"`
	BusinessId     string                `gorm:"size:36;index;not null" json:"business_id"`
	StoreId        int                   `gorm:"index;not null" json:"store_id"`
	OrderNumber    string                `gorm:"size:100;not null" json:"order_number"`
	SupplierName   string                `gorm:"size:255" json:"supplier_name"`
	Status         DocumentStatus        `gorm:"size:20;not null;default:'Pending'" json:"status"`
	OrderCompleted bool                  `gorm:"not null;default:false" json:"order_completed"`
	ReceivedAt     *time.Time            `json:"received_at"`
	Details        []PurchaseOrderDetail `gorm:"foreignKey:PurchaseOrderId" json:"details"`
	CreatedAt      time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	ProductId       int             `gorm:"not null" json:"product_id"`
	Units           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"units"`
	PurchaseCost    decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"purchase_cost"`
}

type NewPurchaseOrder struct {
	StoreId      int                      `json:"store_id" validate:"required"`
	OrderNumber  string                   `json:"order_number" validate:"required"`
	SupplierName string                   `json:"supplier_name"`
	Details      []NewPurchaseOrderDetail `json:"details" validate:"required,min=1,dive"`
}

type NewPurchaseOrderDetail struct {
	ProductId    int             `json:"product_id" validate:"required"`
	Units        decimal.Decimal `json:"units"`
	PurchaseCost decimal.Decimal `json:"purchase_cost"`
}

func CreatePurchaseOrder(ctx context.Context, input NewPurchaseOrder) (*PurchaseOrder, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.Validate(input); err != nil {
		return nil, err
	}
	order := PurchaseOrder{
		BusinessId:   businessId,
		StoreId:      input.StoreId,
		OrderNumber:  input.OrderNumber,
		SupplierName: input.SupplierName,
		Status:       DocumentStatusPending,
	}
	for _, d := range input.Details {
		if !d.Units.IsPositive() {
			return nil, fmt.Errorf("product %d: units must be positive", d.ProductId)
		}
		order.Details = append(order.Details, PurchaseOrderDetail{
			ProductId:    d.ProductId,
			Units:        d.Units,
			PurchaseCost: d.PurchaseCost,
		})
	}
	if err := config.GetDB().WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	return loadPurchaseOrder(config.GetDB().WithContext(ctx), businessId, id, false)
}

func loadPurchaseOrder(tx *gorm.DB, businessId string, id int, forUpdate bool) (*PurchaseOrder, error) {
	var order PurchaseOrder
	query := tx.Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.Where("business_id = ? AND id = ?", businessId, id).Take(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ReceivePurchaseOrder moves a pending order to Received exactly once,
// blending purchase costs into product cost and adding the units to the store.
// Receiving an already completed order returns it unchanged with a nil report.
func ReceivePurchaseOrder(ctx context.Context, id int, receivedAt *time.Time) (*PurchaseOrder, *StockApplyReport, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	at := time.Now().UTC()
	if receivedAt != nil {
		at = receivedAt.UTC()
	}

	var order *PurchaseOrder
	transitioned := false
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadPurchaseOrder(tx, businessId, id, true)
		if err != nil {
			return err
		}
		if order.OrderCompleted {
			return nil
		}
		if order.Status != DocumentStatusPending {
			return ErrDocumentNotPending
		}
		costs := newCostReceiver(tx, businessId)
		for _, d := range order.Details {
			if err := costs.receive(d.ProductId, d.Units, d.PurchaseCost); err != nil {
				return err
			}
		}
		order.Status = DocumentStatusReceived
		order.OrderCompleted = true
		order.ReceivedAt = &at
		transitioned = true
		return tx.Model(&PurchaseOrder{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
			"status":          order.Status,
			"order_completed": true,
			"received_at":     at,
		}).Error
	})
	if err != nil {
		config.LogError(config.GetLogger(), "PurchaseOrder", "ReceivePurchaseOrder", "receive order", id, err)
		return nil, nil, err
	}
	if !transitioned {
		return order, nil, nil
	}

	report := &StockApplyReport{}
	for _, d := range order.Details {
		report.add(UpdateStockLevel(ctx, StockLevelUpdate{
			StoreId:          order.StoreId,
			ProductId:        d.ProductId,
			Reason:           InventoryReasonPurchaseOrderReceive,
			ChangeSourceRef:  order.OrderNumber,
			ChangeSourceName: "Purchase order " + order.OrderNumber,
			LineSourceRef:    fmt.Sprintf("po:%d", d.ID),
			Adjustment:       d.Units,
			Mode:             StockModeAdd,
			EventTime:        &at,
		}))
	}
	return order, report, nil
}
