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

type TransferOrder struct {
	ID                 int                   `gorm:"primary_key" json:"id"`
	BusinessId         string                `gorm:"size:36;index;not null" json:"business_id"`
	OrderNumber        string                `gorm:"size:100;not null" json:"order_number"`
	SourceStoreId      int                   `gorm:"index;not null" json:"source_store_id"`
	DestinationStoreId int                   `gorm:"index;not null" json:"destination_store_id"`
	Status             DocumentStatus        `gorm:"size:20;not null;default:'Pending'" json:"status"`
	OrderCompleted     bool                  `gorm:"not null;default:false" json:"order_completed"`
	ReceivedAt         *time.Time            `json:"received_at"`
	Details            []TransferOrderDetail `gorm:"foreignKey:TransferOrderId" json:"details"`
	CreatedAt          time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type TransferOrderDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TransferOrderId int             `gorm:"index;not null" json:"transfer_order_id"`
	ProductId       int             `gorm:"not null" json:"product_id"`
	Units           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"units"`
}

type NewTransferOrder struct {
	OrderNumber        string                   `json:"order_number" validate:"required"`
	SourceStoreId      int                      `json:"source_store_id" validate:"required"`
	DestinationStoreId int                      `json:"destination_store_id" validate:"required"`
	Details            []NewTransferOrderDetail `json:"details" validate:"required,min=1,dive"`
}

type NewTransferOrderDetail struct {
	ProductId int             `json:"product_id" validate:"required"`
	Units     decimal.Decimal `json:"units"`
}

func CreateTransferOrder(ctx context.Context, input NewTransferOrder) (*TransferOrder, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.Validate(input); err != nil {
		return nil, err
	}
	if input.SourceStoreId == input.DestinationStoreId {
		return nil, ErrSameStore
	}
	order := TransferOrder{
		BusinessId:         businessId,
		OrderNumber:        input.OrderNumber,
		SourceStoreId:      input.SourceStoreId,
		DestinationStoreId: input.DestinationStoreId,
		Status:             DocumentStatusPending,
	}
	for _, d := range input.Details {
		if !d.Units.IsPositive() {
			return nil, fmt.Errorf("product %d: units must be positive", d.ProductId)
		}
		order.Details = append(order.Details, TransferOrderDetail{ProductId: d.ProductId, Units: d.Units})
	}
	if err := config.GetDB().WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func GetTransferOrder(ctx context.Context, id int) (*TransferOrder, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	return loadTransferOrder(config.GetDB().WithContext(ctx), businessId, id, false)
}

func loadTransferOrder(tx *gorm.DB, businessId string, id int, forUpdate bool) (*TransferOrder, error) {
	var order TransferOrder
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

// ReceiveTransferOrder completes the transfer once: every line leaves the
// source store and arrives at the destination store, each side under its own
// idempotency key.
func ReceiveTransferOrder(ctx context.Context, id int, receivedAt *time.Time) (*TransferOrder, *StockApplyReport, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	at := time.Now().UTC()
	if receivedAt != nil {
		at = receivedAt.UTC()
	}

	var order *TransferOrder
	transitioned := false
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadTransferOrder(tx, businessId, id, true)
		if err != nil {
			return err
		}
		if order.OrderCompleted {
			return nil
		}
		if order.Status != DocumentStatusPending {
			return ErrDocumentNotPending
		}
		order.Status = DocumentStatusReceived
		order.OrderCompleted = true
		order.ReceivedAt = &at
		transitioned = true
		return tx.Model(&TransferOrder{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
			"status":          order.Status,
			"order_completed": true,
			"received_at":     at,
		}).Error
	})
	if err != nil {
		config.LogError(config.GetLogger(), "TransferOrder", "ReceiveTransferOrder", "receive order", id, err)
		return nil, nil, err
	}
	if !transitioned {
		return order, nil, nil
	}

	report := &StockApplyReport{}
	name := "Transfer order " + order.OrderNumber
	for _, d := range order.Details {
		report.add(UpdateStockLevel(ctx, StockLevelUpdate{
			StoreId:          order.SourceStoreId,
			ProductId:        d.ProductId,
			Reason:           InventoryReasonTransfer,
			ChangeSourceRef:  order.OrderNumber,
			ChangeSourceName: name,
			LineSourceRef:    fmt.Sprintf("to:%d:out", d.ID),
			Adjustment:       d.Units,
			Mode:             StockModeSubtract,
			EventTime:        &at,
		}))
		report.add(UpdateStockLevel(ctx, StockLevelUpdate{
			StoreId:          order.DestinationStoreId,
			ProductId:        d.ProductId,
			Reason:           InventoryReasonTransfer,
			ChangeSourceRef:  order.OrderNumber,
			ChangeSourceName: name,
			LineSourceRef:    fmt.Sprintf("to:%d:in", d.ID),
			Adjustment:       d.Units,
			Mode:             StockModeAdd,
			EventTime:        &at,
		}))
	}
	return order, report, nil
}
