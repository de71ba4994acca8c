package models

import (
	"encoding/json"
	"time"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// StockOutboxRecord is written in the same transaction as the stock change
// and published after commit by the dispatcher.
type StockOutboxRecord struct {
	ID               int        `gorm:"primary_key;index:idx_stock_outbox_dispatch,priority:3" json:"id"`
	BusinessId       string     `gorm:"size:36;not null;index" json:"business_id"`
	EventType        string     `gorm:"size:50;not null" json:"event_type"`
	StoreId          int        `json:"store_id"`
	ProductId        int        `json:"product_id"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index:idx_stock_outbox_dispatch,priority:1" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index:idx_stock_outbox_dispatch,priority:2" json:"next_attempt_at"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockLevelChangedEvent is the sync feed payload, keyed by the external ids
// connected POS systems know.
type StockLevelChangedEvent struct {
	BusinessId        string          `json:"business_id"`
	StoreId           int             `json:"store_id"`
	ExternalStoreId   string          `json:"external_store_id,omitempty"`
	ProductId         int             `json:"product_id"`
	ExternalVariantId string          `json:"external_variant_id,omitempty"`
	Units             decimal.Decimal `json:"units"`
	Status            StockStatus     `json:"status"`
	Reason            InventoryReason `json:"reason"`
	LineSourceRef     string          `json:"line_source_ref"`
	EventTime         time.Time       `json:"event_time"`
}

type LowStockEvent struct {
	BusinessId        string          `json:"business_id"`
	StoreId           int             `json:"store_id"`
	StoreName         string          `json:"store_name"`
	ProductId         int             `json:"product_id"`
	ProductName       string          `json:"product_name"`
	Units             decimal.Decimal `json:"units"`
	MinimumStockLevel int             `json:"minimum_stock_level"`
}

func enqueueStockEvent(tx *gorm.DB, eventType string, key StockKey, correlationId string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	record := StockOutboxRecord{
		BusinessId:    key.BusinessId,
		EventType:     eventType,
		StoreId:       key.StoreId,
		ProductId:     key.ProductId,
		Payload:       data,
		CorrelationId: correlationId,
		PublishStatus: OutboxPublishStatusPending,
		NextAttemptAt: &now,
	}
	return tx.Create(&record).Error
}

func enqueueStockLevelChanged(tx *gorm.DB, key StockKey, store *Store, product *Product, level *StockLevel, entry *InventoryHistory, correlationId string) error {
	return enqueueStockEvent(tx, config.StockEventLevelChanged, key, correlationId, StockLevelChangedEvent{
		BusinessId:        key.BusinessId,
		StoreId:           key.StoreId,
		ExternalStoreId:   store.ExternalStoreId,
		ProductId:         key.ProductId,
		ExternalVariantId: product.ExternalVariantId,
		Units:             level.Units,
		Status:            level.Status,
		Reason:            entry.Reason,
		LineSourceRef:     entry.LineSourceRef,
		EventTime:         entry.CreatedAt,
	})
}

func enqueueLowStock(tx *gorm.DB, key StockKey, store *Store, product *Product, level *StockLevel, correlationId string) error {
	return enqueueStockEvent(tx, config.StockEventLowStock, key, correlationId, LowStockEvent{
		BusinessId:        key.BusinessId,
		StoreId:           key.StoreId,
		StoreName:         store.Name,
		ProductId:         key.ProductId,
		ProductName:       product.Name,
		Units:             level.Units,
		MinimumStockLevel: level.MinimumStockLevel,
	})
}
