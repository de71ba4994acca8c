package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InventoryReason string

const (
	InventoryReasonSale                 InventoryReason = "Sale"
	InventoryReasonRefund               InventoryReason = "Refund"
	InventoryReasonReceive              InventoryReason = "Receive"
	InventoryReasonPurchaseOrderReceive InventoryReason = "PurchaseOrderReceive"
	InventoryReasonTransfer             InventoryReason = "Transfer"
	InventoryReasonDamage               InventoryReason = "Damage"
	InventoryReasonLoss                 InventoryReason = "Loss"
	InventoryReasonRepackage            InventoryReason = "Repackage"
	InventoryReasonExpiry               InventoryReason = "Expiry"
	InventoryReasonItemEdit             InventoryReason = "ItemEdit"
	InventoryReasonInventoryCount       InventoryReason = "InventoryCount"
)

func (r InventoryReason) IsValid() bool {
	switch r {
	case InventoryReasonSale, InventoryReasonRefund, InventoryReasonReceive, InventoryReasonPurchaseOrderReceive,
		InventoryReasonTransfer, InventoryReasonDamage, InventoryReasonLoss, InventoryReasonRepackage,
		InventoryReasonExpiry, InventoryReasonItemEdit, InventoryReasonInventoryCount:
		return true
	}
	return false
}

// InventoryHistory is one ledger entry. Entries of a key ordered by
// (created_at, id) form a running sum of adjustment into stock_after.
// CreatedAt is the event time and may be backdated; SyncAt is when the row
// was first written and never changes.
type InventoryHistory struct {
	ID               int             `gorm:"primary_key;index:idx_inventory_history_key,priority:5" json:"id"`
	BusinessId       string          `gorm:"size:36;not null;index:idx_inventory_history_key,priority:1" json:"business_id"`
	StoreId          int             `gorm:"not null;index:idx_inventory_history_key,priority:2" json:"store_id"`
	ProductId        int             `gorm:"not null;index:idx_inventory_history_key,priority:3" json:"product_id"`
	Reason           InventoryReason `gorm:"size:30;not null" json:"reason"`
	ChangeSourceRef  string          `gorm:"size:100;index" json:"change_source_ref"`
	ChangeSourceName string          `gorm:"size:255" json:"change_source_name"`
	LineSourceRef    string          `gorm:"size:150;not null;uniqueIndex:idx_inventory_history_line_ref" json:"line_source_ref"`
	Adjustment       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"adjustment"`
	StockAfter       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"stock_after"`
	UserId           int             `json:"user_id"`
	UserName         string          `gorm:"size:100" json:"user_name"`
	CreatedAt        time.Time       `gorm:"precision:6;not null;index:idx_inventory_history_key,priority:4" json:"created_at"`
	SyncAt           time.Time       `gorm:"autoCreateTime;precision:6" json:"sync_at"`
}

// PreAdjustmentBalance is the balance just before this entry applied.
func (h InventoryHistory) PreAdjustmentBalance() decimal.Decimal {
	return h.StockAfter.Sub(h.Adjustment)
}

// isAfter reports whether h sorts after (t, id) in ledger order.
func (h InventoryHistory) isAfter(t time.Time, id int) bool {
	if h.CreatedAt.Equal(t) {
		return h.ID > id
	}
	return h.CreatedAt.After(t)
}

func keyScope(tx *gorm.DB, key StockKey) *gorm.DB {
	return tx.Model(&InventoryHistory{}).
		Where("business_id = ? AND store_id = ? AND product_id = ?", key.BusinessId, key.StoreId, key.ProductId)
}

// entryBefore returns the last entry strictly before (t, id), or nil.
func entryBefore(tx *gorm.DB, key StockKey, t time.Time, id int) (*InventoryHistory, error) {
	var entries []InventoryHistory
	err := keyScope(tx, key).
		Where("created_at < ? OR (created_at = ? AND id < ?)", t, t, id).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&entries).Error
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// entryAfter returns the first entry strictly after (t, id), or nil.
func entryAfter(tx *gorm.DB, key StockKey, t time.Time, id int) (*InventoryHistory, error) {
	var entries []InventoryHistory
	err := keyScope(tx, key).
		Where("created_at > ? OR (created_at = ? AND id > ?)", t, t, id).
		Order("created_at ASC, id ASC").
		Limit(1).
		Find(&entries).Error
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// entriesFrom loads entries at or after (t, id) in ledger order.
func entriesFrom(tx *gorm.DB, key StockKey, t time.Time, id int, descending bool) ([]InventoryHistory, error) {
	order := "created_at ASC, id ASC"
	if descending {
		order = "created_at DESC, id DESC"
	}
	var entries []InventoryHistory
	err := keyScope(tx, key).
		Where("created_at > ? OR (created_at = ? AND id >= ?)", t, t, id).
		Order(order).
		Find(&entries).Error
	return entries, err
}

func earliestEntry(tx *gorm.DB, key StockKey) (*InventoryHistory, error) {
	var entries []InventoryHistory
	err := keyScope(tx, key).Order("created_at ASC, id ASC").Limit(1).Find(&entries).Error
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func latestEntry(tx *gorm.DB, key StockKey) (*InventoryHistory, error) {
	var entries []InventoryHistory
	err := keyScope(tx, key).Order("created_at DESC, id DESC").Limit(1).Find(&entries).Error
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func lineSourceRefExists(tx *gorm.DB, lineSourceRef string) (bool, error) {
	var count int64
	err := tx.Model(&InventoryHistory{}).Where("line_source_ref = ?", lineSourceRef).Count(&count).Error
	return count > 0, err
}

type InventoryHistoryQuery struct {
	StoreId   int        `json:"store_id" validate:"required"`
	ProductId int        `json:"product_id" validate:"required"`
	From      *time.Time `json:"from"`
	To        *time.Time `json:"to"`
	Limit     int        `json:"limit"`
}

// ListInventoryHistories is the historical ledger query for one key,
// ordered oldest first. To is exclusive.
func ListInventoryHistories(ctx context.Context, query InventoryHistoryQuery) ([]InventoryHistory, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.Validate(query); err != nil {
		return nil, err
	}
	key := StockKey{BusinessId: businessId, StoreId: query.StoreId, ProductId: query.ProductId}
	dbCtx := keyScope(config.GetDB().WithContext(ctx), key)
	if query.From != nil {
		dbCtx = dbCtx.Where("created_at >= ?", query.From.UTC())
	}
	if query.To != nil {
		dbCtx = dbCtx.Where("created_at < ?", query.To.UTC())
	}
	if query.Limit > 0 {
		dbCtx = dbCtx.Limit(query.Limit)
	}
	var entries []InventoryHistory
	err = dbCtx.Order("created_at ASC, id ASC").Find(&entries).Error
	return entries, err
}
