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

type StockStatus string

const (
	StockStatusInStock    StockStatus = "InStock"
	StockStatusLowStock   StockStatus = "LowStock"
	StockStatusOutOfStock StockStatus = "OutOfStock"
)

const stockLevelCacheTTL = 5 * time.Minute

// StockLevel is the live balance of one product in one store.
type StockLevel struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	BusinessId          string          `gorm:"size:36;not null;uniqueIndex:idx_stock_level_key,priority:1" json:"business_id"`
	StoreId             int             `gorm:"not null;uniqueIndex:idx_stock_level_key,priority:2" json:"store_id"`
	ProductId           int             `gorm:"not null;uniqueIndex:idx_stock_level_key,priority:3" json:"product_id"`
	Units               decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"units"`
	MinimumStockLevel   int             `gorm:"not null;default:0" json:"minimum_stock_level"`
	Price               decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	Status              StockStatus     `gorm:"size:20;not null;default:'InStock'" json:"status"`
	IsSellable          *bool           `gorm:"not null;default:true" json:"is_sellable"`
	LastChangeSourceRef string          `gorm:"size:100" json:"last_change_source_ref"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockKey identifies one running-balance sequence.
type StockKey struct {
	BusinessId string `json:"business_id"`
	StoreId    int    `json:"store_id"`
	ProductId  int    `json:"product_id"`
}

func (k StockKey) LockKey() string {
	return fmt.Sprintf("stockLock:%s:%d:%d", k.BusinessId, k.StoreId, k.ProductId)
}

func (k StockKey) cacheKey() string {
	return fmt.Sprintf("stockLevel:%s:%d:%d", k.BusinessId, k.StoreId, k.ProductId)
}

func (k StockKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.BusinessId, k.StoreId, k.ProductId)
}

// EffectivePrice is the store price when set, else the product price.
func (s StockLevel) EffectivePrice(product *Product) decimal.Decimal {
	if s.Price.IsPositive() || product == nil {
		return s.Price
	}
	return product.Price
}

// stockStatusFor derives the status. OutOfStock is only reported for
// products that track stock.
func stockStatusFor(units decimal.Decimal, minimum int, trackStock bool) StockStatus {
	if trackStock && units.LessThan(decimal.NewFromInt(1)) {
		return StockStatusOutOfStock
	}
	if units.LessThan(decimal.NewFromInt(int64(minimum))) {
		return StockStatusLowStock
	}
	return StockStatusInStock
}

// EnsureStockLevel returns the level for the key, creating a zero row if missing.
func EnsureStockLevel(tx *gorm.DB, businessId string, storeId int, productId int, price decimal.Decimal) (*StockLevel, error) {
	level := StockLevel{
		BusinessId: businessId,
		StoreId:    storeId,
		ProductId:  productId,
		Units:      decimal.Zero,
		Price:      price,
		Status:     StockStatusOutOfStock,
	}
	err := tx.Where("business_id = ? AND store_id = ? AND product_id = ?", businessId, storeId, productId).
		FirstOrCreate(&level).Error
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// lockStockLevel reads the level row under SELECT ... FOR UPDATE.
func lockStockLevel(tx *gorm.DB, key StockKey) (*StockLevel, error) {
	var level StockLevel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND store_id = ? AND product_id = ?", key.BusinessId, key.StoreId, key.ProductId).
		Take(&level).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStockLevelNotFound, key)
		}
		return nil, err
	}
	return &level, nil
}

// saveStockLevelUnits persists units and the derived status; it reports the
// status before the write so callers can react to transitions.
func saveStockLevelUnits(tx *gorm.DB, level *StockLevel, units decimal.Decimal, trackStock bool, sourceRef string) (StockStatus, error) {
	previous := level.Status
	level.Units = units
	level.Status = stockStatusFor(units, level.MinimumStockLevel, trackStock)
	updates := map[string]interface{}{
		"units":  level.Units,
		"status": level.Status,
	}
	if sourceRef != "" {
		level.LastChangeSourceRef = sourceRef
		updates["last_change_source_ref"] = sourceRef
	}
	if err := tx.Model(&StockLevel{}).Where("id = ?", level.ID).Updates(updates).Error; err != nil {
		return previous, err
	}
	return previous, nil
}

// GetStockLevel is the current balance lookup. Results are cached in Redis
// and invalidated by every ledger write on the key.
func GetStockLevel(ctx context.Context, storeId int, productId int) (*StockLevel, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	key := StockKey{BusinessId: businessId, StoreId: storeId, ProductId: productId}

	var cached StockLevel
	exists, err := config.GetRedisObject(key.cacheKey(), &cached)
	if err == nil && exists {
		return &cached, nil
	}

	var level StockLevel
	err = config.GetDB().WithContext(ctx).
		Where("business_id = ? AND store_id = ? AND product_id = ?", businessId, storeId, productId).
		Take(&level).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := config.SetRedisObject(key.cacheKey(), level, stockLevelCacheTTL); err != nil {
		config.LogError(config.GetLogger(), "StockLevel", "GetStockLevel", "cache stock level", key, err)
	}
	return &level, nil
}

func ListStockLevels(ctx context.Context, storeId int) ([]StockLevel, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	var levels []StockLevel
	query := config.GetDB().WithContext(ctx).Where("business_id = ?", businessId)
	if storeId > 0 {
		query = query.Where("store_id = ?", storeId)
	}
	err = query.Order("store_id, product_id").Find(&levels).Error
	return levels, err
}

func invalidateStockLevelCache(keys ...StockKey) {
	cacheKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		cacheKeys = append(cacheKeys, k.cacheKey())
	}
	if err := config.RemoveRedisKey(cacheKeys...); err != nil {
		config.LogError(config.GetLogger(), "StockLevel", "invalidateStockLevelCache", "remove cache keys", cacheKeys, err)
	}
}

func listStockKeys(tx *gorm.DB, businessId string, storeId int, productId int) ([]StockKey, error) {
	query := tx.Model(&StockLevel{}).Where("business_id = ?", businessId)
	if storeId > 0 {
		query = query.Where("store_id = ?", storeId)
	}
	if productId > 0 {
		query = query.Where("product_id = ?", productId)
	}
	var keys []StockKey
	err := query.Select("business_id, store_id, product_id").Order("store_id, product_id").Scan(&keys).Error
	return keys, err
}
