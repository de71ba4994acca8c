package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Business struct {
	ID        uuid.UUID `gorm:"primary_key;size:36" json:"id"`
	Name      string    `gorm:"index;size:100;not null" json:"name"`
	Timezone  string    `gorm:"size:50" json:"timezone"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Store struct {
	ID              int       `gorm:"primary_key" json:"id"`
	BusinessId      string    `gorm:"index;size:36;not null" json:"business_id"`
	Name            string    `gorm:"size:100;not null" json:"name"`
	ExternalStoreId string    `gorm:"size:100;index" json:"external_store_id"`
	IsActive        *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type ProductCategory struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;size:36;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Product struct {
	ID                int             `gorm:"primary_key" json:"id"`
	BusinessId        string          `gorm:"index;size:36;not null" json:"business_id"`
	Name              string          `gorm:"size:100;not null" json:"name"`
	CategoryId        int             `gorm:"index;not null;default:0" json:"category_id"`
	Sku               string          `gorm:"size:100" json:"sku"`
	Barcode           string          `gorm:"index;size:100" json:"barcode"`
	Cost              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost"`
	Price             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	TrackStock        *bool           `gorm:"not null;default:true" json:"track_stock"`
	ExternalVariantId string          `gorm:"size:100;index" json:"external_variant_id"`
	IsActive          *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name              string          `json:"name" validate:"required"`
	CategoryId        int             `json:"category_id"`
	Sku               string          `json:"sku"`
	Barcode           string          `json:"barcode"`
	Cost              decimal.Decimal `json:"cost"`
	Price             decimal.Decimal `json:"price"`
	TrackStock        *bool           `json:"track_stock"`
	ExternalVariantId string          `json:"external_variant_id"`
}

func businessIdFrom(ctx context.Context) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", ErrBusinessIdRequired
	}
	return businessId, nil
}

func CreateBusiness(ctx context.Context, name string, timezone string) (*Business, error) {
	if timezone == "" {
		timezone = utils.DefaultTimezone
	}
	if _, err := utils.LoadLocation(timezone); err != nil {
		return nil, err
	}
	business := Business{
		ID:       uuid.New(),
		Name:     name,
		Timezone: timezone,
	}
	if err := config.GetDB().WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

func GetBusiness(ctx context.Context, businessId string) (*Business, error) {
	return getBusiness(config.GetDB().WithContext(ctx), businessId)
}

func getBusiness(tx *gorm.DB, businessId string) (*Business, error) {
	var business Business
	if err := tx.Where("id = ?", businessId).Take(&business).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &business, nil
}

func ListActiveBusinesses(ctx context.Context) ([]Business, error) {
	var businesses []Business
	err := config.GetDB().WithContext(ctx).Where("is_active = ?", true).Order("created_at").Find(&businesses).Error
	return businesses, err
}

// CreateStore creates the store and a zero stock level for every existing product.
func CreateStore(ctx context.Context, name string, externalStoreId string) (*Store, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	store := Store{
		BusinessId:      businessId,
		Name:            name,
		ExternalStoreId: externalStoreId,
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&store).Error; err != nil {
			return err
		}
		var products []Product
		if err := tx.Where("business_id = ?", businessId).Find(&products).Error; err != nil {
			return err
		}
		for _, p := range products {
			if _, err := EnsureStockLevel(tx, businessId, store.ID, p.ID, p.Price); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// CreateProduct creates the product and a zero stock level in every store.
func CreateProduct(ctx context.Context, input NewProduct) (*Product, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.Validate(input); err != nil {
		return nil, err
	}
	product := Product{
		BusinessId:        businessId,
		Name:              input.Name,
		CategoryId:        input.CategoryId,
		Sku:               input.Sku,
		Barcode:           input.Barcode,
		Cost:              input.Cost,
		Price:             input.Price,
		TrackStock:        input.TrackStock,
		ExternalVariantId: input.ExternalVariantId,
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&product).Error; err != nil {
			return err
		}
		var stores []Store
		if err := tx.Where("business_id = ?", businessId).Find(&stores).Error; err != nil {
			return err
		}
		for _, s := range stores {
			if _, err := EnsureStockLevel(tx, businessId, s.ID, product.ID, product.Price); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func CreateProductCategory(ctx context.Context, name string) (*ProductCategory, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	category := ProductCategory{BusinessId: businessId, Name: name}
	if err := config.GetDB().WithContext(ctx).Create(&category).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

func GetProduct(ctx context.Context, productId int) (*Product, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	return getProduct(config.GetDB().WithContext(ctx), businessId, productId)
}

func getProduct(tx *gorm.DB, businessId string, productId int) (*Product, error) {
	var product Product
	if err := tx.Where("business_id = ? AND id = ?", businessId, productId).Take(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &product, nil
}

func getStore(tx *gorm.DB, businessId string, storeId int) (*Store, error) {
	var store Store
	if err := tx.Where("business_id = ? AND id = ?", businessId, storeId).Take(&store).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &store, nil
}
