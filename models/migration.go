package models

import (
	"log"

	"github.com/mmdatafocus/stock_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &Store{}, &ProductCategory{}, &Product{},
		&StockLevel{}, &InventoryHistory{},
		&InventoryValuation{}, &InventoryValuationLine{},
		&PurchaseOrder{}, &PurchaseOrderDetail{},
		&TransferOrder{}, &TransferOrderDetail{},
		&ProductTransform{}, &ProductTransformDetail{},
		&StockAdjustment{}, &StockAdjustmentDetail{},
		&InventoryCount{}, &InventoryCountDetail{},
		&StockOutboxRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
