package main

import (
	"context"

	"github.com/mmdatafocus/stock_backend/middlewares"
	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/utils"
)

type stockLevelView struct {
	models.StockLevel
	StoreName   string `json:"store_name"`
	ProductName string `json:"product_name"`
}

type inventoryHistoryView struct {
	models.InventoryHistory
	StoreName   string `json:"store_name"`
	ProductName string `json:"product_name"`
}

// keyNames resolves store and product names for a page of rows in one batch
// per table. A deleted store or product leaves its name empty.
func keyNames(ctx context.Context, storeIds []int, productIds []int) (map[int]string, map[int]string, error) {
	storeNames := make(map[int]string, len(storeIds))
	productNames := make(map[int]string, len(productIds))
	if len(storeIds) == 0 {
		return storeNames, productNames, nil
	}
	stores, errs := middlewares.GetStores(ctx, utils.UniqueSlice(storeIds))
	if err := firstError(errs); err != nil {
		return nil, nil, err
	}
	for _, s := range stores {
		if s != nil {
			storeNames[s.ID] = s.Name
		}
	}
	products, errs := middlewares.GetProducts(ctx, utils.UniqueSlice(productIds))
	if err := firstError(errs); err != nil {
		return nil, nil, err
	}
	for _, p := range products {
		if p != nil {
			productNames[p.ID] = p.Name
		}
	}
	return storeNames, productNames, nil
}

func stockLevelViews(ctx context.Context, levels []models.StockLevel) ([]stockLevelView, error) {
	storeIds := make([]int, 0, len(levels))
	productIds := make([]int, 0, len(levels))
	for _, l := range levels {
		storeIds = append(storeIds, l.StoreId)
		productIds = append(productIds, l.ProductId)
	}
	storeNames, productNames, err := keyNames(ctx, storeIds, productIds)
	if err != nil {
		return nil, err
	}
	views := make([]stockLevelView, 0, len(levels))
	for _, l := range levels {
		views = append(views, stockLevelView{StockLevel: l, StoreName: storeNames[l.StoreId], ProductName: productNames[l.ProductId]})
	}
	return views, nil
}

func inventoryHistoryViews(ctx context.Context, entries []models.InventoryHistory) ([]inventoryHistoryView, error) {
	storeIds := make([]int, 0, len(entries))
	productIds := make([]int, 0, len(entries))
	for _, e := range entries {
		storeIds = append(storeIds, e.StoreId)
		productIds = append(productIds, e.ProductId)
	}
	storeNames, productNames, err := keyNames(ctx, storeIds, productIds)
	if err != nil {
		return nil, err
	}
	views := make([]inventoryHistoryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, inventoryHistoryView{InventoryHistory: e, StoreName: storeNames[e.StoreId], ProductName: productNames[e.ProductId]})
	}
	return views, nil
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
