package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/stock_backend/models"
	"gorm.io/gorm"
)

type storeReader struct {
	db *gorm.DB
}

func (r *storeReader) getStores(ctx context.Context, ids []int) []*dataloader.Result[*models.Store] {
	var results []models.Store
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Store](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(s models.Store) int { return s.ID })
}

func GetStore(ctx context.Context, id int) (*models.Store, error) {
	loaders := For(ctx)
	return loaders.storeLoader.Load(ctx, id)()
}

func GetStores(ctx context.Context, ids []int) ([]*models.Store, []error) {
	loaders := For(ctx)
	return loaders.storeLoader.LoadMany(ctx, ids)()
}
