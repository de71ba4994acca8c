package middlewares

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestLoaders_BatchAndCacheLookups(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), config.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	config.UseDB(db)
	config.UseRedis(nil)
	models.MigrateTable()

	business, err := models.CreateBusiness(context.Background(), "Corner Shop", "UTC")
	require.NoError(t, err)
	ctx := utils.BackgroundContext(context.Background(), business.ID.String())
	mainStore, err := models.CreateStore(ctx, "Main", "")
	require.NoError(t, err)
	annex, err := models.CreateStore(ctx, "Annex", "")
	require.NoError(t, err)
	rice, err := models.CreateProduct(ctx, models.NewProduct{Name: "Rice", Cost: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	var storeQueries atomic.Int32
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:count_store_queries", func(tx *gorm.DB) {
		if tx.Statement.Table == "stores" {
			storeQueries.Add(1)
		}
	}))

	ctx = context.WithValue(ctx, loadersKey, NewLoaders(db))
	stores, errs := GetStores(ctx, []int{mainStore.ID, annex.ID, 9999})
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, stores, 3)
	require.Equal(t, "Main", stores[0].Name)
	require.Equal(t, "Annex", stores[1].Name)
	require.Nil(t, stores[2])
	require.EqualValues(t, 1, storeQueries.Load())

	// repeated keys are served from the request cache
	again, err := GetStore(ctx, annex.ID)
	require.NoError(t, err)
	require.Equal(t, "Annex", again.Name)
	require.EqualValues(t, 1, storeQueries.Load())

	product, err := GetProduct(ctx, rice.ID)
	require.NoError(t, err)
	require.Equal(t, "Rice", product.Name)
}
