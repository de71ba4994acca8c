package models_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openLedgerDB installs a private in-memory database as the global handle.
// One connection keeps the shared-cache database alive and serializes writers.
func openLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), config.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	config.UseDB(db)
	config.UseRedis(nil)
	models.MigrateTable()
	return db
}

type ledgerFixture struct {
	ctx      context.Context
	db       *gorm.DB
	business *models.Business
	store    *models.Store
	product  *models.Product
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := openLedgerDB(t)

	ctx := utils.SetUserIdInContext(context.Background(), 7)
	ctx = utils.SetUserNameInContext(ctx, "tester")
	business, err := models.CreateBusiness(ctx, "Corner Shop", "UTC")
	require.NoError(t, err)
	ctx = utils.SetBusinessIdInContext(ctx, business.ID.String())

	store, err := models.CreateStore(ctx, "Main", "store-ext-1")
	require.NoError(t, err)
	product, err := models.CreateProduct(ctx, models.NewProduct{
		Name:              "Rice",
		Cost:              decimal.NewFromInt(1000),
		Price:             decimal.NewFromInt(1250),
		ExternalVariantId: "variant-rice",
	})
	require.NoError(t, err)

	return &ledgerFixture{ctx: ctx, db: db, business: business, store: store, product: product}
}

func (f *ledgerFixture) key() models.StockKey {
	return models.StockKey{BusinessId: f.business.ID.String(), StoreId: f.store.ID, ProductId: f.product.ID}
}

func (f *ledgerFixture) write(t *testing.T, ref string, mode models.StockMode, units int64, at time.Time) models.StockUpdateResult {
	t.Helper()
	return f.writeFor(t, f.store.ID, f.product.ID, ref, mode, units, at)
}

func (f *ledgerFixture) writeFor(t *testing.T, storeId int, productId int, ref string, mode models.StockMode, units int64, at time.Time) models.StockUpdateResult {
	t.Helper()
	res := models.UpdateStockLevel(f.ctx, models.StockLevelUpdate{
		StoreId:       storeId,
		ProductId:     productId,
		Reason:        models.InventoryReasonReceive,
		LineSourceRef: ref,
		Adjustment:    decimal.NewFromInt(units),
		Mode:          mode,
		EventTime:     &at,
	})
	require.NoError(t, res.Err)
	return res
}

func (f *ledgerFixture) stockAfters(t *testing.T) []string {
	t.Helper()
	entries, err := models.ListInventoryHistories(f.ctx, models.InventoryHistoryQuery{
		StoreId:   f.store.ID,
		ProductId: f.product.ID,
	})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.StockAfter.String())
	}
	return out
}

func (f *ledgerFixture) units(t *testing.T, storeId int, productId int) decimal.Decimal {
	t.Helper()
	level, err := models.GetStockLevel(f.ctx, storeId, productId)
	require.NoError(t, err)
	return level.Units
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func eventAt(day int, hour int) time.Time {
	return time.Date(2026, time.March, day, hour, 0, 0, 0, time.UTC)
}
