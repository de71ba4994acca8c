package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type apiFixture struct {
	router  *gin.Engine
	token   string
	admin   string
	store   *models.Store
	product *models.Product
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	ctx := context.Background()
	business, err := models.CreateBusiness(ctx, "Corner Shop", "UTC")
	require.NoError(t, err)
	ctx = utils.BackgroundContext(ctx, business.ID.String())
	store, err := models.CreateStore(ctx, "Main", "store-ext-1")
	require.NoError(t, err)
	product, err := models.CreateProduct(ctx, models.NewProduct{
		Name:  "Rice",
		Cost:  decimal.NewFromInt(1000),
		Price: decimal.NewFromInt(1250),
	})
	require.NoError(t, err)

	token, err := utils.JwtGenerate(utils.JwtCustomClaim{UserId: 3, UserName: "cashier", BusinessId: business.ID.String()})
	require.NoError(t, err)
	admin, err := utils.JwtGenerate(utils.JwtCustomClaim{UserId: 1, UserName: "ops", BusinessId: business.ID.String(), IsAdmin: true})
	require.NoError(t, err)

	return &apiFixture{
		router:  newRouter(config.GetLogger()),
		token:   token,
		admin:   admin,
		store:   store,
		product: product,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStockRoutes_ItemEditAndRead(t *testing.T) {
	f := newAPIFixture(t)

	body := fmt.Sprintf(`{"store_id":%d,"product_id":%d,"units":10,"minimum_stock_level":2}`, f.store.ID, f.product.ID)
	w := f.do(t, http.MethodPut, "/api/stock-levels", f.token, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/stores/%d/stock-levels/%d", f.store.ID, f.product.ID), f.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var level models.StockLevel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &level))
	require.True(t, level.Units.Equal(decimal.NewFromInt(10)), level.Units.String())
	require.Equal(t, 2, level.MinimumStockLevel)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/inventory-histories?store_id=%d&product_id=%d", f.store.ID, f.product.ID), f.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.InventoryHistory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.True(t, entries[0].StockAfter.Equal(decimal.NewFromInt(10)))
	var named []struct {
		StoreName   string `json:"store_name"`
		ProductName string `json:"product_name"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &named))
	require.Equal(t, "Main", named[0].StoreName)
	require.Equal(t, "Rice", named[0].ProductName)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/stores/%d/stock-levels", f.store.ID), f.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	named = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &named))
	require.Len(t, named, 1)
	require.Equal(t, "Main", named[0].StoreName)
	require.Equal(t, "Rice", named[0].ProductName)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/stores/%d/stock-levels/%d", f.store.ID, 9999), f.token, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStockRoutes_RejectsBadRequests(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/stores/abc/stock-levels", f.token, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/purchase-orders", f.token, `{"store_id":1}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "OrderNumber")

	w = f.do(t, http.MethodGet, "/api/inventory-valuation?date=03-2026", f.token, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/stores/1/stock-levels", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/nowhere", f.token, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPurchaseOrderRoutes_ReceiveOnce(t *testing.T) {
	f := newAPIFixture(t)

	body := fmt.Sprintf(`{"store_id":%d,"order_number":"PO-1","details":[{"product_id":%d,"units":5,"purchase_cost":1000}]}`, f.store.ID, f.product.ID)
	w := f.do(t, http.MethodPost, "/api/purchase-orders", f.token, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var po models.PurchaseOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &po))

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/purchase-orders/%d/receive", po.ID), f.token, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Report *models.StockApplyReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.Report)
	require.Equal(t, 1, res.Report.Applied)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/purchase-orders/%d/receive", po.ID), f.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	res.Report = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Nil(t, res.Report)
}

func TestOpsRoutes_RequireAdmin(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/internal/ops/stock/reconcile", f.token, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/internal/ops/stock/reconcile", f.admin, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/internal/ops/valuation/snapshot", f.admin, `{"as_of":"2026-03-10T12:00:00Z"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap models.ValuationSnapshotResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Equal(t, 1, snap.LineCount)

	w = f.do(t, http.MethodGet, "/api/inventory-valuation?date=2026-03-10", f.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var report models.InventoryValuationReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Lines, 1)

	w = f.do(t, http.MethodGet, "/api/inventory-valuation.xlsx?date=2026-03-10", f.token, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Disposition"), "inventory-valuation-2026-03-10.xlsx")

	w = f.do(t, http.MethodPost, "/internal/ops/outbox/replay", f.admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"ok":true,"replayed":0}`, w.Body.String())
}
