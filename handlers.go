package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/mmdatafocus/stock_backend/workflow"
	"github.com/shopspring/decimal"
)

func respondError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "fields": utils.ProcessValidationErrors(err)})
	case errors.Is(err, models.ErrBusinessIdRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case utils.IsRecordNotFound(err), errors.Is(err, models.ErrStockLevelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrDocumentCompleted), errors.Is(err, models.ErrDocumentNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrSameStore),
		errors.Is(err, models.ErrEmptyDocument),
		errors.Is(err, models.ErrInvalidStockMode),
		errors.Is(err, models.ErrNegativeAdjustment),
		errors.Is(err, models.ErrLineSourceRequired),
		errors.Is(err, models.ErrInvalidRecalcAnchor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorLockNotObtained):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

// bindJSON binds the request body into dest. An empty body is accepted when
// optional is set.
func bindJSON(c *gin.Context, dest any, optional bool) bool {
	err := c.ShouldBindJSON(dest)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	return false
}

// stock levels

func listStockLevelsHandler(c *gin.Context) {
	storeId, ok := intParam(c, "storeId")
	if !ok {
		return
	}
	levels, err := models.ListStockLevels(c.Request.Context(), storeId)
	if err != nil {
		respondError(c, err)
		return
	}
	views, err := stockLevelViews(c.Request.Context(), levels)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func getStockLevelHandler(c *gin.Context) {
	storeId, ok := intParam(c, "storeId")
	if !ok {
		return
	}
	productId, ok := intParam(c, "productId")
	if !ok {
		return
	}
	level, err := models.GetStockLevel(c.Request.Context(), storeId, productId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, level)
}

func itemEditHandler(c *gin.Context) {
	var input models.ItemEditInput
	if !bindJSON(c, &input, false) {
		return
	}
	result := models.PerformItemEdit(c.Request.Context(), input)
	if result.Err != nil {
		respondError(c, result.Err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ledger

func listInventoryHistoriesHandler(c *gin.Context) {
	query := models.InventoryHistoryQuery{}
	query.StoreId, _ = strconv.Atoi(c.Query("store_id"))
	query.ProductId, _ = strconv.Atoi(c.Query("product_id"))
	query.Limit, _ = strconv.Atoi(c.Query("limit"))
	for name, dest := range map[string]**time.Time{"from": &query.From, "to": &query.To} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
			return
		}
		*dest = &t
	}
	entries, err := models.ListInventoryHistories(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	views, err := inventoryHistoryViews(c.Request.Context(), entries)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func deleteInventoryHistoryHandler(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	result, err := models.DeleteInventoryHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func receiptStockHandler(c *gin.Context) {
	var input models.ReceiptStockInput
	if !bindJSON(c, &input, false) {
		return
	}
	report, err := models.RecordReceiptStock(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// documents

type documentActionRequest struct {
	At *time.Time `json:"at"`
}

type documentActionResponse struct {
	Document any                      `json:"document"`
	Report   *models.StockApplyReport `json:"report"`
}

// documentAction runs a receive/complete operation. A nil report means the
// document had already been applied.
func documentAction[T any](apply func(c *gin.Context, id int, at *time.Time) (*T, *models.StockApplyReport, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req documentActionRequest
		if !bindJSON(c, &req, true) {
			return
		}
		doc, report, err := apply(c, id, req.At)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, documentActionResponse{Document: doc, Report: report})
	}
}

func createDocument[In any, Out any](create func(c *gin.Context, input In) (*Out, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input In
		if !bindJSON(c, &input, false) {
			return
		}
		doc, err := create(c, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

func getDocument[T any](get func(c *gin.Context, id int) (*T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		doc, err := get(c, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

var (
	createPurchaseOrderHandler = createDocument(func(c *gin.Context, in models.NewPurchaseOrder) (*models.PurchaseOrder, error) {
		return models.CreatePurchaseOrder(c.Request.Context(), in)
	})
	getPurchaseOrderHandler = getDocument(func(c *gin.Context, id int) (*models.PurchaseOrder, error) {
		return models.GetPurchaseOrder(c.Request.Context(), id)
	})
	receivePurchaseOrderHandler = documentAction(func(c *gin.Context, id int, at *time.Time) (*models.PurchaseOrder, *models.StockApplyReport, error) {
		return models.ReceivePurchaseOrder(c.Request.Context(), id, at)
	})

	createTransferOrderHandler = createDocument(func(c *gin.Context, in models.NewTransferOrder) (*models.TransferOrder, error) {
		return models.CreateTransferOrder(c.Request.Context(), in)
	})
	getTransferOrderHandler = getDocument(func(c *gin.Context, id int) (*models.TransferOrder, error) {
		return models.GetTransferOrder(c.Request.Context(), id)
	})
	receiveTransferOrderHandler = documentAction(func(c *gin.Context, id int, at *time.Time) (*models.TransferOrder, *models.StockApplyReport, error) {
		return models.ReceiveTransferOrder(c.Request.Context(), id, at)
	})

	createProductTransformHandler = createDocument(func(c *gin.Context, in models.NewProductTransform) (*models.ProductTransform, error) {
		return models.CreateProductTransform(c.Request.Context(), in)
	})
	receiveProductTransformHandler = documentAction(func(c *gin.Context, id int, at *time.Time) (*models.ProductTransform, *models.StockApplyReport, error) {
		return models.ReceiveProductTransform(c.Request.Context(), id, at)
	})

	createStockAdjustmentHandler = createDocument(func(c *gin.Context, in models.NewStockAdjustment) (*models.StockAdjustment, error) {
		return models.CreateStockAdjustment(c.Request.Context(), in)
	})
	completeStockAdjustmentHandler = documentAction(func(c *gin.Context, id int, at *time.Time) (*models.StockAdjustment, *models.StockApplyReport, error) {
		return models.CompleteStockAdjustment(c.Request.Context(), id, at)
	})

	createInventoryCountHandler = createDocument(func(c *gin.Context, in models.NewInventoryCount) (*models.InventoryCount, error) {
		return models.CreateInventoryCount(c.Request.Context(), in)
	})
	getInventoryCountHandler = getDocument(func(c *gin.Context, id int) (*models.InventoryCount, error) {
		return models.GetInventoryCount(c.Request.Context(), id)
	})
	completeInventoryCountHandler = documentAction(func(c *gin.Context, id int, at *time.Time) (*models.InventoryCount, *models.StockApplyReport, error) {
		return models.CompleteInventoryCount(c.Request.Context(), id, at)
	})
)

type countLineRequest struct {
	Counted decimal.Decimal `json:"counted"`
}

func updateInventoryCountLineHandler(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	detailId, ok := intParam(c, "detailId")
	if !ok {
		return
	}
	var req countLineRequest
	if !bindJSON(c, &req, false) {
		return
	}
	if err := models.UpdateInventoryCountLine(c.Request.Context(), id, detailId, req.Counted); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// valuation

func valuationQuery(c *gin.Context) (models.ValuationReportQuery, bool) {
	q := models.ValuationReportQuery{LongForm: c.Query("long_form") == "true"}
	if raw := c.Query("date"); raw != "" {
		day, err := utils.ParseCalendarDate(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
			return q, false
		}
		q.Date = day
	} else {
		businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
		business, err := models.GetBusiness(c.Request.Context(), businessId)
		if err != nil {
			respondError(c, err)
			return q, false
		}
		day, err := utils.CalendarDate(time.Now(), business.Timezone)
		if err != nil {
			respondError(c, err)
			return q, false
		}
		q.Date = day
	}
	for _, raw := range splitAndTrim(c.Query("store_ids")) {
		id, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid store_ids"})
			return q, false
		}
		q.StoreIds = append(q.StoreIds, id)
	}
	return q, true
}

func valuationReportHandler(c *gin.Context) {
	q, ok := valuationQuery(c)
	if !ok {
		return
	}
	report, err := models.GetInventoryValuationReport(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func valuationReportXlsxHandler(c *gin.Context) {
	q, ok := valuationQuery(c)
	if !ok {
		return
	}
	report, err := models.GetInventoryValuationReport(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	filename := fmt.Sprintf("inventory-valuation-%s.xlsx", q.Date.Format(time.DateOnly))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	if err := models.WriteInventoryValuationXlsx(c.Writer, report); err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
	}
}

// ops

type recalculateRequest struct {
	StoreId   int                    `json:"store_id"`
	ProductId int                    `json:"product_id"`
	From      time.Time              `json:"from"`
	Direction models.RecalcDirection `json:"direction" validate:"omitempty,oneof=forward backward"`
}

func recalculateStockHandler(c *gin.Context) {
	var req recalculateRequest
	if !bindJSON(c, &req, true) {
		return
	}
	if err := utils.Validate(req); err != nil {
		respondError(c, err)
		return
	}
	results, err := models.RecalculateBusinessStock(c.Request.Context(), req.StoreId, req.ProductId, req.From, req.Direction)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func reconcileStockHandler(c *gin.Context) {
	results, err := models.ReconcileBusinessStock(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

type snapshotRequest struct {
	AsOf *time.Time `json:"as_of"`
}

func valuationSnapshotHandler(c *gin.Context) {
	var req snapshotRequest
	if !bindJSON(c, &req, true) {
		return
	}
	businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
	asOf := utils.DereferencePtr(req.AsOf, time.Now().UTC())
	result, err := models.CreateValuationSnapshots(c.Request.Context(), businessId, asOf)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func outboxReplayHandler(c *gin.Context) {
	businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
	n, err := workflow.ReplayDeadOutbox(c.Request.Context(), config.GetDB(), businessId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "replayed": n})
}
