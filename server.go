package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/middlewares"
	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// readinessGate answers /healthz and rejects app traffic until the database
// and Redis are connected.
func readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	// In production an explicit allowlist is required; otherwise allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			cfg.AllowOrigins = []string{}
		} else {
			cfg.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition")
	cfg.AllowCredentials = true
	return cfg
}

// newRouter builds the API without the readiness gate so tests can mount it
// over an in-memory database.
func newRouter(logger *logrus.Logger, gates ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(gates...)
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Use(cors.New(corsConfig()))
	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api", middlewares.SessionMiddleware(), middlewares.LoaderMiddleware())
	registerStockRoutes(api)

	ops := r.Group("/internal/ops", middlewares.SessionMiddleware(), middlewares.AdminOnly())
	registerOpsRoutes(ops)

	r.NoRoute(customNotFoundHandler)
	return r
}

func registerStockRoutes(api *gin.RouterGroup) {
	api.GET("/stores/:storeId/stock-levels", listStockLevelsHandler)
	api.GET("/stores/:storeId/stock-levels/:productId", getStockLevelHandler)
	api.PUT("/stock-levels", itemEditHandler)

	api.GET("/inventory-histories", listInventoryHistoriesHandler)
	api.DELETE("/inventory-histories/:id", deleteInventoryHistoryHandler)

	api.POST("/receipts", receiptStockHandler)

	api.POST("/purchase-orders", createPurchaseOrderHandler)
	api.GET("/purchase-orders/:id", getPurchaseOrderHandler)
	api.POST("/purchase-orders/:id/receive", receivePurchaseOrderHandler)

	api.POST("/transfer-orders", createTransferOrderHandler)
	api.GET("/transfer-orders/:id", getTransferOrderHandler)
	api.POST("/transfer-orders/:id/receive", receiveTransferOrderHandler)

	api.POST("/product-transforms", createProductTransformHandler)
	api.POST("/product-transforms/:id/receive", receiveProductTransformHandler)

	api.POST("/stock-adjustments", createStockAdjustmentHandler)
	api.POST("/stock-adjustments/:id/complete", completeStockAdjustmentHandler)

	api.POST("/inventory-counts", createInventoryCountHandler)
	api.GET("/inventory-counts/:id", getInventoryCountHandler)
	api.PUT("/inventory-counts/:id/lines/:detailId", updateInventoryCountLineHandler)
	api.POST("/inventory-counts/:id/complete", completeInventoryCountHandler)

	api.GET("/inventory-valuation", valuationReportHandler)
	api.GET("/inventory-valuation.xlsx", valuationReportXlsxHandler)
}

func registerOpsRoutes(ops *gin.RouterGroup) {
	ops.POST("/stock/recalculate", recalculateStockHandler)
	ops.POST("/stock/reconcile", reconcileStockHandler)
	ops.POST("/valuation/snapshot", valuationSnapshotHandler)
	ops.POST("/outbox/replay", outboxReplayHandler)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Open the port first; app endpoints return 503 until DB/Redis are ready.
	r := newRouter(logger, readinessGate())
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; allow running it as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	if config.StockOutboxEnabled() {
		go workflow.NewOutboxDispatcher(db, logger).Run(workerCtx)
	}
	if config.ValuationSchedulerEnabled() {
		go workflow.NewValuationScheduler(logger).Run(workerCtx)
	}

	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("stock service listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers before draining requests.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
