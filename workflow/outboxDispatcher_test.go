package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openWorkflowDB(t *testing.T) *gorm.DB {
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

func seedOutbox(t *testing.T, db *gorm.DB, businessId string, n int) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < n; i++ {
		require.NoError(t, db.Create(&models.StockOutboxRecord{
			BusinessId:    businessId,
			EventType:     config.StockEventLevelChanged,
			Payload:       []byte(fmt.Sprintf(`{"seq":%d}`, i)),
			PublishStatus: models.OutboxPublishStatusPending,
			NextAttemptAt: &past,
		}).Error)
	}
}

func outboxStatuses(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var records []models.StockOutboxRecord
	require.NoError(t, db.Order("id").Find(&records).Error)
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.PublishStatus)
	}
	return out
}

func TestOutboxDispatcher_PublishesPendingRecords(t *testing.T) {
	db := openWorkflowDB(t)
	seedOutbox(t, db, "biz-1", 2)

	var published []string
	d := NewOutboxDispatcher(db, logrus.New())
	d.Publish = func(_ context.Context, eventType string, businessId string, payload []byte) (string, error) {
		require.Equal(t, config.StockEventLevelChanged, eventType)
		require.Equal(t, "biz-1", businessId)
		published = append(published, string(payload))
		return fmt.Sprintf("msg-%d", len(published)), nil
	}

	require.Equal(t, 2, d.dispatchOnce(context.Background()))
	require.Equal(t, []string{`{"seq":0}`, `{"seq":1}`}, published)
	require.Equal(t, []string{models.OutboxPublishStatusSent, models.OutboxPublishStatusSent}, outboxStatuses(t, db))

	var first models.StockOutboxRecord
	require.NoError(t, db.Order("id").First(&first).Error)
	require.NotNil(t, first.PubSubMessageId)
	require.Equal(t, "msg-1", *first.PubSubMessageId)
	require.Equal(t, 1, first.PublishAttempts)
	require.Nil(t, first.LockedBy)

	require.Zero(t, d.dispatchOnce(context.Background()))
}

func TestOutboxDispatcher_BacksOffThenGoesDead(t *testing.T) {
	db := openWorkflowDB(t)
	seedOutbox(t, db, "biz-1", 1)

	d := NewOutboxDispatcher(db, logrus.New())
	d.MaxAttempts = 2
	d.Publish = func(context.Context, string, string, []byte) (string, error) {
		return "", errors.New("topic not found")
	}

	require.Equal(t, 1, d.dispatchOnce(context.Background()))
	var rec models.StockOutboxRecord
	require.NoError(t, db.First(&rec).Error)
	require.Equal(t, models.OutboxPublishStatusFailed, rec.PublishStatus)
	require.NotNil(t, rec.NextAttemptAt)
	require.True(t, rec.NextAttemptAt.After(time.Now().UTC()))
	require.Equal(t, "topic not found", *rec.LastPublishError)

	// not due yet
	require.Zero(t, d.dispatchOnce(context.Background()))

	past := time.Now().UTC().Add(-time.Second)
	require.NoError(t, db.Model(&models.StockOutboxRecord{}).Where("id = ?", rec.ID).Update("next_attempt_at", &past).Error)
	require.Equal(t, 1, d.dispatchOnce(context.Background()))
	require.Equal(t, []string{models.OutboxPublishStatusDead}, outboxStatuses(t, db))

	replayed, err := ReplayDeadOutbox(context.Background(), db, "biz-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, replayed)
	require.Equal(t, []string{models.OutboxPublishStatusPending}, outboxStatuses(t, db))
}

func TestOutboxDispatcher_Backoff(t *testing.T) {
	d := &OutboxDispatcher{InitialBackoff: 5 * time.Second, MaxBackoff: 30 * time.Second}
	require.Equal(t, 5*time.Second, d.backoff(1))
	require.Equal(t, 10*time.Second, d.backoff(2))
	require.Equal(t, 20*time.Second, d.backoff(3))
	require.Equal(t, 30*time.Second, d.backoff(4))
	require.Equal(t, 30*time.Second, d.backoff(10))
}

func TestOutboxDispatcher_PublishesLedgerEvents(t *testing.T) {
	db := openWorkflowDB(t)
	ctx := context.Background()
	business, err := models.CreateBusiness(ctx, "Corner Shop", "UTC")
	require.NoError(t, err)
	ctx = utils.SetBusinessIdInContext(ctx, business.ID.String())
	store, err := models.CreateStore(ctx, "Main", "store-ext-1")
	require.NoError(t, err)
	product, err := models.CreateProduct(ctx, models.NewProduct{Name: "Rice", Price: decimal.NewFromInt(1250)})
	require.NoError(t, err)

	res := models.UpdateStockLevel(ctx, models.StockLevelUpdate{
		StoreId:       store.ID,
		ProductId:     product.ID,
		Reason:        models.InventoryReasonReceive,
		LineSourceRef: "opening",
		Adjustment:    decimal.NewFromInt(3),
		Mode:          models.StockModeAdd,
	})
	require.NoError(t, res.Err)

	var events []string
	d := NewOutboxDispatcher(db, logrus.New())
	d.Publish = func(_ context.Context, eventType string, _ string, payload []byte) (string, error) {
		events = append(events, eventType)
		require.Contains(t, string(payload), `"external_store_id":"store-ext-1"`)
		return "msg", nil
	}
	require.Equal(t, 1, d.dispatchOnce(ctx))
	require.Equal(t, []string{config.StockEventLevelChanged}, events)
}
