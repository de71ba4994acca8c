package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestValuationScheduler_SnapshotsOncePerDay(t *testing.T) {
	db := openWorkflowDB(t)
	ctx := context.Background()
	business, err := models.CreateBusiness(ctx, "Corner Shop", "UTC")
	require.NoError(t, err)
	bizCtx := utils.SetBusinessIdInContext(ctx, business.ID.String())
	_, err = models.CreateStore(bizCtx, "Main", "")
	require.NoError(t, err)
	_, err = models.CreateProduct(bizCtx, models.NewProduct{Name: "Rice", Cost: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	now := time.Date(2026, time.March, 10, 18, 0, 0, 0, time.UTC)
	s := NewValuationScheduler(logrus.New())
	s.Now = func() time.Time { return now }

	created, err := s.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	created, err = s.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, created)

	now = now.Add(24 * time.Hour)
	created, err = s.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	var headers, lines int64
	require.NoError(t, db.Model(&models.InventoryValuation{}).Count(&headers).Error)
	require.NoError(t, db.Model(&models.InventoryValuationLine{}).Count(&lines).Error)
	require.EqualValues(t, 2, headers)
	require.EqualValues(t, 2, lines)
}
