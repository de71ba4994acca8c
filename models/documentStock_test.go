package models_test

import (
	"testing"

	"github.com/mmdatafocus/stock_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestWeightedAverageCost(t *testing.T) {
	requireDecimal(t, "922.73", models.WeightedAverageCost(d("100"), d("1000"), d("10"), d("150")))
	requireDecimal(t, "923.64", models.WeightedAverageCost(d("100"), d("1000"), d("10"), d("160")))
	// negative stock on hand does not drag the cost
	requireDecimal(t, "150", models.WeightedAverageCost(d("-5"), d("1000"), d("10"), d("150")))
	requireDecimal(t, "1000", models.WeightedAverageCost(d("100"), d("1000"), d("0"), d("150")))
	requireDecimal(t, "150", models.WeightedAverageCost(d("0"), d("0"), d("4"), d("150")))
}

func TestReceivePurchaseOrder_BlendsCostOnce(t *testing.T) {
	f := newLedgerFixture(t)
	f.write(t, "opening", models.StockModeAdd, 100, eventAt(1, 9))

	order, err := models.CreatePurchaseOrder(f.ctx, models.NewPurchaseOrder{
		StoreId:     f.store.ID,
		OrderNumber: "PO-0001",
		Details: []models.NewPurchaseOrderDetail{
			{ProductId: f.product.ID, Units: d("10"), PurchaseCost: d("150")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, models.DocumentStatusPending, order.Status)

	receivedAt := eventAt(2, 9)
	received, report, err := models.ReceivePurchaseOrder(f.ctx, order.ID, &receivedAt)
	require.NoError(t, err)
	require.Equal(t, models.DocumentStatusReceived, received.Status)
	require.True(t, received.OrderCompleted)
	require.Equal(t, 1, report.Applied)
	require.Zero(t, report.Failed)

	product, err := models.GetProduct(f.ctx, f.product.ID)
	require.NoError(t, err)
	requireDecimal(t, "922.73", product.Cost)
	requireDecimal(t, "110", f.units(t, f.store.ID, f.product.ID))

	again, report, err := models.ReceivePurchaseOrder(f.ctx, order.ID, &receivedAt)
	require.NoError(t, err)
	require.Nil(t, report)
	require.True(t, again.OrderCompleted)
	requireDecimal(t, "110", f.units(t, f.store.ID, f.product.ID))

	product, err = models.GetProduct(f.ctx, f.product.ID)
	require.NoError(t, err)
	requireDecimal(t, "922.73", product.Cost)
}

func TestReceiveTransferOrder_MovesStockBetweenStores(t *testing.T) {
	f := newLedgerFixture(t)
	branch, err := models.CreateStore(f.ctx, "Branch", "store-ext-2")
	require.NoError(t, err)
	f.write(t, "opening", models.StockModeAdd, 10, eventAt(1, 9))

	_, err = models.CreateTransferOrder(f.ctx, models.NewTransferOrder{
		OrderNumber:        "TO-bad",
		SourceStoreId:      f.store.ID,
		DestinationStoreId: f.store.ID,
		Details:            []models.NewTransferOrderDetail{{ProductId: f.product.ID, Units: d("1")}},
	})
	require.ErrorIs(t, err, models.ErrSameStore)

	order, err := models.CreateTransferOrder(f.ctx, models.NewTransferOrder{
		OrderNumber:        "TO-0001",
		SourceStoreId:      f.store.ID,
		DestinationStoreId: branch.ID,
		Details:            []models.NewTransferOrderDetail{{ProductId: f.product.ID, Units: d("4")}},
	})
	require.NoError(t, err)

	receivedAt := eventAt(2, 9)
	_, report, err := models.ReceiveTransferOrder(f.ctx, order.ID, &receivedAt)
	require.NoError(t, err)
	require.Equal(t, 2, report.Applied)

	requireDecimal(t, "6", f.units(t, f.store.ID, f.product.ID))
	requireDecimal(t, "4", f.units(t, branch.ID, f.product.ID))

	_, report, err = models.ReceiveTransferOrder(f.ctx, order.ID, &receivedAt)
	require.NoError(t, err)
	require.Nil(t, report)
	requireDecimal(t, "6", f.units(t, f.store.ID, f.product.ID))
	requireDecimal(t, "4", f.units(t, branch.ID, f.product.ID))

	var entries []models.InventoryHistory
	require.NoError(t, f.db.Where("change_source_ref = ?", "TO-0001").Order("line_source_ref").Find(&entries).Error)
	require.Len(t, entries, 2)
	requireDecimal(t, "4", entries[0].Adjustment)
	requireDecimal(t, "-4", entries[1].Adjustment)
}

func TestReceiveProductTransform_SpreadsSourceCost(t *testing.T) {
	f := newLedgerFixture(t)
	carton, err := models.CreateProduct(f.ctx, models.NewProduct{Name: "Noodles carton", Cost: d("2400"), Price: d("3000")})
	require.NoError(t, err)
	single, err := models.CreateProduct(f.ctx, models.NewProduct{Name: "Noodles", Price: d("150")})
	require.NoError(t, err)
	f.writeFor(t, f.store.ID, carton.ID, "opening", models.StockModeAdd, 3, eventAt(1, 9))

	transform, err := models.CreateProductTransform(f.ctx, models.NewProductTransform{
		StoreId:     f.store.ID,
		ReferenceNo: "PT-0001",
		Details: []models.NewProductTransformDetail{
			{SourceProductId: carton.ID, SourceUnits: d("2"), TargetProductId: single.ID, Quantity: d("24")},
		},
	})
	require.NoError(t, err)

	receivedAt := eventAt(2, 9)
	received, report, err := models.ReceiveProductTransform(f.ctx, transform.ID, &receivedAt)
	require.NoError(t, err)
	require.Equal(t, 2, report.Applied)
	requireDecimal(t, "48", received.Details[0].TargetUnits)
	requireDecimal(t, "100", received.Details[0].TargetCost)

	requireDecimal(t, "1", f.units(t, f.store.ID, carton.ID))
	requireDecimal(t, "48", f.units(t, f.store.ID, single.ID))

	product, err := models.GetProduct(f.ctx, single.ID)
	require.NoError(t, err)
	requireDecimal(t, "100", product.Cost)
}

func TestCompleteStockAdjustment_Damage(t *testing.T) {
	f := newLedgerFixture(t)
	f.write(t, "opening", models.StockModeAdd, 10, eventAt(1, 9))

	adjustment, err := models.CreateStockAdjustment(f.ctx, models.NewStockAdjustment{
		StoreId:     f.store.ID,
		ReferenceNo: "SA-0001",
		Reason:      models.InventoryReasonDamage,
		Details:     []models.NewStockAdjustmentDetail{{ProductId: f.product.ID, Units: d("2")}},
	})
	require.NoError(t, err)

	completedAt := eventAt(2, 9)
	completed, report, err := models.CompleteStockAdjustment(f.ctx, adjustment.ID, &completedAt)
	require.NoError(t, err)
	require.Equal(t, models.DocumentStatusCompleted, completed.Status)
	require.Equal(t, 1, report.Applied)
	requireDecimal(t, "8", f.units(t, f.store.ID, f.product.ID))

	var entry models.InventoryHistory
	require.NoError(t, f.db.Where("change_source_ref = ?", "SA-0001").Take(&entry).Error)
	require.Equal(t, models.InventoryReasonDamage, entry.Reason)
	requireDecimal(t, "-2", entry.Adjustment)

	_, err = models.CreateStockAdjustment(f.ctx, models.NewStockAdjustment{
		StoreId:     f.store.ID,
		ReferenceNo: "SA-0002",
		Reason:      models.InventoryReasonSale,
		Details:     []models.NewStockAdjustmentDetail{{ProductId: f.product.ID, Units: d("1")}},
	})
	require.Error(t, err)
}

func TestCompleteInventoryCount_OverwritesWithCountedStock(t *testing.T) {
	f := newLedgerFixture(t)
	sugar, err := models.CreateProduct(f.ctx, models.NewProduct{Name: "Sugar", Cost: d("1200"), Price: d("1500")})
	require.NoError(t, err)
	f.write(t, "rice-opening", models.StockModeAdd, 100, eventAt(1, 9))
	f.writeFor(t, f.store.ID, sugar.ID, "sugar-opening", models.StockModeAdd, 155, eventAt(1, 9))

	count, err := models.CreateInventoryCount(f.ctx, models.NewInventoryCount{
		StoreId:     f.store.ID,
		ReferenceNo: "IC-0001",
		Details: []models.NewInventoryCountDetail{
			{ProductId: f.product.ID, CountedStock: d("77")},
			{ProductId: sugar.ID},
		},
	})
	require.NoError(t, err)
	requireDecimal(t, "100", count.Details[0].ExpectedStock)
	requireDecimal(t, "155", count.Details[1].ExpectedStock)

	require.NoError(t, models.UpdateInventoryCountLine(f.ctx, count.ID, count.Details[1].ID, d("160")))

	completedAt := eventAt(2, 9)
	completed, report, err := models.CompleteInventoryCount(f.ctx, count.ID, &completedAt)
	require.NoError(t, err)
	require.Equal(t, 2, report.Applied)

	requireDecimal(t, "-23", completed.Details[0].Difference)
	requireDecimal(t, "-23000", completed.Details[0].CostDifference)
	requireDecimal(t, "5", completed.Details[1].Difference)
	requireDecimal(t, "6000", completed.Details[1].CostDifference)

	requireDecimal(t, "77", f.units(t, f.store.ID, f.product.ID))
	requireDecimal(t, "160", f.units(t, f.store.ID, sugar.ID))

	stored, err := models.GetInventoryCount(f.ctx, count.ID)
	require.NoError(t, err)
	requireDecimal(t, "-23000", stored.Details[0].CostDifference)

	require.ErrorIs(t, models.UpdateInventoryCountLine(f.ctx, count.ID, count.Details[1].ID, d("1")), models.ErrDocumentCompleted)

	_, report, err = models.CompleteInventoryCount(f.ctx, count.ID, &completedAt)
	require.NoError(t, err)
	require.Nil(t, report)
}
