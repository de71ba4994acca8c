package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("stock-ledger")

type StockMode string

const (
	StockModeAdd       StockMode = "add"
	StockModeSubtract  StockMode = "subtract"
	StockModeOverwrite StockMode = "overwrite"
)

// StockLevelUpdate is one ledger write. Adjustment is unsigned for Add and
// Subtract and is the target balance for Overwrite.
type StockLevelUpdate struct {
	StoreId          int             `json:"store_id" validate:"required"`
	ProductId        int             `json:"product_id" validate:"required"`
	Reason           InventoryReason `json:"reason" validate:"required"`
	ChangeSourceRef  string          `json:"change_source_ref"`
	ChangeSourceName string          `json:"change_source_name"`
	LineSourceRef    string          `json:"line_source_ref"`
	Adjustment       decimal.Decimal `json:"adjustment"`
	Mode             StockMode       `json:"mode" validate:"required"`
	EventTime        *time.Time      `json:"event_time"`
}

// StockUpdateResult reports the outcome of UpdateStockLevel. Duplicate writes
// are not errors. Err is set for every other failure and has already been logged.
type StockUpdateResult struct {
	Applied      bool              `json:"applied"`
	Duplicate    bool              `json:"duplicate"`
	Recalculated bool              `json:"recalculated"`
	Entry        *InventoryHistory `json:"entry,omitempty"`
	Level        *StockLevel       `json:"level,omitempty"`
	Err          error             `json:"-"`
}

func (in StockLevelUpdate) validate() error {
	if in.LineSourceRef == "" {
		return ErrLineSourceRequired
	}
	if !in.Reason.IsValid() {
		return fmt.Errorf("invalid inventory reason %q", in.Reason)
	}
	switch in.Mode {
	case StockModeAdd, StockModeSubtract:
		if in.Adjustment.IsNegative() {
			return ErrNegativeAdjustment
		}
	case StockModeOverwrite:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStockMode, in.Mode)
	}
	return utils.Validate(in)
}

// apply returns the new balance and the signed ledger delta.
func (in StockLevelUpdate) apply(previous decimal.Decimal) (units decimal.Decimal, delta decimal.Decimal) {
	switch in.Mode {
	case StockModeAdd:
		return previous.Add(in.Adjustment), in.Adjustment
	case StockModeSubtract:
		return previous.Sub(in.Adjustment), in.Adjustment.Neg()
	default:
		return in.Adjustment, in.Adjustment.Sub(previous)
	}
}

func (in StockLevelUpdate) logData(ctx context.Context) map[string]interface{} {
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	return map[string]interface{}{
		"user_id":           userId,
		"user_name":         userName,
		"business_id":       businessId,
		"store_id":          in.StoreId,
		"product_id":        in.ProductId,
		"reason":            in.Reason,
		"change_source_ref": in.ChangeSourceRef,
		"line_source_ref":   in.LineSourceRef,
		"adjustment":        in.Adjustment.String(),
		"mode":              in.Mode,
	}
}

// UpdateStockLevel applies one ledger write: it moves the live level, appends
// the history entry, patches the day's valuation line, rebuilds later entries
// when the event is backdated and queues the sync and low-stock events.
// Everything happens in one transaction under the key lock.
//
// The write is best-effort relative to the caller: failures are logged and
// returned in the result, never panicked, and the caller's own committed
// work is untouched. A repeated LineSourceRef is a silent no-op.
func UpdateStockLevel(ctx context.Context, input StockLevelUpdate) (result StockUpdateResult) {
	ctx, span := tracer.Start(ctx, "UpdateStockLevel")
	defer span.End()
	span.SetAttributes(
		attribute.Int("store_id", input.StoreId),
		attribute.Int("product_id", input.ProductId),
		attribute.String("line_source_ref", input.LineSourceRef),
	)

	logger := config.GetLogger()
	defer func() {
		if r := recover(); r != nil {
			result = StockUpdateResult{Err: fmt.Errorf("stock update panic: %v", r)}
		}
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
			config.LogError(logger, "StockLevel", "UpdateStockLevel", "stock update failed", input.logData(ctx), result.Err)
		}
	}()

	businessId, err := businessIdFrom(ctx)
	if err != nil {
		result.Err = err
		return
	}
	if err := input.validate(); err != nil {
		result.Err = err
		return
	}
	key := StockKey{BusinessId: businessId, StoreId: input.StoreId, ProductId: input.ProductId}

	release, err := utils.ObtainKeyLock(ctx, key.LockKey(), config.StockLockTTL())
	if err != nil {
		result.Err = err
		return
	}
	defer release()

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = applyStockUpdate(ctx, tx, key, input)
		return txErr
	})
	if err != nil {
		if utils.IsDuplicateKeyErr(err) {
			// lost a race with a concurrent writer of the same line
			result = StockUpdateResult{Duplicate: true}
		} else {
			result = StockUpdateResult{Err: err}
			return
		}
	}

	if result.Duplicate {
		logger.WithFields(logrus.Fields{
			"business_id":     businessId,
			"line_source_ref": input.LineSourceRef,
		}).Info("stock.update.duplicate")
		return
	}

	invalidateStockLevelCache(key)
	if config.DebugStockLedger() {
		logger.WithFields(logrus.Fields{
			"key":          key.String(),
			"reason":       input.Reason,
			"adjustment":   result.Entry.Adjustment.String(),
			"stock_after":  result.Entry.StockAfter.String(),
			"units":        result.Level.Units.String(),
			"recalculated": result.Recalculated,
		}).Info("stock.update.applied")
	}
	return
}

func applyStockUpdate(ctx context.Context, tx *gorm.DB, key StockKey, input StockLevelUpdate) (StockUpdateResult, error) {
	var result StockUpdateResult

	exists, err := lineSourceRefExists(tx, input.LineSourceRef)
	if err != nil {
		return result, err
	}
	if exists {
		result.Duplicate = true
		return result, nil
	}

	level, err := lockStockLevel(tx, key)
	if err != nil {
		return result, err
	}
	product, err := getProduct(tx, key.BusinessId, key.ProductId)
	if err != nil {
		return result, err
	}
	store, err := getStore(tx, key.BusinessId, key.StoreId)
	if err != nil {
		return result, err
	}
	business, err := getBusiness(tx, key.BusinessId)
	if err != nil {
		return result, err
	}

	eventTime := time.Now().UTC()
	if input.EventTime != nil && !input.EventTime.IsZero() {
		eventTime = input.EventTime.UTC()
	}
	eventTime = eventTime.Truncate(time.Microsecond)

	// A backdated write applies against the balance at its event time; the
	// same delta then carries through every later entry and the live level.
	next, err := entryAfter(tx, key, eventTime, math.MaxInt)
	if err != nil {
		return result, err
	}
	balance := level.Units
	if next != nil {
		if balance, err = balanceAt(tx, key, eventTime, next); err != nil {
			return result, err
		}
	}
	stockAfter, delta := input.apply(balance)
	units := level.Units.Add(delta)

	previousStatus, err := saveStockLevelUnits(tx, level, units, utils.DereferencePtr(product.TrackStock, true), input.LineSourceRef)
	if err != nil {
		return result, err
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if previousStatus == StockStatusInStock && level.Status == StockStatusLowStock {
		if err := enqueueLowStock(tx, key, store, product, level, correlationId); err != nil {
			return result, err
		}
	}

	day, err := utils.CalendarDate(eventTime, business.Timezone)
	if err != nil {
		return result, err
	}
	if _, err := UpdateValuationLineUnits(tx, key, day, stockAfter); err != nil {
		return result, err
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	entry := InventoryHistory{
		BusinessId:       key.BusinessId,
		StoreId:          key.StoreId,
		ProductId:        key.ProductId,
		Reason:           input.Reason,
		ChangeSourceRef:  input.ChangeSourceRef,
		ChangeSourceName: input.ChangeSourceName,
		LineSourceRef:    input.LineSourceRef,
		Adjustment:       delta,
		StockAfter:       stockAfter,
		UserId:           userId,
		UserName:         userName,
		CreatedAt:        eventTime,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return result, err
	}

	if next == nil {
		// newest entry: every later snapshot day ends on this balance
		if _, err := patchValuationLines(tx, key, day.AddDate(0, 0, 1), business.Timezone, []InventoryHistory{entry}); err != nil {
			return result, err
		}
	} else {
		recalc := RecalculateInput{
			Key:       key,
			From:      entry.CreatedAt,
			FromId:    entry.ID,
			Direction: RecalcForward,
		}
		previous, err := entryBefore(tx, key, entry.CreatedAt, entry.ID)
		if err != nil {
			return result, err
		}
		if previous == nil {
			// earliest entry of the key: open from the balance the next entry started at
			opening := next.PreAdjustmentBalance()
			recalc.Seed = &opening
		}
		recalcResult, err := RecalculateInventoryHistory(tx, recalc)
		if err != nil {
			return result, err
		}
		result.Recalculated = true
		if err := tx.Where("id = ?", entry.ID).Take(&entry).Error; err != nil {
			return result, err
		}
		if recalcResult.LevelFixed {
			if level, err = lockStockLevel(tx, key); err != nil {
				return result, err
			}
		}
	}

	if err := enqueueStockLevelChanged(tx, key, store, product, level, &entry, correlationId); err != nil {
		return result, err
	}

	result.Applied = true
	result.Entry = &entry
	result.Level = level
	return result, nil
}

// balanceAt is the ledger balance at t, just before a write placed after
// every entry at t. next is the first entry after t.
func balanceAt(tx *gorm.DB, key StockKey, t time.Time, next *InventoryHistory) (decimal.Decimal, error) {
	previous, err := entryBefore(tx, key, t, math.MaxInt)
	if err != nil {
		return decimal.Zero, err
	}
	if previous != nil {
		return previous.StockAfter, nil
	}
	return next.PreAdjustmentBalance(), nil
}

type ItemEditInput struct {
	StoreId           int             `json:"store_id" validate:"required"`
	ProductId         int             `json:"product_id" validate:"required"`
	Units             decimal.Decimal `json:"units"`
	MinimumStockLevel *int            `json:"minimum_stock_level" validate:"omitempty,min=0"`
}

// PerformItemEdit is the manual correction from inventory management: it
// optionally moves the minimum stock level and overwrites the balance.
func PerformItemEdit(ctx context.Context, input ItemEditInput) StockUpdateResult {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return StockUpdateResult{Err: err}
	}
	if err := utils.Validate(input); err != nil {
		return StockUpdateResult{Err: err}
	}
	if input.MinimumStockLevel != nil {
		err := config.GetDB().WithContext(ctx).Model(&StockLevel{}).
			Where("business_id = ? AND store_id = ? AND product_id = ?", businessId, input.StoreId, input.ProductId).
			Update("minimum_stock_level", *input.MinimumStockLevel).Error
		if err != nil {
			config.LogError(config.GetLogger(), "StockLevel", "PerformItemEdit", "update minimum stock level", input, err)
			return StockUpdateResult{Err: err}
		}
	}
	ref := uuid.NewString()
	return UpdateStockLevel(ctx, StockLevelUpdate{
		StoreId:          input.StoreId,
		ProductId:        input.ProductId,
		Reason:           InventoryReasonItemEdit,
		ChangeSourceRef:  ref,
		ChangeSourceName: "Manual edit",
		LineSourceRef:    "edit:" + ref,
		Adjustment:       input.Units,
		Mode:             StockModeOverwrite,
	})
}

type ReceiptStockLine struct {
	LineRef   string          `json:"line_ref" validate:"required"`
	ProductId int             `json:"product_id" validate:"required"`
	Units     decimal.Decimal `json:"units"`
}

// ReceiptStockInput is a completed POS receipt. Refund receipts put stock back.
type ReceiptStockInput struct {
	ReceiptRef string             `json:"receipt_ref" validate:"required"`
	StoreId    int                `json:"store_id" validate:"required"`
	IsRefund   bool               `json:"is_refund"`
	SoldAt     *time.Time         `json:"sold_at"`
	Lines      []ReceiptStockLine `json:"lines" validate:"required,min=1,dive"`
}

func RecordReceiptStock(ctx context.Context, input ReceiptStockInput) (*StockApplyReport, error) {
	if err := utils.Validate(input); err != nil {
		return nil, err
	}
	reason, mode, name := InventoryReasonSale, StockModeSubtract, "Receipt "+input.ReceiptRef
	if input.IsRefund {
		reason, mode, name = InventoryReasonRefund, StockModeAdd, "Refund "+input.ReceiptRef
	}
	report := &StockApplyReport{}
	for _, line := range input.Lines {
		report.add(UpdateStockLevel(ctx, StockLevelUpdate{
			StoreId:          input.StoreId,
			ProductId:        line.ProductId,
			Reason:           reason,
			ChangeSourceRef:  input.ReceiptRef,
			ChangeSourceName: name,
			LineSourceRef:    fmt.Sprintf("receipt:%s:%s", input.ReceiptRef, line.LineRef),
			Adjustment:       line.Units,
			Mode:             mode,
			EventTime:        input.SoldAt,
		}))
	}
	return report, nil
}

// DeleteInventoryHistory removes one ledger entry, takes its adjustment back
// out of the live level and rebuilds the later entries from the live level.
func DeleteInventoryHistory(ctx context.Context, id int) (*RecalculateResult, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	var entry InventoryHistory
	if err := config.GetDB().WithContext(ctx).Where("business_id = ? AND id = ?", businessId, id).Take(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	key := StockKey{BusinessId: businessId, StoreId: entry.StoreId, ProductId: entry.ProductId}

	release, err := utils.ObtainKeyLock(ctx, key.LockKey(), config.StockLockTTL())
	if err != nil {
		return nil, err
	}
	defer release()

	var result *RecalculateResult
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		level, err := lockStockLevel(tx, key)
		if err != nil {
			return err
		}
		product, err := getProduct(tx, businessId, key.ProductId)
		if err != nil {
			return err
		}
		res := tx.Where("id = ?", entry.ID).Delete(&InventoryHistory{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		compensated := level.Units.Sub(entry.Adjustment)
		if _, err := saveStockLevelUnits(tx, level, compensated, utils.DereferencePtr(product.TrackStock, true), ""); err != nil {
			return err
		}
		result, err = RecalculateInventoryHistory(tx, RecalculateInput{
			Key:       key,
			From:      entry.CreatedAt,
			FromId:    entry.ID,
			Direction: RecalcBackward,
		})
		return err
	})
	if err != nil {
		config.LogError(config.GetLogger(), "InventoryHistory", "DeleteInventoryHistory", "delete entry", entry, err)
		return nil, err
	}
	invalidateStockLevelCache(key)
	return result, nil
}
