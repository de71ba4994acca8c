package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type RecalcDirection string

const (
	RecalcForward  RecalcDirection = "forward"
	RecalcBackward RecalcDirection = "backward"
)

// RecalculateInput selects the part of a key's ledger to rebuild.
// From/FromId is the first entry whose stock_after may be wrong; FromId 0
// includes every entry at From.
//
// Forward seeds from the entry just before the start (or Seed) and adds
// adjustments moving forward. Backward seeds the newest entry from the live
// stock level (or Seed) and subtracts adjustments moving back.
type RecalculateInput struct {
	Key       StockKey
	From      time.Time
	FromId    int
	Direction RecalcDirection
	Seed      *decimal.Decimal
}

type RecalculateResult struct {
	Key            StockKey         `json:"key"`
	Direction      RecalcDirection  `json:"direction"`
	EntriesScanned int              `json:"entries_scanned"`
	EntriesChanged int              `json:"entries_changed"`
	LinesPatched   int              `json:"lines_patched"`
	FirstDay       time.Time        `json:"first_day"`
	Tail           *decimal.Decimal `json:"tail,omitempty"`
	LevelFixed     bool             `json:"level_fixed"`
}

// RecalculateInventoryHistory rebuilds stock_after for the selected entries,
// patches every valuation line of the key from the first affected day on and,
// going forward, rewrites the live level from the ledger tail.
// The caller holds the key lock and owns tx.
func RecalculateInventoryHistory(tx *gorm.DB, input RecalculateInput) (*RecalculateResult, error) {
	if input.From.IsZero() {
		return nil, ErrInvalidRecalcAnchor
	}
	if input.Direction == "" {
		input.Direction = RecalcForward
	}
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := tracer.Start(ctx, "RecalculateInventoryHistory")
	defer span.End()

	key := input.Key
	from := input.From.UTC()
	result := &RecalculateResult{Key: key, Direction: input.Direction}

	anchor, err := entryBefore(tx, key, from, input.FromId)
	if err != nil {
		return nil, err
	}

	var timeline []InventoryHistory
	var changed []InventoryHistory

	switch input.Direction {
	case RecalcForward:
		entries, err := entriesFrom(tx, key, from, input.FromId, false)
		if err != nil {
			return nil, err
		}
		running := decimal.Zero
		switch {
		case input.Seed != nil:
			running = *input.Seed
		case anchor != nil:
			running = anchor.StockAfter
		case len(entries) > 0:
			running = entries[0].PreAdjustmentBalance()
		}
		for i := range entries {
			running = running.Add(entries[i].Adjustment)
			if !running.Equal(entries[i].StockAfter) {
				entries[i].StockAfter = running
				changed = append(changed, entries[i])
			}
		}
		result.EntriesScanned = len(entries)
		timeline = entries

	case RecalcBackward:
		entries, err := entriesFrom(tx, key, from, input.FromId, true)
		if err != nil {
			return nil, err
		}
		var running decimal.Decimal
		if input.Seed != nil {
			running = *input.Seed
		} else {
			level, err := lockStockLevel(tx, key)
			if err != nil {
				return nil, err
			}
			running = level.Units
		}
		for i := range entries {
			if !running.Equal(entries[i].StockAfter) {
				entries[i].StockAfter = running
				changed = append(changed, entries[i])
			}
			running = running.Sub(entries[i].Adjustment)
		}
		result.EntriesScanned = len(entries)
		// back to ledger order for the day lookups
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
		timeline = entries

	default:
		return nil, fmt.Errorf("unknown recalculation direction %q", input.Direction)
	}

	for _, e := range changed {
		if err := tx.Model(&InventoryHistory{}).Where("id = ?", e.ID).Update("stock_after", e.StockAfter).Error; err != nil {
			return nil, err
		}
	}
	result.EntriesChanged = len(changed)

	if anchor != nil {
		timeline = append([]InventoryHistory{*anchor}, timeline...)
	}
	if len(timeline) > 0 {
		tail := timeline[len(timeline)-1].StockAfter
		result.Tail = &tail
	}

	business, err := getBusiness(tx, key.BusinessId)
	if err != nil {
		return nil, err
	}
	result.FirstDay, err = utils.CalendarDate(from, business.Timezone)
	if err != nil {
		return nil, err
	}

	if input.Direction == RecalcForward && result.Tail != nil {
		fixed, err := reconcileLevelToTail(tx, key, *result.Tail)
		if err != nil {
			return nil, err
		}
		result.LevelFixed = fixed
	}

	result.LinesPatched, err = patchValuationLines(tx, key, result.FirstDay, business.Timezone, timeline)
	if err != nil {
		return nil, err
	}

	if config.DebugStockLedger() {
		config.GetLogger().WithFields(logrus.Fields{
			"key":             key.String(),
			"direction":       input.Direction,
			"from":            from,
			"entries_scanned": result.EntriesScanned,
			"entries_changed": result.EntriesChanged,
			"lines_patched":   result.LinesPatched,
		}).Info("stock.recalc.done")
	}
	return result, nil
}

// unitsAsOfDay is the balance at the end of day: the last entry before the
// day ends, else the opening balance of the earliest known entry, else live.
func unitsAsOfDay(timeline []InventoryHistory, dayEnd time.Time, live decimal.Decimal) decimal.Decimal {
	idx := sort.Search(len(timeline), func(i int) bool {
		return !timeline[i].CreatedAt.Before(dayEnd)
	})
	if idx > 0 {
		return timeline[idx-1].StockAfter
	}
	if len(timeline) > 0 {
		return timeline[0].PreAdjustmentBalance()
	}
	return live
}

func patchValuationLines(tx *gorm.DB, key StockKey, firstDay time.Time, timezone string, timeline []InventoryHistory) (int, error) {
	live := decimal.Zero
	if len(timeline) == 0 {
		level, err := lockStockLevel(tx, key)
		if err != nil {
			return 0, err
		}
		live = level.Units
	}

	patched := 0
	var batch []InventoryValuationLine
	res := tx.Where("business_id = ? AND store_id = ? AND product_id = ? AND valuation_date >= ?",
		key.BusinessId, key.StoreId, key.ProductId, firstDay).
		FindInBatches(&batch, config.RecalcBatchSize(), func(_ *gorm.DB, _ int) error {
			for i := range batch {
				dayEnd, err := utils.EndOfCalendarDay(batch[i].ValuationDate, timezone)
				if err != nil {
					return err
				}
				units := unitsAsOfDay(timeline, dayEnd, live)
				if units.Equal(batch[i].Units) {
					continue
				}
				batch[i].recompute(units)
				if err := tx.Model(&InventoryValuationLine{}).Where("id = ?", batch[i].ID).
					Updates(batch[i].derivedFields()).Error; err != nil {
					return err
				}
				patched++
			}
			return nil
		})
	return patched, res.Error
}

// reconcileLevelToTail makes the live level agree with the ledger tail.
func reconcileLevelToTail(tx *gorm.DB, key StockKey, tail decimal.Decimal) (bool, error) {
	level, err := lockStockLevel(tx, key)
	if err != nil {
		return false, err
	}
	if level.Units.Equal(tail) {
		return false, nil
	}
	product, err := getProduct(tx, key.BusinessId, key.ProductId)
	if err != nil {
		return false, err
	}
	before := level.Units
	if _, err := saveStockLevelUnits(tx, level, tail, utils.DereferencePtr(product.TrackStock, true), ""); err != nil {
		return false, err
	}
	config.GetLogger().WithFields(logrus.Fields{
		"key":    key.String(),
		"before": before.String(),
		"after":  tail.String(),
	}).Warn("stock.level.reconciled")
	return true, nil
}

// RecalculateStockFrom runs a recalculation for one key under its lock.
// A zero from starts at the earliest entry of the key.
func RecalculateStockFrom(ctx context.Context, key StockKey, from time.Time, direction RecalcDirection) (*RecalculateResult, error) {
	release, err := utils.ObtainKeyLock(ctx, key.LockKey(), config.StockLockTTL())
	if err != nil {
		return nil, err
	}
	defer release()

	result := &RecalculateResult{Key: key, Direction: direction}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if from.IsZero() {
			first, err := earliestEntry(tx, key)
			if err != nil || first == nil {
				return err
			}
			from = first.CreatedAt
		}
		var err error
		result, err = RecalculateInventoryHistory(tx, RecalculateInput{
			Key:       key,
			From:      from,
			Direction: direction,
		})
		return err
	})
	if err != nil {
		config.LogError(config.GetLogger(), "InventoryHistory", "RecalculateStockFrom", "recalculate", key, err)
		return nil, err
	}
	invalidateStockLevelCache(key)
	return result, nil
}

// RecalculateBusinessStock recalculates every key of the business (optionally
// narrowed to a store or product) one key per transaction.
func RecalculateBusinessStock(ctx context.Context, storeId int, productId int, from time.Time, direction RecalcDirection) ([]RecalculateResult, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := listStockKeys(config.GetDB().WithContext(ctx), businessId, storeId, productId)
	if err != nil {
		return nil, err
	}
	results := make([]RecalculateResult, 0, len(keys))
	for _, key := range keys {
		res, err := RecalculateStockFrom(ctx, key, from, direction)
		if err != nil {
			return results, fmt.Errorf("recalculate %s: %w", key, err)
		}
		results = append(results, *res)
	}
	return results, nil
}

type ReconcileResult struct {
	Key     StockKey        `json:"key"`
	Before  decimal.Decimal `json:"before"`
	After   decimal.Decimal `json:"after"`
	Changed bool            `json:"changed"`
}

// ReconcileStockLevel rewrites the live level from the ledger tail when they
// diverge. Keys without ledger entries are left alone.
func ReconcileStockLevel(ctx context.Context, key StockKey) (*ReconcileResult, error) {
	release, err := utils.ObtainKeyLock(ctx, key.LockKey(), config.StockLockTTL())
	if err != nil {
		return nil, err
	}
	defer release()

	result := &ReconcileResult{Key: key}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		level, err := lockStockLevel(tx, key)
		if err != nil {
			return err
		}
		result.Before = level.Units
		result.After = level.Units
		tail, err := latestEntry(tx, key)
		if err != nil || tail == nil {
			return err
		}
		result.Changed, err = reconcileLevelToTail(tx, key, tail.StockAfter)
		result.After = tail.StockAfter
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.Changed {
		invalidateStockLevelCache(key)
	}
	return result, nil
}

func ReconcileBusinessStock(ctx context.Context) ([]ReconcileResult, error) {
	businessId, err := businessIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := listStockKeys(config.GetDB().WithContext(ctx), businessId, 0, 0)
	if err != nil {
		return nil, err
	}
	var changed []ReconcileResult
	for _, key := range keys {
		res, err := ReconcileStockLevel(ctx, key)
		if err != nil {
			return changed, fmt.Errorf("reconcile %s: %w", key, err)
		}
		if res.Changed {
			changed = append(changed, *res)
		}
	}
	return changed, nil
}
