package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/utils"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	storeID := flag.Int("store-id", 0, "Optional: store id")
	productID := flag.Int("product-id", 0, "Optional: product id")
	fromDateStr := flag.String("from", "", "Optional: rebuild from date (YYYY-MM-DD). Defaults to the earliest ledger entry of each key.")
	direction := flag.String("direction", string(models.RecalcForward), "forward (from the entry before --from) or backward (from the live stock level)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing keys and continue rebuilding others")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}
	dir := models.RecalcDirection(*direction)
	if dir != models.RecalcForward && dir != models.RecalcBackward {
		fmt.Fprintf(os.Stderr, "invalid direction %q\n", *direction)
		os.Exit(1)
	}

	var from time.Time
	if strings.TrimSpace(*fromDateStr) != "" {
		d, err := utils.ParseCalendarDate(*fromDateStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid from date: %v\n", err)
			os.Exit(1)
		}
		from = d
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ctx := utils.BackgroundContext(context.Background(), *businessID)

	levels, err := models.ListStockLevels(ctx, *storeID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discover keys: %v\n", err)
		os.Exit(1)
	}

	rebuilt := 0
	for _, level := range levels {
		if *productID > 0 && level.ProductId != *productID {
			continue
		}
		key := models.StockKey{BusinessId: *businessID, StoreId: level.StoreId, ProductId: level.ProductId}
		res, err := models.RecalculateStockFrom(ctx, key, from, dir)
		if err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "rebuild %s failed (skipping): %v\n", key, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "rebuild %s failed: %v\n", key, err)
			os.Exit(1)
		}
		rebuilt++
		if res.EntriesChanged > 0 || res.LevelFixed {
			fmt.Printf("Rebuilt %s scanned=%d changed=%d lines=%d level_fixed=%t\n",
				key, res.EntriesScanned, res.EntriesChanged, res.LinesPatched, res.LevelFixed)
		}
	}

	fmt.Printf("inventory rebuild complete (%d keys)\n", rebuilt)
}
