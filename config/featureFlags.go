package config

import (
	"os"
	"strings"
	"time"
)

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StockOutboxEnabled starts the outbox dispatcher in the API process.
//
// Set via env:
// - STOCK_OUTBOX_ENABLED=true
func StockOutboxEnabled() bool {
	return boolFromEnv("STOCK_OUTBOX_ENABLED")
}

// ValuationSchedulerEnabled starts the daily valuation snapshot loop in the API process.
// Disable it when the snapshot runs from cron via cmd/valuation-snapshot.
//
// Set via env:
// - VALUATION_SCHEDULER_ENABLED=true
// - VALUATION_SCHEDULER_INTERVAL_SECONDS (default 900)
func ValuationSchedulerEnabled() bool {
	return boolFromEnv("VALUATION_SCHEDULER_ENABLED")
}

func ValuationSchedulerInterval() time.Duration {
	return time.Duration(intFromEnv("VALUATION_SCHEDULER_INTERVAL_SECONDS", 900)) * time.Second
}

// RecalcBatchSize bounds how many valuation lines are patched per batch.
func RecalcBatchSize() int {
	n := intFromEnv("RECALC_BATCH_SIZE", 200)
	if n <= 0 {
		return 200
	}
	return n
}

// DebugStockLedger switches on per-write info logs for the stock ledger.
//
// Set via env:
// - DEBUG_STOCK_LEDGER=true
func DebugStockLedger() bool {
	return boolFromEnv("DEBUG_STOCK_LEDGER")
}

// StockLockTTL is the lease of a per-(store, product) Redis lock.
func StockLockTTL() time.Duration {
	return time.Duration(intFromEnv("STOCK_LOCK_TTL_SECONDS", 30)) * time.Second
}
