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
	"github.com/mmdatafocus/stock_backend/workflow"
)

// valuation-snapshot is the cron entry point for the daily valuation batch.
func main() {
	businessID := flag.String("business-id", "", "Optional: only this business (uuid)")
	asOfStr := flag.String("as-of", "", "Optional: RFC3339 instant to snapshot. Defaults to now.")
	flag.Parse()

	asOf := time.Now().UTC()
	if strings.TrimSpace(*asOfStr) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(*asOfStr))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid as-of: %v\n", err)
			os.Exit(1)
		}
		asOf = t.UTC()
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ctx := context.Background()

	if id := strings.TrimSpace(*businessID); id != "" {
		res, err := models.CreateValuationSnapshots(ctx, id, asOf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "snapshot business=%s: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("snapshot business=%s date=%s lines=%d already_exists=%t\n",
			id, res.ValuationDate.Format("2006-01-02"), res.LineCount, res.AlreadyExists)
		return
	}

	scheduler := workflow.NewValuationScheduler(config.GetLogger())
	scheduler.Now = func() time.Time { return asOf }
	created, err := scheduler.RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshot: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("valuation snapshot complete (%d created)\n", created)
}
