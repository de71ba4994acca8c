package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/utils"
)

// stock-reconcile rewrites live stock levels that drifted from their ledger tail.
func main() {
	businessID := flag.String("business-id", "", "Optional: business id (uuid). Defaults to every active business.")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ctx := context.Background()

	businessIDs := []string{strings.TrimSpace(*businessID)}
	if businessIDs[0] == "" {
		businesses, err := models.ListActiveBusinesses(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list businesses: %v\n", err)
			os.Exit(1)
		}
		businessIDs = businessIDs[:0]
		for _, b := range businesses {
			businessIDs = append(businessIDs, b.ID.String())
		}
	}

	failed := false
	for _, id := range businessIDs {
		changed, err := models.ReconcileBusinessStock(utils.BackgroundContext(ctx, id))
		for _, c := range changed {
			fmt.Printf("Reconciled %s units %s -> %s\n", c.Key, c.Before, c.After)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "reconcile business=%s: %v\n", id, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("stock reconcile complete")
}
