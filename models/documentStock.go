package models

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "Pending"
	DocumentStatusReceived  DocumentStatus = "Received"
	DocumentStatusCompleted DocumentStatus = "Completed"
	DocumentStatusCancelled DocumentStatus = "Cancelled"
)

// StockApplyReport collects the ledger outcomes of one document transition.
// Failures never fail the document; they are reported here and in the log.
type StockApplyReport struct {
	Applied    int      `json:"applied"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

func (r *StockApplyReport) add(res StockUpdateResult) {
	switch {
	case res.Err != nil:
		r.Failed++
		r.Errors = append(r.Errors, res.Err.Error())
	case res.Duplicate:
		r.Duplicates++
	case res.Applied:
		r.Applied++
	}
}

// WeightedAverageCost blends the current unit cost with an incoming receipt,
// rounded to 2 places. Negative current stock is ignored, and a non-positive
// total keeps the current cost.
func WeightedAverageCost(currentUnits, currentCost, incomingUnits, incomingCost decimal.Decimal) decimal.Decimal {
	if !incomingUnits.IsPositive() {
		return currentCost
	}
	if currentUnits.IsNegative() {
		currentUnits = decimal.Zero
	}
	total := currentUnits.Add(incomingUnits)
	if !total.IsPositive() {
		return currentCost
	}
	return currentUnits.Mul(currentCost).Add(incomingUnits.Mul(incomingCost)).Div(total).Round(2)
}

// costReceiver applies weighted-average cost updates for the lines of one
// document. Stock is posted after the document commits, so units received by
// earlier lines of the same document are tracked here.
type costReceiver struct {
	tx         *gorm.DB
	businessId string
	pending    map[int]decimal.Decimal
}

func newCostReceiver(tx *gorm.DB, businessId string) *costReceiver {
	return &costReceiver{tx: tx, businessId: businessId, pending: map[int]decimal.Decimal{}}
}

func (c *costReceiver) receive(productId int, units decimal.Decimal, unitCost decimal.Decimal) error {
	product, err := getProduct(c.tx, c.businessId, productId)
	if err != nil {
		return fmt.Errorf("product %d: %w", productId, err)
	}
	var onHand struct {
		Units decimal.Decimal
	}
	if err := c.tx.Model(&StockLevel{}).
		Select("COALESCE(SUM(units), 0) AS units").
		Where("business_id = ? AND product_id = ?", c.businessId, productId).
		Scan(&onHand).Error; err != nil {
		return err
	}
	current := onHand.Units.Add(c.pending[productId])
	c.pending[productId] = c.pending[productId].Add(units)

	if unitCost.Equal(product.Cost) {
		return nil
	}
	newCost := WeightedAverageCost(current, product.Cost, units, unitCost)
	if newCost.Equal(product.Cost) {
		return nil
	}
	return c.tx.Model(&Product{}).Where("id = ?", product.ID).Update("cost", newCost).Error
}
