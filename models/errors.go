package models

import "errors"

var (
	ErrBusinessIdRequired  = errors.New("business_id is required in context")
	ErrStockLevelNotFound  = errors.New("stock level not found")
	ErrInvalidStockMode    = errors.New("invalid stock update mode")
	ErrLineSourceRequired  = errors.New("line source ref is required")
	ErrNegativeAdjustment  = errors.New("adjustment must not be negative")
	ErrDocumentCompleted   = errors.New("document already completed")
	ErrDocumentNotPending  = errors.New("document is not pending")
	ErrSameStore           = errors.New("source and destination store must differ")
	ErrEmptyDocument       = errors.New("document has no lines")
	ErrInvalidRecalcAnchor = errors.New("recalculation start is required")
)
