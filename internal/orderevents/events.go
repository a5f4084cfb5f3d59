package orderevents

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSold is published by the till for every sold order line.
type OrderSold struct {
	OrderID  string           `json:"order_id"`
	MenuID   int64            `json:"menu_id"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	AddonIDs []int64          `json:"selected_addon_ids"`
	UserID   int64            `json:"user_id"`
	SoldAt   time.Time        `json:"sold_at"`
}

// InventoryDeducted reports a committed deduction.
type InventoryDeducted struct {
	OrderID     string                    `json:"order_id"`
	ReferenceID string                    `json:"reference_id"`
	MenuID      int64                     `json:"menu_id"`
	Deductions  map[int64]decimal.Decimal `json:"deductions"`
	TotalCost   decimal.Decimal           `json:"total_cost"`
	Records     int                       `json:"records"`
	DeductedAt  time.Time                 `json:"deducted_at"`
}

// DeductionFailed reports an order whose stock could not be deducted.
type DeductionFailed struct {
	OrderID    string    `json:"order_id"`
	MenuID     int64     `json:"menu_id"`
	Code       string    `json:"code"`
	Stage      string    `json:"stage,omitempty"`
	MaterialID int64     `json:"material_id,omitempty"`
	Message    string    `json:"message"`
	FailedAt   time.Time `json:"failed_at"`
}

// Event type header values.
const (
	TypeInventoryDeducted = "inventory.deducted"
	TypeDeductionFailed   = "inventory.deduction_failed"
)

// Failure codes.
const (
	CodeInsufficientStock = "insufficient_stock"
	CodeInvalidOrder      = "invalid_order"
	CodeStoreUnavailable  = "store_unavailable"
	CodeInternal          = "internal"
)
