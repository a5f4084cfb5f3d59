package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tally-pos/tally-pos/internal/recipe"
)

// ConsumptionReason is stamped on every journal record written by a deduction.
const ConsumptionReason = "Auto Deduction from Customer Order"

// QuantityScale is the number of decimal places the store keeps for quantities.
const QuantityScale = 4

// Stage names a state of the deduction state machine.
type Stage string

const (
	StageBegin                Stage = "begin"
	StageRequirementsGathered Stage = "requirements_gathered"
	StageStockGuarded         Stage = "stock_guarded"
	StageLotsConsumed         Stage = "lots_consumed"
	StageCommitted            Stage = "committed"
	StageRolledBack           Stage = "rolled_back"
)

// MovementType classifies a journal entry for history views.
type MovementType string

const (
	// MovementIn is a restock lot (quantity >= 0).
	MovementIn MovementType = "IN"
	// MovementOut is a consumption record (quantity < 0).
	MovementOut MovementType = "OUT"
)

// Lot is a positive-quantity journal entry available for FIFO consumption.
type Lot struct {
	ID             int64
	MaterialID     int64
	Quantity       decimal.Decimal
	Unit           string
	ExpirationDate *time.Time
	UnitCost       decimal.Decimal
}

// ConsumptionRecord is a negative journal entry draining part of one lot.
type ConsumptionRecord struct {
	ID             int64
	LotID          int64
	MaterialID     int64
	Quantity       decimal.Decimal
	Unit           string
	ExpirationDate *time.Time
	UnitCost       decimal.Decimal
	TotalCost      decimal.Decimal
	Reason         string
	UserID         int64
	ReferenceID    uuid.UUID
}

// DeductInput describes one sold order line.
type DeductInput struct {
	MenuID   int64
	Quantity decimal.Decimal
	AddonIDs []int64
	// UserID may be zero when the cashier is unknown.
	UserID int64
	// IdempotencyKey is optional; a repeated key is rejected.
	IdempotencyKey string
}

// Report is returned by a committed deduction.
type Report struct {
	ReferenceID uuid.UUID
	Message     string
	Deductions  recipe.Requirements
	Records     []ConsumptionRecord
	TotalCost   decimal.Decimal
}

// Movement is a journal entry as shown in a material's history.
type Movement struct {
	ID             int64
	MaterialID     int64
	Type           MovementType
	Quantity       decimal.Decimal
	Unit           string
	ExpirationDate *time.Time
	Reason         string
	User           string
	UnitCost       decimal.Decimal
	TotalCost      decimal.Decimal
	// Deducted is the amount consumed from IN rows sharing unit and expiration.
	Deducted  decimal.Decimal
	CreatedAt time.Time
}

// CostLine prices one recipe row.
type CostLine struct {
	MaterialID int64
	Name       string
	Type       string
	AddonID    int64
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	Cost       decimal.Decimal
}

// CostEstimate is the ingredient cost of one serving.
type CostEstimate struct {
	MenuID    int64
	Total     decimal.Decimal
	Breakdown []CostLine
}

// Drift reports a material whose stock ledger disagrees with its open lots.
type Drift struct {
	MaterialID int64
	Name       string
	Ledger     decimal.Decimal
	Journal    decimal.Decimal
}

// Difference is ledger minus journal.
func (d Drift) Difference() decimal.Decimal {
	return d.Ledger.Sub(d.Journal)
}
