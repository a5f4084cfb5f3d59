package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DriftSuspectedEvent is raised when the lot journal ran dry for a quantity
// the stock ledger had just accepted.
type DriftSuspectedEvent struct {
	MaterialID  int64
	ReferenceID uuid.UUID
	Requested   decimal.Decimal
	Unmet       decimal.Decimal
	DetectedAt  time.Time
}
