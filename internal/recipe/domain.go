// Package recipe turns a sold menu item and its selected add-ons into the raw
// material quantities the sale consumes.
package recipe

import (
	"context"
	"errors"
	"slices"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput indicates a non-positive menu id, order quantity or add-on id.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidRecipe indicates a stored recipe row with a negative quantity.
	ErrInvalidRecipe = errors.New("recipe: negative ingredient quantity")
)

// Line is a single recipe row: how much of a material one serving uses.
type Line struct {
	MaterialID int64           `json:"material_id"`
	Name       string          `json:"name,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	// AddonID is zero for base ingredients.
	AddonID int64 `json:"addon_id,omitempty"`
}

// Source answers recipe lookups.
type Source interface {
	BaseIngredients(ctx context.Context, menuID int64) ([]Line, error)
	// AddonIngredients returns the rows scoped to menuID for every add-on in addonIDs.
	AddonIngredients(ctx context.Context, menuID int64, addonIDs []int64) ([]Line, error)
}

// Requirements maps material id to the quantity an order needs.
type Requirements map[int64]decimal.Decimal

// Add accumulates qty for materialID.
func (r Requirements) Add(materialID int64, qty decimal.Decimal) {
	if cur, ok := r[materialID]; ok {
		r[materialID] = cur.Add(qty)
		return
	}
	r[materialID] = qty
}

// MaterialIDs returns the material ids in ascending order.
func (r Requirements) MaterialIDs() []int64 {
	ids := make([]int64, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Total sums every requirement.
func (r Requirements) Total() decimal.Decimal {
	total := decimal.Zero
	for _, qty := range r {
		total = total.Add(qty)
	}
	return total
}

// Float64s converts the map for JSON payloads that expect plain numbers.
func (r Requirements) Float64s() map[int64]float64 {
	out := make(map[int64]float64, len(r))
	for id, qty := range r {
		out[id] = qty.InexactFloat64()
	}
	return out
}
