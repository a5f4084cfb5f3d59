package recipe

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Resolver computes aggregate material requirements for an order.
type Resolver struct {
	source Source
}

// NewResolver builds a Resolver backed by source.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the material requirements for quantity servings of menuID
// with the given add-ons. Base and add-on contributions for the same material
// are summed. Duplicate add-on ids count once.
func (r *Resolver) Resolve(ctx context.Context, menuID int64, quantity decimal.Decimal, addonIDs []int64) (Requirements, error) {
	if menuID <= 0 {
		return nil, fmt.Errorf("%w: menu_id must be positive", ErrInvalidInput)
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	addons, err := NormalizeAddonIDs(addonIDs)
	if err != nil {
		return nil, err
	}

	reqs := make(Requirements)
	base, err := r.source.BaseIngredients(ctx, menuID)
	if err != nil {
		return nil, fmt.Errorf("recipe: base ingredients for menu %d: %w", menuID, err)
	}
	if err := accumulate(reqs, base, quantity); err != nil {
		return nil, err
	}

	if len(addons) > 0 {
		extra, err := r.source.AddonIngredients(ctx, menuID, addons)
		if err != nil {
			return nil, fmt.Errorf("recipe: addon ingredients for menu %d: %w", menuID, err)
		}
		if err := accumulate(reqs, extra, quantity); err != nil {
			return nil, err
		}
	}
	return reqs, nil
}

// Lines returns the raw recipe rows for menuID and addonIDs without scaling.
func (r *Resolver) Lines(ctx context.Context, menuID int64, addonIDs []int64) ([]Line, error) {
	if menuID <= 0 {
		return nil, fmt.Errorf("%w: menu_id must be positive", ErrInvalidInput)
	}
	addons, err := NormalizeAddonIDs(addonIDs)
	if err != nil {
		return nil, err
	}
	lines, err := r.source.BaseIngredients(ctx, menuID)
	if err != nil {
		return nil, fmt.Errorf("recipe: base ingredients for menu %d: %w", menuID, err)
	}
	if len(addons) == 0 {
		return lines, nil
	}
	extra, err := r.source.AddonIngredients(ctx, menuID, addons)
	if err != nil {
		return nil, fmt.Errorf("recipe: addon ingredients for menu %d: %w", menuID, err)
	}
	// lines may be shared with concurrent callers through the cache
	return slices.Concat(lines, extra), nil
}

// NormalizeAddonIDs sorts and dedupes addon ids, rejecting non-positive ones.
func NormalizeAddonIDs(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := slices.Clone(ids)
	for _, id := range out {
		if id <= 0 {
			return nil, fmt.Errorf("%w: addon id %d must be positive", ErrInvalidInput, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func accumulate(reqs Requirements, lines []Line, quantity decimal.Decimal) error {
	for _, line := range lines {
		if line.Quantity.IsNegative() {
			return fmt.Errorf("%w: material %d", ErrInvalidRecipe, line.MaterialID)
		}
		reqs.Add(line.MaterialID, line.Quantity.Mul(quantity))
	}
	return nil
}
