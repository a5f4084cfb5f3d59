package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tally-pos/tally-pos/internal/recipe"
)

// ListMovements returns a material's journal, newest entry first.
func (s *Service) ListMovements(ctx context.Context, materialID int64, limit int) ([]Movement, error) {
	if materialID <= 0 {
		return nil, fmt.Errorf("%w: invalid material ID", ErrInvalidInput)
	}
	movements, err := s.repo.ListMovements(ctx, materialID, limit)
	if err != nil {
		return nil, classify(err)
	}
	for i := range movements {
		if movements[i].Type == MovementOut {
			movements[i].Deducted = decimal.Zero
		}
	}
	return movements, nil
}

// EstimateCost prices one serving of menuID with addonIDs using, per material,
// the unit cost of the earliest lot that has not expired yet. Materials with
// no such lot cost zero.
func (s *Service) EstimateCost(ctx context.Context, menuID int64, addonIDs []int64) (CostEstimate, error) {
	lines, err := s.resolver.Lines(ctx, menuID, addonIDs)
	if err != nil {
		return CostEstimate{}, classify(err)
	}
	seen := make(map[int64]struct{}, len(lines))
	var ids []int64
	for _, line := range lines {
		if _, ok := seen[line.MaterialID]; ok {
			continue
		}
		seen[line.MaterialID] = struct{}{}
		ids = append(ids, line.MaterialID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	costs, err := s.repo.EarliestLotCosts(ctx, ids, s.now())
	if err != nil {
		return CostEstimate{}, classify(err)
	}

	estimate := CostEstimate{MenuID: menuID, Total: decimal.Zero}
	for _, line := range lines {
		unitCost := costs[line.MaterialID]
		cost := line.Quantity.Mul(unitCost)
		estimate.Breakdown = append(estimate.Breakdown, CostLine{
			MaterialID: line.MaterialID,
			Name:       displayName(line),
			Type:       lineType(line),
			AddonID:    line.AddonID,
			Quantity:   line.Quantity,
			UnitCost:   unitCost,
			Cost:       cost,
		})
		estimate.Total = estimate.Total.Add(cost)
	}
	return estimate, nil
}

func displayName(line recipe.Line) string {
	if line.Name == "" {
		return "Unknown"
	}
	return line.Name
}

func lineType(line recipe.Line) string {
	if line.AddonID == 0 {
		return "menu"
	}
	return "addon"
}
