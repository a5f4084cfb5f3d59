package recipe

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads recipe rows from PostgreSQL.
type Repository struct {
	db Querier
}

// NewRepository constructs a Repository.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// BaseIngredients implements Source.
func (r *Repository) BaseIngredients(ctx context.Context, menuID int64) ([]Line, error) {
	const sql = `SELECT mi.material_id, COALESCE(rm.name, ''), mi.quantity, 0::bigint
FROM menu_ingredients mi
LEFT JOIN raw_materials rm ON rm.id = mi.material_id
WHERE mi.menu_id = $1
ORDER BY mi.id`
	rows, err := r.db.Query(ctx, sql, menuID)
	if err != nil {
		return nil, err
	}
	return scanLines(rows)
}

// AddonIngredients implements Source.
func (r *Repository) AddonIngredients(ctx context.Context, menuID int64, addonIDs []int64) ([]Line, error) {
	if len(addonIDs) == 0 {
		return nil, nil
	}
	const sql = `SELECT ma.material_id, COALESCE(rm.name, ''), ma.quantity, ma.addon_id
FROM menu_addons ma
LEFT JOIN raw_materials rm ON rm.id = ma.material_id
WHERE ma.menu_id = $1 AND ma.addon_id = ANY($2)
ORDER BY ma.addon_id, ma.id`
	rows, err := r.db.Query(ctx, sql, menuID, addonIDs)
	if err != nil {
		return nil, err
	}
	return scanLines(rows)
}

func scanLines(rows pgx.Rows) ([]Line, error) {
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var (
			line Line
			qty  decimal.Decimal
		)
		if err := rows.Scan(&line.MaterialID, &line.Name, &qty, &line.AddonID); err != nil {
			return nil, err
		}
		line.Quantity = qty
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
