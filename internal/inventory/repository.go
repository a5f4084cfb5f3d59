package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tally-pos/tally-pos/internal/platform/db"
	"github.com/tally-pos/tally-pos/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the statements a deduction runs inside its transaction.
type TxRepository interface {
	// DecrementStock subtracts qty from the stock ledger only when enough is on
	// hand. It reports false when no row was updated.
	DecrementStock(ctx context.Context, materialID int64, qty decimal.Decimal) (bool, error)
	// NextLot locks and returns the earliest-expiring positive lot.
	NextLot(ctx context.Context, materialID int64) (Lot, bool, error)
	// ConsumeLot subtracts qty from a lot only when the lot still holds it.
	ConsumeLot(ctx context.Context, lotID int64, qty decimal.Decimal) (bool, error)
	InsertConsumption(ctx context.Context, rec ConsumptionRecord) (int64, error)
	// ClaimKey records an idempotency key; a key already taken fails with
	// shared.ErrIdempotencyConflict.
	ClaimKey(ctx context.Context, key, module string) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Row locks
// taken by the guarded updates and NextLot serialise deductions per material.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) DecrementStock(ctx context.Context, materialID int64, qty decimal.Decimal) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE raw_materials
SET quantity = quantity - $1, updated_at = NOW()
WHERE id = $2 AND quantity >= $1`, qty, materialID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) NextLot(ctx context.Context, materialID int64) (Lot, bool, error) {
	var (
		lot Lot
		exp pgtype.Date
	)
	err := r.tx.QueryRow(ctx, `SELECT id, material_id, quantity, unit, expiration_date, cost
FROM inventory_log
WHERE material_id = $1 AND quantity > 0
ORDER BY expiration_date ASC NULLS FIRST, id ASC
LIMIT 1
FOR UPDATE`, materialID).Scan(&lot.ID, &lot.MaterialID, &lot.Quantity, &lot.Unit, &exp, &lot.UnitCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, false, nil
	}
	if err != nil {
		return Lot{}, false, err
	}
	lot.ExpirationDate = dateValue(exp)
	return lot, true, nil
}

func (r *txRepository) ConsumeLot(ctx context.Context, lotID int64, qty decimal.Decimal) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_log SET quantity = quantity - $1 WHERE id = $2 AND quantity >= $1`, qty, lotID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) ClaimKey(ctx context.Context, key, module string) error {
	return shared.NewIdempotencyStore(r.tx).CheckAndInsert(ctx, key, module)
}

func (r *txRepository) InsertConsumption(ctx context.Context, rec ConsumptionRecord) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_log
    (material_id, quantity, unit, expiration_date, reason, user_id, cost, total_cost, reference_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		rec.MaterialID, rec.Quantity, rec.Unit, nullDate(rec.ExpirationDate), rec.Reason,
		nullInt(rec.UserID), rec.UnitCost, rec.TotalCost, nullUUID(rec.ReferenceID),
	).Scan(&id)
	return id, err
}

// ListMovements returns the newest journal entries of a material first.
func (r *Repository) ListMovements(ctx context.Context, materialID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT il.id, il.material_id, il.quantity, il.unit, il.expiration_date,
    COALESCE(il.reason, ''), COALESCE(u.username, ''), il.cost, il.total_cost, il.created_at,
    COALESCE(d.deducted, 0)
FROM inventory_log il
LEFT JOIN users u ON u.id = il.user_id
LEFT JOIN LATERAL (
    SELECT SUM(ABS(o.quantity)) AS deducted
    FROM inventory_log o
    WHERE o.material_id = il.material_id
      AND o.unit = il.unit
      AND o.expiration_date IS NOT DISTINCT FROM il.expiration_date
      AND o.quantity < 0
) d ON il.quantity >= 0
WHERE il.material_id = $1
ORDER BY il.id DESC
LIMIT $2`, materialID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var (
			m   Movement
			exp pgtype.Date
		)
		if err := rows.Scan(&m.ID, &m.MaterialID, &m.Quantity, &m.Unit, &exp, &m.Reason, &m.User,
			&m.UnitCost, &m.TotalCost, &m.CreatedAt, &m.Deducted); err != nil {
			return nil, err
		}
		m.ExpirationDate = dateValue(exp)
		m.Type = movementType(m.Quantity)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// EarliestLotCosts returns, per material, the unit cost of the positive lot
// that expires first on or after asOf. Materials without such a lot are absent.
func (r *Repository) EarliestLotCosts(ctx context.Context, materialIDs []int64, asOf time.Time) (map[int64]decimal.Decimal, error) {
	costs := make(map[int64]decimal.Decimal, len(materialIDs))
	if len(materialIDs) == 0 {
		return costs, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (material_id) material_id, cost
FROM inventory_log
WHERE material_id = ANY($1) AND quantity > 0 AND expiration_date >= $2::date
ORDER BY material_id, expiration_date ASC, id ASC`, materialIDs, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			cost decimal.Decimal
		)
		if err := rows.Scan(&id, &cost); err != nil {
			return nil, err
		}
		costs[id] = cost
	}
	return costs, rows.Err()
}

// StockDrift lists materials whose ledger quantity differs from the sum of
// their open lots. materialID zero checks every material.
func (r *Repository) StockDrift(ctx context.Context, materialID int64) ([]Drift, error) {
	rows, err := r.pool.Query(ctx, `SELECT rm.id, rm.name, rm.quantity,
    COALESCE(SUM(il.quantity) FILTER (WHERE il.quantity > 0), 0) AS journal
FROM raw_materials rm
LEFT JOIN inventory_log il ON il.material_id = rm.id
WHERE $1::bigint = 0 OR rm.id = $1
GROUP BY rm.id, rm.name, rm.quantity
HAVING rm.quantity <> COALESCE(SUM(il.quantity) FILTER (WHERE il.quantity > 0), 0)
ORDER BY rm.id`, materialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.MaterialID, &d.Name, &d.Ledger, &d.Journal); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

func movementType(qty decimal.Decimal) MovementType {
	if qty.IsNegative() {
		return MovementOut
	}
	return MovementIn
}

func nullInt(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v != 0}
}

func nullDate(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func nullUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func dateValue(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}
