package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tally-pos/tally-pos/internal/recipe"
	"github.com/tally-pos/tally-pos/internal/shared"
)

type journalEntry struct {
	ID             int64
	MaterialID     int64
	Quantity       decimal.Decimal
	Unit           string
	ExpirationDate *time.Time
	Reason         string
	UserID         int64
	UnitCost       decimal.Decimal
	TotalCost      decimal.Decimal
	ReferenceID    uuid.UUID
	CreatedAt      time.Time
}

type memoryRepo struct {
	stock   map[int64]decimal.Decimal
	names   map[int64]string
	journal []journalEntry
	users   map[int64]string
	keys    map[string]bool
	nextID  int64
	txCount int

	failInsert bool
	failCommit bool
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stock: make(map[int64]decimal.Decimal),
		names: make(map[int64]string),
		users: make(map[int64]string),
		keys:  make(map[string]bool),
	}
}

func (r *memoryRepo) addMaterial(id int64, name, qty string) {
	r.stock[id] = decimal.RequireFromString(qty)
	r.names[id] = name
}

func (r *memoryRepo) addLot(materialID int64, exp string, qty, cost string) int64 {
	r.nextID++
	entry := journalEntry{
		ID:         r.nextID,
		MaterialID: materialID,
		Quantity:   decimal.RequireFromString(qty),
		Unit:       "g",
		Reason:     "Restock",
		UnitCost:   decimal.RequireFromString(cost),
		CreatedAt:  time.Date(2023, 12, 1, 8, 0, 0, 0, time.UTC),
	}
	entry.TotalCost = entry.Quantity.Mul(entry.UnitCost)
	if exp != "" {
		t, err := time.Parse("2006-01-02", exp)
		if err != nil {
			panic(err)
		}
		entry.ExpirationDate = &t
	}
	r.journal = append(r.journal, entry)
	return entry.ID
}

func (r *memoryRepo) entry(id int64) journalEntry {
	for _, e := range r.journal {
		if e.ID == id {
			return e
		}
	}
	panic("journal entry not found")
}

func (r *memoryRepo) consumption() []journalEntry {
	var out []journalEntry
	for _, e := range r.journal {
		if e.Quantity.IsNegative() {
			out = append(out, e)
		}
	}
	return out
}

type memorySnapshot struct {
	stock   map[int64]decimal.Decimal
	journal []journalEntry
	keys    map[string]bool
	nextID  int64
}

func (r *memoryRepo) snapshot() memorySnapshot {
	stock := make(map[int64]decimal.Decimal, len(r.stock))
	for k, v := range r.stock {
		stock[k] = v
	}
	keys := make(map[string]bool, len(r.keys))
	for k := range r.keys {
		keys[k] = true
	}
	journal := append([]journalEntry(nil), r.journal...)
	return memorySnapshot{stock: stock, journal: journal, keys: keys, nextID: r.nextID}
}

func (r *memoryRepo) restore(s memorySnapshot) {
	r.stock = s.stock
	r.journal = s.journal
	r.keys = s.keys
	r.nextID = s.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txCount++
	snap := r.snapshot()
	err := fn(ctx, &memoryTx{repo: r})
	if err == nil && r.failCommit {
		err = errors.New("commit: connection reset by peer")
	}
	if err != nil {
		r.restore(snap)
	}
	return err
}

func (tx *memoryTx) DecrementStock(ctx context.Context, materialID int64, qty decimal.Decimal) (bool, error) {
	cur, ok := tx.repo.stock[materialID]
	if !ok || cur.LessThan(qty) {
		return false, nil
	}
	tx.repo.stock[materialID] = cur.Sub(qty)
	return true, nil
}

func (tx *memoryTx) NextLot(ctx context.Context, materialID int64) (Lot, bool, error) {
	var candidates []journalEntry
	for _, e := range tx.repo.journal {
		if e.MaterialID == materialID && e.Quantity.IsPositive() {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return Lot{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.ExpirationDate == nil && b.ExpirationDate != nil:
			return true
		case a.ExpirationDate != nil && b.ExpirationDate == nil:
			return false
		case a.ExpirationDate != nil && !a.ExpirationDate.Equal(*b.ExpirationDate):
			return a.ExpirationDate.Before(*b.ExpirationDate)
		}
		return a.ID < b.ID
	})
	e := candidates[0]
	return Lot{ID: e.ID, MaterialID: e.MaterialID, Quantity: e.Quantity, Unit: e.Unit, ExpirationDate: e.ExpirationDate, UnitCost: e.UnitCost}, true, nil
}

func (tx *memoryTx) ConsumeLot(ctx context.Context, lotID int64, qty decimal.Decimal) (bool, error) {
	for i := range tx.repo.journal {
		e := &tx.repo.journal[i]
		if e.ID != lotID {
			continue
		}
		if e.Quantity.LessThan(qty) {
			return false, nil
		}
		e.Quantity = e.Quantity.Sub(qty)
		return true, nil
	}
	return false, nil
}

func (tx *memoryTx) ClaimKey(ctx context.Context, key, module string) error {
	if tx.repo.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	tx.repo.keys[key] = true
	return nil
}

func (tx *memoryTx) InsertConsumption(ctx context.Context, rec ConsumptionRecord) (int64, error) {
	if tx.repo.failInsert {
		return 0, errors.New("insert inventory_log: connection refused")
	}
	tx.repo.nextID++
	tx.repo.journal = append(tx.repo.journal, journalEntry{
		ID:             tx.repo.nextID,
		MaterialID:     rec.MaterialID,
		Quantity:       rec.Quantity,
		Unit:           rec.Unit,
		ExpirationDate: rec.ExpirationDate,
		Reason:         rec.Reason,
		UserID:         rec.UserID,
		UnitCost:       rec.UnitCost,
		TotalCost:      rec.TotalCost,
		ReferenceID:    rec.ReferenceID,
		CreatedAt:      time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	})
	return tx.repo.nextID, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, materialID int64, limit int) ([]Movement, error) {
	var out []Movement
	for i := len(r.journal) - 1; i >= 0; i-- {
		e := r.journal[i]
		if e.MaterialID != materialID {
			continue
		}
		m := Movement{
			ID:             e.ID,
			MaterialID:     e.MaterialID,
			Type:           movementType(e.Quantity),
			Quantity:       e.Quantity,
			Unit:           e.Unit,
			ExpirationDate: e.ExpirationDate,
			Reason:         e.Reason,
			User:           r.users[e.UserID],
			UnitCost:       e.UnitCost,
			TotalCost:      e.TotalCost,
			Deducted:       decimal.Zero,
			CreatedAt:      e.CreatedAt,
		}
		if m.Type == MovementIn {
			for _, o := range r.journal {
				if o.MaterialID == e.MaterialID && o.Unit == e.Unit && sameDate(o.ExpirationDate, e.ExpirationDate) && o.Quantity.IsNegative() {
					m.Deducted = m.Deducted.Add(o.Quantity.Abs())
				}
			}
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) EarliestLotCosts(ctx context.Context, materialIDs []int64, asOf time.Time) (map[int64]decimal.Decimal, error) {
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	costs := make(map[int64]decimal.Decimal)
	best := make(map[int64]journalEntry)
	for _, id := range materialIDs {
		for _, e := range r.journal {
			if e.MaterialID != id || !e.Quantity.IsPositive() || e.ExpirationDate == nil || e.ExpirationDate.Before(day) {
				continue
			}
			cur, ok := best[id]
			if !ok || e.ExpirationDate.Before(*cur.ExpirationDate) || (e.ExpirationDate.Equal(*cur.ExpirationDate) && e.ID < cur.ID) {
				best[id] = e
			}
		}
	}
	for id, e := range best {
		costs[id] = e.UnitCost
	}
	return costs, nil
}

func (r *memoryRepo) StockDrift(ctx context.Context, materialID int64) ([]Drift, error) {
	var ids []int64
	for id := range r.stock {
		if materialID == 0 || id == materialID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var drifts []Drift
	for _, id := range ids {
		journal := decimal.Zero
		for _, e := range r.journal {
			if e.MaterialID == id && e.Quantity.IsPositive() {
				journal = journal.Add(e.Quantity)
			}
		}
		if !journal.Equal(r.stock[id]) {
			drifts = append(drifts, Drift{MaterialID: id, Name: r.names[id], Ledger: r.stock[id], Journal: journal})
		}
	}
	return drifts, nil
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

type stubSource struct {
	base   map[int64][]recipe.Line
	addons map[int64]map[int64][]recipe.Line
}

func newStubSource() *stubSource {
	return &stubSource{base: make(map[int64][]recipe.Line), addons: make(map[int64]map[int64][]recipe.Line)}
}

func (s *stubSource) setBase(menuID int64, lines ...recipe.Line) {
	s.base[menuID] = lines
}

func (s *stubSource) setAddon(menuID, addonID int64, lines ...recipe.Line) {
	if s.addons[menuID] == nil {
		s.addons[menuID] = make(map[int64][]recipe.Line)
	}
	for i := range lines {
		lines[i].AddonID = addonID
	}
	s.addons[menuID][addonID] = lines
}

func (s *stubSource) BaseIngredients(ctx context.Context, menuID int64) ([]recipe.Line, error) {
	return append([]recipe.Line(nil), s.base[menuID]...), nil
}

func (s *stubSource) AddonIngredients(ctx context.Context, menuID int64, addonIDs []int64) ([]recipe.Line, error) {
	var out []recipe.Line
	for _, id := range addonIDs {
		out = append(out, s.addons[menuID][id]...)
	}
	return out, nil
}

func line(materialID int64, qty string) recipe.Line {
	return recipe.Line{MaterialID: materialID, Quantity: decimal.RequireFromString(qty)}
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

type memoryDrift struct {
	events []DriftSuspectedEvent
}

func (m *memoryDrift) HandleDriftSuspected(ctx context.Context, evt DriftSuspectedEvent) error {
	m.events = append(m.events, evt)
	return nil
}

type fixture struct {
	repo   *memoryRepo
	source *stubSource
	audit  *memoryAudit
	drift  *memoryDrift
	svc    *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newMemoryRepo(),
		source: newStubSource(),
		audit:  &memoryAudit{},
		drift:  &memoryDrift{},
	}
	f.svc = NewService(f.repo, recipe.NewResolver(f.source), f.audit, ServiceConfig{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		DriftHandler: f.drift,
		Now:          func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) },
	})
	return f
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
