package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrAuditIncomplete rejects entries missing the action or the entity they describe.
var ErrAuditIncomplete = errors.New("audit: action, entity and entity id are required")

const insertAudit = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`

// AuditLog is one row of audit_logs. ActorID zero means the actor is unknown
// and is stored as NULL; a zero At lets the database stamp the row.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

func (a AuditLog) args() ([]any, error) {
	if a.Action == "" || a.Entity == "" || a.EntityID == "" {
		return nil, ErrAuditIncomplete
	}
	meta := a.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("audit: encode meta for %s: %w", a.Action, err)
	}

	var actor *int64
	if a.ActorID > 0 {
		id := a.ActorID
		actor = &id
	}
	var at *time.Time
	if !a.At.IsZero() {
		ts := a.At
		at = &ts
	}
	return []any{actor, a.Action, a.Entity, a.EntityID, raw, at}, nil
}

// AuditLogger appends entries to audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns an AuditLogger writing through db.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit: logger not initialised")
	}
	args, err := entry.args()
	if err != nil {
		return err
	}
	if _, err := l.db.Exec(ctx, insertAudit, args...); err != nil {
		return fmt.Errorf("audit: insert %s %s: %w", entry.Entity, entry.EntityID, err)
	}
	return nil
}
