package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one entry of an entity's history.
type AuditLog struct {
	ID       int64          `json:"id"`
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// AuditLogger writes and reads audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the entry. A zero At stores the database time.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("shared: audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("shared: audit log requires action, entity and entity id")
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("shared: audit meta: %w", err)
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, meta, at)
	return err
}

// Trail returns the newest entries of one entity, newest first.
func (l *AuditLogger) Trail(ctx context.Context, entity, entityID string, limit int) ([]AuditLog, error) {
	if l == nil || l.pool == nil {
		return nil, errors.New("shared: audit logger not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx, `SELECT id, actor_id, action, entity, entity_id, meta, occurred_at
FROM audit_logs WHERE entity=$1 AND entity_id=$2 ORDER BY occurred_at DESC, id DESC LIMIT $3`, entity, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("shared: audit trail: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditLog, error) {
		var (
			log  AuditLog
			meta []byte
		)
		if err := row.Scan(&log.ID, &log.ActorID, &log.Action, &log.Entity, &log.EntityID, &meta, &log.At); err != nil {
			return AuditLog{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &log.Meta); err != nil {
				return AuditLog{}, err
			}
		}
		return log, nil
	})
}
