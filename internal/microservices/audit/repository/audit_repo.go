package repository

import (
	"context"
	"fmt"

	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
)

type AuditRepoInterface interface {
	Append(ctx context.Context, q database.Querier, e domain.AuditEntry) error
	Timeline(ctx context.Context, entityType, entityID string, limit, offset int) ([]domain.AuditEntry, error)
}

type AuditRepo struct {
	store *database.Store
}

func NewAuditRepo(store *database.Store) *AuditRepo { return &AuditRepo{store: store} }

func (r *AuditRepo) Append(ctx context.Context, q database.Querier, e domain.AuditEntry) error {
	_, err := q.ExecContext(ctx, r.store.Rebind(`
INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, before_state, after_state, note, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`), e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, string(e.Before), string(e.After), e.Note, database.ToMillis(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepo) Timeline(ctx context.Context, entityType, entityID string, limit, offset int) ([]domain.AuditEntry, error) {
	rows, err := r.store.DB().QueryContext(ctx, r.store.Rebind(`
SELECT id, actor_id, action, entity_type, entity_id, before_state, after_state, note, created_at
FROM audit_logs WHERE entity_type = ? AND entity_id = ?
ORDER BY created_at ASC, id ASC
LIMIT ? OFFSET ?
`), entityType, entityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit timeline: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var (
			e             domain.AuditEntry
			before, after string
			at            int64
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &before, &after, &e.Note, &at); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if before != "" {
			e.Before = []byte(before)
		}
		if after != "" {
			e.After = []byte(after)
		}
		e.CreatedAt = database.FromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
