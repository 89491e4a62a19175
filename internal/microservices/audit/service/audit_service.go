package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
	"restaurant-pos/internal/microservices/audit/repository"
)

// Entry is one state change to record. Before and After are marshalled to JSON.
type Entry struct {
	Actor      domain.Actor
	Action     string
	EntityType string
	EntityID   string
	Before     any
	After      any
	Note       string
}

// Recorder is called by every mutating operation inside its transaction, so a
// failed audit write rolls the mutation back.
type Recorder interface {
	Record(ctx context.Context, tx *database.Tx, e Entry) error
	Timeline(ctx context.Context, entityType, entityID string, limit, offset int) ([]domain.AuditEntry, error)
}

type AuditService struct {
	repo repository.AuditRepoInterface
	now  func() time.Time
}

func NewAuditService(repo repository.AuditRepoInterface) *AuditService {
	return &AuditService{repo: repo, now: time.Now}
}

func (s *AuditService) Record(ctx context.Context, tx *database.Tx, e Entry) error {
	if e.Action == "" || e.EntityType == "" || e.EntityID == "" {
		return fmt.Errorf("audit entry requires action, entity type and entity id")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("audit id: %w", err)
	}
	before, err := encode(e.Before)
	if err != nil {
		return err
	}
	after, err := encode(e.After)
	if err != nil {
		return err
	}
	actor := e.Actor.ID
	if actor == "" {
		actor = "anonymous"
	}
	return s.repo.Append(ctx, tx, domain.AuditEntry{
		ID:         id.String(),
		ActorID:    actor,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     before,
		After:      after,
		Note:       e.Note,
		CreatedAt:  s.now().UTC(),
	})
}

var entityTypes = map[string]bool{
	domain.EntityTable:     true,
	domain.EntityOrder:     true,
	domain.EntityOrderItem: true,
	domain.EntityBill:      true,
}

func (s *AuditService) Timeline(ctx context.Context, entityType, entityID string, limit, offset int) ([]domain.AuditEntry, error) {
	if !entityTypes[entityType] {
		return nil, apperr.Validation("unknown entity type %q", entityType)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.repo.Timeline(ctx, entityType, entityID, limit, offset)
	if err != nil {
		return nil, database.MapError(ctx, "audit timeline", err)
	}
	return entries, nil
}

func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode audit state: %w", err)
	}
	return b, nil
}
