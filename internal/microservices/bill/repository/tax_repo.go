package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
)

type TaxRepositoryInterface interface {
	Active(ctx context.Context, q database.Querier) ([]domain.Tax, error)
	List(ctx context.Context, q database.Querier) ([]domain.Tax, error)
	Upsert(ctx context.Context, q database.Querier, t domain.Tax) error
}

type TaxRepository struct {
	store *database.Store
}

func NewTaxRepository(store *database.Store) *TaxRepository {
	return &TaxRepository{store: store}
}

func (r *TaxRepository) Active(ctx context.Context, q database.Querier) ([]domain.Tax, error) {
	return r.query(ctx, q, `SELECT id, name, rate, inclusive, active FROM taxes WHERE active ORDER BY name`)
}

func (r *TaxRepository) List(ctx context.Context, q database.Querier) ([]domain.Tax, error) {
	return r.query(ctx, q, `SELECT id, name, rate, inclusive, active FROM taxes ORDER BY name`)
}

func (r *TaxRepository) query(ctx context.Context, q database.Querier, query string) ([]domain.Tax, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list taxes: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Tax, 0)
	for rows.Next() {
		var t domain.Tax
		if err := rows.Scan(&t.ID, &t.Name, &t.Rate, &t.Inclusive, &t.Active); err != nil {
			return nil, fmt.Errorf("scan tax: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Upsert keys taxes by name so restarts with the same config are stable.
func (r *TaxRepository) Upsert(ctx context.Context, q database.Querier, t domain.Tax) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := q.ExecContext(ctx, r.store.Rebind(`
INSERT INTO taxes (id, name, rate, inclusive, active) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET rate = excluded.rate, inclusive = excluded.inclusive, active = excluded.active
`), t.ID, t.Name, t.Rate, t.Inclusive, t.Active)
	if err != nil {
		return fmt.Errorf("upsert tax %q: %w", t.Name, err)
	}
	return nil
}
