package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
)

// CatalogRepositoryInterface reads the menu owned by the back office.
type CatalogRepositoryInterface interface {
	MenuItem(ctx context.Context, q database.Querier, id string) (domain.MenuItem, error)
	Upsert(ctx context.Context, q database.Querier, item domain.MenuItem) error
}

type CatalogRepository struct {
	store *database.Store
}

func NewCatalogRepository(store *database.Store) *CatalogRepository {
	return &CatalogRepository{store: store}
}

func (r *CatalogRepository) MenuItem(ctx context.Context, q database.Querier, id string) (domain.MenuItem, error) {
	var m domain.MenuItem
	err := q.QueryRowContext(ctx, r.store.Rebind(`SELECT id, name, price, available FROM menu_items WHERE id = ?`), id).
		Scan(&m.ID, &m.Name, &m.Price, &m.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MenuItem{}, apperr.NotFound("menu item %s not found", id)
	}
	if err != nil {
		return domain.MenuItem{}, fmt.Errorf("get menu item: %w", err)
	}

	rows, err := q.QueryContext(ctx, r.store.Rebind(`
SELECT id, menu_item_id, name, price, available FROM menu_variants WHERE menu_item_id = ? ORDER BY name
`), id)
	if err != nil {
		return domain.MenuItem{}, fmt.Errorf("get menu variants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v domain.MenuVariant
		if err := rows.Scan(&v.ID, &v.MenuItemID, &v.Name, &v.Price, &v.Available); err != nil {
			return domain.MenuItem{}, fmt.Errorf("scan menu variant: %w", err)
		}
		m.Variants = append(m.Variants, v)
	}
	return m, rows.Err()
}

func (r *CatalogRepository) Upsert(ctx context.Context, q database.Querier, item domain.MenuItem) error {
	if _, err := q.ExecContext(ctx, r.store.Rebind(`
INSERT INTO menu_items (id, name, price, available) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, price = excluded.price, available = excluded.available
`), item.ID, item.Name, item.Price, item.Available); err != nil {
		return fmt.Errorf("upsert menu item %s: %w", item.ID, err)
	}
	for _, v := range item.Variants {
		if _, err := q.ExecContext(ctx, r.store.Rebind(`
INSERT INTO menu_variants (id, menu_item_id, name, price, available) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, price = excluded.price, available = excluded.available
`), v.ID, item.ID, v.Name, v.Price, v.Available); err != nil {
			return fmt.Errorf("upsert menu variant %s: %w", v.ID, err)
		}
	}
	return nil
}
