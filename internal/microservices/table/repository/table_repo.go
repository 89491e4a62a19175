package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
)

type TableRepositoryInterface interface {
	Create(ctx context.Context, q database.Querier, t domain.Table) error
	Get(ctx context.Context, q database.Querier, id string, forUpdate bool) (domain.Table, error)
	List(ctx context.Context, q database.Querier) ([]domain.Table, error)
	ListByIDs(ctx context.Context, q database.Querier, ids []string, forUpdate bool) ([]domain.Table, error)
	IDsByNumbers(ctx context.Context, q database.Querier, numbers []int) ([]string, error)
	Members(ctx context.Context, q database.Querier, primaryID string, forUpdate bool) ([]domain.Table, error)
	ByOrder(ctx context.Context, q database.Querier, orderID string, forUpdate bool) ([]domain.Table, error)
	Update(ctx context.Context, q database.Querier, t domain.Table) error
	Delete(ctx context.Context, q database.Querier, id string) error
	LinkOrder(ctx context.Context, q database.Querier, orderID, tableID string) error
	OrderState(ctx context.Context, q database.Querier, orderID string) (OrderState, error)
}

// OrderState is what release needs to know about the owning order.
type OrderState struct {
	Found  bool
	Status domain.OrderStatus
	Paid   bool
}

type TableRepository struct {
	store *database.Store
}

func NewTableRepository(store *database.Store) *TableRepository {
	return &TableRepository{store: store}
}

const tableColumns = `id, number, capacity, location, status, merged_with, current_order_id, updated_at`

func (r *TableRepository) Create(ctx context.Context, q database.Querier, t domain.Table) error {
	_, err := q.ExecContext(ctx, r.store.Rebind(`
INSERT INTO dining_tables (`+tableColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`), t.ID, t.Number, t.Capacity, t.Location, string(t.Status), nullString(t.MergedWith), nullString(t.CurrentOrderID), database.ToMillis(t.UpdatedAt))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("table number %d already exists", t.Number)
		}
		return fmt.Errorf("insert table: %w", err)
	}
	return nil
}

func (r *TableRepository) Get(ctx context.Context, q database.Querier, id string, forUpdate bool) (domain.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM dining_tables WHERE id = ?`
	if forUpdate {
		query += r.store.Dialect().ForUpdate()
	}
	t, err := scanTable(q.QueryRowContext(ctx, r.store.Rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Table{}, apperr.NotFound("table %s not found", id)
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("get table: %w", err)
	}
	return t, nil
}

func (r *TableRepository) List(ctx context.Context, q database.Querier) ([]domain.Table, error) {
	return r.query(ctx, q, `SELECT `+tableColumns+` FROM dining_tables ORDER BY number`)
}

// ListByIDs returns the tables in number order. Missing ids are NotFound.
func (r *TableRepository) ListByIDs(ctx context.Context, q database.Querier, ids []string, forUpdate bool) ([]domain.Table, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + tableColumns + ` FROM dining_tables WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY number`
	if forUpdate {
		query += r.store.Dialect().ForUpdate()
	}
	tables, err := r.query(ctx, q, query, toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	if len(tables) != len(ids) {
		found := make(map[string]bool, len(tables))
		for _, t := range tables {
			found[t.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, apperr.NotFound("table %s not found", id)
			}
		}
	}
	return tables, nil
}

func (r *TableRepository) IDsByNumbers(ctx context.Context, q database.Querier, numbers []int) ([]string, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	args := make([]any, len(numbers))
	for i, n := range numbers {
		args[i] = n
	}
	rows, err := q.QueryContext(ctx, r.store.Rebind(`SELECT id, number FROM dining_tables WHERE number IN (`+placeholders(len(numbers))+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("resolve table numbers: %w", err)
	}
	defer rows.Close()

	byNumber := make(map[int]string, len(numbers))
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan table number: %w", err)
		}
		byNumber[n] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(numbers))
	for _, n := range numbers {
		id, ok := byNumber[n]
		if !ok {
			return nil, apperr.NotFound("table number %d not found", n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *TableRepository) Members(ctx context.Context, q database.Querier, primaryID string, forUpdate bool) ([]domain.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM dining_tables WHERE merged_with = ? ORDER BY number`
	if forUpdate {
		query += r.store.Dialect().ForUpdate()
	}
	return r.query(ctx, q, query, primaryID)
}

func (r *TableRepository) ByOrder(ctx context.Context, q database.Querier, orderID string, forUpdate bool) ([]domain.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM dining_tables WHERE current_order_id = ? ORDER BY number`
	if forUpdate {
		query += r.store.Dialect().ForUpdate()
	}
	return r.query(ctx, q, query, orderID)
}

func (r *TableRepository) Update(ctx context.Context, q database.Querier, t domain.Table) error {
	res, err := q.ExecContext(ctx, r.store.Rebind(`
UPDATE dining_tables
SET capacity = ?, location = ?, status = ?, merged_with = ?, current_order_id = ?, updated_at = ?
WHERE id = ?
`), t.Capacity, t.Location, string(t.Status), nullString(t.MergedWith), nullString(t.CurrentOrderID), database.ToMillis(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update table: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("table %s not found", t.ID)
	}
	return nil
}

func (r *TableRepository) Delete(ctx context.Context, q database.Querier, id string) error {
	if _, err := q.ExecContext(ctx, r.store.Rebind(`DELETE FROM dining_tables WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete table: %w", err)
	}
	return nil
}

func (r *TableRepository) LinkOrder(ctx context.Context, q database.Querier, orderID, tableID string) error {
	_, err := q.ExecContext(ctx, r.store.Rebind(`
INSERT INTO order_tables (order_id, table_id) VALUES (?, ?)
ON CONFLICT DO NOTHING
`), orderID, tableID)
	if err != nil {
		return fmt.Errorf("link order table: %w", err)
	}
	return nil
}

func (r *TableRepository) OrderState(ctx context.Context, q database.Querier, orderID string) (OrderState, error) {
	var (
		st     OrderState
		status string
	)
	err := q.QueryRowContext(ctx, r.store.Rebind(`
SELECT o.status,
       EXISTS (SELECT 1 FROM bills b WHERE b.order_id = o.id AND NOT b.voided AND b.payment_status = 'paid')
FROM orders o WHERE o.id = ?
`), orderID).Scan(&status, &st.Paid)
	if errors.Is(err, sql.ErrNoRows) {
		return OrderState{}, nil
	}
	if err != nil {
		return OrderState{}, fmt.Errorf("order state: %w", err)
	}
	st.Found = true
	st.Status = domain.OrderStatus(status)
	return st, nil
}

func (r *TableRepository) query(ctx context.Context, q database.Querier, query string, args ...any) ([]domain.Table, error) {
	rows, err := q.QueryContext(ctx, r.store.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Table, 0)
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTable(s scanner) (domain.Table, error) {
	var (
		t                 domain.Table
		status            string
		mergedWith, order sql.NullString
		updated           int64
	)
	if err := s.Scan(&t.ID, &t.Number, &t.Capacity, &t.Location, &status, &mergedWith, &order, &updated); err != nil {
		return domain.Table{}, err
	}
	t.Status = domain.TableStatus(status)
	if mergedWith.Valid {
		v := mergedWith.String
		t.MergedWith = &v
	}
	if order.Valid {
		v := order.String
		t.CurrentOrderID = &v
	}
	t.UpdatedAt = database.FromMillis(updated)
	return t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
