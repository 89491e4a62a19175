package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
	"restaurant-pos/internal/microservices/order/domain/dto"
)

type OrderRepositoryInterface interface {
	Insert(ctx context.Context, q database.Querier, o domain.Order) error
	InsertItems(ctx context.Context, q database.Querier, items []domain.OrderItem) error
	Get(ctx context.Context, q database.Querier, id string, forUpdate bool) (domain.Order, error)
	ListOpen(ctx context.Context, q database.Querier) ([]domain.Order, error)
	KitchenQueue(ctx context.Context, q database.Querier) ([]dto.KitchenItem, error)
	UpdateStatus(ctx context.Context, q database.Querier, id string, status domain.OrderStatus, at time.Time) error
	UpdateItemStatus(ctx context.Context, q database.Querier, itemID string, status domain.ItemStatus, at time.Time) error
	CountBetween(ctx context.Context, q database.Querier, from, to time.Time) (int, error)
}

type OrderRepository struct {
	store *database.Store
}

func NewOrderRepository(store *database.Store) *OrderRepository {
	return &OrderRepository{store: store}
}

func (r *OrderRepository) CountBetween(ctx context.Context, q database.Querier, from, to time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, r.store.Rebind(`SELECT COUNT(*) FROM orders WHERE ordered_at >= ? AND ordered_at < ?`),
		database.ToMillis(from), database.ToMillis(to)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get order count: %w", err)
	}
	return count, nil
}

func (r *OrderRepository) Insert(ctx context.Context, q database.Querier, o domain.Order) error {
	_, err := q.ExecContext(ctx, r.store.Rebind(`
INSERT INTO orders (id, order_number, order_type, status, notes, created_by, ordered_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`), o.ID, o.OrderNumber, string(o.Type), string(o.Status), o.Notes, o.CreatedBy,
		database.ToMillis(o.OrderedAt), database.ToMillis(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return r.InsertItems(ctx, q, o.Items)
}

func (r *OrderRepository) InsertItems(ctx context.Context, q database.Querier, items []domain.OrderItem) error {
	for _, it := range items {
		_, err := q.ExecContext(ctx, r.store.Rebind(`
INSERT INTO order_items (id, order_id, line_no, menu_item_id, name, variant, quantity, unit_price, instructions, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`), it.ID, it.OrderID, it.LineNo, it.MenuItemID, it.Name, it.Variant, it.Quantity, it.UnitPrice, it.Instructions,
			string(it.Status), database.ToMillis(it.CreatedAt), database.ToMillis(it.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert order item %s: %w", it.Name, err)
		}
	}
	return nil
}

const orderColumns = `id, order_number, order_type, status, notes, created_by, ordered_at, updated_at`

// Get loads the order aggregate: the row, its items in line order and its tables.
func (r *OrderRepository) Get(ctx context.Context, q database.Querier, id string, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	if forUpdate {
		query += r.store.Dialect().ForUpdate()
	}
	o, err := scanOrder(q.QueryRowContext(ctx, r.store.Rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	orders := []domain.Order{o}
	if err := r.attach(ctx, q, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *OrderRepository) ListOpen(ctx context.Context, q database.Querier) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, r.store.Rebind(`
SELECT `+orderColumns+` FROM orders WHERE status NOT IN ('billed', 'voided') ORDER BY ordered_at, order_number
`))
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := r.attach(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attach fills items and table ids for all orders with one query each.
func (r *OrderRepository) attach(ctx context.Context, q database.Querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	idx := make(map[string]int, len(orders))
	args := make([]any, len(orders))
	for i := range orders {
		idx[orders[i].ID] = i
		args[i] = orders[i].ID
		orders[i].Items = make([]domain.OrderItem, 0)
		orders[i].TableIDs = make([]string, 0)
	}
	in := placeholders(len(orders))

	items, err := q.QueryContext(ctx, r.store.Rebind(`
SELECT id, order_id, line_no, menu_item_id, name, variant, quantity, unit_price, instructions, status, created_at, updated_at
FROM order_items WHERE order_id IN (`+in+`) ORDER BY order_id, line_no
`), args...)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	for items.Next() {
		var (
			it                 domain.OrderItem
			status             string
			created, updatedAt int64
		)
		if err := items.Scan(&it.ID, &it.OrderID, &it.LineNo, &it.MenuItemID, &it.Name, &it.Variant, &it.Quantity,
			&it.UnitPrice, &it.Instructions, &status, &created, &updatedAt); err != nil {
			items.Close()
			return fmt.Errorf("scan order item: %w", err)
		}
		it.Status = domain.ItemStatus(status)
		it.CreatedAt = database.FromMillis(created)
		it.UpdatedAt = database.FromMillis(updatedAt)
		i := idx[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	if err := items.Err(); err != nil {
		items.Close()
		return err
	}
	items.Close()

	tables, err := q.QueryContext(ctx, r.store.Rebind(`
SELECT ot.order_id, ot.table_id FROM order_tables ot WHERE ot.order_id IN (`+in+`) ORDER BY ot.order_id, ot.table_id
`), args...)
	if err != nil {
		return fmt.Errorf("load order tables: %w", err)
	}
	defer tables.Close()
	for tables.Next() {
		var orderID, tableID string
		if err := tables.Scan(&orderID, &tableID); err != nil {
			return fmt.Errorf("scan order table: %w", err)
		}
		i := idx[orderID]
		orders[i].TableIDs = append(orders[i].TableIDs, tableID)
	}
	return tables.Err()
}

func (r *OrderRepository) KitchenQueue(ctx context.Context, q database.Querier) ([]dto.KitchenItem, error) {
	rows, err := q.QueryContext(ctx, r.store.Rebind(`
SELECT i.id, i.order_id, o.order_number, o.order_type, i.name, i.variant, i.quantity, i.instructions, i.status, o.ordered_at
FROM order_items i
JOIN orders o ON o.id = i.order_id
WHERE o.status NOT IN ('billed', 'voided') AND i.status <> 'served'
ORDER BY o.ordered_at, o.order_number, i.line_no
`))
	if err != nil {
		return nil, fmt.Errorf("kitchen queue: %w", err)
	}
	defer rows.Close()

	out := make([]dto.KitchenItem, 0)
	for rows.Next() {
		var (
			k                 dto.KitchenItem
			orderType, status string
			orderedAt         int64
		)
		if err := rows.Scan(&k.ItemID, &k.OrderID, &k.OrderNumber, &orderType, &k.Name, &k.Variant, &k.Quantity,
			&k.Instructions, &status, &orderedAt); err != nil {
			return nil, fmt.Errorf("scan kitchen item: %w", err)
		}
		k.OrderType = domain.OrderType(orderType)
		k.Status = domain.ItemStatus(status)
		k.OrderedAt = database.FromMillis(orderedAt)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, q database.Querier, id string, status domain.OrderStatus, at time.Time) error {
	res, err := q.ExecContext(ctx, r.store.Rebind(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), database.ToMillis(at), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("order %s not found", id)
	}
	return nil
}

func (r *OrderRepository) UpdateItemStatus(ctx context.Context, q database.Querier, itemID string, status domain.ItemStatus, at time.Time) error {
	res, err := q.ExecContext(ctx, r.store.Rebind(`UPDATE order_items SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), database.ToMillis(at), itemID)
	if err != nil {
		return fmt.Errorf("update item status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("order item %s not found", itemID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (domain.Order, error) {
	var (
		o                  domain.Order
		typ, status        string
		orderedAt, updated int64
	)
	if err := s.Scan(&o.ID, &o.OrderNumber, &typ, &status, &o.Notes, &o.CreatedBy, &orderedAt, &updated); err != nil {
		return domain.Order{}, err
	}
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.OrderedAt = database.FromMillis(orderedAt)
	o.UpdatedAt = database.FromMillis(updated)
	return o, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
