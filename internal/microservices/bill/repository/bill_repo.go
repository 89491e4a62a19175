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

type BillRepositoryInterface interface {
	Insert(ctx context.Context, q database.Querier, b domain.Bill) error
	Get(ctx context.Context, q database.Querier, id string, forUpdate bool) (domain.Bill, error)
	OpenByOrder(ctx context.Context, q database.Querier, orderID string) (domain.Bill, bool, error)
	Update(ctx context.Context, q database.Querier, b domain.Bill) error
	InsertSplits(ctx context.Context, q database.Querier, splits []domain.SplitBill) error
	UpdateSplit(ctx context.Context, q database.Querier, s domain.SplitBill) error
}

type BillRepository struct {
	store *database.Store
}

func NewBillRepository(store *database.Store) *BillRepository {
	return &BillRepository{store: store}
}

const billColumns = `id, order_id, subtotal, discount_type, discount_value, discount_amount, discount_reason,
inclusive_tax, exclusive_tax, service_charge_rate, service_charge, round_off, total, payment_method,
payment_status, paid_at, voided, void_reason, voided_by, voided_at, order_status_before, printed_count,
is_split, created_by, created_at, updated_at`

func (r *BillRepository) Insert(ctx context.Context, q database.Querier, b domain.Bill) error {
	_, err := q.ExecContext(ctx, r.store.Rebind(`INSERT INTO bills (`+billColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.OrderID, b.Subtotal, string(b.DiscountType), b.DiscountValue, b.DiscountAmount, b.DiscountReason,
		b.InclusiveTax, b.ExclusiveTax, b.ServiceChargeRate, b.ServiceCharge, b.RoundOff, b.Total, string(b.PaymentMethod),
		string(b.PaymentStatus), database.MillisOrNull(b.PaidAt), b.Voided, b.VoidReason, b.VoidedBy,
		database.MillisOrNull(b.VoidedAt), string(b.OrderStatusBefore), b.PrintedCount, b.IsSplit, b.CreatedBy,
		database.ToMillis(b.CreatedAt), database.ToMillis(b.UpdatedAt),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("order %s already has an open bill", b.OrderID)
		}
		return fmt.Errorf("insert bill: %w", err)
	}
	for i, t := range b.Taxes {
		if _, err := q.ExecContext(ctx, r.store.Rebind(`
INSERT INTO bill_taxes (bill_id, line_no, tax_id, name, rate, inclusive, amount) VALUES (?, ?, ?, ?, ?, ?, ?)
`), b.ID, i+1, t.TaxID, t.Name, t.Rate, t.Inclusive, t.Amount); err != nil {
			return fmt.Errorf("insert bill tax: %w", err)
		}
	}
	return nil
}

func (r *BillRepository) Get(ctx context.Context, q database.Querier, id string, forUpdate bool) (domain.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = ?`
	if forUpdate {
		query += r.store.Dialect().ForUpdate()
	}
	b, err := scanBill(q.QueryRowContext(ctx, r.store.Rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bill{}, apperr.NotFound("bill %s not found", id)
	}
	if err != nil {
		return domain.Bill{}, fmt.Errorf("get bill: %w", err)
	}
	if err := r.attach(ctx, q, &b); err != nil {
		return domain.Bill{}, err
	}
	return b, nil
}

// OpenByOrder returns the non-voided bill of orderID, if any.
func (r *BillRepository) OpenByOrder(ctx context.Context, q database.Querier, orderID string) (domain.Bill, bool, error) {
	b, err := scanBill(q.QueryRowContext(ctx, r.store.Rebind(`SELECT `+billColumns+` FROM bills WHERE order_id = ? AND NOT voided`), orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bill{}, false, nil
	}
	if err != nil {
		return domain.Bill{}, false, fmt.Errorf("open bill by order: %w", err)
	}
	if err := r.attach(ctx, q, &b); err != nil {
		return domain.Bill{}, false, err
	}
	return b, true, nil
}

// Update writes the mutable part of a bill. Amounts are fixed at generation.
func (r *BillRepository) Update(ctx context.Context, q database.Querier, b domain.Bill) error {
	res, err := q.ExecContext(ctx, r.store.Rebind(`
UPDATE bills SET payment_method = ?, payment_status = ?, paid_at = ?, voided = ?, void_reason = ?, voided_by = ?,
    voided_at = ?, printed_count = ?, is_split = ?, updated_at = ?
WHERE id = ?
`), string(b.PaymentMethod), string(b.PaymentStatus), database.MillisOrNull(b.PaidAt), b.Voided, b.VoidReason,
		b.VoidedBy, database.MillisOrNull(b.VoidedAt), b.PrintedCount, b.IsSplit, database.ToMillis(b.UpdatedAt), b.ID)
	if err != nil {
		return fmt.Errorf("update bill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("bill %s not found", b.ID)
	}
	return nil
}

func (r *BillRepository) InsertSplits(ctx context.Context, q database.Querier, splits []domain.SplitBill) error {
	for _, s := range splits {
		if _, err := q.ExecContext(ctx, r.store.Rebind(`
INSERT INTO split_bills (id, bill_id, share_index, amount, payment_method, payment_status, paid_at) VALUES (?, ?, ?, ?, ?, ?, ?)
`), s.ID, s.BillID, s.ShareIndex, s.Amount, string(s.PaymentMethod), string(s.PaymentStatus), database.MillisOrNull(s.PaidAt)); err != nil {
			if database.IsUniqueViolation(err) {
				return apperr.Conflict("bill %s is already split", s.BillID)
			}
			return fmt.Errorf("insert split bill: %w", err)
		}
	}
	return nil
}

func (r *BillRepository) UpdateSplit(ctx context.Context, q database.Querier, s domain.SplitBill) error {
	res, err := q.ExecContext(ctx, r.store.Rebind(`
UPDATE split_bills SET payment_method = ?, payment_status = ?, paid_at = ? WHERE id = ? AND bill_id = ?
`), string(s.PaymentMethod), string(s.PaymentStatus), database.MillisOrNull(s.PaidAt), s.ID, s.BillID)
	if err != nil {
		return fmt.Errorf("update split bill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("split %s not found on bill %s", s.ID, s.BillID)
	}
	return nil
}

func (r *BillRepository) attach(ctx context.Context, q database.Querier, b *domain.Bill) error {
	taxes, err := q.QueryContext(ctx, r.store.Rebind(`
SELECT tax_id, name, rate, inclusive, amount FROM bill_taxes WHERE bill_id = ? ORDER BY line_no
`), b.ID)
	if err != nil {
		return fmt.Errorf("load bill taxes: %w", err)
	}
	b.Taxes = make([]domain.TaxLine, 0)
	for taxes.Next() {
		var t domain.TaxLine
		if err := taxes.Scan(&t.TaxID, &t.Name, &t.Rate, &t.Inclusive, &t.Amount); err != nil {
			taxes.Close()
			return fmt.Errorf("scan bill tax: %w", err)
		}
		b.Taxes = append(b.Taxes, t)
	}
	if err := taxes.Err(); err != nil {
		taxes.Close()
		return err
	}
	taxes.Close()

	splits, err := q.QueryContext(ctx, r.store.Rebind(`
SELECT id, bill_id, share_index, amount, payment_method, payment_status, paid_at FROM split_bills WHERE bill_id = ? ORDER BY share_index
`), b.ID)
	if err != nil {
		return fmt.Errorf("load split bills: %w", err)
	}
	defer splits.Close()
	b.Splits = nil
	for splits.Next() {
		var (
			s              domain.SplitBill
			method, status string
			paidAt         sql.NullInt64
		)
		if err := splits.Scan(&s.ID, &s.BillID, &s.ShareIndex, &s.Amount, &method, &status, &paidAt); err != nil {
			return fmt.Errorf("scan split bill: %w", err)
		}
		s.PaymentMethod = domain.PaymentMethod(method)
		s.PaymentStatus = domain.PaymentStatus(status)
		s.PaidAt = database.NullMillis(paidAt)
		b.Splits = append(b.Splits, s)
	}
	return splits.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBill(s scanner) (domain.Bill, error) {
	var (
		b                                          domain.Bill
		discountType, method, status, statusBefore string
		paidAt, voidedAt                           sql.NullInt64
		createdAt, updatedAt                       int64
	)
	err := s.Scan(&b.ID, &b.OrderID, &b.Subtotal, &discountType, &b.DiscountValue, &b.DiscountAmount, &b.DiscountReason,
		&b.InclusiveTax, &b.ExclusiveTax, &b.ServiceChargeRate, &b.ServiceCharge, &b.RoundOff, &b.Total, &method,
		&status, &paidAt, &b.Voided, &b.VoidReason, &b.VoidedBy, &voidedAt, &statusBefore, &b.PrintedCount,
		&b.IsSplit, &b.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return domain.Bill{}, err
	}
	b.DiscountType = domain.DiscountType(strings.TrimSpace(discountType))
	b.PaymentMethod = domain.PaymentMethod(method)
	b.PaymentStatus = domain.PaymentStatus(status)
	b.OrderStatusBefore = domain.OrderStatus(statusBefore)
	b.PaidAt = database.NullMillis(paidAt)
	b.VoidedAt = database.NullMillis(voidedAt)
	b.CreatedAt = database.FromMillis(createdAt)
	b.UpdatedAt = database.FromMillis(updatedAt)
	return b, nil
}
