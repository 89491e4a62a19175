package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/common/keylock"
	"restaurant-pos/internal/common/logger"
	"restaurant-pos/internal/common/metrics"
	"restaurant-pos/internal/common/otel"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
	audit "restaurant-pos/internal/microservices/audit/service"
	"restaurant-pos/internal/microservices/bill/domain/dto"
	"restaurant-pos/internal/microservices/bill/repository"
	tables "restaurant-pos/internal/microservices/table/service"
)

type BillServiceInterface interface {
	Generate(ctx context.Context, actor domain.Actor, req dto.GenerateBillRequest) (domain.Bill, error)
	UpdatePayment(ctx context.Context, actor domain.Actor, billID string, req dto.PaymentRequest) (domain.Bill, error)
	Void(ctx context.Context, actor domain.Actor, billID, reason string) (domain.Bill, error)
	Split(ctx context.Context, actor domain.Actor, billID string, req dto.SplitRequest) (domain.Bill, error)
	PaySplit(ctx context.Context, actor domain.Actor, billID, splitID string, method domain.PaymentMethod) (domain.Bill, error)
	RecordPrint(ctx context.Context, actor domain.Actor, billID string) (domain.Bill, error)
	GetBill(ctx context.Context, billID string) (dto.BillView, error)
	ListTaxes(ctx context.Context) ([]domain.Tax, error)
	SyncTaxes(ctx context.Context, taxes []config.TaxConfig) error
}

// OrderStore is the slice of the order repository billing depends on.
type OrderStore interface {
	Get(ctx context.Context, q database.Querier, id string, forUpdate bool) (domain.Order, error)
	UpdateStatus(ctx context.Context, q database.Querier, id string, status domain.OrderStatus, at time.Time) error
}

type BillService struct {
	store    *database.Store
	repo     repository.BillRepositoryInterface
	taxes    repository.TaxRepositoryInterface
	orders   OrderStore
	tables   tables.TableServiceInterface
	audit    audit.Recorder
	notifier domain.Notifier
	locks    *keylock.Locker
	metrics  *metrics.Metrics
	shop     config.ShopConfig
	lg       *logger.Logger
	now      func() time.Time
}

func NewBillService(store *database.Store, repo repository.BillRepositoryInterface, taxes repository.TaxRepositoryInterface,
	orders OrderStore, registry tables.TableServiceInterface, recorder audit.Recorder, notifier domain.Notifier,
	locks *keylock.Locker, m *metrics.Metrics, shop config.ShopConfig) *BillService {
	return &BillService{
		store:    store,
		repo:     repo,
		taxes:    taxes,
		orders:   orders,
		tables:   registry,
		audit:    recorder,
		notifier: notifier,
		locks:    locks,
		metrics:  m,
		shop:     shop,
		lg:       logger.New("bill-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Generate computes the single open bill of an order and moves the order and
// its tables to billed.
func (s *BillService) Generate(ctx context.Context, actor domain.Actor, req dto.GenerateBillRequest) (b domain.Bill, err error) {
	ctx, span := otel.StartSpan(ctx, "bill.generate", attribute.String("order_id", req.OrderID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("bill", "generate", err) }()

	if strings.TrimSpace(req.OrderID) == "" {
		return domain.Bill{}, apperr.Validation("orderId is required")
	}
	discount := Discount{Type: domain.DiscountType(req.DiscountType), Reason: strings.TrimSpace(req.DiscountReason)}
	if req.DiscountAmount != nil {
		discount.Value = *req.DiscountAmount
	}
	rate := s.shop.DefaultServiceChargeRate
	if req.ServiceChargeRate != nil {
		rate = *req.ServiceChargeRate
	}

	unlock := s.locks.Lock(keylock.Order(req.OrderID))
	defer unlock()
	unlockTables, err := s.tables.LockOrderTables(ctx, req.OrderID)
	if err != nil {
		return domain.Bill{}, err
	}
	defer unlockTables()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		o, err := s.orders.Get(ctx, tx, req.OrderID, true)
		if err != nil {
			return err
		}
		if _, open, err := s.repo.OpenByOrder(ctx, tx, o.ID); err != nil {
			return err
		} else if open {
			return apperr.Conflict("order %s already has an open bill", o.OrderNumber)
		}
		if o.Status == domain.OrderVoided {
			return apperr.InvalidState("order %s is voided", o.OrderNumber)
		}
		if len(o.Items) == 0 {
			return apperr.InvalidState("order %s has no items", o.OrderNumber)
		}

		taxes, err := s.taxes.Active(ctx, tx)
		if err != nil {
			return err
		}
		calc, err := Calculate(CalcInput{
			Items:             o.Items,
			Discount:          discount,
			Taxes:             taxes,
			ServiceChargeRate: rate,
			RoundingIncrement: s.shop.RoundingIncrement,
		})
		if err != nil {
			return err
		}

		now := s.now()
		b = domain.Bill{
			ID:                uuid.NewString(),
			OrderID:           o.ID,
			Subtotal:          calc.Subtotal,
			DiscountType:      discount.Type,
			DiscountValue:     discount.Value,
			DiscountAmount:    calc.DiscountAmount,
			DiscountReason:    discount.Reason,
			Taxes:             calc.Taxes,
			InclusiveTax:      calc.InclusiveTax,
			ExclusiveTax:      calc.ExclusiveTax,
			ServiceChargeRate: rate,
			ServiceCharge:     calc.ServiceCharge,
			RoundOff:          calc.RoundOff,
			Total:             calc.Total,
			PaymentStatus:     domain.PaymentPending,
			OrderStatusBefore: o.Status,
			CreatedBy:         actor.ID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.repo.Insert(ctx, tx, b); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, tx, o.ID, domain.OrderBilled, now); err != nil {
			return err
		}
		if _, err := s.tables.MarkOrderTablesTx(ctx, tx, actor, o.ID, domain.TableBilled); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, "bill.generate", domain.EntityBill, b.ID, nil, b, discount.Reason); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, "order.status", domain.EntityOrder, o.ID,
			map[string]any{"status": o.Status}, map[string]any{"status": domain.OrderBilled}, ""); err != nil {
			return err
		}
		s.publishBill(tx, b)
		s.publishOrder(tx, o, domain.OrderBilled)
		return nil
	})
	if err != nil {
		return domain.Bill{}, err
	}
	s.lg.Ctx(ctx).Info("bill_generated", map[string]any{"bill_id": b.ID, "order_id": b.OrderID, "total": b.Total})
	return b, nil
}

// UpdatePayment settles an unsplit bill. Paid bills are final and release
// their tables.
func (s *BillService) UpdatePayment(ctx context.Context, actor domain.Actor, billID string, req dto.PaymentRequest) (b domain.Bill, err error) {
	ctx, span := otel.StartSpan(ctx, "bill.update_payment", attribute.String("bill_id", billID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("bill", "update_payment", err) }()

	status := domain.PaymentStatus(req.PaymentStatus)
	if status != domain.PaymentPending && status != domain.PaymentPaid {
		return domain.Bill{}, apperr.Validation("payment_status must be pending or paid")
	}
	method := domain.PaymentMethod(req.PaymentMethod)
	if (status == domain.PaymentPaid || method != "") && !method.Valid() {
		return domain.Bill{}, apperr.Validation("unknown payment method %q", req.PaymentMethod)
	}

	unlock, err := s.lockBill(ctx, billID)
	if err != nil {
		return domain.Bill{}, err
	}
	defer unlock()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		b, err = s.repo.Get(ctx, tx, billID, true)
		if err != nil {
			return err
		}
		switch {
		case b.Voided:
			return apperr.InvalidState("bill %s is voided", b.ID)
		case b.IsSplit:
			return apperr.InvalidState("bill %s is split, pay its shares", b.ID)
		case b.PaymentStatus == domain.PaymentPaid:
			return apperr.InvalidState("bill %s is already paid", b.ID)
		}
		if b.PaymentStatus == status && b.PaymentMethod == method {
			return nil
		}
		before := paymentState(b)
		now := s.now()
		b.PaymentMethod = method
		b.PaymentStatus = status
		b.UpdatedAt = now
		if status == domain.PaymentPaid {
			b.PaidAt = &now
		}
		if err := s.repo.Update(ctx, tx, b); err != nil {
			return err
		}
		if status == domain.PaymentPaid {
			if _, err := s.tables.ReleaseOrderTx(ctx, tx, actor, b.OrderID); err != nil {
				return err
			}
		}
		if err := s.record(ctx, tx, actor, "bill.payment", domain.EntityBill, b.ID, before, paymentState(b), ""); err != nil {
			return err
		}
		s.publishBill(tx, b)
		return nil
	})
	if err != nil {
		return domain.Bill{}, err
	}
	return b, nil
}

// Void cancels an unpaid bill, restores the order to its pre-bill status and
// puts its tables back to occupied. The order can then be billed again.
func (s *BillService) Void(ctx context.Context, actor domain.Actor, billID, reason string) (b domain.Bill, err error) {
	ctx, span := otel.StartSpan(ctx, "bill.void", attribute.String("bill_id", billID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("bill", "void", err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Bill{}, apperr.Validation("void_reason is required")
	}

	unlock, err := s.lockBill(ctx, billID)
	if err != nil {
		return domain.Bill{}, err
	}
	defer unlock()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		b, err = s.repo.Get(ctx, tx, billID, true)
		if err != nil {
			return err
		}
		if b.Voided {
			return apperr.InvalidState("bill %s is already voided", b.ID)
		}
		if b.PaymentStatus == domain.PaymentPaid {
			return apperr.InvalidState("bill %s is paid", b.ID)
		}
		for _, sp := range b.Splits {
			if sp.PaymentStatus == domain.PaymentPaid {
				return apperr.InvalidState("share %d of bill %s is paid", sp.ShareIndex, b.ID)
			}
		}

		o, err := s.orders.Get(ctx, tx, b.OrderID, true)
		if err != nil {
			return err
		}
		restored := b.OrderStatusBefore
		if restored == "" || !restored.Open() {
			restored = domain.ReduceOrderStatus(o.Items)
		}

		now := s.now()
		b.Voided = true
		b.VoidReason = reason
		b.VoidedBy = actor.ID
		b.VoidedAt = &now
		b.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, b); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, tx, o.ID, restored, now); err != nil {
			return err
		}
		if _, err := s.tables.MarkOrderTablesTx(ctx, tx, actor, o.ID, domain.TableOccupied); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, "bill.void", domain.EntityBill, b.ID,
			map[string]any{"voided": false}, map[string]any{"voided": true}, reason); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, "order.status", domain.EntityOrder, o.ID,
			map[string]any{"status": o.Status}, map[string]any{"status": restored}, reason); err != nil {
			return err
		}
		s.publishBill(tx, b)
		s.publishOrder(tx, o, restored)
		return nil
	})
	if err != nil {
		return domain.Bill{}, err
	}
	s.lg.Ctx(ctx).Info("bill_voided", map[string]any{"bill_id": b.ID, "order_id": b.OrderID, "reason": reason})
	return b, nil
}

// Split divides the total into shares that sum to it exactly.
func (s *BillService) Split(ctx context.Context, actor domain.Actor, billID string, req dto.SplitRequest) (b domain.Bill, err error) {
	ctx, span := otel.StartSpan(ctx, "bill.split", attribute.String("bill_id", billID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("bill", "split", err) }()

	if req.SplitCount != 0 && len(req.Shares) > 0 {
		return domain.Bill{}, apperr.Validation("send either split_count or shares")
	}
	if req.SplitCount == 0 && len(req.Shares) == 0 {
		return domain.Bill{}, apperr.Validation("split_count must be at least 2")
	}

	unlock, err := s.lockBill(ctx, billID)
	if err != nil {
		return domain.Bill{}, err
	}
	defer unlock()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		b, err = s.repo.Get(ctx, tx, billID, true)
		if err != nil {
			return err
		}
		switch {
		case b.Voided:
			return apperr.InvalidState("bill %s is voided", b.ID)
		case b.PaymentStatus == domain.PaymentPaid:
			return apperr.InvalidState("bill %s is paid", b.ID)
		case b.IsSplit:
			return apperr.InvalidState("bill %s is already split", b.ID)
		}

		var amounts []int64
		if req.SplitCount != 0 {
			amounts, err = EqualShares(b.Total, req.SplitCount)
		} else {
			amounts, err = ExplicitShares(b.Total, req.Shares)
		}
		if err != nil {
			return err
		}

		splits := make([]domain.SplitBill, len(amounts))
		for i, a := range amounts {
			splits[i] = domain.SplitBill{
				ID:            uuid.NewString(),
				BillID:        b.ID,
				ShareIndex:    i + 1,
				Amount:        a,
				PaymentStatus: domain.PaymentPending,
			}
		}
		if err := s.repo.InsertSplits(ctx, tx, splits); err != nil {
			return err
		}
		b.IsSplit = true
		b.Splits = splits
		b.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, b); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, "bill.split", domain.EntityBill, b.ID, nil, map[string]any{"shares": amounts}, ""); err != nil {
			return err
		}
		s.publishBill(tx, b)
		return nil
	})
	if err != nil {
		return domain.Bill{}, err
	}
	return b, nil
}

// PaySplit settles one share. The bill becomes paid with its last share.
func (s *BillService) PaySplit(ctx context.Context, actor domain.Actor, billID, splitID string, method domain.PaymentMethod) (b domain.Bill, err error) {
	ctx, span := otel.StartSpan(ctx, "bill.pay_split", attribute.String("bill_id", billID), attribute.String("split_id", splitID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("bill", "pay_split", err) }()

	if !method.Valid() {
		return domain.Bill{}, apperr.Validation("unknown payment method %q", method)
	}

	unlock, err := s.lockBill(ctx, billID)
	if err != nil {
		return domain.Bill{}, err
	}
	defer unlock()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		b, err = s.repo.Get(ctx, tx, billID, true)
		if err != nil {
			return err
		}
		if b.Voided {
			return apperr.InvalidState("bill %s is voided", b.ID)
		}
		if !b.IsSplit {
			return apperr.InvalidState("bill %s is not split", b.ID)
		}
		idx := -1
		for i := range b.Splits {
			if b.Splits[i].ID == splitID {
				idx = i
			}
		}
		if idx < 0 {
			return apperr.NotFound("split %s not found on bill %s", splitID, b.ID)
		}
		if b.Splits[idx].PaymentStatus == domain.PaymentPaid {
			return apperr.InvalidState("share %d is already paid", b.Splits[idx].ShareIndex)
		}

		now := s.now()
		share := b.Splits[idx]
		share.PaymentMethod = method
		share.PaymentStatus = domain.PaymentPaid
		share.PaidAt = &now
		if err := s.repo.UpdateSplit(ctx, tx, share); err != nil {
			return err
		}
		b.Splits[idx] = share

		allPaid, common := true, method
		for _, sp := range b.Splits {
			if sp.PaymentStatus != domain.PaymentPaid {
				allPaid = false
			}
			if sp.PaymentMethod != common {
				common = domain.MethodOther
			}
		}
		b.UpdatedAt = now
		if allPaid {
			b.PaymentStatus = domain.PaymentPaid
			b.PaymentMethod = common
			b.PaidAt = &now
		}
		if err := s.repo.Update(ctx, tx, b); err != nil {
			return err
		}
		if allPaid {
			if _, err := s.tables.ReleaseOrderTx(ctx, tx, actor, b.OrderID); err != nil {
				return err
			}
		}
		if err := s.record(ctx, tx, actor, "bill.split_payment", domain.EntityBill, b.ID, nil,
			map[string]any{"share_index": share.ShareIndex, "amount": share.Amount, "method": method, "bill_paid": allPaid}, ""); err != nil {
			return err
		}
		s.publishBill(tx, b)
		return nil
	})
	if err != nil {
		return domain.Bill{}, err
	}
	return b, nil
}

// RecordPrint counts a receipt print. Voided bills can be reprinted.
func (s *BillService) RecordPrint(ctx context.Context, actor domain.Actor, billID string) (b domain.Bill, err error) {
	ctx, span := otel.StartSpan(ctx, "bill.print", attribute.String("bill_id", billID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("bill", "print", err) }()

	unlock := s.locks.Lock(keylock.Bill(billID))
	defer unlock()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		b, err = s.repo.Get(ctx, tx, billID, true)
		if err != nil {
			return err
		}
		b.PrintedCount++
		b.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, b); err != nil {
			return err
		}
		return s.record(ctx, tx, actor, "bill.print", domain.EntityBill, b.ID,
			map[string]any{"printed_count": b.PrintedCount - 1}, map[string]any{"printed_count": b.PrintedCount}, "")
	})
	if err != nil {
		return domain.Bill{}, err
	}
	return b, nil
}

func (s *BillService) GetBill(ctx context.Context, billID string) (dto.BillView, error) {
	b, err := s.repo.Get(ctx, s.store.DB(), billID, false)
	if err != nil {
		return dto.BillView{}, database.MapError(ctx, "get bill", err)
	}
	o, err := s.orders.Get(ctx, s.store.DB(), b.OrderID, false)
	if err != nil {
		return dto.BillView{}, database.MapError(ctx, "get bill order", err)
	}
	return buildView(b, o, s.shop), nil
}

func (s *BillService) ListTaxes(ctx context.Context) ([]domain.Tax, error) {
	taxes, err := s.taxes.List(ctx, s.store.DB())
	if err != nil {
		return nil, database.MapError(ctx, "list taxes", err)
	}
	return taxes, nil
}

// SyncTaxes upserts the configured taxes by name. Taxes missing from the
// config are left as they are.
func (s *BillService) SyncTaxes(ctx context.Context, taxes []config.TaxConfig) error {
	if len(taxes) == 0 {
		return nil
	}
	return s.store.WithTx(ctx, func(tx *database.Tx) error {
		for _, t := range taxes {
			if err := s.taxes.Upsert(ctx, tx, domain.Tax{
				Name:      strings.TrimSpace(t.Name),
				Rate:      t.Rate,
				Inclusive: t.Inclusive,
				Active:    t.Active,
			}); err != nil {
				return err
			}
		}
		s.lg.Info("taxes_synced", map[string]any{"count": len(taxes)})
		return nil
	})
}

// lockBill takes the bill, order and table locks, in that order. The bill's
// order never changes, so reading it outside the transaction is safe.
func (s *BillService) lockBill(ctx context.Context, billID string) (func(), error) {
	b, err := s.repo.Get(ctx, s.store.DB(), billID, false)
	if err != nil {
		return nil, database.MapError(ctx, "get bill", err)
	}
	unlock := s.locks.Lock(keylock.Bill(billID), keylock.Order(b.OrderID))
	unlockTables, err := s.tables.LockOrderTables(ctx, b.OrderID)
	if err != nil {
		unlock()
		return nil, err
	}
	return func() {
		unlockTables()
		unlock()
	}, nil
}

func paymentState(b domain.Bill) map[string]any {
	return map[string]any{"payment_method": b.PaymentMethod, "payment_status": b.PaymentStatus}
}

func (s *BillService) publishBill(tx *database.Tx, b domain.Bill) {
	hint := map[string]any{
		"bill_id":        b.ID,
		"order_id":       b.OrderID,
		"payment_status": b.PaymentStatus,
		"voided":         b.Voided,
		"is_split":       b.IsSplit,
	}
	tx.AfterCommit(func() {
		s.notifier.Publish(domain.ChannelOrders, domain.EventBillUpdated, hint)
	})
}

func (s *BillService) publishOrder(tx *database.Tx, o domain.Order, status domain.OrderStatus) {
	hint := map[string]any{"order_id": o.ID, "order_number": o.OrderNumber, "status": status}
	tx.AfterCommit(func() {
		s.notifier.Publish(domain.ChannelKitchen, domain.EventOrderUpdated, hint)
		s.notifier.Publish(domain.ChannelOrders, domain.EventOrderUpdated, hint)
	})
}

func (s *BillService) record(ctx context.Context, tx *database.Tx, actor domain.Actor, action, entityType, entityID string, before, after any, note string) error {
	return s.audit.Record(ctx, tx, audit.Entry{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
		Note:       note,
	})
}
