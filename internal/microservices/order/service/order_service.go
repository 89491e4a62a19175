package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/common/keylock"
	"restaurant-pos/internal/common/logger"
	"restaurant-pos/internal/common/metrics"
	"restaurant-pos/internal/common/otel"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
	audit "restaurant-pos/internal/microservices/audit/service"
	"restaurant-pos/internal/microservices/order/domain/dto"
	"restaurant-pos/internal/microservices/order/repository"
	tables "restaurant-pos/internal/microservices/table/service"
)

type OrderServiceInterface interface {
	CreateOrder(ctx context.Context, actor domain.Actor, req dto.CreateOrderRequest) (domain.Order, error)
	AdvanceItem(ctx context.Context, actor domain.Actor, orderID, itemID string, req dto.AdvanceItemRequest) (domain.OrderItem, error)
	AppendItems(ctx context.Context, actor domain.Actor, orderID string, items []domain.ItemInput) (domain.Order, error)
	CancelOrder(ctx context.Context, actor domain.Actor, orderID, reason string) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOpenOrders(ctx context.Context) ([]domain.Order, error)
	KitchenQueue(ctx context.Context) ([]dto.KitchenItem, error)
}

type OrderService struct {
	store    *database.Store
	repo     repository.OrderRepositoryInterface
	catalog  repository.CatalogRepositoryInterface
	tables   tables.TableServiceInterface
	audit    audit.Recorder
	notifier domain.Notifier
	locks    *keylock.Locker
	metrics  *metrics.Metrics
	lg       *logger.Logger
	now      func() time.Time
}

func NewOrderService(store *database.Store, repo repository.OrderRepositoryInterface, catalog repository.CatalogRepositoryInterface,
	registry tables.TableServiceInterface, recorder audit.Recorder, notifier domain.Notifier, locks *keylock.Locker, m *metrics.Metrics) *OrderService {
	return &OrderService{
		store:    store,
		repo:     repo,
		catalog:  catalog,
		tables:   registry,
		audit:    recorder,
		notifier: notifier,
		locks:    locks,
		metrics:  m,
		lg:       logger.New("order-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

const orderNumberAttempts = 3

func (s *OrderService) CreateOrder(ctx context.Context, actor domain.Actor, req dto.CreateOrderRequest) (o domain.Order, err error) {
	ctx, span := otel.StartSpan(ctx, "order.create")
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("order", "create", err) }()

	// 1. Basic validation
	if len(req.Items) == 0 {
		return domain.Order{}, apperr.Validation("cart is empty")
	}
	if err := validateItems(req.Items); err != nil {
		return domain.Order{}, err
	}
	tableIDs, err := s.resolveTables(ctx, req)
	if err != nil {
		return domain.Order{}, err
	}
	orderType := domain.OrderType(req.OrderType)
	switch orderType {
	case "":
		orderType = domain.OrderTakeaway
		if len(tableIDs) > 0 {
			orderType = domain.OrderDineIn
		}
	case domain.OrderDineIn:
		if len(tableIDs) == 0 {
			return domain.Order{}, apperr.Validation("dine-in orders need at least one table")
		}
	case domain.OrderTakeaway:
		if len(tableIDs) > 0 {
			return domain.Order{}, apperr.Validation("takeaway orders cannot reserve tables")
		}
	default:
		return domain.Order{}, apperr.Validation("unknown order type %q", req.OrderType)
	}

	keys := make([]string, len(tableIDs))
	for i, id := range tableIDs {
		keys[i] = keylock.Table(id)
	}
	unlock := s.locks.Lock(keys...)
	defer unlock()

	// 2. Persist order, items, reservations and audit in one transaction
	for attempt := 1; ; attempt++ {
		o, err = s.createOnce(ctx, actor, orderType, req.Notes, req.Items, tableIDs)
		if err == nil || !database.IsUniqueViolation(err) || attempt == orderNumberAttempts {
			break
		}
	}
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.Order{}, apperr.Conflict("could not allocate an order number, retry")
		}
		return domain.Order{}, err
	}
	s.lg.Ctx(ctx).Info("order_created", map[string]any{
		"order_id": o.ID, "order_number": o.OrderNumber, "items": len(o.Items), "tables": len(o.TableIDs),
	})
	return o, nil
}

func (s *OrderService) createOnce(ctx context.Context, actor domain.Actor, orderType domain.OrderType, notes string,
	inputs []domain.ItemInput, tableIDs []string) (domain.Order, error) {
	var o domain.Order
	err := s.store.WithTx(ctx, func(tx *database.Tx) error {
		now := s.now()
		number, err := s.nextOrderNumber(ctx, tx, now)
		if err != nil {
			return err
		}
		o = domain.Order{
			ID:          uuid.NewString(),
			OrderNumber: number,
			Type:        orderType,
			Status:      domain.OrderNew,
			Notes:       notes,
			CreatedBy:   actor.ID,
			OrderedAt:   now,
			UpdatedAt:   now,
			TableIDs:    make([]string, 0),
		}
		o.Items, err = s.snapshotItems(ctx, tx, o.ID, 1, inputs, now)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, tx, o); err != nil {
			return err
		}
		if len(tableIDs) > 0 {
			reserved, err := s.tables.ReserveTx(ctx, tx, actor, tableIDs, o.ID)
			if err != nil {
				return err
			}
			for _, t := range reserved {
				o.TableIDs = append(o.TableIDs, t.ID)
			}
		}
		if err := s.record(ctx, tx, actor, "order.create", domain.EntityOrder, o.ID, nil, o, ""); err != nil {
			return err
		}
		hint := map[string]any{"order_id": o.ID, "order_number": o.OrderNumber}
		tx.AfterCommit(func() {
			s.notifier.Publish(domain.ChannelKitchen, domain.EventNewOrder, hint)
			s.notifier.Publish(domain.ChannelOrders, domain.EventNewOrder, hint)
		})
		return nil
	})
	return o, err
}

// nextOrderNumber builds ORD_YYYYMMDD_NNN from the count of today's orders.
func (s *OrderService) nextOrderNumber(ctx context.Context, q database.Querier, now time.Time) (string, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := s.repo.CountBetween(ctx, q, day, day.AddDate(0, 0, 1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD_%s_%03d", day.Format("20060102"), count+1), nil
}

func (s *OrderService) resolveTables(ctx context.Context, req dto.CreateOrderRequest) ([]string, error) {
	ids := append([]string(nil), req.TableIDs...)
	numbers := append([]int(nil), req.TableNumbers...)
	if req.TableNumber != nil {
		numbers = append(numbers, *req.TableNumber)
	}
	if len(numbers) > 0 {
		resolved, err := s.tables.ResolveNumbers(ctx, numbers)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return nil, apperr.Validation("%s", err.Error())
			}
			return nil, err
		}
		ids = append(ids, resolved...)
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func validateItems(items []domain.ItemInput) error {
	for i, in := range items {
		if strings.TrimSpace(in.MenuItemID) == "" {
			return apperr.Validation("item %d: menu_item_id is required", i+1)
		}
		if in.Quantity <= 0 {
			return apperr.Validation("item %d: quantity must be positive", i+1)
		}
	}
	return nil
}

// snapshotItems freezes name and price from the menu as it is right now.
func (s *OrderService) snapshotItems(ctx context.Context, q database.Querier, orderID string, firstLine int,
	inputs []domain.ItemInput, now time.Time) ([]domain.OrderItem, error) {
	out := make([]domain.OrderItem, 0, len(inputs))
	for i, in := range inputs {
		m, err := s.catalog.MenuItem(ctx, q, in.MenuItemID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return nil, apperr.Validation("menu item %s does not exist", in.MenuItemID)
			}
			return nil, err
		}
		if !m.Available {
			return nil, apperr.Validation("menu item %q is not available", m.Name)
		}
		item := domain.OrderItem{
			ID:           uuid.NewString(),
			OrderID:      orderID,
			LineNo:       firstLine + i,
			MenuItemID:   m.ID,
			Name:         m.Name,
			Quantity:     in.Quantity,
			UnitPrice:    m.Price,
			Instructions: in.Instructions,
			Status:       domain.ItemNew,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if in.VariantID != "" {
			v, ok := findVariant(m, in.VariantID)
			if !ok {
				return nil, apperr.Validation("variant %s does not belong to %q", in.VariantID, m.Name)
			}
			if !v.Available {
				return nil, apperr.Validation("variant %q of %q is not available", v.Name, m.Name)
			}
			item.Variant = v.Name
			item.UnitPrice = v.Price
		}
		out = append(out, item)
	}
	return out, nil
}

func findVariant(m domain.MenuItem, id string) (domain.MenuVariant, bool) {
	for _, v := range m.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return domain.MenuVariant{}, false
}

// AdvanceItem moves one item along new -> in_progress -> ready -> served.
// The check runs against the stored status under the order lock, so a stale
// request can neither skip nor rewind an item.
func (s *OrderService) AdvanceItem(ctx context.Context, actor domain.Actor, orderID, itemID string, req dto.AdvanceItemRequest) (item domain.OrderItem, err error) {
	ctx, span := otel.StartSpan(ctx, "order.advance_item",
		attribute.String("order_id", orderID), attribute.String("item_id", itemID), attribute.String("status", req.Status))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("order", "advance_item", err) }()

	target := domain.ItemStatus(req.Status)
	if req.Override {
		if !actor.CanOverride() {
			return domain.OrderItem{}, apperr.InvalidState("status override requires a manager")
		}
		if strings.TrimSpace(req.Note) == "" {
			return domain.OrderItem{}, apperr.Validation("status override requires a note")
		}
	}

	unlock := s.locks.Lock(keylock.Order(orderID))
	defer unlock()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		o, err := s.repo.Get(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		idx := -1
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperr.NotFound("item %s not found on order %s", itemID, orderID)
		}
		if !o.Status.Open() {
			return apperr.InvalidState("order %s is %s", o.OrderNumber, o.Status)
		}
		current := o.Items[idx]
		noop, err := domain.CheckItemTransition(current.Status, target, req.Override)
		if err != nil {
			return err
		}
		item = current
		if noop {
			return nil
		}

		now := s.now()
		if err := s.repo.UpdateItemStatus(ctx, tx, itemID, target, now); err != nil {
			return err
		}
		item.Status = target
		item.UpdatedAt = now
		o.Items[idx] = item

		action, note := "order_item.advance", ""
		if req.Override {
			action, note = "order_item.override", req.Note
		}
		if err := s.record(ctx, tx, actor, action, domain.EntityOrderItem, itemID,
			map[string]any{"status": current.Status}, map[string]any{"status": target}, note); err != nil {
			return err
		}

		next := domain.ReduceOrderStatus(o.Items)
		if next != o.Status {
			if err := s.setStatus(ctx, tx, actor, o, next, now); err != nil {
				return err
			}
		}
		hint := map[string]any{"order_id": orderID, "item_id": itemID, "status": target, "order_status": next}
		tx.AfterCommit(func() {
			s.notifier.Publish(domain.ChannelKitchen, domain.EventItemStatusUpdated, hint)
			s.notifier.Publish(domain.ChannelOrders, domain.EventItemStatusUpdated, hint)
		})
		return nil
	})
	if err != nil {
		return domain.OrderItem{}, err
	}
	return item, nil
}

func (s *OrderService) AppendItems(ctx context.Context, actor domain.Actor, orderID string, inputs []domain.ItemInput) (o domain.Order, err error) {
	ctx, span := otel.StartSpan(ctx, "order.append_items", attribute.String("order_id", orderID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("order", "append_items", err) }()

	if len(inputs) == 0 {
		return domain.Order{}, apperr.Validation("no items to append")
	}
	if err := validateItems(inputs); err != nil {
		return domain.Order{}, err
	}

	unlock := s.locks.Lock(keylock.Order(orderID))
	defer unlock()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		o, err = s.repo.Get(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if !o.Status.Open() {
			return apperr.InvalidState("order %s is %s", o.OrderNumber, o.Status)
		}
		now := s.now()
		nextLine := 1
		for _, it := range o.Items {
			if it.LineNo >= nextLine {
				nextLine = it.LineNo + 1
			}
		}
		added, err := s.snapshotItems(ctx, tx, o.ID, nextLine, inputs, now)
		if err != nil {
			return err
		}
		if err := s.repo.InsertItems(ctx, tx, added); err != nil {
			return err
		}
		o.Items = append(o.Items, added...)
		if err := s.record(ctx, tx, actor, "order.append_items", domain.EntityOrder, o.ID, nil, added, ""); err != nil {
			return err
		}
		if next := domain.ReduceOrderStatus(o.Items); next != o.Status {
			if err := s.setStatus(ctx, tx, actor, o, next, now); err != nil {
				return err
			}
			o.Status = next
		}
		o.UpdatedAt = now
		hint := map[string]any{"order_id": o.ID, "order_number": o.OrderNumber, "appended": len(added)}
		tx.AfterCommit(func() {
			s.notifier.Publish(domain.ChannelKitchen, domain.EventNewOrder, hint)
			s.notifier.Publish(domain.ChannelOrders, domain.EventOrderUpdated, hint)
		})
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// CancelOrder voids an unbilled order and frees its tables. Billed orders are
// voided through their bill.
func (s *OrderService) CancelOrder(ctx context.Context, actor domain.Actor, orderID, reason string) (o domain.Order, err error) {
	ctx, span := otel.StartSpan(ctx, "order.cancel", attribute.String("order_id", orderID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("order", "cancel", err) }()

	if strings.TrimSpace(reason) == "" {
		return domain.Order{}, apperr.Validation("cancel reason is required")
	}

	unlock := s.locks.Lock(keylock.Order(orderID))
	defer unlock()
	unlockTables, err := s.tables.LockOrderTables(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlockTables()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		o, err = s.repo.Get(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		switch o.Status {
		case domain.OrderBilled:
			return apperr.InvalidState("order %s is billed, void its bill instead", o.OrderNumber)
		case domain.OrderVoided:
			return apperr.InvalidState("order %s is already voided", o.OrderNumber)
		}
		now := s.now()
		before := o.Status
		if err := s.repo.UpdateStatus(ctx, tx, o.ID, domain.OrderVoided, now); err != nil {
			return err
		}
		o.Status = domain.OrderVoided
		o.UpdatedAt = now
		if _, err := s.tables.ReleaseOrderTx(ctx, tx, actor, o.ID); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, "order.cancel", domain.EntityOrder, o.ID,
			map[string]any{"status": before}, map[string]any{"status": o.Status}, reason); err != nil {
			return err
		}
		hint := map[string]any{"order_id": o.ID, "order_number": o.OrderNumber, "status": o.Status}
		tx.AfterCommit(func() {
			s.notifier.Publish(domain.ChannelKitchen, domain.EventOrderUpdated, hint)
			s.notifier.Publish(domain.ChannelOrders, domain.EventOrderUpdated, hint)
		})
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.lg.Ctx(ctx).Info("order_cancelled", map[string]any{"order_id": o.ID, "reason": reason})
	return o, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	o, err := s.repo.Get(ctx, s.store.DB(), orderID, false)
	if err != nil {
		return domain.Order{}, database.MapError(ctx, "get order", err)
	}
	return o, nil
}

func (s *OrderService) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := s.repo.ListOpen(ctx, s.store.DB())
	if err != nil {
		return nil, database.MapError(ctx, "list open orders", err)
	}
	return orders, nil
}

func (s *OrderService) KitchenQueue(ctx context.Context) ([]dto.KitchenItem, error) {
	items, err := s.repo.KitchenQueue(ctx, s.store.DB())
	if err != nil {
		return nil, database.MapError(ctx, "kitchen queue", err)
	}
	return items, nil
}

func (s *OrderService) setStatus(ctx context.Context, tx *database.Tx, actor domain.Actor, o domain.Order, next domain.OrderStatus, at time.Time) error {
	if err := s.repo.UpdateStatus(ctx, tx, o.ID, next, at); err != nil {
		return err
	}
	return s.record(ctx, tx, actor, "order.status", domain.EntityOrder, o.ID,
		map[string]any{"status": o.Status}, map[string]any{"status": next}, "")
}

func (s *OrderService) record(ctx context.Context, tx *database.Tx, actor domain.Actor, action, entityType, entityID string, before, after any, note string) error {
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
