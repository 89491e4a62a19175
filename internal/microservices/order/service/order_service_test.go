package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/common/keylock"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/connections/database/dbtest"
	"restaurant-pos/internal/domain"
	auditrepo "restaurant-pos/internal/microservices/audit/repository"
	audit "restaurant-pos/internal/microservices/audit/service"
	"restaurant-pos/internal/microservices/order/domain/dto"
	"restaurant-pos/internal/microservices/order/repository"
	tabledto "restaurant-pos/internal/microservices/table/domain/dto"
	tablerepo "restaurant-pos/internal/microservices/table/repository"
	tables "restaurant-pos/internal/microservices/table/service"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Publish(channel, event string, hint map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, channel+"/"+event)
}

func (f *fakeNotifier) has(channel, event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == channel+"/"+event {
			return true
		}
	}
	return false
}

var (
	waiter  = domain.Actor{ID: "waiter-1", Role: domain.RoleWaiter}
	cook    = domain.Actor{ID: "cook-1", Role: domain.RoleKitchen}
	manager = domain.Actor{ID: "mgr-1", Role: domain.RoleManager}
	clock   = time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)
)

type fixture struct {
	svc      *OrderService
	tables   *tables.TableService
	store    *database.Store
	audit    *audit.AuditService
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := dbtest.New(t)
	rec := audit.NewAuditService(auditrepo.NewAuditRepo(store))
	n := &fakeNotifier{}
	locks := keylock.New()
	ts := tables.NewTableService(store, tablerepo.NewTableRepository(store), rec, n, locks, nil)
	catalog := repository.NewCatalogRepository(store)
	svc := NewOrderService(store, repository.NewOrderRepository(store), catalog, ts, rec, n, locks, nil)
	svc.now = func() time.Time { return clock }

	ctx := context.Background()
	menu := []domain.MenuItem{
		{ID: "pizza", Name: "Margherita", Price: 1200, Available: true, Variants: []domain.MenuVariant{
			{ID: "pizza-l", Name: "Large", Price: 1600, Available: true},
			{ID: "pizza-xl", Name: "Family", Price: 2400, Available: false},
		}},
		{ID: "cola", Name: "Cola", Price: 300, Available: true},
		{ID: "soup", Name: "Soup of the day", Price: 650, Available: false},
	}
	for _, m := range menu {
		require.NoError(t, catalog.Upsert(ctx, store.DB(), m))
	}
	for _, num := range []int{1, 2} {
		_, err := ts.Create(ctx, manager, tabledto.CreateTableRequest{Number: num, Capacity: 4, Location: "hall"})
		require.NoError(t, err)
	}
	return &fixture{svc: svc, tables: ts, store: store, audit: rec, notifier: n}
}

func (f *fixture) dineIn(t *testing.T, table int, items ...domain.ItemInput) domain.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), waiter, dto.CreateOrderRequest{
		TableNumbers: []int{table},
		Items:        items,
	})
	require.NoError(t, err)
	return o
}

func item(menuID string, qty int) domain.ItemInput {
	return domain.ItemInput{MenuItemID: menuID, Quantity: qty}
}

func TestCreateOrderReservesTables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.dineIn(t, 1, item("pizza", 2), item("cola", 1))
	assert.Equal(t, "ORD_20240309_001", o.OrderNumber)
	assert.Equal(t, domain.OrderDineIn, o.Type)
	assert.Equal(t, domain.OrderNew, o.Status)
	require.Len(t, o.Items, 2)
	assert.Equal(t, 1, o.Items[0].LineNo)
	assert.EqualValues(t, 1200, o.Items[0].UnitPrice)
	assert.Equal(t, "Margherita", o.Items[0].Name)
	require.Len(t, o.TableIDs, 1)

	tb, err := f.tables.Get(ctx, o.TableIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.TableOccupied, tb.Status)
	require.NotNil(t, tb.CurrentOrderID)
	assert.Equal(t, o.ID, *tb.CurrentOrderID)

	assert.True(t, f.notifier.has(domain.ChannelKitchen, domain.EventNewOrder))
	assert.True(t, f.notifier.has(domain.ChannelOrders, domain.EventTableStatusUpdated))

	second := f.dineIn(t, 2, item("cola", 1))
	assert.Equal(t, "ORD_20240309_002", second.OrderNumber)

	_, err = f.svc.CreateOrder(ctx, waiter, dto.CreateOrderRequest{TableNumbers: []int{1}, Items: []domain.ItemInput{item("cola", 1)}})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, stored.OrderNumber)
	assert.Len(t, stored.Items, 2)
	assert.Equal(t, o.TableIDs, stored.TableIDs)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one := 1

	tests := []struct {
		name string
		req  dto.CreateOrderRequest
		kind error
	}{
		{name: "empty cart", req: dto.CreateOrderRequest{TableNumbers: []int{1}}, kind: apperr.ErrValidation},
		{name: "zero quantity", req: dto.CreateOrderRequest{Items: []domain.ItemInput{item("cola", 0)}}, kind: apperr.ErrValidation},
		{name: "unknown item", req: dto.CreateOrderRequest{Items: []domain.ItemInput{item("ghost", 1)}}, kind: apperr.ErrValidation},
		{name: "unavailable item", req: dto.CreateOrderRequest{Items: []domain.ItemInput{item("soup", 1)}}, kind: apperr.ErrValidation},
		{
			name: "unavailable variant",
			req:  dto.CreateOrderRequest{Items: []domain.ItemInput{{MenuItemID: "pizza", VariantID: "pizza-xl", Quantity: 1}}},
			kind: apperr.ErrValidation,
		},
		{name: "unknown table number", req: dto.CreateOrderRequest{TableNumbers: []int{99}, Items: []domain.ItemInput{item("cola", 1)}}, kind: apperr.ErrValidation},
		{name: "dine in without table", req: dto.CreateOrderRequest{OrderType: "dine_in", Items: []domain.ItemInput{item("cola", 1)}}, kind: apperr.ErrValidation},
		{
			name: "takeaway with table",
			req:  dto.CreateOrderRequest{OrderType: "takeaway", TableNumber: &one, Items: []domain.ItemInput{item("cola", 1)}},
			kind: apperr.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, waiter, tt.req)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	// nothing was reserved by the failed attempts
	list, err := f.tables.List(ctx)
	require.NoError(t, err)
	for _, tb := range list {
		assert.Equal(t, domain.TableFree, tb.Status)
	}
}

func TestCreateTakeawayWithVariant(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.CreateOrder(context.Background(), waiter, dto.CreateOrderRequest{
		Items: []domain.ItemInput{{MenuItemID: "pizza", VariantID: "pizza-l", Quantity: 1, Instructions: "no basil"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderTakeaway, o.Type)
	assert.Empty(t, o.TableIDs)
	assert.Equal(t, "Large", o.Items[0].Variant)
	assert.EqualValues(t, 1600, o.Items[0].UnitPrice)
	assert.Equal(t, "no basil", o.Items[0].Instructions)
}

func TestAdvanceItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.dineIn(t, 1, item("pizza", 1), item("cola", 1))
	pizza, cola := o.Items[0].ID, o.Items[1].ID

	advance := func(actor domain.Actor, itemID string, status domain.ItemStatus) (domain.OrderItem, error) {
		return f.svc.AdvanceItem(ctx, actor, o.ID, itemID, dto.AdvanceItemRequest{Status: string(status)})
	}

	got, err := advance(cook, pizza, domain.ItemInProgress)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemInProgress, got.Status)

	_, err = advance(cook, pizza, domain.ItemServed)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = advance(cook, pizza, domain.ItemNew)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	got, err = advance(cook, pizza, domain.ItemInProgress)
	require.NoError(t, err, "repeating the current status is a no-op")
	assert.Equal(t, domain.ItemInProgress, got.Status)

	_, err = advance(cook, pizza, "burnt")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = advance(cook, "missing", domain.ItemInProgress)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderNew, stored.Status, "cola has not started")

	for _, st := range []domain.ItemStatus{domain.ItemInProgress, domain.ItemReady} {
		_, err = advance(cook, cola, st)
		require.NoError(t, err)
	}
	stored, err = f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderInProgress, stored.Status)

	for _, st := range []domain.ItemStatus{domain.ItemReady, domain.ItemServed} {
		_, err = advance(waiter, pizza, st)
		require.NoError(t, err)
	}
	_, err = advance(waiter, cola, domain.ItemServed)
	require.NoError(t, err)

	_, err = advance(cook, pizza, domain.ItemNew)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "served items cannot go back without an override")

	stored, err = f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderServed, stored.Status)
	assert.True(t, f.notifier.has(domain.ChannelKitchen, domain.EventItemStatusUpdated))

	entries, err := f.audit.Timeline(ctx, domain.EntityOrder, o.ID, 50, 0)
	require.NoError(t, err)
	var statusChanges int
	for _, e := range entries {
		if e.Action == "order.status" {
			statusChanges++
		}
	}
	assert.Equal(t, 3, statusChanges, "new -> in_progress -> ready -> served")
}

func TestAdvanceItemOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.dineIn(t, 1, item("pizza", 1))
	itemID := o.Items[0].ID

	req := dto.AdvanceItemRequest{Status: string(domain.ItemServed), Override: true, Note: "served from the pass"}
	_, err := f.svc.AdvanceItem(ctx, waiter, o.ID, itemID, req)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.AdvanceItem(ctx, manager, o.ID, itemID, dto.AdvanceItemRequest{Status: req.Status, Override: true})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := f.svc.AdvanceItem(ctx, manager, o.ID, itemID, req)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemServed, got.Status)

	got, err = f.svc.AdvanceItem(ctx, manager, o.ID, itemID, dto.AdvanceItemRequest{Status: string(domain.ItemReady), Override: true, Note: "sent back"})
	require.NoError(t, err)
	assert.Equal(t, domain.ItemReady, got.Status)

	entries, err := f.audit.Timeline(ctx, domain.EntityOrderItem, itemID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "order_item.override", e.Action)
		assert.NotEmpty(t, e.Note)
	}
}

func TestAppendItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.dineIn(t, 1, item("cola", 1))

	_, err := f.svc.AdvanceItem(ctx, manager, o.ID, o.Items[0].ID,
		dto.AdvanceItemRequest{Status: string(domain.ItemServed), Override: true, Note: "bottled"})
	require.NoError(t, err)

	updated, err := f.svc.AppendItems(ctx, waiter, o.ID, []domain.ItemInput{item("pizza", 1)})
	require.NoError(t, err)
	require.Len(t, updated.Items, 2)
	assert.Equal(t, 2, updated.Items[1].LineNo)
	assert.Equal(t, domain.OrderNew, updated.Status, "a fresh item pulls the order back")

	_, err = f.svc.AppendItems(ctx, waiter, o.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	queue, err := f.svc.KitchenQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "Margherita", queue[0].Name)
	assert.Equal(t, o.OrderNumber, queue[0].OrderNumber)
}

func TestCancelOrderFreesTables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.dineIn(t, 1, item("pizza", 1))

	_, err := f.svc.CancelOrder(ctx, waiter, o.ID, " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	cancelled, err := f.svc.CancelOrder(ctx, waiter, o.ID, "guest left")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderVoided, cancelled.Status)

	tb, err := f.tables.Get(ctx, o.TableIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.TableFree, tb.Status)
	assert.Nil(t, tb.CurrentOrderID)

	_, err = f.svc.CancelOrder(ctx, waiter, o.ID, "again")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.AdvanceItem(ctx, cook, o.ID, o.Items[0].ID, dto.AdvanceItemRequest{Status: string(domain.ItemInProgress)})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.AppendItems(ctx, waiter, o.ID, []domain.ItemInput{item("cola", 1)})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	open, err := f.svc.ListOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	queue, err := f.svc.KitchenQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)

	// the table can be reused right away
	next := f.dineIn(t, 1, item("cola", 1))
	assert.Equal(t, "ORD_20240309_002", next.OrderNumber)
	assert.True(t, f.notifier.has(domain.ChannelOrders, domain.EventOrderUpdated))
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrentCreateOrderOnOneTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 10

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOrder(ctx, waiter, dto.CreateOrderRequest{
				TableNumbers: []int{1},
				Items:        []domain.ItemInput{item("cola", 1)},
			})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	open, err := f.svc.ListOpenOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestConcurrentAdvanceKeepsForwardMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.dineIn(t, 1, item("pizza", 1))
	itemID := o.Items[0].ID
	for _, st := range []domain.ItemStatus{domain.ItemInProgress, domain.ItemReady} {
		_, err := f.svc.AdvanceItem(ctx, cook, o.ID, itemID, dto.AdvanceItemRequest{Status: string(st)})
		require.NoError(t, err)
	}

	const n = 5
	served := make([]error, n)
	reset := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, served[i] = f.svc.AdvanceItem(ctx, waiter, o.ID, itemID, dto.AdvanceItemRequest{Status: string(domain.ItemServed)})
		}(i)
		go func(i int) {
			defer wg.Done()
			_, reset[i] = f.svc.AdvanceItem(ctx, cook, o.ID, itemID, dto.AdvanceItemRequest{Status: string(domain.ItemNew)})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.NoError(t, served[i])
		assert.ErrorIs(t, reset[i], apperr.ErrInvalidState)
	}
	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemServed, stored.Items[0].Status)
	assert.Equal(t, domain.OrderServed, stored.Status)

	entries, err := f.audit.Timeline(ctx, domain.EntityOrderItem, itemID, 50, 0)
	require.NoError(t, err)
	var toServed int
	for _, e := range entries {
		if e.Action == "order_item.advance" && strings.Contains(string(e.After), string(domain.ItemServed)) {
			toServed++
		}
	}
	assert.Equal(t, 1, toServed, "repeated serves are no-ops")
}
