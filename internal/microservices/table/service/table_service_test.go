package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/common/keylock"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/connections/database/dbtest"
	"restaurant-pos/internal/domain"
	auditrepo "restaurant-pos/internal/microservices/audit/repository"
	audit "restaurant-pos/internal/microservices/audit/service"
	"restaurant-pos/internal/microservices/table/domain/dto"
	"restaurant-pos/internal/microservices/table/repository"
)

type recordedEvent struct {
	channel, event string
	hint           map[string]any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeNotifier) Publish(channel, event string, hint map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{channel, event, hint})
}

func (f *fakeNotifier) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.event
	}
	return out
}

type fixture struct {
	svc      *TableService
	store    *database.Store
	audit    *audit.AuditService
	notifier *fakeNotifier
}

var manager = domain.Actor{ID: "mgr-1", Role: domain.RoleManager}

func newFixture(t *testing.T) *fixture {
	store := dbtest.New(t)
	rec := audit.NewAuditService(auditrepo.NewAuditRepo(store))
	n := &fakeNotifier{}
	svc := NewTableService(store, repository.NewTableRepository(store), rec, n, keylock.New(), nil)
	return &fixture{svc: svc, store: store, audit: rec, notifier: n}
}

func (f *fixture) tables(t *testing.T, numbers ...int) []domain.Table {
	t.Helper()
	out := make([]domain.Table, 0, len(numbers))
	for _, n := range numbers {
		tb, err := f.svc.Create(context.Background(), manager, dto.CreateTableRequest{Number: n, Capacity: 4, Location: "hall"})
		require.NoError(t, err)
		out = append(out, tb)
	}
	return out
}

func (f *fixture) insertOrder(t *testing.T, id string, status domain.OrderStatus) {
	t.Helper()
	_, err := f.store.DB().ExecContext(context.Background(),
		`INSERT INTO orders (id, order_number, order_type, status, created_by, ordered_at, updated_at) VALUES (?, ?, 'dine_in', ?, 'u1', 1, 1)`,
		id, "ORD_"+id, string(status))
	require.NoError(t, err)
}

func (f *fixture) reserve(t *testing.T, orderID string, ids ...string) ([]domain.Table, error) {
	t.Helper()
	var out []domain.Table
	err := f.store.WithTx(context.Background(), func(tx *database.Tx) error {
		var err error
		out, err = f.svc.ReserveTx(context.Background(), tx, manager, ids, orderID)
		return err
	})
	return out, err
}

func TestCreateTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tb := f.tables(t, 1)[0]
	assert.Equal(t, domain.TableFree, tb.Status)

	_, err := f.svc.Create(ctx, manager, dto.CreateTableRequest{Number: 1, Capacity: 2})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.Create(ctx, manager, dto.CreateTableRequest{Number: 0, Capacity: 2})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	entries, err := f.audit.Timeline(ctx, domain.EntityTable, tb.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "table.create", entries[0].Action)
}

func TestMergeThenSplitRestoresTables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := f.tables(t, 1, 2, 3)

	merged, err := f.svc.Merge(ctx, manager, dto.MergeTablesRequest{
		TableIDs:       []string{ts[1].ID, ts[2].ID},
		PrimaryTableID: ts[0].ID,
	})
	require.NoError(t, err)
	require.Len(t, merged, 3)

	for _, tb := range ts[1:] {
		got, err := f.svc.Get(ctx, tb.ID)
		require.NoError(t, err)
		require.NotNil(t, got.MergedWith)
		assert.Equal(t, ts[0].ID, *got.MergedWith)
	}
	primary, err := f.svc.Get(ctx, ts[0].ID)
	require.NoError(t, err)
	assert.Nil(t, primary.MergedWith)

	_, err = f.svc.Split(ctx, manager, ts[0].ID)
	require.NoError(t, err)
	for _, tb := range ts {
		got, err := f.svc.Get(ctx, tb.ID)
		require.NoError(t, err)
		assert.Nil(t, got.MergedWith)
	}
	assert.Contains(t, f.notifier.names(), domain.EventTablesMerged)
	assert.Contains(t, f.notifier.names(), domain.EventTablesSplit)
}

func TestMergeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := f.tables(t, 1, 2, 3, 4)

	_, err := f.svc.Merge(ctx, manager, dto.MergeTablesRequest{TableIDs: []string{ts[0].ID}, PrimaryTableID: ts[0].ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Merge(ctx, manager, dto.MergeTablesRequest{TableIDs: []string{ts[1].ID}, PrimaryTableID: ts[0].ID})
	require.NoError(t, err)

	// secondary cannot join another group
	_, err = f.svc.Merge(ctx, manager, dto.MergeTablesRequest{TableIDs: []string{ts[1].ID}, PrimaryTableID: ts[2].ID})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	// primary cannot become a secondary
	_, err = f.svc.Merge(ctx, manager, dto.MergeTablesRequest{TableIDs: []string{ts[0].ID}, PrimaryTableID: ts[3].ID})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	// the failed merges left no partial state behind
	got, err := f.svc.Get(ctx, ts[3].ID)
	require.NoError(t, err)
	assert.Nil(t, got.MergedWith)
}

func TestMergeOccupiedSecondaryConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := f.tables(t, 1, 2)
	f.insertOrder(t, "o1", domain.OrderNew)
	_, err := f.reserve(t, "o1", ts[1].ID)
	require.NoError(t, err)

	_, err = f.svc.Merge(ctx, manager, dto.MergeTablesRequest{TableIDs: []string{ts[1].ID}, PrimaryTableID: ts[0].ID})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestMergeIntoOccupiedPrimaryInheritsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := f.tables(t, 1, 2)
	f.insertOrder(t, "o1", domain.OrderNew)
	_, err := f.reserve(t, "o1", ts[0].ID)
	require.NoError(t, err)

	_, err = f.svc.Merge(ctx, manager, dto.MergeTablesRequest{TableIDs: []string{ts[1].ID}, PrimaryTableID: ts[0].ID})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, ts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TableOccupied, got.Status)
	require.NotNil(t, got.CurrentOrderID)
	assert.Equal(t, "o1", *got.CurrentOrderID)
}

func TestSplitWithoutMembersIsNoop(t *testing.T) {
	f := newFixture(t)
	ts := f.tables(t, 1)
	out, err := f.svc.Split(context.Background(), manager, ts[0].ID)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.NotContains(t, f.notifier.names(), domain.EventTablesSplit)
}

func TestReserve(t *testing.T) {
	f := newFixture(t)
	ts := f.tables(t, 1, 2, 3)
	f.insertOrder(t, "o1", domain.OrderNew)
	f.insertOrder(t, "o2", domain.OrderNew)

	out, err := f.reserve(t, "o1", ts[0].ID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.TableOccupied, out[0].Status)

	// same order again is fine
	_, err = f.reserve(t, "o1", ts[0].ID)
	require.NoError(t, err)

	_, err = f.reserve(t, "o2", ts[0].ID, ts[1].ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// the conflicting reservation rolled back table 2 as well
	got, err := f.svc.Get(context.Background(), ts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TableFree, got.Status)

	_, err = f.reserve(t, "o2", "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReserveExpandsMergeGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := f.tables(t, 1, 2, 3)
	_, err := f.svc.Merge(ctx, manager, dto.MergeTablesRequest{TableIDs: []string{ts[1].ID, ts[2].ID}, PrimaryTableID: ts[0].ID})
	require.NoError(t, err)
	f.insertOrder(t, "o1", domain.OrderNew)

	out, err := f.reserve(t, "o1", ts[2].ID)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	for _, tb := range ts {
		got, err := f.svc.Get(ctx, tb.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TableOccupied, got.Status)
	}
}

func TestReleaseRequiresSettledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := f.tables(t, 1, 2)
	f.insertOrder(t, "o1", domain.OrderReady)
	_, err := f.reserve(t, "o1", ts[0].ID, ts[1].ID)
	require.NoError(t, err)

	_, err = f.svc.Release(ctx, manager, ts[0].ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.store.DB().ExecContext(ctx, `UPDATE orders SET status = 'voided' WHERE id = 'o1'`)
	require.NoError(t, err)

	out, err := f.svc.Release(ctx, manager, ts[0].ID)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	for _, tb := range ts {
		got, err := f.svc.Get(ctx, tb.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TableFree, got.Status)
		assert.Nil(t, got.CurrentOrderID)
	}
}

func TestMarkOrderTables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := f.tables(t, 1)
	f.insertOrder(t, "o1", domain.OrderReady)
	_, err := f.reserve(t, "o1", ts[0].ID)
	require.NoError(t, err)

	require.NoError(t, f.store.WithTx(ctx, func(tx *database.Tx) error {
		_, err := f.svc.MarkOrderTablesTx(ctx, tx, manager, "o1", domain.TableBilled)
		return err
	}))
	got, err := f.svc.Get(ctx, ts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TableBilled, got.Status)
}

func TestDeleteTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := f.tables(t, 1, 2)
	f.insertOrder(t, "o1", domain.OrderNew)
	_, err := f.reserve(t, "o1", ts[0].ID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, manager, ts[0].ID), apperr.ErrInvalidState)
	require.NoError(t, f.svc.Delete(ctx, manager, ts[1].ID))

	_, err = f.svc.Get(ctx, ts[1].ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResolveNumbers(t *testing.T) {
	f := newFixture(t)
	ts := f.tables(t, 7, 9)
	ids, err := f.svc.ResolveNumbers(context.Background(), []int{9, 7})
	require.NoError(t, err)
	assert.Equal(t, []string{ts[1].ID, ts[0].ID}, ids)

	_, err = f.svc.ResolveNumbers(context.Background(), []int{8})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
