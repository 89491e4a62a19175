package service

import (
	"context"
	"fmt"
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
	"restaurant-pos/internal/microservices/table/domain/dto"
	"restaurant-pos/internal/microservices/table/repository"
)

// TableServiceInterface is the table registry. The *Tx methods run inside a
// transaction owned by the order or bill service; the caller holds the locks.
type TableServiceInterface interface {
	Create(ctx context.Context, actor domain.Actor, req dto.CreateTableRequest) (domain.Table, error)
	List(ctx context.Context) ([]domain.Table, error)
	Get(ctx context.Context, id string) (domain.Table, error)
	Delete(ctx context.Context, actor domain.Actor, id string) error
	Merge(ctx context.Context, actor domain.Actor, req dto.MergeTablesRequest) ([]domain.Table, error)
	Split(ctx context.Context, actor domain.Actor, primaryID string) ([]domain.Table, error)
	Release(ctx context.Context, actor domain.Actor, tableID string) ([]domain.Table, error)

	ResolveNumbers(ctx context.Context, numbers []int) ([]string, error)
	LockOrderTables(ctx context.Context, orderID string) (unlock func(), err error)
	ReserveTx(ctx context.Context, tx *database.Tx, actor domain.Actor, tableIDs []string, orderID string) ([]domain.Table, error)
	MarkOrderTablesTx(ctx context.Context, tx *database.Tx, actor domain.Actor, orderID string, status domain.TableStatus) ([]domain.Table, error)
	ReleaseOrderTx(ctx context.Context, tx *database.Tx, actor domain.Actor, orderID string) ([]domain.Table, error)
}

type TableService struct {
	store    *database.Store
	repo     repository.TableRepositoryInterface
	audit    audit.Recorder
	notifier domain.Notifier
	locks    *keylock.Locker
	metrics  *metrics.Metrics
	lg       *logger.Logger
	now      func() time.Time
}

func NewTableService(store *database.Store, repo repository.TableRepositoryInterface, recorder audit.Recorder,
	notifier domain.Notifier, locks *keylock.Locker, m *metrics.Metrics) *TableService {
	return &TableService{
		store:    store,
		repo:     repo,
		audit:    recorder,
		notifier: notifier,
		locks:    locks,
		metrics:  m,
		lg:       logger.New("table-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// tableState is the audited part of a table.
type tableState struct {
	Status         domain.TableStatus `json:"status"`
	MergedWith     *string            `json:"merged_with"`
	CurrentOrderID *string            `json:"current_order_id"`
}

func stateOf(t domain.Table) tableState {
	return tableState{Status: t.Status, MergedWith: t.MergedWith, CurrentOrderID: t.CurrentOrderID}
}

func (s *TableService) Create(ctx context.Context, actor domain.Actor, req dto.CreateTableRequest) (t domain.Table, err error) {
	ctx, span := otel.StartSpan(ctx, "table.create")
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("table", "create", err) }()

	if req.Number <= 0 {
		return domain.Table{}, apperr.Validation("table number must be positive")
	}
	if req.Capacity <= 0 {
		return domain.Table{}, apperr.Validation("table capacity must be positive")
	}
	t = domain.Table{
		ID:        uuid.NewString(),
		Number:    req.Number,
		Capacity:  req.Capacity,
		Location:  req.Location,
		Status:    domain.TableFree,
		UpdatedAt: s.now(),
	}
	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		if err := s.repo.Create(ctx, tx, t); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, "table.create", t.ID, nil, t, ""); err != nil {
			return err
		}
		s.publishStatus(tx, t)
		return nil
	})
	if err != nil {
		return domain.Table{}, err
	}
	s.lg.Ctx(ctx).Info("table_created", map[string]any{"table_id": t.ID, "number": t.Number})
	return t, nil
}

func (s *TableService) List(ctx context.Context) ([]domain.Table, error) {
	tables, err := s.repo.List(ctx, s.store.DB())
	if err != nil {
		return nil, database.MapError(ctx, "list tables", err)
	}
	return tables, nil
}

func (s *TableService) Get(ctx context.Context, id string) (domain.Table, error) {
	t, err := s.repo.Get(ctx, s.store.DB(), id, false)
	if err != nil {
		return domain.Table{}, database.MapError(ctx, "get table", err)
	}
	return t, nil
}

func (s *TableService) Delete(ctx context.Context, actor domain.Actor, id string) (err error) {
	ctx, span := otel.StartSpan(ctx, "table.delete", attribute.String("table_id", id))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("table", "delete", err) }()

	unlock := s.locks.Lock(keylock.Table(id))
	defer unlock()

	return s.store.WithTx(ctx, func(tx *database.Tx) error {
		t, err := s.repo.Get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if t.Status != domain.TableFree || t.CurrentOrderID != nil {
			return apperr.InvalidState("table %d is in use", t.Number)
		}
		if t.MergedWith != nil {
			return apperr.InvalidState("table %d is merged, split it first", t.Number)
		}
		members, err := s.repo.Members(ctx, tx, t.ID, false)
		if err != nil {
			return err
		}
		if len(members) > 0 {
			return apperr.InvalidState("table %d is a merge primary, split it first", t.Number)
		}
		if err := s.repo.Delete(ctx, tx, id); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, "table.delete", id, t, nil, ""); err != nil {
			return err
		}
		tx.AfterCommit(func() {
			s.notifier.Publish(domain.ChannelOrders, domain.EventTableStatusUpdated,
				map[string]any{"table_id": id, "number": t.Number, "status": "deleted"})
		})
		return nil
	})
}

// Merge combines tables under primaryID. The primary joins the group even when
// it is missing from the list.
func (s *TableService) Merge(ctx context.Context, actor domain.Actor, req dto.MergeTablesRequest) (out []domain.Table, err error) {
	ctx, span := otel.StartSpan(ctx, "table.merge", attribute.String("primary_table_id", req.PrimaryTableID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("table", "merge", err) }()

	if req.PrimaryTableID == "" {
		return nil, apperr.Validation("primary_table_id is required")
	}
	ids := dedupe(append([]string{req.PrimaryTableID}, req.TableIDs...))
	if len(ids) < 2 {
		return nil, apperr.Validation("merge needs at least two distinct tables")
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keylock.Table(id)
	}
	unlock := s.locks.Lock(keys...)
	defer unlock()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		tables, err := s.repo.ListByIDs(ctx, tx, ids, true)
		if err != nil {
			return err
		}
		var primary domain.Table
		for _, t := range tables {
			if t.MergedWith != nil {
				return apperr.InvalidState("table %d is already merged into another table", t.Number)
			}
			members, err := s.repo.Members(ctx, tx, t.ID, false)
			if err != nil {
				return err
			}
			if len(members) > 0 {
				return apperr.InvalidState("table %d is already a merge primary", t.Number)
			}
			if t.ID == req.PrimaryTableID {
				primary = t
			}
		}

		out = append(out[:0], primary)
		memberIDs := make([]string, 0, len(tables)-1)
		for _, t := range tables {
			if t.ID == primary.ID {
				continue
			}
			if t.Status != domain.TableFree && !sameOrder(t.CurrentOrderID, primary.CurrentOrderID) {
				return apperr.Conflict("table %d is %s", t.Number, t.Status)
			}
			before := stateOf(t)
			t.MergedWith = &primary.ID
			if primary.CurrentOrderID != nil {
				t.Status = primary.Status
				t.CurrentOrderID = primary.CurrentOrderID
				if err := s.repo.LinkOrder(ctx, tx, *primary.CurrentOrderID, t.ID); err != nil {
					return err
				}
			}
			t.UpdatedAt = s.now()
			if err := s.repo.Update(ctx, tx, t); err != nil {
				return err
			}
			note := fmt.Sprintf("merged into table %d", primary.Number)
			if err := s.record(ctx, tx, actor, "table.merge", t.ID, before, stateOf(t), note); err != nil {
				return err
			}
			memberIDs = append(memberIDs, t.ID)
			out = append(out, t)
		}
		if err := s.record(ctx, tx, actor, "table.merge_primary", primary.ID, nil,
			map[string]any{"members": memberIDs}, ""); err != nil {
			return err
		}
		tx.AfterCommit(func() {
			s.notifier.Publish(domain.ChannelOrders, domain.EventTablesMerged,
				map[string]any{"primary_table_id": primary.ID, "table_ids": memberIDs})
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.lg.Ctx(ctx).Info("tables_merged", map[string]any{"primary_table_id": req.PrimaryTableID, "count": len(out)})
	return out, nil
}

// Split clears the merge group of primaryID. A table without members is a no-op.
func (s *TableService) Split(ctx context.Context, actor domain.Actor, primaryID string) (out []domain.Table, err error) {
	ctx, span := otel.StartSpan(ctx, "table.split", attribute.String("primary_table_id", primaryID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("table", "split", err) }()

	unlock := s.locks.Lock(keylock.Table(primaryID))
	defer unlock()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		primary, err := s.repo.Get(ctx, tx, primaryID, true)
		if err != nil {
			return err
		}
		members, err := s.repo.Members(ctx, tx, primaryID, true)
		if err != nil {
			return err
		}
		out = append(out[:0], primary)
		if len(members) == 0 {
			return nil
		}
		memberIDs := make([]string, 0, len(members))
		for _, t := range members {
			before := stateOf(t)
			t.MergedWith = nil
			t.UpdatedAt = s.now()
			if err := s.repo.Update(ctx, tx, t); err != nil {
				return err
			}
			note := fmt.Sprintf("split from table %d", primary.Number)
			if err := s.record(ctx, tx, actor, "table.split", t.ID, before, stateOf(t), note); err != nil {
				return err
			}
			memberIDs = append(memberIDs, t.ID)
			out = append(out, t)
		}
		tx.AfterCommit(func() {
			s.notifier.Publish(domain.ChannelOrders, domain.EventTablesSplit,
				map[string]any{"primary_table_id": primaryID, "table_ids": memberIDs})
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release frees a table, and every other table of its order, once that order
// is paid, voided or gone.
func (s *TableService) Release(ctx context.Context, actor domain.Actor, tableID string) (out []domain.Table, err error) {
	ctx, span := otel.StartSpan(ctx, "table.release", attribute.String("table_id", tableID))
	defer func() { otel.EndSpan(span, err); s.metrics.Observe("table", "release", err) }()

	unlock := s.locks.Lock(keylock.Table(tableID))
	defer unlock()

	err = s.store.WithTx(ctx, func(tx *database.Tx) error {
		t, err := s.repo.Get(ctx, tx, tableID, true)
		if err != nil {
			return err
		}
		if t.Status == domain.TableFree && t.CurrentOrderID == nil {
			out = []domain.Table{t}
			return nil
		}
		if t.CurrentOrderID != nil {
			st, err := s.repo.OrderState(ctx, tx, *t.CurrentOrderID)
			if err != nil {
				return err
			}
			if st.Found && !orderSettled(st) {
				return apperr.InvalidState("table %d is held by order %s which is %s", t.Number, *t.CurrentOrderID, st.Status)
			}
			out, err = s.ReleaseOrderTx(ctx, tx, actor, *t.CurrentOrderID)
			return err
		}
		before := stateOf(t)
		t.Status = domain.TableFree
		t.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, t); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, "table.release", t.ID, before, stateOf(t), ""); err != nil {
			return err
		}
		s.publishStatus(tx, t)
		out = []domain.Table{t}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func orderSettled(st repository.OrderState) bool {
	return st.Status == domain.OrderVoided || (st.Status == domain.OrderBilled && st.Paid)
}

func (s *TableService) ResolveNumbers(ctx context.Context, numbers []int) ([]string, error) {
	ids, err := s.repo.IDsByNumbers(ctx, s.store.DB(), numbers)
	if err != nil {
		return nil, database.MapError(ctx, "resolve table numbers", err)
	}
	return ids, nil
}

// LockOrderTables locks the tables currently held by orderID. Callers must
// already hold the order lock and must not be inside a transaction.
func (s *TableService) LockOrderTables(ctx context.Context, orderID string) (func(), error) {
	tables, err := s.repo.ByOrder(ctx, s.store.DB(), orderID, false)
	if err != nil {
		return nil, database.MapError(ctx, "order tables", err)
	}
	keys := make([]string, len(tables))
	for i, t := range tables {
		keys[i] = keylock.Table(t.ID)
	}
	return s.locks.Lock(keys...), nil
}

// ReserveTx occupies tableIDs for orderID. Merge groups are reserved whole.
func (s *TableService) ReserveTx(ctx context.Context, tx *database.Tx, actor domain.Actor, tableIDs []string, orderID string) ([]domain.Table, error) {
	requested, err := s.repo.ListByIDs(ctx, tx, dedupe(tableIDs), true)
	if err != nil {
		return nil, err
	}
	group, err := s.expandGroups(ctx, tx, requested)
	if err != nil {
		return nil, err
	}

	for _, t := range group {
		if t.Status != domain.TableFree && !sameOrder(t.CurrentOrderID, &orderID) {
			return nil, apperr.Conflict("table %d is %s", t.Number, t.Status)
		}
	}
	out := make([]domain.Table, 0, len(group))
	for _, t := range group {
		if sameOrder(t.CurrentOrderID, &orderID) {
			out = append(out, t)
			continue
		}
		before := stateOf(t)
		t.Status = domain.TableOccupied
		t.CurrentOrderID = &orderID
		t.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, t); err != nil {
			return nil, err
		}
		if err := s.repo.LinkOrder(ctx, tx, orderID, t.ID); err != nil {
			return nil, err
		}
		if err := s.record(ctx, tx, actor, "table.reserve", t.ID, before, stateOf(t), ""); err != nil {
			return nil, err
		}
		s.publishStatus(tx, t)
		out = append(out, t)
	}
	return out, nil
}

func (s *TableService) expandGroups(ctx context.Context, tx *database.Tx, requested []domain.Table) ([]domain.Table, error) {
	seen := make(map[string]bool)
	out := make([]domain.Table, 0, len(requested))
	add := func(t domain.Table) {
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	primaries := make(map[string]bool)
	for _, t := range requested {
		add(t)
		if t.MergedWith != nil {
			primaries[*t.MergedWith] = true
		} else {
			primaries[t.ID] = true
		}
	}
	for pid := range primaries {
		if !seen[pid] {
			p, err := s.repo.Get(ctx, tx, pid, true)
			if err != nil {
				return nil, err
			}
			add(p)
		}
		members, err := s.repo.Members(ctx, tx, pid, true)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			add(m)
		}
	}
	return out, nil
}

// MarkOrderTablesTx moves every table of orderID to status.
func (s *TableService) MarkOrderTablesTx(ctx context.Context, tx *database.Tx, actor domain.Actor, orderID string, status domain.TableStatus) ([]domain.Table, error) {
	tables, err := s.repo.ByOrder(ctx, tx, orderID, true)
	if err != nil {
		return nil, err
	}
	for i, t := range tables {
		if t.Status == status {
			continue
		}
		before := stateOf(t)
		t.Status = status
		t.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, t); err != nil {
			return nil, err
		}
		if err := s.record(ctx, tx, actor, "table.status", t.ID, before, stateOf(t), ""); err != nil {
			return nil, err
		}
		s.publishStatus(tx, t)
		tables[i] = t
	}
	return tables, nil
}

// ReleaseOrderTx frees every table held by orderID.
func (s *TableService) ReleaseOrderTx(ctx context.Context, tx *database.Tx, actor domain.Actor, orderID string) ([]domain.Table, error) {
	tables, err := s.repo.ByOrder(ctx, tx, orderID, true)
	if err != nil {
		return nil, err
	}
	for i, t := range tables {
		before := stateOf(t)
		t.Status = domain.TableFree
		t.CurrentOrderID = nil
		t.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, t); err != nil {
			return nil, err
		}
		if err := s.record(ctx, tx, actor, "table.release", t.ID, before, stateOf(t), ""); err != nil {
			return nil, err
		}
		s.publishStatus(tx, t)
		tables[i] = t
	}
	return tables, nil
}

func (s *TableService) record(ctx context.Context, tx *database.Tx, actor domain.Actor, action, tableID string, before, after any, note string) error {
	return s.audit.Record(ctx, tx, audit.Entry{
		Actor:      actor,
		Action:     action,
		EntityType: domain.EntityTable,
		EntityID:   tableID,
		Before:     before,
		After:      after,
		Note:       note,
	})
}

func (s *TableService) publishStatus(tx *database.Tx, t domain.Table) {
	hint := map[string]any{"table_id": t.ID, "number": t.Number, "status": t.Status}
	tx.AfterCommit(func() {
		s.notifier.Publish(domain.ChannelOrders, domain.EventTableStatusUpdated, hint)
	})
}

func sameOrder(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
