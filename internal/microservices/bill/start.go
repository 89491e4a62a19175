package bill

import (
	"restaurant-pos/internal/common/keylock"
	"restaurant-pos/internal/common/metrics"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
	audit "restaurant-pos/internal/microservices/audit/service"
	"restaurant-pos/internal/microservices/bill/handlers"
	"restaurant-pos/internal/microservices/bill/repository"
	"restaurant-pos/internal/microservices/bill/service"
	tables "restaurant-pos/internal/microservices/table/service"
)

type Module struct {
	Service service.BillServiceInterface
	Handler *handlers.BillHandler
}

func New(store *database.Store, orders service.OrderStore, registry tables.TableServiceInterface, recorder audit.Recorder,
	notifier domain.Notifier, locks *keylock.Locker, m *metrics.Metrics, shop config.ShopConfig) *Module {
	svc := service.NewBillService(store, repository.NewBillRepository(store), repository.NewTaxRepository(store),
		orders, registry, recorder, notifier, locks, m, shop)
	return &Module{Service: svc, Handler: handlers.NewBillHandler(svc)}
}
