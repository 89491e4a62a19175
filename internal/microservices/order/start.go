package order

import (
	"restaurant-pos/internal/common/keylock"
	"restaurant-pos/internal/common/metrics"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
	audit "restaurant-pos/internal/microservices/audit/service"
	"restaurant-pos/internal/microservices/order/handlers"
	"restaurant-pos/internal/microservices/order/repository"
	"restaurant-pos/internal/microservices/order/service"
	tables "restaurant-pos/internal/microservices/table/service"
)

type Module struct {
	Service service.OrderServiceInterface
	Orders  repository.OrderRepositoryInterface
	Catalog repository.CatalogRepositoryInterface
	Handler *handlers.OrderHandler
}

func New(store *database.Store, registry tables.TableServiceInterface, recorder audit.Recorder, notifier domain.Notifier,
	locks *keylock.Locker, m *metrics.Metrics) *Module {
	orders := repository.NewOrderRepository(store)
	catalog := repository.NewCatalogRepository(store)
	svc := service.NewOrderService(store, orders, catalog, registry, recorder, notifier, locks, m)
	return &Module{Service: svc, Orders: orders, Catalog: catalog, Handler: handlers.NewOrderHandler(svc)}
}
