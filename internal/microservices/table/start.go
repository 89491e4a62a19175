package table

import (
	"restaurant-pos/internal/common/keylock"
	"restaurant-pos/internal/common/metrics"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/domain"
	audit "restaurant-pos/internal/microservices/audit/service"
	"restaurant-pos/internal/microservices/table/handlers"
	"restaurant-pos/internal/microservices/table/repository"
	"restaurant-pos/internal/microservices/table/service"
)

type Module struct {
	Service service.TableServiceInterface
	Handler *handlers.TableHandler
}

func New(store *database.Store, recorder audit.Recorder, notifier domain.Notifier, locks *keylock.Locker, m *metrics.Metrics) *Module {
	svc := service.NewTableService(store, repository.NewTableRepository(store), recorder, notifier, locks, m)
	return &Module{Service: svc, Handler: handlers.NewTableHandler(svc)}
}
