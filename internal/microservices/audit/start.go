package audit

import (
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/microservices/audit/handlers"
	"restaurant-pos/internal/microservices/audit/repository"
	"restaurant-pos/internal/microservices/audit/service"
)

type Module struct {
	Recorder service.Recorder
	Handler  *handlers.AuditHandler
}

func New(store *database.Store) *Module {
	svc := service.NewAuditService(repository.NewAuditRepo(store))
	return &Module{Recorder: svc, Handler: handlers.NewAuditHandler(svc)}
}
