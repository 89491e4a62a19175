package notificator

import (
	"context"

	"restaurant-pos/internal/common/metrics"
	"restaurant-pos/internal/domain"
	"restaurant-pos/internal/microservices/notificator/handlers"
	"restaurant-pos/internal/microservices/notificator/service"
)

type Module struct {
	Hub      *service.Hub
	Bridge   *service.Bridge
	Notifier domain.Notifier
	Handler  *handlers.WSHandler
}

// New wires the in-process hub and, when pub is non-nil, the message bridge.
func New(buffer int, pub service.Publisher, m *metrics.Metrics) *Module {
	hub := service.NewHub(buffer, m)
	mod := &Module{Hub: hub, Notifier: hub, Handler: handlers.NewWSHandler(hub, m)}
	if pub != nil {
		mod.Bridge = service.NewBridge(pub, buffer, m)
		mod.Notifier = service.Fanout{hub, mod.Bridge}
	}
	return mod
}

// Run drives the bridge until ctx ends. It returns at once without one.
func (m *Module) Run(ctx context.Context) {
	if m.Bridge != nil {
		m.Bridge.Run(ctx)
	}
}

// Subscribe tails the notifications exchange through consumer.
func Subscribe(ctx context.Context, consumer service.Consumer) error {
	return service.NewSubscriberService(consumer).Run(ctx)
}
