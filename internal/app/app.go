// Package app wires the coordinator components into one HTTP process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"restaurant-pos/internal/common/httpx"
	"restaurant-pos/internal/common/keylock"
	"restaurant-pos/internal/common/logger"
	"restaurant-pos/internal/common/metrics"
	"restaurant-pos/internal/common/otel"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/connections/rabbitmq"
	"restaurant-pos/internal/microservices/audit"
	"restaurant-pos/internal/microservices/bill"
	"restaurant-pos/internal/microservices/notificator"
	notifysvc "restaurant-pos/internal/microservices/notificator/service"
	"restaurant-pos/internal/microservices/order"
	"restaurant-pos/internal/microservices/table"
)

const serviceName = "restaurant-pos"

type App struct {
	cfg     *config.Config
	store   *database.Store
	mq      *rabbitmq.Client
	metrics *metrics.Metrics
	lg      *logger.Logger

	Audit    *audit.Module
	Tables   *table.Module
	Orders   *order.Module
	Bills    *bill.Module
	Notifier *notificator.Module

	handler http.Handler
}

// New opens the store (running migrations), dials RabbitMQ when enabled and
// builds the application.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	var mq *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		mq, err = rabbitmq.Dial(cfg.RabbitMQ)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	a, err := Build(ctx, cfg, store, mq)
	if err != nil {
		if mq != nil {
			mq.Close()
		}
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// Build assembles the components on an open store. mq may be nil.
func Build(ctx context.Context, cfg *config.Config, store *database.Store, mq *rabbitmq.Client) (*App, error) {
	m := metrics.New()
	locks := keylock.New()

	var pub notifysvc.Publisher
	if mq != nil {
		pub = mq
	}
	a := &App{cfg: cfg, store: store, mq: mq, metrics: m, lg: logger.New("app")}
	a.Notifier = notificator.New(cfg.Server.NotifierBuffer, pub, m)
	a.Audit = audit.New(store)
	a.Tables = table.New(store, a.Audit.Recorder, a.Notifier.Notifier, locks, m)
	a.Orders = order.New(store, a.Tables.Service, a.Audit.Recorder, a.Notifier.Notifier, locks, m)
	a.Bills = bill.New(store, a.Orders.Orders, a.Tables.Service, a.Audit.Recorder, a.Notifier.Notifier, locks, m, cfg.Shop)

	if err := a.Bills.Service.SyncTaxes(ctx, cfg.Shop.Taxes); err != nil {
		return nil, fmt.Errorf("sync taxes: %w", err)
	}
	h, err := a.routes()
	if err != nil {
		return nil, err
	}
	a.handler = h
	return a, nil
}

func (a *App) routes() (http.Handler, error) {
	api := http.NewServeMux()
	a.Tables.Handler.Register(api)
	a.Orders.Handler.Register(api)
	a.Bills.Handler.Register(api)
	a.Audit.Handler.Register(api)

	limit, err := httpx.RateLimit(a.cfg.Server.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("server.rate_limit: %w", err)
	}
	lg := logger.New("http")
	apiChain := httpx.Chain(a.metrics.Middleware(api),
		httpx.Recover(lg),
		httpx.RequestID,
		httpx.Logging(lg),
		limit,
		httpx.Identity,
		httpx.Timeout(a.cfg.Server.RequestTimeout),
	)

	root := http.NewServeMux()
	root.Handle("/api/", apiChain)
	a.Notifier.Handler.Register(root)
	root.Handle("GET /metrics", a.metrics.Handler())
	root.HandleFunc("GET /healthz", a.healthz)
	return root, nil
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "database": a.store.Dialect().String()}
	if err := a.store.Ping(r.Context()); err != nil {
		a.lg.Ctx(r.Context()).Error("healthz_store", err, nil)
		httpx.WriteProblem(w, http.StatusServiceUnavailable, "unavailable", "store unreachable")
		return
	}
	if a.mq != nil {
		if err := a.mq.Ping(); err != nil {
			httpx.WriteProblem(w, http.StatusServiceUnavailable, "unavailable", "message broker unreachable")
			return
		}
		status["rabbitmq"] = "ok"
	}
	status["ws_clients"] = a.Notifier.Hub.Subscribers()
	httpx.WriteJSON(w, http.StatusOK, status)
}

func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and drives the message bridge until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	shutdown, err := otel.Setup(ctx, serviceName, a.cfg.OTel.Endpoint)
	if err != nil {
		a.lg.Warn("tracing_disabled", map[string]any{"error": err.Error()})
	}
	defer func() { _ = shutdown(context.Background()) }()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Notifier.Run(ctx)
	}()

	addr := ":" + strconv.Itoa(a.cfg.Server.Port)
	a.lg.Info("service_started", map[string]any{
		"port":     a.cfg.Server.Port,
		"database": a.store.Dialect().String(),
		"rabbitmq": a.mq != nil,
	})
	err = httpx.New(addr, a.handler).Run(ctx)
	wg.Wait()
	a.lg.Info("service_stopped", nil)
	return err
}

func (a *App) Close() {
	if a.mq != nil {
		a.mq.Close()
	}
	if err := a.store.Close(); err != nil {
		a.lg.Error("store_close", err, nil)
	}
}
