package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"restaurant-pos/internal/common/logger"
	"restaurant-pos/internal/config"
	"restaurant-pos/internal/connections/database"
	"restaurant-pos/internal/connections/rabbitmq"
	"restaurant-pos/internal/domain"
	"restaurant-pos/internal/microservices/notificator"
	"restaurant-pos/internal/microservices/order/repository"
)

type menuFile struct {
	Items []domain.MenuItem `yaml:"items"`
}

// LoadMenu reads a YAML menu of the form
//
//	items:
//	  - id: margherita
//	    name: Margherita
//	    price: 1200
//	    available: true
//	    variants:
//	      - {id: margherita-l, name: Large, price: 1600, available: true}
func LoadMenu(path string) ([]domain.MenuItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu: %w", err)
	}
	var f menuFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse menu %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Items))
	for i, it := range f.Items {
		if strings.TrimSpace(it.ID) == "" || strings.TrimSpace(it.Name) == "" {
			return nil, fmt.Errorf("menu item %d: id and name are required", i+1)
		}
		if it.Price < 0 {
			return nil, fmt.Errorf("menu item %s: negative price", it.ID)
		}
		if seen[it.ID] {
			return nil, fmt.Errorf("menu item %s: duplicate id", it.ID)
		}
		seen[it.ID] = true
		for _, v := range it.Variants {
			if strings.TrimSpace(v.ID) == "" || v.Price < 0 {
				return nil, fmt.Errorf("menu item %s: variant needs an id and a price", it.ID)
			}
		}
	}
	return f.Items, nil
}

// SeedMenu upserts items in one transaction.
func SeedMenu(ctx context.Context, store *database.Store, items []domain.MenuItem) error {
	catalog := repository.NewCatalogRepository(store)
	return store.WithTx(ctx, func(tx *database.Tx) error {
		for _, it := range items {
			if err := catalog.Upsert(ctx, tx, it); err != nil {
				return err
			}
		}
		return nil
	})
}

// Migrate applies migrations, syncs configured taxes and, when menuPath is
// set, seeds the menu.
func Migrate(ctx context.Context, cfg *config.Config, menuPath string) error {
	lg := logger.New("migrate")
	a, err := New(ctx, withoutBroker(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	lg.Info("migrations_applied", map[string]any{"database": a.store.Dialect().String(), "taxes": len(cfg.Shop.Taxes)})

	if menuPath == "" {
		return nil
	}
	items, err := LoadMenu(menuPath)
	if err != nil {
		return err
	}
	if err := SeedMenu(ctx, a.store, items); err != nil {
		return fmt.Errorf("seed menu: %w", err)
	}
	lg.Info("menu_seeded", map[string]any{"items": len(items), "path": menuPath})
	return nil
}

// Subscribe tails the notifications exchange until ctx is cancelled.
func Subscribe(ctx context.Context, cfg *config.Config) error {
	client, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer client.Close()
	return notificator.Subscribe(ctx, client)
}

func withoutBroker(cfg *config.Config) *config.Config {
	c := *cfg
	c.RabbitMQ.Enabled = false
	return &c
}
