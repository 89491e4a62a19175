// Package dbtest opens throwaway SQLite stores for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"restaurant-pos/internal/config"
	"restaurant-pos/internal/connections/database"
)

// New returns a migrated store backed by a file in t.TempDir().
func New(t testing.TB) *database.Store {
	t.Helper()
	store, err := database.Open(context.Background(), config.DatabaseConfig{
		Driver:    "sqlite",
		Path:      filepath.Join(t.TempDir(), "pos.db"),
		TxTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
