// Package testutil provides shared test helpers for packages that need a real store.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/storage"
)

// SetupTestDB creates a migrated in-memory database that is closed when the test ends.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// SeedTransaction imports txn as a historical record.
func SeedTransaction(t *testing.T, store *storage.SQLiteStorage, txn model.StoredTransaction) {
	t.Helper()
	if txn.FirstSeenAt.IsZero() {
		txn.FirstSeenAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if _, err := store.ImportTransactions(context.Background(), []model.StoredTransaction{txn}); err != nil {
		t.Fatalf("failed to seed transaction %q: %v", txn.ID, err)
	}
}
