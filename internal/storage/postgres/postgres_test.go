package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/service"
)

func TestNew_ConnectionFailureIsOffline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := New(ctx, "host=127.0.0.1 port=1 user=x password=x dbname=x sslmode=disable connect_timeout=2", 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrOffline)
}

func TestNew_BadDSN(t *testing.T) {
	_, err := New(context.Background(), "port=notanumber", 0, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrOffline)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SENTINEL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SENTINEL_TEST_POSTGRES_DSN not set, skipping integration test")
	}

	ctx := context.Background()
	store, err := New(ctx, dsn, 2, nil)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	_, err = store.pool.Exec(ctx, `TRUNCATE transactions, daily_counters, row_marks`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_TransactionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	_, err := store.GetTransaction(ctx, "FT1")
	require.ErrorIs(t, err, common.ErrNotFound)

	txn := &model.StoredTransaction{
		ID: "FT1", Status: model.StatusVerified, Amount: 150,
		FirstSeenAt: at, UpdatedAt: at,
		SenderName: "Abebe", BankDate: "2025-03-14 11:50:00 +0300",
	}
	require.NoError(t, store.SaveTransaction(ctx, txn, model.StatusVerified))

	later := at.Add(time.Hour)
	txn.UpdatedAt, txn.LastRepeatAt, txn.RepeatCount = later, later, 1
	require.NoError(t, store.SaveTransaction(ctx, txn, model.StatusRepeat))

	got, err := store.GetTransaction(ctx, "FT1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RepeatCount)
	assert.True(t, got.FirstSeenAt.Equal(at))
	assert.True(t, got.LastRepeatAt.Equal(later))

	list, err := store.ListTransactions(ctx, service.TransactionFilter{Status: model.StatusVerified})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.RecordOutcome(ctx, at, model.StatusRateLimited))
	counts, err := store.DailyCounts(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, []model.DailyCount{
		{Day: "2025-03-14", Status: model.StatusVerified, Count: 1},
		{Day: "2025-03-14", Status: model.StatusRepeat, Count: 1},
		{Day: "2025-03-14", Status: model.StatusRateLimited, Count: 1},
	}, counts)

	require.NoError(t, store.DeleteTransaction(ctx, "FT1"))
	assert.ErrorIs(t, store.DeleteTransaction(ctx, "FT1"), common.ErrNotFound)
}

func TestStore_RowMarks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRowMark(ctx, model.RowMark{RowKey: "a", Mark: model.MarkSkipped, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, store.SaveRowMark(ctx, model.RowMark{RowKey: "b", Mark: model.MarkSkipped, ExpiresAt: now.Add(-time.Hour)}))

	active, err := store.ActiveRowMarks(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].RowKey)

	n, err := store.PurgeExpiredRowMarks(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
