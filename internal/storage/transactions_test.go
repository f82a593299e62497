package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/service"
)

var baseTime = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newStored(id string, status model.Status, at time.Time) *model.StoredTransaction {
	return &model.StoredTransaction{
		ID:            id,
		Status:        status,
		Amount:        150,
		FirstSeenAt:   at,
		UpdatedAt:     at,
		SenderName:    "Abebe Kebede",
		SenderPhone:   "2519****1234",
		RecipientName: "Tolashii Surrum",
		BankDate:      "2025-03-14 11:50:00 +0300",
	}
}

func TestGetTransaction_NotFound(t *testing.T) {
	store := createTestStorage(t)

	_, err := store.GetTransaction(context.Background(), "FT25073MISSING")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSaveTransaction_RoundTrip(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	txn := newStored("FT25073ABCDE", model.StatusVerified, baseTime)
	require.NoError(t, store.SaveTransaction(ctx, txn, model.StatusVerified))

	got, err := store.GetTransaction(ctx, "FT25073ABCDE")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, got.Status)
	assert.Equal(t, "Abebe Kebede", got.SenderName)
	assert.Equal(t, "2025-03-14 11:50:00 +0300", got.BankDate)
	assert.InDelta(t, 150, got.Amount, 0.0001)
	assert.True(t, got.FirstSeenAt.Equal(baseTime))
	assert.True(t, got.LastRepeatAt.IsZero())
	assert.Equal(t, 0, got.RepeatCount)
	assert.True(t, got.IsComplete())
}

func TestSaveTransaction_UpsertKeepsFirstSeen(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	txn := newStored("FT25073ABCDE", model.StatusAmountMismatch, baseTime)
	require.NoError(t, store.SaveTransaction(ctx, txn, model.StatusAmountMismatch))

	later := baseTime.Add(2 * time.Hour)
	repeat := *txn
	repeat.FirstSeenAt = later
	repeat.UpdatedAt = later
	repeat.LastRepeatAt = later
	repeat.RepeatCount = 1
	require.NoError(t, store.SaveTransaction(ctx, &repeat, model.StatusRepeat))

	got, err := store.GetTransaction(ctx, "FT25073ABCDE")
	require.NoError(t, err)
	assert.True(t, got.FirstSeenAt.Equal(baseTime), "first_seen_at must not move")
	assert.True(t, got.UpdatedAt.Equal(later))
	assert.True(t, got.LastRepeatAt.Equal(later))
	assert.Equal(t, 1, got.RepeatCount)
	assert.Equal(t, model.StatusAmountMismatch, got.Status)

	counts, err := store.DailyCounts(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, []model.DailyCount{
		{Day: "2025-03-14", Status: model.StatusAmountMismatch, Count: 1},
		{Day: "2025-03-14", Status: model.StatusRepeat, Count: 1},
	}, counts)
}

func TestSaveTransaction_RejectsInvalid(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	tests := []struct {
		txn  *model.StoredTransaction
		name string
	}{
		{name: "missing id", txn: newStored("", model.StatusVerified, baseTime)},
		{name: "bad status", txn: newStored("FT1", model.Status("Nope"), baseTime)},
		{name: "zero first seen", txn: newStored("FT1", model.StatusVerified, time.Time{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.SaveTransaction(ctx, tt.txn, model.StatusVerified)
			assert.ErrorIs(t, err, ErrInvalidTransaction)
		})
	}

	counts, err := store.DailyCounts(ctx, baseTime)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestListTransactions_Filters(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTransaction(ctx, newStored("FT1", model.StatusVerified, baseTime), model.StatusVerified))
	require.NoError(t, store.SaveTransaction(ctx, newStored("FT2", model.StatusOldReceipt, baseTime.Add(time.Hour)), model.StatusOldReceipt))
	require.NoError(t, store.SaveTransaction(ctx, newStored("FT3", model.StatusVerified, baseTime.Add(2*time.Hour)), model.StatusVerified))

	all, err := store.ListTransactions(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "FT3", all[0].ID)
	assert.Equal(t, "FT1", all[2].ID)

	verified, err := store.ListTransactions(ctx, service.TransactionFilter{Status: model.StatusVerified})
	require.NoError(t, err)
	assert.Len(t, verified, 2)

	since := baseTime.Add(30 * time.Minute)
	recent, err := store.ListTransactions(ctx, service.TransactionFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	page, err := store.ListTransactions(ctx, service.TransactionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "FT2", page[0].ID)
}

func TestDeleteTransaction(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTransaction(ctx, newStored("FT1", model.StatusVerified, baseTime), model.StatusVerified))
	require.NoError(t, store.DeleteTransaction(ctx, "FT1"))

	_, err := store.GetTransaction(ctx, "FT1")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, store.DeleteTransaction(ctx, "FT1"), common.ErrNotFound)
}

func TestImportTransactions_SkipsExisting(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTransaction(ctx, newStored("FT1", model.StatusVerified, baseTime), model.StatusVerified))

	n, err := store.ImportTransactions(ctx, []model.StoredTransaction{
		*newStored("FT1", model.StatusOldReceipt, baseTime),
		*newStored("FT9", model.StatusVerified, baseTime),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	kept, err := store.GetTransaction(ctx, "FT1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, kept.Status)
	assert.False(t, kept.Imported)

	imported, err := store.GetTransaction(ctx, "FT9")
	require.NoError(t, err)
	assert.True(t, imported.Imported)

	counts, err := store.DailyCounts(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, []model.DailyCount{{Day: "2025-03-14", Status: model.StatusVerified, Count: 1}}, counts)
}
