package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

func TestRecordOutcome_CountsPerDay(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	day1 := time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)

	require.NoError(t, store.RecordOutcome(ctx, day1, model.StatusRateLimited))
	require.NoError(t, store.RecordOutcome(ctx, day1, model.StatusRateLimited))
	require.NoError(t, store.RecordOutcome(ctx, day1, model.StatusRandom))
	require.NoError(t, store.RecordOutcome(ctx, day2, model.StatusAIError))

	counts, err := store.DailyCounts(ctx, day1)
	require.NoError(t, err)
	assert.Equal(t, []model.DailyCount{
		{Day: "2025-03-14", Status: model.StatusRandom, Count: 1},
		{Day: "2025-03-14", Status: model.StatusRateLimited, Count: 2},
	}, counts)

	counts, err = store.DailyCounts(ctx, day2)
	require.NoError(t, err)
	assert.Equal(t, []model.DailyCount{{Day: "2025-03-15", Status: model.StatusAIError, Count: 1}}, counts)
}
