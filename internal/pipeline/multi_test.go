package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// setupParts gives image i the id 80100000000i and a receipt for amounts[i].
func setupParts(h *harness, amounts ...float64) []model.Image {
	images := make([]model.Image, 0, len(amounts))
	for i, amt := range amounts {
		src := fmt.Sprintf("part%d.png", i+1)
		id := fmt.Sprintf("80100000000%d", i+1)
		h.extractor.answers[src] = []string{id}
		h.fetcher.receipts[id] = receiptFor(amt, 5*time.Minute)
		images = append(images, shot(src))
	}
	return images
}

func TestVerify_StopsOnceTotalReached(t *testing.T) {
	h := newHarness(t)
	images := setupParts(h, 30, 40, 5)

	out, err := h.pipeline.Verify(context.Background(), images, 70, testSettings())
	require.NoError(t, err)

	assert.Equal(t, model.StatusVerified, out.Status)
	assert.InDelta(t, 70, out.FoundAmount, 0.0001)
	assert.Equal(t, []string{"801000000001", "801000000002"}, out.TransactionIDs)
	assert.Len(t, out.Parts, 2)
	assert.False(t, h.extractor.called("part3.png"))

	stored, err := h.store.GetTransaction(context.Background(), "801000000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, stored.Status)
	assert.Equal(t, map[model.Status]int{model.StatusVerified: 2}, h.counts(t))
}

func TestVerify_PartUnderMinimumExcludedFromSum(t *testing.T) {
	h := newHarness(t)
	images := setupParts(h, 5, 30, 40)

	out, err := h.pipeline.Verify(context.Background(), images, 70, testSettings())
	require.NoError(t, err)

	assert.Equal(t, model.StatusVerified, out.Status)
	assert.InDelta(t, 70, out.FoundAmount, 0.0001)
	require.Len(t, out.Parts, 3)
	assert.Equal(t, model.StatusUnderMinimum, out.Parts[0].Status)

	stored, err := h.store.GetTransaction(context.Background(), "801000000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderMinimum, stored.Status)
}

func TestVerify_ShortfallIsSoftMismatchWithTotal(t *testing.T) {
	h := newHarness(t)
	images := setupParts(h, 30, 5, 20)

	out, err := h.pipeline.Verify(context.Background(), images, 70, testSettings())
	require.NoError(t, err)

	assert.Equal(t, model.StatusAmountMismatch, out.Status)
	assert.InDelta(t, 50, out.FoundAmount, 0.0001)
	assert.Equal(t, "AA 50", out.Label())
	assert.Equal(t, model.SeveritySoft, out.Severity)
	assert.False(t, out.AmountOK)
}

func TestVerify_DeduplicatesIDs(t *testing.T) {
	h := newHarness(t)
	h.extractor.answers["a.png"] = []string{"801000000001"}
	h.extractor.answers["b.png"] = []string{"801000000001"}
	h.extractor.answers["c.png"] = []string{"801000000002"}
	h.fetcher.receipts["801000000001"] = receiptFor(60, time.Minute)
	h.fetcher.receipts["801000000002"] = receiptFor(40, time.Minute)

	out, err := h.pipeline.Verify(context.Background(), []model.Image{shot("a.png"), shot("b.png"), shot("c.png")}, 100, testSettings())
	require.NoError(t, err)

	assert.Equal(t, model.StatusVerified, out.Status)
	assert.Equal(t, []string{"801000000001", "801000000002"}, out.TransactionIDs)
	assert.Equal(t, 1, h.fetcher.calls["801000000001"])

	stored, err := h.store.GetTransaction(context.Background(), "801000000001")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.RepeatCount)
}

func TestVerify_NoVerifiedPartPrefersCapacityFailure(t *testing.T) {
	h := newHarness(t)
	h.extractor.errs["b.png"] = fmt.Errorf("rotation: %w", common.ErrKeysExhausted)
	h.extractor.errs["c.png"] = fmt.Errorf("boom")

	out, err := h.pipeline.Verify(context.Background(), []model.Image{shot("a.png"), shot("b.png"), shot("c.png")}, 70, testSettings())
	require.NoError(t, err)

	assert.Equal(t, model.StatusRateLimited, out.Status)
	assert.Len(t, out.Parts, 3)
}

func TestVerify_NoVerifiedPartKeepsFirstSpecificFailure(t *testing.T) {
	h := newHarness(t)
	images := setupParts(h, 5, 3)

	out, err := h.pipeline.Verify(context.Background(), images, 70, testSettings())
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderMinimum, out.Status)
	assert.Equal(t, "801000000001", out.TransactionID)
}

func TestVerify_SingleImageUsesFullMinimum(t *testing.T) {
	h := newHarness(t)
	images := setupParts(h, 30)

	out, err := h.pipeline.Verify(context.Background(), images, 30, testSettings())
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderMinimum, out.Status)
}

func TestVerify_NoImages(t *testing.T) {
	h := newHarness(t)

	out, err := h.pipeline.Verify(context.Background(), nil, 70, testSettings())
	require.NoError(t, err)
	assert.Equal(t, model.StatusImageLoadFailed, out.Status)
}

func TestVerify_CancelledPersistsNothing(t *testing.T) {
	h := newHarness(t)
	images := setupParts(h, 30, 40)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h.fetcher.hook = func() {
		calls++
		if calls == 2 {
			cancel()
		}
	}

	_, err := h.pipeline.Verify(ctx, images, 70, testSettings())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.counts(t))
}
