package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

func TestRowStates_SingleLiveEntryPerKey(t *testing.T) {
	rs := newRowStates()
	require.NoError(t, rs.start(&rowEntry{row: model.Row{Key: "a"}, cid: "1"}))
	assert.Error(t, rs.start(&rowEntry{row: model.Row{Key: "a"}, cid: "2"}))
	assert.Equal(t, 1, rs.len())

	_, ok := rs.lookup("a", "2")
	assert.False(t, ok, "stale correlation id must not match")
	e, ok := rs.lookup("a", "1")
	require.True(t, ok)
	assert.Equal(t, model.RowProcessing, e.state)
}

func TestRowStates_FinishRemovesAndCancels(t *testing.T) {
	rs := newRowStates()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rs.start(&rowEntry{row: model.Row{Key: "a"}, cid: "1", cancel: cancel}))

	e := rs.finish("a", model.RowCancelled)
	require.NotNil(t, e)
	assert.Equal(t, model.RowCancelled, e.state)
	assert.True(t, e.state.Terminal())
	assert.Error(t, ctx.Err())
	assert.False(t, rs.has("a"))
	assert.Nil(t, rs.finish("a", model.RowCancelled))

	// A fresh row re-enters.
	require.NoError(t, rs.start(&rowEntry{row: model.Row{Key: "a"}, cid: "2"}))
}

func TestRowStates_ResolvedDoesNotCancel(t *testing.T) {
	rs := newRowStates()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rs.start(&rowEntry{row: model.Row{Key: "a"}, cid: "1", cancel: cancel}))

	rs.finish("a", model.RowResolved)
	assert.NoError(t, ctx.Err())
}
