package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/receipt-sentinel/internal/config"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// rowEntry is the live state of one dispatched row.
type rowEntry struct {
	start    time.Time
	timeout  clockwork.Timer
	cancel   context.CancelFunc
	settings config.Settings
	row      model.Row
	cid      string
	state    model.RowState
}

// rowStates holds at most one live entry per row key. Entries are removed as
// soon as they reach a terminal state.
type rowStates struct {
	entries map[string]*rowEntry
}

func newRowStates() *rowStates {
	return &rowStates{entries: make(map[string]*rowEntry)}
}

func (r *rowStates) start(e *rowEntry) error {
	if _, ok := r.entries[e.row.Key]; ok {
		return fmt.Errorf("row %q is already in flight", e.row.Key)
	}
	e.state = model.RowProcessing
	r.entries[e.row.Key] = e
	return nil
}

// lookup returns the entry for key only when cid is its current correlation id.
func (r *rowStates) lookup(key, cid string) (*rowEntry, bool) {
	e, ok := r.entries[key]
	if !ok || e.cid != cid {
		return nil, false
	}
	return e, true
}

func (r *rowStates) has(key string) bool {
	_, ok := r.entries[key]
	return ok
}

// finish moves the entry to a terminal state, releases its timer and removes it.
func (r *rowStates) finish(key string, state model.RowState) *rowEntry {
	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	if e.timeout != nil {
		e.timeout.Stop()
	}
	if state != model.RowResolved && e.cancel != nil {
		e.cancel()
	}
	e.state = state
	delete(r.entries, key)
	return e
}

func (r *rowStates) len() int {
	return len(r.entries)
}

func (r *rowStates) keys() []string {
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	return out
}
