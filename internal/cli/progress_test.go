package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/receipt-sentinel/internal/engine"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

func TestProgressReporter(t *testing.T) {
	var out bytes.Buffer
	r := NewProgressReporter(&out, 3)

	verified := model.Outcome{Status: model.StatusVerified, AgeLabel: "10m ago"}
	verified.Finalize()
	decision := engine.Decision{Action: engine.ActionConfirm}

	r.OnEvent(engine.Event{Kind: engine.EventStarted})
	r.OnEvent(engine.Event{Kind: engine.EventOutcome, RowKey: "a", Outcome: &verified, Decision: &decision})
	r.OnEvent(engine.Event{Kind: engine.EventConfirmed, RowKey: "a"})
	r.OnEvent(engine.Event{Kind: engine.EventCooldown, RowKey: "b", Detail: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)})
	r.OnEvent(engine.Event{Kind: engine.EventHeld, RowKey: "b", Detail: "Bank 404"})
	r.OnEvent(engine.Event{Kind: engine.EventTimeout, RowKey: "c"})
	r.OnEvent(engine.Event{Kind: engine.EventOutcome, RowKey: "x"})
	r.OnEvent(engine.Event{Kind: engine.EventStopped, Detail: "worklist drained"})

	assert.Equal(t, 2, r.Resolved())
	assert.Equal(t, map[model.Status]int{model.StatusVerified: 1}, r.Counts())

	text := out.String()
	assert.Contains(t, text, "Verified | 10m ago")
	assert.Contains(t, text, "confirm")
	assert.Contains(t, text, "cooling down until 2025-03-14T12:00:00Z")
	assert.Contains(t, text, "b held: Bank 404")
	assert.Contains(t, text, "c timed out")
	assert.Contains(t, text, "Batch stopped: worklist drained")
}

func TestFormatSummary(t *testing.T) {
	text := FormatSummary(engine.Summary{
		Statuses:   map[model.Status]int{model.StatusVerified: 2, model.StatusRandom: 1},
		Held:       []string{"r3"},
		Dispatched: 3,
		Confirmed:  2,
		Timeouts:   1,
	})

	assert.Contains(t, text, "Batch Complete")
	assert.Contains(t, text, "Dispatched: 3")
	assert.Contains(t, text, "Timeouts: 1")
	assert.Contains(t, text, "r3")
	assert.Contains(t, text, "Verified")
	assert.Contains(t, text, "Random")
	assert.NotContains(t, text, "Cancelled")
	assert.NotContains(t, text, "Bank 404")
}
