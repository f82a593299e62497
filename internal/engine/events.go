package engine

import (
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// EventKind names an orchestrator event.
type EventKind string

// Event kinds.
const (
	EventStarted    EventKind = "started"
	EventDispatched EventKind = "dispatched"
	EventOutcome    EventKind = "outcome"
	EventConfirmed  EventKind = "confirmed"
	EventRejected   EventKind = "rejected"
	EventSkipped    EventKind = "skipped"
	EventHeld       EventKind = "held"
	EventCooldown   EventKind = "cooldown"
	EventTimeout    EventKind = "timeout"
	EventCancelled  EventKind = "cancelled"
	EventReview     EventKind = "review"
	EventRefresh    EventKind = "refresh"
	EventNextPage   EventKind = "next-page"
	EventStopped    EventKind = "stopped"
)

// Event is a notification from the orchestrator's event loop.
type Event struct {
	At            time.Time
	Outcome       *model.Outcome
	Decision      *Decision
	Kind          EventKind
	RowKey        string
	CorrelationID string
	Detail        string
}

// Summary totals one batch run.
type Summary struct {
	Statuses   map[model.Status]int
	Held       []string
	Dispatched int
	Confirmed  int
	Rejected   int
	Skipped    int
	Timeouts   int
	Cancelled  int
}

// Snapshot is a point-in-time view of the orchestrator.
type Snapshot struct {
	CooldownUntil time.Time
	InFlight      []string
	Held          []string
	Running       bool
	Paused        bool
}
