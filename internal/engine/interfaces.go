package engine

import (
	"context"

	"github.com/Veraticus/receipt-sentinel/internal/config"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// Worklist is the table of rows the orchestrator works through, plus the
// actions it can take on them.
type Worklist interface {
	Rows(ctx context.Context) ([]model.Row, error)
	Images(ctx context.Context, row model.Row) ([]model.Image, error)
	Confirm(ctx context.Context, row model.Row, outcome model.Outcome) error
	Reject(ctx context.Context, row model.Row, outcome model.Outcome) error
	// Contains reports whether the row is still listed.
	Contains(ctx context.Context, rowKey string) (bool, error)
	// Refresh triggers the page's reload control. It reports false when there is none.
	Refresh(ctx context.Context) (bool, error)
	// NextPage advances to the next page of rows. It reports false when there is none.
	NextPage(ctx context.Context) (bool, error)
}

// Verifier runs a row's screenshots through verification.
type Verifier interface {
	Verify(ctx context.Context, images []model.Image, expected float64, s config.Settings) (model.Outcome, error)
}

// Reviewer asks an operator what to do with a row the policy will not decide.
type Reviewer interface {
	Review(ctx context.Context, row model.Row, outcome model.Outcome) (Verdict, error)
}

// Observer receives orchestrator events. It is called from the event loop and must not block.
type Observer interface {
	OnEvent(Event)
}

// SettingsSource supplies the live settings snapshot. *config.Holder implements it.
type SettingsSource interface {
	Snapshot() config.Settings
}

// Verdict is an operator's answer to a review request.
type Verdict string

// Verdicts.
const (
	VerdictConfirm Verdict = "confirm"
	VerdictReject  Verdict = "reject"
	VerdictSkip    Verdict = "skip"
	VerdictRetry   Verdict = "retry"
	VerdictStop    Verdict = "stop"
)
