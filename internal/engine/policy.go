package engine

import (
	"github.com/Veraticus/receipt-sentinel/internal/config"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// Action is what the orchestrator does with a row after its outcome is known.
type Action string

// Actions.
const (
	// ActionConfirm and ActionReject run the worklist action and wait for the row to leave.
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
	// ActionCooldown waits out the cooldown and dispatches the same row again.
	ActionCooldown Action = "cooldown"
	// ActionSkip marks the row skipped for the session.
	ActionSkip Action = "skip"
	// ActionHoldRetry shows a retry affordance; the row is not dispatched again until retried.
	ActionHoldRetry Action = "hold-retry"
	// ActionHoldReject shows a reject affordance without rejecting.
	ActionHoldReject Action = "hold-reject"
	// ActionReview pauses the batch until an operator decides.
	ActionReview Action = "review"
	// ActionRetryLater dispatches the row again after the transient retry delay.
	ActionRetryLater Action = "retry-later"
)

// Decision is the policy's answer for one outcome.
type Decision struct {
	Action Action
	Reason string
	// Refresh asks for the page reload control before scanning resumes.
	Refresh bool
}

// Decide maps an outcome to a batch action. attempts is how many transient
// failures the row has already had in this run. It has no side effects.
func Decide(out model.Outcome, row model.Row, s config.Settings, attempts int) Decision {
	switch out.Status {
	case model.StatusVerified:
		return Decision{Action: ActionConfirm, Reason: out.Label()}

	case model.StatusAmountMismatch:
		if s.Batch.AcceptPartial {
			return Decision{Action: ActionConfirm, Reason: "accept partial " + out.Label()}
		}
		return Decision{Action: ActionReject, Reason: out.Label()}

	case model.StatusWrongRecipient, model.StatusOldReceipt, model.StatusUnderMinimum:
		return Decision{Action: ActionReject, Reason: out.Label()}

	case model.StatusSkippedName:
		return Decision{Action: ActionSkip, Reason: "sender on skip list"}

	case model.StatusRepeat:
		limit := max(s.Batch.RepeatLimit, 1)
		switch {
		case s.ReverifyRepeat(out.PriorStatus, out.RepeatCount):
			return Decision{Action: ActionHoldRetry, Reason: "repeat of " + string(out.PriorStatus) + ", verify again"}
		case out.RepeatCount >= limit:
			return Decision{Action: ActionHoldReject, Reason: out.DisplayText}
		default:
			return Decision{Action: ActionReview, Reason: "repeat below limit"}
		}

	case model.StatusRateLimited:
		return Decision{Action: ActionCooldown, Reason: "extraction keys rate limited"}

	case model.StatusAIError:
		return Decision{Action: ActionSkip, Reason: "extraction service error", Refresh: true}

	case model.StatusBankNotFound:
		if out.Transient && attempts < s.Batch.MaxTransientRetries {
			return Decision{Action: ActionRetryLater, Reason: "bank lookup failed"}
		}
		return Decision{Action: ActionHoldRetry, Reason: out.Label(), Refresh: true}

	case model.StatusRandom:
		if s.SkipRandomEffective() || row.IsPDF() && s.Batch.SkipPDF {
			return Decision{Action: ActionSkip, Reason: "no usable transaction id"}
		}
		return Decision{Action: ActionReview, Reason: "no usable transaction id"}

	case model.StatusOffline, model.StatusImageLoadFailed:
		if attempts < s.Batch.MaxTransientRetries {
			return Decision{Action: ActionRetryLater, Reason: out.Label()}
		}
		return Decision{Action: ActionReview, Reason: out.Label() + " after retries"}
	}

	return Decision{Action: ActionReview, Reason: "unrecognised status " + string(out.Status)}
}

// PreDispatchSkip reports whether a row is skipped without running verification.
func PreDispatchSkip(row model.Row, s config.Settings) bool {
	return row.IsPDF() && s.Batch.SkipPDF
}
