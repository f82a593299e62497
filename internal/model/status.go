// Package model defines the core domain models used throughout the application.
package model

// Status is the closed vocabulary of verification results.
type Status string

// Verification status constants. The string values are what operators see and
// what the store records.
const (
	StatusVerified        Status = "Verified"
	StatusAmountMismatch  Status = "AA"
	StatusWrongRecipient  Status = "Wrong Recipient"
	StatusOldReceipt      Status = "Old Receipt"
	StatusUnderMinimum    Status = "Under Minimum"
	StatusRepeat          Status = "Repeat"
	StatusSkippedName     Status = "Skipped Name"
	StatusBankNotFound    Status = "Bank 404"
	StatusRandom          Status = "Random"
	StatusRateLimited     Status = "API Limit"
	StatusAIError         Status = "AI Error"
	StatusOffline         Status = "Offline"
	StatusImageLoadFailed Status = "Image Load Failed"
)

// AllStatuses lists the vocabulary in display order.
var AllStatuses = []Status{
	StatusVerified,
	StatusAmountMismatch,
	StatusWrongRecipient,
	StatusOldReceipt,
	StatusUnderMinimum,
	StatusRepeat,
	StatusSkippedName,
	StatusBankNotFound,
	StatusRandom,
	StatusRateLimited,
	StatusAIError,
	StatusOffline,
	StatusImageLoadFailed,
}

// Severity is the display priority of an outcome.
type Severity string

// Severity values.
const (
	SeveritySoft Severity = "soft"
	SeverityHard Severity = "hard"
)

// Soft reports whether the status still allows an informed manual accept.
func (s Status) Soft() bool {
	return s == StatusVerified || s == StatusAmountMismatch
}

// Severity returns the display tag for s.
func (s Status) Severity() Severity {
	if s.Soft() {
		return SeveritySoft
	}
	return SeverityHard
}

// Transient reports whether s describes a technical or capacity condition
// rather than a business result.
func (s Status) Transient() bool {
	switch s {
	case StatusRateLimited, StatusOffline, StatusImageLoadFailed:
		return true
	}
	return false
}

// Persisted reports whether an outcome with this status is recorded in the store.
// Technical and capacity outcomes are retried, not recorded, so they move
// neither a transaction nor the daily counters. Extraction-service errors
// carry no id; for them only the daily counter moves.
func (s Status) Persisted() bool {
	return s != StatusOffline && s != StatusImageLoadFailed && s != StatusRateLimited
}

// Valid reports whether s belongs to the vocabulary.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}
