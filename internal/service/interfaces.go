// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	Since  *time.Time
	Status model.Status
	Limit  int
	Offset int
}

// TransactionStore is the persistence contract consumed by the verification pipeline.
// GetTransaction returns common.ErrNotFound for an unknown id and an error
// wrapping common.ErrOffline when the backend is unreachable.
type TransactionStore interface {
	GetTransaction(ctx context.Context, id string) (*model.StoredTransaction, error)
	// SaveTransaction upserts txn and increments the daily counter for counted,
	// on the day of txn.UpdatedAt, in one unit of work.
	SaveTransaction(ctx context.Context, txn *model.StoredTransaction, counted model.Status) error
	// RecordOutcome increments the daily counter for an outcome that has no transaction id.
	RecordOutcome(ctx context.Context, at time.Time, status model.Status) error
}

// MarkStore persists per-row marks with an expiry.
type MarkStore interface {
	SaveRowMark(ctx context.Context, mark model.RowMark) error
	ActiveRowMarks(ctx context.Context, now time.Time) ([]model.RowMark, error)
	PurgeExpiredRowMarks(ctx context.Context, now time.Time) (int64, error)
}

// Storage is the full persistence layer.
type Storage interface {
	TransactionStore
	MarkStore

	ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.StoredTransaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	DailyCounts(ctx context.Context, day time.Time) ([]model.DailyCount, error)

	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
