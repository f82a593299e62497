// Package storage provides the SQLite persistence layer for verified transactions.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidStatus      = errors.New("invalid verification status")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidMark        = errors.New("invalid row mark")
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateStatus(status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return nil
}

// ValidateTransaction checks the fields every stored transaction must carry.
func ValidateTransaction(txn *model.StoredTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if strings.TrimSpace(txn.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if err := validateStatus(txn.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}
	if txn.FirstSeenAt.IsZero() {
		return fmt.Errorf("%w: missing first seen time", ErrInvalidTransaction)
	}
	if txn.RepeatCount < 0 {
		return fmt.Errorf("%w: negative repeat count", ErrInvalidTransaction)
	}
	return nil
}

func validateMark(mark model.RowMark) error {
	if strings.TrimSpace(mark.RowKey) == "" {
		return fmt.Errorf("%w: missing row key", ErrInvalidMark)
	}
	if strings.TrimSpace(mark.Mark) == "" {
		return fmt.Errorf("%w: missing mark", ErrInvalidMark)
	}
	if mark.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing expiry", ErrInvalidMark)
	}
	return nil
}
