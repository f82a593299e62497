package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/service"
)

const transactionColumns = `id, amount, status, first_seen_at, updated_at, sender_name, sender_phone,
	recipient_name, bank_date, repeat_count, last_repeat_at, imported`

// GetTransaction returns the stored record for id, or common.ErrNotFound.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.StoredTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("failed to get transaction", err)
	}
	return txn, nil
}

// SaveTransaction upserts txn and increments the daily counter for counted in one SQL transaction.
func (s *SQLiteStorage) SaveTransaction(ctx context.Context, txn *model.StoredTransaction, counted model.Status) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := ValidateTransaction(txn); err != nil {
		return err
	}
	if err := validateStatus(counted); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertTransaction(ctx, tx, txn); err != nil {
		return err
	}
	updated := txn.UpdatedAt
	if updated.IsZero() {
		updated = txn.FirstSeenAt
	}
	if err := incrementCounter(ctx, tx, updated, counted); err != nil {
		return err
	}

	return wrapDBError("failed to commit transaction", tx.Commit())
}

func upsertTransaction(ctx context.Context, q queryable, txn *model.StoredTransaction) error {
	updated := txn.UpdatedAt
	if updated.IsZero() {
		updated = txn.FirstSeenAt
	}
	var lastRepeat sql.NullTime
	if !txn.LastRepeatAt.IsZero() {
		lastRepeat = sql.NullTime{Time: txn.LastRepeatAt.UTC(), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			status = excluded.status,
			updated_at = excluded.updated_at,
			sender_name = excluded.sender_name,
			sender_phone = excluded.sender_phone,
			recipient_name = excluded.recipient_name,
			bank_date = excluded.bank_date,
			repeat_count = excluded.repeat_count,
			last_repeat_at = excluded.last_repeat_at,
			imported = excluded.imported`,
		txn.ID, txn.Amount, string(txn.Status), txn.FirstSeenAt.UTC(), updated.UTC(),
		txn.SenderName, txn.SenderPhone, txn.RecipientName, txn.BankDate,
		txn.RepeatCount, lastRepeat, txn.Imported,
	)
	return wrapDBError("failed to save transaction", err)
}

// ListTransactions returns stored transactions, most recently updated first.
func (s *SQLiteStorage) ListTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.StoredTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Since != nil {
		where = append(where, "updated_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.Status != "" {
		if err := validateStatus(filter.Status); err != nil {
			return nil, err
		}
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("failed to list transactions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.StoredTransaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, wrapDBError("failed to scan transaction", scanErr)
		}
		out = append(out, *txn)
	}
	return out, wrapDBError("failed to iterate transactions", rows.Err())
}

// DeleteTransaction removes a stored transaction. It is an administrative
// action; the verification pipeline never deletes.
func (s *SQLiteStorage) DeleteTransaction(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return wrapDBError("failed to delete transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("failed to delete transaction", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(sc scanner) (*model.StoredTransaction, error) {
	var (
		txn        model.StoredTransaction
		status     string
		lastRepeat sql.NullTime
	)
	err := sc.Scan(&txn.ID, &txn.Amount, &status, &txn.FirstSeenAt, &txn.UpdatedAt,
		&txn.SenderName, &txn.SenderPhone, &txn.RecipientName, &txn.BankDate,
		&txn.RepeatCount, &lastRepeat, &txn.Imported)
	if err != nil {
		return nil, err
	}
	txn.Status = model.Status(status)
	if lastRepeat.Valid {
		txn.LastRepeatAt = lastRepeat.Time
	}
	return &txn, nil
}

// ImportTransactions bulk-loads historical records. Existing ids are left
// untouched; the number inserted is returned. Imports do not move counters.
func (s *SQLiteStorage) ImportTransactions(ctx context.Context, txns []model.StoredTransaction) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapDBError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for i := range txns {
		txn := txns[i]
		txn.Imported = true
		if err := ValidateTransaction(&txn); err != nil {
			return 0, fmt.Errorf("transaction at index %d: %w", i, err)
		}
		if txn.UpdatedAt.IsZero() {
			txn.UpdatedAt = txn.FirstSeenAt
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO transactions (id, amount, status, first_seen_at, updated_at,
				sender_name, sender_phone, recipient_name, bank_date, repeat_count, imported)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			txn.ID, txn.Amount, string(txn.Status), txn.FirstSeenAt.UTC(), txn.UpdatedAt.UTC(),
			txn.SenderName, txn.SenderPhone, txn.RecipientName, txn.BankDate, txn.RepeatCount)
		if err != nil {
			return 0, wrapDBError("failed to import transaction", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapDBError("failed to commit import", err)
	}
	return inserted, nil
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
