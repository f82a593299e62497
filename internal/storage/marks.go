package storage

import (
	"context"
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// SaveRowMark stores or replaces the mark for a row.
func (s *SQLiteStorage) SaveRowMark(ctx context.Context, mark model.RowMark) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMark(mark); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO row_marks (row_key, mark, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(row_key) DO UPDATE SET mark = excluded.mark, expires_at = excluded.expires_at`,
		mark.RowKey, mark.Mark, mark.ExpiresAt.UTC())
	return wrapDBError("failed to save row mark", err)
}

// ActiveRowMarks returns marks that have not expired at now.
func (s *SQLiteStorage) ActiveRowMarks(ctx context.Context, now time.Time) ([]model.RowMark, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT row_key, mark, expires_at FROM row_marks WHERE expires_at > ? ORDER BY row_key`, now.UTC())
	if err != nil {
		return nil, wrapDBError("failed to read row marks", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RowMark
	for rows.Next() {
		var m model.RowMark
		if err := rows.Scan(&m.RowKey, &m.Mark, &m.ExpiresAt); err != nil {
			return nil, wrapDBError("failed to scan row mark", err)
		}
		out = append(out, m)
	}
	return out, wrapDBError("failed to iterate row marks", rows.Err())
}

// PurgeExpiredRowMarks deletes marks expired at now and returns how many were removed.
func (s *SQLiteStorage) PurgeExpiredRowMarks(ctx context.Context, now time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM row_marks WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, wrapDBError("failed to purge row marks", err)
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("failed to purge row marks", err)
}
