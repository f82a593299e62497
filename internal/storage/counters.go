package storage

import (
	"context"
	"time"

	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// RecordOutcome increments the daily counter for an outcome without a transaction id.
func (s *SQLiteStorage) RecordOutcome(ctx context.Context, at time.Time, status model.Status) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStatus(status); err != nil {
		return err
	}
	return incrementCounter(ctx, s.db, at, status)
}

func incrementCounter(ctx context.Context, q queryable, at time.Time, status model.Status) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO daily_counters (day, status, count) VALUES (?, ?, 1)
		ON CONFLICT(day, status) DO UPDATE SET count = count + 1`,
		dayKey(at), string(status))
	return wrapDBError("failed to increment counter", err)
}

// DailyCounts returns the counters for day's calendar date in vocabulary order.
func (s *SQLiteStorage) DailyCounts(ctx context.Context, day time.Time) ([]model.DailyCount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	key := dayKey(day)
	rows, err := s.db.QueryContext(ctx, `SELECT status, count FROM daily_counters WHERE day = ?`, key)
	if err != nil {
		return nil, wrapDBError("failed to read counters", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapDBError("failed to scan counter", err)
		}
		counts[model.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("failed to iterate counters", err)
	}

	out := make([]model.DailyCount, 0, len(counts))
	for _, st := range model.AllStatuses {
		if n, ok := counts[st]; ok {
			out = append(out, model.DailyCount{Day: key, Status: st, Count: n})
		}
	}
	return out, nil
}
