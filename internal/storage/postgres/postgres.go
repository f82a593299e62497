// Package postgres provides a PostgreSQL implementation of service.Storage.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/model"
	"github.com/Veraticus/receipt-sentinel/internal/service"
	"github.com/Veraticus/receipt-sentinel/internal/storage"
)

//go:embed 001_schema.sql
var schemaSQL string

const transactionColumns = `id, amount, status, first_seen_at, updated_at, sender_name, sender_phone,
	recipient_name, bank_date, repeat_count, last_repeat_at, imported`

// Store is a pgxpool-backed transaction store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to dsn and pings the server. Migrate must be called before use.
func New(ctx context.Context, dsn string, maxConns int, logger *slog.Logger) (*Store, error) {
	logger = common.LoggerOrDefault(logger)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns) //nolint:gosec // bounded by config validation
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, wrapError("pinging database", err)
	}

	logger.Info("connected to PostgreSQL", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return &Store{pool: pool, logger: logger}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return wrapError("executing migration", err)
	}
	s.logger.Info("migrations completed successfully")
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// GetTransaction returns the stored record for id, or common.ErrNotFound.
func (s *Store) GetTransaction(ctx context.Context, id string) (*model.StoredTransaction, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id", storage.ErrEmptyString)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, wrapError("failed to get transaction", err)
	}
	return txn, nil
}

// SaveTransaction upserts txn and increments the counter for counted in one transaction.
func (s *Store) SaveTransaction(ctx context.Context, txn *model.StoredTransaction, counted model.Status) error {
	if err := storage.ValidateTransaction(txn); err != nil {
		return err
	}
	if !counted.Valid() {
		return fmt.Errorf("%w: %q", storage.ErrInvalidStatus, counted)
	}

	updated := txn.UpdatedAt
	if updated.IsZero() {
		updated = txn.FirstSeenAt
	}
	var lastRepeat *time.Time
	if !txn.LastRepeatAt.IsZero() {
		lr := txn.LastRepeatAt.UTC()
		lastRepeat = &lr
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				amount = EXCLUDED.amount,
				status = EXCLUDED.status,
				updated_at = EXCLUDED.updated_at,
				sender_name = EXCLUDED.sender_name,
				sender_phone = EXCLUDED.sender_phone,
				recipient_name = EXCLUDED.recipient_name,
				bank_date = EXCLUDED.bank_date,
				repeat_count = EXCLUDED.repeat_count,
				last_repeat_at = EXCLUDED.last_repeat_at,
				imported = EXCLUDED.imported`,
			txn.ID, txn.Amount, string(txn.Status), txn.FirstSeenAt.UTC(), updated.UTC(),
			txn.SenderName, txn.SenderPhone, txn.RecipientName, txn.BankDate,
			txn.RepeatCount, lastRepeat, txn.Imported)
		if err != nil {
			return wrapError("failed to save transaction", err)
		}
		return incrementCounter(ctx, tx, updated, counted)
	})
}

// RecordOutcome increments the daily counter for an id-less outcome.
func (s *Store) RecordOutcome(ctx context.Context, at time.Time, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", storage.ErrInvalidStatus, status)
	}
	return incrementCounter(ctx, s.pool, at, status)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func incrementCounter(ctx context.Context, q execer, at time.Time, status model.Status) error {
	_, err := q.Exec(ctx, `
		INSERT INTO daily_counters (day, status, count) VALUES ($1, $2, 1)
		ON CONFLICT (day, status) DO UPDATE SET count = daily_counters.count + 1`,
		at.Format("2006-01-02"), string(status))
	return wrapError("failed to increment counter", err)
}

// ListTransactions returns stored transactions, most recently updated first.
func (s *Store) ListTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.StoredTransaction, error) {
	var (
		where []string
		args  []any
	)
	if filter.Since != nil {
		args = append(args, filter.Since.UTC())
		where = append(where, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError("failed to list transactions", err)
	}
	defer rows.Close()

	var out []model.StoredTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapError("failed to scan transaction", err)
		}
		out = append(out, *txn)
	}
	return out, wrapError("failed to iterate transactions", rows.Err())
}

// DeleteTransaction removes a stored transaction.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return wrapError("failed to delete transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// DailyCounts returns the counters for day's calendar date in vocabulary order.
func (s *Store) DailyCounts(ctx context.Context, day time.Time) ([]model.DailyCount, error) {
	key := day.Format("2006-01-02")
	rows, err := s.pool.Query(ctx, `SELECT status, count FROM daily_counters WHERE day = $1`, key)
	if err != nil {
		return nil, wrapError("failed to read counters", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapError("failed to scan counter", err)
		}
		counts[model.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("failed to iterate counters", err)
	}

	out := make([]model.DailyCount, 0, len(counts))
	for _, st := range model.AllStatuses {
		if n, ok := counts[st]; ok {
			out = append(out, model.DailyCount{Day: key, Status: st, Count: n})
		}
	}
	return out, nil
}

// SaveRowMark stores or replaces the mark for a row.
func (s *Store) SaveRowMark(ctx context.Context, mark model.RowMark) error {
	if mark.RowKey == "" || mark.Mark == "" || mark.ExpiresAt.IsZero() {
		return storage.ErrInvalidMark
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO row_marks (row_key, mark, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (row_key) DO UPDATE SET mark = EXCLUDED.mark, expires_at = EXCLUDED.expires_at`,
		mark.RowKey, mark.Mark, mark.ExpiresAt.UTC())
	return wrapError("failed to save row mark", err)
}

// ActiveRowMarks returns marks that have not expired at now.
func (s *Store) ActiveRowMarks(ctx context.Context, now time.Time) ([]model.RowMark, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT row_key, mark, expires_at FROM row_marks WHERE expires_at > $1 ORDER BY row_key`, now.UTC())
	if err != nil {
		return nil, wrapError("failed to read row marks", err)
	}
	marks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RowMark, error) {
		var m model.RowMark
		err := row.Scan(&m.RowKey, &m.Mark, &m.ExpiresAt)
		return m, err
	})
	return marks, wrapError("failed to collect row marks", err)
}

// PurgeExpiredRowMarks deletes marks expired at now.
func (s *Store) PurgeExpiredRowMarks(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM row_marks WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, wrapError("failed to purge row marks", err)
	}
	return tag.RowsAffected(), nil
}

func scanTransaction(row pgx.Row) (*model.StoredTransaction, error) {
	var (
		txn        model.StoredTransaction
		status     string
		lastRepeat *time.Time
	)
	err := row.Scan(&txn.ID, &txn.Amount, &status, &txn.FirstSeenAt, &txn.UpdatedAt,
		&txn.SenderName, &txn.SenderPhone, &txn.RecipientName, &txn.BankDate,
		&txn.RepeatCount, &lastRepeat, &txn.Imported)
	if err != nil {
		return nil, err
	}
	txn.Status = model.Status(status)
	if lastRepeat != nil {
		txn.LastRepeatAt = *lastRepeat
	}
	return &txn, nil
}

// wrapError marks connection-level failures with common.ErrOffline.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isOffline(err) {
		return fmt.Errorf("%s: %w: %w", op, common.ErrOffline, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isOffline(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "closed pool")
}

var _ service.Storage = (*Store)(nil)
