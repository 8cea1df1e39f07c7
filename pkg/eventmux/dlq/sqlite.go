package dlq

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteQueue persists failed deliveries to SQLite.
// It is suitable for single-process production use.
type SQLiteQueue struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// ErrQueueClosed indicates an operation on a closed SQLiteQueue.
var ErrQueueClosed = fmt.Errorf("dead letter queue is closed")

// Compile-time interface check.
var _ Queue = (*SQLiteQueue)(nil)

// NewSQLiteQueue creates a SQLite-backed queue.
// The path should be a file path (e.g., "./deadletter.db") or
// ":memory:" for testing.
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS failed_deliveries (
			event_id TEXT NOT NULL PRIMARY KEY,
			event_type TEXT NOT NULL,
			event_data BLOB,
			handler TEXT NOT NULL,
			error_message TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			first_failed_at TEXT NOT NULL,
			last_failed_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_failed_deliveries_type
		ON failed_deliveries(event_type)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteQueue{db: db}, nil
}

// Enqueue implements Queue.
// A repeated failure for the same event ID increments the stored
// attempt count.
func (q *SQLiteQueue) Enqueue(ctx context.Context, failed *FailedDelivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO failed_deliveries (
			event_id, event_type, event_data, handler, error_message,
			attempt_count, first_failed_at, last_failed_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			attempt_count = attempt_count + 1,
			handler = excluded.handler,
			error_message = excluded.error_message,
			last_failed_at = excluded.last_failed_at
	`,
		failed.EventID, failed.EventType, failed.EventData, failed.Handler,
		failed.ErrorMessage, failed.AttemptCount,
		failed.FirstFailedAt.UTC().Format(time.RFC3339Nano),
		failed.LastFailedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("enqueue failed delivery: %w", err)
	}
	return nil
}

// Dequeue implements Queue.
func (q *SQLiteQueue) Dequeue(ctx context.Context, limit int) ([]*FailedDelivery, error) {
	return q.DequeueByType(ctx, "", limit)
}

// DequeueByType implements Queue.
// An empty eventType matches every type.
func (q *SQLiteQueue) DequeueByType(ctx context.Context, eventType string, limit int) ([]*FailedDelivery, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT event_id, event_type, event_data, handler, error_message,
		       attempt_count, first_failed_at, last_failed_at
		FROM failed_deliveries
		WHERE (? = '' OR event_type = ?)
		ORDER BY first_failed_at
		LIMIT ?
	`, eventType, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue failed deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*FailedDelivery
	for rows.Next() {
		var fd FailedDelivery
		var first, last string
		if err := rows.Scan(&fd.EventID, &fd.EventType, &fd.EventData,
			&fd.Handler, &fd.ErrorMessage, &fd.AttemptCount, &first, &last); err != nil {
			return nil, fmt.Errorf("scan failed delivery: %w", err)
		}
		fd.FirstFailedAt, _ = time.Parse(time.RFC3339Nano, first)
		fd.LastFailedAt, _ = time.Parse(time.RFC3339Nano, last)
		deliveries = append(deliveries, &fd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed deliveries: %w", err)
	}
	return deliveries, nil
}

// Acknowledge implements Queue.
func (q *SQLiteQueue) Acknowledge(ctx context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	res, err := q.db.ExecContext(ctx,
		`DELETE FROM failed_deliveries WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("acknowledge failed delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count implements Queue.
func (q *SQLiteQueue) Count(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	var n int
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failed_deliveries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed deliveries: %w", err)
	}
	return n, nil
}

// CountByType implements Queue.
func (q *SQLiteQueue) CountByType(ctx context.Context) (map[string]int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM failed_deliveries
		GROUP BY event_type
	`)
	if err != nil {
		return nil, fmt.Errorf("count failed deliveries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[eventType] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// Close closes the underlying database.
func (q *SQLiteQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}
