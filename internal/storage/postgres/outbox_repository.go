package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garvit124/AutoPO/internal/outbox"
)

type OutboxRepository struct {
	conn
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{conn: conn{pool: pool}}
}

const taskColumns = `id, order_id, kind, payload, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func (r *OutboxRepository) Enqueue(ctx context.Context, task outbox.Task) error {
	_, err := r.exec(ctx, `
INSERT INTO notification_tasks (`+taskColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID,
		task.OrderID,
		task.Kind,
		task.Payload,
		task.Status,
		task.Attempts,
		task.LastError,
		task.NextAttemptAt,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// ClaimDue leases up to limit due tasks. Concurrent dispatchers skip each
// other's locked rows.
func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]outbox.Task, error) {
	rows, err := r.query(ctx, `
UPDATE notification_tasks
SET next_attempt_at = $2, updated_at = $1
WHERE id IN (
	SELECT id FROM notification_tasks
	WHERE status = 'pending' AND next_attempt_at <= $1
	ORDER BY next_attempt_at, created_at
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING `+taskColumns, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	return collectTasks(rows)
}

func (r *OutboxRepository) MarkDone(ctx context.Context, id string, at time.Time) error {
	_, err := r.exec(ctx, `UPDATE notification_tasks SET status = 'done', updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := r.exec(ctx, `
UPDATE notification_tasks
SET attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = NOW()
WHERE id = $1`, id, attempts, next, lastErr)
	if err != nil {
		return fmt.Errorf("mark task retry: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, attempts int, lastErr string, at time.Time) error {
	_, err := r.exec(ctx, `
UPDATE notification_tasks
SET status = 'failed', attempts = $2, last_error = $3, updated_at = $4
WHERE id = $1`, id, attempts, lastErr, at)
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) ListByOrder(ctx context.Context, orderID string) ([]outbox.Task, error) {
	rows, err := r.query(ctx, `SELECT `+taskColumns+` FROM notification_tasks WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]outbox.Task, error) {
	defer rows.Close()

	var tasks []outbox.Task
	for rows.Next() {
		var t outbox.Task
		if err := rows.Scan(
			&t.ID,
			&t.OrderID,
			&t.Kind,
			&t.Payload,
			&t.Status,
			&t.Attempts,
			&t.LastError,
			&t.NextAttemptAt,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		if isInvalidUUID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
