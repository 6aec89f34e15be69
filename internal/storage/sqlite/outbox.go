package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garvit124/AutoPO/internal/outbox"
)

const taskColumns = `id, order_id, kind, payload, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func (s *Store) Enqueue(ctx context.Context, task outbox.Task) error {
	_, err := s.q(ctx).ExecContext(ctx, `
INSERT INTO notification_tasks (`+taskColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.OrderID,
		string(task.Kind),
		string(task.Payload),
		string(task.Status),
		task.Attempts,
		task.LastError,
		toMillis(task.NextAttemptAt),
		toMillis(task.CreatedAt),
		toMillis(task.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// ClaimDue leases up to limit due tasks. The immediate write lock keeps two
// dispatchers from claiming the same rows.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]outbox.Task, error) {
	var tasks []outbox.Task
	err := s.WithTx(ctx, func(txCtx context.Context) error {
		rows, err := s.q(txCtx).QueryContext(txCtx, `
SELECT `+taskColumns+`
FROM notification_tasks
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY next_attempt_at, created_at
LIMIT ?`, toMillis(now), limit)
		if err != nil {
			return fmt.Errorf("select due tasks: %w", err)
		}
		if tasks, err = collectTasks(rows); err != nil {
			return err
		}

		until := now.Add(lease)
		for i := range tasks {
			_, err := s.q(txCtx).ExecContext(txCtx, `
UPDATE notification_tasks SET next_attempt_at = ?, updated_at = ? WHERE id = ?`,
				toMillis(until), toMillis(now), tasks[i].ID)
			if err != nil {
				return fmt.Errorf("lease task: %w", err)
			}
			tasks[i].NextAttemptAt = until
			tasks[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) MarkDone(ctx context.Context, id string, at time.Time) error {
	_, err := s.q(ctx).ExecContext(ctx, `UPDATE notification_tasks SET status = 'done', updated_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}
	return nil
}

func (s *Store) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := s.q(ctx).ExecContext(ctx, `
UPDATE notification_tasks
SET attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = `+nowMillis+`
WHERE id = ?`, attempts, toMillis(next), lastErr, id)
	if err != nil {
		return fmt.Errorf("mark task retry: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, lastErr string, at time.Time) error {
	_, err := s.q(ctx).ExecContext(ctx, `
UPDATE notification_tasks
SET status = 'failed', attempts = ?, last_error = ?, updated_at = ?
WHERE id = ?`, attempts, lastErr, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}
	return nil
}

func (s *Store) ListByOrder(ctx context.Context, orderID string) ([]outbox.Task, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+taskColumns+` FROM notification_tasks WHERE order_id = ? ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]outbox.Task, error) {
	defer rows.Close()

	var tasks []outbox.Task
	for rows.Next() {
		var (
			t                                 outbox.Task
			kind, payload, status             string
			nextAttempt, createdAt, updatedAt int64
		)
		if err := rows.Scan(
			&t.ID,
			&t.OrderID,
			&kind,
			&payload,
			&status,
			&t.Attempts,
			&t.LastError,
			&nextAttempt,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Kind = outbox.Kind(kind)
		t.Payload = []byte(payload)
		t.Status = outbox.Status(status)
		t.NextAttemptAt = fromMillis(nextAttempt)
		t.CreatedAt = fromMillis(createdAt)
		t.UpdatedAt = fromMillis(updatedAt)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
