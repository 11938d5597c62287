// Package postgres provides the PostgreSQL implementation of the outbox
// repository.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mailloop/mailloop/internal/notifications"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a new outbox item in pending state.
func (r *Repository) Enqueue(ctx context.Context, item *notifications.QueueItem) error {
	query := `
		INSERT INTO email_outbox (id, subscriber_id, recipient, message_type, payload, status, attempts, max_attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		item.ID,
		item.SubscriberID,
		item.Recipient,
		item.MessageType,
		item.Payload,
		item.MaxAttempts,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}

	item.Status = notifications.QueueStatusPending
	return nil
}

// FetchPending claims up to limit due items. Claimed rows move to
// processing inside the same statement, and SKIP LOCKED keeps concurrent
// workers from claiming the same row.
func (r *Repository) FetchPending(ctx context.Context, limit int) ([]*notifications.QueueItem, error) {
	query := `
		UPDATE email_outbox
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM email_outbox
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, subscriber_id, recipient, message_type, payload, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at, sent_at
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending emails: %w", err)
	}
	defer rows.Close()

	items := make([]*notifications.QueueItem, 0)
	for rows.Next() {
		var item notifications.QueueItem
		err := rows.Scan(
			&item.ID,
			&item.SubscriberID,
			&item.Recipient,
			&item.MessageType,
			&item.Payload,
			&item.Status,
			&item.Attempts,
			&item.MaxAttempts,
			&item.NextAttemptAt,
			&item.LastError,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, &item)
	}

	return items, nil
}

// MarkSent marks an item as sent.
func (r *Repository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE email_outbox
		SET status = 'sent', attempts = attempts + 1, sent_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, query, id)
}

// MarkFailed marks an item as permanently failed.
func (r *Repository) MarkFailed(ctx context.Context, id string, sendErr error) error {
	query := `
		UPDATE email_outbox
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, query, id, sendErr.Error())
}

// MarkForRetry returns an item to pending with a future next_attempt_at.
func (r *Repository) MarkForRetry(ctx context.Context, id string, sendErr error, nextAttempt time.Time) error {
	query := `
		UPDATE email_outbox
		SET status = 'pending', attempts = attempts + 1, last_error = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, query, id, sendErr.Error(), nextAttempt)
}

// GetQueueStats returns outbox size by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM email_outbox GROUP BY status`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	defer rows.Close()

	var stats notifications.QueueStats
	for rows.Next() {
		var status notifications.QueueStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}

		switch status {
		case notifications.QueueStatusPending:
			stats.Pending = count
		case notifications.QueueStatusProcessing:
			stats.Processing = count
		case notifications.QueueStatusSent:
			stats.Sent = count
		case notifications.QueueStatusFailed:
			stats.Failed = count
		}
	}

	return &stats, nil
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrQueueItemNotFound
	}
	return nil
}
