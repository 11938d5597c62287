// Package notifications provides the transactional email outbox: enqueueing,
// rendering, and delivery of magic-link, welcome, and goodbye emails.
package notifications

import (
	"context"
	"time"
)

// Repository defines the interface for outbox data access.
type Repository interface {
	Enqueue(ctx context.Context, item *QueueItem) error

	// FetchPending claims up to limit due items, marking them processing so
	// concurrent workers never pick the same item twice.
	FetchPending(ctx context.Context, limit int) ([]*QueueItem, error)

	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, sendErr error) error
	MarkForRetry(ctx context.Context, id string, sendErr error, nextAttempt time.Time) error

	GetQueueStats(ctx context.Context) (*QueueStats, error)
}
