package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	NumWorkers        int
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:         100,
		PollInterval:      5 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		NumWorkers:        2,
	}
}

// Worker drains the outbox: it claims due items, renders them, and hands
// them to the sender.
type Worker struct {
	config   WorkerConfig
	repo     Repository
	sender   Sender
	renderer *Renderer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a new outbox worker.
func NewWorker(config WorkerConfig, repo Repository, sender Sender, renderer *Renderer) *Worker {
	return &Worker{
		config:   config,
		repo:     repo,
		sender:   sender,
		renderer: renderer,
		stopCh:   make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting outbox worker",
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("outbox worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx, workerID)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, workerID int) {
	items, err := w.repo.FetchPending(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch pending emails", "worker", workerID, "error", err)
		return
	}

	if len(items) == 0 {
		return
	}

	slog.Debug("processing emails", "worker", workerID, "count", len(items))
	recordOutboxFetched(len(items))

	for _, item := range items {
		w.processItem(ctx, item)
	}
}

func (w *Worker) processItem(ctx context.Context, item *QueueItem) {
	start := time.Now()

	subject, body, err := w.renderer.Render(item.MessageType, item.Payload)
	if err != nil {
		slog.Error("failed to render", "item_id", item.ID, "error", err)
		if markErr := w.repo.MarkFailed(ctx, item.ID, err); markErr != nil {
			slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
		}
		recordEmailSent(item.MessageType, "failed")
		return
	}

	err = w.sender.Send(ctx, Email{
		To:      item.Recipient,
		Subject: subject,
		Body:    body,
	})
	duration := time.Since(start)

	if err != nil {
		w.handleSendError(ctx, item, err)
		return
	}

	// Success
	if err := w.repo.MarkSent(ctx, item.ID); err != nil {
		slog.Error("failed to mark as sent", "item_id", item.ID, "error", err)
	}

	recordEmailSent(item.MessageType, "success")
	recordEmailDuration(item.MessageType, duration)

	slog.Debug("email sent",
		"item_id", item.ID,
		"message_type", item.MessageType,
		"duration", duration,
	)
}

func (w *Worker) handleSendError(ctx context.Context, item *QueueItem, err error) {
	slog.Warn("send failed",
		"item_id", item.ID,
		"attempt", item.Attempts+1,
		"max_attempts", item.MaxAttempts,
		"error", err,
	)

	// Check if error is retryable
	if !isRetryable(err) {
		if markErr := w.repo.MarkFailed(ctx, item.ID, err); markErr != nil {
			slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
		}
		recordEmailSent(item.MessageType, "failed")
		return
	}

	// Check attempt limit
	if item.Attempts+1 >= item.MaxAttempts {
		if markErr := w.repo.MarkFailed(ctx, item.ID, fmt.Errorf("max attempts exceeded: %w", err)); markErr != nil {
			slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
		}
		recordEmailSent(item.MessageType, "failed")
		return
	}

	// Schedule retry
	nextAttempt := w.calculateNextAttempt(item.Attempts + 1)
	if markErr := w.repo.MarkForRetry(ctx, item.ID, err, nextAttempt); markErr != nil {
		slog.Error("failed to mark for retry", "item_id", item.ID, "error", markErr)
	}
	recordEmailSent(item.MessageType, "retry")

	slog.Info("email scheduled for retry",
		"item_id", item.ID,
		"next_attempt", nextAttempt,
	)
}

func (w *Worker) calculateNextAttempt(attempt int) time.Time {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return time.Now().Add(time.Duration(backoff))
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
