package notifications

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/mailloop/mailloop/internal/domain"
)

// Config contains notification service configuration.
type Config struct {
	// BaseURL is the externally visible origin used to build links embedded
	// in emails, e.g. https://list.example.com.
	BaseURL     string
	MaxAttempts int
}

// Service enqueues transactional emails into the outbox. Delivery happens
// asynchronously in the worker.
type Service struct {
	repo        Repository
	baseURL     *url.URL
	maxAttempts int
}

// NewService creates a new notification service.
func NewService(cfg Config, repo Repository) (*Service, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultWorkerConfig().MaxAttempts
	}

	return &Service{
		repo:        repo,
		baseURL:     base,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// EnqueueMagicLink enqueues a sign-in email carrying the verification link.
func (s *Service) EnqueueMagicLink(ctx context.Context, sub *domain.Subscriber, token string, expiresAt time.Time) error {
	return s.enqueue(ctx, sub, MessageTypeMagicLink, TemplateData{
		Name:          sub.Name,
		Email:         sub.Email,
		Locale:        sub.Locale,
		Link:          s.verifyLink(token),
		LinkExpiresAt: &expiresAt,
	})
}

// EnqueueWelcome enqueues the email sent when a subscription becomes active.
func (s *Service) EnqueueWelcome(ctx context.Context, sub *domain.Subscriber) error {
	return s.enqueue(ctx, sub, MessageTypeWelcome, TemplateData{
		Name:   sub.Name,
		Email:  sub.Email,
		Locale: sub.Locale,
	})
}

// EnqueueGoodbye enqueues the email confirming an unsubscribe.
func (s *Service) EnqueueGoodbye(ctx context.Context, sub *domain.Subscriber) error {
	return s.enqueue(ctx, sub, MessageTypeGoodbye, TemplateData{
		Name:   sub.Name,
		Email:  sub.Email,
		Locale: sub.Locale,
	})
}

func (s *Service) enqueue(ctx context.Context, sub *domain.Subscriber, messageType MessageType, data TemplateData) error {
	item := &QueueItem{
		ID:           uuid.NewString(),
		SubscriberID: sub.ID,
		Recipient:    sub.Email,
		MessageType:  messageType,
		Payload:      data,
		MaxAttempts:  s.maxAttempts,
	}
	if err := s.repo.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("enqueue %s email: %w", messageType, err)
	}
	return nil
}

// verifyLink builds the link a subscriber clicks to consume a magic-link
// token.
func (s *Service) verifyLink(token string) string {
	link := *s.baseURL
	link.Path = "/auth/verify"
	link.RawQuery = url.Values{"token": []string{token}}.Encode()
	return link.String()
}

// StartStatsCollector periodically publishes outbox size metrics until the
// context is cancelled.
func (s *Service) StartStatsCollector(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := s.repo.GetQueueStats(ctx)
				if err != nil {
					continue
				}
				RecordQueueStats(stats)
			}
		}
	}()
}
