// Package identity turns credentials into caller identities. It owns the
// magic-link sign-in flow: issuing links, verifying them exactly once, and
// upgrading a successful verification into a session token.
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mailloop/mailloop/internal/domain"
	"github.com/mailloop/mailloop/internal/pkg/ctxlog"
	"github.com/mailloop/mailloop/internal/subscribers"
	"github.com/mailloop/mailloop/internal/token"
)

// SubscriberStore is the slice of subscriber persistence the identity
// service needs.
type SubscriberStore interface {
	GetByID(ctx context.Context, id string) (*domain.Subscriber, error)
	GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error)
	Update(ctx context.Context, sub *domain.Subscriber) error
	SetMagicLink(ctx context.Context, id, fingerprint string, expiresAt time.Time) error
}

// Notifier enqueues sign-in related emails.
type Notifier interface {
	EnqueueMagicLink(ctx context.Context, sub *domain.Subscriber, token string, expiresAt time.Time) error
	EnqueueWelcome(ctx context.Context, sub *domain.Subscriber) error
}

// Service provides magic-link issuance and verification.
type Service struct {
	tokens   *token.Service
	store    SubscriberStore
	notifier Notifier
}

// NewService creates a new identity service.
func NewService(tokens *token.Service, store SubscriberStore, notifier Notifier) *Service {
	return &Service{
		tokens:   tokens,
		store:    store,
		notifier: notifier,
	}
}

// Fingerprint returns the value stored on the subscriber record for an
// issued magic-link token. Only the fingerprint is persisted; the token
// itself exists solely in the email.
func Fingerprint(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// IssueMagicLink mints a fresh magic-link token for the subscriber, records
// its fingerprint, and enqueues the email. Any previously issued link is
// superseded immediately: its fingerprint is overwritten, so it will no
// longer verify even though its signature remains valid until expiry.
func (s *Service) IssueMagicLink(ctx context.Context, sub *domain.Subscriber) error {
	tok, expiresAt, err := s.tokens.GenerateMagicLink(sub.ID, sub.Email)
	if err != nil {
		return fmt.Errorf("generate magic link: %w", err)
	}

	fingerprint := Fingerprint(tok)
	if err := s.store.SetMagicLink(ctx, sub.ID, fingerprint, expiresAt); err != nil {
		return fmt.Errorf("store magic link: %w", err)
	}
	sub.MagicLinkToken = &fingerprint
	sub.MagicLinkTokenExpiry = &expiresAt
	sub.MagicLinkUsedAt = nil

	recordTokenIssued(token.TypeMagicLink)

	if s.notifier != nil {
		if err := s.notifier.EnqueueMagicLink(ctx, sub, tok, expiresAt); err != nil {
			return fmt.Errorf("enqueue magic link email: %w", err)
		}
	}
	return nil
}

// SignIn issues a new magic link to an existing subscriber. The response is
// identical whether or not the email exists, so the endpoint cannot be used
// to probe the list.
func (s *Service) SignIn(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)

	sub, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, subscribers.ErrSubscriberNotFound) {
			ctxlog.FromContext(ctx).Info("sign-in for unknown email ignored")
			return nil
		}
		return fmt.Errorf("lookup subscriber: %w", err)
	}

	if sub.Status == domain.StatusUnsubscribed {
		// Unsubscribed addresses go through the resubscribe flow instead;
		// respond identically to avoid leaking list membership.
		ctxlog.FromContext(ctx).Info("sign-in for unsubscribed subscriber ignored",
			"subscriber_id", sub.ID,
		)
		return nil
	}

	return s.IssueMagicLink(ctx, sub)
}

// VerifyMagicLink checks a presented magic-link token, consumes it, applies
// the pending → active transition when needed, and returns the subscriber
// together with a fresh session token.
func (s *Service) VerifyMagicLink(ctx context.Context, presented string) (*domain.Subscriber, string, error) {
	claims, err := s.tokens.VerifyMagicLink(presented)
	if err != nil {
		recordVerification(token.TypeMagicLink, "rejected")
		return nil, "", err
	}

	sub, err := s.store.GetByID(ctx, claims.SubscriberID())
	if err != nil {
		recordVerification(token.TypeMagicLink, "rejected")
		if errors.Is(err, subscribers.ErrSubscriberNotFound) {
			return nil, "", ErrLinkInvalid
		}
		return nil, "", fmt.Errorf("load subscriber: %w", err)
	}

	if err := s.checkAgainstRecord(sub, claims, presented); err != nil {
		recordVerification(token.TypeMagicLink, "rejected")
		return nil, "", err
	}

	now := time.Now().UTC()
	activated := false

	switch sub.Status {
	case domain.StatusPending:
		if err := subscribers.Transition(sub, domain.StatusActive, subscribers.TriggerMagicLinkVerified, now); err != nil {
			recordVerification(token.TypeMagicLink, "rejected")
			return nil, "", err
		}
		activated = true
	case domain.StatusActive:
		// Repeat sign-in for an already-active subscriber; no transition.
		sub.MagicLinkToken = nil
		sub.MagicLinkTokenExpiry = nil
	default:
		recordVerification(token.TypeMagicLink, "rejected")
		return nil, "", fmt.Errorf("%w: %s -> %s (%s)",
			subscribers.ErrInvalidStateTransition,
			sub.Status, domain.StatusActive, subscribers.TriggerMagicLinkVerified)
	}

	usedAt := now
	sub.MagicLinkUsedAt = &usedAt
	sub.UpdatedAt = now

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, "", fmt.Errorf("consume magic link: %w", err)
	}

	recordVerification(token.TypeMagicLink, "verified")

	if activated && s.notifier != nil {
		if err := s.notifier.EnqueueWelcome(ctx, sub); err != nil {
			ctxlog.FromContext(ctx).Error("failed to enqueue welcome email",
				"subscriber_id", sub.ID,
				"error", err,
			)
		}
	}

	session, _, err := s.tokens.GenerateSession(sub.ID, sub.Email)
	if err != nil {
		return nil, "", fmt.Errorf("generate session token: %w", err)
	}
	recordTokenIssued(token.TypeSession)

	return sub, session, nil
}

// checkAgainstRecord cross-checks a cryptographically valid token against
// the current record state: the record must still hold this token's
// fingerprint, the record-level expiry must not have passed, and the email
// baked into the token must still match.
func (s *Service) checkAgainstRecord(sub *domain.Subscriber, claims *token.Claims, presented string) error {
	if sub.Email != domain.NormalizeEmail(claims.Email) {
		return ErrLinkInvalid
	}
	if sub.MagicLinkToken == nil {
		return ErrLinkInvalid
	}

	fingerprint := Fingerprint(presented)
	if subtle.ConstantTimeCompare([]byte(fingerprint), []byte(*sub.MagicLinkToken)) != 1 {
		return ErrLinkInvalid
	}

	if sub.MagicLinkUsedAt != nil {
		return ErrLinkInvalid
	}
	if sub.MagicLinkTokenExpiry != nil && time.Now().After(*sub.MagicLinkTokenExpiry) {
		return token.ErrTokenExpired
	}
	return nil
}
