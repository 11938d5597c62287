package subscribers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailloop/mailloop/internal/access"
	"github.com/mailloop/mailloop/internal/domain"
	"github.com/mailloop/mailloop/internal/pkg/ctxlog"
	"golang.org/x/text/language"
)

// LinkIssuer issues a fresh magic link for a subscriber and records its
// fingerprint on the record. Implemented by the identity service.
type LinkIssuer interface {
	IssueMagicLink(ctx context.Context, sub *domain.Subscriber) error
}

// Notifier enqueues lifecycle emails. Implemented by the notifications
// service. A nil Notifier disables the emails without failing the flow.
type Notifier interface {
	EnqueueWelcome(ctx context.Context, sub *domain.Subscriber) error
	EnqueueGoodbye(ctx context.Context, sub *domain.Subscriber) error
}

// Config contains subscribers service configuration.
type Config struct {
	// DoubleOptIn requires email-ownership confirmation before a new
	// subscription becomes active.
	DoubleOptIn bool
}

// Service provides subscriber business logic.
type Service struct {
	repo        Repository
	policy      *access.Policy
	links       LinkIssuer
	notifier    Notifier
	doubleOptIn bool
}

// NewService creates a new subscribers service.
func NewService(cfg Config, repo Repository, policy *access.Policy, links LinkIssuer, notifier Notifier) *Service {
	return &Service{
		repo:        repo,
		policy:      policy,
		links:       links,
		notifier:    notifier,
		doubleOptIn: cfg.DoubleOptIn,
	}
}

// SubscribeInput is the input for Subscribe.
type SubscribeInput struct {
	Email string
	Name  string
}

// Subscribe creates a new subscriber, or restarts the opt-in flow for an
// unsubscribed one. An email that is already pending or active fails with
// ErrDuplicateEmail.
func (s *Service) Subscribe(ctx context.Context, input SubscribeInput) (*domain.Subscriber, error) {
	email := domain.NormalizeEmail(input.Email)
	now := time.Now().UTC()

	existing, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Status != domain.StatusUnsubscribed {
			return nil, ErrDuplicateEmail
		}
		// Explicit resubscribe flow: back to pending, fresh magic link.
		if err := Transition(existing, domain.StatusPending, TriggerResubscribe, now); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("resubscribe: %w", err)
		}
		s.issueMagicLink(ctx, existing)
		recordSubscription("resubscribed")
		return existing, nil
	case !errors.Is(err, ErrSubscriberNotFound):
		return nil, fmt.Errorf("lookup subscriber: %w", err)
	}

	status := domain.StatusActive
	if s.doubleOptIn {
		status = domain.StatusPending
	}

	sub := &domain.Subscriber{
		ID:               uuid.NewString(),
		Email:            email,
		Name:             input.Name,
		Status:           status,
		EmailPreferences: domain.DefaultEmailPreferences(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}

	if sub.Status == domain.StatusPending {
		s.issueMagicLink(ctx, sub)
	} else {
		s.enqueueWelcome(ctx, sub)
	}

	recordSubscription("created")
	return sub, nil
}

// Get returns a single subscriber if the identity may see it. For callers
// the policy denies, the record is indistinguishable from one that does not
// exist.
func (s *Service) Get(ctx context.Context, identity domain.Identity, id string) (*domain.Subscriber, error) {
	if !s.policy.AdminOrSelf(identity, id) {
		return nil, ErrSubscriberNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// List returns subscribers visible to the identity. The result is scoped by
// the policy engine: everything for administrators, the caller's own record
// for subscribers, and nothing for anonymous callers.
func (s *Service) List(ctx context.Context, identity domain.Identity, limit, offset int) ([]domain.Subscriber, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	filter := s.policy.AdminOrSelfScope(identity)
	return s.repo.List(ctx, filter, limit, offset)
}

// GetPreferences returns the caller's own subscriber record.
func (s *Service) GetPreferences(ctx context.Context, identity domain.Identity) (*domain.Subscriber, error) {
	self, ok := identity.(domain.SubscriberIdentity)
	if !ok {
		return nil, ErrSubscriberNotFound
	}
	return s.Get(ctx, identity, self.ID)
}

// UpdatePreferencesInput is the input for UpdatePreferences. Only the
// subscriber-writable fields are present.
type UpdatePreferencesInput struct {
	Name             *string
	Locale           *string
	EmailPreferences domain.EmailPreferences
}

// UpdatePreferences updates the caller's own name, locale, and email
// preference toggles.
func (s *Service) UpdatePreferences(ctx context.Context, identity domain.Identity, input UpdatePreferencesInput) (*domain.Subscriber, error) {
	self, ok := identity.(domain.SubscriberIdentity)
	if !ok {
		return nil, ErrSubscriberNotFound
	}

	sub, err := s.repo.GetByID(ctx, self.ID)
	if err != nil {
		return nil, err
	}

	if err := applyPreferences(sub, input); err != nil {
		return nil, err
	}

	sub.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	return sub, nil
}

// UpdateInput is the input for Update. Pointer fields are applied only when
// set.
type UpdateInput struct {
	Email            *string
	Name             *string
	Locale           *string
	EmailPreferences domain.EmailPreferences

	// ClearMagicLink clears the magic-link bookkeeping fields. Subscribers
	// may clear them but never set them to a value.
	ClearMagicLink       bool
	MagicLinkToken       *string
	MagicLinkTokenExpiry *time.Time
}

// Update modifies a subscriber record subject to field-level write rules:
// email and the magic-link fields are administrator-only.
func (s *Service) Update(ctx context.Context, identity domain.Identity, id string, input UpdateInput) (*domain.Subscriber, error) {
	if !s.policy.AdminOrSelf(identity, id) {
		return nil, ErrForbidden
	}

	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.applyUpdate(identity, sub, input); err != nil {
		return nil, err
	}

	sub.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscriber: %w", err)
	}
	return sub, nil
}

// Unsubscribe moves a subscriber to unsubscribed. Already-unsubscribed
// records are a no-op, not an error.
func (s *Service) Unsubscribe(ctx context.Context, identity domain.Identity, id string) (*domain.Subscriber, error) {
	if !s.policy.AdminOrSelf(identity, id) {
		return nil, ErrForbidden
	}

	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if sub.Status == domain.StatusUnsubscribed {
		return sub, nil
	}

	if err := Transition(sub, domain.StatusUnsubscribed, TriggerUnsubscribe, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("unsubscribe: %w", err)
	}

	s.enqueueGoodbye(ctx, sub)
	recordSubscription("unsubscribed")
	return sub, nil
}

func (s *Service) applyUpdate(identity domain.Identity, sub *domain.Subscriber, input UpdateInput) error {
	isAdmin := s.policy.AdminOnly(identity)

	if input.Email != nil {
		if !isAdmin {
			return fmt.Errorf("%w: email", ErrProtectedFieldViolation)
		}
		sub.Email = domain.NormalizeEmail(*input.Email)
	}

	// Setting magic-link bookkeeping to a value would let a caller forge a
	// valid-looking token record. Clearing is fine for anyone who may edit
	// the record.
	if input.MagicLinkToken != nil || input.MagicLinkTokenExpiry != nil {
		if !isAdmin {
			return fmt.Errorf("%w: magic_link_token", ErrProtectedFieldViolation)
		}
		sub.MagicLinkToken = input.MagicLinkToken
		sub.MagicLinkTokenExpiry = input.MagicLinkTokenExpiry
	}
	if input.ClearMagicLink {
		sub.MagicLinkToken = nil
		sub.MagicLinkTokenExpiry = nil
	}

	return applyPreferences(sub, UpdatePreferencesInput{
		Name:             input.Name,
		Locale:           input.Locale,
		EmailPreferences: input.EmailPreferences,
	})
}

func applyPreferences(sub *domain.Subscriber, input UpdatePreferencesInput) error {
	if input.Name != nil {
		sub.Name = *input.Name
	}
	if input.Locale != nil {
		tag, err := language.Parse(*input.Locale)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidLocale, *input.Locale)
		}
		sub.Locale = tag.String()
	}
	if input.EmailPreferences != nil {
		if sub.EmailPreferences == nil {
			sub.EmailPreferences = domain.EmailPreferences{}
		}
		for name, enabled := range input.EmailPreferences {
			sub.EmailPreferences[name] = enabled
		}
	}
	return nil
}

func (s *Service) issueMagicLink(ctx context.Context, sub *domain.Subscriber) {
	if s.links == nil {
		return
	}
	if err := s.links.IssueMagicLink(ctx, sub); err != nil {
		ctxlog.FromContext(ctx).Error("failed to issue magic link",
			"subscriber_id", sub.ID,
			"error", err,
		)
	}
}

func (s *Service) enqueueWelcome(ctx context.Context, sub *domain.Subscriber) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.EnqueueWelcome(ctx, sub); err != nil {
		ctxlog.FromContext(ctx).Error("failed to enqueue welcome email",
			"subscriber_id", sub.ID,
			"error", err,
		)
	}
}

func (s *Service) enqueueGoodbye(ctx context.Context, sub *domain.Subscriber) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.EnqueueGoodbye(ctx, sub); err != nil {
		ctxlog.FromContext(ctx).Error("failed to enqueue goodbye email",
			"subscriber_id", sub.ID,
			"error", err,
		)
	}
}
