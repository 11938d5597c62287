package domain

import (
	"strings"
	"time"
)

// SubscriptionStatus represents where a subscriber is in the opt-in lifecycle.
type SubscriptionStatus string

// Subscription statuses.
const (
	StatusPending      SubscriptionStatus = "pending"
	StatusActive       SubscriptionStatus = "active"
	StatusUnsubscribed SubscriptionStatus = "unsubscribed"
)

// IsValid checks if the subscription status is valid.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusUnsubscribed:
		return true
	}
	return false
}

// EmailPreferences maps named mailing toggles to on/off.
type EmailPreferences map[string]bool

// DefaultEmailPreferences returns the toggles a new subscriber starts with.
func DefaultEmailPreferences() EmailPreferences {
	return EmailPreferences{
		"newsletter":    true,
		"announcements": true,
		"digest":        false,
	}
}

// AllOff returns a copy of the preferences with every toggle disabled.
// Applied when a subscriber unsubscribes.
func (p EmailPreferences) AllOff() EmailPreferences {
	off := make(EmailPreferences, len(p))
	for k := range p {
		off[k] = false
	}
	return off
}

// Subscriber is a single mailing-list member.
// Magic-link bookkeeping fields are never serialized to API responses;
// handlers expose subscribers through view structs instead.
type Subscriber struct {
	ID     string             `json:"id"`
	Email  string             `json:"email"`
	Name   string             `json:"name"`
	Locale string             `json:"locale"`
	Status SubscriptionStatus `json:"status"`

	EmailPreferences EmailPreferences `json:"email_preferences"`

	// Fingerprint of the most recently issued magic-link token and its
	// expiry. At most one outstanding link exists per subscriber; issuing
	// a new one overwrites these.
	MagicLinkToken       *string    `json:"-"`
	MagicLinkTokenExpiry *time.Time `json:"-"`
	MagicLinkUsedAt      *time.Time `json:"-"`

	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NormalizeEmail canonicalizes an email address for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
