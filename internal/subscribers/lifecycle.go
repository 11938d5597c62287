package subscribers

import (
	"fmt"
	"time"

	"github.com/mailloop/mailloop/internal/domain"
)

// Trigger identifies what caused a lifecycle transition. Each edge of the
// state machine is reachable through exactly one trigger.
type Trigger string

// Lifecycle triggers.
const (
	TriggerMagicLinkVerified Trigger = "magic_link_verified"
	TriggerUnsubscribe       Trigger = "unsubscribe"
	TriggerResubscribe       Trigger = "resubscribe"
)

type edge struct {
	from domain.SubscriptionStatus
	to   domain.SubscriptionStatus
}

// transitions is the full set of legal lifecycle edges.
var transitions = map[edge]Trigger{
	{domain.StatusPending, domain.StatusActive}:       TriggerMagicLinkVerified,
	{domain.StatusPending, domain.StatusUnsubscribed}: TriggerUnsubscribe,
	{domain.StatusActive, domain.StatusUnsubscribed}:  TriggerUnsubscribe,
	{domain.StatusUnsubscribed, domain.StatusPending}: TriggerResubscribe,
}

// Transition moves a subscriber to a new status, applying the side effects
// that belong to the edge. Any edge not in the transition table, or reached
// through the wrong trigger, fails with ErrInvalidStateTransition.
func Transition(sub *domain.Subscriber, to domain.SubscriptionStatus, trigger Trigger, now time.Time) error {
	want, ok := transitions[edge{sub.Status, to}]
	if !ok || want != trigger {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidStateTransition, sub.Status, to, trigger)
	}

	switch to {
	case domain.StatusActive:
		sub.MagicLinkToken = nil
		sub.MagicLinkTokenExpiry = nil
	case domain.StatusUnsubscribed:
		at := now
		sub.UnsubscribedAt = &at
		sub.EmailPreferences = sub.EmailPreferences.AllOff()
	case domain.StatusPending:
		sub.UnsubscribedAt = nil
	}

	sub.Status = to
	sub.UpdatedAt = now
	return nil
}
