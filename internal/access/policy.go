// Package access decides what a caller identity may do. Single-record
// operations get a boolean; collection queries get a scoping filter so the
// same query path serves administrators and subscribers without branching
// at the call site.
package access

import (
	"github.com/mailloop/mailloop/internal/domain"
)

// NoMatchID is the scope sentinel for callers who may see nothing. It is not
// a UUID and can never collide with a generated subscriber id, so filtering
// on it yields an empty result set rather than an error. Collection reads
// therefore never distinguish "no access" from "nothing found".
const NoMatchID = "!no-match"

// Filter scopes a collection query. A zero Filter applies no restriction.
type Filter struct {
	// ID restricts results to the subscriber with this exact id.
	ID string
}

// Unrestricted reports whether the filter allows everything.
func (f Filter) Unrestricted() bool {
	return f.ID == ""
}

// Matches reports whether a record id passes the filter.
func (f Filter) Matches(id string) bool {
	return f.Unrestricted() || f.ID == id
}

// Decision is the outcome of a policy evaluation: either a flat allow/deny
// or a query scope. The set is closed so callers must handle both shapes.
type Decision interface {
	decision()
}

// Allow is the single-record decision.
type Allow bool

// Scope is the collection-query decision.
type Scope struct {
	Filter Filter
}

func (Allow) decision() {}
func (Scope) decision() {}

// Config configures the policy engine. The administrator test is pluggable
// because deployments may define "admin" differently.
type Config struct {
	// IsAdmin overrides the administrator test. Nil means the default:
	// the identity is the Administrator variant.
	IsAdmin func(domain.Identity) bool
}

// Policy evaluates access decisions. Stateless and safe for concurrent use.
type Policy struct {
	isAdmin func(domain.Identity) bool
}

// NewPolicy creates a policy engine.
func NewPolicy(cfg Config) *Policy {
	isAdmin := cfg.IsAdmin
	if isAdmin == nil {
		isAdmin = func(id domain.Identity) bool {
			_, ok := id.(domain.Administrator)
			return ok
		}
	}
	return &Policy{isAdmin: isAdmin}
}

// AdminOnly reports whether the identity is an administrator.
func (p *Policy) AdminOnly(identity domain.Identity) bool {
	return p.isAdmin(identity)
}

// AdminOrSelf reports whether the identity may act on the record with
// targetID: administrators always, subscribers only on their own record.
func (p *Policy) AdminOrSelf(identity domain.Identity, targetID string) bool {
	if p.isAdmin(identity) {
		return true
	}
	if sub, ok := identity.(domain.SubscriberIdentity); ok {
		return sub.ID == targetID
	}
	return false
}

// AdminOrSelfScope returns the collection filter for the identity:
// unrestricted for administrators, the caller's own id for subscribers, and
// the impossible-match sentinel for everyone else.
func (p *Policy) AdminOrSelfScope(identity domain.Identity) Filter {
	if p.isAdmin(identity) {
		return Filter{}
	}
	if sub, ok := identity.(domain.SubscriberIdentity); ok {
		return Filter{ID: sub.ID}
	}
	return Filter{ID: NoMatchID}
}

// Evaluate runs the admin-or-self policy in sum-type form. A nil targetID
// selects the collection shape and yields a Scope; otherwise the result is
// an Allow for that single record.
func (p *Policy) Evaluate(identity domain.Identity, targetID *string) Decision {
	if targetID == nil {
		return Scope{Filter: p.AdminOrSelfScope(identity)}
	}
	return Allow(p.AdminOrSelf(identity, *targetID))
}
