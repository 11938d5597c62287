package access

import (
	"testing"

	"github.com/mailloop/mailloop/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestAdminOnly(t *testing.T) {
	policy := NewPolicy(Config{})

	assert.True(t, policy.AdminOnly(domain.Administrator{}))
	assert.False(t, policy.AdminOnly(domain.SubscriberIdentity{ID: "a", Email: "a@example.com"}))
	assert.False(t, policy.AdminOnly(domain.Anonymous{}))
}

func TestAdminOnly_PluggableAdminTest(t *testing.T) {
	// A deployment may define "admin" differently; here any subscriber
	// with a specific email counts.
	policy := NewPolicy(Config{
		IsAdmin: func(id domain.Identity) bool {
			sub, ok := id.(domain.SubscriberIdentity)
			return ok && sub.Email == "root@example.com"
		},
	})

	assert.True(t, policy.AdminOnly(domain.SubscriberIdentity{ID: "a", Email: "root@example.com"}))
	assert.False(t, policy.AdminOnly(domain.Administrator{}))
}

func TestAdminOrSelf_SingleRecord(t *testing.T) {
	policy := NewPolicy(Config{})

	tests := []struct {
		name     string
		identity domain.Identity
		targetID string
		want     bool
	}{
		{"admin on any record", domain.Administrator{}, "b", true},
		{"subscriber on own record", domain.SubscriberIdentity{ID: "a"}, "a", true},
		{"subscriber on another record", domain.SubscriberIdentity{ID: "a"}, "b", false},
		{"anonymous", domain.Anonymous{}, "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.AdminOrSelf(tt.identity, tt.targetID))
		})
	}
}

func TestAdminOrSelfScope(t *testing.T) {
	policy := NewPolicy(Config{})

	adminFilter := policy.AdminOrSelfScope(domain.Administrator{})
	assert.True(t, adminFilter.Unrestricted())
	assert.True(t, adminFilter.Matches("anything"))

	selfFilter := policy.AdminOrSelfScope(domain.SubscriberIdentity{ID: "a"})
	assert.Equal(t, Filter{ID: "a"}, selfFilter)
	assert.True(t, selfFilter.Matches("a"))
	assert.False(t, selfFilter.Matches("b"))

	anonFilter := policy.AdminOrSelfScope(domain.Anonymous{})
	assert.Equal(t, Filter{ID: NoMatchID}, anonFilter)
	assert.False(t, anonFilter.Matches("a"))
}

func TestScope_Isolation(t *testing.T) {
	// For any two distinct subscribers, A's filter never matches B's record.
	policy := NewPolicy(Config{})

	a := domain.SubscriberIdentity{ID: "subscriber-a"}
	b := domain.SubscriberIdentity{ID: "subscriber-b"}

	assert.False(t, policy.AdminOrSelf(a, b.ID))
	assert.False(t, policy.AdminOrSelfScope(a).Matches(b.ID))
	assert.False(t, policy.AdminOrSelfScope(b).Matches(a.ID))
}

func TestEvaluate_SumType(t *testing.T) {
	policy := NewPolicy(Config{})
	target := "a"

	decision := policy.Evaluate(domain.SubscriberIdentity{ID: "a"}, &target)
	allow, ok := decision.(Allow)
	assert.True(t, ok, "single-record form yields Allow")
	assert.True(t, bool(allow))

	decision = policy.Evaluate(domain.SubscriberIdentity{ID: "a"}, nil)
	scope, ok := decision.(Scope)
	assert.True(t, ok, "collection form yields Scope")
	assert.Equal(t, Filter{ID: "a"}, scope.Filter)

	decision = policy.Evaluate(domain.Anonymous{}, nil)
	scope, ok = decision.(Scope)
	assert.True(t, ok)
	assert.Equal(t, Filter{ID: NoMatchID}, scope.Filter)
}
