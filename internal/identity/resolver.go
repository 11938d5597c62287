package identity

import (
	"context"

	"github.com/mailloop/mailloop/internal/domain"
	"github.com/mailloop/mailloop/internal/token"
	"golang.org/x/crypto/bcrypt"
)

// Resolver maps a presented credential to one of the three caller
// identities. It is the only constructor of non-anonymous identities:
// a Subscriber identity exists only because a session token verified, and
// an Administrator only because the configured admin key matched.
type Resolver struct {
	tokens       *token.Service
	adminKeyHash []byte
}

// NewResolver creates a resolver. adminKeyHash is the bcrypt hash of the
// administrator API key; empty disables administrator access entirely.
func NewResolver(tokens *token.Service, adminKeyHash string) *Resolver {
	return &Resolver{
		tokens:       tokens,
		adminKeyHash: []byte(adminKeyHash),
	}
}

// Resolve turns a bearer credential into an identity. An empty credential
// resolves to Anonymous without error; an invalid one returns Anonymous
// plus the verification error.
func (r *Resolver) Resolve(_ context.Context, credential string) (domain.Identity, error) {
	if credential == "" {
		return domain.Anonymous{}, nil
	}

	if len(r.adminKeyHash) > 0 {
		if err := bcrypt.CompareHashAndPassword(r.adminKeyHash, []byte(credential)); err == nil {
			return domain.Administrator{}, nil
		}
	}

	claims, err := r.tokens.VerifySession(credential)
	if err != nil {
		recordVerification(token.TypeSession, "rejected")
		return domain.Anonymous{}, err
	}

	recordVerification(token.TypeSession, "verified")
	return domain.SubscriberIdentity{
		ID:    claims.SubscriberID(),
		Email: claims.Email,
	}, nil
}
