package domain

// Identity is the caller identity established for a single request.
//
// It is a closed set: Administrator, Subscriber, or Anonymous. Values are
// only constructed by the identity resolver from a verified credential,
// never from client-asserted input.
type Identity interface {
	identity()
}

// Administrator has unrestricted access.
type Administrator struct{}

// SubscriberIdentity is the synthetic identity of a subscriber who proved
// ownership of their email address through a verified token.
type SubscriberIdentity struct {
	ID    string
	Email string
}

// Anonymous is a caller with no identity.
type Anonymous struct{}

func (Administrator) identity()      {}
func (SubscriberIdentity) identity() {}
func (Anonymous) identity()          {}
