package subscribers

import "errors"

// Service errors.
var (
	ErrSubscriberNotFound      = errors.New("subscriber not found")
	ErrDuplicateEmail          = errors.New("email is already subscribed")
	ErrInvalidStateTransition  = errors.New("invalid subscription state transition")
	ErrProtectedFieldViolation = errors.New("field is not writable by this identity")
	ErrForbidden               = errors.New("operation not permitted")
	ErrInvalidLocale           = errors.New("invalid locale")
)
