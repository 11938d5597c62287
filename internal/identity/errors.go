package identity

import "errors"

// Service errors.
var (
	// ErrLinkInvalid covers every application-layer rejection of a magic
	// link: unknown subscriber, superseded token, already-consumed token,
	// or an email that no longer matches the record. One error for all of
	// them so callers cannot probe which case they hit.
	ErrLinkInvalid = errors.New("magic link is invalid or has already been used")

	// ErrUnauthorized is returned when no valid credential accompanies a
	// request that requires one.
	ErrUnauthorized = errors.New("unauthorized")
)
