// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across engine/store layers.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the store or relay rejected the token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyExists indicates an account with that email is already registered.
	ErrAlreadyExists = errors.New("already exists")

	// ErrMissingToken indicates no auth token was supplied.
	ErrMissingToken = errors.New("missing auth token")

	// ErrTokenExpired indicates the supplied token is past its expiry.
	ErrTokenExpired = errors.New("auth token expired")

	// ErrMissingSession indicates no session id was supplied.
	ErrMissingSession = errors.New("missing session id")

	// ErrInvalidKind indicates an unknown persisted surface type.
	ErrInvalidKind = errors.New("invalid kind")

	// ErrAlreadyStarted indicates Start was called on a running engine.
	ErrAlreadyStarted = errors.New("already started")

	// ErrStopped indicates the engine has been stopped.
	ErrStopped = errors.New("stopped")
)
