package auth

import "errors"

// Caller-recoverable failures. The HTTP boundary maps these to 401/403;
// everything else is wrapped with context and treated as fatal for the
// request.
var (
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrUserInactive       = errors.New("auth: user account is inactive")
	ErrTokenExpired       = errors.New("auth: token has expired")
	ErrTokenInvalid       = errors.New("auth: token is invalid")
	ErrTokenRevoked       = errors.New("auth: token has been revoked")

	// ErrNotFound is the store-level miss signal.
	ErrNotFound = errors.New("auth: not found")
)
