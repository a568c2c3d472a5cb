package auth

import (
	"context"

	"github.com/google/uuid"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	RefreshTokens() TokenStore
	Audit() AuditStore
}

// UserStore reads identity records. User creation and deletion belong to
// other subsystems.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
}

// TokenStore manages the refresh-token lifecycle. Revoke is the
// serialization point for rotation: it must only succeed while the row has
// not been revoked, so of two racing calls exactly one wins.
type TokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	// GetByHash returns the row for a digest regardless of revocation state;
	// the service inspects RevokedAt to detect replay.
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Revoke marks the row revoked. It returns ErrTokenRevoked when the row
	// was already revoked and ErrNotFound when no such row exists.
	Revoke(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	// CleanExpired deletes rows that are expired or revoked, returning the
	// number removed.
	CleanExpired(ctx context.Context) (int64, error)
}

// AuditStore appends immutable security events.
type AuditStore interface {
	Create(ctx context.Context, entry *AuditEntry) error
}
