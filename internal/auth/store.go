package auth

import (
	"context"
	"time"
)

// AccountStore persists accounts. Emails are stored lower-cased.
type AccountStore interface {
	// Create inserts a, assigning ID and timestamps when empty. It returns
	// ErrDuplicateAccount when the email is taken.
	Create(ctx context.Context, a *Account) error
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	SetRoles(ctx context.Context, id string, roles RoleSet) (*Account, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (*Account, error)
}

// RefreshTokenStore manages refresh token lifecycle. Implementations must make
// Rotate and RevokeAllForAccount mutually atomic.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	// Rotate looks up the token with oldHash and, when it is valid at now,
	// marks it revoked and inserts next (with next.AccountID set to the owner)
	// as one indivisible step. It returns the consumed record, or
	// ErrTokenNotFound, ErrTokenInvalid (already revoked) or ErrTokenExpired.
	Rotate(ctx context.Context, oldHash string, now time.Time, next *RefreshToken) (*RefreshToken, error)
	// RevokeAllForAccount revokes every live token of the account and returns
	// how many were changed.
	RevokeAllForAccount(ctx context.Context, accountID string) (int64, error)
	// DeleteExpired removes tokens whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
