package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"hmsauth.org/internal/ids"
)

const (
	defaultRefreshTTL   = 7 * 24 * time.Hour
	defaultStoreTimeout = 5 * time.Second
	refreshTokenBytes   = 32
)

// IssuedRefreshToken pairs the raw value handed to the client with its record.
type IssuedRefreshToken struct {
	Raw    string
	Record *RefreshToken
}

// Ledger issues, rotates and revokes refresh tokens on top of a RefreshTokenStore.
type Ledger struct {
	store   RefreshTokenStore
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// LedgerOption configures Ledger behavior.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the time source.
func WithLedgerClock(fn func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithLedgerTimeout bounds every store call.
func WithLedgerTimeout(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLedger constructs a Ledger issuing tokens that live for ttl.
func NewLedger(store RefreshTokenStore, ttl time.Duration, opts ...LedgerOption) *Ledger {
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	l := &Ledger{
		store:   store,
		ttl:     ttl,
		timeout: defaultStoreTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TTL reports the refresh token lifetime.
func (l *Ledger) TTL() time.Duration { return l.ttl }

// Issue creates and persists a fresh refresh token for the account.
func (l *Ledger) Issue(ctx context.Context, accountID string) (IssuedRefreshToken, error) {
	if strings.TrimSpace(accountID) == "" {
		return IssuedRefreshToken{}, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	raw, rec, err := l.newToken(accountID)
	if err != nil {
		return IssuedRefreshToken{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.store.Create(ctx, rec); err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("store refresh token: %w", err)
	}
	return IssuedRefreshToken{Raw: raw, Record: rec}, nil
}

// Rotate exchanges oldRaw for a successor. The old token is revoked and the
// successor persisted atomically, so concurrent rotations of one value yield a
// single winner; the losers observe ErrTokenInvalid.
func (l *Ledger) Rotate(ctx context.Context, oldRaw string) (IssuedRefreshToken, error) {
	oldRaw = strings.TrimSpace(oldRaw)
	if oldRaw == "" {
		return IssuedRefreshToken{}, ErrTokenNotFound
	}
	raw, next, err := l.newToken("")
	if err != nil {
		return IssuedRefreshToken{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if _, err := l.store.Rotate(ctx, HashRefreshToken(oldRaw), l.now().UTC(), next); err != nil {
		return IssuedRefreshToken{}, err
	}
	return IssuedRefreshToken{Raw: raw, Record: next}, nil
}

// RevokeAll revokes every live refresh token of the account.
func (l *Ledger) RevokeAll(ctx context.Context, accountID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	n, err := l.store.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return n, nil
}

// SweepExpired deletes expired tokens. It is storage hygiene only: expired
// tokens are already rejected by Rotate.
func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	n, err := l.store.DeleteExpired(ctx, l.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep refresh tokens: %w", err)
	}
	return n, nil
}

func (l *Ledger) newToken(accountID string) (string, *RefreshToken, error) {
	secret := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, fmt.Errorf("generate refresh token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(secret)
	now := l.now().UTC()
	rec := &RefreshToken{
		ID:        ids.New(),
		AccountID: accountID,
		TokenHash: HashRefreshToken(raw),
		ExpiresAt: now.Add(l.ttl),
		CreatedAt: now,
	}
	return raw, rec, nil
}

// HashRefreshToken returns the hex SHA-256 digest stored in place of raw.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
