package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"hmsauth.org/internal/auth"
)

// TokenStore implements auth.RefreshTokenStore on PostgreSQL. Rotate and
// RevokeAllForAccount both lock the owning account row before touching any
// token row, so they serialize per account and always in the same order.
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore wraps an existing connection pool.
func NewTokenStore(db *sql.DB) *TokenStore { return &TokenStore{db: db} }

func (s *TokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, account_id, token_hash, expires_at, revoked, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, tok.ID, tok.AccountID, tok.TokenHash, tok.ExpiresAt, tok.Revoked, tok.CreatedAt)
	return err
}

func (s *TokenStore) Rotate(ctx context.Context, oldHash string, now time.Time, next *auth.RefreshToken) (*auth.RefreshToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var accountID string
	err = tx.QueryRowContext(ctx, `select account_id from refresh_tokens where token_hash=$1`, oldHash).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := lockAccount(ctx, tx, accountID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, auth.ErrTokenNotFound
		}
		return nil, err
	}

	old := auth.RefreshToken{AccountID: accountID, TokenHash: oldHash}
	err = tx.QueryRowContext(ctx, `
		select id, expires_at, revoked, created_at
		from refresh_tokens
		where token_hash=$1
		for update
	`, oldHash).Scan(&old.ID, &old.ExpiresAt, &old.Revoked, &old.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if old.Revoked {
		return nil, auth.ErrTokenInvalid
	}
	if !now.Before(old.ExpiresAt) {
		return nil, auth.ErrTokenExpired
	}

	if _, err := tx.ExecContext(ctx, `update refresh_tokens set revoked=true where id=$1`, old.ID); err != nil {
		return nil, err
	}
	next.AccountID = accountID
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens (id, account_id, token_hash, expires_at, revoked, created_at)
		values ($1, $2, $3, $4, false, $5)
	`, next.ID, next.AccountID, next.TokenHash, next.ExpiresAt, next.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	old.Revoked = true
	return &old, nil
}

func (s *TokenStore) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockAccount(ctx, tx, accountID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `update refresh_tokens set revoked=true where account_id=$1 and not revoked`, accountID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping reports whether the database is reachable.
func (s *TokenStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func lockAccount(ctx context.Context, tx *sql.Tx, accountID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `select id from accounts where id=$1 for update`, accountID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	return err
}
