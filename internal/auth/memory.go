package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"hmsauth.org/internal/ids"
)

var (
	_ AccountStore      = (*MemoryStore)(nil)
	_ RefreshTokenStore = (*MemoryTokenStore)(nil)
)

// MemoryStore keeps accounts in process memory. It is used by tests and by
// single-node deployments without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string
	now     func() time.Time
}

// NewMemoryStore returns an empty account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, a *Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	email := normalizeEmail(a.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return ErrDuplicateAccount
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	a.Email = email
	a.Roles = a.Roles.WithBase()
	s.byID[a.ID] = copyAccount(a)
	s.byEmail[email] = a.ID
	return nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(s.byID[id]), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	res := make([]*Account, 0, len(s.byID))
	for _, a := range s.byID {
		res = append(res, copyAccount(a))
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (s *MemoryStore) SetRoles(ctx context.Context, id string, roles RoleSet) (*Account, error) {
	return s.update(ctx, id, func(a *Account) { a.Roles = roles.WithBase() })
}

func (s *MemoryStore) SetEnabled(ctx context.Context, id string, enabled bool) (*Account, error) {
	return s.update(ctx, id, func(a *Account) { a.Enabled = enabled })
}

func (s *MemoryStore) update(ctx context.Context, id string, fn func(*Account)) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(a)
	a.UpdatedAt = s.now().UTC()
	return copyAccount(a), nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// MemoryTokenStore keeps refresh tokens in process memory. A single mutex
// serializes Rotate against RevokeAllForAccount.
type MemoryTokenStore struct {
	mu     sync.Mutex
	byHash map[string]*RefreshToken
}

// NewMemoryTokenStore returns an empty refresh token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{byHash: make(map[string]*RefreshToken)}
}

func (s *MemoryTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[tok.TokenHash]; ok {
		return errors.New("auth: refresh token hash collision")
	}
	cp := *tok
	s.byHash[tok.TokenHash] = &cp
	return nil
}

func (s *MemoryTokenStore) Rotate(ctx context.Context, oldHash string, now time.Time, next *RefreshToken) (*RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byHash[oldHash]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if old.Revoked {
		return nil, ErrTokenInvalid
	}
	if !now.Before(old.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	old.Revoked = true
	next.AccountID = old.AccountID
	cp := *next
	s.byHash[next.TokenHash] = &cp
	consumed := *old
	return &consumed, nil
}

func (s *MemoryTokenStore) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, tok := range s.byHash {
		if tok.AccountID == accountID && !tok.Revoked {
			tok.Revoked = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, tok := range s.byHash {
		if !now.Before(tok.ExpiresAt) {
			delete(s.byHash, hash)
			n++
		}
	}
	return n, nil
}

// Tokens returns a snapshot of every stored token for the account.
func (s *MemoryTokenStore) Tokens(accountID string) []RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []RefreshToken
	for _, tok := range s.byHash {
		if tok.AccountID == accountID {
			res = append(res, *tok)
		}
	}
	return res
}

// Ping always succeeds.
func (s *MemoryTokenStore) Ping(context.Context) error { return nil }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyAccount(a *Account) *Account {
	cp := *a
	cp.Roles = a.Roles.Clone()
	return &cp
}
