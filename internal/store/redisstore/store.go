// Package redisstore keeps refresh tokens in Redis. Rotation, bulk
// revocation and sweeping run as Lua scripts, so each is a single atomic step
// on the server.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"hmsauth.org/internal/auth"
)

// ErrRedisUnavailable wraps transport and script failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRevoked  int64 = 2
	rotateStatusRotated  int64 = 3
)

const rotateScript = `
local acct = redis.call("HGET", KEYS[1], "account")
if not acct then
  return {0}
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return {2, acct}
end
local expires = redis.call("HGET", KEYS[1], "expires")
local exp = tonumber(expires)
if tonumber(ARGV[1]) >= exp then
  return {1, acct}
end
redis.call("HSET", KEYS[1], "revoked", "1")
redis.call("HSET", KEYS[2], "id", ARGV[3], "account", acct, "expires", ARGV[4], "revoked", "0", "created", ARGV[5])
redis.call("SADD", ARGV[6] .. acct, ARGV[2])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[2])
return {3, acct, redis.call("HGET", KEYS[1], "id"), expires, redis.call("HGET", KEYS[1], "created")}
`

const revokeAllScript = `
local n = 0
for _, h in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local k = ARGV[1] .. h
  if redis.call("HGET", k, "revoked") == "0" then
    redis.call("HSET", k, "revoked", "1")
    n = n + 1
  end
end
return n
`

const sweepScript = `
local hashes = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, h in ipairs(hashes) do
  local k = ARGV[2] .. h
  local acct = redis.call("HGET", k, "account")
  if acct then
    redis.call("SREM", ARGV[3] .. acct, h)
  end
  redis.call("DEL", k)
end
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
return #hashes
`

var (
	rotateLua    = redis.NewScript(rotateScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
	sweepLua     = redis.NewScript(sweepScript)
)

var _ auth.RefreshTokenStore = (*TokenStore)(nil)

// TokenStore implements auth.RefreshTokenStore. Each token is a hash keyed by
// its digest; a per-account set and a global expiry index point at it.
type TokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewTokenStore creates a TokenStore using prefix as the key namespace.
func NewTokenStore(rdb redis.UniversalClient, prefix string) *TokenStore {
	if prefix == "" {
		prefix = "hmsauth"
	}
	return &TokenStore{redis: rdb, prefix: prefix}
}

func (s *TokenStore) tokenPrefix() string   { return s.prefix + ":rt:" }
func (s *TokenStore) accountPrefix() string { return s.prefix + ":acct:" }
func (s *TokenStore) expiryKey() string     { return s.prefix + ":rt-exp" }

func (s *TokenStore) tokenKey(hash string) string { return s.tokenPrefix() + hash }

func (s *TokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	revoked := "0"
	if tok.Revoked {
		revoked = "1"
	}
	expires := tok.ExpiresAt.UnixMilli()
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.tokenKey(tok.TokenHash),
			"id", tok.ID,
			"account", tok.AccountID,
			"expires", expires,
			"revoked", revoked,
			"created", tok.CreatedAt.UnixMilli(),
		)
		pipe.SAdd(ctx, s.accountPrefix()+tok.AccountID, tok.TokenHash)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(expires), Member: tok.TokenHash})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *TokenStore) Rotate(ctx context.Context, oldHash string, now time.Time, next *auth.RefreshToken) (*auth.RefreshToken, error) {
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.tokenKey(oldHash), s.tokenKey(next.TokenHash), s.expiryKey()},
		now.UnixMilli(),
		next.TokenHash,
		next.ID,
		next.ExpiresAt.UnixMilli(),
		next.CreatedAt.UnixMilli(),
		s.accountPrefix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, auth.ErrTokenNotFound
	case rotateStatusExpired:
		return nil, auth.ErrTokenExpired
	case rotateStatusRevoked:
		return nil, auth.ErrTokenInvalid
	case rotateStatusRotated:
	default:
		return nil, fmt.Errorf("%w: unknown rotate status %d", ErrRedisUnavailable, code)
	}
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: invalid rotate script payload", ErrRedisUnavailable)
	}

	accountID, _ := parts[1].(string)
	oldID, _ := parts[2].(string)
	expires, err := parseMillis(parts[3])
	if err != nil {
		return nil, err
	}
	created, err := parseMillis(parts[4])
	if err != nil {
		return nil, err
	}
	next.AccountID = accountID
	return &auth.RefreshToken{
		ID:        oldID,
		AccountID: accountID,
		TokenHash: oldHash,
		ExpiresAt: expires,
		Revoked:   true,
		CreatedAt: created,
	}, nil
}

func (s *TokenStore) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	n, err := revokeAllLua.Run(ctx, s.redis, []string{s.accountPrefix() + accountID}, s.tokenPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := sweepLua.Run(ctx, s.redis, []string{s.expiryKey()}, now.UnixMilli(), s.tokenPrefix(), s.accountPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// Ping reports whether Redis is reachable.
func (s *TokenStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func parseMillis(v interface{}) (time.Time, error) {
	str, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp in script response", ErrRedisUnavailable)
	}
	ms, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
