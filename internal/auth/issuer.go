package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer    = "hmsauth"
	defaultAccessTTL = 15 * time.Minute
	minSecretBytes   = 32
)

// Claims represents the access token payload. Subject carries the account email.
type Claims struct {
	Roles []Role `json:"roles"`
	jwt.RegisteredClaims
}

// RoleSet returns the roles as a set.
func (c *Claims) RoleSet() RoleSet {
	return NewRoleSet(c.Roles...)
}

// IssuerConfig holds the signing key and lifetime for access tokens.
type IssuerConfig struct {
	Secret    []byte
	Issuer    string
	AccessTTL time.Duration
}

// AccessToken is a signed token together with its expiry instant.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Issuer signs and verifies HS256 access tokens. Access tokens are
// self-contained and never looked up in a store: a logout or role change only
// reaches them once AccessTTL has elapsed.
type Issuer struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the time source.
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer from cfg.
func NewIssuer(cfg IssuerConfig, opts ...IssuerOption) (*Issuer, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrInvalidInput, minSecretBytes)
	}
	iss := &Issuer{
		secret:    append([]byte(nil), cfg.Secret...),
		issuer:    strings.TrimSpace(cfg.Issuer),
		accessTTL: cfg.AccessTTL,
		now:       time.Now,
	}
	if iss.issuer == "" {
		iss.issuer = defaultIssuer
	}
	if iss.accessTTL <= 0 {
		iss.accessTTL = defaultAccessTTL
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// AccessTTL reports the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// Issue signs an access token for account using a snapshot of its roles.
func (i *Issuer) Issue(account *Account) (AccessToken, error) {
	if account == nil || strings.TrimSpace(account.Email) == "" {
		return AccessToken{}, fmt.Errorf("%w: account email is required", ErrInvalidInput)
	}
	now := i.now().UTC()
	claims := Claims{
		Roles: account.Roles.Sorted(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   account.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return AccessToken{}, fmt.Errorf("sign token: %w", err)
	}
	return AccessToken{Token: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks the signature and then the expiry of token. Input that is not
// three base64url segments yields ErrTokenMalformed. A signature mismatch is
// ErrTokenInvalid and is decided before the header or claims are decoded. A
// correctly signed token at or past its expiry yields ErrTokenExpired.
func (i *Issuer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}
	var sig []byte
	for n, part := range parts {
		raw, err := base64.RawURLEncoding.DecodeString(part)
		if err != nil || (n < 2 && len(raw) == 0) {
			return nil, ErrTokenMalformed
		}
		sig = raw
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, i.secret); err != nil {
		return nil, ErrTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		default:
			return nil, ErrTokenInvalid
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if err := i.validateClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *Issuer) validateClaims(claims *Claims) error {
	if claims.Issuer != i.issuer {
		return fmt.Errorf("%w: unexpected issuer %q", ErrTokenInvalid, claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return fmt.Errorf("%w: timestamps missing", ErrTokenInvalid)
	}
	for _, r := range claims.Roles {
		if _, err := ParseRole(string(r)); err != nil {
			return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	if !i.now().Before(claims.ExpiresAt.Time) {
		return ErrTokenExpired
	}
	return nil
}
