package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxEmailLength    = 100
	minPasswordLength = 8
	maxPasswordLength = 120
	maxNameLength     = 50
)

// Service composes the credential verifier, token issuer and refresh ledger
// into the register, login, refresh and logout flows. It also carries the
// account administration operations in admin.go.
//
// Access tokens are stateless: logout and role changes only affect them once
// their own expiry elapses, so the exposure window equals the issuer AccessTTL.
type Service struct {
	accounts AccountStore
	ledger   *Ledger
	issuer   *Issuer
	hasher   *Hasher
	events   EventSink
	now      func() time.Time
	timeout  time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source used for event timestamps.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithEventSink routes authentication events to sink.
func WithEventSink(sink EventSink) ServiceOption {
	return func(s *Service) error {
		if sink != nil {
			s.events = sink
		}
		return nil
	}
}

// WithStoreTimeout bounds every account store call.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d <= 0 {
			return fmt.Errorf("%w: store timeout must be positive", ErrInvalidInput)
		}
		s.timeout = d
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(accounts AccountStore, ledger *Ledger, issuer *Issuer, hasher *Hasher, opts ...ServiceOption) (*Service, error) {
	if accounts == nil || ledger == nil || issuer == nil || hasher == nil {
		return nil, errors.New("auth: service dependencies are required")
	}
	svc := &Service{
		accounts: accounts,
		ledger:   ledger,
		issuer:   issuer,
		hasher:   hasher,
		events:   discardSink{},
		now:      time.Now,
		timeout:  defaultStoreTimeout,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Register creates an account holding only the USER role and returns its first
// token pair.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := validateRegister(req); err != nil {
		s.fail(ctx, EventRegister, ReasonInvalidInput, "", req.Email)
		return AuthResponse{}, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.fail(ctx, EventRegister, ReasonInvalidInput, "", req.Email)
		return AuthResponse{}, err
	}
	account := &Account{
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
		Roles:        NewRoleSet(RoleUser),
		Enabled:      true,
	}
	sctx, cancel := s.storeContext(ctx)
	err = s.accounts.Create(sctx, account)
	cancel()
	if err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			s.fail(ctx, EventRegister, ReasonDuplicateAccount, "", req.Email)
			return AuthResponse{}, ErrDuplicateAccount
		}
		s.fail(ctx, EventRegister, ReasonInternal, "", req.Email)
		return AuthResponse{}, fmt.Errorf("create account: %w", err)
	}
	resp, err := s.issuePair(ctx, account)
	if err != nil {
		s.fail(ctx, EventRegister, ReasonInternal, account.ID, account.Email)
		return AuthResponse{}, err
	}
	s.succeed(ctx, EventRegister, account, nil)
	return resp, nil
}

// Login authenticates by email and password. Unknown email and wrong password
// both yield ErrInvalidCredentials and cost one bcrypt comparison. A successful
// login revokes every refresh token the account held before.
func (s *Service) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		s.fail(ctx, EventLogin, ReasonInvalidInput, "", email)
		return AuthResponse{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	sctx, cancel := s.storeContext(ctx)
	account, err := s.accounts.FindByEmail(sctx, email)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.VerifyDummy(req.Password)
			s.fail(ctx, EventLogin, ReasonAccountNotFound, "", email)
			return AuthResponse{}, ErrInvalidCredentials
		}
		s.fail(ctx, EventLogin, ReasonInternal, "", email)
		return AuthResponse{}, fmt.Errorf("find account: %w", err)
	}
	if !s.hasher.Verify(req.Password, account.PasswordHash) {
		s.fail(ctx, EventLogin, ReasonPasswordMismatch, account.ID, email)
		return AuthResponse{}, ErrInvalidCredentials
	}
	if !account.Enabled {
		s.fail(ctx, EventLogin, ReasonAccountDisabled, account.ID, email)
		return AuthResponse{}, ErrAccountDisabled
	}
	revoked, err := s.ledger.RevokeAll(ctx, account.ID)
	if err != nil {
		s.fail(ctx, EventLogin, ReasonInternal, account.ID, email)
		return AuthResponse{}, err
	}
	resp, err := s.issuePair(ctx, account)
	if err != nil {
		s.fail(ctx, EventLogin, ReasonInternal, account.ID, email)
		return AuthResponse{}, err
	}
	s.succeed(ctx, EventLogin, account, map[string]any{"revoked": revoked})
	return resp, nil
}

// Refresh rotates the refresh token and returns a new pair bound to its owner.
// Ledger failures propagate unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	next, err := s.ledger.Rotate(ctx, refreshToken)
	if err != nil {
		s.fail(ctx, EventRefresh, rotateReason(err), "", "")
		return AuthResponse{}, err
	}
	accountID := next.Record.AccountID
	sctx, cancel := s.storeContext(ctx)
	account, err := s.accounts.FindByID(sctx, accountID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = s.ledger.RevokeAll(ctx, accountID)
			s.fail(ctx, EventRefresh, ReasonAccountNotFound, accountID, "")
			return AuthResponse{}, ErrTokenInvalid
		}
		s.fail(ctx, EventRefresh, ReasonInternal, accountID, "")
		return AuthResponse{}, fmt.Errorf("find account: %w", err)
	}
	if !account.Enabled {
		_, _ = s.ledger.RevokeAll(ctx, account.ID)
		s.fail(ctx, EventRefresh, ReasonAccountDisabled, account.ID, account.Email)
		return AuthResponse{}, ErrAccountDisabled
	}
	access, err := s.issuer.Issue(account)
	if err != nil {
		s.fail(ctx, EventRefresh, ReasonInternal, account.ID, account.Email)
		return AuthResponse{}, err
	}
	s.succeed(ctx, EventRefresh, account, nil)
	return s.response(access, next.Raw, account), nil
}

// Logout revokes every refresh token of the account identified by email.
// Repeated calls, and calls for an unknown account, succeed.
func (s *Service) Logout(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	sctx, cancel := s.storeContext(ctx)
	account, err := s.accounts.FindByEmail(sctx, email)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		s.fail(ctx, EventLogout, ReasonInternal, "", email)
		return fmt.Errorf("find account: %w", err)
	}
	revoked, err := s.ledger.RevokeAll(ctx, account.ID)
	if err != nil {
		s.fail(ctx, EventLogout, ReasonInternal, account.ID, email)
		return err
	}
	s.succeed(ctx, EventLogout, account, map[string]any{"revoked": revoked})
	return nil
}

// Verify validates an access token. It is the entry point used by the
// boundary's bearer authentication.
func (s *Service) Verify(token string) (*Claims, error) {
	return s.issuer.Verify(token)
}

func (s *Service) issuePair(ctx context.Context, account *Account) (AuthResponse, error) {
	access, err := s.issuer.Issue(account)
	if err != nil {
		return AuthResponse{}, err
	}
	refresh, err := s.ledger.Issue(ctx, account.ID)
	if err != nil {
		return AuthResponse{}, err
	}
	return s.response(access, refresh.Raw, account), nil
}

func (s *Service) response(access AccessToken, refresh string, account *Account) AuthResponse {
	return AuthResponse{
		AccessToken:  access.Token,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.issuer.AccessTTL() / time.Second),
		User:         account.Summary(),
	}
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) succeed(ctx context.Context, typ string, account *Account, fields map[string]any) {
	s.events.Emit(ctx, Event{
		Type:       typ,
		Outcome:    OutcomeSuccess,
		AccountID:  account.ID,
		Email:      account.Email,
		OccurredAt: s.now().UTC(),
		Fields:     fields,
	})
}

func (s *Service) fail(ctx context.Context, typ, reason, accountID, email string) {
	s.events.Emit(ctx, Event{
		Type:       typ,
		Outcome:    OutcomeFailure,
		Reason:     reason,
		AccountID:  accountID,
		Email:      email,
		OccurredAt: s.now().UTC(),
	})
}

func rotateReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return ReasonTokenNotFound
	case errors.Is(err, ErrTokenInvalid):
		return ReasonTokenRevoked
	case errors.Is(err, ErrTokenExpired):
		return ReasonTokenExpired
	default:
		return ReasonInternal
	}
}

func validateRegister(req RegisterRequest) error {
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(req.Password); n < minPasswordLength || n > maxPasswordLength {
		return fmt.Errorf("%w: password must be between %d and %d characters", ErrInvalidInput, minPasswordLength, maxPasswordLength)
	}
	if err := validateName("first name", req.FirstName); err != nil {
		return err
	}
	return validateName("last name", req.LastName)
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if len(email) > maxEmailLength {
		return fmt.Errorf("%w: email must be at most %d characters", ErrInvalidInput, maxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	return nil
}

func validateName(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if utf8.RuneCountInString(value) > maxNameLength {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidInput, field, maxNameLength)
	}
	return nil
}
