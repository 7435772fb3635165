package auth

import "time"

// Account is a person able to authenticate. Email is the unique, case-insensitive
// identity; Roles always contains RoleUser.
type Account struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Roles        RoleSet
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Summary returns the public view of the account.
func (a *Account) Summary() UserSummary {
	return UserSummary{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Roles:     a.Roles.Strings(),
	}
}

// RefreshToken represents a persisted refresh token. The raw value handed to
// the client is never stored, only its SHA-256 digest.
type RefreshToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Valid reports whether the token may still be exchanged at now.
func (t *RefreshToken) Valid(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// UserSummary is the account projection returned alongside a token pair.
type UserSummary struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Roles     []string `json:"roles"`
}

// AccountView is the administrative projection of an account.
type AccountView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Roles     []string  `json:"roles"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// View returns the administrative projection of the account.
func (a *Account) View() AccountView {
	return AccountView{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Roles:     a.Roles.Strings(),
		Enabled:   a.Enabled,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// TokenTypeBearer is the only token type handed out.
const TokenTypeBearer = "Bearer"

// AuthResponse is returned by register, login and refresh.
type AuthResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	TokenType    string      `json:"tokenType"`
	ExpiresIn    int64       `json:"expiresIn"`
	User         UserSummary `json:"user"`
}

// RegisterRequest carries already-decoded registration input.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// LoginRequest carries already-decoded login input.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
