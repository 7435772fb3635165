package auth

import "errors"

// Errors returned by the credential, token and session operations. All of them
// are caller-recoverable; the HTTP boundary maps them onto 4xx responses.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountDisabled    = errors.New("auth: account disabled")
	ErrDuplicateAccount   = errors.New("auth: account already exists")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrTokenInvalid       = errors.New("auth: token invalid")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenNotFound      = errors.New("auth: token not found")
	ErrRoleNotRecognized  = errors.New("auth: role not recognized")
)

var (
	ErrInvalidInput     = errors.New("auth: invalid input")
	ErrNotFound         = errors.New("auth: not found")
	ErrForbidden        = errors.New("auth: forbidden")
	ErrBaseRoleRequired = errors.New("auth: USER role cannot be removed")
)
