package auth

import (
	"context"
	"time"
)

// Event types emitted by the session flows.
const (
	EventRegister = "auth.register"
	EventLogin    = "auth.login"
	EventRefresh  = "auth.refresh"
	EventLogout   = "auth.logout"
	EventSweep    = "auth.sweep"
	EventAdmin    = "auth.admin"
)

// Event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Internal-only failure reasons. They are never rendered at the wire, which
// keeps unknown-email and wrong-password indistinguishable to callers.
const (
	ReasonAccountNotFound  = "account_not_found"
	ReasonPasswordMismatch = "password_mismatch"
	ReasonAccountDisabled  = "account_disabled"
	ReasonDuplicateAccount = "duplicate_account"
	ReasonTokenNotFound    = "token_not_found"
	ReasonTokenRevoked     = "token_revoked"
	ReasonTokenExpired     = "token_expired"
	ReasonInvalidInput     = "invalid_input"
	ReasonInternal         = "internal_error"
)

// Event is a structured record of an authentication outcome. It carries
// identifiers only, never passwords or raw tokens.
type Event struct {
	Type       string
	Outcome    string
	Reason     string
	AccountID  string
	Email      string
	OccurredAt time.Time
	Fields     map[string]any
}

// EventSink receives events. Implementations must not block for long and must
// swallow their own failures.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

type discardSink struct{}

func (discardSink) Emit(context.Context, Event) {}
