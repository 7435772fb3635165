package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"hmsauth.org/internal/audit"
	"hmsauth.org/internal/auth"
)

const msgAuthFailed = "authentication failed"

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeAuthError maps the auth error taxonomy onto responses. Unknown email,
// wrong password and disabled account render identically.
func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrAccountDisabled):
		writeError(w, r, http.StatusUnauthorized, msgAuthFailed)
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrTokenNotFound):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrDuplicateAccount):
		writeError(w, r, http.StatusConflict, "account already exists")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, inputMessage(err))
	case errors.Is(err, auth.ErrRoleNotRecognized):
		writeError(w, r, http.StatusBadRequest, "role not recognized")
	case errors.Is(err, auth.ErrBaseRoleRequired):
		writeError(w, r, http.StatusBadRequest, "USER role cannot be removed")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	default:
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func inputMessage(err error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, auth.ErrInvalidInput.Error()+": "); ok {
		return rest
	}
	return "invalid input"
}
