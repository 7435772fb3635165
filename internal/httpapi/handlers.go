package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"hmsauth.org/internal/auth"
	"hmsauth.org/internal/obs"
)

const serviceName = "hmsauth"

const (
	defaultMaxBodyBytes = 1 << 20
	defaultRateBurst    = 10
	defaultRatePerSec   = 5
)

// ReadyProbe checks the named dependencies in name order.
type ReadyProbe map[string]auth.Pinger

func (rp ReadyProbe) Check(ctx context.Context) error {
	names := make([]string, 0, len(rp))
	for name := range rp {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := rp[name]
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Options tunes the HTTP layer. Zero values select defaults.
type Options struct {
	Version       string
	Logger        *slog.Logger
	MaxBodyBytes  int64
	RateBurst     int
	RatePerSecond float64
}

// API is the HTTP boundary of the authentication service.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	readyProbe ReadyProbe
	logger     *slog.Logger
	version    string
	maxBody    int64
	limiter    *rateLimiter
}

func New(svc *auth.Service, rp ReadyProbe, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		logger:     opts.Logger,
		version:    opts.Version,
		maxBody:    opts.MaxBodyBytes,
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	if a.maxBody <= 0 {
		a.maxBody = defaultMaxBodyBytes
	}
	burst, perSec := opts.RateBurst, opts.RatePerSecond
	if burst <= 0 {
		burst = defaultRateBurst
	}
	if perSec <= 0 {
		perSec = defaultRatePerSec
	}
	a.limiter = newRateLimiter(burst, perSec)

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// session flows; credential endpoints share one per-client limiter
	a.mux.Handle("POST /v1/auth/register", a.limiter.wrap(http.HandlerFunc(a.handleRegister)))
	a.mux.Handle("POST /v1/auth/login", a.limiter.wrap(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("POST /v1/auth/refresh", a.limiter.wrap(http.HandlerFunc(a.handleRefresh)))
	a.mux.Handle("POST /v1/auth/logout", a.authenticate(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("GET /v1/auth/me", a.authenticate(http.HandlerFunc(a.handleMe)))

	// administration
	admin := a.guarded(auth.RoleAdmin)
	super := a.guarded(auth.RoleSuperAdmin)
	a.mux.Handle("GET /v1/users", admin(a.handleListUsers))
	a.mux.Handle("GET /v1/users/{id}", admin(a.handleGetUser))
	a.mux.Handle("GET /v1/users/email/{email}", admin(a.handleGetUserByEmail))
	a.mux.Handle("GET /v1/roles", admin(a.handleListRoles))
	a.mux.Handle("PATCH /v1/users/{id}/enable", admin(a.handleEnableUser))
	a.mux.Handle("PATCH /v1/users/{id}/disable", admin(a.handleDisableUser))
	a.mux.Handle("PUT /v1/users/{id}/roles", super(a.handleAssignRoles))
	a.mux.Handle("POST /v1/users/{id}/roles/{role}", super(a.handleAddRole))
	a.mux.Handle("DELETE /v1/users/{id}/roles/{role}", super(a.handleRemoveRole))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = SecurityHeaders(h)
	h = Logging(a.logger)(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) guarded(roles ...auth.Role) func(http.HandlerFunc) http.Handler {
	guard := RequireRoles(roles...)
	return func(h http.HandlerFunc) http.Handler {
		return a.authenticate(guard(h))
	}
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		a.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
