package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hmsauth.org/internal/auth"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type apiClient struct {
	baseURL string
	client  *http.Client
	svc     *auth.Service
	t       *testing.T
}

func newTestService(t *testing.T) *auth.Service {
	t.Helper()
	hasher, err := auth.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	issuer, err := auth.NewIssuer(auth.IssuerConfig{Secret: []byte(testSecret), AccessTTL: 15 * time.Minute})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	ledger := auth.NewLedger(auth.NewMemoryTokenStore(), 24*time.Hour)
	svc, err := auth.NewService(auth.NewMemoryStore(), ledger, issuer, hasher)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	svc := newTestService(t)
	api := New(svc, ReadyProbe{}, Options{Version: "test", RateBurst: 100, RatePerSecond: 100})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		svc:     svc,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func (c *apiClient) register(email string) auth.AuthResponse {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/register", map[string]string{
		"email": email, "password": "pw123456", "firstName": "Ada", "lastName": "Lovelace",
	}, "")
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register %s: unexpected status %d", email, resp.StatusCode)
	}
	return decodeBody[auth.AuthResponse](c.t, resp)
}

func (c *apiClient) superAdminToken() string {
	c.t.Helper()
	_, _, err := c.svc.EnsureSuperAdmin(context.Background(), auth.BootstrapAccount{
		Email: "root@x.com", Password: "rootpass1", FirstName: "Root", LastName: "Admin",
	})
	if err != nil {
		c.t.Fatalf("EnsureSuperAdmin: %v", err)
	}
	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "root@x.com", "password": "rootpass1"}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("admin login: unexpected status %d", resp.StatusCode)
	}
	return decodeBody[auth.AuthResponse](c.t, resp).AccessToken
}

func TestHealthAndReady(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers")
	}

	resp = c.do(http.MethodGet, "/readyz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: %d", resp.StatusCode)
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyReportsFailingStore(t *testing.T) {
	api := New(newTestService(t), ReadyProbe{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}, Options{})

	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("redis: connection refused")) {
		t.Fatalf("expected failing store in body, got %s", rr.Body.String())
	}
}

func TestSessionFlow(t *testing.T) {
	c := newTestAPI(t)

	reg := c.register("a@x.com")
	if reg.TokenType != "Bearer" || reg.ExpiresIn != 900 || reg.User.Email != "a@x.com" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	me := c.do(http.MethodGet, "/v1/auth/me", nil, reg.AccessToken)
	if me.StatusCode != http.StatusOK {
		t.Fatalf("me: unexpected status %d", me.StatusCode)
	}
	view := decodeBody[auth.AccountView](t, me)
	if view.Email != "a@x.com" || len(view.Roles) != 1 || view.Roles[0] != "USER" {
		t.Fatalf("unexpected me view: %+v", view)
	}

	refreshed := c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{"refreshToken": reg.RefreshToken}, "")
	if refreshed.StatusCode != http.StatusOK {
		t.Fatalf("refresh: unexpected status %d", refreshed.StatusCode)
	}
	pair := decodeBody[auth.AuthResponse](t, refreshed)
	if pair.RefreshToken == reg.RefreshToken {
		t.Fatalf("refresh token must rotate")
	}

	replay := c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{"refreshToken": reg.RefreshToken}, "")
	if replay.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: expected 401, got %d", replay.StatusCode)
	}

	logout := c.do(http.MethodPost, "/v1/auth/logout", nil, pair.AccessToken)
	if logout.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: unexpected status %d", logout.StatusCode)
	}
	after := c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{"refreshToken": pair.RefreshToken}, "")
	if after.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", after.StatusCode)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	c := newTestAPI(t)
	c.register("a@x.com")

	wrong := c.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "a@x.com", "password": "nope12345"}, "")
	unknown := c.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "b@x.com", "password": "nope12345"}, "")
	if wrong.StatusCode != http.StatusUnauthorized || unknown.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both, got %d and %d", wrong.StatusCode, unknown.StatusCode)
	}
	a := decodeBody[map[string]any](t, wrong)
	b := decodeBody[map[string]any](t, unknown)
	if a["error"] != msgAuthFailed || b["error"] != msgAuthFailed {
		t.Fatalf("expected identical messages, got %v and %v", a["error"], b["error"])
	}
}

func TestRegisterErrors(t *testing.T) {
	c := newTestAPI(t)
	c.register("a@x.com")

	dup := c.do(http.MethodPost, "/v1/auth/register", map[string]string{
		"email": "A@x.com", "password": "pw123456", "firstName": "Ada", "lastName": "Lovelace",
	}, "")
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", dup.StatusCode)
	}

	short := c.do(http.MethodPost, "/v1/auth/register", map[string]string{
		"email": "c@x.com", "password": "pw", "firstName": "Ada", "lastName": "Lovelace",
	}, "")
	if short.StatusCode != http.StatusBadRequest {
		t.Fatalf("short password: expected 400, got %d", short.StatusCode)
	}
	body := decodeBody[map[string]any](t, short)
	if body["error"] != "password must be between 8 and 120 characters" {
		t.Fatalf("unexpected message: %v", body["error"])
	}

	unknownField := c.do(http.MethodPost, "/v1/auth/register", map[string]string{"email": "d@x.com", "role": "ADMIN"}, "")
	if unknownField.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", unknownField.StatusCode)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	c := newTestAPI(t)

	cases := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-token"},
	}
	for _, tc := range cases {
		resp := c.do(http.MethodGet, "/v1/auth/me", nil, tc.token)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, resp.StatusCode)
		}
		if resp.Header.Get("WWW-Authenticate") == "" {
			t.Fatalf("%s: expected WWW-Authenticate header", tc.name)
		}
	}
}

func TestAdminRoutes(t *testing.T) {
	c := newTestAPI(t)
	user := c.register("a@x.com")
	admin := c.superAdminToken()

	if resp := c.do(http.MethodGet, "/v1/users", nil, user.AccessToken); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("plain user listing users: expected 403, got %d", resp.StatusCode)
	}

	list := c.do(http.MethodGet, "/v1/users", nil, admin)
	if list.StatusCode != http.StatusOK {
		t.Fatalf("list users: unexpected status %d", list.StatusCode)
	}
	items := decodeBody[struct {
		Items []auth.AccountView `json:"items"`
	}](t, list).Items
	if len(items) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(items))
	}

	id := user.User.ID
	add := c.do(http.MethodPost, "/v1/users/"+id+"/roles/admin", nil, admin)
	if add.StatusCode != http.StatusOK {
		t.Fatalf("add role: unexpected status %d", add.StatusCode)
	}
	if view := decodeBody[auth.AccountView](t, add); len(view.Roles) != 2 {
		t.Fatalf("expected ADMIN and USER, got %v", view.Roles)
	}

	if resp := c.do(http.MethodDelete, "/v1/users/"+id+"/roles/USER", nil, admin); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("removing USER: expected 400, got %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodPost, "/v1/users/"+id+"/roles/OWNER", nil, admin); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown role: expected 400, got %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodPut, "/v1/users/"+id+"/roles", map[string]any{"roles": []string{"USER"}}, admin); resp.StatusCode != http.StatusOK {
		t.Fatalf("assign roles: unexpected status %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodGet, "/v1/users/missing", nil, admin); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing user: expected 404, got %d", resp.StatusCode)
	}

	byEmail := c.do(http.MethodGet, "/v1/users/email/A@x.com", nil, admin)
	if byEmail.StatusCode != http.StatusOK {
		t.Fatalf("user by email: unexpected status %d", byEmail.StatusCode)
	}
	if view := decodeBody[auth.AccountView](t, byEmail); view.ID != id {
		t.Fatalf("user by email: got id %q want %q", view.ID, id)
	}
	if resp := c.do(http.MethodGet, "/v1/users/email/nobody@x.com", nil, admin); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown email: expected 404, got %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodGet, "/v1/users/email/a@x.com", nil, user.AccessToken); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("plain user looking up by email: expected 403, got %d", resp.StatusCode)
	}

	roles := c.do(http.MethodGet, "/v1/roles", nil, admin)
	if got := decodeBody[map[string][]string](t, roles)["items"]; len(got) != len(auth.AllRoles) {
		t.Fatalf("unexpected roles: %v", got)
	}

	disable := c.do(http.MethodPatch, "/v1/users/"+id+"/disable", nil, admin)
	if disable.StatusCode != http.StatusOK {
		t.Fatalf("disable: unexpected status %d", disable.StatusCode)
	}
	if resp := c.do(http.MethodPost, "/v1/auth/refresh", map[string]string{"refreshToken": user.RefreshToken}, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh of disabled account: expected 401, got %d", resp.StatusCode)
	}
	if resp := c.do(http.MethodPatch, "/v1/users/"+id+"/enable", nil, admin); resp.StatusCode != http.StatusOK {
		t.Fatalf("enable: unexpected status %d", resp.StatusCode)
	}
}

func TestUnknownRoute(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/nothing", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["request_id"] == nil {
		t.Fatalf("expected request_id in error body")
	}
}
