package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"memberportal/internal/auth"
	"memberportal/internal/config"
	"memberportal/internal/db"
	"memberportal/internal/logging"
	"memberportal/internal/models"
	"memberportal/internal/service"
	"memberportal/internal/store"
	"memberportal/internal/vault"
)

const testPassword = "Correct-Horse-42"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testMail struct {
	mu     sync.Mutex
	resets map[string]string
	setups map[string]string
}

func (m *testMail) SendPasswordReset(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[to] = token
	return nil
}

func (m *testMail) SendAccountSetup(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setups[to] = token
	return nil
}

type testEnv struct {
	handler http.Handler
	svc     *service.Service
	clock   *testClock
	mail    *testMail
}

func testRouterConfig() config.Config {
	return config.Config{
		SessionCookieName:      "portal_session",
		CSRFCookieName:         "portal_csrf",
		LoginPath:              "/login",
		SessionTTLDays:         30,
		ElevationWindowMinutes: 30,
		PasswordMinLength:      12,
		PasswordMaxLength:      128,
		MFAIssuer:              "Member Portal",
	}
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	dir := t.TempDir()
	sqlDB, err := db.OpenSQLite(filepath.Join(dir, "portal.db"), 1, 1, time.Hour)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(context.Background(), sqlDB, db.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err := vault.NewFileVault(filepath.Join(dir, "vault.json"), "test-secrets-key-0123456789abcdef")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	env := &testEnv{
		clock: &testClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		mail:  &testMail{resets: map[string]string{}, setups: map[string]string{}},
	}
	env.svc = service.New(cfg, store.New(sqlDB), v, env.mail, logging.Nop(), service.WithClock(env.clock.Now))
	env.handler = NewRouter(cfg, env.svc, logging.Nop())
	return env
}

func (e *testEnv) seedUser(t *testing.T, email string, role models.Role) models.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := e.svc.Store().CreateUser(context.Background(), email, hash, role, models.UserActive)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// client carries the cookies of one browser.
type client struct {
	env     *testEnv
	cookies map[string]*http.Cookie
}

func (e *testEnv) client() *client {
	return &client{env: e, cookies: map[string]*http.Cookie{}}
}

func (c *client) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:40000"
	req.Header.Set("User-Agent", "router-test")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.env.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return rec
}

// mutate sends the CSRF header that matches the cookie.
func (c *client) mutate(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	csrf := ""
	if ck, ok := c.cookies["portal_csrf"]; ok {
		csrf = ck.Value
	}
	return c.do(t, method, path, body, map[string]string{"X-CSRF-Token": csrf})
}

func (c *client) login(t *testing.T, email string) {
	t.Helper()
	rec := c.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": email, "password": testPassword}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d body=%s", email, rec.Code, rec.Body.String())
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	c := env.client()
	if rec := c.do(t, http.MethodGet, "/health/live", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rec.Code)
	}
	rec := c.do(t, http.MethodGet, "/health/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["status"]; got != "ready" {
		t.Fatalf("expected ready status, got %v", got)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("security headers missing")
	}
}

func TestLoginSetsCookiesAndLogoutClearsThem(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	env.seedUser(t, "member@example.com", models.RoleMember)
	c := env.client()

	rec := c.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "member@example.com", "password": testPassword}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	sessionCookie, csrfCookie := c.cookies["portal_session"], c.cookies["portal_csrf"]
	if sessionCookie == nil || csrfCookie == nil {
		t.Fatalf("expected both cookies, got %+v", c.cookies)
	}
	if !sessionCookie.HttpOnly || csrfCookie.HttpOnly {
		t.Fatalf("session cookie must be HttpOnly and csrf cookie readable")
	}
	if sessionCookie.MaxAge != 0 {
		t.Fatalf("non-persistent session should use a browser-session cookie, got MaxAge=%d", sessionCookie.MaxAge)
	}
	if decode(t, rec)["csrf_token"] != csrfCookie.Value {
		t.Fatalf("csrf token in body must match cookie")
	}

	me := c.do(t, http.MethodGet, "/api/v1/me", nil, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", me.Code)
	}
	if got := decode(t, me)["effective_role"]; got != "member" {
		t.Fatalf("expected member effective role, got %v", got)
	}

	stale := sessionCookie.Value
	if rec := c.do(t, http.MethodPost, "/api/v1/auth/logout", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}
	if _, ok := c.cookies["portal_session"]; ok {
		t.Fatalf("logout should expire the session cookie")
	}
	c.cookies["portal_session"] = &http.Cookie{Name: "portal_session", Value: stale}
	if rec := c.do(t, http.MethodGet, "/api/v1/me", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token must be rejected, got %d", rec.Code)
	}
}

func TestRememberMeIssuesPersistentCookie(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	env.seedUser(t, "member@example.com", models.RoleMember)
	c := env.client()
	rec := c.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "member@example.com", "password": testPassword, "remember": true}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}
	if got := c.cookies["portal_session"].MaxAge; got != int((30 * 24 * time.Hour).Seconds()) {
		t.Fatalf("expected 30 day cookie, got MaxAge=%d", got)
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	c := env.client()

	rec := c.do(t, http.MethodGet, "/api/v1/me", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("api call without session: expected 401, got %d", rec.Code)
	}

	rec = c.do(t, http.MethodGet, "/api/v1/board", nil, map[string]string{"Accept": "text/html"})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("browser navigation without session: expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/login?next=") {
		t.Fatalf("unexpected redirect target %q", loc)
	}
}

func TestMutationsRequireCSRF(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	env.seedUser(t, "admin@example.com", models.RoleAdmin)
	c := env.client()
	c.login(t, "admin@example.com")

	rec := c.do(t, http.MethodPost, "/api/v1/me/elevate", map[string]string{"role": "board"}, nil)
	if rec.Code != http.StatusForbidden || decode(t, rec)["code"] != "csrf_failed" {
		t.Fatalf("expected csrf_failed 403, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = c.do(t, http.MethodPost, "/api/v1/me/elevate", map[string]string{"role": "board"}, map[string]string{"X-CSRF-Token": "forged"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mismatched csrf token: expected 403, got %d", rec.Code)
	}
	if rec := c.mutate(t, http.MethodPost, "/api/v1/me/elevate", map[string]string{"role": "board"}); rec.Code != http.StatusOK {
		t.Fatalf("matching csrf token: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestElevationWindowGatesBoardAccess(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	env.seedUser(t, "admin@example.com", models.RoleAdmin)
	c := env.client()
	c.login(t, "admin@example.com")

	if rec := c.do(t, http.MethodGet, "/api/v1/board", nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("unelevated admin should not reach the board workspace, got %d", rec.Code)
	}

	rec := c.mutate(t, http.MethodPost, "/api/v1/me/elevate", map[string]string{"role": "board"})
	if rec.Code != http.StatusOK {
		t.Fatalf("elevate: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["effective_role"]; got != "board" {
		t.Fatalf("expected board effective role, got %v", got)
	}

	if rec := c.do(t, http.MethodGet, "/api/v1/board", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("elevated board read: expected 200, got %d", rec.Code)
	}
	if rec := c.mutate(t, http.MethodPost, "/api/v1/board/vendors", map[string]string{"name": "Acme Landscaping"}); rec.Code != http.StatusAccepted {
		t.Fatalf("elevated board write: expected 202, got %d", rec.Code)
	}
	if rec := c.do(t, http.MethodGet, "/api/v1/admin/users", nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("admin routes should be closed while acting as board, got %d", rec.Code)
	}

	env.clock.Advance(31 * time.Minute)

	if rec := c.do(t, http.MethodGet, "/api/v1/board", nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expired elevation must not grant board access, got %d", rec.Code)
	}
	if got := decode(t, c.do(t, http.MethodGet, "/api/v1/me", nil, nil))["effective_role"]; got != "admin" {
		t.Fatalf("expected admin after expiry, got %v", got)
	}
	if rec := c.do(t, http.MethodGet, "/api/v1/admin/users", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("admin routes should reopen after expiry, got %d", rec.Code)
	}

	denied, _ := env.svc.QueryAuditLogs(context.Background(), models.AuditQuery{EventType: "access_denied"})
	if len(denied) < 3 {
		t.Fatalf("expected each denial to be audited, got %d", len(denied))
	}
}

func TestDropReturnsToBaseRole(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	env.seedUser(t, "admin@example.com", models.RoleAdmin)
	c := env.client()
	c.login(t, "admin@example.com")

	if rec := c.mutate(t, http.MethodPost, "/api/v1/me/elevate", map[string]string{"role": "arb"}); rec.Code != http.StatusOK {
		t.Fatalf("elevate: %d", rec.Code)
	}
	if rec := c.do(t, http.MethodGet, "/api/v1/arb/review", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("arb review while elevated: expected 200, got %d", rec.Code)
	}
	rec := c.mutate(t, http.MethodPost, "/api/v1/me/drop", nil)
	if rec.Code != http.StatusOK || decode(t, rec)["effective_role"] != "admin" {
		t.Fatalf("drop: got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := c.do(t, http.MethodGet, "/api/v1/arb/review", nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("arb review after drop: expected 403, got %d", rec.Code)
	}
}

func TestMemberCannotElevate(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	env.seedUser(t, "member@example.com", models.RoleMember)
	c := env.client()
	c.login(t, "member@example.com")

	rec := c.mutate(t, http.MethodPost, "/api/v1/me/elevate", map[string]string{"role": "board"})
	if rec.Code != http.StatusForbidden || decode(t, rec)["code"] != "not_eligible" {
		t.Fatalf("expected not_eligible, got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := c.do(t, http.MethodGet, "/api/v1/admin/users", nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("member on admin route: expected 403, got %d", rec.Code)
	}
}

func TestLoginRateLimitAnswers429(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	env.seedUser(t, "member@example.com", models.RoleMember)
	c := env.client()

	bad := map[string]any{"email": "member@example.com", "password": "wrong-password-1"}
	for i := 0; i < 5; i++ {
		if rec := c.do(t, http.MethodPost, "/api/v1/auth/login", bad, nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	rec := c.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "member@example.com", "password": testPassword}, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once limited, got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestHTTPThrottleOnPublicEndpoints(t *testing.T) {
	cfg := testRouterConfig()
	cfg.HTTPThrottlePerMinute = 2
	env := newTestEnv(t, cfg)
	c := env.client()

	body := map[string]any{"email": "nobody@example.com"}
	for i := 0; i < 2; i++ {
		if rec := c.do(t, http.MethodPost, "/api/v1/password/reset/request", body, nil); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i+1, rec.Code)
		}
	}
	if rec := c.do(t, http.MethodPost, "/api/v1/password/reset/request", body, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected throttle 429, got %d", rec.Code)
	}
}

func TestPermissionOverrideOpensRoute(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	env.seedUser(t, "admin@example.com", models.RoleAdmin)
	env.seedUser(t, "member@example.com", models.RoleMember)
	admin, member := env.client(), env.client()
	admin.login(t, "admin@example.com")
	member.login(t, "member@example.com")

	if rec := member.do(t, http.MethodGet, "/api/v1/board", nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("member board read before override: expected 403, got %d", rec.Code)
	}
	rec := admin.mutate(t, http.MethodPut, "/api/v1/admin/permission-overrides", map[string]string{"path": "/board", "role": "member", "level": "read"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set override: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := member.do(t, http.MethodGet, "/api/v1/board", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("member board read with override: expected 200, got %d", rec.Code)
	}
	if rec := member.mutate(t, http.MethodPost, "/api/v1/board", map[string]string{}); rec.Code != http.StatusForbidden {
		t.Fatalf("read override must not grant write, got %d", rec.Code)
	}

	rec = admin.mutate(t, http.MethodDelete, "/api/v1/admin/permission-overrides", map[string]string{"path": "/board", "role": "member"})
	if rec.Code != http.StatusOK {
		t.Fatalf("delete override: expected 200, got %d", rec.Code)
	}
	if rec := member.do(t, http.MethodGet, "/api/v1/board", nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("member board read after delete: expected 403, got %d", rec.Code)
	}

	rec = admin.mutate(t, http.MethodPut, "/api/v1/admin/permission-overrides", map[string]string{"path": "/board", "role": "member", "level": "owner"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid level: expected 400, got %d", rec.Code)
	}
}

func TestPasswordResetOverHTTP(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	env.seedUser(t, "member@example.com", models.RoleMember)
	c := env.client()

	unknown := c.do(t, http.MethodPost, "/api/v1/password/reset/request", map[string]string{"email": "ghost@example.com"}, nil)
	known := c.do(t, http.MethodPost, "/api/v1/password/reset/request", map[string]string{"email": "member@example.com"}, nil)
	if unknown.Code != known.Code || known.Code != http.StatusAccepted {
		t.Fatalf("reset request must not reveal accounts: unknown=%d known=%d", unknown.Code, known.Code)
	}
	token := env.mail.resets["member@example.com"]
	if token == "" {
		t.Fatalf("expected a reset mail")
	}

	weak := c.do(t, http.MethodPost, "/api/v1/password/reset/confirm", map[string]string{"token": token, "new_password": "short"}, nil)
	if weak.Code != http.StatusBadRequest {
		t.Fatalf("weak password: expected 400, got %d", weak.Code)
	}
	const next = "Battery-Staple-77"
	rec := c.do(t, http.MethodPost, "/api/v1/password/reset/confirm", map[string]string{"token": token, "new_password": next}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = c.do(t, http.MethodPost, "/api/v1/password/reset/confirm", map[string]string{"token": token, "new_password": "Another-Pass-99"}, nil)
	if rec.Code != http.StatusBadRequest || decode(t, rec)["code"] != "invalid_token" {
		t.Fatalf("reused token: expected invalid_token, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = c.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "member@example.com", "password": next}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d", rec.Code)
	}
}

func TestInviteAndSetupOverHTTP(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	env.seedUser(t, "admin@example.com", models.RoleAdmin)
	admin := env.client()
	admin.login(t, "admin@example.com")

	rec := admin.mutate(t, http.MethodPost, "/api/v1/admin/users", map[string]string{"email": "new@example.com", "role": "arb"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("invite: expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["status"]; got != string(models.UserPendingSetup) {
		t.Fatalf("expected pending_setup, got %v", got)
	}
	rec = admin.mutate(t, http.MethodPost, "/api/v1/admin/users", map[string]string{"email": "new@example.com"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate invite: expected 409, got %d", rec.Code)
	}

	invited := env.client()
	rec = invited.do(t, http.MethodPost, "/api/v1/setup/complete", map[string]string{"token": env.mail.setups["new@example.com"], "password": testPassword}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	invited.login(t, "new@example.com")
}

func TestAdminUserLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, testRouterConfig())
	adminUser := env.seedUser(t, "admin@example.com", models.RoleAdmin)
	memberUser := env.seedUser(t, "member@example.com", models.RoleMember)
	admin, member := env.client(), env.client()
	admin.login(t, "admin@example.com")
	member.login(t, "member@example.com")

	rec := admin.do(t, http.MethodGet, "/api/v1/admin/users?page_size=10", nil, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["total"] != float64(2) {
		t.Fatalf("list users: got %d body=%s", rec.Code, rec.Body.String())
	}

	if rec := admin.mutate(t, http.MethodPost, "/api/v1/admin/users/"+adminUser.ID+"/disable", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("self disable: expected 403, got %d", rec.Code)
	}
	if rec := admin.mutate(t, http.MethodPost, "/api/v1/admin/users/"+memberUser.ID+"/disable", nil); rec.Code != http.StatusOK {
		t.Fatalf("disable: expected 200, got %d", rec.Code)
	}
	if rec := member.do(t, http.MethodGet, "/api/v1/me", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("disabled member session: expected 401, got %d", rec.Code)
	}
	if rec := admin.mutate(t, http.MethodPost, "/api/v1/admin/users/missing/enable", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", rec.Code)
	}
	if rec := admin.mutate(t, http.MethodPost, "/api/v1/admin/users/"+memberUser.ID+"/enable", nil); rec.Code != http.StatusOK {
		t.Fatalf("enable: expected 200, got %d", rec.Code)
	}

	rec = admin.do(t, http.MethodGet, "/api/v1/admin/audit-log?event_type=user_disabled", nil, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["total"] != float64(1) {
		t.Fatalf("audit log: got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := admin.do(t, http.MethodGet, "/api/v1/admin/security-events?resolved=maybe", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad resolved filter: expected 400, got %d", rec.Code)
	}
	rec = admin.do(t, http.MethodGet, "/api/v1/admin/roles/board/permissions", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("role permissions: expected 200, got %d", rec.Code)
	}
	perms := decode(t, rec)["permissions"].(map[string]any)
	if perms["/board"] != "write" || perms["/admin"] != "none" {
		t.Fatalf("unexpected board permissions %v", perms)
	}
}
