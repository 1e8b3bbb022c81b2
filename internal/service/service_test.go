package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"memberportal/internal/auth"
	"memberportal/internal/config"
	"memberportal/internal/db"
	"memberportal/internal/logging"
	"memberportal/internal/models"
	"memberportal/internal/pim"
	"memberportal/internal/rate"
	"memberportal/internal/session"
	"memberportal/internal/store"
	"memberportal/internal/vault"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type capturedMail struct {
	mu     sync.Mutex
	resets map[string]string
	setups map[string]string
}

func (m *capturedMail) SendPasswordReset(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[to] = token
	return nil
}

func (m *capturedMail) SendAccountSetup(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setups[to] = token
	return nil
}

type harness struct {
	svc     *Service
	clock   *fakeClock
	mail    *capturedMail
	verifys int
}

const strongPassword = "Correct-Horse-42"

func testConfig() config.Config {
	return config.Config{
		PasswordMinLength:      12,
		PasswordMaxLength:      128,
		SessionTTLDays:         30,
		ElevationWindowMinutes: 30,
		MFAIssuer:              "Member Portal",
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	sqlDB, err := db.OpenSQLite(filepath.Join(dir, "portal.db"), 1, 1, time.Hour)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(context.Background(), sqlDB, db.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err := vault.NewFileVault(filepath.Join(dir, "vault.json"), "test-secrets-key-0123456789abcdef")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	h := &harness{
		clock: &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		mail:  &capturedMail{resets: map[string]string{}, setups: map[string]string{}},
	}
	h.svc = New(testConfig(), store.New(sqlDB), v, h.mail, logging.Nop(), WithClock(h.clock.Now))
	h.svc.verify = func(hash, pw string) bool {
		h.verifys++
		return auth.VerifyPassword(hash, pw)
	}
	return h
}

func (h *harness) seedUser(t *testing.T, email string, role models.Role) models.User {
	t.Helper()
	hash, err := auth.HashPassword(strongPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := h.svc.st.CreateUser(context.Background(), email, hash, role, models.UserActive)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (h *harness) securityEvents(t *testing.T, eventType string) []models.SecurityEvent {
	t.Helper()
	events, _ := h.svc.QuerySecurityEvents(context.Background(), models.SecurityEventQuery{EventType: eventType})
	return events
}

func TestLoginSuccessOpensSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedUser(t, "member@example.com", models.RoleMember)

	res, err := h.svc.Login(ctx, LoginRequest{Email: " Member@Example.com ", Password: strongPassword, IP: "198.51.100.4", UserAgent: "test"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	sess, u, err := h.svc.Sessions().ValidateSession(ctx, res.Token, "198.51.100.4", "test")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sess.ID != res.Session.ID || u.Email != "member@example.com" {
		t.Fatalf("unexpected session %+v for %+v", sess, u)
	}
	if u.LastLoginAt == nil {
		t.Fatalf("expected last login to be recorded")
	}
}

func TestLoginUnknownUserIsGeneric(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Login(context.Background(), LoginRequest{Email: "ghost@example.com", Password: strongPassword})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected generic invalid credentials, got %v", err)
	}
	if h.verifys != 1 {
		t.Fatalf("expected a dummy verification, got %d", h.verifys)
	}
}

func TestLoginRateLimitedSkipsPasswordCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedUser(t, "member@example.com", models.RoleMember)
	for i := 0; i < 5; i++ {
		h.svc.Limiter().RecordAttempt(ctx, rate.Login, "member@example.com", rate.Metadata{IP: "203.0.113.9"})
	}

	_, err := h.svc.Login(ctx, LoginRequest{Email: "member@example.com", Password: strongPassword, IP: "198.51.100.4"})
	var tooMany *TooManyAttemptsError
	if !errors.As(err, &tooMany) || !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if tooMany.RetryAfter <= 0 || tooMany.RetryAfter > 15*time.Minute {
		t.Fatalf("unexpected retry after %s", tooMany.RetryAfter)
	}
	if h.verifys != 0 {
		t.Fatalf("password must not be checked while limited, got %d checks", h.verifys)
	}
	if len(h.securityEvents(t, "login_rate_limited")) != 1 {
		t.Fatalf("expected a login_rate_limited security event")
	}
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.seedUser(t, "member@example.com", models.RoleMember)

	for i := 0; i < LockoutThreshold; i++ {
		_, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "wrong-password-1A"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i+1, err)
		}
	}
	locked, err := h.svc.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if locked.Status != models.UserLocked || !locked.LockedAt(h.clock.Now()) {
		t.Fatalf("expected account locked, got %+v", locked)
	}
	events := h.securityEvents(t, "account_locked")
	if len(events) != 1 || !events[0].AutoRemediated || events[0].RemediationAction == nil || *events[0].RemediationAction != "lockout" {
		t.Fatalf("expected auto-remediated lockout event, got %+v", events)
	}

	// Clear the rate rows so the account lock is what rejects the next try.
	h.svc.Limiter().Reset(ctx, rate.Login, u.Email)
	before := h.verifys
	_, err = h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: strongPassword})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected account locked, got %v", err)
	}
	if h.verifys != before {
		t.Fatalf("password must not be checked while locked")
	}
	if len(h.securityEvents(t, "login_while_locked")) != 1 {
		t.Fatalf("expected login_while_locked event")
	}

	h.clock.Advance(LockoutDuration + time.Minute)

	// One miss after the cooldown starts a new count instead of relocking.
	if _, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "wrong-password-1A"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("miss after cooldown: expected invalid credentials, got %v", err)
	}
	after, err := h.svc.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if after.Status != models.UserActive || after.FailedAttempts != 1 || after.LockedAt(h.clock.Now()) {
		t.Fatalf("expected fresh count of 1 and no lock, got status=%s failed=%d locked_until=%v", after.Status, after.FailedAttempts, after.LockedUntil)
	}
	if len(h.securityEvents(t, "account_locked")) != 1 {
		t.Fatalf("a single miss after cooldown must not lock again")
	}

	res, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: strongPassword})
	if err != nil {
		t.Fatalf("login after cooldown: %v", err)
	}
	if res.User.Status != models.UserActive || res.User.FailedAttempts != 0 {
		t.Fatalf("expected counters reset, got %+v", res.User)
	}
}

func TestDisabledAndPendingUsersCannotLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.seedUser(t, "member@example.com", models.RoleMember)
	if err := h.svc.st.UpdateUserStatus(ctx, u.ID, models.UserDisabled); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: strongPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected generic error for disabled user, got %v", err)
	}
}

func TestLoginRehashesLegacyHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	legacy, err := bcrypt.GenerateFromPassword([]byte(strongPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u, err := h.svc.st.CreateUser(ctx, "legacy@example.com", string(legacy), models.RoleMember, models.UserActive)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: strongPassword}); err != nil {
		t.Fatalf("login: %v", err)
	}
	got, _ := h.svc.GetUser(ctx, u.ID)
	if auth.NeedsRehash(got.PasswordHash) {
		t.Fatalf("expected hash to be upgraded, still %s", got.PasswordHash)
	}
}

func TestMFAEnrollmentAndLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.seedUser(t, "member@example.com", models.RoleMember)

	enr, err := h.svc.BeginMFAEnrollment(ctx, u)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	code, err := auth.TOTPCode(enr.Secret, h.clock.Now())
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	backup, err := h.svc.ConfirmMFAEnrollment(ctx, u, code)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(backup) != backupCodes {
		t.Fatalf("expected %d backup codes, got %d", backupCodes, len(backup))
	}

	req := LoginRequest{Email: u.Email, Password: strongPassword}
	if _, err := h.svc.Login(ctx, req); !errors.Is(err, ErrMFARequired) {
		t.Fatalf("expected mfa required, got %v", err)
	}
	req.TOTPCode = "000000"
	if code == "000000" {
		req.TOTPCode = "111111"
	}
	if _, err := h.svc.Login(ctx, req); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("expected invalid mfa, got %v", err)
	}
	req.TOTPCode = code
	if _, err := h.svc.Login(ctx, req); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("enrollment code must not log in, got %v", err)
	}

	h.clock.Advance(30 * time.Second)
	fresh, err := auth.TOTPCode(enr.Secret, h.clock.Now())
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	req.TOTPCode = fresh
	if _, err := h.svc.Login(ctx, req); err != nil {
		t.Fatalf("login with totp: %v", err)
	}
	if _, err := h.svc.Login(ctx, req); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("totp code must not be accepted twice, got %v", err)
	}
	h.clock.Advance(30 * time.Second)
	if _, err := h.svc.Login(ctx, req); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("totp code from an earlier step must stay rejected, got %v", err)
	}

	req.TOTPCode = ""
	req.BackupCode = backup[0]
	if _, err := h.svc.Login(ctx, req); err != nil {
		t.Fatalf("login with backup code: %v", err)
	}
	if _, err := h.svc.Login(ctx, req); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("backup code must be single-use, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.seedUser(t, "member@example.com", models.RoleMember)
	first, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: strongPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := h.svc.RequestPasswordReset(ctx, "nobody@example.com", "198.51.100.4", "test"); err != nil {
		t.Fatalf("unknown email must look like success, got %v", err)
	}
	if err := h.svc.RequestPasswordReset(ctx, u.Email, "198.51.100.4", "test"); err != nil {
		t.Fatalf("request: %v", err)
	}
	token := h.mail.resets[u.Email]
	if token == "" {
		t.Fatalf("expected a reset mail")
	}

	if err := h.svc.ConfirmPasswordReset(ctx, token, "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if err := h.svc.ConfirmPasswordReset(ctx, token, "Brand-New-Pass-7"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := h.svc.ConfirmPasswordReset(ctx, token, "Another-New-Pass-8"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token must be single-use, got %v", err)
	}
	if _, _, err := h.svc.Sessions().ValidateSession(ctx, first.Token, "", ""); !errors.Is(err, session.ErrInvalidSession) {
		t.Fatalf("reset must revoke existing sessions, got %v", err)
	}
	if _, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "Brand-New-Pass-7"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestPasswordResetRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.svc.RequestPasswordReset(ctx, "member@example.com", "", ""); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := h.svc.RequestPasswordReset(ctx, "member@example.com", "", ""); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestChangePasswordHistoryAndRevocation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.seedUser(t, "member@example.com", models.RoleMember)
	a, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: strongPassword})
	if err != nil {
		t.Fatalf("login a: %v", err)
	}
	b, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: strongPassword})
	if err != nil {
		t.Fatalf("login b: %v", err)
	}

	if err := h.svc.ChangePassword(ctx, a.User, a.Session, "nope", "Brand-New-Pass-7"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid current password, got %v", err)
	}
	if err := h.svc.ChangePassword(ctx, a.User, a.Session, strongPassword, strongPassword); !errors.Is(err, ErrPasswordReused) {
		t.Fatalf("expected reuse rejection, got %v", err)
	}
	if err := h.svc.ChangePassword(ctx, a.User, a.Session, strongPassword, "Brand-New-Pass-7"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if _, _, err := h.svc.Sessions().ValidateSession(ctx, a.Token, "", ""); err != nil {
		t.Fatalf("current session must survive, got %v", err)
	}
	if _, _, err := h.svc.Sessions().ValidateSession(ctx, b.Token, "", ""); !errors.Is(err, session.ErrInvalidSession) {
		t.Fatalf("other sessions must be revoked, got %v", err)
	}

	updated, _ := h.svc.GetUser(ctx, u.ID)
	if err := h.svc.ChangePassword(ctx, updated, a.Session, "Brand-New-Pass-7", strongPassword); !errors.Is(err, ErrPasswordReused) {
		t.Fatalf("previous password must stay in history, got %v", err)
	}
}

func TestChangePasswordLimitsCurrentPasswordGuesses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.seedUser(t, "member@example.com", models.RoleMember)
	a, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: strongPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := h.svc.ChangePassword(ctx, a.User, a.Session, "guess-"+string(rune('a'+i)), "Brand-New-Pass-7"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("guess %d: expected invalid credentials, got %v", i+1, err)
		}
	}
	before := h.verifys
	err = h.svc.ChangePassword(ctx, a.User, a.Session, strongPassword, "Brand-New-Pass-7")
	var tooMany *TooManyAttemptsError
	if !errors.As(err, &tooMany) {
		t.Fatalf("expected rate limit after repeated guesses, got %v", err)
	}
	if h.verifys != before {
		t.Fatalf("current password must not be checked while limited")
	}
	if len(h.securityEvents(t, "password_change_rate_limited")) != 1 {
		t.Fatalf("expected password_change_rate_limited event")
	}

	h.clock.Advance(16 * time.Minute)
	if err := h.svc.ChangePassword(ctx, a.User, a.Session, strongPassword, "Brand-New-Pass-7"); err != nil {
		t.Fatalf("change after window: %v", err)
	}
}

func TestInviteAndCompleteSetup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.seedUser(t, "admin@example.com", models.RoleAdmin)

	u, err := h.svc.InviteUser(ctx, admin, "new.member@example.com", models.RoleMember)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if u.Status != models.UserPendingSetup {
		t.Fatalf("expected pending setup, got %s", u.Status)
	}
	if _, err := h.svc.InviteUser(ctx, admin, "not an email", models.RoleMember); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	token := h.mail.setups[u.Email]
	if err := h.svc.CompleteAccountSetup(ctx, token, "Brand-New-Pass-7", "198.51.100.4", "test"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.svc.CompleteAccountSetup(ctx, token, "Brand-New-Pass-7", "198.51.100.4", "test"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("setup token must be single-use, got %v", err)
	}
	res, err := h.svc.Login(ctx, LoginRequest{Email: u.Email, Password: "Brand-New-Pass-7"})
	if err != nil {
		t.Fatalf("login after setup: %v", err)
	}
	if res.User.Status != models.UserActive {
		t.Fatalf("expected active user, got %s", res.User.Status)
	}
}

func TestElevationExpiresAfterWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedUser(t, "admin@example.com", models.RoleAdmin)
	res, err := h.svc.Login(ctx, LoginRequest{Email: "admin@example.com", Password: strongPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	sess, err := h.svc.Elevate(ctx, res.Session, res.User, models.RoleBoard)
	if err != nil {
		t.Fatalf("elevate: %v", err)
	}
	role := pim.EffectiveRole(res.User.Role, sess, h.clock.Now())
	if role != models.RoleBoard || !h.svc.Permissions().CanAccess(ctx, role, "/board/vendors", models.AccessWrite) {
		t.Fatalf("expected board access while elevated, role=%s", role)
	}

	h.clock.Advance(31 * time.Minute)
	sess, u, err := h.svc.Sessions().ValidateSession(ctx, res.Token, "", "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	sess = h.svc.PIM().ExpireStale(ctx, sess, u)
	role = pim.EffectiveRole(u.Role, sess, h.clock.Now())
	if role != models.RoleAdmin || h.svc.Permissions().CanAccess(ctx, role, "/board/vendors", models.AccessWrite) {
		t.Fatalf("expected elevation to lapse, role=%s", role)
	}
	history, err := h.svc.ElevationHistory(ctx, u.ID, 10)
	if err != nil || len(history) != 2 {
		t.Fatalf("expected elevate and expiry records, got %d (%v)", len(history), err)
	}

	if _, err := h.svc.Elevate(ctx, sess, u, models.RoleAdmin); !errors.Is(err, pim.ErrNotEligible) {
		t.Fatalf("expected ineligible target, got %v", err)
	}
}

func TestAdminUserManagement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.seedUser(t, "admin@example.com", models.RoleAdmin)
	member := h.seedUser(t, "member@example.com", models.RoleMember)
	res, err := h.svc.Login(ctx, LoginRequest{Email: member.Email, Password: strongPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := h.svc.DisableUser(ctx, admin, admin.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("admins must not disable themselves, got %v", err)
	}
	if err := h.svc.SetUserRole(ctx, admin, admin.ID, models.RoleMember); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected last admin protection, got %v", err)
	}
	if err := h.svc.DisableUser(ctx, admin, member.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, _, err := h.svc.Sessions().ValidateSession(ctx, res.Token, "", ""); !errors.Is(err, session.ErrInvalidSession) {
		t.Fatalf("disabled user's session must be invalid, got %v", err)
	}
	if err := h.svc.EnableUser(ctx, admin, member.ID); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := h.svc.SetUserRole(ctx, admin, member.ID, models.RoleARBBoard); err != nil {
		t.Fatalf("set role: %v", err)
	}
	got, _ := h.svc.GetUser(ctx, member.ID)
	if got.Role != models.RoleARBBoard || got.Status != models.UserActive {
		t.Fatalf("unexpected user %+v", got)
	}

	entries, total := h.svc.QueryAuditLogs(ctx, models.AuditQuery{Category: models.CategoryAdministrative})
	if total < 3 || len(entries) == 0 {
		t.Fatalf("expected administrative audit trail, got %d", total)
	}
}

func TestPermissionOverridesAreAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.seedUser(t, "admin@example.com", models.RoleAdmin)

	if _, err := h.svc.SetPermissionOverride(ctx, admin, "/directory", models.RoleMember, models.AccessLevel("root")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid level, got %v", err)
	}
	if _, err := h.svc.SetPermissionOverride(ctx, admin, "/directory", models.RoleMember, models.AccessRead); err != nil {
		t.Fatalf("set: %v", err)
	}
	if h.svc.Permissions().CanAccess(ctx, models.RoleMember, "/directory", models.AccessWrite) {
		t.Fatalf("override must cap member at read")
	}
	if err := h.svc.DeletePermissionOverride(ctx, admin, "/directory", models.RoleMember); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !h.svc.Permissions().CanAccess(ctx, models.RoleMember, "/directory", models.AccessWrite) {
		t.Fatalf("static table must apply again")
	}
	_, total := h.svc.QueryAuditLogs(ctx, models.AuditQuery{EventType: "permission_override_set"})
	if total != 1 {
		t.Fatalf("expected one override audit entry, got %d", total)
	}
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.svc.cfg.BootstrapAdminEmail = "root@example.com"
	h.svc.cfg.BootstrapAdminPassword = strongPassword
	if err := h.svc.EnsureBootstrapAdmin(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	res, err := h.svc.Login(ctx, LoginRequest{Email: "root@example.com", Password: strongPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.User.Role != models.RoleAdmin {
		t.Fatalf("expected admin, got %s", res.User.Role)
	}
}

func TestValidatePasswordPolicy(t *testing.T) {
	svc := &Service{cfg: config.Config{PasswordMinLength: 12, PasswordMaxLength: 128}}
	if err := svc.ValidatePassword("short1A!"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected short password to fail")
	}
	if err := svc.ValidatePassword("alllowercasepassword"); err == nil {
		t.Fatalf("expected weak class password to fail")
	}
	if err := svc.ValidatePassword("StrongPass123!"); err != nil {
		t.Fatalf("expected strong password to pass: %v", err)
	}
}
