package service

import (
	"context"
	"errors"
	"fmt"

	"memberportal/internal/auth"
	"memberportal/internal/models"
	"memberportal/internal/rate"
	"memberportal/internal/store"
)

type LoginRequest struct {
	Email      string
	Password   string
	TOTPCode   string
	BackupCode string
	IP         string
	UserAgent  string
	Persistent bool
}

type LoginResult struct {
	Token   string
	Session models.Session
	User    models.User
}

// Login authenticates a password (and second factor when enrolled) and opens
// a session. Every rejection reaching the caller is one of the generic
// sentinels; which branch was taken is only visible in the audit trail.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	meta := rate.Metadata{IP: req.IP, UserAgent: req.UserAgent}

	if err := s.checkLoginRate(ctx, email, req.IP); err != nil {
		return LoginResult{}, err
	}

	u, err := s.st.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.recordLoginAttempt(ctx, email, meta)
		s.dummyVerify(req.Password)
		s.loginFailed(ctx, nil, "unknown_user")
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}

	now := s.now().UTC()
	uid := u.ID
	if u.LockedAt(now) {
		s.recordLoginAttempt(ctx, email, meta)
		s.audit.LogSecurityEvent(ctx, models.CategoryAuthentication, models.SecurityEvent{
			EventType:   "login_while_locked",
			Severity:    models.SeverityWarning,
			UserID:      &uid,
			Description: "login attempted while account is locked",
			Details:     map[string]any{"locked_until": *u.LockedUntil},
		})
		return LoginResult{}, ErrAccountLocked
	}
	if u.Status == models.UserDisabled || u.Status == models.UserPendingSetup {
		s.recordLoginAttempt(ctx, email, meta)
		s.dummyVerify(req.Password)
		s.loginFailed(ctx, &uid, string(u.Status))
		return LoginResult{}, ErrInvalidCredentials
	}

	if !s.verify(u.PasswordHash, req.Password) {
		s.recordLoginAttempt(ctx, email, meta)
		attempts, locked, err := s.st.RecordFailedLogin(ctx, u.ID, LockoutThreshold, now, now.Add(LockoutDuration))
		if err != nil {
			s.log.Error(ctx, "record failed login", "user_id", u.ID, "err", err)
		}
		s.loginFailed(ctx, &uid, "bad_password")
		if locked {
			action := "lockout"
			s.audit.LogSecurityEvent(ctx, models.CategoryAuthentication, models.SecurityEvent{
				EventType:         "account_locked",
				Severity:          models.SeverityWarning,
				UserID:            &uid,
				Description:       fmt.Sprintf("account locked after %d failed logins", attempts),
				Details:           map[string]any{"failed_attempts": attempts, "locked_for": LockoutDuration.String()},
				AutoRemediated:    true,
				RemediationAction: &action,
			})
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if u.MFAEnabled {
		if err := s.verifySecondFactor(ctx, u, req.TOTPCode, req.BackupCode, meta); err != nil {
			return LoginResult{}, err
		}
	}

	if u.FailedAttempts > 0 || u.Status == models.UserLocked {
		if err := s.st.ResetFailedLogins(ctx, u.ID); err != nil {
			s.log.Warn(ctx, "reset failed logins", "user_id", u.ID, "err", err)
		}
		u.FailedAttempts = 0
		u.LockedUntil = nil
		u.Status = models.UserActive
	}
	s.limiter.Reset(ctx, rate.Login, email)

	if auth.NeedsRehash(u.PasswordHash) {
		if h, err := auth.HashPassword(req.Password); err == nil {
			if err := s.st.UpdateUserPasswordHash(ctx, u.ID, h); err != nil {
				s.log.Warn(ctx, "rehash password", "user_id", u.ID, "err", err)
			} else {
				u.PasswordHash = h
			}
		}
	}

	created, err := s.sessions.CreateSession(ctx, u.ID, req.IP, req.UserAgent, req.Persistent)
	if err != nil {
		return LoginResult{}, err
	}
	s.audit.LogAuthentication(ctx, models.AuditEntry{
		EventType: "login_success",
		UserID:    &uid,
		Action:    "login",
		Outcome:   models.OutcomeSuccess,
		Details:   map[string]any{"session_id": created.Session.ID, "mfa": u.MFAEnabled},
	})
	return LoginResult{Token: created.Token, Session: created.Session, User: u}, nil
}

func (s *Service) checkLoginRate(ctx context.Context, email, ip string) error {
	idents := []string{email}
	if ip != "" {
		idents = append(idents, ipIdentifier(ip))
	}
	for _, id := range idents {
		res := s.limiter.CheckRateLimit(ctx, rate.Login, id)
		if !res.Limited {
			continue
		}
		s.audit.LogSecurityEvent(ctx, models.CategoryAuthentication, models.SecurityEvent{
			EventType:   "login_rate_limited",
			Severity:    models.SeverityWarning,
			Description: "login attempts exceeded the rate limit",
			Details:     map[string]any{"identifier": id, "retry_after_seconds": int(res.RetryAfter.Seconds())},
		})
		return &TooManyAttemptsError{RetryAfter: res.RetryAfter}
	}
	return nil
}

func (s *Service) recordLoginAttempt(ctx context.Context, email string, meta rate.Metadata) {
	s.limiter.RecordAttempt(ctx, rate.Login, email, meta)
	if meta.IP != "" {
		s.limiter.RecordAttempt(ctx, rate.Login, ipIdentifier(meta.IP), meta)
	}
}

func (s *Service) loginFailed(ctx context.Context, userID *string, reason string) {
	s.audit.LogAuthentication(ctx, models.AuditEntry{
		EventType: "login_failed",
		UserID:    userID,
		Action:    "login",
		Outcome:   models.OutcomeFailure,
		Details:   map[string]any{"reason": reason},
	})
}

func ipIdentifier(ip string) string { return "ip:" + ip }

func userIdentifier(id string) string { return "user:" + id }

// Logout revokes the session behind token. Unknown or already revoked tokens
// are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.sessions.Lookup(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if !sess.IsActive && sess.RevokedAt != nil {
		return nil
	}
	s.sessions.RevokeSession(ctx, sess.ID, sess.UserID, "logout")
	uid := sess.UserID
	s.audit.LogAuthentication(ctx, models.AuditEntry{
		EventType: "logout",
		UserID:    &uid,
		Action:    "logout",
		Outcome:   models.OutcomeSuccess,
		Details:   map[string]any{"session_id": sess.ID},
	})
	return nil
}

func (s *Service) Elevate(ctx context.Context, sess models.Session, user models.User, role models.Role) (models.Session, error) {
	if !role.Valid() {
		return sess, ErrInvalidInput
	}
	return s.pim.Elevate(ctx, sess, user, role)
}

func (s *Service) Drop(ctx context.Context, sess models.Session, user models.User) (models.Session, error) {
	return s.pim.Drop(ctx, sess, user)
}
