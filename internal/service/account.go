package service

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"memberportal/internal/auth"
	"memberportal/internal/models"
	"memberportal/internal/rate"
	"memberportal/internal/store"
)

// RequestPasswordReset mails a one-time reset link. The result is the same
// whether or not the email belongs to an account.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ip, ua string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	idents := []string{email}
	if ip != "" {
		idents = append(idents, ipIdentifier(ip))
	}
	for _, id := range idents {
		if res := s.limiter.CheckRateLimit(ctx, rate.PasswordReset, id); res.Limited {
			s.audit.LogSecurityEvent(ctx, models.CategoryAuthentication, models.SecurityEvent{
				EventType:   "password_reset_rate_limited",
				Severity:    models.SeverityWarning,
				Description: "password reset requests exceeded the rate limit",
				Details:     map[string]any{"identifier": id},
			})
			return &TooManyAttemptsError{RetryAfter: res.RetryAfter}
		}
	}
	meta := rate.Metadata{IP: ip, UserAgent: ua}
	for _, id := range idents {
		s.limiter.RecordAttempt(ctx, rate.PasswordReset, id, meta)
	}

	u, err := s.st.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if u.Status == models.UserDisabled || u.Status == models.UserPendingSetup {
		return nil
	}

	now := s.now().UTC()
	if err := s.st.InvalidateAccountTokens(ctx, u.ID, models.TokenPasswordReset, now); err != nil {
		return err
	}
	raw, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return err
	}
	if _, err := s.st.CreateAccountToken(ctx, u.ID, models.TokenPasswordReset, hash, now.Add(resetTokenTTL)); err != nil {
		return err
	}
	if err := s.sender.SendPasswordReset(ctx, u.Email, raw); err != nil {
		s.log.Error(ctx, "send password reset", "user_id", u.ID, "err", err)
	}
	uid := u.ID
	s.audit.LogAuthentication(ctx, models.AuditEntry{
		EventType: "password_reset_requested",
		UserID:    &uid,
		Action:    "request password reset",
		Outcome:   models.OutcomeSuccess,
	})
	return nil
}

// ConfirmPasswordReset sets a new password from a reset token, signs the user
// out everywhere and lifts any lockout.
func (s *Service) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if err := s.ValidatePassword(newPassword); err != nil {
		return err
	}
	if !auth.WellFormedToken(rawToken) {
		return ErrInvalidToken
	}
	t, err := s.st.ConsumeAccountToken(ctx, models.TokenPasswordReset, auth.HashToken(rawToken), s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return err
	}
	u, err := s.st.GetUserByID(ctx, t.UserID)
	if err != nil {
		return err
	}
	if u.Status == models.UserDisabled || u.Status == models.UserPendingSetup {
		return ErrInvalidToken
	}
	if err := s.setPassword(ctx, u, newPassword); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAllUserSessions(ctx, u.ID, u.ID, "password_reset"); err != nil {
		s.log.Error(ctx, "revoke sessions after reset", "user_id", u.ID, "err", err)
	}
	if err := s.st.ResetFailedLogins(ctx, u.ID); err != nil {
		s.log.Warn(ctx, "unlock after reset", "user_id", u.ID, "err", err)
	}
	s.limiter.Reset(ctx, rate.Login, u.Email)
	uid := u.ID
	s.audit.LogAuthentication(ctx, models.AuditEntry{
		EventType: "password_reset_completed",
		UserID:    &uid,
		Action:    "reset password",
		Outcome:   models.OutcomeSuccess,
	})
	return nil
}

// ChangePassword replaces the password of a signed-in user and revokes every
// other session they hold.
func (s *Service) ChangePassword(ctx context.Context, u models.User, current models.Session, oldPassword, newPassword string) error {
	uid := u.ID
	limitKey := userIdentifier(u.ID)
	if res := s.limiter.CheckRateLimit(ctx, rate.Login, limitKey); res.Limited {
		s.audit.LogSecurityEvent(ctx, models.CategoryAuthentication, models.SecurityEvent{
			EventType:   "password_change_rate_limited",
			Severity:    models.SeverityWarning,
			UserID:      &uid,
			Description: "current password attempts exceeded the rate limit",
		})
		return &TooManyAttemptsError{RetryAfter: res.RetryAfter}
	}
	if !s.verify(u.PasswordHash, oldPassword) {
		s.limiter.RecordAttempt(ctx, rate.Login, limitKey, rate.Metadata{})
		s.audit.LogAuthentication(ctx, models.AuditEntry{
			EventType: "password_change_failed",
			UserID:    &uid,
			Action:    "change password",
			Outcome:   models.OutcomeFailure,
		})
		return ErrInvalidCredentials
	}
	s.limiter.Reset(ctx, rate.Login, limitKey)
	if err := s.ValidatePassword(newPassword); err != nil {
		return err
	}
	if err := s.setPassword(ctx, u, newPassword); err != nil {
		return err
	}
	sessionIDs, err := s.st.ListActiveSessionIDs(ctx, u.ID)
	if err != nil {
		s.log.Error(ctx, "list sessions after password change", "user_id", u.ID, "err", err)
	}
	for _, id := range sessionIDs {
		if id != current.ID {
			s.sessions.RevokeSession(ctx, id, u.ID, "password_change")
		}
	}
	s.audit.LogAuthentication(ctx, models.AuditEntry{
		EventType: "password_changed",
		UserID:    &uid,
		Action:    "change password",
		Outcome:   models.OutcomeSuccess,
	})
	return nil
}

// setPassword rejects any of the last PasswordHistory passwords (the current
// one included), stores the new hash and moves the outgoing one into history.
func (s *Service) setPassword(ctx context.Context, u models.User, password string) error {
	recent, err := s.st.RecentPasswordHashes(ctx, u.ID, PasswordHistory-1)
	if err != nil {
		return fmt.Errorf("load password history: %w", err)
	}
	if u.PasswordHash != "" {
		recent = append([]string{u.PasswordHash}, recent...)
	}
	for _, h := range recent {
		if s.verify(h, password) {
			return ErrPasswordReused
		}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.st.UpdateUserPassword(ctx, u.ID, hash, now); err != nil {
		return err
	}
	if u.PasswordHash != "" {
		if err := s.st.AddPasswordHistory(ctx, u.ID, u.PasswordHash, now, PasswordHistory); err != nil {
			s.log.Warn(ctx, "record password history", "user_id", u.ID, "err", err)
		}
	}
	return nil
}

// InviteUser creates an account in pending_setup and mails a setup link.
func (s *Service) InviteUser(ctx context.Context, actor models.User, email string, role models.Role) (models.User, error) {
	email = strings.TrimSpace(email)
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return models.User{}, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if !role.Valid() {
		return models.User{}, fmt.Errorf("%w: invalid role", ErrInvalidInput)
	}
	u, err := s.st.CreateUser(ctx, email, "", role, models.UserPendingSetup)
	if err != nil {
		return models.User{}, err
	}
	if err := s.issueSetupToken(ctx, u); err != nil {
		return u, err
	}
	s.adminAudit(ctx, actor, "user_invited", "invite user", u.ID, map[string]any{"role": string(role)})
	return u, nil
}

// ResendSetup replaces any outstanding setup link for a pending user.
func (s *Service) ResendSetup(ctx context.Context, actor models.User, userID string) error {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Status != models.UserPendingSetup {
		return ErrConflict
	}
	if err := s.issueSetupToken(ctx, u); err != nil {
		return err
	}
	s.adminAudit(ctx, actor, "setup_resent", "resend setup link", u.ID, nil)
	return nil
}

func (s *Service) issueSetupToken(ctx context.Context, u models.User) error {
	now := s.now().UTC()
	if err := s.st.InvalidateAccountTokens(ctx, u.ID, models.TokenAccountSetup, now); err != nil {
		return err
	}
	raw, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return err
	}
	if _, err := s.st.CreateAccountToken(ctx, u.ID, models.TokenAccountSetup, hash, now.Add(setupTokenTTL)); err != nil {
		return err
	}
	if err := s.sender.SendAccountSetup(ctx, u.Email, raw); err != nil {
		s.log.Error(ctx, "send account setup", "user_id", u.ID, "err", err)
	}
	return nil
}

// CompleteAccountSetup sets the first password of an invited account and
// activates it.
func (s *Service) CompleteAccountSetup(ctx context.Context, rawToken, password, ip, ua string) error {
	ident := ipIdentifier(ip)
	if res := s.limiter.CheckRateLimit(ctx, rate.Setup, ident); res.Limited {
		s.audit.LogSecurityEvent(ctx, models.CategoryAuthentication, models.SecurityEvent{
			EventType:   "setup_rate_limited",
			Severity:    models.SeverityWarning,
			Description: "account setup attempts exceeded the rate limit",
			Details:     map[string]any{"identifier": ident},
		})
		return &TooManyAttemptsError{RetryAfter: res.RetryAfter}
	}
	s.limiter.RecordAttempt(ctx, rate.Setup, ident, rate.Metadata{IP: ip, UserAgent: ua})

	if err := s.ValidatePassword(password); err != nil {
		return err
	}
	if !auth.WellFormedToken(rawToken) {
		return ErrInvalidToken
	}
	t, err := s.st.ConsumeAccountToken(ctx, models.TokenAccountSetup, auth.HashToken(rawToken), s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return err
	}
	u, err := s.st.GetUserByID(ctx, t.UserID)
	if err != nil {
		return err
	}
	if u.Status != models.UserPendingSetup {
		return ErrInvalidToken
	}
	if err := s.setPassword(ctx, u, password); err != nil {
		return err
	}
	if err := s.st.UpdateUserStatus(ctx, u.ID, models.UserActive); err != nil {
		return err
	}
	uid := u.ID
	s.audit.LogAuthentication(ctx, models.AuditEntry{
		EventType: "account_setup_completed",
		UserID:    &uid,
		Action:    "complete account setup",
		Outcome:   models.OutcomeSuccess,
	})
	return nil
}
