package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"memberportal/internal/auth"
	"memberportal/internal/models"
	"memberportal/internal/rate"
	"memberportal/internal/vault"
)

type MFAEnrollment struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

func pendingKey(userID string) string { return "pending:" + userID }

func (s *Service) verifySecondFactor(ctx context.Context, u models.User, totpCode, backupCode string, meta rate.Metadata) error {
	totpCode = strings.TrimSpace(totpCode)
	backupCode = strings.TrimSpace(backupCode)
	if totpCode == "" && backupCode == "" {
		return ErrMFARequired
	}
	uid := u.ID
	if res := s.limiter.CheckRateLimit(ctx, rate.MFAVerify, u.ID); res.Limited {
		s.audit.LogSecurityEvent(ctx, models.CategoryAuthentication, models.SecurityEvent{
			EventType:   "mfa_rate_limited",
			Severity:    models.SeverityWarning,
			UserID:      &uid,
			Description: "second factor attempts exceeded the rate limit",
		})
		return &TooManyAttemptsError{RetryAfter: res.RetryAfter}
	}

	ok, method, err := s.checkSecondFactor(ctx, u.ID, totpCode, backupCode)
	if err != nil {
		return err
	}
	if !ok {
		s.limiter.RecordAttempt(ctx, rate.MFAVerify, u.ID, meta)
		s.audit.LogAuthentication(ctx, models.AuditEntry{
			EventType: "mfa_failed",
			UserID:    &uid,
			Action:    "verify second factor",
			Outcome:   models.OutcomeFailure,
			Details:   map[string]any{"method": method},
		})
		return ErrInvalidMFA
	}
	s.limiter.Reset(ctx, rate.MFAVerify, u.ID)
	if method == "backup_code" {
		s.audit.LogAuthentication(ctx, models.AuditEntry{
			EventType: "backup_code_used",
			UserID:    &uid,
			Action:    "verify second factor",
			Outcome:   models.OutcomeSuccess,
		})
	}
	return nil
}

func (s *Service) checkSecondFactor(ctx context.Context, userID, totpCode, backupCode string) (bool, string, error) {
	if totpCode != "" {
		secret, err := s.vault.Get(ctx, userID)
		if errors.Is(err, vault.ErrNotFound) {
			return false, "totp", nil
		}
		if err != nil {
			return false, "totp", fmt.Errorf("load mfa secret: %w", err)
		}
		step, ok := auth.MatchTOTPStep(secret, totpCode, s.now())
		if !ok {
			return false, "totp", nil
		}
		claimed, err := s.st.ClaimTOTPStep(ctx, userID, step)
		if err != nil {
			return false, "totp", fmt.Errorf("record totp step: %w", err)
		}
		if !claimed {
			return false, "totp_replay", nil
		}
		return true, "totp", nil
	}

	codes, err := s.st.ListUnusedBackupCodes(ctx, userID)
	if err != nil {
		return false, "backup_code", fmt.Errorf("load backup codes: %w", err)
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = c.CodeHash
	}
	idx := auth.MatchBackupCode(backupCode, hashes)
	if idx < 0 {
		return false, "backup_code", nil
	}
	used, err := s.st.MarkBackupCodeUsed(ctx, codes[idx].ID, s.now().UTC())
	if err != nil {
		return false, "backup_code", fmt.Errorf("consume backup code: %w", err)
	}
	return used, "backup_code", nil
}

// BeginMFAEnrollment parks a fresh secret until the user proves possession
// with ConfirmMFAEnrollment.
func (s *Service) BeginMFAEnrollment(ctx context.Context, u models.User) (MFAEnrollment, error) {
	if u.MFAEnabled {
		return MFAEnrollment{}, ErrMFAAlreadyEnabled
	}
	key, err := auth.GenerateTOTP(s.cfg.MFAIssuer, u.Email)
	if err != nil {
		return MFAEnrollment{}, err
	}
	if err := s.vault.Put(ctx, pendingKey(u.ID), key.Secret); err != nil {
		return MFAEnrollment{}, fmt.Errorf("store pending secret: %w", err)
	}
	return MFAEnrollment{Secret: key.Secret, OTPAuthURL: key.URL}, nil
}

// ConfirmMFAEnrollment activates the pending secret and returns one-time
// backup codes. The plaintext codes are never stored.
func (s *Service) ConfirmMFAEnrollment(ctx context.Context, u models.User, code string) ([]string, error) {
	if u.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	uid := u.ID
	if res := s.limiter.CheckRateLimit(ctx, rate.MFAVerify, u.ID); res.Limited {
		return nil, &TooManyAttemptsError{RetryAfter: res.RetryAfter}
	}
	secret, err := s.vault.Get(ctx, pendingKey(u.ID))
	if errors.Is(err, vault.ErrNotFound) {
		return nil, ErrMFANotPending
	}
	if err != nil {
		return nil, fmt.Errorf("load pending secret: %w", err)
	}
	step, ok := auth.MatchTOTPStep(secret, code, s.now())
	if !ok {
		s.limiter.RecordAttempt(ctx, rate.MFAVerify, u.ID, rate.Metadata{})
		return nil, ErrInvalidMFA
	}
	// The enrollment code cannot be replayed as a login code.
	if _, err := s.st.ClaimTOTPStep(ctx, u.ID, step); err != nil {
		return nil, fmt.Errorf("record totp step: %w", err)
	}

	plain, hashes, err := auth.NewBackupCodes(backupCodes)
	if err != nil {
		return nil, err
	}
	if err := s.vault.Put(ctx, u.ID, secret); err != nil {
		return nil, fmt.Errorf("store mfa secret: %w", err)
	}
	if err := s.st.ReplaceBackupCodes(ctx, u.ID, hashes, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}
	if err := s.st.SetUserMFAEnabled(ctx, u.ID, true); err != nil {
		return nil, err
	}
	if err := s.vault.Delete(ctx, pendingKey(u.ID)); err != nil {
		s.log.Warn(ctx, "delete pending mfa secret", "user_id", u.ID, "err", err)
	}
	s.limiter.Reset(ctx, rate.MFAVerify, u.ID)
	s.audit.LogAuthentication(ctx, models.AuditEntry{
		EventType: "mfa_enabled",
		UserID:    &uid,
		Action:    "enroll totp",
		Outcome:   models.OutcomeSuccess,
	})
	return plain, nil
}

// DisableMFA removes a user's second factor. Admin only.
func (s *Service) DisableMFA(ctx context.Context, actor models.User, userID string) error {
	if _, err := s.st.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if err := s.st.SetUserMFAEnabled(ctx, userID, false); err != nil {
		return err
	}
	if err := s.vault.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete mfa secret: %w", err)
	}
	if err := s.st.DeleteBackupCodes(ctx, userID); err != nil {
		return err
	}
	s.adminAudit(ctx, actor, "mfa_disabled", "disable mfa", userID, nil)
	return nil
}
