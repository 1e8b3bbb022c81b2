package service

import (
	"context"
	"errors"
	"fmt"

	"memberportal/internal/models"
	"memberportal/internal/rate"
	"memberportal/internal/rbac"
)

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]models.User, int, error) {
	return s.st.ListUsers(ctx, limit, offset)
}

func (s *Service) GetUser(ctx context.Context, userID string) (models.User, error) {
	return s.st.GetUserByID(ctx, userID)
}

// SetUserRole changes a user's base role and signs them out, since sessions
// carry elevation state computed against the old role.
func (s *Service) SetUserRole(ctx context.Context, actor models.User, userID string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: invalid role", ErrInvalidInput)
	}
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role == role {
		return nil
	}
	if u.Role == models.RoleAdmin {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return err
		}
	}
	if err := s.st.UpdateUserRole(ctx, userID, role); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAllUserSessions(ctx, userID, actor.ID, "role_changed"); err != nil {
		s.log.Error(ctx, "revoke sessions after role change", "user_id", userID, "err", err)
	}
	s.adminAudit(ctx, actor, "user_role_changed", "change role", userID, map[string]any{"from": string(u.Role), "to": string(role)})
	return nil
}

func (s *Service) DisableUser(ctx context.Context, actor models.User, userID string) error {
	if actor.ID == userID {
		return ErrForbidden
	}
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role == models.RoleAdmin {
		if err := s.ensureAnotherAdmin(ctx); err != nil {
			return err
		}
	}
	if err := s.st.UpdateUserStatus(ctx, userID, models.UserDisabled); err != nil {
		return err
	}
	n, err := s.sessions.RevokeAllUserSessions(ctx, userID, actor.ID, "account_disabled")
	if err != nil {
		s.log.Error(ctx, "revoke sessions after disable", "user_id", userID, "err", err)
	}
	s.adminAudit(ctx, actor, "user_disabled", "disable user", userID, map[string]any{"sessions_revoked": n})
	return nil
}

func (s *Service) EnableUser(ctx context.Context, actor models.User, userID string) error {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Status != models.UserDisabled {
		return nil
	}
	if err := s.st.UpdateUserStatus(ctx, userID, models.UserActive); err != nil {
		return err
	}
	if err := s.st.ResetFailedLogins(ctx, userID); err != nil {
		return err
	}
	s.adminAudit(ctx, actor, "user_enabled", "enable user", userID, nil)
	return nil
}

// UnlockUser clears a lockout and the login rate rows for the account.
func (s *Service) UnlockUser(ctx context.Context, actor models.User, userID string) error {
	u, err := s.st.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.st.ResetFailedLogins(ctx, userID); err != nil {
		return err
	}
	s.limiter.Reset(ctx, rate.Login, u.Email)
	s.adminAudit(ctx, actor, "user_unlocked", "unlock user", userID, nil)
	return nil
}

func (s *Service) ensureAnotherAdmin(ctx context.Context) error {
	n, err := s.st.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

func (s *Service) ListUserSessions(ctx context.Context, userID string, activeOnly bool) ([]models.Session, error) {
	return s.st.ListUserSessions(ctx, userID, activeOnly)
}

func (s *Service) RevokeSession(ctx context.Context, actor models.User, sessionID string) error {
	sess, err := s.st.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	s.sessions.RevokeSession(ctx, sess.ID, actor.ID, "admin_revoked")
	resType := "session"
	uid := actor.ID
	s.audit.LogAdministrative(ctx, models.AuditEntry{
		EventType:    "session_revoked",
		UserID:       &uid,
		TargetUserID: &sess.UserID,
		Action:       "revoke session",
		Outcome:      models.OutcomeSuccess,
		ResourceType: &resType,
		ResourceID:   &sess.ID,
	})
	return nil
}

func (s *Service) RevokeUserSessions(ctx context.Context, actor models.User, userID string) (int, error) {
	if _, err := s.st.GetUserByID(ctx, userID); err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeAllUserSessions(ctx, userID, actor.ID, "admin_revoked")
	if err != nil {
		return n, err
	}
	s.adminAudit(ctx, actor, "user_sessions_revoked", "revoke all sessions", userID, map[string]any{"count": n})
	return n, nil
}

func (s *Service) QueryAuditLogs(ctx context.Context, q models.AuditQuery) ([]models.AuditEntry, int) {
	return s.audit.QueryAuditLogs(ctx, q)
}

func (s *Service) QuerySecurityEvents(ctx context.Context, q models.SecurityEventQuery) ([]models.SecurityEvent, int) {
	return s.audit.QuerySecurityEvents(ctx, q)
}

func (s *Service) ResolveSecurityEvent(ctx context.Context, actor models.User, id, notes string) error {
	return s.audit.ResolveSecurityEvent(ctx, id, actor.ID, notes)
}

func (s *Service) RolePermissions(ctx context.Context, role models.Role) (map[string]models.AccessLevel, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role", ErrInvalidInput)
	}
	return s.rbac.GetRolePermissions(ctx, role), nil
}

func (s *Service) ListPermissionOverrides(ctx context.Context, role models.Role) ([]models.PermissionOverride, error) {
	return s.rbac.Overrides(ctx, role)
}

func (s *Service) SetPermissionOverride(ctx context.Context, actor models.User, path string, role models.Role, level models.AccessLevel) (models.PermissionOverride, error) {
	o, err := s.rbac.SetOverride(ctx, path, role, level, actor.ID)
	if errors.Is(err, rbac.ErrInvalidOverride) {
		return models.PermissionOverride{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return models.PermissionOverride{}, err
	}
	resType := "route"
	uid := actor.ID
	s.audit.LogAdministrative(ctx, models.AuditEntry{
		EventType:    "permission_override_set",
		UserID:       &uid,
		Action:       "set permission override",
		Outcome:      models.OutcomeSuccess,
		ResourceType: &resType,
		ResourceID:   &o.Path,
		Details:      map[string]any{"role": string(role), "level": string(level)},
	})
	return o, nil
}

func (s *Service) DeletePermissionOverride(ctx context.Context, actor models.User, path string, role models.Role) error {
	if err := s.rbac.DeleteOverride(ctx, path, role); err != nil {
		return err
	}
	resType := "route"
	key := rbac.Normalize(path)
	uid := actor.ID
	s.audit.LogAdministrative(ctx, models.AuditEntry{
		EventType:    "permission_override_deleted",
		UserID:       &uid,
		Action:       "delete permission override",
		Outcome:      models.OutcomeSuccess,
		ResourceType: &resType,
		ResourceID:   &key,
		Details:      map[string]any{"role": string(role)},
	})
	return nil
}

func (s *Service) ElevationHistory(ctx context.Context, userID string, limit int) ([]models.ElevationRecord, error) {
	return s.pim.History(ctx, userID, limit)
}
