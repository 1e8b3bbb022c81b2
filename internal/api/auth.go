package api

import (
	"net/http"
	"time"

	"memberportal/internal/middleware"
	"memberportal/internal/models"
	"memberportal/internal/pim"
	"memberportal/internal/service"
	"memberportal/internal/util"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TOTPCode   string `json:"totp_code"`
	BackupCode string `json:"backup_code"`
	Remember   bool   `json:"remember"`
}

type userDTO struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Role        models.Role       `json:"role"`
	Status      models.UserStatus `json:"status"`
	MFAEnabled  bool              `json:"mfa_enabled"`
	LockedUntil *time.Time        `json:"locked_until,omitempty"`
	LastLoginAt *time.Time        `json:"last_login_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toUserDTO(u models.User) userDTO {
	return userDTO{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		Status:      u.Status,
		MFAEnabled:  u.MFAEnabled,
		LockedUntil: u.LockedUntil,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

type sessionDTO struct {
	ID               string       `json:"id"`
	CreatedAt        time.Time    `json:"created_at"`
	LastActivity     time.Time    `json:"last_activity"`
	ExpiresAt        time.Time    `json:"expires_at"`
	Active           bool         `json:"active"`
	Persistent       bool         `json:"persistent"`
	RevokedAt        *time.Time   `json:"revoked_at,omitempty"`
	RevocationReason *string      `json:"revocation_reason,omitempty"`
	AssumedRole      *models.Role `json:"assumed_role,omitempty"`
	AssumedUntil     *time.Time   `json:"assumed_until,omitempty"`
	Current          bool         `json:"current,omitempty"`
}

func toSessionDTO(s models.Session, currentID string) sessionDTO {
	return sessionDTO{
		ID:               s.ID,
		CreatedAt:        s.CreatedAt,
		LastActivity:     s.LastActivity,
		ExpiresAt:        s.ExpiresAt,
		Active:           s.IsActive,
		Persistent:       s.Persistent,
		RevokedAt:        s.RevokedAt,
		RevocationReason: s.RevocationReason,
		AssumedRole:      s.AssumedRole,
		AssumedUntil:     s.AssumedUntil,
		Current:          s.ID == currentID,
	}
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	res, err := h.svc.Login(r.Context(), service.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		TOTPCode:   req.TOTPCode,
		BackupCode: req.BackupCode,
		IP:         middleware.ClientIP(r, h.cfg.TrustProxy),
		UserAgent:  r.UserAgent(),
		Persistent: req.Remember || h.cfg.SessionPersistent,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	csrfToken := randomToken()
	h.setAuthCookies(w, r, res.Session, res.Token, csrfToken)
	util.WriteJSON(w, 200, map[string]any{
		"user_id":    res.User.ID,
		"email":      res.User.Email,
		"role":       res.User.Role,
		"csrf_token": csrfToken,
		"expires_at": res.Session.ExpiresAt,
	})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	c, _ := r.Cookie(h.cfg.SessionCookieName)
	if c != nil && c.Value != "" {
		if err := h.svc.Logout(r.Context(), c.Value); err != nil {
			h.log.Warn(r.Context(), "logout", "err", err)
		}
	}
	h.clearAuthCookies(w, r)
	util.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

func (h *Handlers) PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	err := h.svc.RequestPasswordReset(r.Context(), req.Email, middleware.ClientIP(r, h.cfg.TrustProxy), r.UserAgent())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 202, map[string]string{"status": "accepted"})
}

func (h *Handlers) PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	if err := h.svc.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "updated"})
}

func (h *Handlers) SetupComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	ip := middleware.ClientIP(r, h.cfg.TrustProxy)
	if err := h.svc.CompleteAccountSetup(r.Context(), req.Token, req.Password, ip, r.UserAgent()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "active"})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.CurrentPrincipal(r.Context())
	out := map[string]any{
		"user":           toUserDTO(p.User),
		"effective_role": p.EffectiveRole,
		"eligible_roles": pim.EligibleRoles(p.User.Role),
		"session":        toSessionDTO(p.Session, p.Session.ID),
	}
	if pim.Elevated(p.Session, h.svc.Now().UTC()) {
		out["elevated_until"] = p.Session.AssumedUntil
	}
	util.WriteJSON(w, 200, out)
}

func (h *Handlers) MyPermissions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.CurrentPrincipal(r.Context())
	perms, err := h.svc.RolePermissions(r.Context(), p.EffectiveRole)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"role": p.EffectiveRole, "permissions": perms})
}

func (h *Handlers) MySessions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.CurrentPrincipal(r.Context())
	sessions, err := h.svc.ListUserSessions(r.Context(), p.User.ID, true)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionDTO(s, p.Session.ID))
	}
	util.WriteJSON(w, 200, map[string]any{"items": out})
}

func (h *Handlers) Elevate(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.CurrentPrincipal(r.Context())
	var req struct {
		Role string `json:"role"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		util.WriteError(w, 400, "bad_request", "unknown role", middleware.RequestID(r.Context()))
		return
	}
	sess, err := h.svc.Elevate(r.Context(), p.Session, p.User, role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{
		"effective_role": pim.EffectiveRole(p.User.Role, sess, h.svc.Now().UTC()),
		"assumed_until":  sess.AssumedUntil,
	})
}

func (h *Handlers) Drop(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.CurrentPrincipal(r.Context())
	sess, err := h.svc.Drop(r.Context(), p.Session, p.User)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{
		"effective_role": pim.EffectiveRole(p.User.Role, sess, h.svc.Now().UTC()),
	})
}

func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.CurrentPrincipal(r.Context())
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), p.User, p.Session, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "updated"})
}

func (h *Handlers) BeginMFA(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.CurrentPrincipal(r.Context())
	enrollment, err := h.svc.BeginMFAEnrollment(r.Context(), p.User)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, enrollment)
}

func (h *Handlers) ConfirmMFA(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.CurrentPrincipal(r.Context())
	var req struct {
		Code string `json:"code"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	codes, err := h.svc.ConfirmMFAEnrollment(r.Context(), p.User, req.Code)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"status": "enabled", "backup_codes": codes})
}
