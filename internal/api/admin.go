package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"memberportal/internal/middleware"
	"memberportal/internal/models"
	"memberportal/internal/util"
)

func (h *Handlers) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	users, total, err := h.svc.ListUsers(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toUserDTO(u))
	}
	util.WriteJSON(w, 200, map[string]any{"items": out, "total": total, "page": page, "page_size": pageSize})
}

func (h *Handlers) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, toUserDTO(u))
}

func (h *Handlers) AdminInviteUser(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	role := models.RoleMember
	if req.Role != "" {
		var ok bool
		if role, ok = models.ParseRole(req.Role); !ok {
			util.WriteError(w, 400, "bad_request", "unknown role", middleware.RequestID(r.Context()))
			return
		}
	}
	u, err := h.svc.InviteUser(r.Context(), admin.User, req.Email, role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, toUserDTO(u))
}

func (h *Handlers) AdminSetRole(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
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
	if err := h.svc.SetUserRole(r.Context(), admin.User, chi.URLParam(r, "id"), role); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "updated", "role": string(role)})
}

func (h *Handlers) AdminDisableUser(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	if err := h.svc.DisableUser(r.Context(), admin.User, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": string(models.UserDisabled)})
}

func (h *Handlers) AdminEnableUser(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	if err := h.svc.EnableUser(r.Context(), admin.User, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": string(models.UserActive)})
}

func (h *Handlers) AdminUnlockUser(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	if err := h.svc.UnlockUser(r.Context(), admin.User, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "unlocked"})
}

func (h *Handlers) AdminResendSetup(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	if err := h.svc.ResendSetup(r.Context(), admin.User, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 202, map[string]string{"status": "sent"})
}

func (h *Handlers) AdminDisableMFA(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	if err := h.svc.DisableMFA(r.Context(), admin.User, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "mfa_disabled"})
}

func (h *Handlers) AdminUserSessions(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "1"
	sessions, err := h.svc.ListUserSessions(r.Context(), chi.URLParam(r, "id"), activeOnly)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionDTO(s, ""))
	}
	util.WriteJSON(w, 200, map[string]any{"items": out})
}

func (h *Handlers) AdminRevokeSession(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	if err := h.svc.RevokeSession(r.Context(), admin.User, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "revoked"})
}

func (h *Handlers) AdminRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	n, err := h.svc.RevokeUserSessions(r.Context(), admin.User, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"status": "revoked", "count": n})
}

func (h *Handlers) AdminElevationHistory(w http.ResponseWriter, r *http.Request) {
	_, pageSize := parsePagination(r)
	items, err := h.svc.ElevationHistory(r.Context(), chi.URLParam(r, "id"), pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": items})
}

func (h *Handlers) AdminAuditLog(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	q := r.URL.Query()
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	items, total := h.svc.QueryAuditLogs(r.Context(), models.AuditQuery{
		EventType: q.Get("event_type"),
		Category:  models.AuditCategory(q.Get("category")),
		Severity:  models.Severity(q.Get("severity")),
		Outcome:   models.Outcome(q.Get("outcome")),
		UserID:    q.Get("user_id"),
		From:      from,
		To:        to,
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	})
	util.WriteJSON(w, 200, map[string]any{"items": items, "total": total, "page": page, "page_size": pageSize})
}

func (h *Handlers) AdminSecurityEvents(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	q := r.URL.Query()
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	query := models.SecurityEventQuery{
		EventType: q.Get("event_type"),
		Severity:  models.Severity(q.Get("severity")),
		UserID:    q.Get("user_id"),
		From:      from,
		To:        to,
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			util.WriteError(w, 400, "bad_request", "resolved must be a boolean", middleware.RequestID(r.Context()))
			return
		}
		query.Resolved = &b
	}
	items, total := h.svc.QuerySecurityEvents(r.Context(), query)
	util.WriteJSON(w, 200, map[string]any{"items": items, "total": total, "page": page, "page_size": pageSize})
}

func (h *Handlers) AdminResolveSecurityEvent(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	var req struct {
		Notes string `json:"notes"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	if err := h.svc.ResolveSecurityEvent(r.Context(), admin.User, chi.URLParam(r, "id"), req.Notes); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "resolved"})
}

func (h *Handlers) AdminRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := models.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		util.WriteError(w, 400, "bad_request", "unknown role", middleware.RequestID(r.Context()))
		return
	}
	perms, err := h.svc.RolePermissions(r.Context(), role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"role": role, "permissions": perms})
}

func (h *Handlers) AdminListOverrides(w http.ResponseWriter, r *http.Request) {
	var role models.Role
	if v := r.URL.Query().Get("role"); v != "" {
		var ok bool
		if role, ok = models.ParseRole(v); !ok {
			util.WriteError(w, 400, "bad_request", "unknown role", middleware.RequestID(r.Context()))
			return
		}
	}
	items, err := h.svc.ListPermissionOverrides(r.Context(), role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"items": items})
}

type overrideRequest struct {
	Path  string `json:"path"`
	Role  string `json:"role"`
	Level string `json:"level"`
}

func (h *Handlers) AdminSetOverride(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	var req overrideRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		util.WriteError(w, 400, "bad_request", "unknown role", middleware.RequestID(r.Context()))
		return
	}
	level, ok := models.ParseAccessLevel(req.Level)
	if !ok {
		util.WriteError(w, 400, "bad_request", "level must be none, read or write", middleware.RequestID(r.Context()))
		return
	}
	o, err := h.svc.SetPermissionOverride(r.Context(), admin.User, req.Path, role, level)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, o)
}

func (h *Handlers) AdminDeleteOverride(w http.ResponseWriter, r *http.Request) {
	admin, _ := middleware.CurrentPrincipal(r.Context())
	var req overrideRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		badJSON(w, r)
		return
	}
	role, ok := models.ParseRole(req.Role)
	if !ok {
		util.WriteError(w, 400, "bad_request", "unknown role", middleware.RequestID(r.Context()))
		return
	}
	if err := h.svc.DeletePermissionOverride(r.Context(), admin.User, req.Path, role); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

// parseRange reads optional RFC 3339 from/to query bounds.
func parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	var from, to time.Time
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			util.WriteError(w, 400, "bad_request", name+" must be RFC 3339", middleware.RequestID(r.Context()))
			return time.Time{}, time.Time{}, false
		}
		*dst = t
	}
	return from, to, true
}
