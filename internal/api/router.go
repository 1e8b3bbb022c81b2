package api

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"memberportal/internal/config"
	"memberportal/internal/logging"
	"memberportal/internal/middleware"
	"memberportal/internal/models"
	"memberportal/internal/obs"
	"memberportal/internal/pim"
	"memberportal/internal/service"
	"memberportal/internal/session"
	"memberportal/internal/util"
	"memberportal/internal/version"
)

const apiPrefix = "/api/v1"

type Handlers struct {
	cfg   config.Config
	svc   *service.Service
	guard *middleware.Guard
	log   logging.Logger
}

func NewRouter(cfg config.Config, svc *service.Service, log logging.Logger) http.Handler {
	if log == nil {
		log = logging.Nop()
	}
	guard := middleware.NewGuard(
		svc.Sessions(), svc.PIM(), svc.Permissions(), svc.Audit(), log,
		middleware.GuardConfig{
			CookieName: cfg.SessionCookieName,
			LoginPath:  cfg.LoginPath,
			APIPrefix:  apiPrefix,
			TrustProxy: cfg.TrustProxy,
		},
		middleware.WithGuardClock(svc.Now),
	)
	h := &Handlers{cfg: cfg, svc: svc, guard: guard, log: log}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.AuditMeta(cfg.TrustProxy))
	r.Use(middleware.RequestLogger(log, cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if cfg.MetricsEnabled {
		r.Use(obs.Instrument)
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]any{"status": "ok", "version": version.Current()})
	})
	r.Get("/health/ready", h.Ready)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", obs.Handler())
	}

	r.Route(apiPrefix, func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.HTTPThrottlePerMinute > 0 {
				r.Use(httprate.Limit(cfg.HTTPThrottlePerMinute, time.Minute,
					httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
						return middleware.ClientIP(r, cfg.TrustProxy), nil
					}),
					httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
						util.WriteRateLimited(w, time.Minute, middleware.RequestID(r.Context()))
					}),
				))
			}
			r.Post("/auth/login", h.Login)
			r.Post("/auth/logout", h.Logout)
			r.Post("/password/reset/request", h.PasswordResetRequest)
			r.Post("/password/reset/confirm", h.PasswordResetConfirm)
			r.Post("/setup/complete", h.SetupComplete)
		})

		r.Group(func(r chi.Router) {
			r.Use(guard.RequireAuth)
			r.Get("/me", h.Me)
			r.Get("/me/permissions", h.MyPermissions)
			r.Get("/me/sessions", h.MySessions)

			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFFromCookie(cfg.CSRFCookieName))
				r.Post("/me/elevate", h.Elevate)
				r.Post("/me/drop", h.Drop)
				r.Post("/me/password", h.ChangePassword)
				r.Post("/me/mfa/enroll", h.BeginMFA)
				r.Post("/me/mfa/confirm", h.ConfirmMFA)
			})

			for _, res := range portalResources {
				for _, pattern := range []string{res, res + "/*"} {
					r.With(guard.RequirePermission(models.AccessRead)).Get(pattern, h.Resource)
					r.With(middleware.CSRFFromCookie(cfg.CSRFCookieName), guard.RequirePermission(models.AccessWrite)).Post(pattern, h.Resource)
				}
			}

			r.Route("/admin", func(r chi.Router) {
				r.Use(guard.RequireRole(models.RoleAdmin))
				r.Get("/users", h.AdminListUsers)
				r.Get("/users/{id}", h.AdminGetUser)
				r.Get("/users/{id}/sessions", h.AdminUserSessions)
				r.Get("/users/{id}/elevations", h.AdminElevationHistory)
				r.Get("/audit-log", h.AdminAuditLog)
				r.Get("/security-events", h.AdminSecurityEvents)
				r.Get("/roles/{role}/permissions", h.AdminRolePermissions)
				r.Get("/permission-overrides", h.AdminListOverrides)
				r.Group(func(r chi.Router) {
					r.Use(middleware.CSRFFromCookie(cfg.CSRFCookieName))
					r.Post("/users", h.AdminInviteUser)
					r.Post("/users/{id}/role", h.AdminSetRole)
					r.Post("/users/{id}/disable", h.AdminDisableUser)
					r.Post("/users/{id}/enable", h.AdminEnableUser)
					r.Post("/users/{id}/unlock", h.AdminUnlockUser)
					r.Post("/users/{id}/resend-setup", h.AdminResendSetup)
					r.Post("/users/{id}/mfa/disable", h.AdminDisableMFA)
					r.Post("/users/{id}/sessions/revoke", h.AdminRevokeUserSessions)
					r.Post("/sessions/{id}/revoke", h.AdminRevokeSession)
					r.Post("/security-events/{id}/resolve", h.AdminResolveSecurityEvent)
					r.Put("/permission-overrides", h.AdminSetOverride)
					r.Delete("/permission-overrides", h.AdminDeleteOverride)
				})
			})
		})
	})
	return r
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ready := map[string]any{"checked_at": h.svc.Now().UTC().Format(time.RFC3339)}
	if err := h.svc.Store().Ping(r.Context()); err != nil {
		ready["status"] = "degraded"
		ready["database"] = map[string]any{"ok": false, "error": err.Error()}
		util.WriteJSON(w, 503, ready)
		return
	}
	ready["status"] = "ready"
	ready["database"] = map[string]any{"ok": true}
	util.WriteJSON(w, 200, ready)
}

// writeServiceError maps service sentinels onto status codes. Anything it
// does not recognise is logged and answered as a 500 without detail.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.RequestID(r.Context())
	var tooMany *service.TooManyAttemptsError
	switch {
	case errors.As(err, &tooMany):
		util.WriteRateLimited(w, tooMany.RetryAfter, reqID)
	case errors.Is(err, service.ErrInvalidCredentials):
		util.WriteError(w, 401, "invalid_credentials", "invalid email or password", reqID)
	case errors.Is(err, service.ErrAccountLocked):
		util.WriteError(w, 423, "account_locked", "account temporarily locked, try again later", reqID)
	case errors.Is(err, service.ErrMFARequired):
		util.WriteError(w, 401, "mfa_required", "a second factor is required", reqID)
	case errors.Is(err, service.ErrInvalidMFA):
		util.WriteError(w, 401, "invalid_mfa", "invalid verification code", reqID)
	case errors.Is(err, service.ErrWeakPassword), errors.Is(err, service.ErrInvalidInput):
		util.WriteError(w, 400, "bad_request", err.Error(), reqID)
	case errors.Is(err, service.ErrPasswordReused):
		util.WriteError(w, 400, "password_reused", err.Error(), reqID)
	case errors.Is(err, service.ErrInvalidToken):
		util.WriteError(w, 400, "invalid_token", err.Error(), reqID)
	case errors.Is(err, pim.ErrNotEligible):
		util.WriteError(w, 403, "not_eligible", err.Error(), reqID)
	case errors.Is(err, pim.ErrSessionInactive), errors.Is(err, session.ErrInvalidSession):
		util.WriteError(w, 401, "unauthorized", "authentication required", reqID)
	case errors.Is(err, service.ErrForbidden):
		util.WriteError(w, 403, "forbidden", err.Error(), reqID)
	case errors.Is(err, service.ErrNotFound):
		util.WriteError(w, 404, "not_found", "not found", reqID)
	case errors.Is(err, service.ErrLastAdmin),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrMFAAlreadyEnabled),
		errors.Is(err, service.ErrMFANotPending):
		util.WriteError(w, 409, "conflict", err.Error(), reqID)
	default:
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		util.WriteError(w, 500, "internal_error", "internal error", reqID)
	}
}

func badJSON(w http.ResponseWriter, r *http.Request) {
	util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
}

func parsePagination(r *http.Request) (int, int) {
	page := 1
	pageSize := 25
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil {
			if ps < 1 {
				ps = 1
			}
			if ps > 100 {
				ps = 100
			}
			pageSize = ps
		}
	}
	return page, pageSize
}

func randomToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// setAuthCookies issues the session and CSRF cookies. Non-persistent sessions
// get browser-session cookies.
func (h *Handlers) setAuthCookies(w http.ResponseWriter, r *http.Request, sess models.Session, sessionToken, csrfToken string) {
	secure := h.cfg.ResolveCookieSecure(r)
	maxAge := 0
	if sess.Persistent {
		maxAge = int(sess.ExpiresAt.Sub(h.svc.Now()).Seconds())
		if maxAge < 1 {
			maxAge = 1
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CSRFCookieName,
		Value:    csrfToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (h *Handlers) clearAuthCookies(w http.ResponseWriter, r *http.Request) {
	secure := h.cfg.ResolveCookieSecure(r)
	expiredAt := time.Unix(1, 0).UTC()
	for _, c := range []struct {
		name     string
		httpOnly bool
	}{{h.cfg.SessionCookieName, true}, {h.cfg.CSRFCookieName, false}} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     "/",
			HttpOnly: c.httpOnly,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
			Expires:  expiredAt,
		})
	}
}
