package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"memberportal/internal/logging"
	"memberportal/internal/models"
	"memberportal/internal/obs"
	"memberportal/internal/pim"
	"memberportal/internal/session"
	"memberportal/internal/util"
)

type SessionValidator interface {
	ValidateSession(ctx context.Context, token, ip, ua string) (models.Session, models.User, error)
}

type ElevationExpirer interface {
	ExpireStale(ctx context.Context, sess models.Session, user models.User) models.Session
}

type PermissionChecker interface {
	CanAccess(ctx context.Context, role models.Role, path string, required models.AccessLevel) bool
}

type AuthorizationAuditor interface {
	LogAuthorization(ctx context.Context, e models.AuditEntry)
}

type GuardConfig struct {
	CookieName string
	LoginPath  string
	// APIPrefix is stripped from request paths before permission lookup.
	APIPrefix  string
	TrustProxy bool
}

// Guard composes session validation, elevation and permission checks into
// chi-compatible middleware.
type Guard struct {
	sessions SessionValidator
	elev     ElevationExpirer
	perms    PermissionChecker
	audit    AuthorizationAuditor
	log      logging.Logger
	cfg      GuardConfig
	now      func() time.Time
}

type GuardOption func(*Guard)

func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

func NewGuard(sessions SessionValidator, elev ElevationExpirer, perms PermissionChecker, audit AuthorizationAuditor, log logging.Logger, cfg GuardConfig, opts ...GuardOption) *Guard {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	g := &Guard{sessions: sessions, elev: elev, perms: perms, audit: audit, log: log, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		c, err := r.Cookie(g.cfg.CookieName)
		if err != nil || c.Value == "" {
			obs.GuardDecisions.WithLabelValues("auth", "deny").Inc()
			g.unauthenticated(w, r)
			return
		}
		sess, user, err := g.sessions.ValidateSession(ctx, c.Value, ClientIP(r, g.cfg.TrustProxy), r.UserAgent())
		if errors.Is(err, session.ErrInvalidSession) {
			obs.GuardDecisions.WithLabelValues("auth", "deny").Inc()
			g.unauthenticated(w, r)
			return
		}
		if err != nil {
			obs.GuardDecisions.WithLabelValues("auth", "error").Inc()
			g.log.Error(ctx, "validate session", "err", err)
			util.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", RequestID(ctx))
			return
		}

		sess = g.elev.ExpireStale(ctx, sess, user)
		p := Principal{User: user, Session: sess, EffectiveRole: pim.EffectiveRole(user.Role, sess, g.now().UTC())}
		obs.GuardDecisions.WithLabelValues("auth", "allow").Inc()
		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
	})
}

// RequireRole admits callers whose effective role is one of roles.
func (g *Guard) RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := CurrentPrincipal(r.Context())
			if !ok {
				g.unauthenticated(w, r)
				return
			}
			if !slices.Contains(roles, p.EffectiveRole) {
				g.deny(w, r, p, "role", map[string]any{"required_roles": roles})
				return
			}
			obs.GuardDecisions.WithLabelValues("role", "allow").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission checks the caller's access level on the request path.
func (g *Guard) RequirePermission(level models.AccessLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := CurrentPrincipal(r.Context())
			if !ok {
				g.unauthenticated(w, r)
				return
			}
			resource := g.ResourcePath(r)
			if !g.perms.CanAccess(r.Context(), p.EffectiveRole, resource, level) {
				g.deny(w, r, p, "permission", map[string]any{"required_level": string(level), "resource": resource})
				return
			}
			obs.GuardDecisions.WithLabelValues("permission", "allow").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) ResourcePath(r *http.Request) string {
	p := strings.TrimPrefix(r.URL.Path, g.cfg.APIPrefix)
	if p == "" {
		return "/"
	}
	return p
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, p Principal, stage string, details map[string]any) {
	obs.GuardDecisions.WithLabelValues(stage, "deny").Inc()
	uid := p.User.ID
	resType := "route"
	resID := r.URL.Path
	details["effective_role"] = string(p.EffectiveRole)
	g.audit.LogAuthorization(r.Context(), models.AuditEntry{
		EventType:    "access_denied",
		UserID:       &uid,
		Action:       r.Method + " " + r.URL.Path,
		Outcome:      models.OutcomeDenied,
		Details:      details,
		ResourceType: &resType,
		ResourceID:   &resID,
	})
	util.WriteError(w, http.StatusForbidden, "forbidden", "insufficient permissions", RequestID(r.Context()))
}

func (g *Guard) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if wantsHTML(r) {
		target := g.cfg.LoginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", RequestID(r.Context()))
}

func wantsHTML(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
