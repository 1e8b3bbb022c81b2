package rbac

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"memberportal/internal/logging"
	"memberportal/internal/models"
	"memberportal/internal/obs"
)

var ErrInvalidOverride = errors.New("invalid permission override")

type Store interface {
	GetPermissionOverride(ctx context.Context, path string, role models.Role) (models.AccessLevel, bool, error)
	ListPermissionOverrides(ctx context.Context, role models.Role) ([]models.PermissionOverride, error)
	UpsertPermissionOverride(ctx context.Context, o models.PermissionOverride) error
	DeletePermissionOverride(ctx context.Context, path string, role models.Role) error
}

// Resolver answers permission questions. Overrides win over the static table;
// if the override store cannot be read the static table is used alone.
type Resolver struct {
	st     Store
	log    logging.Logger
	routes []Route
}

func NewResolver(st Store, log logging.Logger, routes []Route) *Resolver {
	if routes == nil {
		routes = DefaultRoutes
	}
	normalized := make([]Route, 0, len(routes))
	for _, r := range routes {
		r.Path = Normalize(r.Path)
		normalized = append(normalized, r)
	}
	return &Resolver{st: st, log: log, routes: normalized}
}

func (r *Resolver) Routes() []Route {
	return slices.Clone(r.routes)
}

// Match finds the route with the longest path prefix of p, on segment boundaries.
func (r *Resolver) Match(p string) (Route, bool) {
	p = Normalize(p)
	var best Route
	found := false
	for _, rt := range r.routes {
		if p != rt.Path && !strings.HasPrefix(p, strings.TrimSuffix(rt.Path, "/")+"/") {
			continue
		}
		if !found || len(rt.Path) > len(best.Path) {
			best, found = rt, true
		}
	}
	return best, found
}

func (r *Resolver) CanAccess(ctx context.Context, role models.Role, p string, required models.AccessLevel) bool {
	if required == models.AccessNone {
		return true
	}
	return r.Level(ctx, role, p).Allows(required)
}

// Level resolves the access role has on p.
func (r *Resolver) Level(ctx context.Context, role models.Role, p string) models.AccessLevel {
	route, matched := r.Match(p)
	key := Normalize(p)
	if matched {
		key = route.Path
	}
	if level, ok := r.override(ctx, key, role); ok {
		return level
	}
	if matched && slices.Contains(route.Roles, role) {
		return models.AccessWrite
	}
	return models.AccessNone
}

// GetRolePermissions materializes every path role has an opinion on.
func (r *Resolver) GetRolePermissions(ctx context.Context, role models.Role) map[string]models.AccessLevel {
	out := make(map[string]models.AccessLevel, len(r.routes))
	for _, rt := range r.routes {
		if slices.Contains(rt.Roles, role) {
			out[rt.Path] = models.AccessWrite
		} else {
			out[rt.Path] = models.AccessNone
		}
	}
	overrides, err := r.st.ListPermissionOverrides(ctx, role)
	if err != nil {
		obs.RBACFallbacks.Inc()
		r.log.Warn(ctx, "list permission overrides, using static routes", "role", string(role), "err", err)
		return out
	}
	for _, o := range overrides {
		out[o.Path] = o.Level
	}
	return out
}

func (r *Resolver) SetOverride(ctx context.Context, p string, role models.Role, level models.AccessLevel, updatedBy string) (models.PermissionOverride, error) {
	if !role.Valid() {
		return models.PermissionOverride{}, fmt.Errorf("%w: unknown role %q", ErrInvalidOverride, role)
	}
	if _, ok := models.ParseAccessLevel(string(level)); !ok {
		return models.PermissionOverride{}, fmt.Errorf("%w: unknown level %q", ErrInvalidOverride, level)
	}
	if !strings.HasPrefix(strings.TrimSpace(p), "/") {
		return models.PermissionOverride{}, fmt.Errorf("%w: path must start with /", ErrInvalidOverride)
	}
	o := models.PermissionOverride{Path: Normalize(p), Role: role, Level: level, UpdatedAt: time.Now().UTC()}
	if updatedBy != "" {
		o.UpdatedBy = &updatedBy
	}
	if err := r.st.UpsertPermissionOverride(ctx, o); err != nil {
		return models.PermissionOverride{}, err
	}
	return o, nil
}

func (r *Resolver) DeleteOverride(ctx context.Context, p string, role models.Role) error {
	return r.st.DeletePermissionOverride(ctx, Normalize(p), role)
}

func (r *Resolver) Overrides(ctx context.Context, role models.Role) ([]models.PermissionOverride, error) {
	return r.st.ListPermissionOverrides(ctx, role)
}

func (r *Resolver) override(ctx context.Context, key string, role models.Role) (models.AccessLevel, bool) {
	level, found, err := r.st.GetPermissionOverride(ctx, key, role)
	if err != nil {
		obs.RBACFallbacks.Inc()
		r.log.Warn(ctx, "permission override lookup failed, using static routes", "path", key, "role", string(role), "err", err)
		return models.AccessNone, false
	}
	return level, found
}

// Normalize cleans p into the canonical form used as an override key.
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
