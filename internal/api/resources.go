package api

import (
	"net/http"

	"memberportal/internal/middleware"
	"memberportal/internal/util"
)

// portalResources are served behind RequirePermission. Their content lives in
// other services; this handler only confirms the caller got through.
var portalResources = []string{
	"/dashboard",
	"/directory",
	"/documents",
	"/meetings",
	"/dues",
	"/arb/requests",
	"/arb/review",
	"/board",
	"/board/vendors",
}

func (h *Handlers) Resource(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.CurrentPrincipal(r.Context())
	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusAccepted
	}
	util.WriteJSON(w, status, map[string]any{
		"resource":       h.guard.ResourcePath(r),
		"effective_role": p.EffectiveRole,
	})
}
