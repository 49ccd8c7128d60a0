package portal

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/navigation"
	"github.com/gadgetcloud/portal/internal/workspace"
)

type dashboardData struct {
	UserStats  *backend.UserStatistics
	AuditStats *backend.AuditStatistics
	Recent     []backend.AuditLog
	QuickLinks bool
}

func workspaceOf(r *http.Request) *workspace.Workspace {
	return workspace.FromContext(r.Context())
}

func (h *Handler) authenticated(r *http.Request) (*workspace.Workspace, bool) {
	ws := workspaceOf(r)
	if ws == nil || !ws.IsAuthenticated() {
		return nil, false
	}
	return ws, true
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	eval := ws.Evaluator()
	role := ws.CurrentRole()
	data := dashboardData{QuickLinks: ws.AdminPanel.Visible()}

	// Dashboard widgets are best effort; only a rejected credential aborts.
	if role == identity.RoleAdmin && eval.CanViewUsers() {
		stats, err := ws.Client.UserStatistics(r.Context())
		if h.widgetFailed(w, r, ws, "user statistics", err) {
			return
		}
		data.UserStats = stats
	}
	if eval.CanViewAuditLogs() {
		if role == identity.RoleAdmin {
			stats, err := ws.Client.AuditStatistics(r.Context())
			if h.widgetFailed(w, r, ws, "audit statistics", err) {
				return
			}
			data.AuditStats = stats
		}
		recent, err := ws.Client.RecentAuditLogs(r.Context(), 5)
		if h.widgetFailed(w, r, ws, "recent audit logs", err) {
			return
		}
		data.Recent = recent
	}

	h.render(w, r, http.StatusOK, "pages/dashboard.html", role.Label()+" Dashboard", data)
}

// widgetFailed logs err and reports whether the response was taken over.
func (h *Handler) widgetFailed(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace, widget string, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, backend.ErrUnauthorized) {
		h.backendFailure(w, r, ws, err)
		return true
	}
	h.logger.Warn("dashboard widget", slog.String("widget", widget), slog.Any("error", err))
	return false
}

func (h *Handler) section(w http.ResponseWriter, r *http.Request) {
	title := "Overview"
	for _, role := range identity.Roles() {
		for _, e := range navigation.ForRole(role) {
			if e.Route == r.URL.Path {
				title = e.Label
			}
		}
	}
	h.render(w, r, http.StatusOK, "pages/section.html", title, nil)
}
