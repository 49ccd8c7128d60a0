// Package portal serves the GadgetCloud portal pages: authentication, role
// dashboards and the admin area.
package portal

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/guard"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/navigation"
	"github.com/gadgetcloud/portal/internal/shared"
	"github.com/gadgetcloud/portal/internal/view"
	"github.com/gadgetcloud/portal/internal/workspace"
)

// Handler wires HTTP endpoints for the portal.
type Handler struct {
	logger         *slog.Logger
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	workspaces     *workspace.Registry
	validator      *validator.Validate
	loginLimit     int
	pageSize       int
}

// Option customises a Handler.
type Option func(*Handler)

// WithLoginRateLimit caps login and signup attempts per IP and minute.
func WithLoginRateLimit(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.loginLimit = n
		}
	}
}

// WithPageSize sets the admin listing page size.
func WithPageSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.pageSize = n
		}
	}
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, workspaces *workspace.Registry, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:         logger,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		workspaces:     workspaces,
		validator:      validator.New(),
		loginLimit:     10,
		pageSize:       20,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MountRoutes registers portal routes on r. Route authorization is applied
// by the guard middleware in front of r.
func (h *Handler) MountRoutes(r chi.Router) {
	authLimiter := httprate.Limit(h.loginLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))

	r.Get("/", h.home)
	r.Get("/login", h.showLogin)
	r.With(authLimiter).Post("/login", h.handleLogin)
	r.Get("/signup", h.showSignup)
	r.With(authLimiter).Post("/signup", h.handleSignup)
	r.Post("/logout", h.handleLogout)
	r.Get("/unauthorized", h.unauthorized)
	r.Get("/dashboard", h.dashboardRedirect)

	for _, role := range identity.Roles() {
		r.Get(role.DashboardRoute(), h.dashboard)
	}
	for _, route := range sectionRoutes() {
		r.Get(route, h.section)
	}

	r.Get("/admin/users", h.listUsers)
	r.Get("/admin/users/{id}", h.showUser)
	r.Post("/admin/users/{id}/role", h.changeRole)
	r.Post("/admin/users/{id}/deactivate", h.deactivateUser)
	r.Post("/admin/users/{id}/reactivate", h.reactivateUser)
	r.Get("/admin/audit-logs", h.auditLogs)
	r.Get("/admin/audit-logs/export", h.exportAuditLogs)
	r.Get("/admin/permissions", h.permissionMatrix)
}

// sectionRoutes lists menu routes served by the generic section page.
func sectionRoutes() []string {
	handled := map[string]bool{
		"/admin/users":       true,
		"/admin/audit-logs":  true,
		"/admin/permissions": true,
	}
	for _, role := range identity.Roles() {
		handled[role.DashboardRoute()] = true
	}
	var out []string
	for _, role := range identity.Roles() {
		for _, e := range navigation.ForRole(role) {
			if !handled[e.Route] {
				handled[e.Route] = true
				out = append(out, e.Route)
			}
		}
	}
	return out
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, err := h.csrfManager.EnsureToken(sess)
	if err != nil {
		h.logger.Warn("csrf token", slog.Any("error", err))
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       sess.PopFlash(),
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if ws := workspace.FromContext(r.Context()); ws != nil {
		viewData.Perms = ws.Evaluator()
		if ws.IsAuthenticated() {
			viewData.User = ws.Store.Identity()
			if menu, ok := ws.Navigation(); ok {
				viewData.Menu = &menu
			}
		}
	}
	if status != http.StatusOK {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, page, viewData); err != nil {
		h.logger.Error("render page", slog.String("page", page), slog.Any("error", err))
		if status == http.StatusOK {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

// current returns the request workspace. Handlers behind the guard always
// have one.
func (h *Handler) current(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	ws := workspace.FromContext(r.Context())
	if ws == nil {
		http.Redirect(w, r, guard.LoginLocation(r.URL.RequestURI()), http.StatusSeeOther)
		return nil, false
	}
	return ws, true
}

// backendFailure maps a backend error onto the response. A rejected
// credential ends the local session without notifying the backend.
func (h *Handler) backendFailure(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace, err error) {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		ws.Store.Invalidate(r.Context())
		ws.TakeRedirect()
		if sess := shared.SessionFromContext(r.Context()); sess != nil {
			sess.AddFlash(shared.FlashInfo, "Your session has expired. Please sign in again.")
		}
		http.Redirect(w, r, guard.LoginLocation(returnTarget(r)), http.StatusSeeOther)
	case errors.Is(err, backend.ErrForbidden):
		http.Redirect(w, r, guard.UnauthorizedRoute, http.StatusSeeOther)
	default:
		status := http.StatusBadGateway
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			status = http.StatusNotFound
		}
		h.logger.Error("backend request", slog.String("path", r.URL.Path), slog.Any("error", err))
		h.render(w, r, status, "pages/error.html", "Error", backend.Detail(err, "The backend is unavailable."))
	}
}

// returnTarget is the page to come back to after signing in again. Form
// posts return to the page they were submitted from.
func returnTarget(r *http.Request) string {
	if r.Method == http.MethodGet {
		return r.URL.RequestURI()
	}
	if back := localReferer(r); back != "" {
		return back
	}
	return ""
}

// localReferer returns the path of a same-host Referer, or "".
func localReferer(r *http.Request) string {
	ref := r.Referer()
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Host != "" && u.Host != r.Host) {
		return ""
	}
	target := u.RequestURI()
	if !guard.SafeReturn(target) {
		return ""
	}
	return target
}

func (h *Handler) flash(r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(kind, message)
	}
}

func fieldErrors(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if err != nil {
			out["general"] = err.Error()
		}
		return out
	}
	for _, fe := range verrs {
		out[fe.Field()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return "Must be at least " + fe.Param() + " characters."
	case "max":
		return "Must be at most " + fe.Param() + " characters."
	case "oneof":
		return "Choose one of: " + fe.Param() + "."
	case "e164":
		return "Enter the number in international format, e.g. +14155550100."
	default:
		return fe.Error()
	}
}
