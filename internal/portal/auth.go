package portal

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/guard"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/shared"
)

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

type loginPageData struct {
	Form      loginForm
	Errors    map[string]string
	ReturnURL string
}

type signupForm struct {
	Email     string `validate:"required,email"`
	Password  string `validate:"required,min=8,max=128"`
	FirstName string `validate:"required,max=100"`
	LastName  string `validate:"omitempty,max=100"`
	Mobile    string `validate:"omitempty,e164"`
}

type signupPageData struct {
	Form   signupForm
	Errors map[string]string
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	if ws, ok := h.authenticated(r); ok {
		http.Redirect(w, r, ws.CurrentRole().DashboardRoute(), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, guard.LoginRoute, http.StatusSeeOther)
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	returnURL := r.URL.Query().Get(guard.ReturnParam)
	if ws, ok := h.authenticated(r); ok {
		http.Redirect(w, r, landing(ws.CurrentRole(), returnURL), http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/login.html", "Sign in", loginPageData{ReturnURL: returnURL})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	ws, ok := h.current(w, r)
	if !ok {
		return
	}

	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	data := loginPageData{Form: form, ReturnURL: r.PostFormValue(guard.ReturnParam)}
	if err := h.validator.Struct(form); err != nil {
		data.Errors = fieldErrors(err)
		h.render(w, r, http.StatusBadRequest, "pages/login.html", "Sign in", data)
		return
	}

	ident, err := ws.Store.Login(r.Context(), backend.Credentials{Email: form.Email, Password: form.Password})
	if err != nil {
		h.logger.Debug("login rejected", slog.Any("error", err))
		data.Errors = map[string]string{"general": backend.Detail(err, "Login failed. Please check your credentials.")}
		h.render(w, r, authFailureStatus(err), "pages/login.html", "Sign in", data)
		return
	}

	h.flash(r, shared.FlashSuccess, "Welcome back, "+ident.DisplayName()+".")
	http.Redirect(w, r, landing(ident.Role, data.ReturnURL), http.StatusSeeOther)
}

func (h *Handler) showSignup(w http.ResponseWriter, r *http.Request) {
	if ws, ok := h.authenticated(r); ok {
		http.Redirect(w, r, ws.CurrentRole().DashboardRoute(), http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/signup.html", "Create account", signupPageData{})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	ws, ok := h.current(w, r)
	if !ok {
		return
	}

	form := signupForm{
		Email:     strings.TrimSpace(r.PostFormValue("email")),
		Password:  r.PostFormValue("password"),
		FirstName: strings.TrimSpace(r.PostFormValue("firstName")),
		LastName:  strings.TrimSpace(r.PostFormValue("lastName")),
		Mobile:    strings.TrimSpace(r.PostFormValue("mobile")),
	}
	data := signupPageData{Form: form}
	if err := h.validator.Struct(form); err != nil {
		data.Errors = fieldErrors(err)
		h.render(w, r, http.StatusBadRequest, "pages/signup.html", "Create account", data)
		return
	}

	ident, err := ws.Store.Signup(r.Context(), backend.Registration{
		Email:     form.Email,
		Password:  form.Password,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Mobile:    form.Mobile,
	})
	if err != nil {
		data.Errors = map[string]string{"general": backend.Detail(err, "Signup failed. Please try again.")}
		h.render(w, r, authFailureStatus(err), "pages/signup.html", "Create account", data)
		return
	}

	h.flash(r, shared.FlashSuccess, "Welcome to GadgetCloud, "+ident.DisplayName()+".")
	http.Redirect(w, r, ident.Role.DashboardRoute(), http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	target := guard.LoginRoute
	if ws := workspaceOf(r); ws != nil {
		ws.Store.Logout(r.Context())
		if route := ws.TakeRedirect(); route != "" {
			target = route
		}
		h.workspaces.Drop(ws.ID)
	}
	h.sessionManager.Destroy(shared.SessionFromContext(r.Context()))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

type unauthorizedPageData struct {
	Back string
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request) {
	back := localReferer(r)
	if back == "" || back == guard.UnauthorizedRoute {
		back = guard.LoginRoute
		if ws, ok := h.authenticated(r); ok {
			back = ws.CurrentRole().DashboardRoute()
		}
	}
	h.render(w, r, http.StatusForbidden, "pages/unauthorized.html", "Access denied", unauthorizedPageData{Back: back})
}

func (h *Handler) dashboardRedirect(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	http.Redirect(w, r, ws.CurrentRole().DashboardRoute(), http.StatusSeeOther)
}

// landing picks the post-login destination: a local return target when
// present, else the role's dashboard.
func landing(role identity.Role, returnURL string) string {
	if guard.SafeReturn(returnURL) && !strings.HasPrefix(returnURL, guard.LoginRoute) {
		return returnURL
	}
	return role.DashboardRoute()
}

func authFailureStatus(err error) int {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return apiErr.Status
	}
	return http.StatusBadGateway
}
