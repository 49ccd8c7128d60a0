package portal

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/guard"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/shared"
	"github.com/gadgetcloud/portal/internal/workspace"
)

type userFilter struct {
	Search string
	Role   identity.Role
	Status backend.UserStatus
}

type usersPageData struct {
	Users    []backend.ManagedUser
	Filter   userFilter
	Page     shared.Pagination
	Roles    []identity.Role
	Statuses []backend.UserStatus
	PrevURL  string
	NextURL  string
}

type userDetailData struct {
	User    *backend.ManagedUser
	History []backend.AuditLog
}

type roleChangeForm struct {
	Role   string `validate:"required,oneof=customer partner support admin"`
	Reason string `validate:"required,min=3,max=500"`
}

type statusChangeForm struct {
	Reason string `validate:"omitempty,max=500"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := userFilter{Search: strings.TrimSpace(q.Get("search"))}
	if role, ok := identity.ParseRole(q.Get("role")); ok {
		filter.Role = role
	}
	switch status := backend.UserStatus(q.Get("status")); status {
	case backend.StatusActive, backend.StatusInactive, backend.StatusSuspended:
		filter.Status = status
	}
	paging := shared.NewPagination(shared.PageFromQuery(q), h.pageSize, 0)

	list, err := ws.Client.ListUsers(r.Context(), backend.UserQuery{
		Limit:     paging.PerPage,
		Offset:    paging.Offset(),
		Role:      filter.Role,
		Status:    filter.Status,
		Search:    filter.Search,
		SortBy:    "createdAt",
		SortOrder: "desc",
	})
	if err != nil {
		h.backendFailure(w, r, ws, err)
		return
	}

	paging = shared.NewPagination(paging.Page, paging.PerPage, list.Total)
	data := usersPageData{
		Users:    list.Users,
		Filter:   filter,
		Page:     paging,
		Roles:    identity.Roles(),
		Statuses: []backend.UserStatus{backend.StatusActive, backend.StatusInactive, backend.StatusSuspended},
	}
	if paging.HasPrev() {
		data.PrevURL = shared.PageURL(r.URL, paging.Page-1)
	}
	if paging.HasNext() {
		data.NextURL = shared.PageURL(r.URL, paging.Page+1)
	}
	h.render(w, r, http.StatusOK, "pages/users.html", "User Management", data)
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	user, err := ws.Client.GetUser(r.Context(), id)
	if err != nil {
		h.backendFailure(w, r, ws, err)
		return
	}
	data := userDetailData{User: user, History: user.AuditHistory}
	if ws.Evaluator().CanViewAuditLogs() {
		history, err := ws.Client.UserAuditHistory(r.Context(), id, backend.HistoryQuery{Limit: 50})
		if err != nil {
			h.backendFailure(w, r, ws, err)
			return
		}
		data.History = history
	}
	h.render(w, r, http.StatusOK, "pages/user_detail.html", user.DisplayName(), data)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	if !ws.Evaluator().CanChangeRoles() {
		http.Redirect(w, r, guard.UnauthorizedRoute, http.StatusSeeOther)
		return
	}
	form := roleChangeForm{
		Role:   strings.TrimSpace(r.PostFormValue("role")),
		Reason: strings.TrimSpace(r.PostFormValue("reason")),
	}
	if err := h.validator.Struct(form); err != nil {
		h.flash(r, shared.FlashError, formProblem(err))
		h.backToUsers(w, r)
		return
	}

	updated, err := ws.Client.ChangeUserRole(r.Context(), chi.URLParam(r, "id"), backend.ChangeRoleRequest{
		NewRole: identity.Role(form.Role),
		Reason:  form.Reason,
	})
	if err != nil {
		if h.userActionRejected(w, r, ws, err) {
			return
		}
		h.backendFailure(w, r, ws, err)
		return
	}
	h.syncSelf(r, ws, updated)
	h.flash(r, shared.FlashSuccess, updated.Email+" is now "+updated.Role.Label()+".")
	h.backToUsers(w, r)
}

func (h *Handler) deactivateUser(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, func(ws *workspace.Workspace, id, reason string) (*backend.ManagedUser, error) {
		return ws.Client.DeactivateUser(r.Context(), id, reason)
	}, "deactivated")
}

func (h *Handler) reactivateUser(w http.ResponseWriter, r *http.Request) {
	h.changeStatus(w, r, func(ws *workspace.Workspace, id, reason string) (*backend.ManagedUser, error) {
		return ws.Client.ReactivateUser(r.Context(), id, reason)
	}, "reactivated")
}

type statusCall func(ws *workspace.Workspace, id, reason string) (*backend.ManagedUser, error)

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, call statusCall, verb string) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	if !ws.Evaluator().CanDeactivateUsers() {
		http.Redirect(w, r, guard.UnauthorizedRoute, http.StatusSeeOther)
		return
	}
	form := statusChangeForm{Reason: strings.TrimSpace(r.PostFormValue("reason"))}
	if err := h.validator.Struct(form); err != nil {
		h.flash(r, shared.FlashError, formProblem(err))
		h.backToUsers(w, r)
		return
	}
	updated, err := call(ws, chi.URLParam(r, "id"), form.Reason)
	if err != nil {
		if h.userActionRejected(w, r, ws, err) {
			return
		}
		h.backendFailure(w, r, ws, err)
		return
	}
	h.flash(r, shared.FlashSuccess, updated.Email+" was "+verb+".")
	h.backToUsers(w, r)
}

// userActionRejected turns a 4xx validation answer from the backend into a
// flash message.
func (h *Handler) userActionRejected(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace, err error) bool {
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		h.flash(r, shared.FlashError, backend.Detail(err, "The change was rejected."))
		h.backToUsers(w, r)
		return true
	}
	return false
}

// syncSelf refreshes the session identity when an admin changed their own
// account.
func (h *Handler) syncSelf(r *http.Request, ws *workspace.Workspace, updated *backend.ManagedUser) {
	self := ws.Store.Identity()
	if self == nil || updated == nil || self.ID != updated.ID {
		return
	}
	ident := updated.Identity
	if err := ws.Store.Update(r.Context(), &ident); err != nil {
		h.logger.Warn("refresh own identity", slog.Any("error", err))
	}
}

func (h *Handler) backToUsers(w http.ResponseWriter, r *http.Request) {
	target := localReferer(r)
	if !strings.HasPrefix(target, "/admin/users") {
		target = "/admin/users"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func formProblem(err error) string {
	msgs := fieldErrors(err)
	parts := make([]string, 0, len(msgs))
	for field, msg := range msgs {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
