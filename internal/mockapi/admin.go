package mockapi

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/platform/httpx"
)

type roleRequest struct {
	NewRole string `json:"newRole" validate:"required,oneof=customer partner support admin"`
	Reason  string `json:"reason" validate:"required"`
}

type statusRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := paging(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	query := backend.UserQuery{
		Limit:     limit,
		Offset:    offset,
		Status:    backend.UserStatus(q.Get("status")),
		Search:    q.Get("search"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	if raw := q.Get("role"); raw != "" {
		role, ok := identity.ParseRole(raw)
		if !ok {
			s.fail(w, r, httpx.Errorf(httpx.ErrValidation, "role must be one of: customer partner support admin"))
			return
		}
		query.Role = role
	}
	httpx.JSON(w, http.StatusOK, s.store.ListUsers(query))
}

func (s *Server) userStatistics(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, s.store.UserStatistics())
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.User(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (s *Server) changeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	role, _ := identity.ParseRole(req.NewRole)
	user, err := s.store.ChangeRole(authFrom(r.Context()).actor, chi.URLParam(r, "id"), role, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (s *Server) deactivate(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, backend.StatusInactive)
}

func (s *Server) reactivate(w http.ResponseWriter, r *http.Request) {
	s.setStatus(w, r, backend.StatusActive)
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request, status backend.UserStatus) {
	var req statusRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.store.SetStatus(authFrom(r.Context()).actor, chi.URLParam(r, "id"), status, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (s *Server) auditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := paging(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, s.store.AuditLogs(backend.AuditQuery{
		Limit:     limit,
		Offset:    offset,
		EventType: backend.AuditEventType(q.Get("event_type")),
		ActorID:   q.Get("actor_id"),
		TargetID:  q.Get("target_id"),
	}))
}

func (s *Server) recentAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, _, err := paging(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if limit == 0 {
		limit = 20
	}
	httpx.JSON(w, http.StatusOK, s.store.AuditLogs(backend.AuditQuery{Limit: limit}))
}

func (s *Server) auditStatistics(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, s.store.AuditStatistics())
}

func (s *Server) userAuditHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _, err := paging(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asActor, err := flag(q, "include_as_actor")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asTarget, err := flag(q, "include_as_target")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, s.store.UserHistory(chi.URLParam(r, "id"), limit, asActor, asTarget))
}

func paging(q url.Values) (limit, offset int, err error) {
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return 0, 0, httpx.Errorf(httpx.ErrValidation, "limit must be a non-negative integer")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, httpx.Errorf(httpx.ErrValidation, "offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// flag parses an optional boolean query parameter that defaults to true.
func flag(q url.Values, name string) (bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return true, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, httpx.Errorf(httpx.ErrValidation, name+" must be a boolean")
	}
	return v, nil
}
