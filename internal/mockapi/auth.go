package mockapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gadgetcloud/portal/internal/backend"
	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/permission"
	"github.com/gadgetcloud/portal/internal/platform/httpx"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signupRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName"`
	Mobile    string `json:"mobile" validate:"omitempty,e164"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.store.Authenticate(req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.issue(w, r, http.StatusOK, user)
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.store.Register(backend.Registration{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Mobile:    req.Mobile,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.issue(w, r, http.StatusCreated, user)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, status int, user identity.Identity) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.JSON(w, status, backend.AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        &user,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.tokens.Revoke(authFrom(r.Context()).claims)
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

// rolePermissions serves a role's set to members of that role and to anyone
// allowed to view permissions.
func (s *Server) rolePermissions(w http.ResponseWriter, r *http.Request) {
	actor := authFrom(r.Context()).actor
	role, ok := identity.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		s.fail(w, r, httpx.Errorf(httpx.ErrNotFound, "Role not found"))
		return
	}
	if role != actor.Role && !s.store.Allows(actor.Role, permission.ResourcePermissions, permission.ActionView) {
		s.store.RecordDenied(actor, permission.CheckViewPermissions, r.URL.Path)
		s.fail(w, r, httpx.Errorf(httpx.ErrForbidden, "Insufficient permissions"))
		return
	}
	set, ok := s.store.Permissions(role)
	if !ok {
		s.fail(w, r, httpx.Errorf(httpx.ErrNotFound, "Role not found"))
		return
	}
	httpx.JSON(w, http.StatusOK, set)
}
