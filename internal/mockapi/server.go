package mockapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/gadgetcloud/portal/internal/permission"
	"github.com/gadgetcloud/portal/internal/platform/httpx"
)

type actorKey struct{}

// Server exposes the Store over the REST contract the portal consumes.
type Server struct {
	store    *Store
	tokens   *Tokens
	logger   *slog.Logger
	validate *validator.Validate
}

// NewServer wires the mock API.
func NewServer(store *Store, tokens *Tokens, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Server{store: store, tokens: tokens, logger: logger, validate: validate}
}

// Handler returns the router with every route mounted under prefix.
func (s *Server) Handler(prefix string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if prefix == "" {
		s.MountRoutes(r)
		return r
	}
	r.Route(prefix, s.MountRoutes)
	return r
}

// MountRoutes registers the API on r.
func (s *Server) MountRoutes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/auth/login", s.login)
	r.Post("/auth/signup", s.signup)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/auth/logout", s.logout)
		r.Get("/admin/permissions/{role}", s.rolePermissions)

		r.With(s.require(permission.CheckViewUsers)).Get("/admin/users", s.listUsers)
		r.With(s.require(permission.CheckViewUsers)).Get("/admin/users/statistics", s.userStatistics)
		r.With(s.require(permission.CheckViewUsers)).Get("/admin/users/{id}", s.getUser)
		r.With(s.require(permission.CheckChangeRoles)).Put("/admin/users/{id}/role", s.changeRole)
		r.With(s.require(permission.CheckDeactivateUsers)).Put("/admin/users/{id}/deactivate", s.deactivate)
		r.With(s.require(permission.CheckDeactivateUsers)).Put("/admin/users/{id}/reactivate", s.reactivate)

		r.Group(func(r chi.Router) {
			r.Use(s.require(permission.CheckViewAuditLogs))
			r.Get("/admin/audit-logs", s.auditLogs)
			r.Get("/admin/audit-logs/recent", s.recentAuditLogs)
			r.Get("/admin/audit-logs/statistics", s.auditStatistics)
			r.Get("/admin/audit-logs/user/{id}", s.userAuditHistory)
		})
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r)
		if !ok {
			s.fail(w, r, httpx.Errorf(httpx.ErrUnauthorized, "Not authenticated"))
			return
		}
		claims, err := s.tokens.Verify(raw)
		if err != nil {
			s.logger.Debug("mockapi: token rejected", slog.Any("error", err))
			s.fail(w, r, httpx.Errorf(httpx.ErrUnauthorized, "Could not validate credentials"))
			return
		}
		current, ok := s.store.Active(claims.Subject)
		if !ok {
			s.fail(w, r, httpx.Errorf(httpx.ErrUnauthorized, "Could not validate credentials"))
			return
		}
		actor := Actor{ID: current.ID, Email: current.Email, Role: current.Role}
		ctx := context.WithValue(r.Context(), actorKey{}, authContext{actor: actor, claims: claims})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type authContext struct {
	actor  Actor
	claims *Claims
}

func authFrom(ctx context.Context) authContext {
	ac, _ := ctx.Value(actorKey{}).(authContext)
	return ac
}

// require rejects callers whose current role lacks check. Denials are
// audited.
func (s *Server) require(check permission.Check) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := authFrom(r.Context()).actor
			if !s.store.Allows(actor.Role, check.Resource, check.Action) {
				s.store.RecordDenied(actor, check, r.URL.Path)
				s.fail(w, r, httpx.Errorf(httpx.ErrForbidden, "Insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// fail writes err as a problem response using the FastAPI "detail" field,
// logging only unexpected errors.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var detailed *httpx.DetailError
	if !errors.As(err, &detailed) {
		s.logger.Error("mockapi: request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	httpx.RespondError(w, err)
}

func (s *Server) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := s.validate.Struct(target); err != nil {
		return validationProblem(err)
	}
	return nil
}

func validationProblem(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return httpx.Errorf(httpx.ErrValidation, "invalid request")
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fieldProblem(fe))
	}
	return httpx.Errorf(httpx.ErrValidation, strings.Join(parts, "; "))
}

func fieldProblem(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "e164":
		return field + " must be an E.164 phone number"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	default:
		return field + " is invalid"
	}
}
