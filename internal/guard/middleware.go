package guard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gadgetcloud/portal/internal/permission"
)

// Navigator is a session as seen by the middleware.
type Navigator interface {
	Subject
	Evaluator() permission.Evaluator
	// RetryPermissions reloads a failed permission set before the decision.
	RetryPermissions(ctx context.Context)
}

// Resolver finds the navigating session for a request. ok is false when the
// request carries no session at all.
type Resolver func(r *http.Request) (Navigator, bool)

// Recorder counts decisions.
type Recorder interface {
	ObserveGuardDecision(outcome string)
}

// Middleware enforces a Table on every request it wraps.
type Middleware struct {
	Routes   Table
	Resolve  Resolver
	Logger   *slog.Logger
	Recorder Recorder
}

// Handler wraps next. Requests for paths without a rule pass through.
func (m Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule, ok := m.Routes.Match(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		nav, ok := m.Resolve(r)
		var decision Decision
		if !ok {
			decision = Decision{Outcome: RedirectLogin, Location: LoginLocation(r.URL.RequestURI())}
		} else {
			if nav.IsAuthenticated() {
				nav.RetryPermissions(r.Context())
			}
			decision = Decide(nav, nav.Evaluator(), rule, r.URL.RequestURI())
		}
		if m.Recorder != nil {
			m.Recorder.ObserveGuardDecision(decision.Outcome.String())
		}
		if decision.Allowed() {
			next.ServeHTTP(w, r)
			return
		}
		m.logger().Debug("navigation denied",
			slog.String("path", r.URL.Path),
			slog.String("pattern", rule.Pattern),
			slog.String("outcome", decision.Outcome.String()))
		http.Redirect(w, r, decision.Location, http.StatusSeeOther)
	})
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
