package workspace

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gadgetcloud/portal/internal/guard"
	"github.com/gadgetcloud/portal/internal/shared"
)

type contextKey struct{}

// NewContext stores ws in ctx.
func NewContext(ctx context.Context, ws *Workspace) context.Context {
	return context.WithValue(ctx, contextKey{}, ws)
}

// FromContext extracts the workspace attached by Attach.
func FromContext(ctx context.Context) *Workspace {
	ws, _ := ctx.Value(contextKey{}).(*Workspace)
	return ws
}

// Attach resolves the workspace of the request's cookie session. It must run
// after the cookie session middleware.
func (r *Registry) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := shared.SessionID(req.Context())
		if id == "" {
			next.ServeHTTP(w, req)
			return
		}
		ws, err := r.Get(req.Context(), id)
		if err != nil {
			r.logger.Error("attach workspace", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, req.WithContext(NewContext(req.Context(), ws)))
	})
}

// Resolve adapts the request workspace for the route authorizer.
func Resolve(req *http.Request) (guard.Navigator, bool) {
	ws := FromContext(req.Context())
	if ws == nil {
		return nil, false
	}
	return ws, true
}
