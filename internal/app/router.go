package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gadgetcloud/portal/internal/guard"
	"github.com/gadgetcloud/portal/internal/observability"
	"github.com/gadgetcloud/portal/internal/portal"
	"github.com/gadgetcloud/portal/internal/shared"
	"github.com/gadgetcloud/portal/internal/workspace"
	"github.com/gadgetcloud/portal/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Workspaces     *workspace.Registry
	PortalHandler  *portal.Handler
	Metrics        *observability.Metrics
	// Routes overrides the route authorizer table.
	Routes *guard.Table
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := web.StaticFS()
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	routes := guard.PortalRoutes()
	if params.Routes != nil {
		routes = *params.Routes
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			CSRFManager:    params.CSRFManager,
			Metrics:        params.Metrics,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)
		r.Use(params.Workspaces.Attach)
		r.Use(guard.Middleware{
			Routes:   routes,
			Resolve:  workspace.Resolve,
			Logger:   params.Logger,
			Recorder: params.Metrics,
		}.Handler)

		params.PortalHandler.MountRoutes(r)
	})

	return r
}

// staticCacheHandler caches static assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
