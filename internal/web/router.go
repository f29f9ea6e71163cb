package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/castellan/console/internal/guard"
)

// RouterConfig carries the route-level knobs NewRouter needs.
type RouterConfig struct {
	// AdminRoles gates the user and tenant management routes.
	AdminRoles []string
}

// NewRouter assembles the console's full route surface. The guarded subtree
// wraps every authenticated page; the role-gated subtree nests inside it, so
// RequireRole can assume authentication already holds.
func NewRouter(h *Handler, g *guard.Guard, apiProxy http.Handler, cfg RouterConfig, logger hclog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/", h.landing)
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/auth/signin", h.flow.SignInHandler())
	r.Get("/auth/signin-callback", h.flow.CallbackHandler(h.callbackSuccess, h.callbackError))
	r.Post("/auth/signin-callback", h.flow.CallbackHandler(h.callbackSuccess, h.callbackError))
	r.Get("/auth/signout", h.flow.SignOutHandler())

	r.Group(func(r chi.Router) {
		r.Use(g.RequireAuth)

		r.Get("/dashboard", h.page("Dashboard", "dashboard"))
		r.Get("/applications", h.page("Applications", "applications"))
		r.Get("/scopes", h.page("Scopes", "scopes"))
		r.Get("/profile", h.profile)

		r.Group(func(r chi.Router) {
			r.Use(g.RequireRole(cfg.AdminRoles, guard.WithDeniedHandler(http.HandlerFunc(h.denied))))
			r.Get("/users", h.page("Users", "users"))
			r.Get("/tenants", h.page("Tenants", "tenants"))
		})

		if apiProxy != nil {
			r.Handle("/api/*", apiProxy)
		}
	})

	return r
}

// requestLogger logs one line per request at debug level; errors surface
// through their handlers, not here.
func requestLogger(logger hclog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}
