package app

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	audithttp "github.com/filingdesk/filingdesk/internal/audit/http"
	"github.com/filingdesk/filingdesk/internal/auth"
	"github.com/filingdesk/filingdesk/internal/filings"
	"github.com/filingdesk/filingdesk/internal/observability"
	"github.com/filingdesk/filingdesk/internal/platform/httpx"
	"github.com/filingdesk/filingdesk/internal/rbac"
	"github.com/filingdesk/filingdesk/internal/shared"
	"github.com/filingdesk/filingdesk/internal/users"
	"github.com/filingdesk/filingdesk/web"
)

// authAttemptsPerMinute bounds credential and signup posts per client IP.
const authAttemptsPerMinute = 10

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	AuthService    *auth.Service
	AuthHandler    *auth.Handler
	UsersHandler   *users.Handler
	FilingsHandler *filings.Handler
	AuditHandler   *audithttp.Handler
	DashboardPages *filings.PagesHandler
	AdminPages     *filings.PagesHandler
	Database       Pinger
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with every route mounted.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(auth.PrincipalMiddleware(params.AuthService, params.Logger))

	r.Get("/healthz", healthHandler(params.Database, params.Logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	authLimiter := httprate.Limit(authAttemptsPerMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Too many attempts, please wait a minute.", http.StatusTooManyRequests)
		}),
	)

	params.AuthHandler.Throttle(authLimiter)

	r.Route("/api", func(api chi.Router) {
		api.Use(chimw.AllowContentType("application/json"))
		api.Use(chimw.NoCache)

		apiGate := rbac.Middleware{Logger: params.Logger, Deny: rbac.DenyProblem}
		api.With(authLimiter).Route("/users", params.UsersHandler.MountRoutes)
		api.Route("/auth", params.AuthHandler.MountAPIRoutes)
		api.With(apiGate.RequirePrincipal()).Route("/filings", params.FilingsHandler.MountRoutes)
		api.With(apiGate.RequireRole(shared.RoleAdmin)).Route("/admin/filings", params.FilingsHandler.MountAdminRoutes)
		if params.AuditHandler != nil {
			api.With(apiGate.RequireRole(shared.RoleAdmin)).Route("/admin/audit", params.AuditHandler.MountRoutes)
		}
		api.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			httpx.RespondError(w, httpx.ErrNotFound)
		})
	})

	r.Group(func(html chi.Router) {
		html.Use(CSRFMiddleware(params.CSRFManager, params.Logger))
		pageGate := rbac.Middleware{Logger: params.Logger, Deny: rbac.DenyPage}

		html.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, auth.HomePath(shared.PrincipalFromContext(r.Context())), http.StatusSeeOther)
		})
		html.Route("/auth", params.AuthHandler.MountRoutes)
		html.With(pageGate.RequirePrincipal()).Route("/dashboard", params.DashboardPages.MountRoutes)
		html.With(pageGate.RequireRole(shared.RoleAdmin)).Route("/admin", params.AdminPages.MountRoutes)
	})

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

func healthHandler(db Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				logger.WarnContext(r.Context(), "health check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// staticCacheHandler caches embedded assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
