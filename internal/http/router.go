package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/taxdesk/identityctx/internal/config"
	"github.com/taxdesk/identityctx/internal/http/features/contextflow"
	"github.com/taxdesk/identityctx/internal/http/features/memberships"
	"github.com/taxdesk/identityctx/internal/http/features/switchflow"
	"github.com/taxdesk/identityctx/internal/http/middleware"
	"github.com/taxdesk/identityctx/internal/httputil"
	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/identity"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger             *slog.Logger
	Creds              *credstore.Store
	Resolver           *identity.Resolver
	Switcher           *identity.Switcher
	Refresher          *identity.Refresher
	RateLimitConfig    config.RateLimitConfig
	SecurityHeaders    config.SecurityHeadersConfig
	MaxRequestBodySize int64
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	contextHandler := contextflow.NewHandler(cfg.Logger, cfg.Resolver)
	switchHandler := switchflow.NewHandler(cfg.Logger, cfg.Switcher, cfg.Refresher, cfg.Creds)
	membershipsHandler := memberships.NewHandler(cfg.Logger, cfg.Refresher, cfg.Creds)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(cfg.Creds))

		r.With(rateLimiters["read"]).Get("/v1/context", contextHandler.Get)
		r.Group(func(r chi.Router) {
			r.Use(rateLimiters["exchange"])
			r.Post("/v1/context", contextHandler.Begin)
			r.Post("/v1/context/role", contextHandler.SelectRole)
			r.Post("/v1/context/firm", contextHandler.SelectFirm)
		})

		r.With(rateLimiters["switch"]).Post("/v1/switch", switchHandler.Switch)
		r.With(rateLimiters["read"]).Get("/v1/memberships", membershipsHandler.List)
	})

	return r
}
