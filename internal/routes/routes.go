package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/AnshRaj112/appshelf-backend/internal/handlers"
	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/middleware"
)

// RouterConfig carries what the middleware stack needs besides the handler.
type RouterConfig struct {
	AllowedOrigins []string
	AllowedHost    string // empty skips the host check
	Production     bool
	Principals     middleware.Principals
	Metrics        *middleware.Metrics
	// AuthLimit guards the sign-in routes. Nil uses the in-process limiter.
	AuthLimit func(http.Handler) http.Handler
	Logger    logger.Logger
}

// NewRouter builds the router with the global middleware stack and every route.
func NewRouter(cfg RouterConfig, h *handlers.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	if cfg.Production {
		r.Use(middleware.HostCheck(cfg.AllowedHost))
		r.Use(middleware.GlobalRateLimit())
	}

	// Health check and metrics (no auth)
	r.Get("/health", h.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	authLimit := cfg.AuthLimit
	if authLimit == nil {
		authLimit = middleware.LoginRateLimit()
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(h.Sessions, cfg.Principals, cfg.Logger))
		SetupRoutes(r, h, authLimit)
	})
	return r
}

// SetupRoutes registers the API. r must already run middleware.Authenticate.
func SetupRoutes(r chi.Router, h *handlers.Handler, authLimit func(http.Handler) http.Handler) {
	// Auth routes
	r.Group(func(r chi.Router) {
		r.Use(authLimit)
		r.Post("/api/auth/anonymous", h.AnonymousSignin)
		r.Post("/api/auth/firebase", h.FirebaseSignin)
		r.Post("/api/auth/signup", h.UserSignup)
		r.Post("/api/auth/signin", h.UserSignin)
	})
	r.Post("/api/auth/signout", h.Signout)
	r.With(middleware.RequireSession).Get("/api/auth/me", h.Me)

	// Catalog views: own catalog for members, public snapshot otherwise
	r.Get("/api/catalog/{view}", h.CatalogView)

	// Shared (published) catalogs, read-only
	r.Get("/api/share/{userId}/{shareId}/search", h.SharedSearch)
	r.Get("/api/share/{userId}/{shareId}/{view}", h.SharedView)
	r.Get("/api/apps/share/{userId}/{publishId}/{view}", h.SharedView)

	// Signed-in routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession)

		r.Get("/api/apps/search", h.SearchApps)
		r.Get("/api/apps/{view}", h.CatalogView)
		r.Post("/api/apps", h.AddApp)
		r.Patch("/api/apps/{toolID}", h.UpdateApp)
		r.Delete("/api/apps/{toolID}", h.DeleteApp)
	})

	// Edit mode (anonymous visitors get the sign-in outcome)
	r.Get("/api/edit-mode", h.EditModeState)
	r.Delete("/api/edit-mode", h.ExitEditMode)
	r.Post("/api/edit-mode/request", h.RequestEditMode)
	r.Post("/api/edit-mode/confirm", h.ConfirmEditMode)

	// Member-only routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireMember)

		r.Post("/api/share/publish", h.PublishCatalog)
		r.Post("/api/share/unpublish", h.UnpublishCatalog)
		r.Get("/api/share/status", h.ShareStatus)
		r.Post("/api/uploads/icon", h.UploadIcon)
		r.Get("/ws/catalog", h.CatalogStream)
	})
}
