package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/curibio/cloud-core/internal/accounts"
	"github.com/curibio/cloud-core/internal/api/handlers"
	"github.com/curibio/cloud-core/internal/api/middleware"
	"github.com/curibio/cloud-core/internal/audit"
	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/cache"
	"github.com/curibio/cloud-core/internal/config"
	"github.com/curibio/cloud-core/internal/queue"
	"github.com/curibio/cloud-core/internal/scopes"
	"github.com/curibio/cloud-core/internal/storage"
	"github.com/curibio/cloud-core/internal/usage"
	"github.com/curibio/cloud-core/internal/versions"
	"github.com/curibio/cloud-core/internal/webhook"
)

type Router struct {
	mux    *chi.Mux
	db     *pgxpool.Pool
	redis  *redis.Client
	cfg    *config.Config
	store  storage.Storage
	tokens *auth.TokenService
	mw     *auth.Middleware
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, store storage.Storage, cfg *config.Config) *Router {
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	return &Router{
		mux:    chi.NewRouter(),
		db:     db,
		redis:  rdb,
		cfg:    cfg,
		store:  store,
		tokens: tokens,
		mw:     auth.NewMiddleware(tokens),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{rt.cfg.Auth.DashboardURL}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Initialize services
	accountsSvc := accounts.NewService(rt.db, rt.tokens)
	queueSvc := queue.NewService(rt.db)
	usageSvc := usage.NewService(rt.db)
	versionsSvc := versions.NewService(rt.db, cache.NewCache(rt.redis))
	auditSvc := audit.NewService(rt.db)
	webhookSvc := webhook.NewService(rt.db, webhook.NewDispatcher(rt.db))

	accountsH := handlers.NewAccountsHandler(accountsSvc, auditSvc)
	webhooksH := handlers.NewWebhooksHandler(webhookSvc)
	uploadsH := handlers.NewUploadsHandler(queueSvc, usageSvc, rt.store, rt.cfg.Buckets.Uploads)
	jobsH := handlers.NewJobsHandler(queueSvc, usageSvc, versionsSvc, rt.store, rt.cfg.Buckets.Uploads)
	usageH := handlers.NewUsageHandler(usageSvc)
	versionsH := handlers.NewVersionsHandler(versionsSvc)

	anyRead := rt.mw.ProtectedTag(scopes.TagPulse3DRead, scopes.TagAdvancedAnalysisRead, scopes.TagAdmin)
	anyWrite := rt.mw.ProtectedTag(scopes.TagPulse3DWrite)
	adminOnly := rt.mw.ProtectedTag(scopes.TagAdmin)

	r.Route("/users", func(r chi.Router) {
		r.Post("/login", accountsH.Login)
		r.With(rt.mw.ProtectedAny(scopes.Refresh)).Post("/refresh", accountsH.Refresh)
		r.With(rt.mw.ProtectedAny(scopes.Refresh)).Post("/logout", accountsH.Logout)
		r.With(adminOnly).Post("/register", accountsH.Register)
		r.With(rt.mw.ProtectedAny(scopes.UserVerify, scopes.AdminVerify)).Put("/verify", accountsH.Verify)
		r.Post("/reset", accountsH.RequestReset)
		r.With(rt.mw.ProtectedAny(scopes.UserReset, scopes.AdminReset)).Put("/password", accountsH.ResetPassword)
		r.With(anyRead).Get("/scopes", accountsH.GetScopes)
		r.With(adminOnly).Get("/", accountsH.ListUsers)
		r.With(adminOnly).Put("/{user_id}/scopes", accountsH.SetUserScopes)
	})

	r.Route("/customers", func(r chi.Router) {
		r.With(rt.mw.ProtectedAny(scopes.CuriAdmin)).Put("/{customer_id}/scopes", accountsH.SetAdminScopes)
	})

	r.Route("/uploads", func(r chi.Router) {
		r.With(anyWrite).Post("/", uploadsH.Create)
		r.With(anyRead).Get("/", uploadsH.List)
		r.With(anyRead).Get("/download", uploadsH.Download)
		r.With(anyWrite).Delete("/", uploadsH.Delete)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.With(anyWrite).Post("/", jobsH.Create)
		r.With(rt.mw.ProtectedAny(scopes.AdvancedAnalysisBase)).Post("/advanced", jobsH.CreateAdvancedAnalysis)
		r.With(anyRead).Get("/", jobsH.List)
		r.With(anyRead).Get("/download", jobsH.Download)
		r.With(anyWrite).Delete("/", jobsH.Delete)
	})

	r.With(anyRead).Get("/usage", usageH.Get)

	r.With(adminOnly).Get("/audit", accountsH.AuditLogs)

	r.Route("/webhooks", func(r chi.Router) {
		r.With(adminOnly).Post("/", webhooksH.Create)
		r.With(adminOnly).Get("/", webhooksH.List)
		r.With(adminOnly).Delete("/{webhook_id}", webhooksH.Delete)
	})

	r.Route("/versions", func(r chi.Router) {
		r.With(anyRead).Get("/{product}", versionsH.List)
		r.With(rt.mw.ProtectedAny(scopes.CuriAdmin)).Put("/{product}/{version}", versionsH.SetState)
	})

	return r
}
