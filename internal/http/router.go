package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ksavchuk/contacthub/internal/auth"
	"github.com/ksavchuk/contacthub/internal/avatars"
	"github.com/ksavchuk/contacthub/internal/cache"
	"github.com/ksavchuk/contacthub/internal/config"
	"github.com/ksavchuk/contacthub/internal/http/handlers"
	"github.com/ksavchuk/contacthub/internal/http/middlewares"
	"github.com/ksavchuk/contacthub/internal/observability"
	"github.com/ksavchuk/contacthub/internal/repo/postgres"
)

const (
	maxJSONBodyBytes   = 1 << 20 // JSON routes
	maxAvatarBodyBytes = 5 << 20 // multipart avatar upload
)

func NewRouter(cfg config.Config, pool *pgxpool.Pool, rdb *redis.Client) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	}

	r.Use(otelgin.Middleware("contacthub"))

	// metrics
	registry := prometheus.NewRegistry()
	prom := observability.NewProm(registry)
	r.Use(prom.GinHandleMiddleware())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// health
	ping := func(ctx context.Context) error {
		if pool == nil {
			return nil
		}

		return pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	// uploaded avatars are public static files
	r.Static("/avatars", cfg.AvatarDir)

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(pool, prom)
	contactsRepo := postgres.NewContactsRepo(pool, prom)
	jobsRepo := postgres.NewJobsRepo(pool, prom)

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.SessionTTL())
	avatarStorage := avatars.NewStorage(cfg.AvatarDir)
	contactCache := cache.New(5 * time.Second)

	authHandler := handlers.NewAuthHandler(usersRepo, jobsRepo, jwtManager, avatarStorage)
	contactsHandler := handlers.NewContactsHandler(contactsRepo, contactCache)

	authMw := middlewares.NewAuthMiddleware(jwtManager, usersRepo)
	authLimiter := middlewares.NewRateLimiter(
		cfg.AuthRateLimit,
		time.Duration(cfg.AuthRateWindowSecs)*time.Second,
		rdb,
	)

	api := r.Group("/api")

	// public auth routes, rate limited by IP
	authPublic := api.Group("/auth")
	authPublic.Use(middlewares.MaxBodyBytes(maxJSONBodyBytes))
	authPublic.Use(authLimiter.RateLimiterMiddleware(middlewares.KeyByIP))
	{
		authPublic.POST("/register", middlewares.RequireJSON(), authHandler.Register)
		authPublic.POST("/login", middlewares.RequireJSON(), authHandler.Login)
		authPublic.GET("/verify/:verificationCode", authHandler.VerifyEmail)
		authPublic.POST("/verify", middlewares.RequireJSON(), authHandler.ResendVerifyEmail)
	}

	// session-bound auth routes
	authPrivate := api.Group("/auth")
	authPrivate.Use(authMw.RequireAuth())
	{
		authPrivate.GET("/current", authHandler.Current)
		authPrivate.POST("/logout", authHandler.Logout)
		authPrivate.PATCH("", middlewares.MaxBodyBytes(maxJSONBodyBytes), middlewares.RequireJSON(), authHandler.UpdateSubscription)
		// multipart, so no RequireJSON and a larger body cap
		authPrivate.PATCH("/avatar", middlewares.MaxBodyBytes(maxAvatarBodyBytes), authHandler.UpdateAvatar)
	}

	contacts := api.Group("/contacts")
	contacts.Use(middlewares.MaxBodyBytes(maxJSONBodyBytes))
	contacts.Use(authMw.RequireAuth())
	{
		contacts.GET("", contactsHandler.List)
		contacts.POST("", middlewares.RequireJSON(), contactsHandler.Create)
		contacts.GET("/:contactId", contactsHandler.Get)
		contacts.PUT("/:contactId", middlewares.RequireJSON(), contactsHandler.Update)
		contacts.PATCH("/:contactId/favorite", middlewares.RequireJSON(), contactsHandler.UpdateFavorite)
		contacts.DELETE("/:contactId", contactsHandler.Delete)
	}

	return r
}
