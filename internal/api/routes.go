package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/api/handlers"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/api/middleware"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/config"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/services"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/pkg/metrics"
)

type Router struct {
	engine           *gin.Engine
	logger           *zap.Logger
	metrics          *metrics.MetricsCollector
	authHandler      *handlers.AuthHandler
	userHandler      *handlers.UserHandler
	apiKeyHandler    *handlers.APIKeyHandler
	inviteHandler    *handlers.InviteHandler
	twoFactorHandler *handlers.TwoFactorHandler
	authMiddleware   *middleware.AuthMiddleware
	reqMiddleware    *middleware.RequestMiddleware
}

func NewRouter(
	cfg *config.Configuration,
	logger *zap.Logger,
	metricsCollector *metrics.MetricsCollector,
	sessions *services.SessionService,
	apiKeys *services.APIKeyService,
	invites *services.InviteService,
	twoFactor *services.TwoFactorService,
	db *gorm.DB,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	reqMiddleware := middleware.NewRequestMiddleware(logger, cfg.Security.MaxFailedAttempts)
	authMiddleware := middleware.NewAuthMiddleware(sessions, apiKeys, logger)

	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())
	engine.Use(reqMiddleware.LoginAttemptMiddleware())

	return &Router{
		engine:           engine,
		logger:           logger,
		metrics:          metricsCollector,
		authHandler:      handlers.NewAuthHandler(sessions, twoFactor, invites, cfg.Security, db, logger),
		userHandler:      handlers.NewUserHandler(db, logger),
		apiKeyHandler:    handlers.NewAPIKeyHandler(apiKeys, logger),
		inviteHandler:    handlers.NewInviteHandler(invites, logger),
		twoFactorHandler: handlers.NewTwoFactorHandler(twoFactor, db, logger),
		authMiddleware:   authMiddleware,
		reqMiddleware:    reqMiddleware,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "chronochimp"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
		})
	})

	api := r.engine.Group("/api")

	api.POST("/auth/login", r.authHandler.Login)
	api.POST("/auth/logout", r.authHandler.Logout)
	api.POST("/auth/invites/accept", r.authHandler.AcceptInvite)

	authorized := api.Group("")
	authorized.Use(r.authMiddleware.RequireAuth())
	{
		authorized.GET("/auth/session", r.authHandler.Session)

		authorized.GET("/users/me", r.userHandler.Me)
		authorized.PATCH("/users/me", r.userHandler.UpdateMe)

		authorized.POST("/users/me/2fa/setup", r.twoFactorHandler.Setup)
		authorized.POST("/users/me/2fa/verify", r.twoFactorHandler.Verify)
		authorized.POST("/users/me/2fa/disable", r.twoFactorHandler.Disable)

		authorized.GET("/api-keys", r.apiKeyHandler.List)
		authorized.POST("/api-keys", r.apiKeyHandler.Create)
		authorized.DELETE("/api-keys/:id", r.apiKeyHandler.Revoke)
	}

	admin := authorized.Group("/admin")
	admin.Use(r.authMiddleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/users", r.userHandler.ListUsers)
		admin.PATCH("/users/:id", r.userHandler.UpdateUser)
		admin.DELETE("/users/:id", r.userHandler.DeleteUser)

		admin.GET("/invites", r.inviteHandler.List)
		admin.POST("/invites", r.inviteHandler.Create)
		admin.DELETE("/invites/:id", r.inviteHandler.Revoke)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
