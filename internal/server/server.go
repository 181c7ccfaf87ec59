// Package server assembles the gin router for the API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "subtrack/internal/docs" // swagger docs
	"subtrack/internal/handlers"
	"subtrack/internal/logger"
	"subtrack/internal/middleware"
	"subtrack/internal/services"
)

const healthTimeout = 2 * time.Second

// Pinger checks backing store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	DB             Pinger
	Users          services.UserServicer
	Subscriptions  services.SubscriptionServicer
	Alerts         services.AlertServicer
	AISettings     services.AISettingsServicer
	AI             services.AIServicer
	Audit          services.AuditServicer
	Runner         handlers.AlertRunner
	PipelineAPIKey string
	AIRateLimit    int // requests per minute per user
	AIRateBurst    int
}

// NewRouter builds the API router.
func NewRouter(d Deps) *gin.Engine {
	authHandler := handlers.NewAuthHandler(d.Users, d.Audit)
	subscriptionHandler := handlers.NewSubscriptionHandler(d.Subscriptions, d.Audit)
	alertHandler := handlers.NewAlertHandler(d.Alerts, d.Runner, d.Audit)
	adminHandler := handlers.NewAdminHandler(d.AISettings, d.AI, d.Audit)
	aiHandler := handlers.NewAIHandler(d.AI)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogging())
	router.Use(middleware.ErrorHandler())
	router.Use(cors())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/api/health", health(d.DB))

	v1 := router.Group("/api/v1")

	// Public routes
	auth := v1.Group("/auth")
	auth.GET("/setup", authHandler.SetupStatus)
	auth.POST("/setup", authHandler.Setup)
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.RefreshToken)

	// Pipeline routes authenticate with X-API-Key instead of a user token.
	pipeline := v1.Group("/pipeline", middleware.PipelineAuthMiddleware(d.PipelineAPIKey))
	pipeline.GET("/alerts/due", alertHandler.GetDue)

	// Protected routes
	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware())

	protected.GET("/profile", authHandler.GetProfile)
	protected.GET("/dashboard", subscriptionHandler.GetDashboard)
	protected.GET("/alerts/upcoming", alertHandler.GetUpcoming)

	subscriptions := protected.Group("/subscriptions")
	subscriptions.GET("", subscriptionHandler.GetSubscriptions)
	subscriptions.POST("", subscriptionHandler.CreateSubscription)
	subscriptions.GET("/export", subscriptionHandler.ExportSubscriptions)
	subscriptions.GET("/:id", subscriptionHandler.GetSubscriptionByID)
	subscriptions.PUT("/:id", subscriptionHandler.UpdateSubscription)
	subscriptions.DELETE("/:id", subscriptionHandler.DeleteSubscription)

	limiter := middleware.NewRateLimiter(d.AIRateLimit, d.AIRateBurst)
	aiGroup := protected.Group("/ai")
	aiGroup.GET("/features", aiHandler.GetFeatures)
	limited := aiGroup.Group("", limiter.Middleware())
	limited.POST("/alternatives/:id", aiHandler.FindAlternatives)
	limited.GET("/analysis", aiHandler.AnalyzeSpending)
	limited.GET("/recommendations", aiHandler.Recommend)
	limited.POST("/chat", aiHandler.Chat)

	admin := protected.Group("/admin", middleware.AdminMiddleware(d.Users))
	admin.POST("/alerts/run", alertHandler.RunAlerts)
	providers := admin.Group("/ai/providers")
	providers.GET("", adminHandler.ListProviders)
	providers.PUT("/:kind", adminHandler.UpdateProvider)
	providers.POST("/:kind/test", adminHandler.TestProvider)
	providers.GET("/:kind/models", adminHandler.ListProviderModels)

	return router
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// health reports ok when the database answers a ping.
func health(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			logger.Named("http").Warnw("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
