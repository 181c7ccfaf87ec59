package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"subtrack/internal/ai"
	"subtrack/internal/config"
	"subtrack/internal/crypto"
	"subtrack/internal/database"
	"subtrack/internal/logger"
	"subtrack/internal/notify"
	"subtrack/internal/scheduler"
	"subtrack/internal/server"
	"subtrack/internal/services"
	"subtrack/internal/validator"
)

// @title           Subtrack API
// @version         1.0
// @description     Subtrack tracks recurring subscriptions, warns before renewals and suggests savings with a pluggable AI provider.
// @termsOfService  http://swagger.io/terms/

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description Pipeline API key.

const shutdownTimeout = 15 * time.Second

func main() {
	// Initialize logger (use ENV var if available, default to development)
	logger.InitWithLevel(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Get().Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	log := logger.Get()

	appConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if appConfig.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	validator.Register()

	dbManager, err := database.NewManager(database.NewConfig(appConfig))
	if err != nil {
		return fmt.Errorf("failed to create database manager: %w", err)
	}
	defer func() {
		if err := dbManager.Close(); err != nil {
			log.Warnw("closing database", "error", err)
		}
	}()

	if err := dbManager.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	sealer, err := newSealer(appConfig)
	if err != nil {
		return err
	}

	// Services
	db := dbManager.DB()
	userService := services.NewUserService(db)
	subscriptionService := services.NewSubscriptionService(db)
	auditService := services.NewAuditService(db)
	settingsService := services.NewAISettingsService(db, sealer, appConfig.OllamaURL)
	aiService := services.NewAIService(settingsService, subscriptionService, ai.New,
		appConfig.AIRequestTimeout, appConfig.AITestTimeout)
	notifier := notify.New(appConfig.ResendAPIKey, appConfig.ResendFromEmail)
	alertService := services.NewAlertService(db, notifier, appConfig.AlertDedupPolicy)

	jobs := scheduler.New(appConfig.AlertCron, subscriptionService, alertService)
	if err := jobs.Start(); err != nil {
		return err
	}

	router := server.NewRouter(server.Deps{
		DB:             dbManager,
		Users:          userService,
		Subscriptions:  subscriptionService,
		Alerts:         alertService,
		AISettings:     settingsService,
		AI:             aiService,
		Audit:          auditService,
		Runner:         jobs,
		PipelineAPIKey: appConfig.PipelineAPIKey,
		AIRateLimit:    appConfig.AIRateLimit,
		AIRateBurst:    appConfig.AIRateBurst,
	})

	srv := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// AI calls may run up to the configured ceiling.
		WriteTimeout: appConfig.AIMaxTimeout + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting Subtrack backend server on port %s", appConfig.Port)
		log.Infof("Swagger documentation available at http://localhost:%s/swagger/index.html", appConfig.Port)
		log.Infow("notifications configured", "channel", notifier.Channel())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		<-jobs.Stop().Done()
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		log.Infow("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	select {
	case <-jobs.Stop().Done():
	case <-ctx.Done():
		log.Warn("scheduled job still running at shutdown")
	}
	return nil
}

// newSealer builds the API key sealer. Outside production a missing key
// falls back to one derived from the JWT secret.
func newSealer(cfg *config.Config) (services.Sealer, error) {
	if cfg.EncryptionKey != "" {
		box, err := crypto.NewSecretBox(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid AI_ENCRYPTION_KEY: %w", err)
		}
		return box, nil
	}
	if cfg.Env == "production" {
		return nil, errors.New("AI_ENCRYPTION_KEY is required in production")
	}
	logger.Get().Warn("AI_ENCRYPTION_KEY not set; deriving a development key from JWT_SECRET")
	return crypto.NewSecretBoxFromPassphrase(cfg.JWTSecret)
}
