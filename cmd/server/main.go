package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/api"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/config"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/crypto"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/db/models"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/services"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/internal/utils"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/pkg/logger"
	"github.com/theonlytruebigmac/ChronoChimp-sub001/pkg/metrics"
)

func main() {
	var cfg *config.Configuration
	var err error

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		cfg, err = config.LoadConfig(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.InitializeDefaultConfig()
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(zapLogger)

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	if err := seedDatabase(database, zapLogger); err != nil {
		zapLogger.Fatal("Failed to seed database", zap.Error(err))
	}

	secretBox, err := crypto.NewSecretBox([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		zapLogger.Fatal("Failed to initialize secret encryption", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()

	sessionService := services.NewSessionService(cfg, zapLogger, metricsCollector)
	apiKeyService := services.NewAPIKeyService(database, cfg.Security.APIKeyPrefixLen, zapLogger, metricsCollector)
	inviteService := services.NewInviteService(database, cfg.Security.InviteExpiry, zapLogger, metricsCollector)
	twoFactorService := services.NewTwoFactorService(database, secretBox, cfg.Security.TOTPIssuer, cfg.Security.BackupCodeCount, zapLogger, metricsCollector)

	router := api.NewRouter(cfg, zapLogger, metricsCollector, sessionService, apiKeyService, inviteService, twoFactorService, database)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zapLogger.Info("Server started", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		zapLogger.Error("Forced shutdown", zap.Error(err))
	}

	sqlDB, err := database.DB()
	if err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}

// seedDatabase creates the bootstrap admin account on a fresh install.
// Further accounts arrive through admin-issued invites.
func seedDatabase(database *gorm.DB, logger *zap.Logger) error {
	var count int64
	if err := database.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		logger.Info("Database already seeded, skipping")
		return nil
	}

	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		logger.Warn("No users exist and ADMIN_EMAIL/ADMIN_PASSWORD not set, skipping seed")
		return nil
	}

	passwordHash, err := utils.EncryptPassword(password)
	if err != nil {
		return err
	}

	admin := models.User{
		Name:         "Administrator",
		Email:        email,
		PasswordHash: passwordHash,
		Role:         models.RoleAdmin,
	}
	if err := database.Create(&admin).Error; err != nil {
		return err
	}

	logger.Info("Created bootstrap admin user",
		zap.String("user_id", admin.ID),
		zap.String("email", email))
	return nil
}
