// ShopCore Payments Reconciliation Service
//
// This is the main entry point for the Mobbex webhook reconciliation
// service. It wires up all dependencies and starts the HTTP server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/shopcore/shopcore-payments/config"
	"github.com/shopcore/shopcore-payments/internal/api"
	"github.com/shopcore/shopcore-payments/internal/mobbex"
	"github.com/shopcore/shopcore-payments/internal/platform/events"
	"github.com/shopcore/shopcore-payments/internal/platform/shopcore"
	"github.com/shopcore/shopcore-payments/internal/reconcile"
	"github.com/shopcore/shopcore-payments/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting ShopCore Payments service")

	// Load configuration (.env is optional, env vars win)
	_ = godotenv.Load()
	cfg := config.Load()
	logger.Info("configuration loaded",
		"port", cfg.Server.Port, "core_url", cfg.Core.BaseURL)

	// Validate required configuration
	if err := validateConfig(cfg); err != nil {
		logger.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// Open the transaction log database
	db, err := gorm.Open(mysql.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	if err := storage.AutoMigrate(db); err != nil {
		logger.Error("failed to migrate database", "err", err)
		os.Exit(1)
	}

	// Wire up dependencies (manual dependency injection)
	//
	// Infrastructure Layer
	coreClient := shopcore.NewClient(cfg.Core.BaseURL, cfg.Core.APIKey)
	transactionLog := storage.NewTransactionLog(db)
	publisher := events.NewPublisher(cfg.Kafka.Broker, cfg.Kafka.Topic)
	defer publisher.Close()

	// Gateway Layer
	tokens := mobbex.NewTokenValidator(cfg.Mobbex.APIKey, cfg.Mobbex.AccessToken)
	statuses := mobbex.NewStatusResolver(cfg.Mobbex.StatusCodes)

	// Service Layer
	reconciler := reconcile.NewService(
		coreClient, // implements domain.OrderStore
		transactionLog,
		publisher,
		tokens,
		statuses,
		cfg.Mobbex.CouponURL,
	)

	// API Layer
	handler := api.NewHandler(reconciler, tokens, coreClient, cfg.Core.CartURL)
	router := api.SetupRouter(handler, cfg.Server.GinMode)

	// Start server in a goroutine
	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := router.Run(serverAddr); err != nil {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
}

// validateConfig checks that required configuration values are set.
func validateConfig(cfg *config.Config) error {
	if cfg.Core.BaseURL == "" {
		return fmt.Errorf("SHOPCORE_CORE_URL is required")
	}
	if cfg.Core.APIKey == "" {
		slog.Warn("SHOPCORE_CORE_API_KEY not set")
	}
	if cfg.Mobbex.APIKey == "" || cfg.Mobbex.AccessToken == "" {
		return fmt.Errorf("MOBBEX_API_KEY and MOBBEX_ACCESS_TOKEN are required")
	}
	return nil
}
