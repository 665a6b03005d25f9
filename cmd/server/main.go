package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"manifest/internal/app"
	"manifest/internal/config"
	"manifest/internal/handler"
	"manifest/internal/logging"
	"manifest/internal/middleware"
	"manifest/internal/observability"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting intention matcher",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// Set Gin mode
	gin.SetMode(cfg.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewCollector("manifest")

	application, err := app.New(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	var auth gin.HandlerFunc
	if cfg.Supabase.AuthRequired {
		auth = middleware.Auth(middleware.NewSupabaseTokenValidator(application.Supabase), logger)
		logger.Info("bearer token authentication enabled")
	} else {
		logger.Warn("authentication disabled, owner and author ids are taken from request bodies")
	}

	router := handler.NewRouter(
		handler.NewMatchHandler(application.Matcher),
		handler.NewIntentionHandler(application.Intentions),
		handler.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Auth:           auth,
			Logger:         logger,
			Metrics:        metrics,
			Build:          handler.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit},
		},
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
