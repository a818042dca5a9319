package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/taxdesk/identityctx/internal/config"
	httpserver "github.com/taxdesk/identityctx/internal/http"
	"github.com/taxdesk/identityctx/pkg/backend"
	"github.com/taxdesk/identityctx/pkg/credstore"
	"github.com/taxdesk/identityctx/pkg/identity"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Durable scope: Postgres when configured, in-memory otherwise
	var durable credstore.Backend
	if cfg.HasDatabase() {
		db, err := credstore.NewDB(credstore.DBConfig{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		durable = credstore.NewPostgresBackend(db, credstore.ScopeDurable)
		logger.Info("durable scope on postgres")
	} else {
		durable = credstore.NewMemoryBackend()
		logger.Warn("durable scope in memory, remembered sessions will not survive restarts")
	}

	if cfg.HasSealKey() {
		sealKey, err := hex.DecodeString(cfg.SealKey)
		if err != nil || len(sealKey) != 32 {
			logger.Error("SEAL_KEY must be 64-char hex (32 bytes)")
			os.Exit(1)
		}
		durable, err = credstore.NewSealedBackend(durable, sealKey)
		if err != nil {
			logger.Error("failed to initialize sealed backend", "error", err)
			os.Exit(1)
		}
		logger.Info("durable scope sealed at rest")
	}

	// Ephemeral scope: Redis when configured, in-memory otherwise
	var ephemeral credstore.Backend
	if cfg.HasRedis() {
		redisBackend, err := credstore.NewRedisBackend(credstore.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisBackend.Close()
		ephemeral = redisBackend
		logger.Info("ephemeral scope on redis")
	} else {
		ephemeral = credstore.NewMemoryBackend()
	}

	creds := credstore.New(durable, ephemeral)

	// Upstream API client
	api, err := backend.New(backend.Config{
		BaseURL: cfg.BackendBaseURL,
		Tokens:  creds,
		Timeout: cfg.BackendTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to create backend client", "error", err)
		os.Exit(1)
	}

	// Identity subsystem
	selection := identity.NewSelection(api, creds, logger)
	resolver := identity.NewResolver(identity.ResolverConfig{
		Contexts:  api,
		Selection: selection,
		Creds:     creds,
		Logger:    logger,
	})
	switcher := identity.NewSwitcher(identity.SwitcherConfig{
		API:           api,
		Creds:         creds,
		RedirectDelay: cfg.SwitchRedirectDelay,
		Logger:        logger,
	})
	refresher := identity.NewRefresher(api, creds, logger)

	// Create router
	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:             logger,
		Creds:              creds,
		Resolver:           resolver,
		Switcher:           switcher,
		Refresher:          refresher,
		RateLimitConfig:    cfg.RateLimit,
		SecurityHeaders:    cfg.SecurityHeaders,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
