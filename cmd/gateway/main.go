// Package main is the entry point for the realtime gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"

	"github.com/slipstream-ai/realtime-gateway/internal/auth"
	"github.com/slipstream-ai/realtime-gateway/internal/config"
	"github.com/slipstream-ai/realtime-gateway/internal/credentials"
	"github.com/slipstream-ai/realtime-gateway/internal/db"
	"github.com/slipstream-ai/realtime-gateway/internal/encryption"
	"github.com/slipstream-ai/realtime-gateway/internal/gateway"
	"github.com/slipstream-ai/realtime-gateway/internal/handler"
	"github.com/slipstream-ai/realtime-gateway/internal/llm"
	"github.com/slipstream-ai/realtime-gateway/internal/middleware"
	"github.com/slipstream-ai/realtime-gateway/internal/model"
	redisclient "github.com/slipstream-ai/realtime-gateway/internal/redis"
	"github.com/slipstream-ai/realtime-gateway/internal/resolver"
	"github.com/slipstream-ai/realtime-gateway/internal/storage"
	"github.com/slipstream-ai/realtime-gateway/pkg/logger"
	"github.com/slipstream-ai/realtime-gateway/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Infow("starting realtime gateway")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "realtime-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to Redis
	rdb, err := redisclient.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Errorw("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	bus := redisclient.NewBus(rdb, log, cfg.HeartbeatInterval, cfg.HeartbeatEnabled, cfg.HeartbeatMissedThreshold)
	defer bus.Close()
	streams := redisclient.NewStreamStore(rdb, cfg.StreamStateTTL)

	// Connect to Postgres
	store, err := db.New(ctx, cfg.DatabaseURL, cfg.DBQueryTimeout)
	if err != nil {
		log.Errorw("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Secrets Manager, when configured, backfills keys missing from the
	// environment.
	var secrets *credentials.Manager
	if cfg.AWSSecretID != "" {
		secretsCtx, cancel := context.WithTimeout(ctx, cfg.SecretsTimeout)
		secrets, err = credentials.NewManagerFromEnv(secretsCtx, cfg.AWSRegion, cfg.AWSAccessKey, cfg.AWSSecretAccess, cfg.AWSSecretID)
		cancel()
		if err != nil {
			log.Warnw("secrets manager unavailable", "error", err)
			secrets = nil
		}
	}

	platformKey := func(envValue, secretName string) string {
		if envValue != "" {
			return envValue
		}
		if secrets == nil {
			return ""
		}
		keyCtx, cancel := context.WithTimeout(ctx, cfg.SecretsTimeout)
		defer cancel()
		v, err := secrets.Get(keyCtx, secretName)
		if err != nil {
			log.Warnw("platform key unavailable", "name", secretName, "error", err)
			return ""
		}
		return v
	}

	// Encryption service for stored per-user keys
	masterKey := platformKey(cfg.EncryptionKey, "ENCRYPTION_KEY")
	if masterKey == "" {
		log.Errorw("no encryption key configured")
		os.Exit(1)
	}
	enc, err := encryption.New(masterKey)
	if err != nil {
		log.Errorw("failed to initialize encryption", "error", err)
		os.Exit(1)
	}

	// Provider adapters, one per vendor
	openAIKey := platformKey(cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	registry := llm.NewRegistry(
		llm.NewOpenAIClient(openAIKey),
		llm.NewAnthropicClient(platformKey(cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")),
		llm.NewGeminiClient(platformKey(cfg.GeminiAPIKey, "GEMINI_API_KEY")),
		llm.NewXAIClient(platformKey(cfg.XAIAPIKey, "X_AI_KEY")),
	)

	static := map[model.Provider]string{
		model.ProviderOpenAI:    cfg.OpenAIAPIKey,
		model.ProviderAnthropic: cfg.AnthropicAPIKey,
		model.ProviderGemini:    cfg.GeminiAPIKey,
		model.ProviderGrok:      cfg.XAIAPIKey,
	}
	credResolver := credentials.NewResolver(store, enc, static, secrets, log)

	var titleClient *openai.Client
	if openAIKey != "" {
		titleClient = openai.NewClient(openAIKey)
	}
	titles := resolver.NewTitleGenerator(titleClient, log)

	// R2 asset storage is optional
	var uploader resolver.Uploader
	if cfg.R2AccountID != "" && cfg.R2Bucket != "" {
		r2, err := storage.New(ctx, storage.Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretKey,
			Bucket:          cfg.R2Bucket,
			PublicURL:       cfg.R2PublicURL,
		})
		if err != nil {
			log.Warnw("asset storage unavailable", "error", err)
		} else {
			uploader = r2
		}
	}

	res := resolver.New(log, bus, streams, registry, credResolver, titles, resolver.Options{
		Uploader:        uploader,
		ImageGenURL:     cfg.ImageGenURL,
		ImageGenTimeout: cfg.ImageGenTimeout,
	})

	validator := auth.NewSessionValidator(store, cfg.JWTSecret)
	ws := gateway.New(log, validator, res, bus, gateway.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatEnabled:  cfg.HeartbeatEnabled,
		MissedThreshold:   cfg.HeartbeatMissedThreshold,
	})
	if err := ws.Start(ctx); err != nil {
		log.Errorw("failed to start gateway subscribers", "error", err)
		os.Exit(1)
	}

	healthHandler := handler.NewHealthHandler(redisclient.NewHealth(rdb), store, ws)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/stats", healthHandler.StatsHandler)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint; auth happens inside the handshake
	r.With(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).
		Get("/ws", ws.HandleWS)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	ws.Shutdown()

	log.Infow("server stopped")
}
