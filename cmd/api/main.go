// Package main is the entry point for the API server.
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
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/handler"
	"github.com/docuchat/docuchat/internal/middleware"
	"github.com/docuchat/docuchat/internal/service"
	"github.com/docuchat/docuchat/internal/store"
	"github.com/docuchat/docuchat/pkg/logger"
	"github.com/docuchat/docuchat/pkg/tracing"
)

func main() {
	// Load .env if present, then configuration from the environment.
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "docuchat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Conversation store
	var convStore store.ConversationStore
	switch cfg.StoreBackend {
	case "nats":
		convStore, err = store.NewNATSStore(ctx, store.NATSConfig{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log.Logger)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
	default:
		convStore = store.NewMemoryStore()
	}

	// Orchestrator with the initial pipeline. Retrieval failures fall back
	// to the baseline strategy rather than aborting startup.
	orchestrator := service.NewOrchestrator(ctx, cfg.Resolve(), convStore, service.Timeouts{
		Embed:    cfg.EmbedTimeout,
		Search:   cfg.SearchTimeout,
		Generate: cfg.GenerateTimeout,
	}, log.Logger)
	defer orchestrator.Close()

	log.Info("pipeline initialized", zap.String("strategy", orchestrator.Pipeline().Strategy()))

	// Handlers
	healthHandler := handler.NewHealthHandler(orchestrator)
	chatHandler := handler.NewChatHandler(orchestrator, log.Logger)
	conversationHandler := handler.NewConversationHandler(orchestrator, log.Logger)

	// Router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/chat", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/", chatHandler.Chat)
		r.Get("/health", healthHandler.ChatHealth)
		r.Get("/debug", chatHandler.Debug)
		r.Post("/config", chatHandler.Configure)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
