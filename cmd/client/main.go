// Student chat web client
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/api"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/apiclient"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/chat"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/config"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/identity"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/render"
	"github.com/taimurshaikh/CursorForCollegeApps/internal/store"
	"github.com/taimurshaikh/CursorForCollegeApps/web"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	slog.Info("Starting client", "port", cfg.Port, "api_url", cfg.APIURL, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := openStore(context.Background(), cfg)
	if err != nil {
		slog.Error("Failed to initialize session store", "store", cfg.SessionStore, "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Session store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session store connected", "store", cfg.SessionStore)

	sessions := store.NewSessions(repo)
	backend := apiclient.New(cfg.APIURL, apiclient.WithTimeout(cfg.APITimeout))
	markdown := render.NewMarkdown()

	templates, err := web.Templates()
	if err != nil {
		slog.Error("Failed to parse templates", "error", err)
		os.Exit(1)
	}

	registry := chat.NewRegistry(func(deviceID string) *chat.Controller {
		return chat.NewController(deviceID, backend, sessions, chat.WithLogger(logger))
	}, chat.WithStaleCleaner(repo))

	// Initialize handlers.
	handler := api.NewHandler(registry, templates, markdown, cfg.AllowedOrigins, cfg.IsDevelopment())
	healthHandler := api.NewHealthHandler(repo, backend.BaseURL(), cfg.HealthTimeout)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/static/*", web.StaticHandler("/static/"))

	// Everything else is scoped to the device cookie.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		handler.RegisterRoutes(r)
	})

	// Live connections stay open; no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.StartJanitor(ctx, cfg.SessionTTL, cfg.JanitorEvery)

	// Start server.
	go func() {
		slog.Info("Client listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	// Let in-flight sends persist before the store closes.
	registry.Wait()

	slog.Info("Client stopped successfully")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	switch cfg.SessionStore {
	case config.StoreRedis:
		return store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.SessionTTL,
		})
	case config.StoreMemory:
		return store.NewMemory(), nil
	default:
		return store.NewSQLite(cfg.DBPath)
	}
}
