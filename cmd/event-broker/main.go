package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/curibio/cloud-core/internal/api/middleware"
	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/broker"
	"github.com/curibio/cloud-core/internal/config"
	"github.com/curibio/cloud-core/internal/database"
	"github.com/curibio/cloud-core/internal/scopes"
	"github.com/curibio/cloud-core/internal/webhook"
)

const listenerReconnectDelay = 60 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	hub := broker.NewHub(broker.DefaultMailboxCap)
	publisher := broker.NewPublisher(db, hub)
	publisher.NotifyWebhooks(webhook.NewService(db, webhook.NewDispatcher(db)))

	listener := database.NewListener(cfg.Database.URL, broker.EventsChannel)
	go func() {
		err := listener.Run(ctx, listenerReconnectDelay, func(n database.Notification) {
			publisher.Handle(ctx, n.Payload)
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("event listener stopped", "error", err)
			stop()
		}
	}()

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	mw := auth.NewMiddleware(tokens)
	sse := broker.NewServer(hub)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{cfg.Auth.DashboardURL}))

	streamGuard := mw.ProtectedTag(scopes.TagPulse3DRead, scopes.TagAdvancedAnalysisRead, scopes.TagAdmin)
	r.With(streamGuard).Get("/public/stream", sse.Stream)
	r.With(streamGuard).Post("/public/token", sse.UpdateToken)

	// no write timeout: streams stay open indefinitely
	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("starting event broker", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down event broker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	if err := listener.Close(shutdownCtx); err != nil {
		slog.Error("listener close failed", "error", err)
	}
}
