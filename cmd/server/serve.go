package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/introji/connect/internal/api"
	"github.com/introji/connect/internal/connect"
	"github.com/introji/connect/internal/identity"
	"github.com/introji/connect/internal/middleware"
	"github.com/introji/connect/internal/realtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	broker, pinger, err := openBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := broker.Close(); closeErr != nil {
			slog.Error("Failed to close event broker", "error", closeErr)
		}
	}()

	svc := connect.Assemble(repo, broker, serviceOptions(cfg))

	limiter := middleware.NewRateLimiter(cfg.Relay.SendRateLimit, cfg.Relay.SendRateWindow)
	defer limiter.Stop()

	registry := realtime.NewRegistry()
	connectHandler := api.NewConnectHandler(svc, limiter)
	healthHandler := api.NewHealthHandler(repo, nil)
	if pinger != nil {
		healthHandler = api.NewHealthHandler(repo, pinger)
	}
	streamHandler := realtime.NewHandler(svc, registry, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		connectHandler.RegisterRoutes(r)
		streamHandler.RegisterRoutes(r)
	})

	// WriteTimeout stays 0 so websocket streams are not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Run(ctx, cfg.Match.SweepInterval, cfg.Session.SweepInterval)
	}()
	slog.Info("Sweepers started",
		"match_interval", cfg.Match.SweepInterval,
		"session_interval", cfg.Session.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	wg.Wait()

	slog.Info("Server stopped successfully")
	return nil
}
