// Introji Connect - anonymous matchmaking and paired chat server
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/introji/connect/internal/config"
	"github.com/introji/connect/internal/connect"
	"github.com/introji/connect/internal/relay"
	"github.com/introji/connect/internal/store"
)

var rootCmd = &cobra.Command{
	Use:          "connect",
	Short:        "Anonymous matchmaking and paired chat server",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil {
			slog.Info("No .env file found, using environment variables")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration and reinstalls the logger at the
// configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))
	return cfg, nil
}

// openStore opens the database and verifies it is reachable.
func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)
	return repo, nil
}

// eventBroker is a relay.Broker that may also report its health.
type eventBroker interface {
	relay.Broker
	Ping(ctx context.Context) error
}

// openBroker returns the Redis broker when REDIS_ADDR is set and the
// in-process broker otherwise. The second result is nil for the latter.
func openBroker(ctx context.Context, cfg *config.Config) (relay.Broker, eventBroker, error) {
	if cfg.Redis.Addr == "" {
		slog.Info("Event broker: in-process")
		return relay.NewMemoryBroker(), nil, nil
	}
	client, err := relay.NewRedisClient(ctx, relay.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	b, err := relay.NewRedisBroker(ctx, client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	slog.Info("Event broker: redis", "addr", cfg.Redis.Addr)
	return b, b, nil
}

func serviceOptions(cfg *config.Config) connect.Options {
	return connect.Options{
		MaxWait:         cfg.Match.MaxWait,
		ChatDuration:    cfg.Session.ChatDuration,
		DisconnectGrace: cfg.Session.DisconnectGrace,
		CodeTTL:         cfg.Session.CodeTTL,
		LockTimeout:     cfg.Session.LockTimeout,
	}
}
