package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/introji/connect/internal/connect"
	"github.com/introji/connect/internal/relay"
)

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Opening the store applies the schema.
		repo, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer repo.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "schema ready at %s\n", cfg.DBPath)
		return nil
	},
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one session-expiry and matching pass and exit",
	Long: `Run one session-expiry and matching pass and exit.

Intended for cron-style deployments where no long-running server drives
the periodic sweeps. Events go to the Redis broker when REDIS_ADDR is set
so connected clients on running servers still see the transitions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		repo, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer repo.Close()

		var broker relay.Broker
		broker, _, err = openBroker(ctx, cfg)
		if err != nil {
			return err
		}
		defer broker.Close()

		svc := connect.Assemble(repo, broker, serviceOptions(cfg))
		ended, matched, err := svc.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		slog.Info("Sweep complete", "sessions_ended", ended, "pairs_matched", matched)
		fmt.Fprintf(cmd.OutOrStdout(), "ended %d sessions, matched %d pairs\n", ended, matched)
		return nil
	},
}

func init() {
	sweepCmd.Flags().Duration("timeout", time.Minute, "maximum time for the sweep")
}
