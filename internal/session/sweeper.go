package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const sweepConcurrency = 4

// Sweep ends every active session past its chat window or disconnect grace.
// Candidates are found without locks; each one is re-checked under its own
// session lock before ending. Failures are logged and left for the next sweep.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	sessions, err := m.repo.ListActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	now := m.now()
	var ended atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)

	for _, s := range sessions {
		if _, due := s.DueToEnd(now, m.chatDuration, m.grace); !due {
			continue
		}
		id := s.ID
		g.Go(func() error {
			ok, err := m.Expire(gctx, id)
			if err != nil {
				if IsRetryable(err) {
					slog.Debug("Session sweep deferred", "session_id", id, "error", err)
				} else {
					slog.Error("Session sweep failed", "session_id", id, "error", err)
				}
				return nil
			}
			if ok {
				ended.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(ended.Load()), err
	}
	return int(ended.Load()), nil
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Session sweeper started",
		"interval", interval,
		"chat_duration", m.chatDuration,
		"disconnect_grace", m.grace)

	for {
		select {
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				slog.Error("Session sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("Session sweep ended sessions", "count", n)
			}
		case <-ctx.Done():
			slog.Info("Session sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}
