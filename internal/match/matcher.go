// Package match implements the waiting pool and pair formation.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/introji/connect/internal/domain"
	"github.com/introji/connect/internal/keylock"
	"github.com/introji/connect/internal/store"
)

// poolKey is the single lock scope for the matching pool. Every path that can
// create a session or re-queue a participant holds it.
const poolKey = "matching-pool"

// Options configures a Matcher.
type Options struct {
	// MaxWait is how long an entry waits before zero-overlap same-mood
	// matches are allowed.
	MaxWait time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
	// NewID overrides session ID generation (tests).
	NewID func() string
}

// MatchFunc observes sessions created by the matcher.
type MatchFunc func(ctx context.Context, s *domain.Session)

// Matcher owns the waiting pool.
type Matcher struct {
	repo    store.Repository
	locks   *keylock.Locker
	maxWait time.Duration
	now     func() time.Time
	newID   func() string
	onMatch MatchFunc
}

// New creates a Matcher. locks bounds how long pool operations wait.
func New(repo store.Repository, locks *keylock.Locker, opts Options) *Matcher {
	m := &Matcher{
		repo:    repo,
		locks:   locks,
		maxWait: opts.MaxWait,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// OnMatch registers a callback for newly created sessions.
func (m *Matcher) OnMatch(fn MatchFunc) {
	m.onMatch = fn
}

// Enqueue validates and upserts the user's queue entry, then attempts an
// immediate match. It returns the user's new session if one was formed.
func (m *Matcher) Enqueue(ctx context.Context, userID, mood string, interests []string) (*domain.Session, error) {
	if userID == "" {
		return nil, domain.Invalid("user_id", "required")
	}
	md, err := domain.ParseMood(mood)
	if err != nil {
		return nil, err
	}
	normalized, err := domain.NormalizeInterests(interests)
	if err != nil {
		return nil, err
	}

	release, err := m.locks.Acquire(ctx, poolKey)
	if err != nil {
		return nil, err
	}
	defer release()

	active, err := m.repo.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", userID, err)
	}
	if active != nil {
		return nil, fmt.Errorf("enqueue %s: session %s: %w", userID, active.ID, domain.ErrAlreadyInSession)
	}

	entry := &domain.QueueEntry{
		UserID:    userID,
		Mood:      md,
		Interests: normalized,
		EnteredAt: m.now(),
	}
	if err := m.repo.UpsertQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", userID, err)
	}
	slog.Info("User queued", "user_id", userID, "mood", md, "interests", len(normalized))

	created, err := m.matchLocked(ctx)
	if err != nil {
		// The entry is durable; the next sweep retries the match.
		slog.Warn("Immediate match failed", "user_id", userID, "error", err)
		return nil, nil
	}
	for _, s := range created {
		if s.HasParticipant(userID) {
			return s, nil
		}
	}
	return nil, nil
}

// Cancel removes the user's queue entry. Missing entries are a no-op.
func (m *Matcher) Cancel(ctx context.Context, userID string) error {
	_, err := m.cancel(ctx, userID)
	return err
}

// CancelStrict removes the user's queue entry and fails with
// domain.ErrNotQueued if there was none.
func (m *Matcher) CancelStrict(ctx context.Context, userID string) error {
	removed, err := m.cancel(ctx, userID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("cancel %s: %w", userID, domain.ErrNotQueued)
	}
	return nil
}

func (m *Matcher) cancel(ctx context.Context, userID string) (bool, error) {
	removed, err := m.repo.DeleteQueueEntry(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", userID, err)
	}
	if removed {
		slog.Info("User left queue", "user_id", userID)
	}
	return removed, nil
}

// Queued returns the user's waiting entry, or nil.
func (m *Matcher) Queued(ctx context.Context, userID string) (*domain.QueueEntry, error) {
	return m.repo.GetQueueEntry(ctx, userID)
}

// TryMatch scans the pool and forms every selectable pair.
func (m *Matcher) TryMatch(ctx context.Context) ([]*domain.Session, error) {
	release, err := m.locks.Acquire(ctx, poolKey)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.matchLocked(ctx)
}

// Rejoin redeems a reconnect code and re-queues both former participants as a
// forced pair, then attempts the match. It fails with
// domain.ErrAlreadyInSession if either user has since joined another session.
func (m *Matcher) Rejoin(ctx context.Context, code string, a, b *domain.QueueEntry) (*domain.Session, error) {
	release, err := m.locks.Acquire(ctx, poolKey)
	if err != nil {
		return nil, err
	}
	defer release()

	now := m.now()
	a.PairWith, b.PairWith = b.UserID, a.UserID
	a.EnteredAt, b.EnteredAt = now, now
	if err := m.repo.RedeemCode(ctx, code, now, a, b); err != nil {
		return nil, fmt.Errorf("rejoin %s/%s: %w", a.UserID, b.UserID, err)
	}
	slog.Info("Former pair re-queued", "user_a", a.UserID, "user_b", b.UserID)

	created, err := m.matchLocked(ctx)
	if err != nil {
		slog.Warn("Immediate rematch failed", "user_a", a.UserID, "error", err)
		return nil, nil
	}
	for _, s := range created {
		if s.HasParticipant(a.UserID) {
			return s, nil
		}
	}
	return nil, nil
}

// matchLocked requires the pool lock.
func (m *Matcher) matchLocked(ctx context.Context) ([]*domain.Session, error) {
	entries, err := m.repo.ListQueueEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	if len(entries) < 2 {
		return nil, nil
	}

	now := m.now()
	var created []*domain.Session
	for _, p := range selectPairs(entries, now, m.maxWait) {
		sess, err := domain.NewSession(m.newID(), p.a, p.b, now)
		if err != nil {
			slog.Error("Invalid pair selected", "user_a", p.a.UserID, "user_b", p.b.UserID, "error", err)
			continue
		}
		if err := m.repo.CreateMatch(ctx, sess); err != nil {
			if errors.Is(err, domain.ErrNotQueued) || errors.Is(err, domain.ErrAlreadyInSession) {
				slog.Warn("Pair skipped", "user_a", p.a.UserID, "user_b", p.b.UserID, "error", err)
				continue
			}
			return created, fmt.Errorf("create match: %w", err)
		}
		slog.Info("Users matched",
			"session_id", sess.ID,
			"user_a", sess.UserA,
			"user_b", sess.UserB,
			"mood", sess.Mood,
			"score", p.score,
			"forced", p.a.PairWith != "")
		created = append(created, sess)
		if m.onMatch != nil {
			m.onMatch(ctx, sess)
		}
	}
	return created, nil
}

// Run sweeps the pool every interval until ctx is done, so entries that
// crossed MaxWait get their degraded match.
func (m *Matcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Match sweeper started", "interval", interval, "max_wait", m.maxWait)

	for {
		select {
		case <-ticker.C:
			if created, err := m.TryMatch(ctx); err != nil {
				slog.Error("Match sweep failed", "error", err)
			} else if len(created) > 0 {
				slog.Info("Match sweep paired users", "sessions", len(created))
			}
		case <-ctx.Done():
			slog.Info("Match sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}
