// Package session owns the lifecycle of matched pairs: prompting, chatting,
// ending, expiry sweeps and reconnect redemption.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/introji/connect/internal/domain"
	"github.com/introji/connect/internal/keylock"
	"github.com/introji/connect/internal/store"
)

// touchResolution is the minimum presence change worth a write.
const touchResolution = time.Second

// Options configures a Manager.
type Options struct {
	ChatDuration    time.Duration
	DisconnectGrace time.Duration
	CodeTTL         time.Duration
	// PromptCount is the length of the shared prompt list.
	PromptCount int
	Now         func() time.Time
	NewCode     func() (string, error)
}

// Notifier is told about every persisted session change.
type Notifier interface {
	SessionChanged(ctx context.Context, s *domain.Session)
}

// Rejoiner re-queues a former pair as a forced match.
type Rejoiner interface {
	Rejoin(ctx context.Context, code string, a, b *domain.QueueEntry) (*domain.Session, error)
}

// Manager serializes writes per session and is the only component that
// changes a session's state.
type Manager struct {
	repo     store.Repository
	locks    *keylock.Locker
	rejoin   Rejoiner
	notifier Notifier

	chatDuration time.Duration
	grace        time.Duration
	codeTTL      time.Duration
	promptCount  int
	now          func() time.Time
	newCode      func() (string, error)
}

// NewManager creates a Manager.
func NewManager(repo store.Repository, locks *keylock.Locker, rejoin Rejoiner, opts Options) *Manager {
	m := &Manager{
		repo:         repo,
		locks:        locks,
		rejoin:       rejoin,
		chatDuration: opts.ChatDuration,
		grace:        opts.DisconnectGrace,
		codeTTL:      opts.CodeTTL,
		promptCount:  opts.PromptCount,
		now:          opts.Now,
		newCode:      opts.NewCode,
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.newCode == nil {
		m.newCode = RandomCode
	}
	return m
}

// SetNotifier registers the change listener.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time { return m.now() }

// ChatDuration returns the configured chat window.
func (m *Manager) ChatDuration() time.Duration { return m.chatDuration }

// PromptCount returns the prompt list length sessions advance through.
func (m *Manager) PromptCount() int { return m.promptCount }

func lockKey(sessionID string) string { return "session:" + sessionID }

// Exclusive loads the session and runs fn while holding its write lock.
// Changes fn makes to the session must be persisted by fn.
func (m *Manager) Exclusive(ctx context.Context, sessionID string, fn func(s *domain.Session) error) error {
	release, err := m.locks.Acquire(ctx, lockKey(sessionID))
	if err != nil {
		return err
	}
	defer release()

	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return fn(s)
}

// Get returns a session without locking.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.repo.GetSession(ctx, sessionID)
}

// GetForParticipant returns the session if userID belongs to it.
func (m *Manager) GetForParticipant(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.HasParticipant(userID) {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotAParticipant)
	}
	return s, nil
}

// Active returns the user's non-ended session, or nil.
func (m *Manager) Active(ctx context.Context, userID string) (*domain.Session, error) {
	return m.repo.GetActiveSession(ctx, userID)
}

// Notify forwards a persisted change to the notifier.
func (m *Manager) Notify(ctx context.Context, s *domain.Session) {
	if m.notifier != nil {
		m.notifier.SessionChanged(ctx, s)
	}
}

// BeginChat moves a prompting session whose prompts are all answered into
// chatting. The caller holds the session lock and persists the change.
func (m *Manager) BeginChat(s *domain.Session) error {
	return s.StartChat(m.now(), m.promptCount)
}

// ExpireIfDue ends s if its chat window closed or a participant went silent
// past the grace period. The caller holds the session lock.
func (m *Manager) ExpireIfDue(ctx context.Context, s *domain.Session) (bool, error) {
	reason, due := s.DueToEnd(m.now(), m.chatDuration, m.grace)
	if !due {
		return false, nil
	}
	if _, err := m.endLocked(ctx, s, reason); err != nil {
		return false, err
	}
	return true, nil
}

// endLocked moves s to ended, issuing a reconnect code if it was chatting.
func (m *Manager) endLocked(ctx context.Context, s *domain.Session, reason domain.EndReason) (string, error) {
	var code string
	if s.State() == domain.StateChatting {
		c, err := m.uniqueCode(ctx)
		if err != nil {
			return "", fmt.Errorf("end session %s: %w", s.ID, err)
		}
		code = c
	}

	change := s.Change()
	if err := s.End(m.now(), reason, code); err != nil {
		return "", fmt.Errorf("end session %s: %w", s.ID, err)
	}
	if err := m.repo.UpdateSession(ctx, change); err != nil {
		return "", fmt.Errorf("end session %s: %w", s.ID, err)
	}

	slog.Info("Session ended",
		"session_id", s.ID,
		"reason", reason,
		"from_state", change.FromState.String(),
		"reconnect_code_issued", code != "")
	m.Notify(ctx, s)
	return code, nil
}

// EndSession ends the session on behalf of a participant and returns the
// reconnect code. The code is empty when the pair never reached chatting.
func (m *Manager) EndSession(ctx context.Context, sessionID, userID string) (string, error) {
	var code string
	err := m.Exclusive(ctx, sessionID, func(s *domain.Session) error {
		if !s.HasParticipant(userID) {
			return fmt.Errorf("end session %s: %w", sessionID, domain.ErrNotAParticipant)
		}
		if !s.Active() {
			return fmt.Errorf("end session %s: %w", sessionID, domain.ErrAlreadyEnded)
		}
		var err error
		code, err = m.endLocked(ctx, s, domain.EndedByUser)
		return err
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// Expire ends the session if it is due.
func (m *Manager) Expire(ctx context.Context, sessionID string) (bool, error) {
	var ended bool
	err := m.Exclusive(ctx, sessionID, func(s *domain.Session) error {
		var err error
		ended, err = m.ExpireIfDue(ctx, s)
		return err
	})
	return ended, err
}

// Touch records participant liveness. Ended sessions are left untouched.
func (m *Manager) Touch(ctx context.Context, sessionID, userID string) error {
	return m.Exclusive(ctx, sessionID, func(s *domain.Session) error {
		if !s.HasParticipant(userID) {
			return fmt.Errorf("touch session %s: %w", sessionID, domain.ErrNotAParticipant)
		}
		if !s.Active() {
			return nil
		}
		if ended, err := m.ExpireIfDue(ctx, s); err != nil || ended {
			return err
		}
		now := m.now()
		if now.Sub(s.LastSeen(userID)) < touchResolution {
			return nil
		}
		change := s.Change()
		s.Touch(userID, now)
		if err := m.repo.UpdateSession(ctx, change); err != nil {
			return fmt.Errorf("touch session %s: %w", sessionID, err)
		}
		return nil
	})
}

// RedeemReconnectCode consumes a code issued to a session containing userID
// and re-queues both former participants to be paired with each other.
func (m *Manager) RedeemReconnectCode(ctx context.Context, code, userID string) (*domain.Session, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("redeem: %w", domain.ErrInvalidCode)
	}

	s, err := m.repo.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.CodeConsumedAt != nil || !s.HasParticipant(userID) {
		return nil, fmt.Errorf("redeem: %w", domain.ErrInvalidCode)
	}
	if s.EndedAt == nil || m.now().After(s.EndedAt.Add(m.codeTTL)) {
		return nil, fmt.Errorf("redeem: %w", domain.ErrCodeExpired)
	}

	a := &domain.QueueEntry{UserID: s.UserA, Mood: s.Mood, Interests: s.SharedInterests}
	b := &domain.QueueEntry{UserID: s.UserB, Mood: s.Mood, Interests: s.SharedInterests}
	next, err := m.rejoin.Rejoin(ctx, code, a, b)
	if err != nil {
		return nil, err
	}
	slog.Info("Reconnect code redeemed", "session_id", s.ID, "user_id", userID, "rematched", next != nil)
	return next, nil
}

// IsRetryable reports errors a sweep should log and move past.
func IsRetryable(err error) bool {
	return domain.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}
