// Package relay delivers chat messages and session events between the two
// participants of a session. The message table is the source of truth; the
// broker only pushes to readers that happen to be connected.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/introji/connect/internal/domain"
	"github.com/introji/connect/internal/session"
	"github.com/introji/connect/internal/store"
)

// MaxContentLen bounds a chat message, in characters.
const MaxContentLen = 2000

// Relay appends messages and publishes events.
type Relay struct {
	repo     store.Repository
	sessions *session.Manager
	broker   Broker
	newID    func() string
}

// New creates a Relay and registers it as the session manager's notifier.
func New(repo store.Repository, sessions *session.Manager, broker Broker) *Relay {
	r := &Relay{repo: repo, sessions: sessions, broker: broker, newID: uuid.NewString}
	sessions.SetNotifier(r)
	return r
}

// ValidateContent trims a message and checks its length.
func ValidateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", domain.Invalid("content", "must not be empty")
	}
	if n := utf8.RuneCountInString(content); n > MaxContentLen {
		return "", domain.Invalid("content", "must be at most %d characters, got %d", MaxContentLen, n)
	}
	return content, nil
}

// Send appends a message from senderID to a chatting session and publishes it.
func (r *Relay) Send(ctx context.Context, sessionID, senderID, content string) (*domain.Message, error) {
	text, err := ValidateContent(content)
	if err != nil {
		return nil, err
	}

	var msg *domain.Message
	err = r.sessions.Exclusive(ctx, sessionID, func(s *domain.Session) error {
		if _, err := r.sessions.ExpireIfDue(ctx, s); err != nil {
			return err
		}
		if s.State() != domain.StateChatting {
			return fmt.Errorf("send in %s: %w", s.State(), domain.ErrSessionNotActive)
		}
		if !s.HasParticipant(senderID) {
			return fmt.Errorf("send: %w", domain.ErrNotAParticipant)
		}

		// Clamp to the newest stored message so created_at never goes
		// backwards within a session, even if the clock does.
		now := r.sessions.Now().Truncate(time.Millisecond)
		last, err := r.repo.LastMessageAt(ctx, s.ID)
		if err != nil {
			return err
		}
		if now.Before(last) {
			now = last
		}

		msg = &domain.Message{
			ID:        r.newID(),
			SessionID: s.ID,
			SenderID:  senderID,
			Content:   text,
			CreatedAt: now,
		}
		if err := r.repo.InsertMessage(ctx, msg); err != nil {
			return err
		}

		if now.Sub(s.LastSeen(senderID)) >= time.Second {
			change := s.Change()
			s.Touch(senderID, now)
			if err := r.repo.UpdateSession(ctx, change); err != nil {
				slog.Warn("Failed to record sender presence", "session_id", s.ID, "user_id", senderID, "error", err)
			}
		}

		// Published under the session lock so subscribers see log order.
		r.publish(ctx, Event{Type: EventMessage, SessionID: s.ID, Message: msg})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the session's messages after seq since, in delivery
// order. Only participants may read.
func (r *Relay) ListMessages(ctx context.Context, sessionID, userID string, since int64) ([]*domain.Message, error) {
	if _, err := r.sessions.GetForParticipant(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return r.repo.ListMessages(ctx, sessionID, since, 0)
}

// Subscribe opens a live event stream for a participant.
func (r *Relay) Subscribe(ctx context.Context, sessionID, userID string) (<-chan Event, func(), error) {
	if _, err := r.sessions.GetForParticipant(ctx, sessionID, userID); err != nil {
		return nil, nil, err
	}
	return r.broker.Subscribe(ctx, sessionID)
}

// SessionChanged publishes a state event. It implements session.Notifier.
func (r *Relay) SessionChanged(ctx context.Context, s *domain.Session) {
	r.publish(ctx, Event{Type: EventState, SessionID: s.ID, State: NewStateView(s)})
}

func (r *Relay) publish(ctx context.Context, ev Event) {
	// Delivery is best effort; readers recover from the log.
	if err := r.broker.Publish(ctx, ev); err != nil {
		slog.Warn("Event publish failed", "session_id", ev.SessionID, "type", ev.Type, "error", err)
	}
}
