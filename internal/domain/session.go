package domain

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a paired session.
// It is never assigned directly; Session exposes transition methods only.
type State uint8

const (
	StatePrompting State = iota + 1
	StateChatting
	StateEnded
)

func (s State) String() string {
	switch s {
	case StatePrompting:
		return "prompting"
	case StateChatting:
		return "chatting"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ParseState converts a persisted state name.
func ParseState(name string) (State, error) {
	switch name {
	case "prompting":
		return StatePrompting, nil
	case "chatting":
		return StateChatting, nil
	case "ended":
		return StateEnded, nil
	}
	return 0, fmt.Errorf("unknown session state %q", name)
}

// EndReason records why a session ended.
type EndReason string

const (
	EndedByUser     EndReason = "ended_by_user"
	EndedByTimeout  EndReason = "chat_timeout"
	EndedDisconnect EndReason = "disconnected"
)

var transitions = map[State][]State{
	StatePrompting: {StateChatting, StateEnded},
	StateChatting:  {StateEnded},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is a paired conversation between UserA and UserB.
type Session struct {
	ID              string
	UserA           string
	UserB           string
	Mood            Mood
	SharedInterests []string
	PromptIndex     int
	CreatedAt       time.Time
	ChatStartedAt   *time.Time
	EndedAt         *time.Time
	EndReason       EndReason
	ReconnectCode   string
	CodeConsumedAt  *time.Time
	LastSeenA       time.Time
	LastSeenB       time.Time

	state State
}

// NewSession starts a session in the prompting state.
func NewSession(id string, a, b *QueueEntry, now time.Time) (*Session, error) {
	if a.UserID == b.UserID {
		return nil, fmt.Errorf("session %s: cannot pair user %s with itself", id, a.UserID)
	}
	mood := a.Mood
	if mood == "" {
		mood = b.Mood
	}
	return &Session{
		ID:              id,
		UserA:           a.UserID,
		UserB:           b.UserID,
		Mood:            mood,
		SharedInterests: a.Shared(b),
		CreatedAt:       now,
		LastSeenA:       now,
		LastSeenB:       now,
		state:           StatePrompting,
	}, nil
}

// Rehydrate restores a persisted session, checking that the terminal fields
// agree with the recorded state.
func Rehydrate(s Session, st State) (*Session, error) {
	switch st {
	case StatePrompting:
		if s.ChatStartedAt != nil || s.EndedAt != nil {
			return nil, fmt.Errorf("session %s: prompting with chat/end timestamps", s.ID)
		}
	case StateChatting:
		if s.ChatStartedAt == nil || s.EndedAt != nil {
			return nil, fmt.Errorf("session %s: chatting without start or with end", s.ID)
		}
	case StateEnded:
		if s.EndedAt == nil {
			return nil, fmt.Errorf("session %s: ended without ended_at", s.ID)
		}
	default:
		return nil, fmt.Errorf("session %s: invalid state %d", s.ID, st)
	}
	s.state = st
	return &s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Active reports whether the session has not ended.
func (s *Session) Active() bool { return s.state != StateEnded }

// HasParticipant reports whether userID is one of the pair.
func (s *Session) HasParticipant(userID string) bool {
	return userID != "" && (userID == s.UserA || userID == s.UserB)
}

// Peer returns the other participant, or "" if userID is not in the session.
func (s *Session) Peer(userID string) string {
	switch userID {
	case s.UserA:
		return s.UserB
	case s.UserB:
		return s.UserA
	}
	return ""
}

// AdvancePrompt moves to the next prompt. total is the prompt list length.
func (s *Session) AdvancePrompt(total int) error {
	if s.state != StatePrompting {
		return fmt.Errorf("advance prompt in %s: %w", s.state, ErrWrongState)
	}
	if s.PromptIndex >= total {
		return fmt.Errorf("advance prompt past %d: %w", total, ErrPromptIndexMismatch)
	}
	s.PromptIndex++
	return nil
}

// StartChat transitions prompting → chatting once every prompt is answered.
func (s *Session) StartChat(now time.Time, total int) error {
	if !canTransition(s.state, StateChatting) {
		return fmt.Errorf("start chat in %s: %w", s.state, ErrWrongState)
	}
	if s.PromptIndex != total {
		return fmt.Errorf("start chat at prompt %d of %d: %w", s.PromptIndex, total, ErrPromptIndexMismatch)
	}
	t := now
	s.ChatStartedAt = &t
	s.state = StateChatting
	return nil
}

// End moves the session to ended. A reconnect code must be supplied when
// ending from chatting and must be empty when ending from prompting.
func (s *Session) End(now time.Time, reason EndReason, code string) error {
	if s.state == StateEnded {
		return ErrAlreadyEnded
	}
	if !canTransition(s.state, StateEnded) {
		return fmt.Errorf("end in %s: %w", s.state, ErrWrongState)
	}
	switch {
	case s.state == StateChatting && code == "":
		return fmt.Errorf("session %s: ending a chat requires a reconnect code", s.ID)
	case s.state == StatePrompting && code != "":
		return fmt.Errorf("session %s: no reconnect code for a session that never chatted", s.ID)
	}
	t := now
	s.EndedAt = &t
	s.EndReason = reason
	s.ReconnectCode = code
	s.state = StateEnded
	return nil
}

// Touch records liveness for a participant.
func (s *Session) Touch(userID string, now time.Time) {
	switch userID {
	case s.UserA:
		if now.After(s.LastSeenA) {
			s.LastSeenA = now
		}
	case s.UserB:
		if now.After(s.LastSeenB) {
			s.LastSeenB = now
		}
	}
}

// LastSeen returns the last liveness time of userID.
func (s *Session) LastSeen(userID string) time.Time {
	if userID == s.UserB {
		return s.LastSeenB
	}
	return s.LastSeenA
}

// ChatDeadline returns when the chat window closes, or zero if not chatting yet.
func (s *Session) ChatDeadline(window time.Duration) time.Time {
	if s.ChatStartedAt == nil {
		return time.Time{}
	}
	return s.ChatStartedAt.Add(window)
}

// DueToEnd reports whether the session should end at now and why.
func (s *Session) DueToEnd(now time.Time, window, grace time.Duration) (EndReason, bool) {
	if s.state == StateEnded {
		return "", false
	}
	if s.state == StateChatting && window > 0 && !now.Before(s.ChatDeadline(window)) {
		return EndedByTimeout, true
	}
	if grace > 0 {
		oldest := s.LastSeenA
		if s.LastSeenB.Before(oldest) {
			oldest = s.LastSeenB
		}
		if now.Sub(oldest) > grace {
			return EndedDisconnect, true
		}
	}
	return "", false
}

// SessionChange is a session write guarded by the state it was read in.
type SessionChange struct {
	Session   *Session
	FromState State
	FromIndex int
}

// Change captures s as a pending write against its current state.
// Call before mutating s.
func (s *Session) Change() *SessionChange {
	return &SessionChange{Session: s, FromState: s.state, FromIndex: s.PromptIndex}
}
