package relay

import (
	"time"

	"github.com/introji/connect/internal/domain"
)

// EventType names what an Event carries.
type EventType string

const (
	EventMessage EventType = "message"
	EventState   EventType = "state"
)

// Event is published to every subscriber of a session.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Message   *domain.Message `json:"message,omitempty"`
	State     *StateView      `json:"state,omitempty"`
}

// StateView is the participant-visible snapshot of a session.
type StateView struct {
	State         string     `json:"state"`
	PromptIndex   int        `json:"prompt_index"`
	ChatStartedAt *time.Time `json:"chat_started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	EndReason     string     `json:"end_reason,omitempty"`
	ReconnectCode string     `json:"reconnect_code,omitempty"`
}

// NewStateView snapshots s.
func NewStateView(s *domain.Session) *StateView {
	return &StateView{
		State:         s.State().String(),
		PromptIndex:   s.PromptIndex,
		ChatStartedAt: s.ChatStartedAt,
		EndedAt:       s.EndedAt,
		EndReason:     string(s.EndReason),
		ReconnectCode: s.ReconnectCode,
	}
}
