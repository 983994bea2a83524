// Package prompt walks a matched pair through the shared icebreaker prompts.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/introji/connect/internal/domain"
	"github.com/introji/connect/internal/session"
	"github.com/introji/connect/internal/store"
)

// Guided is the prompt list every session answers, in order.
var Guided = []string{
	"What's sitting in the back of your mind right now?",
	"Describe a moment you felt completely at ease.",
	"What does 'recharging' actually look like for you?",
	"What have you learned about yourself this year?",
	"What would your perfect quiet day include?",
}

// Response length bounds, in characters.
const (
	MinResponseLen = 1
	MaxResponseLen = 1000
)

// Result describes the session after a response was recorded.
type Result struct {
	Advanced    bool
	State       domain.State
	PromptIndex int
}

// Sequencer records prompt answers and advances sessions.
type Sequencer struct {
	repo     store.Repository
	sessions *session.Manager
	prompts  []string
}

// New creates a Sequencer over prompts. The session manager's PromptCount
// must equal len(prompts).
func New(repo store.Repository, sessions *session.Manager, prompts []string) *Sequencer {
	if len(prompts) == 0 {
		prompts = Guided
	}
	return &Sequencer{repo: repo, sessions: sessions, prompts: prompts}
}

// Prompts returns a copy of the prompt list.
func (q *Sequencer) Prompts() []string {
	out := make([]string, len(q.prompts))
	copy(out, q.prompts)
	return out
}

// Prompt returns the prompt at index i.
func (q *Sequencer) Prompt(i int) (string, bool) {
	if i < 0 || i >= len(q.prompts) {
		return "", false
	}
	return q.prompts[i], true
}

// ValidateResponse trims a response and checks its length.
func ValidateResponse(response string) (string, error) {
	response = strings.TrimSpace(response)
	n := utf8.RuneCountInString(response)
	if n < MinResponseLen || n > MaxResponseLen {
		return "", domain.Invalid("response", "must be %d-%d characters, got %d", MinResponseLen, MaxResponseLen, n)
	}
	return response, nil
}

// SubmitResponse records userID's answer to promptIndex. Once both
// participants have answered the current index the session advances; after
// the last prompt it moves to chatting.
func (q *Sequencer) SubmitResponse(ctx context.Context, sessionID, userID string, promptIndex int, response string) (Result, error) {
	text, err := ValidateResponse(response)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = q.sessions.Exclusive(ctx, sessionID, func(s *domain.Session) error {
		if _, err := q.sessions.ExpireIfDue(ctx, s); err != nil {
			return err
		}
		if s.State() != domain.StatePrompting {
			return fmt.Errorf("submit response in %s: %w", s.State(), domain.ErrWrongState)
		}
		if promptIndex != s.PromptIndex {
			return fmt.Errorf("submit response for %d, session at %d: %w", promptIndex, s.PromptIndex, domain.ErrPromptIndexMismatch)
		}
		if !s.HasParticipant(userID) {
			return fmt.Errorf("submit response: %w", domain.ErrNotAParticipant)
		}

		answered, err := q.repo.HasResponse(ctx, s.ID, userID, promptIndex)
		if err != nil {
			return err
		}
		if answered {
			return fmt.Errorf("prompt %d: %w", promptIndex, domain.ErrDuplicateResponse)
		}
		peerAnswered, err := q.repo.HasResponse(ctx, s.ID, s.Peer(userID), promptIndex)
		if err != nil {
			return err
		}

		now := q.sessions.Now()
		change := s.Change()
		s.Touch(userID, now)
		if peerAnswered {
			if err := s.AdvancePrompt(len(q.prompts)); err != nil {
				return err
			}
			res.Advanced = true
			if s.PromptIndex == len(q.prompts) {
				if err := q.sessions.BeginChat(s); err != nil {
					return err
				}
			}
		}

		resp := &domain.PromptResponse{
			SessionID:   s.ID,
			UserID:      userID,
			PromptIndex: promptIndex,
			Response:    text,
			CreatedAt:   now,
		}
		if err := q.repo.InsertResponse(ctx, resp, change); err != nil {
			return err
		}

		res.State = s.State()
		res.PromptIndex = s.PromptIndex
		if res.Advanced {
			slog.Info("Prompt advanced", "session_id", s.ID, "prompt_index", s.PromptIndex, "state", s.State().String())
		}
		q.sessions.Notify(ctx, s)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Answered reports whether userID has answered promptIndex.
func (q *Sequencer) Answered(ctx context.Context, sessionID, userID string, promptIndex int) (bool, error) {
	return q.repo.HasResponse(ctx, sessionID, userID, promptIndex)
}

// ListResponses returns the session's answers visible to userID. The peer's
// answer to the prompt currently being answered stays hidden.
func (q *Sequencer) ListResponses(ctx context.Context, sessionID, userID string) ([]*domain.PromptResponse, error) {
	s, err := q.sessions.GetForParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	all, err := q.repo.ListResponses(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.State() != domain.StatePrompting {
		return all, nil
	}
	out := all[:0]
	for _, r := range all {
		if r.PromptIndex == s.PromptIndex && r.UserID != userID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
