// Package connect exposes the matchmaking and paired-chat operations to
// transports. It composes the matcher, session manager, prompt sequencer and
// relay; it holds no state of its own.
package connect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/introji/connect/internal/domain"
	"github.com/introji/connect/internal/keylock"
	"github.com/introji/connect/internal/match"
	"github.com/introji/connect/internal/prompt"
	"github.com/introji/connect/internal/relay"
	"github.com/introji/connect/internal/session"
	"github.com/introji/connect/internal/store"
)

// Status values reported by GetSessionState and queue operations.
const (
	StatusNone    = "none"
	StatusQueued  = "queued"
	StatusMatched = "matched"
	StatusActive  = "active"
	StatusEnded   = "ended"
)

// QueueResult is returned by Enqueue and RedeemReconnectCode.
type QueueResult struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// StateView is a user's view of where they are in the flow.
type StateView struct {
	Status          string     `json:"status"`
	SessionID       string     `json:"session_id,omitempty"`
	State           string     `json:"state,omitempty"`
	PromptIndex     int        `json:"prompt_index"`
	PromptCount     int        `json:"prompt_count,omitempty"`
	CurrentPrompt   string     `json:"current_prompt,omitempty"`
	Answered        bool       `json:"answered"`
	PeerRef         string     `json:"peer_ref,omitempty"`
	Mood            string     `json:"mood,omitempty"`
	Interests       []string   `json:"interests,omitempty"`
	SharedInterests []string   `json:"shared_interests,omitempty"`
	ChatDeadline    *time.Time `json:"chat_deadline,omitempty"`
	QueuedSince     *time.Time `json:"queued_since,omitempty"`
	ReconnectCode   string     `json:"reconnect_code,omitempty"`
}

// SubmitResult is returned by SubmitResponse.
type SubmitResult struct {
	OK          bool   `json:"ok"`
	Advanced    bool   `json:"advanced"`
	State       string `json:"state"`
	PromptIndex int    `json:"prompt_index"`
}

// SendResult is returned by Send.
type SendResult struct {
	MessageID string    `json:"message_id"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionDetail describes one session to one of its participants.
type SessionDetail struct {
	SessionID       string   `json:"session_id"`
	PeerRef         string   `json:"peer_ref"`
	Mood            string   `json:"mood"`
	SharedInterests []string `json:"shared_interests"`
	*relay.StateView
}

// Service is the collaborator-facing API.
type Service struct {
	matcher  *match.Matcher
	sessions *session.Manager
	prompts  *prompt.Sequencer
	relay    *relay.Relay
}

// Options configures Assemble.
type Options struct {
	MaxWait         time.Duration
	ChatDuration    time.Duration
	DisconnectGrace time.Duration
	CodeTTL         time.Duration
	LockTimeout     time.Duration
	// Prompts defaults to prompt.Guided.
	Prompts []string
	Now     func() time.Time
}

// New assembles a Service from its parts.
func New(matcher *match.Matcher, sessions *session.Manager, prompts *prompt.Sequencer, r *relay.Relay) *Service {
	return &Service{matcher: matcher, sessions: sessions, prompts: prompts, relay: r}
}

// Assemble wires the matcher, session manager, sequencer and relay over one
// repository and broker, sharing a single lock table.
func Assemble(repo store.Repository, broker relay.Broker, opts Options) *Service {
	prompts := opts.Prompts
	if len(prompts) == 0 {
		prompts = prompt.Guided
	}
	locks := keylock.New(opts.LockTimeout)
	matcher := match.New(repo, locks, match.Options{MaxWait: opts.MaxWait, Now: opts.Now})
	sessions := session.NewManager(repo, locks, matcher, session.Options{
		ChatDuration:    opts.ChatDuration,
		DisconnectGrace: opts.DisconnectGrace,
		CodeTTL:         opts.CodeTTL,
		PromptCount:     len(prompts),
		Now:             opts.Now,
	})
	seq := prompt.New(repo, sessions, prompts)
	r := relay.New(repo, sessions, broker)
	matcher.OnMatch(func(ctx context.Context, sess *domain.Session) {
		r.SessionChanged(ctx, sess)
	})
	return New(matcher, sessions, seq, r)
}

// Run drives the matching and session sweeps until ctx is done.
func (s *Service) Run(ctx context.Context, matchEvery, sessionEvery time.Duration) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.matcher.Run(ctx, matchEvery)
	}()
	go func() {
		defer wg.Done()
		s.sessions.Run(ctx, sessionEvery)
	}()
	wg.Wait()
}

// Enqueue requests a match for userID.
func (s *Service) Enqueue(ctx context.Context, userID, mood string, interests []string) (*QueueResult, error) {
	sess, err := s.matcher.Enqueue(ctx, userID, mood, interests)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return &QueueResult{Status: StatusMatched, SessionID: sess.ID}, nil
	}
	return &QueueResult{Status: StatusQueued}, nil
}

// Cancel withdraws userID from the queue. It is idempotent.
func (s *Service) Cancel(ctx context.Context, userID string) error {
	return s.matcher.Cancel(ctx, userID)
}

// CancelStrict withdraws userID from the queue and fails with
// domain.ErrNotQueued if there was no entry.
func (s *Service) CancelStrict(ctx context.Context, userID string) error {
	return s.matcher.CancelStrict(ctx, userID)
}

// GetSessionState reports the caller's active session, queue entry, or none.
// Polling counts as presence for an active session.
func (s *Service) GetSessionState(ctx context.Context, userID string) (*StateView, error) {
	sess, err := s.sessions.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		if err := s.sessions.Touch(ctx, sess.ID, userID); err != nil {
			if !domain.IsTransient(err) {
				return nil, err
			}
			slog.Debug("Presence update skipped", "session_id", sess.ID, "error", err)
		} else if sess, err = s.sessions.Get(ctx, sess.ID); err != nil {
			return nil, err
		}
		return s.view(ctx, sess, userID)
	}

	entry, err := s.matcher.Queued(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		since := entry.EnteredAt
		return &StateView{
			Status:      StatusQueued,
			Mood:        string(entry.Mood),
			Interests:   entry.Interests,
			QueuedSince: &since,
		}, nil
	}
	return &StateView{Status: StatusNone}, nil
}

func (s *Service) view(ctx context.Context, sess *domain.Session, userID string) (*StateView, error) {
	v := &StateView{
		Status:          StatusActive,
		SessionID:       sess.ID,
		State:           sess.State().String(),
		PromptIndex:     sess.PromptIndex,
		PromptCount:     s.sessions.PromptCount(),
		PeerRef:         sess.Peer(userID),
		Mood:            string(sess.Mood),
		SharedInterests: sess.SharedInterests,
	}
	switch sess.State() {
	case domain.StatePrompting:
		v.CurrentPrompt, _ = s.prompts.Prompt(sess.PromptIndex)
		answered, err := s.prompts.Answered(ctx, sess.ID, userID, sess.PromptIndex)
		if err != nil {
			return nil, err
		}
		v.Answered = answered
	case domain.StateChatting:
		deadline := sess.ChatDeadline(s.sessions.ChatDuration())
		v.ChatDeadline = &deadline
	case domain.StateEnded:
		v.Status = StatusEnded
		v.ReconnectCode = sess.ReconnectCode
	}
	return v, nil
}

// Prompts returns the shared prompt list.
func (s *Service) Prompts() []string {
	return s.prompts.Prompts()
}

// SubmitResponse records a prompt answer.
func (s *Service) SubmitResponse(ctx context.Context, sessionID, userID string, promptIndex int, response string) (*SubmitResult, error) {
	res, err := s.prompts.SubmitResponse(ctx, sessionID, userID, promptIndex, response)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{OK: true, Advanced: res.Advanced, State: res.State.String(), PromptIndex: res.PromptIndex}, nil
}

// ListResponses returns the prompt answers visible to userID.
func (s *Service) ListResponses(ctx context.Context, sessionID, userID string) ([]*domain.PromptResponse, error) {
	return s.prompts.ListResponses(ctx, sessionID, userID)
}

// Send appends a chat message.
func (s *Service) Send(ctx context.Context, sessionID, senderID, content string) (*SendResult, error) {
	msg, err := s.relay.Send(ctx, sessionID, senderID, content)
	if err != nil {
		return nil, err
	}
	return &SendResult{MessageID: msg.ID, Seq: msg.Seq, CreatedAt: msg.CreatedAt}, nil
}

// ListMessages returns messages after since (a message seq; 0 for all).
func (s *Service) ListMessages(ctx context.Context, sessionID, userID string, since int64) ([]*domain.Message, error) {
	return s.relay.ListMessages(ctx, sessionID, userID, since)
}

// Subscribe opens a live event stream for a participant.
func (s *Service) Subscribe(ctx context.Context, sessionID, userID string) (<-chan relay.Event, func(), error) {
	return s.relay.Subscribe(ctx, sessionID, userID)
}

// EndSession ends the session and returns its reconnect code, which is
// empty if the pair never reached chatting.
func (s *Service) EndSession(ctx context.Context, sessionID, userID string) (string, error) {
	return s.sessions.EndSession(ctx, sessionID, userID)
}

// Heartbeat records that userID is still present in the session.
func (s *Service) Heartbeat(ctx context.Context, sessionID, userID string) error {
	return s.sessions.Touch(ctx, sessionID, userID)
}

// Session returns a participant's view of one session, ended or not.
func (s *Service) Session(ctx context.Context, sessionID, userID string) (*SessionDetail, error) {
	sess, err := s.sessions.GetForParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{
		SessionID:       sess.ID,
		PeerRef:         sess.Peer(userID),
		Mood:            string(sess.Mood),
		SharedInterests: sess.SharedInterests,
		StateView:       relay.NewStateView(sess),
	}, nil
}

// RedeemReconnectCode re-queues both former participants as a forced pair.
func (s *Service) RedeemReconnectCode(ctx context.Context, code, userID string) (*QueueResult, error) {
	sess, err := s.sessions.RedeemReconnectCode(ctx, code, userID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return &QueueResult{Status: StatusMatched, SessionID: sess.ID}, nil
	}
	return &QueueResult{Status: StatusQueued}, nil
}

// Sweep runs one session expiry pass and one matching pass.
func (s *Service) Sweep(ctx context.Context) (ended, matched int, err error) {
	ended, err = s.sessions.Sweep(ctx)
	if err != nil {
		return ended, 0, err
	}
	created, err := s.matcher.TryMatch(ctx)
	return ended, len(created), err
}
