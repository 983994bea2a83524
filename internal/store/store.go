// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/introji/connect/internal/domain"
)

// Repository is the durable store for users, queue entries, sessions,
// prompt responses and messages.
type Repository interface {
	// EnsureUser records an anonymous user, refreshing last_seen_at.
	EnsureUser(ctx context.Context, userID string, now time.Time) error

	// GetUser retrieves a user by ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertQueueEntry creates or replaces the user's queue entry.
	UpsertQueueEntry(ctx context.Context, entry *domain.QueueEntry) error

	// GetQueueEntry returns the user's queue entry, or nil, nil if not queued.
	GetQueueEntry(ctx context.Context, userID string) (*domain.QueueEntry, error)

	// DeleteQueueEntry removes the user's entry and reports whether one existed.
	DeleteQueueEntry(ctx context.Context, userID string) (bool, error)

	// ListQueueEntries returns all waiting entries, oldest first.
	ListQueueEntries(ctx context.Context) ([]*domain.QueueEntry, error)

	// CreateMatch atomically removes both users' queue entries and inserts the
	// session. Fails with domain.ErrNotQueued if either entry is gone and
	// domain.ErrAlreadyInSession if either user is in a non-ended session.
	CreateMatch(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID or fails with domain.ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// GetActiveSession returns the user's non-ended session, or nil, nil.
	GetActiveSession(ctx context.Context, userID string) (*domain.Session, error)

	// ListActiveSessions returns every session that has not ended.
	ListActiveSessions(ctx context.Context) ([]*domain.Session, error)

	// UpdateSession persists a session write if the stored row still has the
	// state and prompt index the change was read in (optimistic locking).
	UpdateSession(ctx context.Context, change *domain.SessionChange) error

	// GetSessionByCode looks up the session that issued a reconnect code.
	GetSessionByCode(ctx context.Context, code string) (*domain.Session, error)

	// CodeExists reports whether a reconnect code was ever issued.
	CodeExists(ctx context.Context, code string) (bool, error)

	// RedeemCode marks a reconnect code consumed and upserts the re-queue
	// entries in one transaction. Fails with domain.ErrInvalidCode if the code
	// was consumed concurrently.
	RedeemCode(ctx context.Context, code string, now time.Time, entries ...*domain.QueueEntry) error

	// HasResponse reports whether userID answered promptIndex in the session.
	HasResponse(ctx context.Context, sessionID, userID string, promptIndex int) (bool, error)

	// InsertResponse records a prompt answer and applies the session write in
	// the same transaction.
	InsertResponse(ctx context.Context, resp *domain.PromptResponse, change *domain.SessionChange) error

	// ListResponses returns all answers for a session ordered by index.
	ListResponses(ctx context.Context, sessionID string) ([]*domain.PromptResponse, error)

	// InsertMessage appends a message if the session is chatting, assigning Seq.
	// Fails with domain.ErrSessionNotActive otherwise.
	InsertMessage(ctx context.Context, msg *domain.Message) error

	// LastMessageAt returns the newest message timestamp in a session (zero if none).
	LastMessageAt(ctx context.Context, sessionID string) (time.Time, error)

	// ListMessages returns messages with Seq > afterSeq ordered by created_at, seq.
	// limit <= 0 means no limit.
	ListMessages(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]*domain.Message, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
