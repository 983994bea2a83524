package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/introji/connect/internal/domain"
	"github.com/introji/connect/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; IMMEDIATE transactions so writers queue on
	// busy_timeout instead of failing on lock upgrade.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS matching_queue (
		user_id TEXT PRIMARY KEY,
		mood TEXT NOT NULL,
		interests TEXT NOT NULL,
		pair_with TEXT,
		entered_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queue_entered ON matching_queue(entered_at);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_a TEXT NOT NULL,
		user_b TEXT NOT NULL,
		mood TEXT NOT NULL,
		shared_interests TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('prompting', 'chatting', 'ended')),
		prompt_index INTEGER NOT NULL DEFAULT 0 CHECK (prompt_index >= 0),
		created_at INTEGER NOT NULL,
		chat_started_at INTEGER,
		ended_at INTEGER,
		end_reason TEXT,
		reconnect_code TEXT,
		code_consumed_at INTEGER,
		last_seen_a INTEGER NOT NULL,
		last_seen_b INTEGER NOT NULL,
		CHECK (user_a <> user_b)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON chat_sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_a ON chat_sessions(user_a) WHERE status <> 'ended';
	CREATE INDEX IF NOT EXISTS idx_sessions_user_b ON chat_sessions(user_b) WHERE status <> 'ended';
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_reconnect_code ON chat_sessions(reconnect_code) WHERE reconnect_code IS NOT NULL;

	CREATE TABLE IF NOT EXISTS prompt_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES chat_sessions(id),
		user_id TEXT NOT NULL,
		prompt_index INTEGER NOT NULL,
		response TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (session_id, user_id, prompt_index)
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES chat_sessions(id),
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// dbErr wraps a driver error, marking busy/locked failures as transient.
func dbErr(op string, err error) error {
	if shared.IsSQLiteConflictError(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nullMS(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

type scanner interface {
	Scan(dest ...interface{}) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr(op+": begin", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("rollback failed", "op", op, "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbErr(op+": commit", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// --- users ---

// EnsureUser records an anonymous user, refreshing last_seen_at.
func (s *SQLiteStore) EnsureUser(ctx context.Context, userID string, now time.Time) error {
	query := `
	INSERT INTO users (user_id, created_at, last_seen_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET last_seen_at = excluded.last_seen_at`

	if _, err := s.db.ExecContext(ctx, query, userID, ms(now), ms(now)); err != nil {
		return dbErr("ensure user", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id, created_at, last_seen_at FROM users WHERE user_id = ?`, userID)

	var user domain.User
	var createdAt, lastSeen int64
	err := row.Scan(&user.UserID, &createdAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("scan user row", err)
	}
	user.CreatedAt = fromMS(createdAt)
	user.LastSeenAt = fromMS(lastSeen)
	return &user, nil
}

// --- matching queue ---

func upsertQueueEntry(ctx context.Context, ex execer, entry *domain.QueueEntry) error {
	interests, err := json.Marshal(entry.Interests)
	if err != nil {
		return fmt.Errorf("encode interests: %w", err)
	}
	query := `
	INSERT INTO matching_queue (user_id, mood, interests, pair_with, entered_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		mood = excluded.mood,
		interests = excluded.interests,
		pair_with = excluded.pair_with,
		entered_at = excluded.entered_at`
	if _, err := ex.ExecContext(ctx, query,
		entry.UserID, string(entry.Mood), string(interests), nullString(entry.PairWith), ms(entry.EnteredAt),
	); err != nil {
		return dbErr("upsert queue entry", err)
	}
	return nil
}

// UpsertQueueEntry creates or replaces the user's queue entry.
func (s *SQLiteStore) UpsertQueueEntry(ctx context.Context, entry *domain.QueueEntry) error {
	return upsertQueueEntry(ctx, s.db, entry)
}

func scanQueueEntry(row scanner) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	var mood, interests string
	var pairWith sql.NullString
	var enteredAt int64
	if err := row.Scan(&e.UserID, &mood, &interests, &pairWith, &enteredAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(interests), &e.Interests); err != nil {
		return nil, fmt.Errorf("decode interests for %s: %w", e.UserID, err)
	}
	e.Mood = domain.Mood(mood)
	e.PairWith = pairWith.String
	e.EnteredAt = fromMS(enteredAt)
	return &e, nil
}

// GetQueueEntry returns the user's queue entry, or nil, nil if not queued.
func (s *SQLiteStore) GetQueueEntry(ctx context.Context, userID string) (*domain.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, mood, interests, pair_with, entered_at
		FROM matching_queue WHERE user_id = ?`, userID)
	e, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("scan queue entry", err)
	}
	return e, nil
}

// DeleteQueueEntry removes the user's entry and reports whether one existed.
func (s *SQLiteStore) DeleteQueueEntry(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM matching_queue WHERE user_id = ?`, userID)
	if err != nil {
		return false, dbErr("delete queue entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListQueueEntries returns all waiting entries, oldest first.
func (s *SQLiteStore) ListQueueEntries(ctx context.Context) ([]*domain.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, mood, interests, pair_with, entered_at
		FROM matching_queue ORDER BY entered_at ASC, user_id ASC`)
	if err != nil {
		return nil, dbErr("query queue entries", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close queue rows", "error", closeErr)
		}
	}()

	var entries []*domain.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, dbErr("scan queue entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate queue entries", err)
	}
	return entries, nil
}

// --- sessions ---

const sessionColumns = `id, user_a, user_b, mood, shared_interests, status, prompt_index,
	created_at, chat_started_at, ended_at, end_reason, reconnect_code, code_consumed_at,
	last_seen_a, last_seen_b`

func scanSession(row scanner) (*domain.Session, error) {
	var s domain.Session
	var mood, shared, status string
	var createdAt, lastSeenA, lastSeenB int64
	var chatStarted, endedAt, consumedAt sql.NullInt64
	var endReason, code sql.NullString

	if err := row.Scan(
		&s.ID, &s.UserA, &s.UserB, &mood, &shared, &status, &s.PromptIndex,
		&createdAt, &chatStarted, &endedAt, &endReason, &code, &consumedAt,
		&lastSeenA, &lastSeenB,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(shared), &s.SharedInterests); err != nil {
		return nil, fmt.Errorf("decode shared interests for %s: %w", s.ID, err)
	}
	st, err := domain.ParseState(status)
	if err != nil {
		return nil, err
	}
	s.Mood = domain.Mood(mood)
	s.CreatedAt = fromMS(createdAt)
	s.ChatStartedAt = timePtr(chatStarted)
	s.EndedAt = timePtr(endedAt)
	s.EndReason = domain.EndReason(endReason.String)
	s.ReconnectCode = code.String
	s.CodeConsumedAt = timePtr(consumedAt)
	s.LastSeenA = fromMS(lastSeenA)
	s.LastSeenB = fromMS(lastSeenB)
	return domain.Rehydrate(s, st)
}

func countActiveSessions(ctx context.Context, ex execer, userIDs ...string) (int, error) {
	var n int
	for _, id := range userIDs {
		var c int
		err := ex.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM chat_sessions
			WHERE status <> 'ended' AND (user_a = ? OR user_b = ?)`, id, id).Scan(&c)
		if err != nil {
			return 0, dbErr("count active sessions", err)
		}
		n += c
	}
	return n, nil
}

// CreateMatch atomically removes both queue entries and inserts the session.
func (s *SQLiteStore) CreateMatch(ctx context.Context, session *domain.Session) error {
	shared, err := json.Marshal(session.SharedInterests)
	if err != nil {
		return fmt.Errorf("encode shared interests: %w", err)
	}
	if session.SharedInterests == nil {
		shared = []byte("[]")
	}

	return s.withTx(ctx, "create match", func(tx *sql.Tx) error {
		active, err := countActiveSessions(ctx, tx, session.UserA, session.UserB)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("create match %s: %w", session.ID, domain.ErrAlreadyInSession)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM matching_queue WHERE user_id IN (?, ?)`, session.UserA, session.UserB)
		if err != nil {
			return dbErr("remove matched entries", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if n != 2 {
			return fmt.Errorf("create match %s: %w", session.ID, domain.ErrNotQueued)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.UserA, session.UserB, string(session.Mood), string(shared),
			session.State().String(), session.PromptIndex,
			ms(session.CreatedAt), nullMS(session.ChatStartedAt), nullMS(session.EndedAt),
			nullString(string(session.EndReason)), nullString(session.ReconnectCode), nullMS(session.CodeConsumedAt),
			ms(session.LastSeenA), ms(session.LastSeenB),
		)
		if err != nil {
			return dbErr("insert session", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	if err != nil {
		return nil, dbErr("scan session", err)
	}
	return sess, nil
}

// GetActiveSession returns the user's non-ended session, or nil, nil.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE status <> 'ended' AND (user_a = ? OR user_b = ?)
		ORDER BY created_at DESC LIMIT 1`, userID, userID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("scan active session", err)
	}
	return sess, nil
}

// ListActiveSessions returns every session that has not ended.
func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE status <> 'ended' ORDER BY created_at ASC`)
	if err != nil {
		return nil, dbErr("query active sessions", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, dbErr("scan session", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate sessions", err)
	}
	return sessions, nil
}

func updateSession(ctx context.Context, ex execer, change *domain.SessionChange) error {
	sess := change.Session
	res, err := ex.ExecContext(ctx, `
		UPDATE chat_sessions SET
			status = ?, prompt_index = ?, chat_started_at = ?, ended_at = ?, end_reason = ?,
			reconnect_code = ?, code_consumed_at = ?, last_seen_a = ?, last_seen_b = ?
		WHERE id = ? AND status = ? AND prompt_index = ?`,
		sess.State().String(), sess.PromptIndex, nullMS(sess.ChatStartedAt), nullMS(sess.EndedAt),
		nullString(string(sess.EndReason)), nullString(sess.ReconnectCode), nullMS(sess.CodeConsumedAt),
		ms(sess.LastSeenA), ms(sess.LastSeenB),
		sess.ID, change.FromState.String(), change.FromIndex,
	)
	if err != nil {
		if shared.IsSQLiteUniqueError(err) {
			return fmt.Errorf("update session %s: reconnect code collision: %w", sess.ID, domain.ErrTransient)
		}
		return dbErr("update session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := ex.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE id = ?`, sess.ID).Scan(&exists); err != nil {
			return dbErr("check session", err)
		}
		if exists == 0 {
			return fmt.Errorf("session %s: %w", sess.ID, domain.ErrSessionNotFound)
		}
		slog.Warn("UpdateSession lost optimistic lock", "session_id", sess.ID, "expected_state", change.FromState.String())
		return fmt.Errorf("session %s changed concurrently: %w", sess.ID, domain.ErrTransient)
	}
	return nil
}

// UpdateSession persists a guarded session write.
func (s *SQLiteStore) UpdateSession(ctx context.Context, change *domain.SessionChange) error {
	return updateSession(ctx, s.db, change)
}

// GetSessionByCode looks up the session that issued a reconnect code.
func (s *SQLiteStore) GetSessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE reconnect_code = ?`, code)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("code lookup: %w", domain.ErrInvalidCode)
	}
	if err != nil {
		return nil, dbErr("scan session by code", err)
	}
	return sess, nil
}

// CodeExists reports whether a reconnect code was ever issued.
func (s *SQLiteStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE reconnect_code = ?`, code).Scan(&n); err != nil {
		return false, dbErr("check reconnect code", err)
	}
	return n > 0, nil
}

// RedeemCode consumes a reconnect code and re-queues the given entries.
func (s *SQLiteStore) RedeemCode(ctx context.Context, code string, now time.Time, entries ...*domain.QueueEntry) error {
	return s.withTx(ctx, "redeem code", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE chat_sessions SET code_consumed_at = ?
			WHERE reconnect_code = ? AND code_consumed_at IS NULL`, ms(now), code)
		if err != nil {
			return dbErr("consume reconnect code", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("consume reconnect code: %w", domain.ErrInvalidCode)
		}

		for _, e := range entries {
			active, err := countActiveSessions(ctx, tx, e.UserID)
			if err != nil {
				return err
			}
			if active > 0 {
				return fmt.Errorf("re-queue %s: %w", e.UserID, domain.ErrAlreadyInSession)
			}
			if err := upsertQueueEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- prompt responses ---

// HasResponse reports whether userID answered promptIndex in the session.
func (s *SQLiteStore) HasResponse(ctx context.Context, sessionID, userID string, promptIndex int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM prompt_responses
		WHERE session_id = ? AND user_id = ? AND prompt_index = ?`,
		sessionID, userID, promptIndex).Scan(&n)
	if err != nil {
		return false, dbErr("check response", err)
	}
	return n > 0, nil
}

// InsertResponse records a prompt answer and the session write atomically.
func (s *SQLiteStore) InsertResponse(ctx context.Context, resp *domain.PromptResponse, change *domain.SessionChange) error {
	return s.withTx(ctx, "insert response", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO prompt_responses (session_id, user_id, prompt_index, response, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			resp.SessionID, resp.UserID, resp.PromptIndex, resp.Response, ms(resp.CreatedAt))
		if err != nil {
			if shared.IsSQLiteUniqueError(err) {
				return fmt.Errorf("prompt %d: %w", resp.PromptIndex, domain.ErrDuplicateResponse)
			}
			return dbErr("insert response", err)
		}
		if change != nil {
			return updateSession(ctx, tx, change)
		}
		return nil
	})
}

// ListResponses returns all answers for a session ordered by index.
func (s *SQLiteStore) ListResponses(ctx context.Context, sessionID string) ([]*domain.PromptResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, prompt_index, response, created_at
		FROM prompt_responses WHERE session_id = ?
		ORDER BY prompt_index ASC, id ASC`, sessionID)
	if err != nil {
		return nil, dbErr("query responses", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close response rows", "error", closeErr)
		}
	}()

	var out []*domain.PromptResponse
	for rows.Next() {
		var r domain.PromptResponse
		var createdAt int64
		if err := rows.Scan(&r.SessionID, &r.UserID, &r.PromptIndex, &r.Response, &createdAt); err != nil {
			return nil, dbErr("scan response", err)
		}
		r.CreatedAt = fromMS(createdAt)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate responses", err)
	}
	return out, nil
}

// --- messages ---

// InsertMessage appends a message to a chatting session.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sender_id, content, created_at)
		SELECT ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM chat_sessions WHERE id = ? AND status = 'chatting')`,
		msg.ID, msg.SessionID, msg.SenderID, msg.Content, ms(msg.CreatedAt), msg.SessionID)
	if err != nil {
		return dbErr("insert message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", msg.SessionID, domain.ErrSessionNotActive)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get message seq: %w", err)
	}
	msg.Seq = seq
	return nil
}

// LastMessageAt returns the newest message timestamp in a session.
func (s *SQLiteStore) LastMessageAt(ctx context.Context, sessionID string) (time.Time, error) {
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages WHERE session_id = ?`, sessionID).Scan(&last); err != nil {
		return time.Time{}, dbErr("query last message", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return fromMS(last.Int64), nil
}

// ListMessages returns messages after afterSeq in delivery order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, session_id, sender_id, content, created_at
		FROM messages WHERE session_id = ? AND seq > ?
		ORDER BY created_at ASC, seq ASC LIMIT ?`, sessionID, afterSeq, limit)
	if err != nil {
		return nil, dbErr("query messages", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []*domain.Message
	for rows.Next() {
		var m domain.Message
		var createdAt int64
		if err := rows.Scan(&m.Seq, &m.ID, &m.SessionID, &m.SenderID, &m.Content, &createdAt); err != nil {
			return nil, dbErr("scan message", err)
		}
		m.CreatedAt = fromMS(createdAt)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate messages", err)
	}
	return out, nil
}
