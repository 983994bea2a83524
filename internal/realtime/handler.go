package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/introji/connect/internal/api"
	"github.com/introji/connect/internal/connect"
	"github.com/introji/connect/internal/domain"
	"github.com/introji/connect/internal/identity"
	"github.com/introji/connect/internal/relay"
)

const (
	writeTimeout     = 10 * time.Second
	presenceInterval = 20 * time.Second
)

// Streamer is the part of the service a stream needs.
type Streamer interface {
	Subscribe(ctx context.Context, sessionID, userID string) (<-chan relay.Event, func(), error)
	ListMessages(ctx context.Context, sessionID, userID string, since int64) ([]*domain.Message, error)
	Heartbeat(ctx context.Context, sessionID, userID string) error
	Session(ctx context.Context, sessionID, userID string) (*connect.SessionDetail, error)
}

// clientMessage is sent by the browser over the stream.
type clientMessage struct {
	Type string `json:"type"`
}

// Handler upgrades participant requests to a session event stream.
type Handler struct {
	svc           Streamer
	registry      *Registry
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a stream handler.
func NewHandler(svc Streamer, registry *Registry, allowedOrigin string, isDev bool) *Handler {
	return &Handler{svc: svc, registry: registry, allowedOrigin: allowedOrigin, isDev: isDev}
}

// RegisterRoutes registers the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/connect/sessions/{id}", h.ServeHTTP)
}

// ServeHTTP subscribes to the session, replays messages after ?since=, then
// forwards live events until the client leaves or the session ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		api.Error(w, http.StatusForbidden, "origin not allowed")
		return
	}
	since, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	if err != nil || since < 0 {
		since = 0
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before replaying so nothing published in between is lost.
	events, unsubscribe, err := h.svc.Subscribe(ctx, sessionID, userID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	defer unsubscribe()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.registry.Register(userID, sessionID, ws)
	defer h.registry.Unregister(userID, sessionID, ws)

	h.touch(ctx, sessionID, userID)

	detail, err := h.svc.Session(ctx, sessionID, userID)
	if err != nil {
		slog.Warn("Stream snapshot failed", "session_id", sessionID, "error", err)
		return
	}
	state := detail.StateView
	if err := h.write(ctx, ws, relay.Event{Type: relay.EventState, SessionID: sessionID, State: state}); err != nil {
		return
	}

	lastSeq, err := h.replay(ctx, ws, sessionID, userID, since)
	if err != nil {
		return
	}
	if state.State == domain.StateEnded.String() {
		return
	}

	go h.readLoop(ctx, cancel, ws, sessionID, userID)

	ticker := time.NewTicker(presenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.touch(ctx, sessionID, userID)
		case ev, ok := <-events:
			if !ok {
				// Evicted as a slow consumer; the client reconnects with since.
				_ = ws.Close(websocket.StatusTryAgainLater, "stream lagged")
				return
			}
			if ev.Type == relay.EventMessage && ev.Message != nil {
				if ev.Message.Seq <= lastSeq {
					continue
				}
				lastSeq = ev.Message.Seq
			}
			if err := h.write(ctx, ws, ev); err != nil {
				return
			}
			if ev.Type == relay.EventState && ev.State != nil && ev.State.State == domain.StateEnded.String() {
				slog.Info("Session stream finished", "user_id", userID, "session_id", sessionID)
				return
			}
		}
	}
}

// replay writes stored messages after since and returns the last seq sent.
func (h *Handler) replay(ctx context.Context, ws *websocket.Conn, sessionID, userID string, since int64) (int64, error) {
	msgs, err := h.svc.ListMessages(ctx, sessionID, userID, since)
	if err != nil {
		slog.Warn("Stream replay failed", "session_id", sessionID, "error", err)
		return since, err
	}
	last := since
	for _, m := range msgs {
		if err := h.write(ctx, ws, relay.Event{Type: relay.EventMessage, SessionID: sessionID, Message: m}); err != nil {
			return last, err
		}
		if m.Seq > last {
			last = m.Seq
		}
	}
	return last, nil
}

func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, sessionID, userID string) {
	defer cancel()
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}
		if msg.Type == "ping" {
			h.touch(ctx, sessionID, userID)
			if err := h.write(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

// touch records presence; failures only delay the next refresh.
func (h *Handler) touch(ctx context.Context, sessionID, userID string) {
	if err := h.svc.Heartbeat(ctx, sessionID, userID); err != nil && ctx.Err() == nil {
		slog.Debug("Stream presence update failed", "session_id", sessionID, "user_id", userID, "error", err)
	}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, ws, v); err != nil {
		if ctx.Err() == nil {
			slog.Debug("WebSocket write error", "error", err)
		}
		return err
	}
	return nil
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
