package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/introji/connect/internal/connect"
	"github.com/introji/connect/internal/identity"
	"github.com/introji/connect/internal/middleware"
)

// ConnectHandler serves the matchmaking and paired-chat endpoints.
type ConnectHandler struct {
	svc     *connect.Service
	limiter *middleware.RateLimiter
}

// NewConnectHandler creates a handler. limiter bounds message sends per
// user; nil disables the limit.
func NewConnectHandler(svc *connect.Service, limiter *middleware.RateLimiter) *ConnectHandler {
	return &ConnectHandler{svc: svc, limiter: limiter}
}

// RegisterRoutes registers the connect routes.
func (h *ConnectHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/connect", func(r chi.Router) {
		r.Post("/queue", h.Enqueue)
		r.Delete("/queue", h.Cancel)
		r.Get("/session", h.State)
		r.Get("/prompts", h.Prompts)
		r.Post("/reconnect", h.Reconnect)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.Session)
			r.Post("/responses", h.SubmitResponse)
			r.Get("/responses", h.ListResponses)
			r.Get("/messages", h.ListMessages)
			r.Post("/end", h.End)
			r.Post("/heartbeat", h.Heartbeat)
			if h.limiter != nil {
				r.With(middleware.RateLimit(h.limiter, userKey)).Post("/messages", h.Send)
			} else {
				r.Post("/messages", h.Send)
			}
		})
	})
}

func userKey(r *http.Request) string {
	return identity.UserIDFromContext(r.Context())
}

// requireUser returns the caller's identity or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

type enqueueRequest struct {
	Mood      string   `json:"mood"`
	Interests []string `json:"interests"`
}

// Enqueue places the caller in the matching pool.
func (h *ConnectHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req enqueueRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Enqueue(r.Context(), userID, req.Mood, req.Interests)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Cancel withdraws the caller from the pool. With ?strict=true a missing
// entry is a 409.
func (h *ConnectHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var err error
	if strict, _ := strconv.ParseBool(r.URL.Query().Get("strict")); strict {
		err = h.svc.CancelStrict(r.Context(), userID)
	} else {
		err = h.svc.Cancel(r.Context(), userID)
	}
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// State reports the caller's current position in the flow.
func (h *ConnectHandler) State(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	st, err := h.svc.GetSessionState(r.Context(), userID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// Prompts lists the guided prompts.
func (h *ConnectHandler) Prompts(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string][]string{"prompts": h.svc.Prompts()})
}

// Session returns one session as seen by the caller.
func (h *ConnectHandler) Session(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.Session(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, detail)
}

type responseRequest struct {
	PromptIndex *int   `json:"prompt_index"`
	Response    string `json:"response"`
}

// SubmitResponse records the caller's answer to a prompt.
func (h *ConnectHandler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req responseRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PromptIndex == nil {
		JSON(w, http.StatusBadRequest, errorBody{Error: "validation", Message: "prompt_index is required", Field: "prompt_index"})
		return
	}
	res, err := h.svc.SubmitResponse(r.Context(), chi.URLParam(r, "id"), userID, *req.PromptIndex, req.Response)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// ListResponses returns the prompt answers visible to the caller.
func (h *ConnectHandler) ListResponses(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	resps, err := h.svc.ListResponses(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"responses": resps})
}

type sendRequest struct {
	Content string `json:"content"`
}

// Send posts a chat message.
func (h *ConnectHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Send(r.Context(), chi.URLParam(r, "id"), userID, req.Content)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// ListMessages returns messages after ?since= (a message seq).
func (h *ConnectHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	since, err := parseSince(r)
	if err != nil {
		JSON(w, http.StatusBadRequest, errorBody{Error: "validation", Message: "since must be a non-negative integer", Field: "since"})
		return
	}
	msgs, err := h.svc.ListMessages(r.Context(), chi.URLParam(r, "id"), userID, since)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// parseSince reads the optional since query parameter.
func parseSince(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

// End ends the session on the caller's behalf.
func (h *ConnectHandler) End(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	code, err := h.svc.EndSession(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"reconnect_code": code})
}

// Heartbeat records the caller's presence.
func (h *ConnectHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Heartbeat(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reconnectRequest struct {
	Code string `json:"code"`
}

// Reconnect redeems a reconnect code.
func (h *ConnectHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req reconnectRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.RedeemReconnectCode(r.Context(), req.Code, userID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}
