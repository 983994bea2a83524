package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/introji/connect/internal/connect"
	"github.com/introji/connect/internal/domain"
	"github.com/introji/connect/internal/identity"
	"github.com/introji/connect/internal/middleware"
	"github.com/introji/connect/internal/relay"
	"github.com/introji/connect/internal/store"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestWriteErrorStatus(t *testing.T) {
	tests := []struct {
		err        error
		status     int
		code       string
		retryAfter bool
	}{
		{domain.Invalid("mood", "unknown"), http.StatusBadRequest, "validation", false},
		{fmt.Errorf("get: %w", domain.ErrNotAParticipant), http.StatusForbidden, "not_a_participant", false},
		{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found", false},
		{domain.ErrInvalidCode, http.StatusNotFound, "invalid_code", false},
		{domain.ErrCodeExpired, http.StatusGone, "code_expired", false},
		{domain.ErrPromptIndexMismatch, http.StatusConflict, "prompt_index_mismatch", false},
		{fmt.Errorf("lock: %w", domain.ErrTransient), http.StatusServiceUnavailable, "transient", true},
		{errors.New("boom"), http.StatusInternalServerError, "internal error", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var body map[string]string
			_ = json.NewDecoder(w.Body).Decode(&body)
			if body["error"] != tt.code {
				t.Errorf("error = %q, want %q", body["error"], tt.code)
			}
			if got := w.Header().Get("Retry-After") != ""; got != tt.retryAfter {
				t.Errorf("Retry-After present = %v", got)
			}
		})
	}
}

// testServer routes requests as the user named in X-Test-User.
func testServer(t *testing.T, sendLimit int) http.Handler {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	broker := relay.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	svc := connect.Assemble(repo, broker, connect.Options{
		MaxWait:         time.Minute,
		ChatDuration:    20 * time.Minute,
		DisconnectGrace: 2 * time.Minute,
		CodeTTL:         24 * time.Hour,
		LockTimeout:     5 * time.Second,
		Prompts:         []string{"Only prompt?"},
	})
	rl := middleware.NewRateLimiter(sendLimit, time.Minute)
	t.Cleanup(rl.Stop)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if u := req.Header.Get("X-Test-User"); u != "" {
				req = req.WithContext(identity.WithUserID(req.Context(), u))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewConnectHandler(svc, rl).RegisterRoutes(r)
	NewHealthHandler(repo, nil).RegisterHealth(r)
	return r
}

func call(t *testing.T, h http.Handler, user, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf).WithContext(context.Background())
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return w.Code
}

func TestConnectFlow(t *testing.T) {
	h := testServer(t, 3)

	var q connect.QueueResult
	if code := call(t, h, "A", http.MethodPost, "/api/connect/queue", enqueueRequest{Mood: "curious", Interests: []string{"art"}}, &q); code != http.StatusOK || q.Status != connect.StatusQueued {
		t.Fatalf("enqueue A = %d %+v", code, q)
	}
	if code := call(t, h, "B", http.MethodPost, "/api/connect/queue", enqueueRequest{Mood: "curious", Interests: []string{"Art"}}, &q); code != http.StatusOK || q.Status != connect.StatusMatched {
		t.Fatalf("enqueue B = %d %+v", code, q)
	}
	base := "/api/connect/sessions/" + q.SessionID

	var st connect.StateView
	if code := call(t, h, "A", http.MethodGet, "/api/connect/session", nil, &st); code != http.StatusOK || st.State != "prompting" || st.CurrentPrompt != "Only prompt?" {
		t.Fatalf("state = %d %+v", code, st)
	}

	if code := call(t, h, "A", http.MethodPost, base+"/messages", sendRequest{Content: "too early"}, nil); code != http.StatusConflict {
		t.Fatalf("send while prompting = %d", code)
	}
	if code := call(t, h, "A", http.MethodPost, base+"/responses", map[string]interface{}{"response": "x"}, nil); code != http.StatusBadRequest {
		t.Fatalf("missing prompt_index = %d", code)
	}
	if code := call(t, h, "A", http.MethodPost, base+"/responses", map[string]interface{}{"prompt_index": 1, "response": "x"}, nil); code != http.StatusConflict {
		t.Fatalf("wrong index = %d", code)
	}
	for _, u := range []string{"A", "B"} {
		if code := call(t, h, u, http.MethodPost, base+"/responses", map[string]interface{}{"prompt_index": 0, "response": "answer " + u}, nil); code != http.StatusOK {
			t.Fatalf("respond %s = %d", u, code)
		}
	}
	var resps struct {
		Responses []domain.PromptResponse `json:"responses"`
	}
	if code := call(t, h, "B", http.MethodGet, base+"/responses", nil, &resps); code != http.StatusOK || len(resps.Responses) != 2 {
		t.Fatalf("responses = %d %+v", code, resps)
	}

	var sent connect.SendResult
	if code := call(t, h, "A", http.MethodPost, base+"/messages", sendRequest{Content: "hi"}, &sent); code != http.StatusCreated || sent.MessageID == "" {
		t.Fatalf("send = %d %+v", code, sent)
	}
	if code := call(t, h, "A", http.MethodPost, base+"/messages", sendRequest{Content: "  "}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty send = %d", code)
	}
	if code := call(t, h, "A", http.MethodPost, base+"/messages", sendRequest{Content: "third"}, nil); code != http.StatusTooManyRequests {
		t.Fatalf("rate limited send = %d", code)
	}
	if code := call(t, h, "C", http.MethodGet, base+"/messages", nil, nil); code != http.StatusForbidden {
		t.Fatalf("outsider read = %d", code)
	}
	var msgs struct {
		Messages []domain.Message `json:"messages"`
	}
	if code := call(t, h, "B", http.MethodGet, base+"/messages?since=0", nil, &msgs); code != http.StatusOK || len(msgs.Messages) != 1 {
		t.Fatalf("messages = %d %+v", code, msgs)
	}
	if code := call(t, h, "B", http.MethodGet, base+"/messages?since=-1", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad since = %d", code)
	}

	if code := call(t, h, "B", http.MethodPost, base+"/heartbeat", nil, nil); code != http.StatusNoContent {
		t.Fatalf("heartbeat = %d", code)
	}

	var ended map[string]string
	if code := call(t, h, "B", http.MethodPost, base+"/end", nil, &ended); code != http.StatusOK || ended["reconnect_code"] == "" {
		t.Fatalf("end = %d %v", code, ended)
	}
	if code := call(t, h, "A", http.MethodPost, base+"/end", nil, nil); code != http.StatusConflict {
		t.Fatalf("second end = %d", code)
	}

	if code := call(t, h, "A", http.MethodPost, "/api/connect/reconnect", reconnectRequest{Code: "NOPE2345"}, nil); code != http.StatusNotFound {
		t.Fatalf("bad code = %d", code)
	}
	if code := call(t, h, "A", http.MethodPost, "/api/connect/reconnect", reconnectRequest{Code: ended["reconnect_code"]}, &q); code != http.StatusOK || q.Status != connect.StatusMatched {
		t.Fatalf("reconnect = %d %+v", code, q)
	}
}

func TestQueueValidationAndCancel(t *testing.T) {
	h := testServer(t, 10)

	if code := call(t, h, "", http.MethodGet, "/api/connect/session", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", code)
	}
	if code := call(t, h, "A", http.MethodPost, "/api/connect/queue", enqueueRequest{Mood: "angry", Interests: []string{"art"}}, nil); code != http.StatusBadRequest {
		t.Fatalf("bad mood = %d", code)
	}
	if code := call(t, h, "A", http.MethodPost, "/api/connect/queue", enqueueRequest{Mood: "hopeful"}, nil); code != http.StatusBadRequest {
		t.Fatalf("no interests = %d", code)
	}
	if code := call(t, h, "A", http.MethodDelete, "/api/connect/queue", nil, nil); code != http.StatusOK {
		t.Fatalf("idempotent cancel = %d", code)
	}
	if code := call(t, h, "A", http.MethodDelete, "/api/connect/queue?strict=true", nil, nil); code != http.StatusConflict {
		t.Fatalf("strict cancel = %d", code)
	}

	var prompts map[string][]string
	if code := call(t, h, "A", http.MethodGet, "/api/connect/prompts", nil, &prompts); code != http.StatusOK || len(prompts["prompts"]) != 1 {
		t.Fatalf("prompts = %d %v", code, prompts)
	}
	if code := call(t, h, "A", http.MethodGet, "/api/connect/sessions/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing session = %d", code)
	}
}

func TestHealth(t *testing.T) {
	h := testServer(t, 1)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if code := call(t, h, "", http.MethodGet, "/health", nil, &body); code != http.StatusOK || body.Status != "healthy" {
		t.Fatalf("health = %d %+v", code, body)
	}
}
