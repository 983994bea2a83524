package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/introji/connect/internal/store"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddlewareIssuesAndReusesIdentity(t *testing.T) {
	repo := newRepo(t)
	var seen []string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, UserIDFromContext(r.Context()))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName {
		t.Fatalf("cookies = %v", cookies)
	}
	if !isValidAnonID(seen[0]) || cookies[0].Value != seen[0] {
		t.Fatalf("user id %q, cookie %q", seen[0], cookies[0].Value)
	}
	if cookies[0].Secure {
		t.Error("cookie should not be Secure in development")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen[1] != seen[0] {
		t.Fatalf("identity changed: %q -> %q", seen[0], seen[1])
	}

	u, err := repo.GetUser(context.Background(), seen[0])
	if err != nil || u == nil {
		t.Fatalf("GetUser = %v, %v", u, err)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	repo := newRepo(t)
	var got string
	h := Middleware(repo, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "someone-else"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got == "someone-else" || !isValidAnonID(got) {
		t.Fatalf("forged cookie accepted: %q", got)
	}
	if c := w.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Fatalf("expected one Secure cookie, got %v", c)
	}
}

func TestUserIDFromContextEmpty(t *testing.T) {
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := UserIDFromContext(WithUserID(context.Background(), "u1")); got != "u1" {
		t.Fatalf("got %q", got)
	}
}
