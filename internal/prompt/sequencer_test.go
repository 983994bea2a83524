package prompt

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/introji/connect/internal/domain"
	"github.com/introji/connect/internal/keylock"
	"github.com/introji/connect/internal/match"
	"github.com/introji/connect/internal/session"
	"github.com/introji/connect/internal/store"
)

var testPrompts = []string{"first?", "second?", "third?"}

func newTestSequencer(t *testing.T) (*Sequencer, *session.Manager, *domain.Session) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "prompt.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	locks := keylock.New(5 * time.Second)
	matcher := match.New(repo, locks, match.Options{MaxWait: time.Minute})
	mgr := session.NewManager(repo, locks, matcher, session.Options{
		ChatDuration:    20 * time.Minute,
		DisconnectGrace: 10 * time.Minute,
		CodeTTL:         24 * time.Hour,
		PromptCount:     len(testPrompts),
	})

	ctx := context.Background()
	if _, err := matcher.Enqueue(ctx, "A", "curious", []string{"astronomy"}); err != nil {
		t.Fatal(err)
	}
	s, err := matcher.Enqueue(ctx, "B", "curious", []string{"astronomy"})
	if err != nil || s == nil {
		t.Fatalf("match: %v, %v", s, err)
	}
	return New(repo, mgr, testPrompts), mgr, s
}

func TestSubmitResponseAdvancesAfterBoth(t *testing.T) {
	seq, mgr, s := newTestSequencer(t)
	ctx := context.Background()

	res, err := seq.SubmitResponse(ctx, s.ID, "A", 0, "stars")
	if err != nil {
		t.Fatal(err)
	}
	if res.Advanced || res.PromptIndex != 0 {
		t.Fatalf("advanced after one answer: %+v", res)
	}

	res, err = seq.SubmitResponse(ctx, s.ID, "B", 0, "planets")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Advanced || res.PromptIndex != 1 || res.State != domain.StatePrompting {
		t.Fatalf("expected advance to 1: %+v", res)
	}

	got, _ := mgr.Get(ctx, s.ID)
	if got.PromptIndex != 1 {
		t.Fatalf("persisted index = %d", got.PromptIndex)
	}
}

func TestSubmitResponseErrors(t *testing.T) {
	seq, _, s := newTestSequencer(t)
	ctx := context.Background()

	if _, err := seq.SubmitResponse(ctx, s.ID, "A", 0, "  "); !domain.IsValidation(err) {
		t.Fatalf("blank: expected validation error, got %v", err)
	}
	if _, err := seq.SubmitResponse(ctx, s.ID, "A", 0, strings.Repeat("x", MaxResponseLen+1)); !domain.IsValidation(err) {
		t.Fatalf("long: expected validation error, got %v", err)
	}
	if _, err := seq.SubmitResponse(ctx, s.ID, "A", 1, "early"); !errors.Is(err, domain.ErrPromptIndexMismatch) {
		t.Fatalf("index 1 before 0 complete: expected ErrPromptIndexMismatch, got %v", err)
	}
	if _, err := seq.SubmitResponse(ctx, s.ID, "C", 0, "hi"); !errors.Is(err, domain.ErrNotAParticipant) {
		t.Fatalf("stranger: expected ErrNotAParticipant, got %v", err)
	}
	if _, err := seq.SubmitResponse(ctx, s.ID, "A", 0, "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := seq.SubmitResponse(ctx, s.ID, "A", 0, "two"); !errors.Is(err, domain.ErrDuplicateResponse) {
		t.Fatalf("expected ErrDuplicateResponse, got %v", err)
	}
	if _, err := seq.SubmitResponse(ctx, s.ID, "A", 1, "ahead"); !errors.Is(err, domain.ErrPromptIndexMismatch) {
		t.Fatalf("index 1 with peer pending: expected ErrPromptIndexMismatch, got %v", err)
	}
	if _, err := seq.SubmitResponse(ctx, "missing", "A", 0, "x"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestChattingOnlyAfterEveryPrompt(t *testing.T) {
	seq, mgr, s := newTestSequencer(t)
	ctx := context.Background()

	for i := range testPrompts {
		for _, u := range []string{"B", "A"} {
			cur, _ := mgr.Get(ctx, s.ID)
			if cur.State() != domain.StatePrompting {
				t.Fatalf("reached %s before answering prompt %d", cur.State(), i)
			}
			if _, err := seq.SubmitResponse(ctx, s.ID, u, i, "answer"); err != nil {
				t.Fatalf("SubmitResponse(%s, %d): %v", u, i, err)
			}
		}
	}

	got, _ := mgr.Get(ctx, s.ID)
	if got.State() != domain.StateChatting || got.ChatStartedAt == nil {
		t.Fatalf("expected chatting, got %s", got.State())
	}
	if _, err := seq.SubmitResponse(ctx, s.ID, "A", len(testPrompts), "more"); !errors.Is(err, domain.ErrWrongState) {
		t.Fatalf("expected ErrWrongState once chatting, got %v", err)
	}
}

func TestConcurrentAnswersBothAccepted(t *testing.T) {
	seq, mgr, s := newTestSequencer(t)
	ctx := context.Background()

	for i := range testPrompts {
		var wg sync.WaitGroup
		for _, u := range []string{"A", "B"} {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				if _, err := seq.SubmitResponse(ctx, s.ID, u, i, "concurrent"); err != nil {
					t.Errorf("SubmitResponse(%s, %d): %v", u, i, err)
				}
			}(u)
		}
		wg.Wait()

		got, _ := mgr.Get(ctx, s.ID)
		if got.PromptIndex != i+1 {
			t.Fatalf("after prompt %d index = %d", i, got.PromptIndex)
		}
	}
	got, _ := mgr.Get(ctx, s.ID)
	if got.State() != domain.StateChatting {
		t.Fatalf("state = %s", got.State())
	}
}

func TestListResponsesHidesPendingPeerAnswer(t *testing.T) {
	seq, _, s := newTestSequencer(t)
	ctx := context.Background()

	_, _ = seq.SubmitResponse(ctx, s.ID, "A", 0, "a0")
	_, _ = seq.SubmitResponse(ctx, s.ID, "B", 0, "b0")
	_, _ = seq.SubmitResponse(ctx, s.ID, "A", 1, "a1")

	forB, err := seq.ListResponses(ctx, s.ID, "B")
	if err != nil {
		t.Fatal(err)
	}
	if len(forB) != 2 {
		t.Fatalf("B sees %d answers, want 2", len(forB))
	}
	for _, r := range forB {
		if r.PromptIndex == 1 {
			t.Fatal("B can see A's pending answer")
		}
	}

	forA, _ := seq.ListResponses(ctx, s.ID, "A")
	if len(forA) != 3 {
		t.Fatalf("A sees %d answers, want 3", len(forA))
	}

	if _, err := seq.ListResponses(ctx, s.ID, "C"); !errors.Is(err, domain.ErrNotAParticipant) {
		t.Fatalf("expected ErrNotAParticipant, got %v", err)
	}
}

func TestPromptsCopy(t *testing.T) {
	seq := New(nil, nil, nil)
	got := seq.Prompts()
	if len(got) != len(Guided) {
		t.Fatalf("default prompts = %d", len(got))
	}
	got[0] = "mutated"
	if p, _ := seq.Prompt(0); p != Guided[0] {
		t.Fatal("Prompts returned shared slice")
	}
	if _, ok := seq.Prompt(len(Guided)); ok {
		t.Fatal("out of range prompt")
	}
}
