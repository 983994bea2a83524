package relay

import (
	"context"
	"os"
	"testing"

	"github.com/introji/connect/internal/domain"
)

func newTestRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis broker test")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisOptions{Addr: addr, Password: os.Getenv("TEST_REDIS_PASSWORD")})
	if err != nil {
		t.Fatalf("redis connect: %v", err)
	}
	b, err := NewRedisBroker(ctx, client)
	if err != nil {
		_ = client.Close()
		t.Fatalf("NewRedisBroker: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	b := newTestRedisBroker(t)
	ctx := context.Background()
	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	ch, cancel, err := b.Subscribe(ctx, "redis-s1")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	msg := &domain.Message{ID: "m1", Seq: 7, SessionID: "redis-s1", SenderID: "A", Content: "hi"}
	if err := b.Publish(ctx, Event{Type: EventMessage, SessionID: "redis-s1", Message: msg}); err != nil {
		t.Fatal(err)
	}

	ev, ok := recv(t, ch)
	if !ok || ev.Type != EventMessage || ev.Message == nil || ev.Message.Content != "hi" || ev.Message.Seq != 7 {
		t.Fatalf("got %+v", ev)
	}
}

func TestNewRedisClientRequiresAddr(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), RedisOptions{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}
