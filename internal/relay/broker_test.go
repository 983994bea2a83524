package relay

import (
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}, false
	}
}

func TestMemoryBrokerFanOut(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	c1, cancel1, _ := b.Subscribe(ctx, "s1")
	c2, cancel2, _ := b.Subscribe(ctx, "s1")
	other, cancelOther, _ := b.Subscribe(ctx, "s2")
	defer cancel2()
	defer cancelOther()

	if err := b.Publish(ctx, Event{Type: EventState, SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []<-chan Event{c1, c2} {
		if ev, ok := recv(t, ch); !ok || ev.SessionID != "s1" {
			t.Fatalf("got %+v, %v", ev, ok)
		}
	}
	select {
	case ev := <-other:
		t.Fatalf("cross-session delivery: %+v", ev)
	default:
	}

	cancel1()
	cancel1()
	if _, ok := <-c1; ok {
		t.Fatal("cancelled channel still open")
	}
	if b.Subscribers("s1") != 1 {
		t.Fatalf("subscribers = %d", b.Subscribers("s1"))
	}
}

func TestMemoryBrokerEvictsSlowSubscriber(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	ch, cancel, _ := b.Subscribe(ctx, "s1")
	defer cancel()
	for i := 0; i < subscriberBuffer+1; i++ {
		_ = b.Publish(ctx, Event{Type: EventMessage, SessionID: "s1"})
	}

	n := 0
	for range ch {
		n++
	}
	if n != subscriberBuffer {
		t.Fatalf("drained %d events, want %d", n, subscriberBuffer)
	}
	if b.Subscribers("s1") != 0 {
		t.Fatal("slow subscriber not removed")
	}
}

func TestMemoryBrokerClose(t *testing.T) {
	b := NewMemoryBroker()
	ch, _, _ := b.Subscribe(context.Background(), "s1")
	_ = b.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	late, _, _ := b.Subscribe(context.Background(), "s1")
	if _, ok := <-late; ok {
		t.Fatal("subscribe after close should return a closed channel")
	}
}
