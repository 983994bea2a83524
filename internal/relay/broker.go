package relay

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer bounds how far a subscriber may lag before eviction.
const subscriberBuffer = 64

// Broker fans session events out to subscribers.
type Broker interface {
	// Publish delivers ev to current subscribers of ev.SessionID without
	// waiting on any of them.
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of events for sessionID and a cancel func.
	// The channel is closed on cancel, on Close, or when the subscriber falls
	// too far behind; readers then replay from the message log.
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error)
	Close() error
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// MemoryBroker is an in-process Broker.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish implements Broker.
func (b *MemoryBroker) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("Evicting slow subscriber", "session_id", ev.SessionID)
			b.removeLocked(ev.SessionID, sub)
		}
	}
	return nil
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(_ context.Context, sessionID string) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub.ch, func() {}, nil
	}
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*subscriber]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(sessionID, sub)
	}
	return sub.ch, cancel, nil
}

// Subscribers reports how many readers sessionID has.
func (b *MemoryBroker) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

func (b *MemoryBroker) removeLocked(sessionID string, sub *subscriber) {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	if set, ok := b.subs[sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sessionID)
		}
	}
}

// Close closes every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sid, set := range b.subs {
		for sub := range set {
			b.removeLocked(sid, sub)
		}
	}
	b.closed = true
	return nil
}
