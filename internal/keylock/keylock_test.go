package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/introji/connect/internal/domain"
)

func TestDoSerializesPerKey(t *testing.T) {
	l := New(time.Second)
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), "s1", func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxInside)
	}
	if l.Len() != 0 {
		t.Fatalf("slots leaked: %d", l.Len())
	}
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	l := New(50 * time.Millisecond)
	release, err := l.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if err := l.Do(context.Background(), "b", func() error { return nil }); err != nil {
		t.Fatalf("key b blocked by key a: %v", err)
	}
}

func TestAcquireTimeoutIsTransient(t *testing.T) {
	l := New(20 * time.Millisecond)
	release, err := l.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}

	_, err = l.Acquire(context.Background(), "k")
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	release()
	release() // idempotent
	if l.Len() != 0 {
		t.Fatalf("slots leaked: %d", l.Len())
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	l := New(0)
	release, _ := l.Acquire(context.Background(), "k")
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Acquire(ctx, "k"); !domain.IsTransient(err) {
		t.Fatalf("expected transient error on cancelled ctx, got %v", err)
	}
}
