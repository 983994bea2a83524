package match

import (
	"sort"
	"time"

	"github.com/introji/connect/internal/domain"
)

// pair is a selected match, A being the older entry.
type pair struct {
	a, b  *domain.QueueEntry
	score int
}

// selectPairs picks disjoint pairs from the waiting entries.
//
// Reconnect entries that name each other are paired first regardless of mood
// or overlap. A reconnect entry whose partner is absent is held back until it
// has waited maxWait, after which it is matched like any other entry.
//
// Everyone else pairs only within the same mood. Pairs are ranked by shared
// interest count, then by the oldest combined entered_at, then by user ID so
// the result is deterministic. A zero-overlap pair is eligible only once
// either side has waited at least maxWait.
func selectPairs(entries []*domain.QueueEntry, now time.Time, maxWait time.Duration) []pair {
	byUser := make(map[string]*domain.QueueEntry, len(entries))
	for _, e := range entries {
		byUser[e.UserID] = e
	}

	used := make(map[string]bool, len(entries))
	var out []pair

	for _, e := range entries {
		if e.PairWith == "" || used[e.UserID] {
			continue
		}
		p, ok := byUser[e.PairWith]
		if !ok || used[p.UserID] || p.PairWith != e.UserID || p.UserID == e.UserID {
			continue
		}
		a, b := older(e, p)
		out = append(out, pair{a: a, b: b, score: len(a.Shared(b))})
		used[e.UserID], used[p.UserID] = true, true
	}

	expired := func(e *domain.QueueEntry) bool {
		return maxWait > 0 && e.Waited(now) >= maxWait
	}

	pool := make([]*domain.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if used[e.UserID] {
			continue
		}
		if e.PairWith != "" && !expired(e) {
			continue
		}
		pool = append(pool, e)
	}

	var candidates []pair
	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			x, y := pool[i], pool[j]
			if x.Mood != y.Mood || x.UserID == y.UserID {
				continue
			}
			score := len(x.Shared(y))
			if score == 0 && !expired(x) && !expired(y) {
				continue
			}
			a, b := older(x, y)
			candidates = append(candidates, pair{a: a, b: b, score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.score != cj.score {
			return ci.score > cj.score
		}
		wi := ci.a.EnteredAt.UnixNano() + ci.b.EnteredAt.UnixNano()
		wj := cj.a.EnteredAt.UnixNano() + cj.b.EnteredAt.UnixNano()
		if wi != wj {
			return wi < wj
		}
		if ci.a.UserID != cj.a.UserID {
			return ci.a.UserID < cj.a.UserID
		}
		return ci.b.UserID < cj.b.UserID
	})

	for _, c := range candidates {
		if used[c.a.UserID] || used[c.b.UserID] {
			continue
		}
		used[c.a.UserID], used[c.b.UserID] = true, true
		out = append(out, c)
	}
	return out
}

func older(x, y *domain.QueueEntry) (*domain.QueueEntry, *domain.QueueEntry) {
	if y.EnteredAt.Before(x.EnteredAt) || (y.EnteredAt.Equal(x.EnteredAt) && y.UserID < x.UserID) {
		return y, x
	}
	return x, y
}
