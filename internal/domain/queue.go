package domain

import "time"

// QueueEntry is a user's outstanding request to be matched.
// A user has at most one entry; re-submitting replaces it.
type QueueEntry struct {
	UserID    string
	Mood      Mood
	Interests []string
	EnteredAt time.Time
	// PairWith forces a direct match with the named user, bypassing mood
	// and scoring. Set only by reconnect redemption.
	PairWith string
}

// Shared returns the interests present in both entries.
func (e *QueueEntry) Shared(other *QueueEntry) []string {
	var out []string
	for _, a := range e.Interests {
		for _, b := range other.Interests {
			if a == b {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// Waited reports how long the entry has been queued at now.
func (e *QueueEntry) Waited(now time.Time) time.Duration {
	return now.Sub(e.EnteredAt)
}
