package domain

import (
	"slices"
	"strings"
)

// Mood is the emotional state a user is matched on.
type Mood string

const (
	MoodReflective  Mood = "reflective"
	MoodOverwhelmed Mood = "overwhelmed"
	MoodHopeful     Mood = "hopeful"
	MoodCurious     Mood = "curious"
)

// Moods lists every selectable mood.
var Moods = []Mood{MoodReflective, MoodOverwhelmed, MoodHopeful, MoodCurious}

// ParseMood validates a mood identifier.
func ParseMood(s string) (Mood, error) {
	m := Mood(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Moods, m) {
		return "", Invalid("mood", "unknown mood %q", s)
	}
	return m, nil
}

// Bounds on the interest set of a queue entry.
const (
	MinInterests = 1
	MaxInterests = 5
)

// Interests is the catalogue users pick from.
var Interests = []string{
	"reading", "writing", "gaming", "art", "music",
	"nature", "photography", "coding", "cooking", "meditation",
	"astronomy", "philosophy", "minimalism", "journaling", "podcasts",
}

// NormalizeInterests lower-cases, trims and de-duplicates the given interests,
// then checks catalogue membership and the 1..5 size bound. The result is sorted.
func NormalizeInterests(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		v := strings.ToLower(strings.TrimSpace(raw))
		if v == "" {
			continue
		}
		if !slices.Contains(Interests, v) {
			return nil, Invalid("interests", "unknown interest %q", raw)
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) < MinInterests || len(out) > MaxInterests {
		return nil, Invalid("interests", "need between %d and %d interests, got %d", MinInterests, MaxInterests, len(out))
	}
	slices.Sort(out)
	return out, nil
}
