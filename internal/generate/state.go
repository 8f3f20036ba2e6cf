package generate

import (
	"sort"

	"github.com/eworthing/uniqgen/internal/canon"
)

// State is the generation state for one UniqueList call. It is owned
// exclusively by that call and discarded when it returns.
//
// Invariant: len(ordered) == len(seen) at all times.
type State struct {
	keyer canon.Options

	ordered []string
	seen    map[string]struct{}

	TotalGenerated  int
	DuplicatesFound int
	DupFrequency    map[string]int

	PassCount               int
	BackfillRounds          int
	CircuitBreakerTriggered bool
}

// NewState creates an empty generation state using keyer for the
// uniqueness equivalence test.
func NewState(keyer canon.Options) *State {
	return &State{
		keyer:        keyer,
		seen:         make(map[string]struct{}),
		DupFrequency: make(map[string]int),
	}
}

// Absorb merges a batch of raw candidates into the state and returns the
// number of newly accepted items. Candidates stop being processed as soon
// as the accepted count reaches target, but TotalGenerated still grows by
// the full batch size so the duplicate-rate statistic stays honest.
func (s *State) Absorb(batch []string, target int) int {
	s.TotalGenerated += len(batch)

	added := 0
	for _, raw := range batch {
		if len(s.ordered) >= target {
			break
		}
		key := s.keyer.Key(raw)
		if key == "" {
			continue
		}
		if _, dup := s.seen[key]; dup {
			s.DuplicatesFound++
			s.DupFrequency[key]++
			continue
		}
		s.seen[key] = struct{}{}
		s.ordered = append(s.ordered, raw)
		added++
	}
	return added
}

// Accepted returns the number of accepted items.
func (s *State) Accepted() int { return len(s.ordered) }

// Items returns the accepted items in acceptance order, truncated to max.
func (s *State) Items(max int) []string {
	if max > len(s.ordered) {
		max = len(s.ordered)
	}
	out := make([]string, max)
	copy(out, s.ordered[:max])
	return out
}

// SeenKeys returns the normalization keys of all accepted items, in
// acceptance order. This is the raw material for backfill avoid-lists.
func (s *State) SeenKeys() []string {
	keys := make([]string, 0, len(s.ordered))
	for _, item := range s.ordered {
		keys = append(keys, s.keyer.Key(item))
	}
	return keys
}

// TopDuplicates returns up to n duplicate keys ordered by descending
// frequency, ties broken lexicographically for determinism.
func (s *State) TopDuplicates(n int) []string {
	keys := make([]string, 0, len(s.DupFrequency))
	for k := range s.DupFrequency {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		fi, fj := s.DupFrequency[keys[i]], s.DupFrequency[keys[j]]
		if fi != fj {
			return fi > fj
		}
		return keys[i] < keys[j]
	})
	if n > len(keys) {
		n = len(keys)
	}
	return keys[:n]
}

// DupRate returns duplicates per generated candidate, 0 when nothing has
// been generated yet.
func (s *State) DupRate() float64 {
	if s.TotalGenerated == 0 {
		return 0
	}
	return float64(s.DuplicatesFound) / float64(s.TotalGenerated)
}
