package conversation

import "github.com/zulandar/opal/internal/models"

// SourceSet accumulates retrieval hits in arrival order, keyed by chunk ID.
// The first entry seen for a chunk ID wins; later duplicates are ignored.
type SourceSet struct {
	items []models.SearchResult
	seen  map[string]struct{}
}

// NewSourceSet returns a set seeded with initial.
func NewSourceSet(initial ...models.SearchResult) *SourceSet {
	s := &SourceSet{seen: make(map[string]struct{})}
	s.Merge(initial)
	return s
}

// Merge adds results not already present and returns how many were added.
func (s *SourceSet) Merge(results []models.SearchResult) int {
	added := 0
	for _, r := range results {
		if _, ok := s.seen[r.ChunkID]; ok {
			continue
		}
		s.seen[r.ChunkID] = struct{}{}
		s.items = append(s.items, r)
		added++
	}
	return added
}

// Contains reports whether chunkID is in the set.
func (s *SourceSet) Contains(chunkID string) bool {
	_, ok := s.seen[chunkID]
	return ok
}

// Len returns the number of distinct sources.
func (s *SourceSet) Len() int { return len(s.items) }

// Items returns a copy of the sources in arrival order.
func (s *SourceSet) Items() []models.SearchResult {
	out := make([]models.SearchResult, len(s.items))
	copy(out, s.items)
	return out
}
