package ingest

// recentSet remembers the last n ids in insertion order. Not safe for
// concurrent use; the queue guards it.
type recentSet struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newRecentSet(n int) *recentSet {
	return &recentSet{
		ids:  make(map[string]struct{}, n),
		ring: make([]string, n),
	}
}

func (s *recentSet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Add records id, evicting the oldest id once full.
func (s *recentSet) Add(id string) {
	if s.Contains(id) {
		return
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
}
