package history

import (
	"sync"

	"github.com/huandu/go-clone"
)

// Store is the model-visible conversation history. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	contents []Content
}

func NewStore(initial ...Content) *Store {
	return &Store{contents: append([]Content{}, initial...)}
}

func (s *Store) Add(c Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents = append(s.contents, c)
}

// Snapshot returns a deep copy of the history.
func (s *Store) Snapshot() []Content {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.contents) == 0 {
		return []Content{}
	}
	return clone.Clone(s.contents).([]Content)
}

// Replace swaps the whole history, used after compression and restore.
func (s *Store) Replace(contents []Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents = clone.Clone(append([]Content{}, contents...)).([]Content)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contents)
}

// Last returns the most recent content, if any.
func (s *Store) Last() (Content, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.contents) == 0 {
		return Content{}, false
	}
	return s.contents[len(s.contents)-1], true
}
