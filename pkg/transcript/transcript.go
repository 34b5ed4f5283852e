package transcript

import (
	"sync"
	"time"

	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
)

// Sink is notified of every appended entry, in append order.
type Sink interface {
	PublishEntry(e Entry) error
}

// Transcript is the ordered, append-only list of committed entries.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	nextID  int
	sinks   []Sink
	now     func() time.Time
}

type Option func(*Transcript)

func WithSinks(sinks ...Sink) Option {
	return func(t *Transcript) {
		t.sinks = append(t.sinks, sinks...)
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Transcript) {
		t.now = now
	}
}

func New(options ...Option) *Transcript {
	ret := &Transcript{
		nextID: 1,
		now:    time.Now,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Append assigns an ID and timestamp to e, stores it and notifies the sinks.
// Sinks are called while the transcript lock is held so they observe entries in order.
func (t *Transcript) Append(e Entry) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e.ID = t.nextID
	t.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}
	t.entries = append(t.entries, e)

	for _, s := range t.sinks {
		if err := s.PublishEntry(e); err != nil {
			log.Warn().Err(err).Int("entry_id", e.ID).Str("kind", string(e.Kind)).Msg("transcript sink failed")
		}
	}
	return e
}

func (t *Transcript) AddSink(s Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, s)
}

// Entries returns a deep copy of the committed entries.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) == 0 {
		return []Entry{}
	}
	return clone.Clone(t.entries).([]Entry)
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear drops all entries. IDs keep increasing.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

// Replace swaps the committed entries, used when a checkpoint is restored.
// Sinks are not notified; entries keep their recorded IDs.
func (t *Transcript) Replace(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = clone.Clone(append([]Entry{}, entries...)).([]Entry)
	for _, e := range t.entries {
		if e.ID >= t.nextID {
			t.nextID = e.ID + 1
		}
	}
}
