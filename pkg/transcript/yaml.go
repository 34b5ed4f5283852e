package transcript

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type document struct {
	Entries []Entry `yaml:"entries"`
}

// WriteYAML writes entries as a YAML document.
func WriteYAML(w io.Writer, entries []Entry) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(document{Entries: entries}); err != nil {
		return errors.Wrap(err, "could not encode transcript")
	}
	return enc.Close()
}

// ReadYAML is the inverse of WriteYAML.
func ReadYAML(r io.Reader) ([]Entry, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "could not decode transcript")
	}
	return doc.Entries, nil
}

// Recorder collects entries delivered to it, typically through a Router handler.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) PublishEntry(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry{}, r.entries...)
}

var _ Sink = (*Recorder)(nil)
