package events

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink writes each event to the global logger at the configured level.
type LogSink struct {
	Level zerolog.Level
}

func (l *LogSink) PublishEvent(event Event) error {
	log.WithLevel(l.Level).
		Str("event_type", string(event.Type())).
		Object("meta", event.Metadata()).
		Msg("stream event")
	return nil
}

// JSONLinesSink serializes each event as one JSON line.
type JSONLinesSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: w}
}

func (j *JSONLinesSink) PublishEvent(event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "could not marshal event")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(append(b, '\n')); err != nil {
		return errors.Wrap(err, "could not write event")
	}
	return nil
}

var (
	_ EventSink = (*LogSink)(nil)
	_ EventSink = (*JSONLinesSink)(nil)
)
