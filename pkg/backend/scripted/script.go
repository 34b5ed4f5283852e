package scripted

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Script is a canned conversation: each streamed turn consumes the next Turn.
type Script struct {
	Turns []Turn `yaml:"turns"`
	// Responses are returned in order by GenerateContent.
	Responses []string `yaml:"responses,omitempty"`
}

type Turn struct {
	Steps []Step `yaml:"steps"`
}

// Step is one scripted stream element. Exactly one field is expected to be set.
type Step struct {
	Thought  string        `yaml:"thought,omitempty"`
	Content  string        `yaml:"content,omitempty"`
	ToolCall *ToolCall     `yaml:"tool_call,omitempty"`
	Finished string        `yaml:"finished,omitempty"`
	Error    *ErrorStep    `yaml:"error,omitempty"`
	Fail     *ErrorStep    `yaml:"fail,omitempty"`
	Delay    time.Duration `yaml:"delay,omitempty"`
}

type ToolCall struct {
	ID   string         `yaml:"id,omitempty"`
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args,omitempty"`
}

// ErrorStep describes a failure. As an "error" step it is streamed as an
// Error event; as a "fail" step the stream ends with a classified error.
type ErrorStep struct {
	Message string `yaml:"message"`
	Status  int    `yaml:"status,omitempty"`
}

func Parse(r io.Reader) (*Script, error) {
	var s Script
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "could not decode script")
	}
	return &s, nil
}

func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open script %s", path)
	}
	defer func() {
		_ = f.Close()
	}()
	return Parse(f)
}
