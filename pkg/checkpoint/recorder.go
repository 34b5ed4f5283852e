package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/go-go-golems/turnpike/pkg/toolcalls"
	"github.com/go-go-golems/turnpike/pkg/transcript"
	"github.com/huandu/go-clone"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Snapshotter captures the state of the project files.
type Snapshotter interface {
	// CreateSnapshot records the current files and returns the snapshot ID.
	CreateSnapshot(ctx context.Context, message string) (string, error)
	// CurrentHash returns the ID of the latest snapshot.
	CurrentHash(ctx context.Context) (string, error)
	// Restore puts the files back to the given snapshot.
	Restore(ctx context.Context, hash string) error
}

type HistorySource interface {
	History() []history.Content
}

var DefaultTools = []string{"write_file", "replace"}

// Recorder writes a checkpoint when a file-modifying tool call starts waiting for approval.
type Recorder struct {
	dir         string
	snapshotter Snapshotter
	transcript  *transcript.Transcript
	history     HistorySource
	tools       map[string]struct{}
	now         func() time.Time
}

type Option func(*Recorder)

// WithTools replaces the names of the tools that get checkpointed.
func WithTools(names ...string) Option {
	return func(r *Recorder) {
		r.tools = map[string]struct{}{}
		for _, n := range names {
			r.tools[n] = struct{}{}
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

func NewRecorder(dir string, snapshotter Snapshotter, tr *transcript.Transcript, h HistorySource, options ...Option) *Recorder {
	ret := &Recorder{
		dir:         dir,
		snapshotter: snapshotter,
		transcript:  tr,
		history:     h,
		now:         time.Now,
	}
	WithTools(DefaultTools...)(ret)
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (r *Recorder) Dir() string {
	return r.dir
}

// OnAwaitingApproval records a checkpoint for call. Failures are logged and
// never stop the call.
func (r *Recorder) OnAwaitingApproval(ctx context.Context, call *toolcalls.TrackedCall) {
	path, err := r.Record(ctx, call)
	if err != nil {
		log.Debug().Err(err).Str("tool", call.Request.Name).Str("call_id", call.Request.CallID).Msg("checkpoint skipped")
		return
	}
	if path != "" {
		log.Debug().Str("path", path).Str("call_id", call.Request.CallID).Msg("checkpoint written")
	}
}

// Record writes the checkpoint for call and returns its path. It returns ""
// without error for calls that are not checkpointed.
func (r *Recorder) Record(ctx context.Context, call *toolcalls.TrackedCall) (string, error) {
	name := call.Request.Name
	if _, ok := r.tools[name]; !ok {
		return "", nil
	}
	filePath, _ := call.Request.Args["file_path"].(string)
	if filePath == "" {
		return "", errors.Errorf("%s call has no file_path", name)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "could not create checkpoint dir")
	}

	hash, err := r.snapshotter.CreateSnapshot(ctx, "Snapshot for "+name)
	if err != nil || hash == "" {
		log.Debug().Err(err).Str("tool", name).Msg("snapshot failed, using current hash")
		hash, err = r.snapshotter.CurrentHash(ctx)
		if err != nil {
			return "", errors.Wrap(err, "no snapshot available")
		}
		if hash == "" {
			return "", errors.New("no snapshot available")
		}
	}

	rec := Record{
		History:    r.transcript.Entries(),
		ToolCall:   ToolCall{Name: name, Args: clone.Clone(call.Request.Args).(map[string]any)},
		CommitHash: hash,
		FilePath:   filePath,
	}
	if r.history != nil {
		rec.ClientHistory = r.history.History()
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "could not encode checkpoint")
	}
	path := filepath.Join(r.dir, FileName(r.now(), filePath, name))
	if err := atomic.WriteFile(path, bytes.NewReader(b)); err != nil {
		return "", errors.Wrap(err, "could not write checkpoint")
	}
	return path, nil
}

var _ toolcalls.ApprovalObserver = (*Recorder)(nil)
