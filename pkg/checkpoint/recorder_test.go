package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/turnpike/pkg/events"
	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/go-go-golems/turnpike/pkg/toolcalls"
	"github.com/go-go-golems/turnpike/pkg/transcript"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotter struct {
	snapshot    string
	snapshotErr error
	current     string
	messages    []string
	restored    []string
}

func (f *fakeSnapshotter) CreateSnapshot(_ context.Context, message string) (string, error) {
	f.messages = append(f.messages, message)
	return f.snapshot, f.snapshotErr
}

func (f *fakeSnapshotter) CurrentHash(context.Context) (string, error) {
	if f.current == "" {
		return "", errors.New("no head")
	}
	return f.current, nil
}

func (f *fakeSnapshotter) Restore(_ context.Context, hash string) error {
	f.restored = append(f.restored, hash)
	return nil
}

type staticHistory []history.Content

func (h staticHistory) History() []history.Content {
	return h
}

var fixedTime = time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC)

func newTestRecorder(t *testing.T, s Snapshotter) (*Recorder, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "checkpoints")
	tr := transcript.New()
	tr.Append(transcript.NewTextEntry(transcript.KindUser, "edit main.go"))
	h := staticHistory{history.NewUserContent(history.TextPart("edit main.go"))}
	return NewRecorder(dir, s, tr, h, WithClock(func() time.Time { return fixedTime })), dir
}

func call(name string, args map[string]any) *toolcalls.TrackedCall {
	c := toolcalls.NewTrackedCall(events.ToolCallRequestInfo{CallID: name + "-1", Name: name, Args: args})
	c.State = toolcalls.StateAwaitingApproval
	c.Mutating = true
	return c
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "2024-05-06T07-08-09_123Z-main.go-write_file.json", FileName(fixedTime, "/src/pkg/main.go", "write_file"))
}

func TestRecorderWritesCheckpoint(t *testing.T) {
	s := &fakeSnapshotter{snapshot: "abc123"}
	r, dir := newTestRecorder(t, s)

	r.OnAwaitingApproval(context.Background(), call("write_file", map[string]any{"file_path": "/src/main.go", "content": "x"}))

	infos, err := List(dir)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "2024-05-06T07-08-09_123Z-main.go-write_file.json", infos[0].Name)
	assert.Equal(t, []string{"Snapshot for write_file"}, s.messages)

	rec, err := Load(infos[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "abc123", rec.CommitHash)
	assert.Equal(t, "/src/main.go", rec.FilePath)
	assert.Equal(t, "write_file", rec.ToolCall.Name)
	assert.Equal(t, "x", rec.ToolCall.Args["content"])
	require.Len(t, rec.History, 1)
	assert.Equal(t, "edit main.go", rec.History[0].Text)
	require.Len(t, rec.ClientHistory, 1)
	assert.Equal(t, "edit main.go", rec.ClientHistory[0].Text())
}

func TestRecorderFallsBackToCurrentHash(t *testing.T) {
	s := &fakeSnapshotter{snapshotErr: errors.New("nothing to commit"), current: "def456"}
	r, _ := newTestRecorder(t, s)

	path, err := r.Record(context.Background(), call("replace", map[string]any{"file_path": "a.txt"}))
	require.NoError(t, err)
	rec, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "def456", rec.CommitHash)
}

func TestRecorderSkips(t *testing.T) {
	t.Run("no snapshot at all", func(t *testing.T) {
		r, dir := newTestRecorder(t, &fakeSnapshotter{})
		_, err := r.Record(context.Background(), call("replace", map[string]any{"file_path": "a.txt"}))
		assert.Error(t, err)

		r.OnAwaitingApproval(context.Background(), call("replace", map[string]any{"file_path": "a.txt"}))
		infos, err := List(dir)
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run("missing file_path", func(t *testing.T) {
		s := &fakeSnapshotter{snapshot: "abc"}
		r, dir := newTestRecorder(t, s)
		_, err := r.Record(context.Background(), call("write_file", map[string]any{"content": "x"}))
		assert.Error(t, err)
		assert.Empty(t, s.messages)
		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("tool not checkpointed", func(t *testing.T) {
		s := &fakeSnapshotter{snapshot: "abc"}
		r, _ := newTestRecorder(t, s)
		path, err := r.Record(context.Background(), call("run_shell_command", map[string]any{"file_path": "a"}))
		require.NoError(t, err)
		assert.Empty(t, path)
		assert.Empty(t, s.messages)
	})
}

func TestWithToolsReplacesDefaults(t *testing.T) {
	s := &fakeSnapshotter{snapshot: "abc"}
	r := NewRecorder(t.TempDir(), s, transcript.New(), nil, WithTools("edit"))

	path, err := r.Record(context.Background(), call("write_file", map[string]any{"file_path": "a"}))
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = r.Record(context.Background(), call("edit", map[string]any{"file_path": "a"}))
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestRestoreUsesRecordedHash(t *testing.T) {
	s := &fakeSnapshotter{snapshot: "abc123"}
	r, _ := newTestRecorder(t, s)
	path, err := r.Record(context.Background(), call("write_file", map[string]any{"file_path": "a"}))
	require.NoError(t, err)

	rec, err := Restore(context.Background(), path, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, s.restored)
	assert.Equal(t, "write_file", rec.ToolCall.Name)
}

func TestListMissingDir(t *testing.T) {
	infos, err := List(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, infos)
}
