package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-go-golems/turnpike/pkg/history"
	"github.com/go-go-golems/turnpike/pkg/transcript"
	"github.com/pkg/errors"
)

const fileExtension = ".json"

type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Record is what gets written before a mutating tool call is approved. It is
// enough to put both the conversation and the files back where they were.
type Record struct {
	History       []transcript.Entry `json:"history"`
	ClientHistory []history.Content  `json:"clientHistory"`
	ToolCall      ToolCall           `json:"toolCall"`
	CommitHash    string             `json:"commitHash"`
	FilePath      string             `json:"filePath"`
}

// FileName builds the checkpoint file name for a call made at t.
func FileName(t time.Time, filePath, toolName string) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	ts = strings.NewReplacer(":", "-", ".", "_").Replace(ts)
	return ts + "-" + filepath.Base(filePath) + "-" + toolName + fileExtension
}

// Info describes a checkpoint file.
type Info struct {
	Name    string
	Path    string
	ModTime time.Time
}

// List returns the checkpoint files of dir, oldest first.
// A missing dir has no checkpoints.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "could not read checkpoint dir %s", dir)
	}
	var ret []Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExtension {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		ret = append(ret, Info{Name: e.Name(), Path: filepath.Join(dir, e.Name()), ModTime: fi.ModTime()})
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name < ret[j].Name
	})
	return ret, nil
}

func Load(path string) (*Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read checkpoint %s", path)
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, errors.Wrapf(err, "could not parse checkpoint %s", path)
	}
	return &r, nil
}

// Restore loads the checkpoint at path and puts the project files back to
// its snapshot. The caller restores the conversation from the returned record.
func Restore(ctx context.Context, path string, s Snapshotter) (*Record, error) {
	r, err := Load(path)
	if err != nil {
		return nil, err
	}
	if r.CommitHash != "" {
		if err := s.Restore(ctx, r.CommitHash); err != nil {
			return nil, err
		}
	}
	return r, nil
}
