// Package builtin provides file tools rooted at a workspace directory.
package builtin

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-go-golems/turnpike/pkg/tools"
	"github.com/pkg/errors"
)

const (
	ReadFileName      = "read_file"
	ListDirectoryName = "list_directory"
	WriteFileName     = "write_file"
	ReplaceName       = "replace"
)

// Workspace resolves tool paths against a root directory and refuses paths that escape it.
type Workspace struct {
	Root string
}

func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve workspace root")
	}
	return &Workspace{Root: abs}, nil
}

func (w *Workspace) resolve(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty path")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(w.Root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("path %s is outside the workspace", p)
	}
	return p, nil
}

type ReadFileInput struct {
	FilePath string `json:"file_path" jsonschema:"description=Path of the file to read"`
}

type ListDirectoryInput struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list. Defaults to the workspace root"`
}

type WriteFileInput struct {
	FilePath string `json:"file_path" jsonschema:"description=Path of the file to write"`
	Content  string `json:"content" jsonschema:"description=Full new content of the file"`
}

type ReplaceInput struct {
	FilePath  string `json:"file_path" jsonschema:"description=Path of the file to edit"`
	OldString string `json:"old_string" jsonschema:"description=Exact text to replace"`
	NewString string `json:"new_string" jsonschema:"description=Replacement text"`
}

func (w *Workspace) ReadFile(in ReadFileInput) (string, error) {
	p, err := w.resolve(in.FilePath)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", errors.Wrapf(err, "could not read %s", in.FilePath)
	}
	return string(b), nil
}

func (w *Workspace) ListDirectory(in ListDirectoryInput) (string, error) {
	path := in.Path
	if path == "" {
		path = "."
	}
	p, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return "", errors.Wrapf(err, "could not list %s", path)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (w *Workspace) WriteFile(in WriteFileInput) (string, error) {
	p, err := w.resolve(in.FilePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", errors.Wrapf(err, "could not create directory for %s", in.FilePath)
	}
	if err := os.WriteFile(p, []byte(in.Content), 0644); err != nil {
		return "", errors.Wrapf(err, "could not write %s", in.FilePath)
	}
	return "Successfully wrote " + in.FilePath, nil
}

func (w *Workspace) Replace(in ReplaceInput) (string, error) {
	p, err := w.resolve(in.FilePath)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", errors.Wrapf(err, "could not read %s", in.FilePath)
	}
	content := string(b)
	switch n := strings.Count(content, in.OldString); {
	case in.OldString == "":
		return "", errors.New("old_string must not be empty")
	case n == 0:
		return "", errors.Errorf("old_string not found in %s", in.FilePath)
	case n > 1:
		return "", errors.Errorf("old_string occurs %d times in %s, expected exactly one", n, in.FilePath)
	}
	content = strings.Replace(content, in.OldString, in.NewString, 1)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "could not write %s", in.FilePath)
	}
	return "Successfully modified " + in.FilePath, nil
}

func pathSummary(key string) func(map[string]any) string {
	return func(args map[string]any) string {
		s, _ := args[key].(string)
		return s
	}
}

// Definitions returns the tool definitions bound to w.
func (w *Workspace) Definitions() ([]*tools.ToolDefinition, error) {
	specs := []struct {
		name, description string
		fn                interface{}
		mutating          bool
		summaryKey        string
	}{
		{ReadFileName, "Reads a file from the workspace and returns its content.", w.ReadFile, false, "file_path"},
		{ListDirectoryName, "Lists the entries of a workspace directory. Directories end with a slash.", w.ListDirectory, false, "path"},
		{WriteFileName, "Writes content to a file in the workspace, replacing it if it exists.", w.WriteFile, true, "file_path"},
		{ReplaceName, "Replaces exactly one occurrence of old_string with new_string in a file.", w.Replace, true, "file_path"},
	}

	var ret []*tools.ToolDefinition
	for _, s := range specs {
		def, err := tools.NewToolFromFunc(s.name, s.description, s.fn)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create tool %s", s.name)
		}
		def.Mutating = s.mutating
		def.Summarize = pathSummary(s.summaryKey)
		ret = append(ret, def)
	}
	return ret, nil
}

// NewRegistry returns a registry with every builtin tool rooted at root.
func NewRegistry(root string) (*tools.Registry, error) {
	w, err := NewWorkspace(root)
	if err != nil {
		return nil, err
	}
	defs, err := w.Definitions()
	if err != nil {
		return nil, err
	}
	return tools.NewRegistry(defs...)
}
