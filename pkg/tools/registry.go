package tools

import (
	"sort"
	"sync"

	"github.com/go-go-golems/turnpike/pkg/backend"
	"github.com/pkg/errors"
)

var ErrToolNotFound = errors.New("tool not found")

// Registry holds the available tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
}

func NewRegistry(defs ...*ToolDefinition) (*Registry, error) {
	r := &Registry{
		tools: make(map[string]ToolDefinition),
	}
	for _, d := range defs {
		if err := r.RegisterTool(d.Name, *d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) RegisterTool(name string, def ToolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	if def.Name != "" && def.Name != name {
		return errors.Errorf("tool definition name (%s) does not match registry name (%s)", def.Name, name)
	}
	if _, exists := r.tools[name]; exists {
		return errors.Errorf("tool %s is already registered", name)
	}

	def.Name = name
	r.tools[name] = def
	return nil
}

func (r *Registry) GetTool(name string) (*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, errors.Wrap(ErrToolNotFound, name)
	}
	return &tool, nil
}

// ListTools returns the registered tools sorted by name.
func (r *Registry) ListTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

func (r *Registry) UnregisterTool(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return errors.Wrap(ErrToolNotFound, name)
	}
	delete(r.tools, name)
	return nil
}

// ToolSpecs declares the registered tools to a backend session.
func (r *Registry) ToolSpecs() []backend.ToolSpec {
	var ret []backend.ToolSpec
	for _, t := range r.ListTools() {
		ret = append(ret, backend.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return ret
}

// MutatingTools returns the names of the tools that modify the workspace.
func (r *Registry) MutatingTools() []string {
	var ret []string
	for _, t := range r.ListTools() {
		if t.Mutating {
			ret = append(ret, t.Name)
		}
	}
	return ret
}
