package tools

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Registry resolves tool names through the lookup chain: builtin table,
// server-approved set, externally discovered tools. The chain is walked once
// per call.
type Registry struct {
	builtin  map[string]Tool
	approved map[string]struct{}
	external *MCPRegistry // nil when no external servers are configured
}

// NewRegistry creates a registry with the given builtin tools.
func NewRegistry(builtins ...Tool) *Registry {
	r := &Registry{
		builtin:  make(map[string]Tool, len(builtins)),
		approved: make(map[string]struct{}),
	}
	for _, t := range builtins {
		r.builtin[t.Name()] = t
	}
	return r
}

// DefaultBuiltins returns the standard builtin tool set.
func DefaultBuiltins(commandTimeout int) []Tool {
	return []Tool{
		NewReadFileTool(),
		NewWriteToFileTool(),
		NewExecuteCommandTool(commandTimeout),
		NewGlobFilesTool(),
		NewListFilesTool(),
		NewTodoWriteTool(),
		NewAttemptCompletionTool(),
		NewAskFollowupQuestionTool(),
	}
}

// SetExternal attaches the externally discovered tool registry.
func (r *Registry) SetExternal(ext *MCPRegistry) {
	r.external = ext
}

// SetApproved replaces the server-approved tool names.
func (r *Registry) SetApproved(names []string) {
	approved := make(map[string]struct{}, len(names))
	for _, name := range names {
		approved[name] = struct{}{}
	}
	r.approved = approved
}

// IsApproved reports whether a name belongs to the server-approved set.
func (r *Registry) IsApproved(name string) bool {
	_, ok := r.approved[name]
	return ok
}

// Resolve walks the lookup chain for a tool name.
func (r *Registry) Resolve(name string) (Tool, bool) {
	if t, ok := r.builtin[name]; ok {
		return t, true
	}
	if r.external != nil {
		if t, ok := r.external.Tool(name); ok {
			return t, true
		}
	}
	return nil, false
}

// ResolvePreview returns the tool only when it supports previews.
func (r *Registry) ResolvePreview(name string) (Previewer, bool) {
	t, ok := r.builtin[name]
	if !ok {
		return nil, false
	}
	p, ok := t.(Previewer)
	return p, ok
}

// Names returns all resolvable tool names, sorted.
func (r *Registry) Names() []string {
	var names []string
	for name := range r.builtin {
		names = append(names, name)
	}
	for name := range r.approved {
		names = append(names, name)
	}
	if r.external != nil {
		names = append(names, r.external.Names()...)
	}
	sort.Strings(names)
	return names
}

// approvedFile is the YAML shape of the server-approved tool list.
type approvedFile struct {
	Tools []string `yaml:"tools"`
}

// LoadApprovedFile reads the server-approved tool names from a YAML file.
// A missing file yields an empty set.
func LoadApprovedFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read approved tools: %w", err)
	}

	var f approvedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse approved tools: %w", err)
	}
	return f.Tools, nil
}
