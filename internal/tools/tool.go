package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Tool defines the interface for all dispatchable capabilities.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's inputs
	Execute(ctx context.Context, input string) (string, error)
}

// Registry manages the set of available tools and doubles as the step
// executor's dispatch table.
type Registry struct {
	Tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		Tools: make(map[string]Tool),
	}
}

func (r *Registry) Register(t Tool) {
	r.Tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.Tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Tools))
	for name := range r.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes a tool by action name with already-resolved arguments.
// Tool output that is a JSON document comes back structured so later steps
// can index into it.
func (r *Registry) Dispatch(ctx context.Context, action string, args map[string]any) (any, error) {
	tool := r.Get(action)
	if tool == nil {
		return nil, fmt.Errorf("tool '%s' not registered, available: %s", action, strings.Join(r.Names(), ", "))
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments for '%s': %w", action, err)
	}

	out, err := tool.Execute(ctx, string(payload))
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var structured any
		if json.Unmarshal([]byte(trimmed), &structured) == nil {
			return structured, nil
		}
	}
	return out, nil
}
