// Package tools defines the capability contract every tool satisfies and
// the registry the orchestration loop resolves tool calls against.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// Tool is a single named capability invoked with JSON arguments.
// Invoke must be safe for concurrent use and should honour ctx. When
// the caller cancels, the run stops waiting for Invoke; a tool that
// ignores ctx keeps running in the background until it returns or the
// tool timeout expires.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema for the argument object.
	Parameters() map[string]any
	// Invoke runs the tool. The result must be JSON-serializable.
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunc returns a Tool backed by fn.
func NewFunc(name, description string, parameters map[string]any, fn func(ctx context.Context, args map[string]any) (any, error)) *Func {
	return &Func{name: name, description: description, parameters: parameters, fn: fn}
}

func (f *Func) Name() string               { return f.name }
func (f *Func) Description() string        { return f.description }
func (f *Func) Parameters() map[string]any { return f.parameters }

func (f *Func) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f.fn(ctx, args)
}

// CatalogEntry is what the reasoning engine sees of a tool.
type CatalogEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry maps tool names to tools. It is populated at startup, then
// frozen; after Freeze it is read-only and shared by every loop.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds t. Names must be unique and the parameter schema must
// compile. Registering after Freeze fails with ErrFrozen.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: %w", t.Name(), ErrFrozen)
	}
	if t.Name() == "" {
		return fmt.Errorf("register: tool has no name")
	}
	if _, dup := r.tools[t.Name()]; dup {
		return fmt.Errorf("register %s: %w", t.Name(), ErrDuplicate)
	}

	e := entry{tool: t}
	if params := t.Parameters(); len(params) > 0 {
		s, err := compile(params)
		if err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
		e.schema = s
	}
	r.tools[t.Name()] = e
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Catalog returns every tool's entry, sorted by name.
func (r *Registry) Catalog() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CatalogEntry, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, CatalogEntry{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Parameters:  e.tool.Parameters(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks args against the named tool's parameter schema. It
// returns an error wrapping ErrNotFound for unknown tools and a
// *ValidationError when the arguments do not conform.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if e.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return checkResult(e.schema.Validate(args))
}

// Decode converts a JSON argument object into a typed struct.
func Decode[T any](args map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(args)
	if err != nil {
		return out, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}
