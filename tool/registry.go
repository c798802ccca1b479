package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/petal-labs/flowmcp/bus"
)

// Definition describes one tool in the catalogue. InputSchema is owned by
// the tool's author and is only serialized by the core, never enforced.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// Call carries one invocation into a handler.
type Call struct {
	Tool   string
	Params json.RawMessage

	// Events is the broadcast channel, or nil when the active transport has
	// none.
	Events bus.Publisher
}

// Emit publishes on the call's broadcast channel if there is one.
func (c Call) Emit(kind string, data any) {
	if c.Events != nil {
		c.Events.Emit(kind, data)
	}
}

// Handler executes a tool. A returned error becomes a failure result; a
// *ToolError keeps its code.
type Handler func(ctx context.Context, call Call) (any, error)

type registration struct {
	def     Definition
	handler Handler
}

// Registry maps tool names to handlers. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds a tool. Names must be non-empty and unique.
func (r *Registry) Register(def Definition, handler Handler) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler is nil", name)
	}
	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = registration{def: def, handler: handler}
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for static catalogues; it panics on error.
func (r *Registry) MustRegister(def Definition, handler Handler) {
	if err := r.Register(def, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the definition and handler registered under name.
func (r *Registry) Lookup(name string) (Definition, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.tools[name]
	if !ok {
		return Definition{}, nil, false
	}
	return reg.def, reg.handler, true
}

// Definitions returns all definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
