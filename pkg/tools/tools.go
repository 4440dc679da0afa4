// Package tools implements JSON-schema tool definitions, execution context,
// and agent handoff for the per-turn tool-calling loop (C2/C3).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chriscow/voiceagent/pkg/chatctx"
)

// Definition is a JSON-schema tool definition, the wire shape an LLM
// provider expects in its tool-call payload. Parameters is supplied by the
// tool's author; this package does not derive it from Go types.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema object
}

// Result is what a tool call produces: either a value to append as a
// FunctionCallOutput, or a handoff swapping the active agent.
type Result struct {
	Value   any
	Handoff *AgentHandoff
	Err     error
}

// AgentHandoff signals that a tool wants control handed to a different
// agent. Returns is recorded in the chat context as the tool call's output
// when the call's results are collected.
type AgentHandoff struct {
	Agent   any // a voice.Agent value; left untyped here to avoid an import cycle with pkg/voice
	Returns any
}

// RunContext is passed to every tool invocation. It exposes the parts of
// the session a tool is allowed to touch: the chat history it was invoked
// against, the call's identifying metadata, and a place to stash
// request-scoped user data.
type RunContext struct {
	Chat     *chatctx.Context
	CallID   string
	ToolName string
	UserData any
}

// Tool is a callable function exposed to the LLM's tool-calling surface.
type Tool interface {
	Definition() Definition
	// Call executes the tool with raw JSON arguments and returns a Result.
	// Call must not panic; protocol-level failures are returned as Result{Err}.
	Call(ctx context.Context, rc RunContext, argsJSON string) Result
}

// FuncTool adapts a plain Go function into a Tool without requiring a
// bespoke type per tool.
type FuncTool struct {
	Def Definition
	Fn  func(ctx context.Context, rc RunContext, argsJSON string) Result
}

func (f FuncTool) Definition() Definition { return f.Def }
func (f FuncTool) Call(ctx context.Context, rc RunContext, argsJSON string) Result {
	return f.Fn(ctx, rc, argsJSON)
}

// Registry manages the set of tools available to an agent. Grounded on the
// teacher's tool registry: a name-keyed map guarded by an RWMutex with
// register/lookup/list/remove/clear/count/names operations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. It is an error to register a nil tool, one with an
// empty name, or a name that collides with an already-registered tool.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := t.Definition().Name
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools in no particular order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Definitions returns the JSON-schema Definition for every registered tool,
// the shape an llm.ChatRequest's Tools field expects.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	return out
}

// Remove deletes a tool by name, reporting whether it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	return true
}

// Clear removes every registered tool.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]Tool)
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns the names of every registered tool.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Execute looks up name in the registry and calls it, reporting failure in
// the returned Result's Err rather than as a separate Go error, matching the
// spec's "tool errors become FunctionCallOutput, not panics" contract.
func (r *Registry) Execute(ctx context.Context, rc RunContext, name, argsJSON string) Result {
	t, ok := r.Lookup(name)
	if !ok {
		return Result{Err: fmt.Errorf("unknown tool %q", name)}
	}
	rc.ToolName = name
	return t.Call(ctx, rc, argsJSON)
}

// ValidateArgs checks argsJSON is at least well-formed JSON before a tool
// call is dispatched, so a malformed payload from the model surfaces as a
// normal tool error rather than a panic inside the tool body.
func ValidateArgs(argsJSON string) error {
	if argsJSON == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(argsJSON), &v); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}
