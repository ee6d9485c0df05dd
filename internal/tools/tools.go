// Package tools provides the unified tool registry: a single view over
// in-process tools and external MCP-server tools, with call-site filters
// implementing recursion prevention.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fluviusmagnus/Seelenmaschine/internal/providers/llm"
)

// Tool is a single capability advertised to the LLM: metadata plus
// invoke(args-json) -> result-json | error.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Result is the output of a tool execution. IsError results are fed back to
// the LLM as tool failures; the orchestrator continues either way.
type Result struct {
	Content string
	IsError bool
}

// Tool parameter limits to prevent resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// Registry manages available tools with thread-safe registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry ready for tool registration.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool by its name, replacing any existing tool of that name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// View returns a filtered view of the registry with the named tools hidden.
// Hiding is the recursion-prevention mechanism: a scheduler firing hides the
// task-management tool so the LLM cannot schedule further tasks from inside
// a scheduled turn.
func (r *Registry) View(hide ...string) *View {
	hidden := make(map[string]bool, len(hide))
	for _, name := range hide {
		hidden[name] = true
	}
	return &View{reg: r, hidden: hidden}
}

// View is a call-site-scoped filter over a Registry.
type View struct {
	reg    *Registry
	hidden map[string]bool
}

// Defs returns the visible tools in the provider's function-calling shape,
// sorted by name so prompt assembly stays deterministic.
func (v *View) Defs() []llm.ToolDef {
	v.reg.mu.RLock()
	defer v.reg.mu.RUnlock()

	defs := make([]llm.ToolDef, 0, len(v.reg.tools))
	for name, t := range v.reg.tools {
		if v.hidden[name] {
			continue
		}
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a visible tool by name. Every failure mode is converted into
// an IsError Result rather than an error return, so the orchestrator always
// has a tool-result message to hand back to the LLM.
func (v *View) Execute(ctx context.Context, name string, params json.RawMessage) *Result {
	if len(name) > MaxToolNameLength {
		return &Result{Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength), IsError: true}
	}
	if len(params) > MaxToolParamsSize {
		return &Result{Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize), IsError: true}
	}
	if v.hidden[name] {
		return &Result{Content: "[policy_violation] tool " + name + " is disabled in this context", IsError: true}
	}

	tool, ok := v.reg.Get(name)
	if !ok {
		return &Result{Content: "tool not found: " + name, IsError: true}
	}

	result, err := tool.Execute(ctx, params)
	if err != nil {
		return &Result{Content: "tool " + name + " failed: " + err.Error(), IsError: true}
	}
	if result == nil {
		return &Result{Content: "tool " + name + " returned no result", IsError: true}
	}
	return result
}
