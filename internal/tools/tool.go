// Package tools defines the tool contract consumed by the tool round
// executor, plus the registry and the intrinsic driver tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/teamdrive/internal/dialog"
	"github.com/nextlevelbuilder/teamdrive/internal/provider"
)

// ArgsValidation selects how tool arguments are checked before dispatch.
const (
	ValidationStrict      = "strict"
	ValidationPassthrough = "passthrough"
)

// CallContext carries the dialog and caller identity into a tool invocation.
// The drive lock of Dialog is held for the duration of the call.
type CallContext struct {
	Dialog  *dialog.Dialog
	AgentID string
	Args    map[string]any
}

// Result is the unified return of a tool call.
type Result struct {
	Content string
	IsError bool
}

func NewResult(content string) *Result   { return &Result{Content: content} }
func ErrorResult(content string) *Result { return &Result{Content: content, IsError: true} }

// Tool is one callable function exposed to the model.
type Tool struct {
	Name           string
	Description    string
	Parameters     map[string]any // JSON schema
	ArgsValidation string         // ValidationStrict (default) or ValidationPassthrough
	Call           func(ctx context.Context, tc *CallContext) (*Result, error)
}

// Def projects the tool into the provider wire shape.
func (t *Tool) Def() provider.ToolDef {
	return provider.ToolDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// Registry is a named set of tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	r.tools[t.Name] = t
	r.mu.Unlock()
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Remove drops a tool by name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
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

// All returns the tools in name order.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Clone returns a shallow copy of the registry, for per-drive filtering.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for n, t := range r.tools {
		c.tools[n] = t
	}
	return c
}

// Defs projects every tool into provider wire shapes, name-sorted.
func (r *Registry) Defs() []provider.ToolDef {
	all := r.All()
	defs := make([]provider.ToolDef, 0, len(all))
	for _, t := range all {
		defs = append(defs, t.Def())
	}
	return defs
}

// NotFoundText is the func_result body for an unknown tool name.
func NotFoundText(name string) string {
	return fmt.Sprintf("Tool '%s' not found", name)
}
