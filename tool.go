package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Tool defines an agent capability with one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content   string `json:"content"`
	Error     string `json:"error,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// defaultMaxOutputSize bounds a tool result's byte length when a
// ToolDefinition doesn't set its own MaxOutputSize. Matches tools/shell's
// truncation convention, generalized to a configurable per-tool limit.
const defaultMaxOutputSize = 4000

// defaultToolTimeout is the timeout applied to a tool call whose
// ToolDefinition.Timeout is zero.
const defaultToolTimeout = 30 * time.Second

// ToolRegistry holds all registered tools and dispatches execution,
// enforcing each tool's timeout, output size, and allow/deny policy when
// Execute runs. The run loop fires PreToolUse hooks before it calls Execute,
// so the allow/deny lists are checked after the hooks, not before them.
type ToolRegistry struct {
	tools  []Tool
	index  map[string]Tool
	defs   map[string]ToolDefinition
	allow  map[string]bool // nil = no allowlist restriction
	deny   map[string]bool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{index: make(map[string]Tool), defs: make(map[string]ToolDefinition)}
}

// Add registers a tool, indexing each of its definitions by name.
func (r *ToolRegistry) Add(t Tool) {
	r.tools = append(r.tools, t)
	for _, d := range t.Definitions() {
		r.index[d.Name] = t
		r.defs[d.Name] = d
	}
}

// Allow restricts execution to only the named tools. Calling Allow at least
// once switches the registry into allowlist mode; names not passed to any
// Allow call are denied regardless of Deny.
func (r *ToolRegistry) Allow(names ...string) {
	if r.allow == nil {
		r.allow = make(map[string]bool)
	}
	for _, n := range names {
		r.allow[n] = true
	}
}

// Deny blocks execution of the named tools even if present in an allowlist.
func (r *ToolRegistry) Deny(names ...string) {
	if r.deny == nil {
		r.deny = make(map[string]bool)
	}
	for _, n := range names {
		r.deny[n] = true
	}
}

// permitted reports whether name passes the registry's allow/deny lists.
func (r *ToolRegistry) permitted(name string) bool {
	if r.deny != nil && r.deny[name] {
		return false
	}
	if r.allow != nil && !r.allow[name] {
		return false
	}
	return true
}

// AllDefinitions returns tool definitions from all registered tools.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Lookup returns the ToolDefinition registered under name, if any.
func (r *ToolRegistry) Lookup(name string) (ToolDefinition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Execute dispatches a tool call by name, applying the allow/deny policy,
// a per-call timeout (ToolDefinition.Timeout, defaulting to
// defaultToolTimeout), and output truncation (ToolDefinition.MaxOutputSize,
// defaulting to defaultMaxOutputSize).
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	if !r.permitted(name) {
		return ToolResult{Error: fmt.Sprintf("tool %q is not permitted", name)}, nil
	}
	t, ok := r.index[name]
	if !ok {
		return ToolResult{Error: "unknown tool: " + name}, nil
	}
	def := r.defs[name]

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := t.Execute(callCtx, name, args)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return ToolResult{}, &ErrToolTimeout{Tool: name, Timeout: timeout.String()}
		}
		return result, err
	}

	maxSize := def.MaxOutputSize
	if maxSize <= 0 {
		maxSize = defaultMaxOutputSize
	}
	if len(result.Content) > maxSize {
		result.Content = result.Content[:maxSize] + "\n... (truncated)"
		result.Truncated = true
	}
	return result, nil
}
