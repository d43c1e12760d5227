package agentcore

import (
	"context"
	"path/filepath"
)

// HookEvent names a lifecycle boundary the run loop fires hooks at.
type HookEvent string

const (
	EventPreGenerate         HookEvent = "PreGenerate"
	EventPostGenerate        HookEvent = "PostGenerate"
	EventPostGenerateFailure HookEvent = "PostGenerateFailure"
	EventPreToolUse          HookEvent = "PreToolUse"
	EventPostToolUse         HookEvent = "PostToolUse"
	EventPostToolUseFailure  HookEvent = "PostToolUseFailure"
	EventPreCompact          HookEvent = "PreCompact"
	EventPostCompact         HookEvent = "PostCompact"
	EventToolRegistered      HookEvent = "ToolRegistered"
	EventToolLoadError       HookEvent = "ToolLoadError"
)

// PermissionDecision is the aggregated outcome of PreToolUse hooks for one
// tool call.
type PermissionDecision string

const (
	PermissionAllow PermissionDecision = "allow"
	PermissionDeny  PermissionDecision = "deny"
	PermissionAsk   PermissionDecision = "ask"
)

// HookOutput carries the optional decisions a hook can return. Only the
// fields relevant to the event being handled are consulted; the rest are
// ignored.
type HookOutput struct {
	// PermissionDecision applies to PreToolUse only; decisions from every
	// hook that ran for the call are aggregated (deny beats ask beats allow).
	PermissionDecision PermissionDecision
	// RespondWith short-circuits a Pre-event with a synthetic result. The
	// first hook to set it wins; later hooks in the group still run unless
	// Continue is explicitly false.
	RespondWith any
	// Continue, when explicitly set to false after RespondWith, stops
	// remaining hooks in the group from running.
	Continue *bool
	// ModifiedInput replaces the forward input for downstream hooks and,
	// ultimately, the run loop. Each hook sees the previous hook's
	// modification.
	ModifiedInput any
	// Retry requests the run loop retry the failed generate or tool call
	// (PostGenerateFailure / PostToolUseFailure only).
	Retry bool
	// RetryDelayMs is how long the loop should wait before retrying.
	RetryDelayMs int
	// Sequential, when set by a PreToolUse hook group, forces that tool
	// call to run after all earlier tool calls in the same iteration
	// instead of concurrently with them.
	Sequential bool
}

// haltError carries a HookOutput.RespondWith value up through the run loop
// so it can produce a graceful AgentResult instead of propagating as a
// generic failure.
type haltError struct {
	output HookOutput
}

func (e *haltError) Error() string { return "hook halted with synthetic response" }

// HookFunc is the shape every hook callback implements, keyed by event.
// Using one function type (rather than one interface per event) keeps hook
// registration a plain data structure — a registry of functions — instead
// of requiring dynamic dispatch through an inheritance hierarchy.
type HookFunc func(ctx context.Context, event HookEvent, payload any) (HookOutput, error)

// HookRegistration groups hooks under an optional matcher. Matcher is a
// glob pattern evaluated against the tool name for tool-scoped events
// (PreToolUse, PostToolUse, PostToolUseFailure); empty matches everything
// and is ignored for non-tool events. Hooks within a group run in
// registration (insertion) order; groups themselves also run in
// registration order.
type HookRegistration struct {
	Matcher string
	Hooks   []HookFunc
}

// HookRegistry holds, per event, an ordered list of HookRegistrations. It
// is the in-process interception/aggregation layer the run loop consults
// at every lifecycle boundary.
type HookRegistry struct {
	groups map[HookEvent][]HookRegistration
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{groups: make(map[HookEvent][]HookRegistration)}
}

// On registers hooks for event, scoped to tool names matching matcher (glob
// syntax per path/filepath.Match; empty matcher matches every tool, and is
// the only valid form for non-tool events).
func (r *HookRegistry) On(event HookEvent, matcher string, hooks ...HookFunc) {
	r.groups[event] = append(r.groups[event], HookRegistration{Matcher: matcher, Hooks: hooks})
}

// toolMatches reports whether name satisfies matcher (empty matcher always matches).
func toolMatches(matcher, name string) bool {
	if matcher == "" {
		return true
	}
	ok, err := filepath.Match(matcher, name)
	return err == nil && ok
}

// runPre executes every registered hook for a Pre-event (PreGenerate or
// PreToolUse scoped by toolName), threading ModifiedInput through the
// chain. It stops early at the first deny, or when a hook that sets
// RespondWith also sets Continue explicitly to false.
func (r *HookRegistry) runPre(ctx context.Context, event HookEvent, toolName string, payload any) (any, HookOutput, error) {
	input := payload
	var agg HookOutput
	askSeen := false

	for _, group := range r.groups[event] {
		if !toolMatches(group.Matcher, toolName) {
			continue
		}
		for _, h := range group.Hooks {
			out, err := h(ctx, event, input)
			if err != nil {
				return input, agg, err
			}
			if out.ModifiedInput != nil {
				input = out.ModifiedInput
			}
			switch out.PermissionDecision {
			case PermissionDeny:
				agg.PermissionDecision = PermissionDeny
				return input, agg, nil
			case PermissionAsk:
				askSeen = true
			}
			if out.RespondWith != nil {
				if agg.RespondWith == nil {
					agg.RespondWith = out.RespondWith
				}
				if out.Continue != nil && !*out.Continue {
					return input, agg, nil
				}
			}
			if out.Sequential {
				agg.Sequential = true
			}
		}
	}

	switch {
	case askSeen:
		agg.PermissionDecision = PermissionAsk
	default:
		agg.PermissionDecision = PermissionAllow
	}
	return input, agg, nil
}

// runPost executes every registered hook for a Post-event, threading
// ModifiedInput through the chain. Post-events have no permission
// aggregation; the first hook to set Retry wins, together with its
// RetryDelayMs.
func (r *HookRegistry) runPost(ctx context.Context, event HookEvent, toolName string, payload any) (any, HookOutput, error) {
	input := payload
	var agg HookOutput
	for _, group := range r.groups[event] {
		if !toolMatches(group.Matcher, toolName) {
			continue
		}
		for _, h := range group.Hooks {
			out, err := h(ctx, event, input)
			if err != nil {
				return input, agg, err
			}
			if out.ModifiedInput != nil {
				input = out.ModifiedInput
			}
			if out.Retry && !agg.Retry {
				agg.Retry = true
				agg.RetryDelayMs = out.RetryDelayMs
			}
		}
	}
	return input, agg, nil
}

// RunPreGenerate fires PreGenerate hooks. On RespondWith it returns a
// haltError carrying the output; the run loop converts that into a
// synthetic AgentResult.
func (r *HookRegistry) RunPreGenerate(ctx context.Context, req *ChatRequest) error {
	out, output, err := r.runPre(ctx, EventPreGenerate, "", req)
	if err != nil {
		return err
	}
	if output.RespondWith != nil {
		return &haltError{output: output}
	}
	if modified, ok := out.(*ChatRequest); ok {
		*req = *modified
	}
	return nil
}

// RunPostGenerate fires PostGenerate hooks.
func (r *HookRegistry) RunPostGenerate(ctx context.Context, resp *ChatResponse) error {
	out, _, err := r.runPost(ctx, EventPostGenerate, "", resp)
	if err != nil {
		return err
	}
	if modified, ok := out.(*ChatResponse); ok {
		*resp = *modified
	}
	return nil
}

// RunPostGenerateFailure fires PostGenerateFailure hooks for a classified
// model error and reports whether any hook requested a retry.
func (r *HookRegistry) RunPostGenerateFailure(ctx context.Context, cause error) (retry bool, delayMs int, err error) {
	_, output, err := r.runPost(ctx, EventPostGenerateFailure, "", cause)
	return output.Retry, output.RetryDelayMs, err
}

// RunPreToolUse fires PreToolUse hooks scoped to tc.Name and returns the
// aggregated permission decision, any input modification, and whether any
// hook in the group forced sequential execution for this call.
func (r *HookRegistry) RunPreToolUse(ctx context.Context, tc ToolCall) (ToolCall, PermissionDecision, bool, error) {
	out, output, err := r.runPre(ctx, EventPreToolUse, tc.Name, tc)
	if err != nil {
		return tc, PermissionDeny, false, err
	}
	if modified, ok := out.(ToolCall); ok {
		tc = modified
	}
	return tc, output.PermissionDecision, output.Sequential, nil
}

// RunPostToolUse fires PostToolUse hooks scoped to tc.Name.
func (r *HookRegistry) RunPostToolUse(ctx context.Context, tc ToolCall, result *ToolResult) error {
	out, _, err := r.runPost(ctx, EventPostToolUse, tc.Name, result)
	if err != nil {
		return err
	}
	if modified, ok := out.(*ToolResult); ok {
		*result = *modified
	}
	return nil
}

// RunPostToolUseFailure fires PostToolUseFailure hooks for a failed call
// and reports whether any hook requested a retry of the same call.
func (r *HookRegistry) RunPostToolUseFailure(ctx context.Context, tc ToolCall, cause error) (retry bool, delayMs int, err error) {
	_, output, err := r.runPost(ctx, EventPostToolUseFailure, tc.Name, cause)
	return output.Retry, output.RetryDelayMs, err
}

// RunPreCompact fires PreCompact hooks before context compaction runs.
func (r *HookRegistry) RunPreCompact(ctx context.Context, messages []ChatMessage) ([]ChatMessage, error) {
	out, _, err := r.runPre(ctx, EventPreCompact, "", messages)
	if err != nil {
		return messages, err
	}
	if modified, ok := out.([]ChatMessage); ok {
		return modified, nil
	}
	return messages, nil
}

// RunPostCompact fires PostCompact hooks after context compaction runs.
func (r *HookRegistry) RunPostCompact(ctx context.Context, messages []ChatMessage) error {
	_, _, err := r.runPost(ctx, EventPostCompact, "", messages)
	return err
}

// EmitToolRegistered fires ToolRegistered hooks, used for audit logging when
// a tool is added to a registry at runtime.
func (r *HookRegistry) EmitToolRegistered(ctx context.Context, def ToolDefinition) {
	r.runPost(ctx, EventToolRegistered, def.Name, def) //nolint:errcheck
}

// EmitToolLoadError fires ToolLoadError hooks, used when a dynamically
// resolved tool set fails to build for a task.
func (r *HookRegistry) EmitToolLoadError(ctx context.Context, cause error) {
	r.runPost(ctx, EventToolLoadError, "", cause) //nolint:errcheck
}

// Len reports how many hook groups are registered across all events, for
// diagnostics.
func (r *HookRegistry) Len() int {
	n := 0
	for _, groups := range r.groups {
		n += len(groups)
	}
	return n
}
