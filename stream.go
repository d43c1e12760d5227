package agentcore

import "encoding/json"

// StreamEventType identifies the kind of streaming event.
type StreamEventType string

const (
	// EventProcessingStart signals the run loop has built its initial
	// context and is about to make its first provider call.
	EventProcessingStart StreamEventType = "processing-start"
	// EventThinking carries extended-thinking/reasoning content, emitted
	// separately from the final answer text.
	EventThinking StreamEventType = "thinking"
	// EventTextDelta carries an incremental text chunk from the provider.
	EventTextDelta StreamEventType = "text-delta"
	// EventToolCallStart signals a tool is about to be invoked.
	EventToolCallStart StreamEventType = "tool-call-start"
	// EventToolCallResult carries the result of a completed tool call.
	EventToolCallResult StreamEventType = "tool-call-result"
	// EventRoutingDecision reports which tools the model selected in one
	// iteration, useful for observing multi-tool fan-out decisions.
	EventRoutingDecision StreamEventType = "routing-decision"
	// EventCheckpoint signals the run suspended and a Checkpoint was
	// persisted; Content carries the checkpoint ID.
	EventCheckpoint StreamEventType = "checkpoint"
)

// StreamEvent is a typed event emitted during a streaming agent run.
// Consumers receive these on the channel passed to Agent.ExecuteStream.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	ID       string          `json:"id,omitempty"`   // tool call ID, for start/result correlation
	Name     string          `json:"name,omitempty"` // tool name or agent name
	Content  string          `json:"content,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Usage    Usage           `json:"usage,omitempty"`
	Duration int64           `json:"duration_ms,omitempty"`
}
