package agentcore

import (
	"context"
	"encoding/json"
	"time"
)

// --- LLM protocol types ---

// ChatMessage is one turn in a conversation sent to or received from a
// model provider.
type ChatMessage struct {
	Role        string          `json:"role"` // "system", "user", "assistant", "tool"
	Content     string          `json:"content"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	ToolCalls   []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID  string          `json:"tool_call_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"` // provider-specific (e.g. thought signatures)

	// StructuredSummary holds the raw structured digest when this message
	// was produced by the Context Manager's structured summarization
	// strategy; nil for ordinary messages.
	StructuredSummary *StructuredSummary `json:"structured_summary,omitempty"`
}

// Attachment represents binary content (image, PDF, audio, etc.) sent inline
// to a multimodal provider. MimeType determines how the provider interprets
// the data.
type Attachment struct {
	MimeType string `json:"mime_type"`
	Base64   string `json:"base64"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ResponseSchema tells the provider to enforce structured JSON output.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// GenerationParams carries provider-agnostic sampling controls. Fields left
// at their zero value fall back to the provider's own default.
type GenerationParams struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
}

// ChatRequest is a single call to a Provider.
type ChatRequest struct {
	Messages         []ChatMessage     `json:"messages"`
	Tools            []ToolDefinition  `json:"tools,omitempty"`
	ResponseSchema   *ResponseSchema   `json:"response_schema,omitempty"`
	GenerationParams *GenerationParams `json:"generation_params,omitempty"`
}

// ChatResponse is the provider's reply to a ChatRequest.
type ChatResponse struct {
	Content     string       `json:"content"`
	Thinking    string       `json:"thinking,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Usage       Usage        `json:"usage"`
}

// Usage tracks token consumption for a single call or an aggregate of calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition describes a callable tool to the model provider and
// carries the runtime's per-tool invocation policy.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema

	// Timeout overrides the registry default for this tool. Zero means
	// inherit defaultToolTimeout.
	Timeout time.Duration `json:"-"`
	// MaxOutputSize overrides the registry default truncation size (bytes)
	// for this tool's result content. Zero means inherit defaultMaxOutputSize.
	MaxOutputSize int `json:"-"`
	// Background marks a tool as out-of-band: the run loop enqueues it as a
	// BackgroundTask and returns its ID synchronously instead of blocking
	// for a normal tool-result.
	Background bool `json:"-"`
}

// --- Agent run types ---

// AgentTask is the input to an agent run.
type AgentTask struct {
	// Input is the natural language task description.
	Input string
	// Context carries optional metadata (caller-assigned correlation IDs, etc).
	Context map[string]string
	// ThreadID identifies the conversation for checkpoint load/save. Empty
	// means the run is stateless — no checkpoint is consulted or written.
	ThreadID string
	// MaxSteps overrides the agent's configured maxIter for this call only.
	// Zero means use the agent's default.
	MaxSteps int
}

// FinishReason explains why a run loop terminated.
type FinishReason string

const (
	// FinishStop indicates the model produced a final response with no
	// further tool calls.
	FinishStop FinishReason = "stop"
	// FinishLength indicates maxSteps was reached and the loop forced a
	// synthesis response.
	FinishLength FinishReason = "length"
	// FinishInterrupted indicates the run suspended on an approval
	// interrupt; Result.Interrupt and Result.ThreadID are set.
	FinishInterrupted FinishReason = "interrupted"
)

// StepTrace records one tool invocation within a run, for observability and
// for reconstructing what happened across a suspend/resume boundary.
type StepTrace struct {
	Name     string `json:"name"`
	Input    string `json:"input"`
	Output   string `json:"output"`
	IsError  bool   `json:"is_error"`
	Usage    Usage  `json:"usage"`
	Duration int64  `json:"duration_ms"`
}

// AgentResult is the output of an agent run. A run is either Complete
// (FinishReason stop or length, Output/Steps populated) or Interrupted
// (FinishReason interrupted, Interrupt and ThreadID populated, Output
// empty) per the Agent Run Loop's two-outcome contract.
type AgentResult struct {
	Output      string
	Thinking    string
	Attachments []Attachment
	Usage       Usage
	Steps       []StepTrace
	FinishReason FinishReason
	// Interrupt is set when FinishReason is FinishInterrupted. The caller
	// resolves it via RespondToInterrupt and re-calls Execute with the same
	// AgentTask.ThreadID to resume.
	Interrupt *Interrupt
	// ThreadID echoes AgentTask.ThreadID when a checkpoint was involved,
	// so callers can resume without having threaded it through themselves.
	ThreadID string
}

// PromptFunc resolves the system prompt for a task at call time, overriding
// the agent's static prompt.
type PromptFunc func(ctx context.Context, task AgentTask) string

// ModelFunc resolves the provider to use for a task at call time, overriding
// the agent's static provider. Used for per-task model routing and for
// selecting a cheaper model for context compression.
type ModelFunc func(ctx context.Context, task AgentTask) Provider

// ToolsFunc resolves the tool set for a task at call time, overriding the
// agent's static tool registry.
type ToolsFunc func(ctx context.Context, task AgentTask) []Tool

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
