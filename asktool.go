package agentcore

import (
	"context"
	"encoding/json"
	"time"
)

// askUserToolName is the name under which the human-in-the-loop tool is
// registered when an InputHandler is configured via WithInputHandler.
const askUserToolName = "ask_user"

// askUserToolDef describes the built-in ask_user tool to the model.
var askUserToolDef = ToolDefinition{
	Name:        askUserToolName,
	Description: "Ask the user a question when you need clarification, confirmation, or additional information to proceed.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {
				"type": "string",
				"description": "The question to ask the user"
			},
			"options": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Optional suggested answers for the user to choose from"
			}
		},
		"required": ["question"]
	}`),
	// Waiting on a human has no natural timeout; the registry default
	// (30s) would abort the call before anyone could answer.
	Timeout: 24 * time.Hour,
}

// askUserArgs is the parsed arguments for an ask_user tool call.
type askUserArgs struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// askUserTool wraps an InputHandler as an ordinary Tool, so human-in-the-
// loop interaction flows through the same PreToolUse/PostToolUse pipeline
// as any other tool call instead of needing a run-loop special case.
type askUserTool struct {
	handler InputHandler
}

func newAskUserTool(h InputHandler) Tool {
	return &askUserTool{handler: h}
}

func (t *askUserTool) Definitions() []ToolDefinition {
	return []ToolDefinition{askUserToolDef}
}

func (t *askUserTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	var parsed askUserArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return ToolResult{Error: "invalid ask_user args: " + err.Error()}, nil
	}

	resp, err := t.handler.RequestInput(ctx, InputRequest{
		Question: parsed.Question,
		Options:  parsed.Options,
		Metadata: map[string]string{"source": "llm"},
	})
	if err != nil {
		return ToolResult{Error: err.Error()}, nil
	}
	return ToolResult{Content: resp.Value}, nil
}
