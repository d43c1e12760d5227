package agentcore

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestStreamEventTypeValues(t *testing.T) {
	tests := []struct {
		got  StreamEventType
		want string
	}{
		{EventProcessingStart, "processing-start"},
		{EventThinking, "thinking"},
		{EventTextDelta, "text-delta"},
		{EventToolCallStart, "tool-call-start"},
		{EventToolCallResult, "tool-call-result"},
		{EventRoutingDecision, "routing-decision"},
		{EventCheckpoint, "checkpoint"},
	}
	for _, tt := range tests {
		if string(tt.got) != tt.want {
			t.Errorf("event type = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestStreamEventIDField(t *testing.T) {
	ev := StreamEvent{Type: EventToolCallStart, ID: "call_123", Name: "search"}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"id":"call_123"`) {
		t.Errorf("JSON missing id field: %s", data)
	}

	ev2 := StreamEvent{Type: EventTextDelta, Content: "hi"}
	data2, _ := json.Marshal(ev2)
	if strings.Contains(string(data2), `"id"`) {
		t.Errorf("empty ID should be omitted: %s", data2)
	}
}

func TestExecuteStreamNoTools(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{{Content: "streamed hello"}}}
	agent := NewAgent("streamer", provider)

	ch := make(chan StreamEvent, 10)
	result, err := agent.ExecuteStream(context.Background(), AgentTask{Input: "hi"}, ch)
	if err != nil {
		t.Fatal(err)
	}
	if result.Output != "streamed hello" {
		t.Errorf("Output = %q, want %q", result.Output, "streamed hello")
	}

	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one stream event")
	}
	if events[0].Type != EventProcessingStart {
		t.Errorf("first event = %q, want processing-start", events[0].Type)
	}
	found := false
	for _, ev := range events {
		if ev.Type == EventTextDelta && ev.Content == "streamed hello" {
			found = true
		}
	}
	if !found {
		t.Error("expected a text-delta event carrying the response content")
	}
}

func TestExecuteStreamToolCallEmitsStartAndResult(t *testing.T) {
	provider := &mockProvider{
		responses: []ChatResponse{
			{ToolCalls: []ToolCall{{ID: "1", Name: "greet", Args: json.RawMessage(`{}`)}}},
			{Content: "done"},
		},
	}
	agent := NewAgent("streamer", provider, WithTools(mockTool{}))

	ch := make(chan StreamEvent, 20)
	result, err := agent.ExecuteStream(context.Background(), AgentTask{Input: "hi"}, ch)
	if err != nil {
		t.Fatal(err)
	}
	if result.Output != "done" {
		t.Errorf("Output = %q, want done", result.Output)
	}

	var sawStart, sawResult bool
	for ev := range ch {
		switch ev.Type {
		case EventToolCallStart:
			if ev.Name == "greet" {
				sawStart = true
			}
		case EventToolCallResult:
			if ev.Name == "greet" {
				sawResult = true
			}
		}
	}
	if !sawStart {
		t.Error("expected a tool-call-start event for greet")
	}
	if !sawResult {
		t.Error("expected a tool-call-result event for greet")
	}
}

func TestExecuteStreamChannelAlwaysClosed(t *testing.T) {
	provider := &mockProvider{err: context.DeadlineExceeded}
	agent := NewAgent("streamer", provider)

	ch := make(chan StreamEvent, 5)
	_, _ = agent.ExecuteStream(context.Background(), AgentTask{Input: "hi"}, ch)

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done
}

func TestExecuteStreamThinkingEvent(t *testing.T) {
	provider := &mockProvider{responses: []ChatResponse{{Content: "answer", Thinking: "reasoning about it"}}}
	agent := NewAgent("thinker", provider)

	ch := make(chan StreamEvent, 10)
	_, err := agent.ExecuteStream(context.Background(), AgentTask{Input: "hi"}, ch)
	if err != nil {
		t.Fatal(err)
	}

	var sawThinking bool
	for ev := range ch {
		if ev.Type == EventThinking && ev.Content == "reasoning about it" {
			sawThinking = true
		}
	}
	if !sawThinking {
		t.Error("expected a thinking event carrying the response's Thinking field")
	}
}
