package agentcore

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestGetBudgetApproximateCounter(t *testing.T) {
	cm := NewContextManager(WithTokenLimit(1000))
	messages := []ChatMessage{
		UserMessage(strings.Repeat("x", 400)), // ~100 tokens + overhead
	}
	b := cm.GetBudget(messages)
	if b.CurrentTokens <= 0 {
		t.Fatalf("CurrentTokens = %d, want > 0", b.CurrentTokens)
	}
	if b.MaxTokens != 1000 {
		t.Errorf("MaxTokens = %d, want 1000", b.MaxTokens)
	}
	if b.IsActual {
		t.Error("IsActual = true, want false for an estimated budget")
	}
}

func TestGetBudgetIsCached(t *testing.T) {
	cm := NewContextManager()
	messages := []ChatMessage{UserMessage("hello")}
	b1 := cm.GetBudget(messages)
	b2 := cm.GetBudget(messages)
	if b1.CurrentTokens != b2.CurrentTokens {
		t.Errorf("cached budget changed: %d vs %d", b1.CurrentTokens, b2.CurrentTokens)
	}
}

func TestShouldCompactHardCap(t *testing.T) {
	cm := NewContextManager(WithTokenLimit(100), WithCompactThresholds(0.8, 0.95))
	messages := []ChatMessage{UserMessage(strings.Repeat("x", 4*100))} // ~100 tokens, at limit
	d := cm.ShouldCompact(messages)
	if !d.Trigger || d.Reason != ReasonHardCap {
		t.Errorf("decision = %+v, want hard_cap trigger", d)
	}
}

func TestShouldCompactTokenThreshold(t *testing.T) {
	cm := NewContextManager(WithTokenLimit(1000), WithCompactThresholds(0.1, 0.99))
	messages := []ChatMessage{UserMessage(strings.Repeat("x", 4*200))} // ~200 tokens = 0.2 fraction
	d := cm.ShouldCompact(messages)
	if !d.Trigger || d.Reason != ReasonTokenThreshold {
		t.Errorf("decision = %+v, want token_threshold trigger", d)
	}
}

func TestShouldCompactNoneBelowThreshold(t *testing.T) {
	cm := NewContextManager(WithTokenLimit(1_000_000))
	messages := []ChatMessage{UserMessage("hi")}
	d := cm.ShouldCompact(messages)
	if d.Trigger {
		t.Errorf("decision = %+v, want no trigger", d)
	}
}

func TestShouldCompactErrorFallbackTakesPriority(t *testing.T) {
	cm := NewContextManager(WithTokenLimit(1_000_000), WithContextErrorFallback(true))
	cm.NotifyContextLengthError()
	d := cm.ShouldCompact([]ChatMessage{UserMessage("hi")})
	if !d.Trigger || d.Reason != ReasonErrorFallback {
		t.Errorf("decision = %+v, want error_fallback trigger", d)
	}
}

func TestShouldCompactOverrideReplacesPolicy(t *testing.T) {
	called := false
	cm := NewContextManager(WithShouldCompact(func(b TokenBudget, _ []ChatMessage) CompactDecision {
		called = true
		return CompactDecision{Trigger: true, Reason: ReasonTokenThreshold}
	}))
	d := cm.ShouldCompact([]ChatMessage{UserMessage("hi")})
	if !called || !d.Trigger {
		t.Error("expected override to be invoked and trigger")
	}
}

func TestPinSurvivesRollupCompaction(t *testing.T) {
	cm := NewContextManager(WithTokenLimit(1), WithKeepMessageCount(0))
	cm.Pin(0, "important")

	messages := []ChatMessage{
		UserMessage("pinned message"),
		UserMessage("regular message one"),
		UserMessage("regular message two"),
	}
	provider := &mockProvider{resp: ChatResponse{Content: "summary of old messages"}}

	out := cm.compactSync(context.Background(), provider, messages, CompactDecision{Trigger: true, Reason: ReasonHardCap})

	var sawPinned bool
	for _, m := range out {
		if m.Content == "pinned message" {
			sawPinned = true
		}
	}
	if !sawPinned {
		t.Error("pinned message should survive compaction")
	}
}

func TestUnpin(t *testing.T) {
	cm := NewContextManager()
	cm.Pin(2, "x")
	if !cm.IsPinned(2) {
		t.Fatal("expected pinned")
	}
	cm.Unpin(2)
	if cm.IsPinned(2) {
		t.Error("expected unpinned")
	}
}

func TestCompactRollupFoldsOldMessages(t *testing.T) {
	cm := NewContextManager(WithKeepMessageCount(1))
	messages := []ChatMessage{
		UserMessage("first"),
		UserMessage("second"),
		UserMessage("third"),
	}
	provider := &mockProvider{resp: ChatResponse{Content: "concise summary"}}

	out, err := cm.compactRollup(context.Background(), provider, messages)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (summary + last kept message)", len(out))
	}
	if !strings.Contains(out[0].Content, "concise summary") {
		t.Errorf("out[0] = %q, want summary content", out[0].Content)
	}
	if out[1].Content != "third" {
		t.Errorf("out[1] = %q, want third", out[1].Content)
	}
}

func TestCompactStructuredDegradesOnInvalidJSON(t *testing.T) {
	cm := NewContextManager(WithSummarizationStrategy(StrategyStructured), WithKeepMessageCount(0))
	messages := []ChatMessage{UserMessage("a"), UserMessage("b")}
	provider := &mockProvider{resp: ChatResponse{Content: "not json at all"}}

	out, err := cm.compactStructured(context.Background(), provider, messages)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || !strings.Contains(out[0].Content, "not json at all") {
		t.Errorf("out = %+v, want degraded rollup-style summary", out)
	}
}

func TestCompactStructuredParsesFields(t *testing.T) {
	cm := NewContextManager(WithSummarizationStrategy(StrategyStructured), WithKeepMessageCount(0))
	messages := []ChatMessage{UserMessage("a"), UserMessage("b")}
	provider := &mockProvider{resp: ChatResponse{Content: `{"decisions":["use go"],"currentState":"building"}`}}

	out, err := cm.compactStructured(context.Background(), provider, messages)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].StructuredSummary == nil || out[0].StructuredSummary.CurrentState != "building" {
		t.Errorf("StructuredSummary = %+v, want currentState=building", out[0].StructuredSummary)
	}
}

func TestProcessNoTriggerReturnsUnchanged(t *testing.T) {
	cm := NewContextManager(WithTokenLimit(1_000_000))
	messages := []ChatMessage{UserMessage("hi")}
	provider := &mockProvider{}
	out := cm.Process(context.Background(), provider, messages)
	if len(out) != len(messages) {
		t.Errorf("len(out) = %d, want unchanged", len(out))
	}
}

func TestProcessBackgroundCoalescesAndCompletes(t *testing.T) {
	cm := NewContextManager(
		WithTokenLimit(1), WithKeepMessageCount(0),
		WithBackgroundCompaction(20*time.Millisecond, 1),
	)
	messages := []ChatMessage{UserMessage("one"), UserMessage("two")}
	provider := &mockProvider{resp: ChatResponse{Content: "bg summary"}}

	first := cm.Process(context.Background(), provider, messages)
	if len(first) != len(messages) {
		t.Fatal("first call should return messages unchanged while scheduling")
	}

	// Rapid second call coalesces onto the same pending task.
	second := cm.Process(context.Background(), provider, messages)
	if len(second) != len(messages) {
		t.Fatal("second call should still see the pending task and return unchanged")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result := cm.Process(context.Background(), provider, messages)
		if len(result) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background compaction never completed")
}

func TestRecordFailureDisablesBackgroundAfterThreeFailures(t *testing.T) {
	cm := NewContextManager()
	for i := 0; i < 3; i++ {
		cm.recordFailure(context.DeadlineExceeded)
	}
	cm.mu.Lock()
	disabled := cm.backgroundDisabled
	cm.mu.Unlock()
	if !disabled {
		t.Error("expected background compaction to be disabled after 3 consecutive failures")
	}
}

func TestTokenBudgetFraction(t *testing.T) {
	b := TokenBudget{CurrentTokens: 50, MaxTokens: 200, Usage: 0.25}
	if got := b.Fraction(); got != 0.25 {
		t.Errorf("Fraction() = %v, want 0.25", got)
	}
	if (TokenBudget{MaxTokens: 0}).Fraction() != 0 {
		t.Error("Fraction() with zero limit should be 0")
	}
}

func TestGetBudgetActualUsage(t *testing.T) {
	cm := NewContextManager(WithTokenLimit(1000))
	messages := []ChatMessage{UserMessage("hello")}

	estimated := cm.GetBudget(messages)
	if estimated.IsActual {
		t.Error("expected estimated budget before NotifyActualUsage")
	}

	cm.NotifyActualUsage(messages, Usage{InputTokens: 42})
	actual := cm.GetBudget(messages)
	if !actual.IsActual {
		t.Error("expected IsActual after NotifyActualUsage for the same messages")
	}
	if actual.CurrentTokens != 42 {
		t.Errorf("CurrentTokens = %d, want 42", actual.CurrentTokens)
	}
	if actual.Remaining != 958 {
		t.Errorf("Remaining = %d, want 958", actual.Remaining)
	}

	changed := append(append([]ChatMessage{}, messages...), UserMessage("more"))
	if cm.GetBudget(changed).IsActual {
		t.Error("expected estimated budget for different messages after an unrelated actual report")
	}
}
