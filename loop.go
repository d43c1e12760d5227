package agentcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// --- shared execution loop ---

// toolExecFunc executes a tool by name. ToolRegistry.Execute satisfies this,
// applying per-tool timeout and truncation before the result reaches the loop.
type toolExecFunc = func(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)

// loopConfig holds everything runLoop needs to drive one generate call.
type loopConfig struct {
	name     string
	provider Provider
	tools    []ToolDefinition
	lookup   func(name string) (ToolDefinition, bool)
	execTool toolExecFunc
	hooks    *HookRegistry
	breakers *CircuitBreakerRegistry

	maxIter      int
	systemPrompt string
	inputHandler InputHandler

	checkpointer Checkpointer
	checkpointNS string
	budget       *suspendBudget

	taskStore      TaskStore
	waitForBgTasks bool

	responseSchema     *ResponseSchema
	generationParams   *GenerationParams
	compressModel      ModelFunc
	compressThreshold  int
	contextManager     *ContextManager
	maxAttachmentBytes int64

	enableErrorFallback bool

	tracer Tracer
	logger *slog.Logger // never nil (nopLogger fallback)
}

// maxToolResultMessageLen is the maximum rune length for a tool result
// stored in the conversation message history during the tool-calling loop.
// Results exceeding this limit are truncated with a marker so the model
// knows content was trimmed. Prevents unbounded memory growth from tools
// that return very large outputs (e.g. web scraping, file reads).
const maxToolResultMessageLen = 100_000 // ~25K tokens

// maxAccumulatedAttachments caps the number of attachments collected from
// tool results during one run.
const maxAccumulatedAttachments = 50

// maxAccumulatedAttachmentBytes is the default size budget (bytes) for
// attachments collected from tool results during one run.
const maxAccumulatedAttachmentBytes int64 = 50 * 1024 * 1024 // 50 MB

// defaultCompressThreshold is the default rune count at which context
// compression triggers in the tool-calling loop. ~50K tokens.
const defaultCompressThreshold = 200_000

// maxParallelDispatch caps the number of concurrent tool call goroutines to
// avoid overwhelming external services with unbounded parallelism.
const maxParallelDispatch = 10

// maxHookRetries bounds how many times one step will re-attempt a generate
// call in response to a hook's retry:true, preventing a misbehaving
// hook from looping the run loop forever.
const maxHookRetries = 3

// runLoop drives a single generate call to a terminal state: Complete
// (stop or length) or Interrupted, per the Agent Run Loop contract. When ch
// is non-nil it also emits StreamEvent values and closes ch before
// returning.
func runLoop(ctx context.Context, cfg loopConfig, task AgentTask, ch chan<- StreamEvent) (AgentResult, error) {
	var totalUsage Usage
	var steps []StepTrace

	var closeOnce sync.Once
	safeCloseCh := func() {
		if ch != nil {
			closeOnce.Do(func() {
				defer func() { recover() }()
				close(ch)
			})
		}
	}

	if cfg.inputHandler != nil {
		ctx = WithInputHandlerContext(ctx, cfg.inputHandler)
	}

	threadID := task.ThreadID
	maxIter := cfg.maxIter
	if task.MaxSteps > 0 {
		maxIter = task.MaxSteps
	}

	// LOAD_CTX — load a checkpoint if a thread is in play, or build fresh
	// initial messages otherwise.
	messages, state, startStep, err := loadOrInit(ctx, cfg, task, threadID)
	if err != nil {
		var suspended errStillSuspended
		if errors.As(err, &suspended) {
			safeCloseCh()
			interrupt, _ := suspended.cp.PendingInterrupt()
			return AgentResult{FinishReason: FinishInterrupted, Interrupt: &interrupt, ThreadID: threadID}, nil
		}
		safeCloseCh()
		return AgentResult{}, err
	}

	if ch != nil {
		select {
		case ch <- StreamEvent{Type: EventProcessingStart, Name: cfg.name}:
		case <-ctx.Done():
			safeCloseCh()
			return AgentResult{Usage: totalUsage}, ctx.Err()
		}
	}

	// Resume path: if the checkpoint carried a resolved-but-unconsumed
	// approval interrupt, apply it now (execute or deny the tool call it
	// gated) before re-entering the loop.
	if threadID != "" && cfg.checkpointer != nil {
		resumed, consumed, rErr := applyResolvedInterrupt(ctx, cfg, threadID, messages)
		if rErr != nil {
			safeCloseCh()
			return AgentResult{}, rErr
		}
		if consumed {
			messages = resumed
		}
	}

	attachByteBudget := cfg.maxAttachmentBytes
	if attachByteBudget <= 0 {
		attachByteBudget = maxAccumulatedAttachmentBytes
	}
	compressThreshold := cfg.compressThreshold
	if compressThreshold == 0 {
		compressThreshold = defaultCompressThreshold
	}

	var messageRuneCount int
	for _, m := range messages {
		messageRuneCount += len([]rune(m.Content))
	}

	var accumulatedAttachments []Attachment
	var accumulatedAttachmentBytes int64
	var bgHandles []*BackgroundTaskHandle

	curStep := startStep
	finish := func(output, thinking string, reason FinishReason, attachments []Attachment) AgentResult {
		safeCloseCh()
		result := AgentResult{
			Output: output, Thinking: thinking, FinishReason: reason,
			Attachments: mergeAttachments(accumulatedAttachments, attachments),
			Usage:       totalUsage, Steps: steps, ThreadID: threadID,
		}
		if threadID != "" && cfg.checkpointer != nil {
			now := time.Now().UnixMilli()
			cp := Checkpoint{ThreadID: threadID, Step: curStep, Messages: snapshotMessages(messages), State: state, CreatedAt: now, UpdatedAt: now}
			if existing, ok, _ := cfg.checkpointer.Load(ctx, cfg.checkpointNS, threadID); ok {
				cp.CreatedAt = existing.CreatedAt
			}
			if err := cfg.checkpointer.Save(ctx, cfg.checkpointNS, cp); err != nil {
				cfg.logger.Warn("checkpoint save failed at finish", "thread_id", threadID, "error", err)
			}
		}
		return result
	}

	for i := startStep; i < maxIter; i++ {
		curStep = i
		iterCtx := ctx
		var iterSpan Span
		if cfg.tracer != nil {
			iterCtx, iterSpan = cfg.tracer.Start(ctx, "agent.loop.iteration", IntAttr("iteration", i), BoolAttr("has_tools", len(cfg.tools) > 0))
		}
		endIter := func() {
			if iterSpan != nil {
				iterSpan.End()
			}
		}

		resp, genErr := generateWithRetry(iterCtx, cfg, &messages, task)
		if genErr != nil {
			endIter()
			if interrupt := (*haltError)(nil); errors.As(genErr, &interrupt) {
				output, _ := interrupt.output.RespondWith.(string)
				return finish(output, "", FinishStop, nil), nil
			}
			safeCloseCh()
			return AgentResult{Usage: totalUsage, Steps: steps}, genErr
		}
		totalUsage.InputTokens += resp.Usage.InputTokens
		totalUsage.OutputTokens += resp.Usage.OutputTokens

		if resp.Thinking != "" && ch != nil {
			select {
			case ch <- StreamEvent{Type: EventThinking, Content: resp.Thinking}:
			case <-ctx.Done():
			}
		}

		if len(resp.ToolCalls) == 0 {
			// POST_GEN with no tool calls: DRAIN_BG? → FINISH.
			endIter()
			if len(bgHandles) > 0 && cfg.waitForBgTasks {
				injected := drainBackgroundTasks(ctx, cfg, bgHandles)
				bgHandles = nil
				if len(injected) > 0 {
					messages = append(messages, injected...)
					for _, m := range injected {
						messageRuneCount += len([]rune(m.Content))
					}
					continue // re-enter LOAD_CTX per spec
				}
			}
			if ch != nil {
				select {
				case ch <- StreamEvent{Type: EventTextDelta, Content: resp.Content}:
				case <-ctx.Done():
				}
			}
			return finish(resp.Content, resp.Thinking, FinishStop, resp.Attachments), nil
		}

		if iterSpan != nil {
			iterSpan.SetAttr(IntAttr("tool_count", len(resp.ToolCalls)))
		}

		messages = append(messages, ChatMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		messageRuneCount += len([]rune(resp.Content))

		if ch != nil {
			for _, tc := range resp.ToolCalls {
				select {
				case ch <- StreamEvent{Type: EventToolCallStart, ID: tc.ID, Name: tc.Name, Args: tc.Args}:
				case <-ctx.Done():
				}
			}
		}

		// PreToolUse for every call, gathering the allow/deny/ask decision
		// per call before any of them execute. A hook group may force
		// sequential execution for its call (HookOutput.Sequential); once
		// that happens, that call and every call after it in iteration
		// order run outside the concurrent dispatch.
		var toRun []ToolCall
		var sequentialFrom []bool
		for _, tc := range resp.ToolCalls {
			modified, decision, sequential, hErr := cfg.hooks.RunPreToolUse(iterCtx, tc)
			if hErr != nil {
				endIter()
				safeCloseCh()
				return AgentResult{Usage: totalUsage, Steps: steps}, hErr
			}
			tc = modified

			switch decision {
			case PermissionDeny:
				trace := StepTrace{Name: tc.Name, Input: truncateStr(string(tc.Args), 200), Output: "denied by policy", IsError: true}
				steps = append(steps, trace)
				messages = append(messages, ToolResultMessage(tc.ID, "error: tool call denied by policy"))
			case PermissionAsk:
				endIter()
				interrupt, iErr := suspendForApproval(ctx, cfg.checkpointer, cfg.checkpointNS, cfg.budget, threadID, messages, state, tc, i)
				if iErr != nil {
					safeCloseCh()
					return AgentResult{Usage: totalUsage, Steps: steps}, iErr
				}
				safeCloseCh()
				return AgentResult{FinishReason: FinishInterrupted, Interrupt: &interrupt, ThreadID: threadID, Usage: totalUsage, Steps: steps}, nil
			default:
				toRun = append(toRun, tc)
				sequentialFrom = append(sequentialFrom, sequential)
			}
		}

		// EXEC_TOOL. Calls before the first Sequential request run
		// concurrently; that call and everything after it run in order.
		splitIdx := len(toRun)
		for idx, seq := range sequentialFrom {
			if seq {
				splitIdx = idx
				break
			}
		}
		outcomes := dispatchParallel(iterCtx, toRun[:splitIdx], func(ctx context.Context, tc ToolCall) toolCallOutcome {
			return runTool(ctx, cfg, tc, &bgHandles)
		})
		for _, tc := range toRun[splitIdx:] {
			outcomes = append(outcomes, runTool(iterCtx, cfg, tc, &bgHandles))
		}

		for j, tc := range toRun {
			out := outcomes[j]
			totalUsage.InputTokens += out.usage.InputTokens
			totalUsage.OutputTokens += out.usage.OutputTokens

			if ch != nil {
				select {
				case ch <- StreamEvent{Type: EventToolCallResult, ID: tc.ID, Name: tc.Name, Content: out.content, Usage: out.usage, Duration: out.duration.Milliseconds()}:
				case <-ctx.Done():
				}
			}

			steps = append(steps, StepTrace{Name: tc.Name, Input: truncateStr(string(tc.Args), 200), Output: truncateStr(out.content, 500), IsError: out.isError, Usage: out.usage, Duration: out.duration.Milliseconds()})

			for _, a := range out.attachments {
				aSize := int64(len(a.Base64))
				if len(accumulatedAttachments) >= maxAccumulatedAttachments || accumulatedAttachmentBytes+aSize > attachByteBudget {
					break
				}
				accumulatedAttachments = append(accumulatedAttachments, a)
				accumulatedAttachmentBytes += aSize
			}

			msgContent := out.content
			if len([]rune(msgContent)) > maxToolResultMessageLen {
				msgContent = truncateStr(msgContent, maxToolResultMessageLen) + "\n\n[output truncated — original was longer]"
			}
			messages = append(messages, ToolResultMessage(tc.ID, msgContent))
			messageRuneCount += len([]rune(msgContent))
		}
		endIter()

		if cfg.contextManager != nil {
			provider := cfg.provider
			if cfg.compressModel != nil {
				if p := cfg.compressModel(ctx, task); p != nil {
					provider = p
				}
			}
			messages = cfg.contextManager.Process(ctx, provider, messages)
			messageRuneCount = runeCount(messages)
		} else if compressThreshold > 0 && messageRuneCount > compressThreshold {
			messages, messageRuneCount = compressMessages(ctx, cfg, task, messages, 2)
		}
	}

	// Max iterations — force synthesis.
	cfg.logger.Warn("max iterations reached, forcing synthesis", "agent", cfg.name, "iteration", maxIter)
	messages = append(messages, UserMessage("You have used all available tool calls. Summarize what you found and respond to the user."))

	synthCtx := ctx
	if cfg.tracer != nil {
		var synthSpan Span
		synthCtx, synthSpan = cfg.tracer.Start(ctx, "agent.loop.synthesis", IntAttr("iteration", maxIter), BoolAttr("forced", true))
		defer synthSpan.End()
	}

	synthReq := ChatRequest{Messages: messages, GenerationParams: cfg.generationParams}
	var resp ChatResponse
	if ch != nil {
		resp, err = cfg.provider.ChatStream(synthCtx, synthReq, ch)
	} else {
		resp, err = cfg.provider.Chat(synthCtx, synthReq)
	}
	if err != nil {
		safeCloseCh()
		return AgentResult{Usage: totalUsage, Steps: steps}, err
	}
	totalUsage.InputTokens += resp.Usage.InputTokens
	totalUsage.OutputTokens += resp.Usage.OutputTokens
	if pErr := cfg.hooks.RunPostGenerate(synthCtx, &resp); pErr != nil {
		safeCloseCh()
		return AgentResult{Usage: totalUsage, Steps: steps}, pErr
	}

	return finish(resp.Content, resp.Thinking, FinishLength, resp.Attachments), nil
}

// loadOrInit loads a checkpoint for threadID if one exists and a
// Checkpointer is configured, returning its messages/state/step. If the
// checkpoint is still suspended (an interrupt awaits a response), it
// returns an errStillSuspended error the caller must check with errors.As.
// Otherwise it builds fresh initial messages from task.
func loadOrInit(ctx context.Context, cfg loopConfig, task AgentTask, threadID string) ([]ChatMessage, AgentState, int, error) {
	if threadID != "" && cfg.checkpointer != nil {
		if cp, ok, err := cfg.checkpointer.Load(ctx, cfg.checkpointNS, threadID); err == nil && ok {
			if cp.Suspended() {
				return nil, AgentState{}, 0, errStillSuspended{cp}
			}
			return cp.Messages, cp.State, cp.Step, nil
		}
	}
	var messages []ChatMessage
	if cfg.systemPrompt != "" {
		messages = append(messages, SystemMessage(cfg.systemPrompt))
	}
	messages = append(messages, UserMessage(task.Input))
	return messages, AgentState{}, 0, nil
}

// errStillSuspended signals loadOrInit found a checkpoint with an
// unresolved interrupt; the caller must return an Interrupted result
// without attempting to generate.
type errStillSuspended struct{ cp Checkpoint }

func (e errStillSuspended) Error() string { return "agentcore: thread is suspended on an unresolved interrupt" }

// applyResolvedInterrupt inspects threadID's checkpoint for a resolved
// approval interrupt that hasn't been consumed yet (unconsumed = its
// checkpoint's Interrupts list still carries it), executes or denies the
// gated tool call accordingly, appends the resulting tool-result message,
// and clears the checkpoint's interrupt list so a later resume doesn't
// re-apply it.
func applyResolvedInterrupt(ctx context.Context, cfg loopConfig, threadID string, messages []ChatMessage) ([]ChatMessage, bool, error) {
	cp, ok, err := cfg.checkpointer.Load(ctx, cfg.checkpointNS, threadID)
	if err != nil || !ok || len(cp.Interrupts) == 0 {
		return messages, false, err
	}

	last := cp.Interrupts[len(cp.Interrupts)-1]
	if last.Pending() || last.Type != InterruptApproval {
		return messages, false, nil
	}

	var req ApprovalRequest
	if jErr := json.Unmarshal(last.Request, &req); jErr != nil {
		return messages, false, jErr
	}
	var resp ApprovalResponse
	if jErr := json.Unmarshal(last.Response, &resp); jErr != nil {
		return messages, false, jErr
	}

	var resultMsg ChatMessage
	if resp.Approved {
		args := req.Args
		if len(resp.ModifiedArgs) > 0 {
			args = resp.ModifiedArgs
		}
		var bg []*BackgroundTaskHandle
		outcome := runTool(ctx, cfg, ToolCall{ID: req.ToolCallID, Name: req.ToolName, Args: args}, &bg)
		resultMsg = ToolResultMessage(req.ToolCallID, outcome.content)
	} else {
		resultMsg = ToolResultMessage(req.ToolCallID, "error: tool call denied by user")
	}
	messages = append(messages, resultMsg)

	cp.Interrupts = nil
	cp.UpdatedAt = time.Now().UnixMilli()
	if sErr := cfg.checkpointer.Save(ctx, cfg.checkpointNS, cp); sErr != nil {
		return messages, true, sErr
	}
	return messages, true, nil
}

// generateWithRetry fires PreGenerate, calls the provider, fires
// PostGenerate, and loops on PostGenerateFailure retry requests (bounded by
// maxHookRetries). On a context-length failure with WithErrorFallback
// enabled, it compresses messages once and retries once more.
func generateWithRetry(ctx context.Context, cfg loopConfig, messages *[]ChatMessage, task AgentTask) (ChatResponse, error) {
	triedCompaction := false
	for attempt := 0; attempt <= maxHookRetries; attempt++ {
		req := ChatRequest{Messages: *messages, Tools: cfg.tools, ResponseSchema: cfg.responseSchema, GenerationParams: cfg.generationParams}
		if err := cfg.hooks.RunPreGenerate(ctx, &req); err != nil {
			return ChatResponse{}, err
		}
		*messages = req.Messages

		resp, err := cfg.provider.Chat(ctx, req)
		if err != nil {
			var ctxLenErr *ErrContextLength
			if !triedCompaction && cfg.enableErrorFallback && cfg.checkpointer != nil && errors.As(err, &ctxLenErr) {
				triedCompaction = true
				if cfg.contextManager != nil {
					cfg.contextManager.NotifyContextLengthError()
					*messages = cfg.contextManager.Process(ctx, cfg.provider, *messages)
				} else {
					*messages, _ = compressMessages(ctx, cfg, task, *messages, 1)
				}
				continue
			}
			retry, delayMs, hErr := cfg.hooks.RunPostGenerateFailure(ctx, err)
			if hErr != nil {
				return ChatResponse{}, hErr
			}
			if retry && attempt < maxHookRetries {
				sleepOrDone(ctx, time.Duration(delayMs)*time.Millisecond)
				continue
			}
			return ChatResponse{}, err
		}

		if err := cfg.hooks.RunPostGenerate(ctx, &resp); err != nil {
			return ChatResponse{}, err
		}
		if cfg.contextManager != nil {
			cfg.contextManager.NotifyActualUsage(req.Messages, resp.Usage)
		}
		return resp, nil
	}
	return ChatResponse{}, fmt.Errorf("agentcore: exceeded %d generate retries", maxHookRetries)
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// toolCallOutcome holds the result of one tool call dispatch.
type toolCallOutcome struct {
	content     string
	usage       Usage
	attachments []Attachment
	duration    time.Duration
	isError     bool
}

// runTool executes one tool call through its circuit breaker (if
// configured) and the PostToolUse/PostToolUseFailure hook pipeline. Calls
// declared Background in their ToolDefinition are spawned via TaskStore
// instead of run inline; the returned content is the task ID.
func runTool(ctx context.Context, cfg loopConfig, tc ToolCall, bgHandles *[]*BackgroundTaskHandle) toolCallOutcome {
	def, _ := cfg.lookup(tc.Name)
	if def.Background && cfg.taskStore != nil {
		return spawnBackgroundTool(ctx, cfg, tc, bgHandles)
	}

	var breaker *CircuitBreaker
	if cfg.breakers != nil {
		breaker = cfg.breakers.Get(tc.Name)
		if !breaker.Allow() {
			err := &ErrCircuitOpen{Name: tc.Name}
			return toolFailureOutcome(ctx, cfg, tc, err)
		}
	}

	start := time.Now()
	result, err := safeExecTool(ctx, cfg.execTool, tc)
	duration := time.Since(start)
	if err != nil {
		if breaker != nil {
			breaker.Failure(err)
		}
		return toolFailureOutcome(ctx, cfg, tc, err)
	}
	if breaker != nil {
		breaker.Success()
	}

	if hErr := cfg.hooks.RunPostToolUse(ctx, tc, &result); hErr != nil {
		return toolCallOutcome{content: "error: " + hErr.Error(), isError: true, duration: duration}
	}
	content := result.Content
	if result.Error != "" && content == "" {
		content = "error: " + result.Error
	}
	return toolCallOutcome{content: content, duration: duration, isError: result.Error != ""}
}

// toolFailureOutcome fires PostToolUseFailure and, if a hook requests
// retry, re-attempts the call once (bounded).
func toolFailureOutcome(ctx context.Context, cfg loopConfig, tc ToolCall, cause error) toolCallOutcome {
	retry, delayMs, hErr := cfg.hooks.RunPostToolUseFailure(ctx, tc, cause)
	if hErr == nil && retry {
		sleepOrDone(ctx, time.Duration(delayMs)*time.Millisecond)
		start := time.Now()
		result, err := safeExecTool(ctx, cfg.execTool, tc)
		if err == nil {
			return toolCallOutcome{content: result.Content, duration: time.Since(start), isError: result.Error != ""}
		}
		cause = err
	}
	return toolCallOutcome{content: "error: " + cause.Error(), isError: true}
}

// spawnBackgroundTool dispatches a background:true tool call via
// SpawnTask, wrapping it in a toolAgent so the Background Task Manager
// drives its lifecycle. Returns the task ID synchronously as the tool
// result content, per the Background Task contract.
func spawnBackgroundTool(ctx context.Context, cfg loopConfig, tc ToolCall, bgHandles *[]*BackgroundTaskHandle) toolCallOutcome {
	agent := &toolAgent{name: tc.Name, exec: cfg.execTool, call: tc}
	h, err := SpawnTask(ctx, cfg.taskStore, agent, AgentTask{Input: tc.Name}, tc.Name, "background tool call", "")
	if err != nil {
		return toolCallOutcome{content: "error: " + err.Error(), isError: true}
	}
	*bgHandles = append(*bgHandles, h)
	return toolCallOutcome{content: h.ID()}
}

// toolAgent adapts a single tool call into an Agent for SpawnTask.
type toolAgent struct {
	name string
	exec toolExecFunc
	call ToolCall
}

func (t *toolAgent) Name() string { return t.name }
func (t *toolAgent) Execute(ctx context.Context, _ AgentTask) (AgentResult, error) {
	result, err := t.exec(ctx, t.call.Name, t.call.Args)
	if err != nil {
		return AgentResult{}, err
	}
	if result.Error != "" {
		return AgentResult{}, errors.New(result.Error)
	}
	return AgentResult{Output: result.Content}, nil
}

// drainBackgroundTasks waits for every handle to reach a terminal status and
// formats a completion or failure message for each, per DRAIN_BG. Killed
// tasks produce no follow-up message.
func drainBackgroundTasks(ctx context.Context, cfg loopConfig, handles []*BackgroundTaskHandle) []ChatMessage {
	var injected []ChatMessage
	for _, h := range handles {
		result, err := h.Await(ctx)
		switch h.State() {
		case TaskCompleted:
			injected = append(injected, UserMessage(formatTaskCompletion(h.ID(), result.Output)))
		case TaskFailed:
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			injected = append(injected, UserMessage(formatTaskFailure(h.ID(), msg)))
		case TaskKilled:
			// no follow-up, per spec.
		}
	}
	return injected
}

func formatTaskCompletion(id, output string) string {
	return fmt.Sprintf("[background task %s completed]\n%s", id, output)
}

func formatTaskFailure(id, reason string) string {
	return fmt.Sprintf("[background task %s failed]\n%s", id, reason)
}

// safeExecTool wraps a tool execution with panic recovery so a misbehaving
// tool cannot crash the run loop.
func safeExecTool(ctx context.Context, exec toolExecFunc, tc ToolCall) (result ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = ToolResult{}
			err = fmt.Errorf("tool %q panic: %v", tc.Name, p)
		}
	}()
	return exec(ctx, tc.Name, tc.Args)
}

// mergeAttachments combines accumulated tool-call attachments with the
// final response's attachments, accumulated first.
func mergeAttachments(accumulated, resp []Attachment) []Attachment {
	if len(accumulated) == 0 {
		return resp
	}
	if len(resp) == 0 {
		return accumulated
	}
	merged := make([]Attachment, 0, len(accumulated)+len(resp))
	merged = append(merged, accumulated...)
	merged = append(merged, resp...)
	return merged
}

// runeCount returns the total rune count of all message content.
func runeCount(messages []ChatMessage) int {
	var n int
	for _, m := range messages {
		n += len([]rune(m.Content))
	}
	return n
}

// compressMessages summarizes old tool-result messages via an LLM call,
// keeping the last preserveIters iterations of tool results intact. Fires
// PreCompact/PostCompact around the summarization call. Returns the
// original slice unchanged on any failure (degrade, don't die).
func compressMessages(ctx context.Context, cfg loopConfig, task AgentTask, messages []ChatMessage, preserveIters int) ([]ChatMessage, int) {
	provider := cfg.provider
	if cfg.compressModel != nil {
		if p := cfg.compressModel(ctx, task); p != nil {
			provider = p
		}
	}

	filtered, pcErr := cfg.hooks.RunPreCompact(ctx, messages)
	if pcErr == nil {
		messages = filtered
	}

	iterCount := 0
	preserveFrom := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" && len(messages[i].ToolCalls) > 0 {
			iterCount++
			if iterCount >= preserveIters {
				preserveFrom = i
				break
			}
		}
	}

	const summaryPrefix = "[Previous conversation summary]\n"
	var oldContent strings.Builder
	var toRemove []int
	for i := 0; i < preserveFrom; i++ {
		m := messages[i]
		switch {
		case m.ToolCallID != "" && m.Content != "":
			oldContent.WriteString(m.Content)
			oldContent.WriteString("\n---\n")
			toRemove = append(toRemove, i)
		case m.Role == "user" && strings.HasPrefix(m.Content, summaryPrefix) && i > 0:
			oldContent.WriteString(m.Content)
			oldContent.WriteString("\n---\n")
			toRemove = append(toRemove, i)
		}
	}
	if len(toRemove) == 0 {
		return messages, runeCount(messages)
	}

	compressCtx := ctx
	if cfg.tracer != nil {
		var span Span
		compressCtx, span = cfg.tracer.Start(ctx, "agent.loop.compress", IntAttr("original_runes", runeCount(messages)), IntAttr("messages_compressed", len(toRemove)))
		defer span.End()
	}

	summaryResp, err := provider.Chat(compressCtx, ChatRequest{Messages: []ChatMessage{
		SystemMessage("Summarize the following tool execution results concisely. Preserve key facts, data values, decisions, and errors. Omit redundant details."),
		UserMessage(oldContent.String()),
	}})
	if err != nil {
		cfg.logger.Warn("context compression failed, continuing uncompressed", "error", err)
		cfg.hooks.RunPostCompact(ctx, messages) //nolint:errcheck
		return messages, runeCount(messages)
	}

	removeSet := make(map[int]bool, len(toRemove))
	for _, idx := range toRemove {
		removeSet[idx] = true
	}
	var compressed []ChatMessage
	inserted := false
	for i, m := range messages {
		if removeSet[i] {
			if !inserted {
				compressed = append(compressed, UserMessage(summaryPrefix+summaryResp.Content))
				inserted = true
			}
			continue
		}
		compressed = append(compressed, m)
	}

	newRuneCount := runeCount(compressed)
	cfg.logger.Info("context compressed", "agent", cfg.name, "before_runes", runeCount(messages), "after_runes", newRuneCount, "messages_removed", len(toRemove))
	cfg.hooks.RunPostCompact(ctx, compressed) //nolint:errcheck
	return compressed, newRuneCount
}

// --- parallel tool dispatch ---

// indexedOutcome pairs a tool call outcome with its position in the
// original call slice, for channel-based collection in order.
type indexedOutcome struct {
	idx     int
	outcome toolCallOutcome
}

// dispatchParallel runs all tool calls concurrently via exec and returns
// results in the same order as the input calls. Single calls run inline (no
// goroutine). Multiple calls use a fixed worker pool of
// min(len(calls), maxParallelDispatch) goroutines pulling from a shared
// work channel, avoiding unbounded goroutine creation. The collection loop
// is context-aware: if ctx is cancelled while calls are still in-flight, it
// returns immediately with context-error outcomes for incomplete calls.
func dispatchParallel(ctx context.Context, calls []ToolCall, exec func(context.Context, ToolCall) toolCallOutcome) []toolCallOutcome {
	if len(calls) == 0 {
		return nil
	}
	if len(calls) == 1 {
		return []toolCallOutcome{exec(ctx, calls[0])}
	}

	type workItem struct {
		idx int
		tc  ToolCall
	}
	workCh := make(chan workItem, len(calls))
	for i, tc := range calls {
		workCh <- workItem{idx: i, tc: tc}
	}
	close(workCh)

	resultCh := make(chan indexedOutcome, len(calls))
	numWorkers := min(len(calls), maxParallelDispatch)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexedOutcome{w.idx, toolCallOutcome{content: "error: " + ctx.Err().Error(), isError: true}}
					continue
				}
				resultCh <- indexedOutcome{w.idx, exec(ctx, w.tc)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]toolCallOutcome, len(calls))
	seen := make([]bool, len(calls))
collect:
	for received := 0; received < len(calls); received++ {
		select {
		case r, ok := <-resultCh:
			if !ok {
				break collect
			}
			results[r.idx] = r.outcome
			seen[r.idx] = true
		case <-ctx.Done():
			errOutcome := toolCallOutcome{content: "error: " + ctx.Err().Error(), isError: true}
			for i := range results {
				if !seen[i] {
					results[i] = errOutcome
				}
			}
			return results
		}
	}
	for i := range results {
		if !seen[i] {
			results[i] = toolCallOutcome{content: "error: result not received", isError: true}
		}
	}
	return results
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
