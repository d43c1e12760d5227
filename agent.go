package agentcore

import (
	"context"
	"log/slog"
)

// Agent is a unit of work that takes a task and returns a result, driven by
// the run loop in loop.go. One Agent corresponds to one configured model +
// tool set + hook pipeline; BackgroundTask wraps an Agent for out-of-band
// execution tracked by a TaskStore.
type Agent interface {
	// Name returns the agent's identifier, used in logs, traces, and
	// BackgroundTask.SubagentType.
	Name() string
	// Execute runs the agent on the given task and returns a result.
	Execute(ctx context.Context, task AgentTask) (AgentResult, error)
}

// agentConfig holds shared configuration assembled by AgentOption.
type agentConfig struct {
	tools        []Tool
	prompt       string
	maxIter      int
	hooks        *HookRegistry
	inputHandler InputHandler

	breakers         *CircuitBreakerRegistry
	checkpointer     Checkpointer
	checkpointNS     string
	maxSuspendSnaps  int
	maxSuspendBytes  int64
	taskStore        TaskStore
	waitForBgTasks   bool

	responseSchema     *ResponseSchema
	generationParams   *GenerationParams
	compressModel      ModelFunc
	compressThreshold  int
	contextManager     *ContextManager
	maxAttachmentBytes int64

	enableErrorFallback bool

	tracer Tracer
	logger *slog.Logger
}

// AgentOption configures an agent built via NewAgent.
type AgentOption func(*agentConfig)

// WithTools adds tools to the agent.
func WithTools(tools ...Tool) AgentOption {
	return func(c *agentConfig) { c.tools = append(c.tools, tools...) }
}

// WithPrompt sets the agent's system prompt.
func WithPrompt(s string) AgentOption {
	return func(c *agentConfig) { c.prompt = s }
}

// WithMaxIter sets the maximum tool-calling iterations (default 10).
func WithMaxIter(n int) AgentOption {
	return func(c *agentConfig) { c.maxIter = n }
}

// WithHooks attaches a HookRegistry to the agent's execution pipeline. The
// run loop fires the registry's hooks at every lifecycle boundary (§4.2).
func WithHooks(r *HookRegistry) AgentOption {
	return func(c *agentConfig) { c.hooks = r }
}

// WithInputHandler sets the handler for human-in-the-loop interactions.
// When set, the agent gains an "ask_user" tool (LLM-driven) and hooks can
// access the handler via InputHandlerFromContext(ctx).
func WithInputHandler(h InputHandler) AgentOption {
	return func(c *agentConfig) { c.inputHandler = h }
}

// WithCircuitBreakers attaches a per-tool-name circuit breaker registry.
// Each tool call consults Allow() before EXEC_TOOL and reports Success()/
// Failure() afterward.
func WithCircuitBreakers(r *CircuitBreakerRegistry) AgentOption {
	return func(c *agentConfig) { c.breakers = r }
}

// WithCheckpointer enables approval interrupts and resume-from-checkpoint.
// namespace scopes checkpoint storage for multi-tenant backends; "" is the
// default tenant.
func WithCheckpointer(cp Checkpointer, namespace string) AgentOption {
	return func(c *agentConfig) {
		c.checkpointer = cp
		c.checkpointNS = namespace
	}
}

// WithSuspendBudget caps how many unresolved-interrupt checkpoints (and how
// many total snapshot bytes) this agent will accumulate before it starts
// failing new suspensions instead of growing the checkpoint store unbounded.
func WithSuspendBudget(maxSnapshots int, maxBytes int64) AgentOption {
	return func(c *agentConfig) {
		c.maxSuspendSnaps = maxSnapshots
		c.maxSuspendBytes = maxBytes
	}
}

// WithBackgroundTasks enables ToolDefinition.Background dispatch: matching
// tool calls are spawned via SpawnTask against store instead of run inline.
// waitForCompletion mirrors the spec's waitForBackgroundTasks default
// (true): on return, the loop blocks until tasks it spawned this call reach
// a terminal status before finishing.
func WithBackgroundTasks(store TaskStore, waitForCompletion bool) AgentOption {
	return func(c *agentConfig) {
		c.taskStore = store
		c.waitForBgTasks = waitForCompletion
	}
}

// WithResponseSchema enforces structured JSON output on every model call.
func WithResponseSchema(s *ResponseSchema) AgentOption {
	return func(c *agentConfig) { c.responseSchema = s }
}

// WithGenerationParams sets provider-agnostic sampling controls applied to
// every model call.
func WithGenerationParams(p *GenerationParams) AgentOption {
	return func(c *agentConfig) { c.generationParams = p }
}

// WithCompression configures emergency/threshold context compaction. model,
// if non-nil, resolves a (possibly cheaper) provider for summarization
// calls; threshold is the rune count that triggers compaction (0 = default
// 200K, negative disables).
func WithCompression(model ModelFunc, threshold int) AgentOption {
	return func(c *agentConfig) {
		c.compressModel = model
		c.compressThreshold = threshold
	}
}

// WithContextManager attaches a ContextManager (§4.3), superseding the
// simple rune-threshold compaction configured by WithCompression: every
// iteration's messages pass through cm.Process instead, and a
// context-length provider error notifies the manager's error_fallback
// trigger before the single emergency retry.
func WithContextManager(cm *ContextManager) AgentOption {
	return func(c *agentConfig) { c.contextManager = cm }
}

// WithMaxAttachmentBytes caps the total size of attachments accumulated
// from tool results during one run (default 50MB).
func WithMaxAttachmentBytes(n int64) AgentOption {
	return func(c *agentConfig) { c.maxAttachmentBytes = n }
}

// WithErrorFallback enables one emergency compaction + retry when a model
// call fails with a context-length error, provided a Checkpointer is also
// configured (per §4.1 failure semantics).
func WithErrorFallback() AgentOption {
	return func(c *agentConfig) { c.enableErrorFallback = true }
}

// WithTracer attaches a Tracer; every run loop iteration and the overall
// Execute call are wrapped in spans when set.
func WithTracer(t Tracer) AgentOption {
	return func(c *agentConfig) { c.tracer = t }
}

// WithLogger sets the agent's structured logger (default: a no-op logger).
func WithLogger(l *slog.Logger) AgentOption {
	return func(c *agentConfig) { c.logger = l }
}

func buildConfig(opts []AgentOption) agentConfig {
	c := agentConfig{maxIter: 10, waitForBgTasks: true}
	for _, opt := range opts {
		opt(&c)
	}
	if c.hooks == nil {
		c.hooks = NewHookRegistry()
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}
