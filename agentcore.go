package agentcore

import (
	"context"
)

// runtimeAgent is the concrete Agent implementation assembled by NewAgent,
// wiring a Provider and agentConfig into the run loop driven by loop.go.
type runtimeAgent struct {
	name     string
	provider Provider
	registry *ToolRegistry
	cfg      agentConfig
	budget   *suspendBudget
}

// NewAgent builds an Agent bound to provider and configured by opts. name
// identifies the agent in logs, traces, and BackgroundTask.SubagentType.
func NewAgent(name string, provider Provider, opts ...AgentOption) Agent {
	cfg := buildConfig(opts)

	registry := NewToolRegistry()
	for _, t := range cfg.tools {
		registry.Add(t)
		for _, def := range t.Definitions() {
			cfg.hooks.EmitToolRegistered(context.Background(), def)
		}
	}
	if cfg.inputHandler != nil {
		registry.Add(newAskUserTool(cfg.inputHandler))
	}

	return &runtimeAgent{
		name:     name,
		provider: provider,
		registry: registry,
		cfg:      cfg,
		budget:   newSuspendBudget(cfg.maxSuspendSnaps, cfg.maxSuspendBytes),
	}
}

func (a *runtimeAgent) Name() string { return a.name }

// Execute runs the agent to completion (Complete or Interrupted), blocking
// until the run loop returns.
func (a *runtimeAgent) Execute(ctx context.Context, task AgentTask) (AgentResult, error) {
	cfg := a.loopConfig()

	var span Span
	if a.cfg.tracer != nil {
		ctx, span = a.cfg.tracer.Start(ctx, "agent.execute", StringAttr("agent", a.name), StringAttr("thread_id", task.ThreadID))
		defer span.End()
	}

	result, err := runLoop(ctx, cfg, task, nil)
	if err != nil && span != nil {
		span.Error(err)
	}
	return result, err
}

// ExecuteStream runs the agent, emitting StreamEvent values on ch as the
// run progresses. ch is always closed before this method returns, whether
// by success, error, or interruption.
func (a *runtimeAgent) ExecuteStream(ctx context.Context, task AgentTask, ch chan<- StreamEvent) (AgentResult, error) {
	cfg := a.loopConfig()

	var span Span
	if a.cfg.tracer != nil {
		ctx, span = a.cfg.tracer.Start(ctx, "agent.execute_stream", StringAttr("agent", a.name), StringAttr("thread_id", task.ThreadID))
		defer span.End()
	}

	result, err := runLoop(ctx, cfg, task, ch)
	if err != nil && span != nil {
		span.Error(err)
	}
	return result, err
}

// loopConfig assembles the loopConfig runLoop needs from this agent's
// static configuration plus its ToolRegistry.
func (a *runtimeAgent) loopConfig() loopConfig {
	return loopConfig{
		name:     a.name,
		provider: a.provider,
		tools:    a.registry.AllDefinitions(),
		lookup:   a.registry.Lookup,
		execTool: a.registry.Execute,
		hooks:    a.cfg.hooks,
		breakers: a.cfg.breakers,

		maxIter:      a.cfg.maxIter,
		systemPrompt: a.cfg.prompt,
		inputHandler: a.cfg.inputHandler,

		checkpointer: a.cfg.checkpointer,
		checkpointNS: a.cfg.checkpointNS,
		budget:       a.budget,

		taskStore:      a.cfg.taskStore,
		waitForBgTasks: a.cfg.waitForBgTasks,

		responseSchema:     a.cfg.responseSchema,
		generationParams:   a.cfg.generationParams,
		compressModel:      a.cfg.compressModel,
		compressThreshold:  a.cfg.compressThreshold,
		contextManager:     a.cfg.contextManager,
		maxAttachmentBytes: a.cfg.maxAttachmentBytes,

		enableErrorFallback: a.cfg.enableErrorFallback,

		tracer: a.cfg.tracer,
		logger: a.cfg.logger,
	}
}

// compile-time check
var _ Agent = (*runtimeAgent)(nil)
