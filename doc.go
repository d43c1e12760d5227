// Package agentcore is a runtime for building tool-calling LLM agents in Go.
//
// It provides a single-agent run loop with parallel tool dispatch, checkpoint
// and interrupt support for human-in-the-loop approval, a hook pipeline for
// observing and intercepting every stage of a run, a background task manager
// for fire-and-forget tool calls, and a context manager that keeps long
// conversations within a provider's token budget.
//
// # Quick Start
//
// Build an agent by composing a Provider with AgentOption values:
//
//	agent := agentcore.NewAgent("assistant", gemini.New(apiKey, model),
//		agentcore.WithTools(search.New(), shell.New()),
//		agentcore.WithPrompt("You are a helpful assistant."),
//		agentcore.WithContextManager(agentcore.NewContextManager()),
//	)
//	result, err := agent.Execute(ctx, agentcore.AgentTask{Input: "what's the weather in Tokyo?"})
//
// # Core Interfaces
//
// The root package defines the contracts every component implements:
//
//   - [Provider] — LLM backend (chat, streaming, tool calling via ChatRequest.Tools)
//   - [EmbeddingProvider] — text-to-vector embedding
//   - [Tool] — pluggable capability exposed to the model for function calling
//   - [Checkpointer] — durable run state for suspend/resume across interrupts
//   - [TaskStore] — persistence for background tool tasks
//
// # Included Implementations
//
// Providers: provider/gemini (Google Gemini), provider/openaicompat
// (OpenAI-compatible APIs), provider/resolve (config-driven provider
// selection). Storage: store/sqlite (local), store/libsql (Turso/remote),
// store/postgres. Tools: tools/search, tools/schedule, tools/shell,
// tools/file, tools/http, tools/data. Observability: observer (OTEL traces,
// metrics, and logs for agents, providers, and tools).
//
// See the cmd directory for a complete reference application.
package agentcore
