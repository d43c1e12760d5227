package agentcore

import "context"

// Provider abstracts the LLM backend. Concrete implementations (not part of
// this runtime) adapt a specific vendor API to this interface; the run loop,
// retry wrapper, and rate limiter depend only on this boundary.
type Provider interface {
	// Chat sends a request and returns a complete response. If req.Tools is
	// non-empty, the response may carry ToolCalls instead of final Content.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams incremental events into ch, then returns the final
	// response with usage stats. Always closes ch before returning, even on
	// error. Only called when req.Tools is empty — the run loop falls back
	// to Chat when tool definitions are present, since tool-call assembly
	// requires the complete response.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error)
	// Name returns the provider name (e.g. "anthropic", "openai-compat"), used in logs and traces.
	Name() string
}

// EmbeddingProvider abstracts text embedding, used by Context Manager
// components that need semantic similarity (structured summarization
// dedup, hook keyword matching against paraphrases).
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}
