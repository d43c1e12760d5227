package resolve

import (
	"fmt"

	"github.com/agentcore/runtime"
	"github.com/agentcore/runtime/provider/gemini"
	"github.com/agentcore/runtime/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string  // "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string  // required for openai-compat; auto-filled for known providers

	// Common cross-provider options (nil = use provider default).
	Temperature *float64
	TopP        *float64
	Thinking    *bool

	// MaxRetries, when > 0, wraps the provider with agentcore.WithRetry,
	// retrying transient HTTP errors (429, 503) up to that many attempts.
	MaxRetries int
	// RPM and TPM, when > 0, wrap the provider with agentcore.WithRateLimit
	// to proactively cap requests and tokens per minute. Applied outside
	// the retry wrapper so rate limiting governs the whole retry sequence.
	RPM int
	TPM int
}

// EmbeddingConfig holds provider-agnostic configuration for creating an EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// Provider creates an agentcore.Provider from a provider-agnostic Config,
// wrapped with retry and rate-limiting decorators per cfg.
func Provider(cfg Config) (agentcore.Provider, error) {
	var p agentcore.Provider
	switch cfg.Provider {
	case "gemini":
		p = geminiProvider(cfg)
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		p = openaiCompatProvider(cfg)
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
	return wrapResilience(p, cfg), nil
}

// wrapResilience applies the retry and rate-limit decorators cfg requests.
// Rate limiting wraps the outside so it governs the whole retry sequence,
// not just the final attempt.
func wrapResilience(p agentcore.Provider, cfg Config) agentcore.Provider {
	if cfg.MaxRetries > 0 {
		p = agentcore.WithRetry(p, agentcore.RetryMaxAttempts(cfg.MaxRetries))
	}
	if cfg.RPM > 0 || cfg.TPM > 0 {
		var opts []agentcore.RateLimitOption
		if cfg.RPM > 0 {
			opts = append(opts, agentcore.RPM(cfg.RPM))
		}
		if cfg.TPM > 0 {
			opts = append(opts, agentcore.TPM(cfg.TPM))
		}
		p = agentcore.WithRateLimit(p, opts...)
	}
	return p
}

// EmbeddingProvider creates an agentcore.EmbeddingProvider from a provider-agnostic EmbeddingConfig.
func EmbeddingProvider(cfg EmbeddingConfig) (agentcore.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewEmbedding(cfg.APIKey, cfg.Model, cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", cfg.Provider)
	}
}

func geminiProvider(cfg Config) agentcore.Provider {
	var opts []gemini.Option
	if cfg.Temperature != nil {
		opts = append(opts, gemini.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		opts = append(opts, gemini.WithTopP(*cfg.TopP))
	}
	if cfg.Thinking != nil {
		opts = append(opts, gemini.WithThinking(*cfg.Thinking))
	}
	return gemini.New(cfg.APIKey, cfg.Model, opts...)
}

func openaiCompatProvider(cfg Config) agentcore.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	var provOpts []openaicompat.ProviderOption
	provOpts = append(provOpts, openaicompat.WithName(cfg.Provider))

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
