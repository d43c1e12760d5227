// Package config loads agentrund's configuration: defaults, overridden by
// an agentcore.toml file, overridden by environment variables.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds everything needed to wire a runtime agent.
type Config struct {
	LLM        LLMConfig        `toml:"llm"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Store      StoreConfig      `toml:"store"`
	Context    ContextConfig    `toml:"context"`
	Guardrail  GuardrailConfig  `toml:"guardrail"`
	Search     SearchConfig     `toml:"search"`
	Observer   ObserverConfig   `toml:"observer"`
	Workspace  string           `toml:"workspace"`
}

// LLMConfig selects and authenticates the chat provider via provider/resolve.
type LLMConfig struct {
	Provider    string   `toml:"provider"` // "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	Model       string   `toml:"model"`
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Temperature *float64 `toml:"temperature"`
	TopP        *float64 `toml:"top_p"`
	Thinking    *bool    `toml:"thinking"`

	// MaxRetries enables provider/resolve's retry decorator when > 0.
	MaxRetries int `toml:"max_retries"`
	// RPM/TPM enable provider/resolve's rate-limit decorator when > 0.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

// EmbeddingConfig selects and authenticates the embedding provider.
type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
}

// StoreConfig selects the Checkpointer/TaskStore backend.
type StoreConfig struct {
	Backend    string `toml:"backend"` // "sqlite", "postgres", "libsql"
	Path       string `toml:"path"`    // sqlite/libsql local file
	DSN        string `toml:"dsn"`     // postgres connection string
	TursoURL   string `toml:"turso_url"`
	TursoToken string `toml:"turso_token"`
}

// ContextConfig tunes the Context Manager's token-budget behavior.
type ContextConfig struct {
	MaxTokens         int     `toml:"max_tokens"`
	CompactThreshold  float64 `toml:"compact_threshold"` // fraction of MaxTokens that triggers compaction
	Strategy          string  `toml:"strategy"`          // "rollup", "tiered", "structured"
	PreserveIterations int    `toml:"preserve_iterations"`
}

// GuardrailConfig tunes the prompt-injection guard hook.
type GuardrailConfig struct {
	Enabled bool `toml:"enabled"`
}

// SearchConfig holds API keys for the search tool.
type SearchConfig struct {
	BraveAPIKey string `toml:"brave_api_key"`
}

// ObserverConfig toggles OTEL observability and overrides model pricing.
type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

// ObserverPricing overrides per-million-token pricing for one model.
type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		LLM:       LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash", MaxRetries: 3},
		Embedding: EmbeddingConfig{Provider: "gemini", Model: "gemini-embedding-001", Dimensions: 1536},
		Store:     StoreConfig{Backend: "sqlite", Path: "agentcore.db"},
		Context: ContextConfig{
			MaxTokens:          1_000_000,
			CompactThreshold:   0.8,
			Strategy:           "rollup",
			PreserveIterations: 4,
		},
		Guardrail: GuardrailConfig{Enabled: true},
		Workspace: filepath.Join(home, "agentcore-workspace"),
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// A missing or unreadable file at path is not an error; Load falls back to
// defaults plus any env overrides.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "agentcore.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("AGENTCORE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("AGENTCORE_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("AGENTCORE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AGENTCORE_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("AGENTCORE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("AGENTCORE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("AGENTCORE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("AGENTCORE_TURSO_URL"); v != "" {
		cfg.Store.TursoURL = v
	}
	if v := os.Getenv("AGENTCORE_TURSO_TOKEN"); v != "" {
		cfg.Store.TursoToken = v
	}
	if v := os.Getenv("AGENTCORE_BRAVE_API_KEY"); v != "" {
		cfg.Search.BraveAPIKey = v
	}
	if v := os.Getenv("AGENTCORE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
