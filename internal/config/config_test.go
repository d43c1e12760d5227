package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("expected gemini, got %s", cfg.LLM.Provider)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Store.Backend)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("expected 1536, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Context.MaxTokens != 1_000_000 {
		t.Errorf("expected 1000000, got %d", cfg.Context.MaxTokens)
	}
	if !cfg.Guardrail.Enabled {
		t.Error("expected guardrail enabled by default")
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[store]
backend = "postgres"
dsn = "postgres://localhost/agentcore"

[context]
max_tokens = 500000
`), 0644)

	cfg := Load(path)
	if cfg.Store.Backend != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Store.Backend)
	}
	if cfg.Store.DSN != "postgres://localhost/agentcore" {
		t.Errorf("expected dsn set, got %s", cfg.Store.DSN)
	}
	if cfg.Context.MaxTokens != 500000 {
		t.Errorf("expected 500000, got %d", cfg.Context.MaxTokens)
	}
	// Defaults preserved for fields not in the TOML file.
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("default should be preserved, got %s", cfg.LLM.Provider)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AGENTCORE_LLM_API_KEY", "env-key")
	t.Setenv("AGENTCORE_STORE_BACKEND", "libsql")

	cfg := Load("/nonexistent/path.toml")
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Store.Backend != "libsql" {
		t.Errorf("expected libsql, got %s", cfg.Store.Backend)
	}
}

func TestObserverEnvOverride(t *testing.T) {
	t.Setenv("AGENTCORE_OBSERVER_ENABLED", "1")

	cfg := Load("/nonexistent/path.toml")
	if !cfg.Observer.Enabled {
		t.Error("expected observer enabled via env var")
	}
}
