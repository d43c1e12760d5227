// Command agentrund is a reference host for the agentcore runtime. It loads
// configuration, wires a provider, storage backend, context manager,
// guardrails, and tools, then executes a single task read from the command
// line and prints the result as JSON.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	agentcore "github.com/agentcore/runtime"
	"github.com/agentcore/runtime/internal/config"
	"github.com/agentcore/runtime/observer"
	"github.com/agentcore/runtime/provider/resolve"
	"github.com/agentcore/runtime/store/libsql"
	"github.com/agentcore/runtime/store/postgres"
	"github.com/agentcore/runtime/store/sqlite"
	"github.com/agentcore/runtime/tools/data"
	"github.com/agentcore/runtime/tools/file"
	"github.com/agentcore/runtime/tools/http"
	"github.com/agentcore/runtime/tools/schedule"
	"github.com/agentcore/runtime/tools/search"
	"github.com/agentcore/runtime/tools/shell"
)

func main() {
	configPath := flag.String("config", "", "path to agentcore.toml (defaults to ./agentcore.toml)")
	threadID := flag.String("thread", "", "thread ID for checkpoint resume; empty runs stateless")
	flag.Parse()

	task := strings.Join(flag.Args(), " ")
	if task == "" {
		log.Fatal("usage: agentrund [-config path] [-thread id] <task description>")
	}

	cfg := config.Load(*configPath)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	provider, err := resolve.Provider(resolve.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		Thinking:    cfg.LLM.Thinking,
		MaxRetries:  cfg.LLM.MaxRetries,
		RPM:         cfg.LLM.RPM,
		TPM:         cfg.LLM.TPM,
	})
	if err != nil {
		log.Fatalf("resolve provider: %v", err)
	}

	var embedding agentcore.EmbeddingProvider
	if cfg.Embedding.APIKey != "" {
		embedding, err = resolve.EmbeddingProvider(resolve.EmbeddingConfig{
			Provider:   cfg.Embedding.Provider,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			log.Fatalf("resolve embedding provider: %v", err)
		}
	}

	checkpointer, taskStore, scheduleDB, closeStore := mustOpenStore(ctx, cfg.Store, logger)
	defer closeStore()

	var instruments *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		instruments, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer shutdown(context.Background())
		provider = observer.WrapProvider(provider, cfg.LLM.Model, instruments)
	}

	hooks := agentcore.NewHookRegistry()
	if cfg.Guardrail.Enabled {
		injection := agentcore.NewInjectionGuard()
		hooks.On(agentcore.EventPreGenerate, "", injection.PreGenerateHook())

		content := agentcore.NewContentGuard(agentcore.MaxInputLength(200_000))
		hooks.On(agentcore.EventPreGenerate, "", content.PreGenerateHook())
		hooks.On(agentcore.EventPostGenerate, "", content.PostGenerateHook())

		maxCalls := agentcore.NewMaxToolCallsGuard(50)
		hooks.On(agentcore.EventPostGenerate, "", maxCalls.PostGenerateHook())
	}

	tools := buildTools(cfg, embedding, scheduleDB, instruments)

	contextManager := agentcore.NewContextManager(
		agentcore.WithTokenLimit(cfg.Context.MaxTokens),
		agentcore.WithCompactThresholds(cfg.Context.CompactThreshold, 0.95),
		agentcore.WithSummarizationStrategy(parseSummarizationStrategy(cfg.Context.Strategy)),
		agentcore.WithKeepMessageCount(cfg.Context.PreserveIterations),
		agentcore.WithContextHooks(hooks),
		agentcore.WithContextLogger(logger),
	)

	opts := []agentcore.AgentOption{
		agentcore.WithTools(tools...),
		agentcore.WithPrompt("You are a helpful assistant with access to tools. Respond concisely."),
		agentcore.WithContextManager(contextManager),
		agentcore.WithHooks(hooks),
		agentcore.WithLogger(logger),
	}
	if checkpointer != nil {
		opts = append(opts, agentcore.WithCheckpointer(checkpointer, "agentrund"))
	}
	if taskStore != nil {
		opts = append(opts, agentcore.WithBackgroundTasks(taskStore, false))
	}

	var agent agentcore.Agent = agentcore.NewAgent("assistant", provider, opts...)
	if instruments != nil {
		agent = observer.WrapAgent(agent, instruments)
	}

	result, err := agent.Execute(ctx, agentcore.AgentTask{
		Input:    task,
		ThreadID: *threadID,
	})
	if err != nil {
		log.Fatalf("execute: %v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("marshal result: %v", err)
	}
	fmt.Println(string(out))

	if result.FinishReason == agentcore.FinishInterrupted {
		fmt.Fprintf(os.Stderr, "run suspended awaiting approval; resume with -thread %s\n", result.ThreadID)
	}
}

// parseSummarizationStrategy maps the config string to the constant, defaulting
// to StrategyRollup for an empty or unrecognized value.
func parseSummarizationStrategy(s string) agentcore.SummarizationStrategy {
	switch s {
	case "tiered":
		return agentcore.StrategyTiered
	case "structured":
		return agentcore.StrategyStructured
	default:
		return agentcore.StrategyRollup
	}
}

// mustOpenStore builds a Checkpointer + TaskStore pair (and, for the sqlite
// backend, a raw *sql.DB the schedule tool can share) for cfg.Backend.
func mustOpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (agentcore.Checkpointer, agentcore.TaskStore, *sql.DB, func()) {
	switch cfg.Backend {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "agentcore.db"
		}
		store := sqlite.New(path, sqlite.WithLogger(logger))
		if err := store.Init(ctx); err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		taskStore := sqlite.NewTaskStore(store.DB(), sqlite.WithTaskLogger(logger))
		if err := taskStore.Init(ctx); err != nil {
			log.Fatalf("sqlite task store init: %v", err)
		}
		return store, taskStore, store.DB(), func() { store.Close() }

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			log.Fatalf("postgres connect: %v", err)
		}
		store := postgres.New(pool)
		if err := store.Init(ctx); err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		taskStore := postgres.NewTaskStore(pool)
		if err := taskStore.Init(ctx); err != nil {
			log.Fatalf("postgres task store init: %v", err)
		}
		return store, taskStore, nil, func() { store.Close() }

	case "libsql":
		var store *libsql.Store
		var taskStore *libsql.TaskStore
		if cfg.TursoURL != "" {
			store = libsql.NewRemote(cfg.TursoURL, cfg.TursoToken)
			taskStore = libsql.NewRemoteTaskStore(cfg.TursoURL, cfg.TursoToken)
		} else {
			path := cfg.Path
			if path == "" {
				path = "agentcore.db"
			}
			store = libsql.New(path)
			taskStore = libsql.NewTaskStore(path)
		}
		if err := store.Init(ctx); err != nil {
			log.Fatalf("libsql init: %v", err)
		}
		if err := taskStore.Init(ctx); err != nil {
			log.Fatalf("libsql task store init: %v", err)
		}
		return store, taskStore, nil, func() { store.Close() }

	default:
		log.Fatalf("unknown store backend %q", cfg.Backend)
		return nil, nil, nil, func() {}
	}
}

// buildTools assembles the tool surface. scheduleDB is nil for backends that
// don't expose a *sql.DB (postgres, libsql), in which case the
// schedule tool is omitted.
func buildTools(cfg config.Config, embedding agentcore.EmbeddingProvider, scheduleDB *sql.DB, instruments *observer.Instruments) []agentcore.Tool {
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = "."
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		log.Fatalf("create workspace: %v", err)
	}

	var tools []agentcore.Tool
	tools = append(tools,
		file.New(workspace),
		http.New(),
		data.New(),
		shell.New(workspace, 30),
	)

	if embedding != nil && cfg.Search.BraveAPIKey != "" {
		tools = append(tools, search.New(embedding, cfg.Search.BraveAPIKey))
	}

	if scheduleDB != nil {
		scheduleTool := schedule.New(scheduleDB, 0)
		if err := scheduleTool.Init(context.Background()); err != nil {
			log.Fatalf("schedule tool init: %v", err)
		}
		tools = append(tools, scheduleTool)
	}

	if instruments != nil {
		for i, t := range tools {
			tools[i] = observer.WrapTool(t, instruments)
		}
	}

	return tools
}
