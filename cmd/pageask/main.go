package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pageask/pageask/internal/api"
	"github.com/pageask/pageask/internal/config"
	"github.com/pageask/pageask/internal/fetch"
	"github.com/pageask/pageask/internal/llm"
	"github.com/pageask/pageask/internal/llm/gemini"
	"github.com/pageask/pageask/internal/llm/openai"
	"github.com/pageask/pageask/internal/observability"
	"github.com/pageask/pageask/internal/rag"
	"github.com/pageask/pageask/internal/secrets"
	"github.com/pageask/pageask/internal/server"
	"github.com/pageask/pageask/internal/vector"
)

const version = "0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "pageask",
		Short:   "Web page question answering over a retrieval pipeline",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (optional)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	var (
		askURL   string
		askQuery string
	)
	askCmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer a question about a page without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(configPath, askURL, askQuery)
		},
	}
	askCmd.Flags().StringVar(&askURL, "url", "", "Page URL")
	askCmd.Flags().StringVar(&askQuery, "query", "", "Question about the page")
	_ = askCmd.MarkFlagRequired("url")
	_ = askCmd.MarkFlagRequired("query")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available model providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available model providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-10s %s\n", name, url)
			}
			fmt.Println("  custom     (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in a config file or via environment:")
			fmt.Println("  PAGEASK_PROVIDER_NAME=gemini")
			fmt.Println("  PAGEASK_PROVIDER_API_KEY=...")
			fmt.Println("  PAGEASK_PROVIDER_MODEL=gemini-2.5-flash")
			fmt.Println("  GEMINI_API_KEY also works for the default provider.")
		},
	}

	rootCmd.AddCommand(serveCmd, askCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired service components.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.ServiceMetrics
	pipeline *rag.Pipeline
	store    vector.Store
	tracer   *observability.TracerProvider
	hasKey   bool
}

// newApp loads config and builds the pipeline with all its dependencies.
func newApp(ctx context.Context, configPath string) (*app, error) {
	// A .env next to the binary is a convenience for local runs.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Provider.APIKey == "" {
		sm, err := secrets.NewManager(nil)
		if err != nil {
			return nil, fmt.Errorf("secrets manager: %w", err)
		}
		cfg.Provider.APIKey = sm.ResolveAPIKey(ctx, cfg.Provider.Name)
	}

	tracingCfg := observability.DefaultTracingConfig()
	tracingCfg.ServiceVersion = version
	tracingCfg.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tracer, err := observability.InitTracing(ctx, tracingCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if cfg.Audit.Enabled {
		if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
			Enabled:    true,
			OutputPath: cfg.Audit.Output,
		}); err != nil {
			return nil, fmt.Errorf("init audit logger: %w", err)
		}
	}

	metrics := observability.NewServiceMetrics()

	provider, embedder, err := buildLLM(cfg, metrics)
	if err != nil {
		return nil, err
	}

	store := buildStore(ctx, cfg, logger)

	pipeline := rag.New(
		fetch.NewClient(),
		embedder,
		provider,
		store,
		metrics,
		logger,
		&rag.Config{
			ChunkSize:    cfg.Pipeline.ChunkSize,
			ChunkOverlap: cfg.Pipeline.ChunkOverlap,
			MaxChunks:    cfg.Pipeline.MaxChunks,
			TopK:         cfg.Pipeline.TopK,
			AskTimeout:   cfg.Pipeline.AskTimeout,
		},
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		pipeline: pipeline,
		store:    store,
		tracer:   tracer,
		hasKey:   cfg.Provider.APIKey != "",
	}, nil
}

func runServe(configPath string) error {
	ctx := context.Background()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}

	apiServer := api.NewServer(&api.Config{ListenAddr: a.cfg.Server.ListenAddr}, a.pipeline, a.metrics, a.logger)

	graceful := server.NewGracefulServer(&server.HealthConfig{Version: version}, nil)
	graceful.Health.RegisterCheck("api_key", server.APIKeyHealthChecker(a.cfg.Provider.Name, func() bool {
		return a.hasKey
	}))
	graceful.Health.RegisterCheck("llm", server.LLMHealthChecker(a.cfg.Provider.Name, nil))
	graceful.Health.RegisterCheck("vector_store", server.VectorStoreHealthChecker(storePing(a.store)))

	graceful.Shutdown.AddHook(server.HTTPServerShutdownHook("api-server", apiServer.Stop))
	graceful.Shutdown.AddHook(server.TracingShutdownHook(a.tracer.Shutdown))
	graceful.Shutdown.AddHook(server.VectorStoreShutdownHook(a.store.Close))
	graceful.Shutdown.AddHook(server.AuditLoggerShutdownHook(func() error {
		return observability.Audit().Close()
	}))

	if err := graceful.Start(a.cfg.Server.HealthAddr); err != nil {
		return err
	}

	go func() {
		a.logger.Info("api server listening",
			"addr", a.cfg.Server.ListenAddr,
			"provider", a.cfg.Provider.Name,
			"model", a.cfg.Provider.Model,
			"vector_backend", a.cfg.Vector.Backend)
		if err := apiServer.Start(); err != nil {
			a.logger.Error("api server failed", "error", err)
			graceful.Shutdown.Shutdown()
		}
	}()

	graceful.Wait()
	a.logger.Info("shutdown complete")
	return nil
}

func runAsk(configPath, url, query string) error {
	ctx := context.Background()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()
	defer a.tracer.Shutdown(context.Background())

	answer, err := a.pipeline.Ask(ctx, url, query)
	if err != nil {
		return err
	}

	fmt.Println(answer)
	return nil
}

// buildLLM wires the provider stack: the raw provider is rate limited,
// the generation path adds retries on top, and the embedding path goes
// through the resilient embedder instead so quota failures degrade to
// zero-vectors rather than errors.
func buildLLM(cfg *config.Config, metrics *observability.ServiceMetrics) (llm.Provider, *llm.ResilientEmbedder, error) {
	factory := llm.NewFactory()
	factory.Register("gemini", func(c llm.ProviderConfig) (llm.Provider, error) {
		return gemini.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	// OpenAI-compatible providers
	for _, p := range []struct{ name, url string }{
		{"groq", llm.KnownProviders["groq"]},
		{"ollama", llm.KnownProviders["ollama"]},
		{"together", llm.KnownProviders["together"]},
		{"deepseek", llm.KnownProviders["deepseek"]},
		{"custom", ""},
	} {
		p := p
		factory.Register(p.name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			return openai.New(c.APIKey, c.Model, base, c.EmbedModel), nil
		})
	}

	// Retries and timeouts are disabled here so the raw provider comes
	// back; the wrappers are layered explicitly below.
	raw, err := factory.Create(llm.ProviderConfig{
		Provider:   cfg.Provider.Name,
		APIKey:     cfg.Provider.APIKey,
		Model:      cfg.Provider.Model,
		BaseURL:    cfg.Provider.BaseURL,
		EmbedModel: cfg.Provider.EmbedModel,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating model provider: %w", err)
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("a model provider is required, got %q", cfg.Provider.Name)
	}

	limited := llm.WithRateLimit(raw, &llm.RateLimitConfig{
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
		BurstSize:         cfg.Provider.BurstSize,
	})

	retryCfg := llm.DefaultProviderConfig()
	generation := llm.WrapWithRetry(limited, retryCfg)

	embedder := llm.NewResilientEmbedder(limited, &llm.ResilientConfig{
		Dimension:   cfg.Embedder.Dimension,
		MaxAttempts: cfg.Embedder.MaxAttempts,
		RetryDelay:  cfg.Embedder.RetryDelay,
	})
	embedder.Retries = metrics.EmbedRetriesTotal
	embedder.QuotaFallbacks = metrics.EmbedQuotaFallbacksTotal
	embedder.OtherFallbacks = metrics.EmbedOtherFallbacksTotal

	return generation, embedder, nil
}

// buildStore selects the vector backend. Qdrant connection failures fall
// back to the in-memory store so the service still answers questions.
func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) vector.Store {
	if cfg.Vector.Backend == "qdrant" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		store, err := vector.NewQdrant(connectCtx, cfg.Vector.Host, cfg.Vector.Port)
		if err == nil {
			return store
		}
		logger.Warn("qdrant unavailable, using in-memory vector store",
			"host", cfg.Vector.Host, "port", cfg.Vector.Port, "error", err)
	}
	return vector.NewMemory()
}

func storePing(store vector.Store) func(ctx context.Context) error {
	if qs, ok := store.(*vector.QdrantStore); ok {
		return qs.Ping
	}
	return func(ctx context.Context) error { return nil }
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
