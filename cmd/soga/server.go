package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/soga/internal/chat"
	"github.com/jkaninda/soga/internal/config"
	"github.com/jkaninda/soga/internal/gateway/httpapi"
	"github.com/jkaninda/soga/internal/gateway/ws"
	"github.com/jkaninda/soga/internal/llm"
	"github.com/jkaninda/soga/internal/llm/anthropic"
	"github.com/jkaninda/soga/internal/llm/openai"
	"github.com/jkaninda/soga/internal/observability"
	"github.com/jkaninda/soga/internal/ratelimit"
	"github.com/jkaninda/soga/internal/retention"
	"github.com/jkaninda/soga/internal/storage"
	pgstore "github.com/jkaninda/soga/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/soga/internal/storage/sqlite"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serverConfigPath string
	serverPort       string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the chat backend server (HTTP + WebSocket)",
	RunE:  runServer,
}

func init() {
	// Register flags on both root and server so that
	// `soga --config path` and `soga server --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serverCmd} {
		cmd.Flags().StringVar(&serverConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serverPort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServer starts Soga in server mode.
func runServer(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("SOGA_CONFIG", serverConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serverPort != "" {
		cfg.Server.ListenAddr = serverPort
	}

	logger.Info("starting in server mode", slog.String("config", serverConfigPath))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	// Observability (optional: metrics, tracing, health checks).
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	if obs != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}()
	}

	// Storage backend.
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing storage", slog.String("error", err.Error()))
		}
	}()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating storage: %w", err)
	}
	logger.Info("storage ready", slog.String("driver", store.Driver()))

	if obs != nil && obs.Health != nil &&
		cfg.Observability.Health != nil && cfg.Observability.Health.IncludeDB {
		obs.Health.AddCheck("database", store.Ping)
	}

	// LLM provider chain.
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	if obs != nil && obs.Metrics != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.TracerOrNil())
	}

	orchestrator := chat.NewOrchestrator(chat.Config{
		Conversations: store.Conversations(),
		Messages:      store.Messages(),
		Provider:      provider,
		SystemPrompt:  cfg.Chat.Prompt(),
		HistoryLimit:  cfg.Chat.HistoryLimit,
		MaxTokens:     cfg.Chat.MaxTokens,
		Logger:        logger,
	})

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Server.RateLimit.BurstSize,
	})

	apiKeys := apiKeyMapping(cfg)
	if len(apiKeys) == 0 {
		return fmt.Errorf("no API keys configured (set server.api_key_user_mapping or SOGA_API_KEYS)")
	}

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		APIKeys:        apiKeys,
		MaxRequestSize: cfg.Server.MaxRequestSizeBytes,
	}
	if obs != nil {
		httpCfg.Metrics = obs.Metrics
		httpCfg.HealthChecker = obs.Health
		if obs.Metrics != nil {
			httpCfg.MetricsRegistry = obs.Metrics.Registry
		}
		if obs.Tracer != nil {
			httpCfg.Tracer = obs.Tracer.Tracer()
		}
		if cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	gw := httpapi.NewGateway(httpCfg, orchestrator, store.Conversations(), store.Messages(), limiter, logger).
		WithTasks(store.Tasks())

	// WebSocket chat endpoint mounted on the HTTP gateway (optional).
	if cfg.Server.WebSocket {
		wsServer := ws.NewServer(orchestrator, apiKeys, limiter, obs.MetricsOrNil(), logger)
		gw.WithHandler("/v1/chat/ws", wsServer.Handler())
		logger.Info("websocket chat endpoint enabled", slog.String("path", "/v1/chat/ws"))
	}

	// Retention sweeper (optional).
	sweeper := retention.New(store, cfg.Retention, logger)
	stopSweeper, err := sweeper.Start(ctx)
	if err != nil {
		return err
	}
	defer stopSweeper()

	// Run the gateway until a signal or server error.
	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("server exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping server", slog.String("error", err.Error()))
	}

	return nil
}

// openStore creates the storage backend selected by the config.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverSQLite:
		path := cfg.DatabasePath()
		journalMode := ""
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			if cfg.Storage.SQLite.Path != "" {
				path = cfg.Storage.SQLite.Path
			}
			journalMode = cfg.Storage.SQLite.JournalMode
		}
		store, err := sqlitestore.Open(sqlitestore.Config{
			Path:        path,
			JournalMode: journalMode,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite storage: %w", err)
		}
		return store, nil

	case storage.DriverPostgres:
		pgCfg := cfg.Storage.Postgres
		db, err := pgstore.Open(pgstore.Config{
			DSN:             pgCfg.DSN,
			MaxOpenConns:    pgCfg.MaxOpenConns,
			MaxIdleConns:    pgCfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pgCfg.ConnMaxLifetimeS) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres storage: %w", err)
		}
		return pgstore.NewStore(db), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// newProvider builds the default LLM provider plus the configured fallback
// chain. Misconfigured fallbacks are skipped with a warning so a bad entry
// cannot take the whole server down.
func newProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg, cfg.Providers.Default, logger)
	if err != nil {
		return nil, err
	}

	providers := []llm.Provider{primary}
	for _, name := range cfg.Providers.Fallback {
		p, err := buildProvider(cfg, name, logger)
		if err != nil {
			logger.Warn("skipping fallback provider",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		providers = append(providers, p)
	}

	if len(providers) == 1 {
		return primary, nil
	}
	return llm.NewFallbackProvider(providers, logger), nil
}

// buildProvider constructs a single named provider from config.
func buildProvider(cfg *config.Config, name string, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required (set ANTHROPIC_API_KEY)")
		}
		return anthropic.NewClient(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.Model, logger), nil

	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai API key is required (set OPENAI_API_KEY)")
		}
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.Model, logger, opts...), nil

	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		// Ollama speaks the OpenAI chat completions dialect.
		return openai.NewClient("", cfg.Providers.Ollama.Model, logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// apiKeyMapping merges the configured API key mapping with the SOGA_API_KEYS
// env override (comma-separated key:user pairs).
func apiKeyMapping(cfg *config.Config) map[string]string {
	apiKeys := make(map[string]string, len(cfg.Server.APIKeyUserMapping))
	for key, user := range cfg.Server.APIKeyUserMapping {
		apiKeys[key] = user
	}
	if envKeys := os.Getenv("SOGA_API_KEYS"); envKeys != "" {
		for _, entry := range strings.Split(envKeys, ",") {
			parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
			if len(parts) == 2 {
				apiKeys[parts[0]] = parts[1]
			}
		}
	}
	return apiKeys
}
