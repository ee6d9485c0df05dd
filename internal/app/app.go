// Package app wires every component into a single App value threaded through
// the transport adapter, Orchestrator, and Scheduler. Startup-owned resources
// live on this one value, never in package-level globals.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluviusmagnus/Seelenmaschine/internal/config"
	"github.com/fluviusmagnus/Seelenmaschine/internal/contextwindow"
	"github.com/fluviusmagnus/Seelenmaschine/internal/datetime"
	"github.com/fluviusmagnus/Seelenmaschine/internal/mcp"
	"github.com/fluviusmagnus/Seelenmaschine/internal/metrics"
	"github.com/fluviusmagnus/Seelenmaschine/internal/orchestrator"
	"github.com/fluviusmagnus/Seelenmaschine/internal/persona"
	"github.com/fluviusmagnus/Seelenmaschine/internal/providers/embeddings"
	"github.com/fluviusmagnus/Seelenmaschine/internal/providers/llm"
	"github.com/fluviusmagnus/Seelenmaschine/internal/providers/rerank"
	"github.com/fluviusmagnus/Seelenmaschine/internal/retriever"
	"github.com/fluviusmagnus/Seelenmaschine/internal/scheduler"
	"github.com/fluviusmagnus/Seelenmaschine/internal/store"
	"github.com/fluviusmagnus/Seelenmaschine/internal/summarizer"
	"github.com/fluviusmagnus/Seelenmaschine/internal/tools"
	"github.com/fluviusmagnus/Seelenmaschine/internal/tools/memorysearch"
	"github.com/fluviusmagnus/Seelenmaschine/internal/tools/scheduledtask"
	"github.com/fluviusmagnus/Seelenmaschine/internal/transport/telegram"
)

const dbFileName = "chatbot.db"

// App owns every long-lived resource for one deployment.
type App struct {
	Config       *config.Config
	Store        *store.Store
	Profile      *persona.Profile
	Window       *contextwindow.Window
	Retriever    *retriever.Retriever
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Registry     *tools.Registry
	Metrics      *metrics.Metrics

	logger     *slog.Logger
	mcpClients []*mcp.Client
	telegram   *telegram.Adapter
}

// New builds and wires the full component graph from configuration.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	level := slog.LevelInfo
	if cfg.DebugVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.ProfileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	st, err := store.Open(ctx, filepath.Join(cfg.ProfileDir, dbFileName), cfg.EmbeddingDimension)
	if err != nil {
		return nil, err
	}

	profile, err := persona.Open(cfg.ProfileDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	humanizer := datetime.NewHumanizer(cfg.Timezone)
	loc, locErr := time.LoadLocation(cfg.Timezone)
	if locErr != nil {
		logger.Warn("invalid TIMEZONE, falling back to UTC", "zone", cfg.Timezone)
		loc = time.UTC
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	embedder := embeddings.NewOpenAIProvider(cfg.OpenAIAPIBase, cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimension)

	var reranker rerank.Reranker
	if cfg.RerankModel != "" && cfg.RerankAPIBase != "" {
		reranker = rerank.NewHTTPReranker(cfg.RerankAPIBase, cfg.RerankAPIKey, cfg.RerankModel)
	}

	chatProvider := llm.NewAnthropicProvider(cfg.AnthropicAPIBase, cfg.AnthropicAPIKey, cfg.ChatModel)
	toolProvider := llm.NewOpenAIProvider(cfg.OpenAIAPIBase, cfg.OpenAIAPIKey, cfg.ToolModel)

	summariser := summarizer.New(toolProvider)

	window := contextwindow.New(st, summariser, embedder, profile, contextwindow.Params{
		KeepMin:            cfg.ContextWindowKeepMin,
		TriggerSummary:     cfg.ContextWindowTriggerSummary,
		RecentSummariesMax: cfg.RecentSummariesMax,
	}, logger)

	ret := retriever.New(st, embedder, reranker, humanizer, retriever.Params{
		RecallSummaryPerQuery: cfg.RecallSummaryPerQuery,
		RecallConvPerSummary:  cfg.RecallConvPerSummary,
		RerankTopSummaries:    cfg.RerankTopSummaries,
		RerankTopConvs:        cfg.RerankTopConvs,
	}, logger)

	registry := tools.NewRegistry()
	registry.Register(memorysearch.New(st, window, humanizer, loc))

	taskService := scheduler.NewService(st, loc)
	registry.Register(scheduledtask.New(taskService, humanizer))

	orch := orchestrator.New(window, ret, profile, chatProvider, registry, humanizer, orchestrator.Config{
		MaxToolIterations: cfg.MaxToolIterations,
		Logger:            logger,
		Metrics:           m,
	})

	sched := scheduler.New(st, orch, scheduler.Config{
		PollInterval: time.Duration(cfg.PollInterval) * time.Second,
		Logger:       logger,
		Metrics:      m,
	})

	app := &App{
		Config:       cfg,
		Store:        st,
		Profile:      profile,
		Window:       window,
		Retriever:    ret,
		Orchestrator: orch,
		Scheduler:    sched,
		Registry:     registry,
		Metrics:      m,
		logger:       logger,
	}

	if cfg.EnableMCP && cfg.MCPConfigPath != "" {
		serverConfigs, err := mcp.LoadConfig(cfg.MCPConfigPath)
		if err != nil {
			logger.Warn("could not load tool server config", "path", cfg.MCPConfigPath, "error", err)
		} else {
			app.mcpClients = mcp.RegisterAll(ctx, serverConfigs, registry, logger)
		}
	}

	if cfg.ScheduledTasksConfigPath != "" {
		created, err := taskService.LoadSeedFile(ctx, cfg.ScheduledTasksConfigPath)
		if err != nil {
			logger.Warn("could not load seed tasks", "path", cfg.ScheduledTasksConfigPath, "error", err)
		} else if created > 0 {
			logger.Info("loaded seed tasks", "created", created)
		}
	}

	go serveMetrics(reg, logger)

	return app, nil
}

// Run starts the scheduler and the Telegram adapter and blocks until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	userID, err := telegram.ParseUserID(a.Config.TelegramUserID)
	if err != nil {
		return err
	}

	adapter, err := telegram.New(telegram.Config{
		Token:  a.Config.TelegramBotToken,
		UserID: userID,
		Logger: a.logger,
	}, a.Orchestrator)
	if err != nil {
		return err
	}
	a.telegram = adapter
	a.Orchestrator.SetNotifier(adapter)

	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()

	return adapter.Start(ctx)
}

// Close releases every resource in reverse construction order.
func (a *App) Close() error {
	for _, c := range a.mcpClients {
		c.Close()
	}
	return a.Store.Close()
}

func serveMetrics(reg *prometheus.Registry, logger *slog.Logger) {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:9109"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics endpoint unavailable", "addr", addr, "error", err)
	}
}
