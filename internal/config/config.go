// Package config reads the flat environment-variable surface the agent
// recognises. The configuration is a flat set of keys, so a simple
// os.Getenv/strconv reader with documented defaults is all this needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-derived setting the core components need.
type Config struct {
	Timezone string

	ContextWindowKeepMin        int
	ContextWindowTriggerSummary int
	RecentSummariesMax          int

	RecallSummaryPerQuery int
	RecallConvPerSummary  int
	RerankTopSummaries    int
	RerankTopConvs        int

	ChatModel          string
	ToolModel          string
	EmbeddingModel     string
	EmbeddingDimension int
	RerankModel        string

	AnthropicAPIBase string
	AnthropicAPIKey  string
	OpenAIAPIBase    string
	OpenAIAPIKey     string
	RerankAPIBase    string
	RerankAPIKey     string

	TelegramBotToken string
	TelegramUserID   string

	EnableMCP     bool
	MCPConfigPath string

	ScheduledTasksConfigPath string

	ProfileDir string

	DebugVerbose bool

	PollInterval int // scheduler tick seconds

	MaxToolIterations int
}

// Load reads Config from the process environment, applying the documented
// default for every tunable.
func Load() (*Config, error) {
	c := &Config{
		Timezone: getenv("TIMEZONE", "UTC"),

		ContextWindowKeepMin:        getenvInt("CONTEXT_WINDOW_KEEP_MIN", 12),
		ContextWindowTriggerSummary: getenvInt("CONTEXT_WINDOW_TRIGGER_SUMMARY", 24),
		RecentSummariesMax:          getenvInt("RECENT_SUMMARIES_MAX", 3),

		RecallSummaryPerQuery: getenvInt("RECALL_SUMMARY_PER_QUERY", 3),
		RecallConvPerSummary:  getenvInt("RECALL_CONV_PER_SUMMARY", 4),
		RerankTopSummaries:    getenvInt("RERANK_TOP_SUMMARIES", 3),
		RerankTopConvs:        getenvInt("RERANK_TOP_CONVS", 6),

		ChatModel:          getenv("CHAT_MODEL", "claude-sonnet-4-20250514"),
		ToolModel:          getenv("TOOL_MODEL", "gpt-4o-mini"),
		EmbeddingModel:     getenv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension: getenvInt("EMBEDDING_DIMENSION", 1536),
		RerankModel:        getenv("RERANK_MODEL", ""),

		AnthropicAPIBase: getenv("ANTHROPIC_API_BASE", ""),
		AnthropicAPIKey:  getenv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIBase:    getenv("OPENAI_API_BASE", ""),
		OpenAIAPIKey:     getenv("OPENAI_API_KEY", ""),
		RerankAPIBase:    getenv("RERANK_API_BASE", ""),
		RerankAPIKey:     getenv("RERANK_API_KEY", ""),

		TelegramBotToken: getenv("TELEGRAM_BOT_TOKEN", ""),
		TelegramUserID:   getenv("TELEGRAM_USER_ID", ""),

		EnableMCP:     getenvBool("ENABLE_MCP", false),
		MCPConfigPath: getenv("MCP_CONFIG_PATH", ""),

		ScheduledTasksConfigPath: getenv("SCHEDULED_TASKS_CONFIG_PATH", ""),

		ProfileDir: getenv("PROFILE_DIR", "data/default"),

		DebugVerbose: getenvBool("DEBUG_VERBOSE", false),

		PollInterval: getenvInt("SCHEDULER_POLL_INTERVAL", 10),

		MaxToolIterations: getenvInt("MAX_TOOL_ITERATIONS", 8),
	}

	if c.EmbeddingDimension <= 0 {
		return nil, fmt.Errorf("config: EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	if c.ContextWindowKeepMin <= 0 || c.ContextWindowTriggerSummary <= c.ContextWindowKeepMin {
		return nil, fmt.Errorf("config: CONTEXT_WINDOW_TRIGGER_SUMMARY must exceed CONTEXT_WINDOW_KEEP_MIN")
	}
	return c, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
