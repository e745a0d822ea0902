package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OTel      OTelConfig
	LargeLLM  LLMConfig
	SmallLLM  LLMConfig
	Redis     RedisConfig
	Workspace WorkspaceConfig
	Context   ContextConfig
	Agent     AgentConfig
	Research  ResearchConfig
	Env       string
	Port      string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
}

type LLMConfig struct {
	Provider        string // "openai" or "anthropic"
	APIKey          string
	BaseURL         string // Optional: for custom endpoints
	Model           string
	MaxTokens       int
	MaxRetries      int
	ReasoningEffort string // Optional: "low", "medium", "high" for reasoning models
}

type RedisConfig struct {
	URL          string
	StreamPrefix string // frontend message streams, one per conversation
	CachePrefix  string
}

type WorkspaceConfig struct {
	Root             string
	Shell            string
	OSName           string
	InstructionsFile string // project-relative file with custom instructions
	Watch            bool   // track modified files with fsnotify instead of walking
	StructureDepth   int
}

// ContextConfig holds the context builder's thresholds.
type ContextConfig struct {
	RecentMessages         int // last N messages rendered verbatim
	MaxSummaryTokens       int
	MaxRelevantFilesTokens int
	MaxRelevantFilesCount  int
	MaxCombinedFiles       int
	MaxFileSize            int64
	ReductionInterval      int // messages between reductions
	FinishTaskThreshold    int // backend message count that triggers the finish addendum
	CompressionTimeout     time.Duration
}

type AgentConfig struct {
	ApprovalRequired bool
	MaxTurns         int
	Temperature      float64
	ShellTimeout     time.Duration
}

type ResearchConfig struct {
	MaxSteps     int
	CacheTTL     time.Duration
	CacheBackend string // "memory" or "redis"
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeCLI    ServiceType = "cli"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the API server
//   - .env.cli for the command line
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("COMPANION_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	wd, _ := os.Getwd()

	large := LLMConfig{
		Provider:        getEnv("LARGE_LLM_PROVIDER", "openai"),
		APIKey:          getEnv("LARGE_LLM_API_KEY", ""),
		BaseURL:         getEnv("LARGE_LLM_BASE_URL", ""),
		Model:           getEnv("LARGE_LLM_MODEL", "gpt-4.1"),
		MaxTokens:       getEnvInt("LARGE_LLM_MAX_TOKENS", 8192),
		MaxRetries:      getEnvInt("LARGE_LLM_MAX_RETRIES", 5),
		ReasoningEffort: getEnv("LARGE_LLM_REASONING_EFFORT", ""),
	}

	// The small model shares the large model's credentials unless configured separately.
	small := LLMConfig{
		Provider:        getEnv("SMALL_LLM_PROVIDER", large.Provider),
		APIKey:          getEnv("SMALL_LLM_API_KEY", large.APIKey),
		BaseURL:         getEnv("SMALL_LLM_BASE_URL", large.BaseURL),
		Model:           getEnv("SMALL_LLM_MODEL", "gpt-4.1-mini"),
		MaxTokens:       getEnvInt("SMALL_LLM_MAX_TOKENS", 4096),
		MaxRetries:      getEnvInt("SMALL_LLM_MAX_RETRIES", large.MaxRetries),
		ReasoningEffort: getEnv("SMALL_LLM_REASONING_EFFORT", ""),
	}

	cfg := Config{
		Env:  getEnv("COMPANION_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "companion"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			SampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0),
		},
		LargeLLM: large,
		SmallLLM: small,
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			StreamPrefix: getEnv("REDIS_STREAM_PREFIX", "companion:conversation"),
			CachePrefix:  getEnv("REDIS_CACHE_PREFIX", "companion:cache:"),
		},
		Workspace: WorkspaceConfig{
			Root:             getEnv("WORKSPACE_ROOT", wd),
			Shell:            getEnv("WORKSPACE_SHELL", defaultShell()),
			OSName:           getEnv("WORKSPACE_OS_NAME", runtime.GOOS),
			InstructionsFile: getEnv("WORKSPACE_INSTRUCTIONS_FILE", ".companion/instructions.md"),
			Watch:            getEnvBool("WORKSPACE_WATCH", true),
			StructureDepth:   getEnvInt("WORKSPACE_STRUCTURE_DEPTH", 3),
		},
		Context: ContextConfig{
			RecentMessages:         getEnvInt("CONTEXT_RECENT_MESSAGES", 6),
			MaxSummaryTokens:       getEnvInt("CONTEXT_MAX_SUMMARY_TOKENS", 2000),
			MaxRelevantFilesTokens: getEnvInt("CONTEXT_MAX_RELEVANT_FILES_TOKENS", 10000),
			MaxRelevantFilesCount:  getEnvInt("CONTEXT_MAX_RELEVANT_FILES_COUNT", 7),
			MaxCombinedFiles:       getEnvInt("CONTEXT_MAX_COMBINED_FILES", 20),
			MaxFileSize:            int64(getEnvInt("CONTEXT_MAX_FILE_SIZE", 100000)),
			ReductionInterval:      getEnvInt("CONTEXT_REDUCTION_INTERVAL", 10),
			FinishTaskThreshold:    getEnvInt("CONTEXT_FINISH_TASK_THRESHOLD", 7),
			CompressionTimeout:     getEnvDuration("CONTEXT_COMPRESSION_TIMEOUT", 2*time.Minute),
		},
		Agent: AgentConfig{
			ApprovalRequired: getEnvBool("AGENT_APPROVAL_REQUIRED", true),
			MaxTurns:         getEnvInt("AGENT_MAX_TURNS", 50),
			Temperature:      getEnvFloat("AGENT_TEMPERATURE", 0),
			ShellTimeout:     getEnvDuration("AGENT_SHELL_TIMEOUT", 5*time.Minute),
		},
		Research: ResearchConfig{
			MaxSteps:     getEnvInt("RESEARCH_MAX_STEPS", 4),
			CacheTTL:     getEnvDuration("RESEARCH_CACHE_TTL", 300*time.Second),
			CacheBackend: getEnv("RESEARCH_CACHE_BACKEND", "memory"),
		},
	}

	if !cfg.LargeLLM.Enabled() {
		return Config{}, fmt.Errorf("LARGE_LLM_API_KEY and a supported LARGE_LLM_PROVIDER are required")
	}

	if cfg.Research.CacheBackend == "redis" && cfg.Redis.URL == "" {
		return Config{}, fmt.Errorf("REDIS_URL is required when RESEARCH_CACHE_BACKEND=redis")
	}

	root, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return Config{}, fmt.Errorf("resolve WORKSPACE_ROOT: %w", err)
	}
	cfg.Workspace.Root = root

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return filepath.Base(shell)
	}
	return "bash"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
