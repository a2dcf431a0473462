package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifies an LLM/embedding backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// LLM summarization
	LLMProvider Provider `yaml:"llm_provider"`
	LLMModel    string   `yaml:"llm_model"`

	// Embeddings
	EmbedProvider  Provider `yaml:"embed_provider"`
	EmbedModel     string   `yaml:"embed_model"`
	EmbedDimension int      `yaml:"embed_dimension"`

	OllamaHost      string `yaml:"ollama_host"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`

	// Queue / workers
	WorkerCount     int           `yaml:"worker_count"`
	MaxRetries      int           `yaml:"max_retries"`
	MinPriority     int           `yaml:"min_priority"`
	MaxPriority     int           `yaml:"max_priority"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	RetryMultiplier float64       `yaml:"retry_multiplier"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	PhaseTimeout    time.Duration `yaml:"phase_timeout"`
	RecrawlWindow   time.Duration `yaml:"recrawl_window"`

	// Extraction
	BlockMinLength  int     `yaml:"block_min_length"`
	BlockMaxLength  int     `yaml:"block_max_length"`
	MaxProseRatio   float64 `yaml:"max_prose_ratio"`
	MinCodeTokens   int     `yaml:"min_code_tokens"`
	SummaryRetries  int     `yaml:"summary_retries"`
	SummaryParallel int     `yaml:"summary_parallel"`

	// Progress tracker
	OperationRetention time.Duration `yaml:"operation_retention"`

	// HTTP server
	ListenAddr string `yaml:"listen_addr"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables. If CODEHARVEST_CONFIG
// points at a YAML file, its values are applied on top of the env/defaults.
func Load() Config {
	cfg := Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "codeharvest"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "crawl"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider: Provider(getEnv("CODEHARVEST_LLM_PROVIDER", "ollama")),
		LLMModel:    getEnv("CODEHARVEST_LLM_MODEL", "llama3.2"),

		EmbedProvider:  Provider(getEnv("CODEHARVEST_EMBED_PROVIDER", "ollama")),
		EmbedModel:     getEnv("CODEHARVEST_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("CODEHARVEST_EMBED_DIMENSION", 384),

		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),

		WorkerCount:     getEnvInt("CODEHARVEST_WORKERS", 4),
		MaxRetries:      getEnvInt("CODEHARVEST_MAX_RETRIES", 3),
		MinPriority:     getEnvInt("CODEHARVEST_MIN_PRIORITY", 0),
		MaxPriority:     getEnvInt("CODEHARVEST_MAX_PRIORITY", 100),
		RetryBaseDelay:  getEnvDuration("CODEHARVEST_RETRY_BASE", 2*time.Second),
		RetryMaxDelay:   getEnvDuration("CODEHARVEST_RETRY_CAP", 5*time.Minute),
		RetryMultiplier: getEnvFloat("CODEHARVEST_RETRY_MULTIPLIER", 2.0),
		FetchTimeout:    getEnvDuration("CODEHARVEST_FETCH_TIMEOUT", 60*time.Second),
		PhaseTimeout:    getEnvDuration("CODEHARVEST_PHASE_TIMEOUT", 5*time.Minute),
		RecrawlWindow:   getEnvDuration("CODEHARVEST_RECRAWL_WINDOW", 24*time.Hour),

		BlockMinLength:  getEnvInt("CODEHARVEST_BLOCK_MIN_LENGTH", 10),
		BlockMaxLength:  getEnvInt("CODEHARVEST_BLOCK_MAX_LENGTH", 20000),
		MaxProseRatio:   getEnvFloat("CODEHARVEST_MAX_PROSE_RATIO", 0.6),
		MinCodeTokens:   getEnvInt("CODEHARVEST_MIN_CODE_TOKENS", 2),
		SummaryRetries:  getEnvInt("CODEHARVEST_SUMMARY_RETRIES", 3),
		SummaryParallel: getEnvInt("CODEHARVEST_SUMMARY_PARALLEL", 4),

		OperationRetention: getEnvDuration("CODEHARVEST_OPERATION_RETENTION", 5*time.Minute),

		ListenAddr: getEnv("CODEHARVEST_LISTEN_ADDR", ":8181"),

		LogFile:  getEnv("CODEHARVEST_LOG_FILE", "/tmp/codeharvest.log"),
		LogLevel: parseLogLevel(getEnv("CODEHARVEST_LOG_LEVEL", "INFO")),
	}

	if path := os.Getenv("CODEHARVEST_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			slog.Warn("failed to load config file, using env/defaults", "path", path, "error", err)
		}
	}

	// Anthropic has no embeddings API; only ollama and openai can embed.
	if cfg.EmbedProvider != ProviderOllama && cfg.EmbedProvider != ProviderOpenAI {
		slog.Warn("unsupported embed provider, falling back to ollama", "provider", cfg.EmbedProvider)
		cfg.EmbedProvider = ProviderOllama
	}

	return cfg
}

// applyFile overlays values from a YAML file onto the current config.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
