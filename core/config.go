/*
Package core implements the Concierge agent: the reasoning loop that
orchestrates capabilities, the decision model adapter around the LLM, the
policies composing capability calls, the conversation store, and the HTTP
surface that streams agent progress to clients.

This file handles configuration loading and logger initialization. All
operational parameters come from environment variables with sensible
defaults, keeping deployment twelve-factor friendly.
*/
package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Provider names accepted by LLM_PROVIDER.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

// Config holds all configurable values for the Concierge service.
type Config struct {
	// Server configuration
	Port string // HTTP server port (default: "8080")

	// LLM provider configuration
	LLMProvider       string // "openrouter" or "ollama" (default: "openrouter")
	OpenRouterAPIKey  string // API key for the OpenRouter endpoint
	OpenRouterBaseURL string // OpenAI-compatible base URL (default: OpenRouter)
	ModelName         string // Model served through OpenRouter
	OllamaEndpoint    string // Base URL for Ollama (default: "http://localhost:11434")
	OllamaModel       string // Ollama model name (default: "qwen3")

	// External capability credentials
	OpenWeatherMapAPIKey string // OpenWeatherMap API key
	SerpAPIKey           string // SerpAPI key for web search
	DatabaseURL          string // Postgres DSN for the schedule store; empty selects the in-memory store

	// Reasoning loop bounds
	MaxIterations          int           // Maximum loop iterations before the degraded answer (default: 12)
	DecisionTimeout        time.Duration // Timeout per decision model call (default: 60s)
	CapabilityTimeout      time.Duration // Timeout per capability invocation (default: 30s)
	MaxConsecutiveTimeouts int           // Consecutive timeouts before the loop fails (default: 3)
	ContextLimit           int           // Maximum prior turns included in the model context (default: 20)

	// Conversation store configuration
	SessionMaxAge   time.Duration // Conversation expiry (default: 24h)
	CleanupInterval time.Duration // Expired-conversation sweep interval (default: 1h)

	// Logging configuration
	LogLevel          string // debug, info, warn, error (default: "info")
	LogTruncateLength int    // Truncation length for logged payloads (default: 500)
	DebugMode         bool   // Include debug detail in stream events (default: false)
}

// LoadConfig loads configuration from environment variables with defaults.
// Invalid values fall back to the default rather than failing startup.
func LoadConfig() *Config {
	config := &Config{
		Port: "8080",

		LLMProvider:       ProviderOpenRouter,
		OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		ModelName:         "openai/gpt-4o-mini",
		OllamaEndpoint:    "http://localhost:11434",
		OllamaModel:       "qwen3",

		MaxIterations:          12,
		DecisionTimeout:        60 * time.Second,
		CapabilityTimeout:      30 * time.Second,
		MaxConsecutiveTimeouts: 3,
		ContextLimit:           20,

		SessionMaxAge:   24 * time.Hour,
		CleanupInterval: 1 * time.Hour,

		LogLevel:          "info",
		LogTruncateLength: 500,
	}

	if port := os.Getenv("PORT"); port != "" {
		config.Port = port
	}

	if provider := os.Getenv("LLM_PROVIDER"); provider == ProviderOpenRouter || provider == ProviderOllama {
		config.LLMProvider = provider
	}
	config.OpenRouterAPIKey = os.Getenv("OPENROUTER_APIKEY")
	if baseURL := os.Getenv("OPENROUTER_BASE_URL"); baseURL != "" {
		config.OpenRouterBaseURL = baseURL
	}
	if model := os.Getenv("MODEL_NAME"); model != "" {
		config.ModelName = model
	}
	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		config.OllamaEndpoint = endpoint
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		config.OllamaModel = model
	}

	config.OpenWeatherMapAPIKey = os.Getenv("OPENWEATHERMAP_APIKEY")
	config.SerpAPIKey = os.Getenv("SERPAPI_APIKEY")
	config.DatabaseURL = os.Getenv("DATABASE_URL")

	if v := envInt("MAX_ITERATIONS"); v > 0 {
		config.MaxIterations = v
	}
	if v := envInt("DECISION_TIMEOUT"); v > 0 {
		config.DecisionTimeout = time.Duration(v) * time.Second
	}
	if v := envInt("CAPABILITY_TIMEOUT"); v > 0 {
		config.CapabilityTimeout = time.Duration(v) * time.Second
	}
	if v := envInt("MAX_CONSECUTIVE_TIMEOUTS"); v > 0 {
		config.MaxConsecutiveTimeouts = v
	}
	if v := envInt("CONTEXT_LIMIT"); v > 0 {
		config.ContextLimit = v
	}
	if v := envInt("SESSION_MAX_AGE_HOURS"); v > 0 {
		config.SessionMaxAge = time.Duration(v) * time.Hour
	}
	if v := envInt("CLEANUP_INTERVAL_MINUTES"); v > 0 {
		config.CleanupInterval = time.Duration(v) * time.Minute
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
	if v := envInt("LOG_TRUNCATE_LENGTH"); v > 0 {
		config.LogTruncateLength = v
	}
	if debug := os.Getenv("DEBUG_MODE"); debug != "" {
		config.DebugMode = strings.ToLower(debug) == "true" || debug == "1"
	}

	// The OpenRouter provider is unusable without a key; fall back to a
	// local Ollama instance so development still works out of the box.
	if config.LLMProvider == ProviderOpenRouter && config.OpenRouterAPIKey == "" {
		config.LLMProvider = ProviderOllama
	}

	return config
}

func envInt(name string) int {
	value := os.Getenv(name)
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return 0
	}
	return parsed
}

// InitializeLogger configures a JSON-formatted structured logger from the
// loaded configuration and logs the operational parameters for visibility.
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.SetOutput(os.Stdout)

	logger.WithFields(logrus.Fields{
		"llmProvider":            config.LLMProvider,
		"modelName":              config.ModelName,
		"ollamaEndpoint":         config.OllamaEndpoint,
		"maxIterations":          config.MaxIterations,
		"decisionTimeout":        config.DecisionTimeout,
		"capabilityTimeout":      config.CapabilityTimeout,
		"maxConsecutiveTimeouts": config.MaxConsecutiveTimeouts,
		"contextLimit":           config.ContextLimit,
		"sessionMaxAge":          config.SessionMaxAge,
		"cleanupInterval":        config.CleanupInterval,
		"scheduleStore":          map[bool]string{true: "postgres", false: "memory"}[config.DatabaseURL != ""],
		"debugMode":              config.DebugMode,
	}).Info("Configuration loaded")

	return logger
}
