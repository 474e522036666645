// Package config provides configuration for the research service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Generative backend (OpenAI-compatible)
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	// Search collaborator
	SearchProvider    string // tavily or duckduckgo
	TavilyAPIKey      string
	SearchTimeout     time.Duration
	SearchConcurrency int

	// Loop bounds
	MaxIterations        int
	MaxValidationRetries int
	RunTimeout           time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:             getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:          getEnv("DATABASE_URL", "file:reflexion.db?cache=shared&mode=rwc"),
		LLMBaseURL:           getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:            getEnv("LLM_API_KEY", ""),
		LLMModel:             getEnv("LLM_MODEL", "gpt-4o"),
		LLMTimeout:           time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		SearchProvider:       getEnv("SEARCH_PROVIDER", "tavily"),
		TavilyAPIKey:         getEnv("TAVILY_API_KEY", ""),
		SearchTimeout:        time.Duration(getEnvInt("SEARCH_TIMEOUT_MS", 15000)) * time.Millisecond,
		SearchConcurrency:    getEnvInt("SEARCH_CONCURRENCY", 4),
		MaxIterations:        getEnvInt("MAX_ITERATIONS", 5),
		MaxValidationRetries: getEnvInt("MAX_VALIDATION_RETRIES", 3),
		RunTimeout:           time.Duration(getEnvInt("RUN_TIMEOUT_MS", 600000)) * time.Millisecond,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
