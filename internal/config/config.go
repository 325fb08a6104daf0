package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	LLMBackend string // "openai" or "ollama"
	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string

	// Loop defaults applied when a request leaves them unset.
	MaxTokensPerCall int
	StopMarker       string
	MaxCalls         int

	DBPath    string
	APIPort   string
	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or project root, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	// Check current directory first, then walk up to find project root (where go.mod is)
	_ = godotenv.Load() // Try current directory

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ { // Limit search depth
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break // Reached filesystem root
			}
			dir = parent
		}
	}

	cfg := &Config{
		LLMBackend: getEnv("LLM_BACKEND", "openai"),
		LLMBaseURL: getEnv("LLM_BASE_URL", "http://localhost:8080"),
		LLMModel:   getEnv("LLM_MODEL", "Llama-3.1-8B-Instruct"),
		LLMAPIKey:  getEnv("LLM_API_KEY", "dummy-key"),
		StopMarker: getEnv("STOP_MARKER", ""),
		DBPath:     getEnv("DB_PATH", "./data/rollgen.db"),
		APIPort:    getEnv("API_PORT", "9000"),
		LogFormat:  getEnv("LOG_FORMAT", "text"),
	}

	if cfg.LLMBackend != "openai" && cfg.LLMBackend != "ollama" {
		return nil, fmt.Errorf("LLM_BACKEND must be \"openai\" or \"ollama\", got %q", cfg.LLMBackend)
	}

	maxTokens, err := getEnvInt("MAX_TOKENS_PER_CALL", 1024)
	if err != nil {
		return nil, err
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("MAX_TOKENS_PER_CALL must be greater than 0")
	}
	cfg.MaxTokensPerCall = maxTokens

	// Default bound keeps a task from looping forever when the model never
	// emits the marker. 0 disables the bound.
	maxCalls, err := getEnvInt("MAX_CALLS", 25)
	if err != nil {
		return nil, err
	}
	if maxCalls < 0 {
		return nil, fmt.Errorf("MAX_CALLS cannot be negative")
	}
	cfg.MaxCalls = maxCalls

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be \"text\" or \"json\", got %q", cfg.LogFormat)
	}

	// Create ./data directory if it doesn't exist (for the DB file)
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return n, nil
}

// parseLogLevel converts a level name to a slog.Level.
func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", s)
	}
}
