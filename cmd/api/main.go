package main

import (
	"log"
	"log/slog"
	nethttp "net/http"
	"os"

	"rollgen/internal/config"
	"rollgen/internal/handlers"
	"rollgen/internal/http"
	"rollgen/internal/llm"
	"rollgen/internal/roller"
	"rollgen/internal/storage"
)

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	generationRepo := storage.NewGenerationRepo(db)

	// Create the model gateway (external service layer)
	var gateway roller.Gateway
	switch cfg.LLMBackend {
	case "ollama":
		ollamaClient, err := llm.NewOllamaClient(cfg.LLMBaseURL, cfg.LLMModel)
		if err != nil {
			log.Fatalf("Failed to create Ollama client: %v", err)
		}
		gateway = ollamaClient
	default:
		gateway = llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	}
	slog.Info("Model gateway ready", "backend", cfg.LLMBackend, "base_url", cfg.LLMBaseURL, "model", cfg.LLMModel)

	// Create the continuation controller
	rollerService := roller.NewService(gateway)

	// Create router with dependencies
	deps := &http.Deps{
		Roller: rollerService,
		Store:  generationRepo,
		DB:     db,
		Model:  cfg.LLMModel,
		Defaults: handlers.TaskDefaults{
			MaxTokensPerCall: cfg.MaxTokensPerCall,
			StopMarker:       cfg.StopMarker,
			MaxCalls:         cfg.MaxCalls,
		},
	}
	router := http.NewRouter(deps)

	// Start API server
	addr := ":" + cfg.APIPort
	slog.Info("Starting API server", "addr", addr)
	if err := nethttp.ListenAndServe(addr, router); err != nil {
		log.Fatalf("API server failed to start: %v", err)
	}
}
