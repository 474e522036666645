package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/SilenceZen/langgraph/api"
	"github.com/SilenceZen/langgraph/config"
	"github.com/SilenceZen/langgraph/dispatch"
	"github.com/SilenceZen/langgraph/engine"
	"github.com/SilenceZen/langgraph/llm"
	"github.com/SilenceZen/langgraph/policy"
	"github.com/SilenceZen/langgraph/responder"
	"github.com/SilenceZen/langgraph/search"
	"github.com/SilenceZen/langgraph/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting research service...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("LLM URL: %s (model %s)", cfg.LLMBaseURL, cfg.LLMModel)
	log.Printf("Search provider: %s", cfg.SearchProvider)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize LLM backend
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)
	completer := llm.NewChatCompleter(llmClient, cfg.LLMModel)

	// Initialize search provider
	var provider search.Provider
	switch cfg.SearchProvider {
	case "duckduckgo":
		provider = search.NewDuckDuckGo()
	default:
		if cfg.TavilyAPIKey == "" {
			log.Printf("WARN: TAVILY_API_KEY is not set, falling back to duckduckgo")
			provider = search.NewDuckDuckGo()
		} else {
			provider = search.NewTavily(cfg.TavilyAPIKey, "basic")
		}
	}

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Wire the loop
	r := responder.New(completer, cfg.MaxValidationRetries)
	d := dispatch.New(provider, policyEngine, cfg.SearchConcurrency, cfg.SearchTimeout)
	eng := engine.New(r, d, db, cfg.MaxIterations, cfg.RunTimeout)

	// Initialize handler
	h := api.NewHandler(db, eng, cfg)

	// Create Echo server
	server := echo.New()
	server.HideBanner = true

	// Middleware
	server.Use(middleware.Logger())
	server.Use(middleware.Recover())
	server.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(server)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down research service...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Research service stopped")
}
