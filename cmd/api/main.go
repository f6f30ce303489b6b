package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/api/handlers"
	"github.com/docqa/backend/internal/cache/redis"
	"github.com/docqa/backend/internal/chunker"
	"github.com/docqa/backend/internal/index"
	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/middleware/ratelimit"
	"github.com/docqa/backend/internal/middleware/security"
	"github.com/docqa/backend/internal/middleware/validation"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/internal/retrieval"
	"github.com/docqa/backend/internal/store"
	"github.com/docqa/backend/pkg/circuitbreaker"
	"github.com/docqa/backend/pkg/config"
	appLogger "github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/retry"
)

const apiPrefix = "/api/v1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Document Q&A API Server")
	metrics.Init()

	if err := ingestion.CheckPDFTool(); err != nil {
		appLogger.Warn("PDF uploads will fail", zap.Error(err))
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		retryCfg := retry.DefaultConfig()
		retryCfg.Logger = appLogger.Named("redis")
		cache, err = redis.NewClient(context.Background(), redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			AnswerTTL:    cfg.Redis.AnswerTTL,
			EmbeddingTTL: cfg.Redis.EmbeddingTTL,
			Retry:        retryCfg,
		})
		if err != nil {
			// The cache is optional; answers are computed without it.
			appLogger.Warn("Redis unavailable, caching disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	ch, err := chunker.New(chunker.WithSize(cfg.Chunking.Size), chunker.WithOverlap(cfg.Chunking.Overlap))
	if err != nil {
		appLogger.Fatal("Failed to create chunker", zap.Error(err))
	}

	docStore := store.New(buildIndex(cfg.Index, cache))
	processor := ingestion.NewProcessor(docStore, ch, ingestion.NewExtractor(), cfg.Upload.MaxBytes)

	llmClient := llm.NewClient(llm.ClientConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		SiteURL:     cfg.LLM.SiteURL,
		SiteName:    cfg.LLM.SiteName,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})

	modelList := make([]llm.Model, len(cfg.LLM.Models))
	for i, m := range cfg.LLM.Models {
		modelList[i] = llm.Model{ID: m.ID, Name: m.Name, MaxContextTokens: m.MaxContextTokens, Timeout: m.Timeout}
	}

	var routerOpts []llm.RouterOption
	if cfg.LLM.CircuitBreaker.Enabled {
		routerOpts = append(routerOpts, llm.WithCircuitBreakers(circuitbreaker.Config{
			FailureThreshold: cfg.LLM.CircuitBreaker.FailureThreshold,
			OpenTimeout:      cfg.LLM.CircuitBreaker.OpenTimeout,
			Logger:           appLogger.Named("breaker"),
		}))
	}
	router, err := llm.NewRouter(llmClient, modelList, routerOpts...)
	if err != nil {
		appLogger.Fatal("Failed to create model router", zap.Error(err))
	}

	var engineOpts []query.Option
	if cache != nil {
		engineOpts = append(engineOpts, query.WithAnswerCache(cache))
	}
	queryEngine := query.NewEngine(
		docStore,
		retrieval.NewRetriever(docStore, retrieval.WithMinScore(cfg.Retrieval.MinScore)),
		router,
		query.Config{
			DefaultTopK:       cfg.Query.DefaultTopK,
			MaxTopK:           cfg.Query.MaxTopK,
			MaxQuestionLength: cfg.Query.MaxQuestionLength,
			CompletionReserve: llmClient.MaxTokens(),
		},
		engineOpts...,
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))
	app.Use(validation.Middleware(validation.Config{
		AllowedContentTypes: validation.DefaultContentTypes(apiPrefix),
		Logger:              appLogger.Named("validation"),
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	var docOpts []handlers.DocumentOption
	if cache != nil {
		docOpts = append(docOpts, handlers.WithAnswerInvalidator(cache))
	}
	documentHandler := handlers.NewDocumentHandler(processor, docStore, queryEngine.AvailableModels(), docOpts...)
	queryHandler := handlers.NewQueryHandler(queryEngine)
	wsHandler := handlers.NewWebSocketHandler(queryEngine)
	healthHandler := handlers.NewHealthHandler(cfg.LLM.APIKey != "")

	askHandlers := []fiber.Handler{queryHandler.Ask}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:                cfg.RateLimit.Burst,
			Logger:               appLogger.Named("ratelimit"),
		})
		defer limiter.Stop()
		askHandlers = append([]fiber.Handler{limiter.Middleware()}, askHandlers...)
	}

	api := app.Group(apiPrefix)

	api.Get("/", healthHandler.Info)
	api.Get("/health", healthHandler.Health)

	api.Post("/upload", documentHandler.UploadDocument)
	api.Post("/ask", askHandlers...)
	api.Get("/stats", documentHandler.GetStats)
	api.Post("/clear", documentHandler.ClearDocuments)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/ask", websocket.New(wsHandler.HandleConnection))

	appLogger.Info("Model failover order",
		zap.Strings("models", queryEngine.AvailableModels()),
		zap.Bool("api_key_configured", cfg.LLM.APIKey != ""),
		zap.String("index", docStore.IndexType()),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// buildIndex picks the retrieval backend. Dense embeddings go through the
// redis cache when one is connected and caching is enabled.
func buildIndex(cfg config.IndexConfig, cache *redis.Client) index.Index {
	if cfg.Type != index.TypeDense {
		return index.NewTFIDFIndex()
	}

	var embedder index.Embedder
	switch cfg.Embedder {
	case "openai":
		embedder = index.NewOpenAIEmbedder(index.OpenAIEmbedderConfig{
			APIKey:  cfg.EmbeddingAPIKey,
			BaseURL: cfg.EmbeddingBaseURL,
			Model:   cfg.EmbeddingModel,
		})
	default:
		embedder = index.NewHashingEmbedder(cfg.Dimension)
	}

	if cfg.CacheEmbeddings && cache != nil {
		embedder = index.NewCachedEmbedder(embedder, cache)
	}
	return index.NewDenseIndex(embedder)
}
