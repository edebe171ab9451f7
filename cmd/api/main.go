package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bible-rag-api/internal/config"
	"github.com/bible-rag-api/internal/handlers"
	"github.com/bible-rag-api/internal/metrics"
	"github.com/bible-rag-api/internal/middleware"
	"github.com/bible-rag-api/internal/repository/postgres"
	"github.com/bible-rag-api/internal/services"
	"github.com/bible-rag-api/pkg/db"
	"github.com/bible-rag-api/pkg/embedding"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	// Initialize PostgreSQL
	ctx := context.Background()
	pgDB, err := db.Connect(ctx, cfg.PostgresURI, cfg.IVFFlatProbes)
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL: %v", err)
	}
	log.Println("Database initialization complete")

	// Query embedding cache backend
	var kv embedding.KV = embedding.NoopKV{}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		kv = embedding.NewRedisKV(redisClient)
		log.Printf("Query embedding cache on redis at %s", cfg.RedisAddr)
	} else {
		log.Println("No REDIS_ADDR configured; query embeddings are not cached")
	}

	// Embedding provider
	usage := embedding.NewUsage()
	var embedder embedding.Embedder
	var vertexEmbedder *embedding.VertexEmbedder // for cleanup
	switch cfg.EmbeddingProvider {
	case "vertex":
		log.Println("Using Vertex AI embedding provider")
		vertexEmbedder, err = embedding.NewVertexEmbedder(ctx, cfg.GCPProjectID, cfg.GCPLocation, usage)
		if err != nil {
			log.Fatalf("Failed to create Vertex AI embedder: %v", err)
		}
		embedder = vertexEmbedder
	default:
		log.Println("Using OpenAI embedding provider")
		embedder = embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey,
			embedding.WithTimeout(cfg.Ingest.Timeout),
			embedding.WithMaxRetries(cfg.Ingest.MaxRetries),
			embedding.WithUsage(usage),
		)
	}

	queryCache := embedding.NewQueryCache(kv, embedder, cfg.Retrieval.QueryCacheTTL)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	ragMetrics := metrics.New(registry)

	// Engine and handlers
	searchRepo := postgres.NewVerseSearchRepository(pgDB)
	engine := services.NewRetrievalEngine(searchRepo, queryCache, cfg.Retrieval)

	api := e.Group(cfg.APIPrefix)

	healthHandler := handlers.NewHealthHandler(pgDB)
	healthHandler.RegisterRoutes(api)

	ragHandler := handlers.NewRAGHandler(engine, ragMetrics)
	ragHandler.RegisterRoutes(api)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Root health check
	e.GET("/", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"name":    cfg.APITitle,
			"version": cfg.APIVersion,
			"status":  "running",
		})
	})

	// Start server
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		log.Printf("Starting %s v%s on %s", cfg.APITitle, cfg.APIVersion, addr)
		if err := e.Start(addr); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}

	if err := pgDB.Close(); err != nil {
		log.Printf("Error closing PostgreSQL: %v", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing redis: %v", err)
		}
	}
	if vertexEmbedder != nil {
		if err := vertexEmbedder.Close(); err != nil {
			log.Printf("Error closing Vertex AI client: %v", err)
		}
	}

	log.Println("Server stopped")
}
