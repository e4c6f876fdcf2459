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

	"github.com/joho/godotenv"

	"github.com/ragrelay/ragrelay/internal/api"
	"github.com/ragrelay/ragrelay/internal/cache"
	"github.com/ragrelay/ragrelay/internal/database"
	"github.com/ragrelay/ragrelay/internal/providers"
	"github.com/ragrelay/ragrelay/internal/redis"
	"github.com/ragrelay/ragrelay/internal/search"
	"github.com/ragrelay/ragrelay/pkg/config"
	"github.com/ragrelay/ragrelay/pkg/health"
	"github.com/ragrelay/ragrelay/pkg/logging"
	"github.com/ragrelay/ragrelay/pkg/metrics"
	"github.com/ragrelay/ragrelay/pkg/resilience"
)

func main() {
	// Load .env if present, real environment wins
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "ragrelay-api",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())
	registry := resilience.NewRegistry()

	// The only hard dependency is the in-memory provider; database and
	// Redis are optional and their absence just shortens the chain.
	searchProviders := []resilience.Provider[[]search.Result]{
		providers.NewMemoryProvider(3),
	}

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.New(&cfg.Database)
		if err != nil {
			logger.Warn("Database unavailable, continuing without it", "error", err.Error())
		} else {
			defer db.Close()
			searchProviders = append(searchProviders, providers.NewPostgresProvider(db, 2, cfg.Resilience.ProviderTimeout))
			logger.Info("Database connection established")
		}
	}

	var resultCache resilience.ResultCache
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(&cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, falling back to in-memory cache", "error", err.Error())
		} else {
			defer redisClient.Close()
			resultCache = cache.NewRedisCache(redisClient, &cache.Config{KeyPrefix: cfg.Cache.KeyPrefix, Metrics: m})
			logger.Info("Redis connection established")
		}
	}

	if cfg.OpenAI.APIKey != "" {
		searchProviders = append(searchProviders, providers.NewOpenAIProvider(&cfg.OpenAI, 1))
	} else {
		logger.Warn("No API key configured, managed search disabled")
	}

	searchService, err := search.NewService(registry, cfg, m, resultCache, searchProviders...)
	if err != nil {
		log.Fatalf("Failed to create search service: %v", err)
	}

	healthService := health.NewService(logger, nil)
	healthService.RegisterChecker("services", health.NewResilienceChecker(registry, "services"))
	if db != nil {
		healthService.RegisterChecker("database", health.NewDatabaseChecker(db, "database"))
	}
	if redisClient != nil {
		healthService.RegisterChecker("redis", health.NewRedisChecker(redisClient, "redis"))
	}

	router := api.NewRouter(cfg, searchService, registry, healthService, m)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
