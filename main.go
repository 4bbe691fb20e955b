package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/itish2003/memory-engine/config"
	"github.com/itish2003/memory-engine/controller"
	logpkg "github.com/itish2003/memory-engine/logger"
	"github.com/itish2003/memory-engine/metrics"
	"github.com/itish2003/memory-engine/services"
	"github.com/itish2003/memory-engine/store"
)

const serviceVersion = "1.0.0"

func main() {
	dotenvErr := godotenv.Load()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	if dotenvErr != nil {
		logger.Debug("No .env file found, relying on environment variables")
	}
	logger.Info("Starting memory engine",
		zap.String("env", env),
		zap.Int("port", cfg.HTTP.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("generation_provider", cfg.Generation.Provider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var kv *services.RedisKV
	if len(cfg.Cache.Addrs) > 0 {
		kv, err = services.NewRedisKV(cfg.Cache.Addrs, cfg.Cache.Password)
		if err != nil {
			logger.Fatal("Failed to connect to embedding cache", zap.Error(err))
		}
		defer kv.Close()
		logger.Info("Embedding cache enabled", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	clients := services.NewClients(
		func() (services.Embedder, error) {
			return buildEmbedder(cfg, kv, logger), nil
		},
		func() (services.Generator, error) {
			return buildGenerator(ctx, cfg.Generation)
		},
	)

	vectorStore, err := openStore(ctx, cfg.Store, clients.Embed, logger)
	if err != nil {
		logger.Fatal("Failed to open vector store", zap.Error(err))
	}
	defer func() {
		if err := vectorStore.Close(); err != nil {
			logger.Warn("Failed to close vector store", zap.Error(err))
		}
	}()

	svc := services.NewMemoryService(services.Deps{
		Store:   vectorStore,
		Clients: clients,
		Chunker: services.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap),
		Limits: services.QueryLimits{
			DefaultTopK:     cfg.Query.DefaultTopK,
			LatestScan:      cfg.Query.LatestScanLimit,
			FilterScan:      cfg.Query.FilterScanLimit,
			CandidateFactor: cfg.Query.CandidateFactor,
		},
		QueryTimeout: time.Duration(cfg.Query.TimeoutSec) * time.Second,
		Logger:       logger,
	})

	if cfg.Importer.Dir != "" {
		if err := services.ConfigurePDFLicense(os.Getenv("UNIDOC_LICENSE_KEY")); err != nil {
			logger.Warn("PDF import will fail", zap.Error(err))
		}
		go runImporter(ctx, cfg.Importer, svc, logger)
	}

	if env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(controller.JSONRecovery(logger))
	router.Use(controller.RequestLogger(logger))
	router.Use(controller.CORS(cfg.HTTP.AllowedOrigins))
	router.Use(metrics.Middleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "memory-engine",
			"version": serviceVersion,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ragController := controller.NewRAGController(svc)
	controller.Register(router, ragController)
	controller.Register(router.Group("/api"), ragController)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	logger.Info("Server stopped gracefully")
}

// openStore connects the configured vector store backend.
func openStore(ctx context.Context, cfg config.StoreConfig, embed func(context.Context, string) ([]float32, error), logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "chroma":
		s, err := store.NewChromaStore(ctx, cfg.ChromaURL, cfg.Collection, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "chromem":
		s, err := store.NewChromemStore(cfg.ChromemDir, cfg.Collection, embed, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// buildEmbedder assembles the embedding chain: provider, then the Redis cache
// when one is configured.
func buildEmbedder(cfg config.Config, kv *services.RedisKV, logger *zap.Logger) services.Embedder {
	var embedder services.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		embedder = services.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model)
	default:
		httpClient := &http.Client{Timeout: 30 * time.Second}
		embedder = services.NewOllamaEmbedder(httpClient, cfg.Embedding.BaseURL, cfg.Embedding.Model)
	}

	if kv != nil {
		embedder = services.NewCachedEmbedder(embedder, cfg.Embedding.Provider+"/"+cfg.Embedding.Model, kv, cfg.CacheTTL(), logger)
	}
	return embedder
}

func buildGenerator(ctx context.Context, cfg config.GenerationConfig) (services.Generator, error) {
	switch cfg.Provider {
	case "openai":
		return services.NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature), nil
	default:
		return services.NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, cfg.Temperature)
	}
}

// runImporter syncs the notes directory once and then, if configured, watches it.
func runImporter(ctx context.Context, cfg config.ImporterConfig, index services.DocumentIndex, logger *zap.Logger) {
	importer := services.NewFileIndexingService(index, cfg.UserID, logger)
	if err := importer.ScanAndIndexDirectory(ctx, cfg.Dir); err != nil {
		logger.Error("Initial directory scan failed", zap.String("dir", cfg.Dir), zap.Error(err))
	}
	if !cfg.Watch {
		return
	}
	if err := importer.WatchDirectory(ctx, cfg.Dir); err != nil {
		logger.Error("Directory watcher stopped", zap.String("dir", cfg.Dir), zap.Error(err))
	}
}
