// Package main 检索服务入口
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"novel-rag-api/internal/application/retrieval"
	"novel-rag-api/internal/config"
	"novel-rag-api/internal/infrastructure/embedding"
	"novel-rag-api/internal/infrastructure/persistence/redis"
	"novel-rag-api/internal/infrastructure/persistence/sqlite"
	"novel-rag-api/internal/infrastructure/rerank"
	"novel-rag-api/internal/interfaces/http/handler"
	"novel-rag-api/internal/interfaces/http/router"
	"novel-rag-api/pkg/logger"
	"novel-rag-api/pkg/tracer"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件（如果存在）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(
		cfg.Observability.Logging.Level,
		cfg.Observability.Logging.Format,
	)

	ctx := context.Background()
	log := logger.FromContext(ctx)
	log.Info("starting retrieval-api",
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		log.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// SQLite 索引库
	store, err := sqlite.NewStore(&cfg.Storage.SQLite,
		sqlite.WithBM25Params(cfg.Retrieval.BM25K1, cfg.Retrieval.BM25B))
	if err != nil {
		logger.Fatal(ctx, "failed to init sqlite store", err)
	}

	// Redis 缓存（可选）
	var (
		redisClient *redis.Client
		rawRedis    *goredis.Client
		embedCache  retrieval.EmbeddingCache
	)
	if cfg.Cache.Redis.Enabled {
		redisClient, err = redis.NewClient(&cfg.Cache.Redis)
		if err != nil {
			// 缓存不可用不阻断启动，检索直连嵌入服务
			log.Warn("redis unavailable, running without embedding cache", "error", err)
		} else {
			defer func() { _ = redisClient.Close() }()
			rawRedis = redisClient.Redis()
			embedCache = redis.NewEmbeddingCache(redisClient, cfg.Cache.Redis.EmbeddingTTL)
		}
	}

	embedder := embedding.NewClient(&cfg.Embedding)
	reranker := rerank.NewClient(&cfg.Rerank)

	engine := retrieval.NewEngine(store, embedder, reranker, embedCache,
		retrieval.OptionsFromConfig(&cfg.Retrieval))

	r := router.New(cfg, router.Handlers{
		Health:    handler.NewHealthHandler(store, redisClient),
		Retrieval: handler.NewRetrievalHandler(engine),
		Stats:     handler.NewStatsHandler(store),
	}, rawRedis)

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}
