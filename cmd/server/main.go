package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pixell07/ragserve/internal/answer"
	"github.com/pixell07/ragserve/internal/api"
	"github.com/pixell07/ragserve/internal/auth"
	"github.com/pixell07/ragserve/internal/budget"
	"github.com/pixell07/ragserve/internal/chat"
	"github.com/pixell07/ragserve/internal/config"
	"github.com/pixell07/ragserve/internal/document"
	"github.com/pixell07/ragserve/internal/embedding"
	"github.com/pixell07/ragserve/internal/llmclient"
	"github.com/pixell07/ragserve/internal/migrate"
	"github.com/pixell07/ragserve/internal/observability"
	"github.com/pixell07/ragserve/internal/query"
	"github.com/pixell07/ragserve/internal/queue"
	"github.com/pixell07/ragserve/internal/ratelimit"
	"github.com/pixell07/ragserve/internal/retrieval"
	"github.com/pixell07/ragserve/internal/storage"
	"github.com/pixell07/ragserve/internal/workspace"
)

const documentQueueKey = "ragserve:documents"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx := context.Background()

	if err := migrate.Up(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations applied")

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to database")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("failed to ping redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to redis")

	store, err := storage.NewStore(cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
	if err != nil {
		slog.Error("failed to init object store", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		slog.Error("failed to ensure storage bucket", "error", err)
		os.Exit(1)
	}
	slog.Info("object store ready", "bucket", cfg.StorageBucket)

	embedder := embedding.NewOpenAIEmbedder(cfg.LLMAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	llmClient := llmclient.NewClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout(), cfg.LLMMaxOutputTokens)
	answerer := answer.NewAnswerer(llmClient)
	retriever := retrieval.NewRetriever(pool)

	ledger := budget.NewLedger(pool, cfg.DailyTokenLimit)
	limiter := ratelimit.NewLimiter(redisClient, time.Minute)
	q := queue.New(redisClient, documentQueueKey)

	docRepo := document.NewRepository(pool)
	docSvc := document.NewService(docRepo, store, q, limiter,
		cfg.MaxFileSizeBytes, cfg.MaxDocumentsPerWorkspace, cfg.AllowedContentTypes, time.Duration(cfg.UploadURLExpiresSeconds)*time.Second)

	queryRepo := query.NewRepository(pool)
	queryPipeline := query.NewPipeline(queryRepo, retriever, answerer, embedder, ledger, limiter,
		cfg.TopK, cfg.MaxQuestionChars, cfg.LLMMaxOutputTokens, cfg.LogEachQuery)

	chatRepo := chat.NewRepository(pool)
	wsSvc := workspace.NewService(pool, ledger)
	obsSvc := observability.NewService(pool, ledger)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret)

	router := api.NewRouter(api.Deps{
		JWTManager:       jwtManager,
		WorkspaceService: wsSvc,
		DocumentService:  docSvc,
		QueryPipeline:    queryPipeline,
		QueryRepo:        queryRepo,
		ChatRepo:         chatRepo,
		ObservabilitySvc: obsSvc,
		Limiter:          limiter,
		Logger:           logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // longer for SSE streaming
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
